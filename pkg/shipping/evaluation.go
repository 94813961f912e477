package shipping

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// ContextRef points at the cart or order an evaluation is about.
type ContextRef struct {
	Kind     ContextKind
	CartName string
	OrderID  string
	// PendingItems replaces the order's committed items when non-nil.
	PendingItems []ShippableItem
	// PendingKey identifies the pending item set for memoization.
	PendingKey string
}

// CartRef references a cart by name.
func CartRef(name string) ContextRef {
	return ContextRef{Kind: ContextCart, CartName: name}
}

// OrderRef references an order by id.
func OrderRef(id string) ContextRef {
	return ContextRef{Kind: ContextOrder, OrderID: id}
}

// PendingOrderRef references an order with uncommitted item changes.
func PendingOrderRef(id, pendingKey string, items []ShippableItem) ContextRef {
	return ContextRef{Kind: ContextOrder, OrderID: id, PendingKey: pendingKey, PendingItems: items}
}

func (r ContextRef) memoKey() (string, error) {
	switch r.Kind {
	case ContextCart:
		if r.CartName == "" {
			return "", fmt.Errorf("%w: empty cart name", ErrInvalidContextRef)
		}
		return "cart:" + r.CartName, nil
	case ContextOrder:
		if r.OrderID == "" {
			return "", fmt.Errorf("%w: empty order id", ErrInvalidContextRef)
		}
		return "order:" + r.OrderID + ":" + r.PendingKey, nil
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidContextRef, r.Kind)
	}
}

// Context returns the evaluation context for ref, building it on first use.
// Every option evaluated in the pass sees the same snapshot.
func (p *Pass) Context(ctx context.Context, ref ContextRef) (EvaluationContext, error) {
	key, err := ref.memoKey()
	if err != nil {
		return EvaluationContext{}, err
	}
	if ec, ok := p.contexts[key]; ok {
		return ec.clone(), nil
	}

	var ec EvaluationContext
	switch ref.Kind {
	case ContextCart:
		ec, err = p.cartContext(ctx, ref.CartName)
	default:
		ec, err = p.orderContext(ctx, ref)
	}
	if err != nil {
		return EvaluationContext{}, err
	}

	p.contexts[key] = ec
	return ec.clone(), nil
}

func (p *Pass) cartContext(ctx context.Context, name string) (EvaluationContext, error) {
	carts := p.opts.Carts
	if carts == nil {
		carts = p.engine.carts
	}
	if carts == nil {
		return EvaluationContext{}, fmt.Errorf("%w: no cart source configured", ErrCartNotFound)
	}
	snap, err := carts.Cart(ctx, name)
	if err != nil {
		return EvaluationContext{}, fmt.Errorf("loading cart %s: %w", name, err)
	}
	if snap == nil {
		return EvaluationContext{}, fmt.Errorf("%w: %s", ErrCartNotFound, name)
	}

	items, err := p.markFree(ctx, snap.Items, snap.CouponCode, snap.CustomerID)
	if err != nil {
		return EvaluationContext{}, err
	}

	ec := EvaluationContext{
		Kind:          ContextCart,
		CartName:      name,
		Address:       snap.Address,
		CustomerID:    snap.CustomerID,
		CustomerGroup: snap.CustomerGroup,
		PaymentMethod: snap.PaymentMethod,
		CouponCode:    snap.CouponCode,
	}
	p.fillItems(&ec, items)
	return ec, nil
}

func (p *Pass) orderContext(ctx context.Context, ref ContextRef) (EvaluationContext, error) {
	orders := p.opts.Orders
	if orders == nil {
		orders = p.engine.orders
	}
	if orders == nil {
		return EvaluationContext{}, fmt.Errorf("%w: no order source configured", ErrOrderNotFound)
	}
	snap, err := orders.Order(ctx, ref.OrderID)
	if err != nil {
		return EvaluationContext{}, fmt.Errorf("loading order %s: %w", ref.OrderID, err)
	}
	if snap == nil {
		return EvaluationContext{}, fmt.Errorf("%w: %s", ErrOrderNotFound, ref.OrderID)
	}

	items := snap.Items
	if ref.PendingItems != nil {
		items = ref.PendingItems
	}
	items, err = p.markFree(ctx, items, snap.CouponCode, snap.CustomerID)
	if err != nil {
		return EvaluationContext{}, err
	}

	ec := EvaluationContext{
		Kind:          ContextOrder,
		OrderID:       ref.OrderID,
		PendingKey:    ref.PendingKey,
		Address:       snap.ShippingAddress,
		CustomerID:    snap.CustomerID,
		CustomerGroup: snap.CustomerGroup,
		PaymentMethod: snap.PaymentMethod,
		CouponCode:    snap.CouponCode,
	}
	p.fillItems(&ec, items)
	return ec, nil
}

func (p *Pass) markFree(ctx context.Context, items []ShippableItem, coupon, customerID string) ([]ShippableItem, error) {
	items = append([]ShippableItem(nil), items...)
	if p.engine.discounts == nil {
		return items, nil
	}
	marked, err := p.engine.discounts.MarkFreeShipping(ctx, items, coupon, customerID)
	if err != nil {
		return nil, fmt.Errorf("marking free shipping items: %w", err)
	}
	return marked, nil
}

func (p *Pass) fillItems(ec *EvaluationContext, items []ShippableItem) {
	ec.Items = items
	ec.Quotable, ec.AllFree = Partition(items)
	ec.Totals = computeTotals(items, ec.Quotable)
	ec.Currency = p.opts.Currency
	if ec.Currency == "" {
		ec.Currency = p.engine.cfg.BaseCurrency
	}
}

func computeTotals(all, quotable []ShippableItem) Totals {
	t := Totals{
		Price:        decimal.Zero,
		Weight:       decimal.Zero,
		Volume:       decimal.Zero,
		ActualWeight: decimal.Zero,
	}
	for _, item := range all {
		t.ActualWeight = t.ActualWeight.Add(item.Weight())
	}
	for _, item := range quotable {
		qty := decimal.NewFromInt(int64(item.Quantity))
		t.Price = t.Price.Add(item.UnitPrice.Mul(qty))
		t.Weight = t.Weight.Add(item.UnitWeight.Mul(qty))
		t.Volume = t.Volume.Add(item.UnitVolume.Mul(qty))
		t.ItemCount += item.Quantity
	}
	return t
}
