package shipping

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

// QuoteBuilder turns raw provider rates into adjusted quotes.
type QuoteBuilder struct {
	discounts DiscountEvaluator
	taxes     TaxEvaluator
	itemCosts ItemCostSource
}

// NewQuoteBuilder creates a builder. Every collaborator is optional: a nil
// discount evaluator grants no discount, a nil tax evaluator charges no tax
// and a nil item cost source adds nothing.
func NewQuoteBuilder(discounts DiscountEvaluator, taxes TaxEvaluator, itemCosts ItemCostSource) *QuoteBuilder {
	return &QuoteBuilder{discounts: discounts, taxes: taxes, itemCosts: itemCosts}
}

// BuildRequest carries what the builder needs beyond the rates.
type BuildRequest struct {
	Option OptionConfig
	Rates  []RawRate
	// Items are the items the provider was called with.
	Items        []ShippableItem
	Context      EvaluationContext
	TaxInclusive bool
	BaseCurrency string
}

// Build produces one quote per raw rate, in order.
func (b *QuoteBuilder) Build(ctx context.Context, req BuildRequest) ([]ShippingQuote, error) {
	ec := req.Context

	itemCost, err := b.itemShippingCost(ctx, req.Items, ec.Address)
	if err != nil {
		return nil, err
	}

	discount, err := b.discount(ctx, req)
	if err != nil {
		return nil, err
	}

	quotes := make([]ShippingQuote, 0, len(req.Rates))
	for _, rate := range req.Rates {
		price := rate.Price.Add(itemCost)
		if ec.HandlingFee != nil {
			price = price.Add(*ec.HandlingFee)
		}

		currency := rate.Currency
		if currency == "" {
			currency = req.BaseCurrency
		}

		q := ShippingQuote{
			OptionID:            req.Option.ID,
			ServiceID:           rate.ServiceID,
			ServiceName:         rate.ServiceName,
			PriceBeforeDiscount: price,
			Discount:            discount.ShippingDiscount,
			PriceAfterDiscount:  discountedPrice(price, discount.ShippingDiscount),
			Currency:            currency,
			QuoteID:             QuoteID(req.Option.ID, rate.ServiceID),
		}

		if req.TaxInclusive {
			incl, err := b.TaxInclusive(ctx, req.Option, ec.Address, q.PriceAfterDiscount)
			if err != nil {
				return nil, err
			}
			q.TaxInclusivePrice = &incl
		}

		q.FreeByRule = ec.AllFree ||
			discount.FreeOptionIDs[req.Option.ID] ||
			discount.FreeOptionIDs[q.QuoteID]
		q.Free = q.FreeByRule || q.PriceAfterDiscount.IsZero()

		quotes = append(quotes, q)
	}
	return quotes, nil
}

// TaxInclusive returns price plus shipping tax. Non-taxable options carry no
// tax.
func (b *QuoteBuilder) TaxInclusive(ctx context.Context, option OptionConfig, addr Address, price decimal.Decimal) (decimal.Decimal, error) {
	if b.taxes == nil || !option.Taxable {
		return price, nil
	}
	tax, err := b.taxes.ShippingTax(ctx, option, addr, price)
	if err != nil {
		return decimal.Zero, fmt.Errorf("shipping tax for option %s: %w", option.ID, err)
	}
	return price.Add(tax), nil
}

func (b *QuoteBuilder) itemShippingCost(ctx context.Context, items []ShippableItem, addr Address) (decimal.Decimal, error) {
	total := decimal.Zero
	if b.itemCosts == nil {
		return total, nil
	}
	for _, item := range items {
		cost, err := b.itemCosts.ItemShippingCost(ctx, item.ProductID, addr)
		if err != nil {
			return decimal.Zero, fmt.Errorf("item shipping cost for %s: %w", item.ProductID, err)
		}
		total = total.Add(cost.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return total, nil
}

func (b *QuoteBuilder) discount(ctx context.Context, req BuildRequest) (DiscountResult, error) {
	if b.discounts == nil {
		return DiscountResult{ShippingDiscount: decimal.Zero}, nil
	}
	ec := req.Context
	res, err := b.discounts.ShippingDiscount(ctx, DiscountRequest{
		Option:        req.Option,
		Items:         ec.Quotable,
		Address:       ec.Address,
		CouponCode:    ec.CouponCode,
		CustomerID:    ec.CustomerID,
		CustomerGroup: ec.CustomerGroup,
		Totals:        ec.Totals,
	})
	if err != nil {
		return DiscountResult{}, fmt.Errorf("shipping discount for option %s: %w", req.Option.ID, err)
	}
	if res.ShippingDiscount.IsNegative() {
		res.ShippingDiscount = decimal.Zero
	}
	return res, nil
}
