package shipping_test

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"
	"github.com/tournevent/shiprate/pkg/shipping"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func dp(s string) *decimal.Decimal {
	v := d(s)
	return &v
}

type staticOptions []shipping.OptionConfig

func (s staticOptions) Options(context.Context) ([]shipping.OptionConfig, error) {
	return append([]shipping.OptionConfig(nil), s...), nil
}

type staticCarts map[string]shipping.CartSnapshot

func (s staticCarts) Cart(_ context.Context, name string) (*shipping.CartSnapshot, error) {
	c, ok := s[name]
	if !ok {
		return nil, nil
	}
	return &c, nil
}

type staticOrders map[string]shipping.OrderSnapshot

func (s staticOrders) Order(_ context.Context, id string) (*shipping.OrderSnapshot, error) {
	o, ok := s[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

// fixedDiscount grants the same discount to every option and marks the
// listed SKUs free. With minSubtotal set, the discount needs at least that
// quotable subtotal.
type fixedDiscount struct {
	amount      decimal.Decimal
	minSubtotal *decimal.Decimal
	freeSKUs    map[string]bool
	freeIDs     map[string]bool
	calls       int
}

func (f *fixedDiscount) MarkFreeShipping(_ context.Context, items []shipping.ShippableItem, _, _ string) ([]shipping.ShippableItem, error) {
	out := append([]shipping.ShippableItem(nil), items...)
	for i := range out {
		if f.freeSKUs[out[i].SKU] {
			out[i].FreeShipping = true
		}
	}
	return out, nil
}

func (f *fixedDiscount) ShippingDiscount(_ context.Context, req shipping.DiscountRequest) (shipping.DiscountResult, error) {
	f.calls++
	amount := f.amount
	if f.minSubtotal != nil && req.Totals.Price.LessThan(*f.minSubtotal) {
		amount = decimal.Zero
	}
	return shipping.DiscountResult{ShippingDiscount: amount, FreeOptionIDs: f.freeIDs}, nil
}

// rateTax charges a flat percentage.
type rateTax struct {
	rate decimal.Decimal
}

func (t rateTax) ShippingTax(_ context.Context, _ shipping.OptionConfig, _ shipping.Address, price decimal.Decimal) (decimal.Decimal, error) {
	return price.Mul(t.rate), nil
}

type currencyTable map[string]decimal.Decimal

func (c currencyTable) Rate(_ context.Context, from, to string) (decimal.Decimal, error) {
	r, ok := c[from+"/"+to]
	if !ok {
		return decimal.Zero, errors.New("no rate")
	}
	return r, nil
}

// countingRates counts lookups per currency pair.
type countingRates struct {
	rates currencyTable
	calls int
}

func (c *countingRates) Rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	c.calls++
	return c.rates.Rate(ctx, from, to)
}

// recordingObserver keeps every measurement.
type recordingObserver struct {
	providerCalls int
	providerErrs  int
	lookups       map[string]int
	hookWarnings  map[string]int
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{lookups: map[string]int{}, hookWarnings: map[string]int{}}
}

func (o *recordingObserver) ProviderCall(_, _ string, _ float64, err error) {
	o.providerCalls++
	if err != nil {
		o.providerErrs++
	}
}

func (o *recordingObserver) CacheLookup(kind, tier string, hit bool) {
	key := kind + "/" + tier + "/miss"
	if hit {
		key = kind + "/" + tier + "/hit"
	}
	o.lookups[key]++
}

func (o *recordingObserver) HookWarning(point string) {
	o.hookWarnings[point]++
}

func item(sku string, qty int, weight string) shipping.ShippableItem {
	return shipping.ShippableItem{
		ProductID:  "p-" + sku,
		SKU:        sku,
		Quantity:   qty,
		UnitWeight: d(weight),
		UnitVolume: d("1"),
		UnitPrice:  d("20"),
	}
}

func option(id, providerType string) shipping.OptionConfig {
	return shipping.OptionConfig{
		ID:                id,
		Name:              id,
		EnabledStorefront: true,
		EnabledAdmin:      true,
		ProviderType:      providerType,
	}
}
