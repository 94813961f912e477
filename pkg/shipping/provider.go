// Package shipping quotes shipping options for carts and orders: it filters
// eligible options, calls pluggable rate providers, adjusts their rates into
// quotes and memoizes the results.
package shipping

import (
	"context"

	"github.com/shopspring/decimal"
)

// RateProvider is implemented once per provider type. A provider may do
// network I/O and owns its timeout and retry policy; any error it returns is
// terminal for the option being quoted only.
type RateProvider interface {
	// SupportsRates reports whether the provider can price shipments at all.
	SupportsRates() bool

	// GetItemRates returns one raw rate per service available for the items.
	GetItemRates(ctx context.Context, option OptionConfig, items []ShippableItem, addr Address, site CallSite) ([]RawRate, error)
}

// ProviderFactory builds the provider owned by one option instance.
type ProviderFactory func(option OptionConfig) (RateProvider, error)

// OptionStore lists configured shipping options.
type OptionStore interface {
	Options(ctx context.Context) ([]OptionConfig, error)
}

// CartSnapshot is what the cart collaborator exposes to shipping.
type CartSnapshot struct {
	Name          string          `json:"name" yaml:"name"`
	Items         []ShippableItem `json:"items" yaml:"items"`
	Address       Address         `json:"address" yaml:"address"`
	CustomerID    string          `json:"customer_id,omitempty" yaml:"customer_id"`
	CustomerGroup string          `json:"customer_group,omitempty" yaml:"customer_group"`
	PaymentMethod string          `json:"payment_method,omitempty" yaml:"payment_method"`
	CouponCode    string          `json:"coupon_code,omitempty" yaml:"coupon_code"`
}

// OrderSnapshot is what the order collaborator exposes to shipping.
type OrderSnapshot struct {
	ID              string          `json:"id" yaml:"id"`
	Items           []ShippableItem `json:"items" yaml:"items"`
	ShippingAddress Address         `json:"shipping_address" yaml:"shipping_address"`
	CustomerID      string          `json:"customer_id,omitempty" yaml:"customer_id"`
	CustomerGroup   string          `json:"customer_group,omitempty" yaml:"customer_group"`
	PaymentMethod   string          `json:"payment_method,omitempty" yaml:"payment_method"`
	CouponCode      string          `json:"coupon_code,omitempty" yaml:"coupon_code"`
}

// CartSource resolves the active cart by name.
type CartSource interface {
	Cart(ctx context.Context, name string) (*CartSnapshot, error)
}

// OrderSource resolves an existing order by id.
type OrderSource interface {
	Order(ctx context.Context, id string) (*OrderSnapshot, error)
}

// DiscountRequest is the input of the shipping discount lookup.
type DiscountRequest struct {
	Option        OptionConfig
	Items         []ShippableItem
	Address       Address
	CouponCode    string
	CustomerID    string
	CustomerGroup string
	Totals        Totals
}

// DiscountResult is the output of the shipping discount lookup.
type DiscountResult struct {
	ShippingDiscount decimal.Decimal
	// FreeOptionIDs holds option ids and quote ids that ship for free.
	FreeOptionIDs map[string]bool
}

// DiscountEvaluator is the external discount-rule engine.
type DiscountEvaluator interface {
	// MarkFreeShipping returns the items with FreeShipping flags set.
	MarkFreeShipping(ctx context.Context, items []ShippableItem, couponCode, customerID string) ([]ShippableItem, error)

	// ShippingDiscount returns the discount applicable to one option.
	ShippingDiscount(ctx context.Context, req DiscountRequest) (DiscountResult, error)
}

// TaxEvaluator is the external tax engine.
type TaxEvaluator interface {
	ShippingTax(ctx context.Context, option OptionConfig, addr Address, price decimal.Decimal) (decimal.Decimal, error)
}

// ItemCostSource yields per-product extra shipping costs.
type ItemCostSource interface {
	ItemShippingCost(ctx context.Context, productID string, addr Address) (decimal.Decimal, error)
}

// Observer receives engine measurements. The telemetry package implements it.
type Observer interface {
	ProviderCall(providerType, optionID string, seconds float64, err error)
	CacheLookup(kind, tier string, hit bool)
	HookWarning(point string)
}

type nopObserver struct{}

func (nopObserver) ProviderCall(string, string, float64, error) {}
func (nopObserver) CacheLookup(string, string, bool)            {}
func (nopObserver) HookWarning(string)                          {}
