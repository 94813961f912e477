// Package catalog loads shipping options and the lookup tables the engine
// consults (coupons, tax rates, currency rates, per-item costs) from a YAML
// file.
package catalog

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tournevent/shiprate/pkg/shipping"
	"gopkg.in/yaml.v3"
)

// Coupon grants shipping discounts or free shipping.
type Coupon struct {
	Code string `yaml:"code"`
	// ShippingDiscount is subtracted from every eligible option's price.
	ShippingDiscount decimal.Decimal `yaml:"shipping_discount"`
	// Options limits ShippingDiscount to these option ids; empty means all.
	Options []string `yaml:"options"`
	// FreeOptions lists option ids or quote ids that ship for free.
	FreeOptions []string `yaml:"free_options"`
	// FreeSKUs are marked free-shipping while the coupon is applied.
	FreeSKUs []string `yaml:"free_skus"`
	// FreeShipping marks every item free-shipping.
	FreeShipping bool `yaml:"free_shipping"`
	// MinSubtotal is the minimum quotable subtotal for the discount.
	MinSubtotal *decimal.Decimal `yaml:"min_subtotal"`
	// Customers restricts the coupon to these customer ids.
	Customers []string `yaml:"customers"`
}

// TaxRate is the shipping tax rate of a country, optionally per state.
type TaxRate struct {
	Country string          `yaml:"country"`
	State   string          `yaml:"state"`
	Rate    decimal.Decimal `yaml:"rate"`
}

// CurrencyRate converts an amount in From into To.
type CurrencyRate struct {
	From string          `yaml:"from"`
	To   string          `yaml:"to"`
	Rate decimal.Decimal `yaml:"rate"`
}

// ItemCost is an extra per-unit shipping cost of a product.
type ItemCost struct {
	ProductID string          `yaml:"product_id"`
	Cost      decimal.Decimal `yaml:"cost"`
	// Countries limits the cost to these destinations; empty means all.
	Countries []string `yaml:"countries"`
}

// File is the on-disk catalog layout.
type File struct {
	Options       []shipping.OptionConfig  `yaml:"options"`
	Coupons       []Coupon                 `yaml:"coupons"`
	Taxes         []TaxRate                `yaml:"taxes"`
	CurrencyRates []CurrencyRate           `yaml:"currency_rates"`
	ItemCosts     []ItemCost               `yaml:"item_costs"`
	Carts         []shipping.CartSnapshot  `yaml:"carts"`
	Orders        []shipping.OrderSnapshot `yaml:"orders"`
}

// Catalog serves the file's content. It is read-only after loading and safe
// for concurrent use.
type Catalog struct {
	options   []shipping.OptionConfig
	coupons   map[string]Coupon
	taxes     []TaxRate
	rates     map[string]decimal.Decimal
	itemCosts map[string]ItemCost
	snapshots *Snapshots
}

// Load reads and parses a catalog file.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading catalog: %w", err)
	}
	return Parse(data)
}

// Parse builds a catalog from YAML.
func Parse(data []byte) (*Catalog, error) {
	var f File
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}
	return New(f)
}

// New validates f and builds a catalog from it.
func New(f File) (*Catalog, error) {
	c := &Catalog{
		coupons:   make(map[string]Coupon, len(f.Coupons)),
		rates:     make(map[string]decimal.Decimal, len(f.CurrencyRates)),
		itemCosts: make(map[string]ItemCost, len(f.ItemCosts)),
		taxes:     f.Taxes,
		snapshots: NewSnapshots(f.Carts, f.Orders),
	}

	seen := make(map[string]bool, len(f.Options))
	for i, opt := range f.Options {
		if opt.ID == "" {
			return nil, fmt.Errorf("option %d: id is required", i)
		}
		if seen[opt.ID] {
			return nil, fmt.Errorf("option %s: duplicate id", opt.ID)
		}
		seen[opt.ID] = true
		if strings.Contains(opt.ID, ":") {
			return nil, fmt.Errorf("option %s: id must not contain ':'", opt.ID)
		}
		if opt.ProviderType == "" {
			return nil, fmt.Errorf("option %s: provider_type is required", opt.ID)
		}
		if opt.HandlingFee != nil && opt.HandlingFee.IsNegative() {
			return nil, fmt.Errorf("option %s: handling_fee must not be negative", opt.ID)
		}
		if opt.MinWeight != nil && opt.MaxWeight != nil && opt.MinWeight.GreaterThan(*opt.MaxWeight) {
			return nil, fmt.Errorf("option %s: min_weight exceeds max_weight", opt.ID)
		}
		c.options = append(c.options, opt)
	}
	sort.SliceStable(c.options, func(i, j int) bool {
		return c.options[i].Position < c.options[j].Position
	})

	for _, cp := range f.Coupons {
		if cp.ShippingDiscount.IsNegative() {
			return nil, fmt.Errorf("coupon %s: shipping_discount must not be negative", cp.Code)
		}
		c.coupons[strings.ToUpper(cp.Code)] = cp
	}
	for _, r := range f.CurrencyRates {
		if !r.Rate.IsPositive() {
			return nil, fmt.Errorf("currency rate %s/%s must be positive", r.From, r.To)
		}
		c.rates[pairKey(r.From, r.To)] = r.Rate
	}
	for _, ic := range f.ItemCosts {
		c.itemCosts[ic.ProductID] = ic
	}
	return c, nil
}

// Snapshots returns the carts and orders declared in the file.
func (c *Catalog) Snapshots() *Snapshots {
	return c.snapshots
}

// Options returns the configured options in display order.
func (c *Catalog) Options(_ context.Context) ([]shipping.OptionConfig, error) {
	return append([]shipping.OptionConfig(nil), c.options...), nil
}

// Option returns one option by id.
func (c *Catalog) Option(id string) (shipping.OptionConfig, bool) {
	for _, opt := range c.options {
		if opt.ID == id {
			return opt, true
		}
	}
	return shipping.OptionConfig{}, false
}

func (c *Catalog) coupon(code, customerID string) (Coupon, bool) {
	if code == "" {
		return Coupon{}, false
	}
	cp, ok := c.coupons[strings.ToUpper(code)]
	if !ok {
		return Coupon{}, false
	}
	if len(cp.Customers) > 0 && !containsFold(cp.Customers, customerID) {
		return Coupon{}, false
	}
	return cp, true
}

// MarkFreeShipping flags the items the applied coupon ships for free.
func (c *Catalog) MarkFreeShipping(_ context.Context, items []shipping.ShippableItem, couponCode, customerID string) ([]shipping.ShippableItem, error) {
	out := append([]shipping.ShippableItem(nil), items...)
	cp, ok := c.coupon(couponCode, customerID)
	if !ok {
		return out, nil
	}
	for i := range out {
		if cp.FreeShipping || containsFold(cp.FreeSKUs, out[i].SKU) {
			out[i].FreeShipping = true
		}
	}
	return out, nil
}

// ShippingDiscount evaluates the applied coupon for one option.
func (c *Catalog) ShippingDiscount(_ context.Context, req shipping.DiscountRequest) (shipping.DiscountResult, error) {
	res := shipping.DiscountResult{ShippingDiscount: decimal.Zero}
	cp, ok := c.coupon(req.CouponCode, req.CustomerID)
	if !ok {
		return res, nil
	}
	if cp.MinSubtotal != nil && req.Totals.Price.LessThan(*cp.MinSubtotal) {
		return res, nil
	}

	if len(cp.Options) == 0 || containsFold(cp.Options, req.Option.ID) {
		res.ShippingDiscount = cp.ShippingDiscount
	}
	if len(cp.FreeOptions) > 0 {
		res.FreeOptionIDs = make(map[string]bool, len(cp.FreeOptions))
		for _, id := range cp.FreeOptions {
			res.FreeOptionIDs[id] = true
		}
	}
	return res, nil
}

// ShippingTax returns the tax on price at the destination. A state-specific
// rate takes precedence over the country rate.
func (c *Catalog) ShippingTax(_ context.Context, _ shipping.OptionConfig, addr shipping.Address, price decimal.Decimal) (decimal.Decimal, error) {
	var rate *decimal.Decimal
	for i := range c.taxes {
		t := c.taxes[i]
		if !strings.EqualFold(t.Country, addr.Country) {
			continue
		}
		if t.State != "" {
			if strings.EqualFold(t.State, addr.State) {
				rate = &c.taxes[i].Rate
				break
			}
			continue
		}
		if rate == nil {
			rate = &c.taxes[i].Rate
		}
	}
	if rate == nil {
		return decimal.Zero, nil
	}
	return price.Mul(*rate).Round(2), nil
}

// Rate returns the conversion rate from one currency to another. Inverse
// pairs are derived when only one direction is configured.
func (c *Catalog) Rate(_ context.Context, from, to string) (decimal.Decimal, error) {
	if strings.EqualFold(from, to) {
		return decimal.NewFromInt(1), nil
	}
	if r, ok := c.rates[pairKey(from, to)]; ok {
		return r, nil
	}
	if r, ok := c.rates[pairKey(to, from)]; ok {
		return decimal.NewFromInt(1).DivRound(r, 8), nil
	}
	return decimal.Zero, fmt.Errorf("no currency rate for %s/%s", strings.ToUpper(from), strings.ToUpper(to))
}

// ItemShippingCost returns the extra per-unit cost of a product.
func (c *Catalog) ItemShippingCost(_ context.Context, productID string, addr shipping.Address) (decimal.Decimal, error) {
	ic, ok := c.itemCosts[productID]
	if !ok {
		return decimal.Zero, nil
	}
	if len(ic.Countries) > 0 && !containsFold(ic.Countries, addr.Country) {
		return decimal.Zero, nil
	}
	return ic.Cost, nil
}

func pairKey(from, to string) string {
	return strings.ToUpper(from) + "/" + strings.ToUpper(to)
}

func containsFold(list []string, s string) bool {
	for _, v := range list {
		if strings.EqualFold(v, s) {
			return true
		}
	}
	return false
}

var (
	_ shipping.OptionStore       = (*Catalog)(nil)
	_ shipping.DiscountEvaluator = (*Catalog)(nil)
	_ shipping.TaxEvaluator      = (*Catalog)(nil)
	_ shipping.RateSource        = (*Catalog)(nil)
	_ shipping.ItemCostSource    = (*Catalog)(nil)
)
