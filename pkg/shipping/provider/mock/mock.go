// Package mock provides a configurable rate provider for tests and local runs.
package mock

import (
	"context"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"github.com/tournevent/shiprate/pkg/shipping"
)

// ProviderType is the provider type mock options are configured with.
const ProviderType = "mock"

// Provider returns canned rates and counts its calls.
type Provider struct {
	// Rates are returned by every call. When empty, a single "standard" rate
	// priced from the option's "price" setting is returned.
	Rates []shipping.RawRate
	// Err is returned instead of rates when set.
	Err error
	// Panic makes every call panic with this value when non-nil.
	Panic any
	// Unsupported makes SupportsRates report false.
	Unsupported bool

	OnGetItemRates func(ctx context.Context, option shipping.OptionConfig, items []shipping.ShippableItem, addr shipping.Address, site shipping.CallSite) ([]shipping.RawRate, error)

	calls atomic.Int64
}

// New creates a mock provider with default behavior.
func New() *Provider {
	return &Provider{}
}

// Factory returns a registry factory that hands out p for every option.
func (p *Provider) Factory() shipping.ProviderFactory {
	return func(shipping.OptionConfig) (shipping.RateProvider, error) {
		return p, nil
	}
}

// Calls returns how many times GetItemRates ran.
func (p *Provider) Calls() int {
	return int(p.calls.Load())
}

// SupportsRates reports whether rates are supported.
func (p *Provider) SupportsRates() bool {
	return !p.Unsupported
}

// GetItemRates returns the configured rates.
func (p *Provider) GetItemRates(ctx context.Context, option shipping.OptionConfig, items []shipping.ShippableItem, addr shipping.Address, site shipping.CallSite) ([]shipping.RawRate, error) {
	p.calls.Add(1)

	if p.Panic != nil {
		panic(p.Panic)
	}
	if p.Err != nil {
		return nil, p.Err
	}
	if p.OnGetItemRates != nil {
		return p.OnGetItemRates(ctx, option, items, addr, site)
	}
	if len(p.Rates) > 0 {
		return append([]shipping.RawRate(nil), p.Rates...), nil
	}

	price := decimal.NewFromInt(10)
	if raw := option.Settings["price"]; raw != "" {
		if d, err := decimal.NewFromString(raw); err == nil {
			price = d
		}
	}
	return []shipping.RawRate{{
		ServiceID:   "standard",
		ServiceName: option.Name + " Standard",
		Price:       price,
		Currency:    option.Settings["currency"],
	}}, nil
}

var _ shipping.RateProvider = (*Provider)(nil)
