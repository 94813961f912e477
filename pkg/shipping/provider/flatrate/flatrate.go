// Package flatrate prices shipments from fixed amounts configured on the
// option: a base price, a price per kilogram and a price per item.
package flatrate

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
	"github.com/tournevent/shiprate/pkg/shipping"
)

// ProviderType is the provider type flat-rate options are configured with.
const ProviderType = "flatrate"

// Setting keys read from OptionConfig.Settings.
const (
	SettingBase        = "base"
	SettingPerKg       = "per_kg"
	SettingPerItem     = "per_item"
	SettingCurrency    = "currency"
	SettingServiceID   = "service_id"
	SettingServiceName = "service_name"
)

// Provider is a flat-rate provider for one option.
type Provider struct {
	base        decimal.Decimal
	perKg       decimal.Decimal
	perItem     decimal.Decimal
	currency    string
	serviceID   string
	serviceName string
}

// New builds a provider from the option's settings. Missing amounts are zero.
func New(option shipping.OptionConfig) (*Provider, error) {
	p := &Provider{
		currency:    option.Settings[SettingCurrency],
		serviceID:   option.Settings[SettingServiceID],
		serviceName: option.Settings[SettingServiceName],
	}
	if p.serviceName == "" {
		p.serviceName = option.Name
	}

	var err error
	if p.base, err = amount(option, SettingBase); err != nil {
		return nil, err
	}
	if p.perKg, err = amount(option, SettingPerKg); err != nil {
		return nil, err
	}
	if p.perItem, err = amount(option, SettingPerItem); err != nil {
		return nil, err
	}
	return p, nil
}

// Factory adapts New to the registry.
func Factory(option shipping.OptionConfig) (shipping.RateProvider, error) {
	return New(option)
}

func amount(option shipping.OptionConfig, key string) (decimal.Decimal, error) {
	raw, ok := option.Settings[key]
	if !ok || raw == "" {
		return decimal.Zero, nil
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("option %s: invalid %s %q: %w", option.ID, key, raw, err)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("option %s: %s must not be negative", option.ID, key)
	}
	return d, nil
}

// SupportsRates always reports true.
func (p *Provider) SupportsRates() bool {
	return true
}

// GetItemRates returns a single rate: base + per_kg * weight + per_item * quantity.
func (p *Provider) GetItemRates(_ context.Context, _ shipping.OptionConfig, items []shipping.ShippableItem, _ shipping.Address, _ shipping.CallSite) ([]shipping.RawRate, error) {
	price := p.base
	for _, item := range items {
		price = price.Add(p.perKg.Mul(item.Weight()))
		price = price.Add(p.perItem.Mul(decimal.NewFromInt(int64(item.Quantity))))
	}
	return []shipping.RawRate{{
		ServiceID:   p.serviceID,
		ServiceName: p.serviceName,
		Price:       price,
		Currency:    p.currency,
	}}, nil
}

var _ shipping.RateProvider = (*Provider)(nil)
