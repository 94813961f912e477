package shipping

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// RateSource looks up the conversion rate between two currencies.
type RateSource interface {
	Rate(ctx context.Context, from, to string) (decimal.Decimal, error)
}

// ConvertQuotes scales every monetary field of quotes priced in from by rate
// and relabels them as to. Quotes in other currencies, identifiers and the
// free flag are left as they are. The input slice is not modified.
func ConvertQuotes(quotes []ShippingQuote, from, to string, rate decimal.Decimal) []ShippingQuote {
	out := make([]ShippingQuote, len(quotes))
	for i, q := range quotes {
		if !strings.EqualFold(q.Currency, from) || strings.EqualFold(from, to) {
			out[i] = q
			continue
		}
		q.PriceBeforeDiscount = q.PriceBeforeDiscount.Mul(rate)
		q.Discount = q.Discount.Mul(rate)
		q.PriceAfterDiscount = q.PriceAfterDiscount.Mul(rate)
		if q.TaxInclusivePrice != nil {
			incl := q.TaxInclusivePrice.Mul(rate)
			q.TaxInclusivePrice = &incl
		}
		q.Currency = to
		out[i] = q
	}
	return out
}

// Converter applies display-currency conversion with one fixed rate per
// currency pair for the lifetime of an evaluation pass.
type Converter struct {
	source RateSource
	rates  map[string]decimal.Decimal
}

// NewConverter creates a pass-scoped converter. A nil source leaves quotes
// in their own currency.
func NewConverter(source RateSource) *Converter {
	return &Converter{source: source, rates: make(map[string]decimal.Decimal)}
}

// Convert converts quotes into the display currency.
func (c *Converter) Convert(ctx context.Context, quotes []ShippingQuote, to string) ([]ShippingQuote, error) {
	if to == "" || c.source == nil {
		return quotes, nil
	}
	out := quotes
	for _, from := range currenciesOf(quotes) {
		if strings.EqualFold(from, to) {
			continue
		}
		rate, err := c.rate(ctx, from, to)
		if err != nil {
			return nil, err
		}
		out = ConvertQuotes(out, from, to, rate)
	}
	return out, nil
}

func (c *Converter) rate(ctx context.Context, from, to string) (decimal.Decimal, error) {
	pair := strings.ToUpper(from) + "/" + strings.ToUpper(to)
	if r, ok := c.rates[pair]; ok {
		return r, nil
	}
	r, err := c.source.Rate(ctx, from, to)
	if err != nil {
		return decimal.Zero, fmt.Errorf("currency rate %s: %w", pair, err)
	}
	c.rates[pair] = r
	return r, nil
}

func currenciesOf(quotes []ShippingQuote) []string {
	seen := make(map[string]bool)
	var list []string
	for _, q := range quotes {
		code := strings.ToUpper(q.Currency)
		if code == "" || seen[code] {
			continue
		}
		seen[code] = true
		list = append(list, code)
	}
	return list
}
