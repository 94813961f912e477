package mock_test

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shiprate/pkg/shipping"
	"github.com/tournevent/shiprate/pkg/shipping/provider/mock"
)

func TestProvider_DefaultRate(t *testing.T) {
	p := mock.New()
	opt := shipping.OptionConfig{ID: "ground", Name: "Ground", Settings: map[string]string{"price": "7.25", "currency": "EUR"}}

	rates, err := p.GetItemRates(context.Background(), opt, nil, shipping.Address{}, shipping.CallSiteStorefront)
	require.NoError(t, err)
	require.Len(t, rates, 1)
	assert.Equal(t, "standard", rates[0].ServiceID)
	assert.Equal(t, "Ground Standard", rates[0].ServiceName)
	assert.True(t, rates[0].Price.Equal(decimal.RequireFromString("7.25")))
	assert.Equal(t, "EUR", rates[0].Currency)
	assert.Equal(t, 1, p.Calls())
}

func TestProvider_Configured(t *testing.T) {
	p := mock.New()
	p.Rates = []shipping.RawRate{{ServiceID: "a"}, {ServiceID: "b"}}

	rates, err := p.GetItemRates(context.Background(), shipping.OptionConfig{}, nil, shipping.Address{}, shipping.CallSiteAdmin)
	require.NoError(t, err)
	assert.Len(t, rates, 2)

	p.Err = errors.New("down")
	_, err = p.GetItemRates(context.Background(), shipping.OptionConfig{}, nil, shipping.Address{}, shipping.CallSiteAdmin)
	assert.EqualError(t, err, "down")

	p.Panic = "boom"
	assert.Panics(t, func() {
		_, _ = p.GetItemRates(context.Background(), shipping.OptionConfig{}, nil, shipping.Address{}, shipping.CallSiteAdmin)
	})
	assert.Equal(t, 3, p.Calls())
}

func TestProvider_Unsupported(t *testing.T) {
	p := mock.New()
	assert.True(t, p.SupportsRates())
	p.Unsupported = true
	assert.False(t, p.SupportsRates())
}
