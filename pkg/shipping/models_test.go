package shipping_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/tournevent/shiprate/pkg/shipping"
)

func TestQuoteID(t *testing.T) {
	assert.Equal(t, "ground", shipping.QuoteID("ground", ""))
	assert.Equal(t, "ground:express", shipping.QuoteID("ground", "express"))

	opt, svc := shipping.ParseQuoteID("ground:express")
	assert.Equal(t, "ground", opt)
	assert.Equal(t, "express", svc)

	opt, svc = shipping.ParseQuoteID("ground")
	assert.Equal(t, "ground", opt)
	assert.Empty(t, svc)
}

func TestAddressHash_Normalized(t *testing.T) {
	a := shipping.Address{Country: "us", State: "ca", Zip: " 94105", City: "San Francisco"}
	b := shipping.Address{Country: "US", State: "CA", Zip: "94105", City: "san francisco "}
	assert.Equal(t, a.Hash(), b.Hash())

	c := b
	c.Business = true
	assert.NotEqual(t, b.Hash(), c.Hash())

	e := b
	e.Zip = "94106"
	assert.NotEqual(t, b.Hash(), e.Hash())
}

func TestShippingQuote_ConsistentPrice(t *testing.T) {
	q := shipping.ShippingQuote{PriceBeforeDiscount: d("5"), Discount: d("8"), PriceAfterDiscount: d("0")}
	assert.True(t, q.ConsistentPrice())

	q.PriceAfterDiscount = d("-3")
	assert.False(t, q.ConsistentPrice())
}
