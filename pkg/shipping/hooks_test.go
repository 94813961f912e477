package shipping_test

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shiprate/pkg/shipping"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

func newHooks() *shipping.Hooks {
	return shipping.NewHooks(otelzap.New(zap.NewNop()))
}

func strp(s string) *string { return &s }

func baseQuote() shipping.ShippingQuote {
	return shipping.ShippingQuote{
		OptionID:            "ground",
		PriceBeforeDiscount: d("12"),
		Discount:            d("3"),
		PriceAfterDiscount:  d("9"),
		Currency:            "USD",
		QuoteID:             "ground",
	}
}

func TestHooks_PreQuote_LastWinsPerField(t *testing.T) {
	h := newHooks()
	h.OnPreQuote("first", func(_ context.Context, _ shipping.OptionConfig, _ shipping.EvaluationContext) *shipping.ContextPatch {
		return &shipping.ContextPatch{CouponCode: strp("FIRST"), PaymentMethod: strp("card")}
	})
	h.OnPreQuote("second", func(_ context.Context, _ shipping.OptionConfig, ec shipping.EvaluationContext) *shipping.ContextPatch {
		assert.Equal(t, "FIRST", ec.CouponCode, "later handlers see earlier patches")
		return &shipping.ContextPatch{CouponCode: strp("SECOND"), Custom: map[string]string{"zone": "north"}, CacheFields: []string{"zone"}}
	})
	h.OnPreQuote("none", func(context.Context, shipping.OptionConfig, shipping.EvaluationContext) *shipping.ContextPatch {
		return nil
	})

	in := shipping.EvaluationContext{CouponCode: "ORIG"}
	out := h.RunPreQuote(context.Background(), option("ground", "mock"), in)

	assert.Equal(t, "SECOND", out.CouponCode)
	assert.Equal(t, "card", out.PaymentMethod)
	assert.Equal(t, "north", out.Custom["zone"])
	assert.Equal(t, []string{"zone"}, out.CacheFields)
	assert.Equal(t, "ORIG", in.CouponCode, "input context is not modified")
}

func TestHooks_PreQuote_IncompatiblePatchIgnored(t *testing.T) {
	h := newHooks()
	obs := newRecordingObserver()
	_, err := shipping.NewEngine(shipping.Config{}, shipping.Deps{
		Options:  staticOptions{},
		Registry: shipping.NewRegistry(),
		Hooks:    h,
		Observer: obs,
	}, nil)
	require.NoError(t, err)

	negative := decimal.NewFromInt(-1)
	h.OnPreQuote("negative-fee", func(context.Context, shipping.OptionConfig, shipping.EvaluationContext) *shipping.ContextPatch {
		return &shipping.ContextPatch{HandlingFee: &negative, CouponCode: strp("IGNORED")}
	})
	h.OnPreQuote("bad-currency", func(context.Context, shipping.OptionConfig, shipping.EvaluationContext) *shipping.ContextPatch {
		return &shipping.ContextPatch{Currency: strp("euro")}
	})

	out := h.RunPreQuote(context.Background(), option("ground", "mock"), shipping.EvaluationContext{Currency: "USD"})

	assert.Empty(t, out.CouponCode)
	assert.Nil(t, out.HandlingFee)
	assert.Equal(t, "USD", out.Currency)
	assert.Equal(t, 2, obs.hookWarnings[shipping.HookPreQuote])
}

func TestHooks_PostQuote_FirstOverrideWins(t *testing.T) {
	h := newHooks()
	var calls []string
	h.OnPostQuote("skip", func(context.Context, shipping.OptionConfig, shipping.EvaluationContext, shipping.ShippingQuote) shipping.QuoteOverride {
		calls = append(calls, "skip")
		return shipping.NoOverride()
	})
	h.OnPostQuote("winner", func(context.Context, shipping.OptionConfig, shipping.EvaluationContext, shipping.ShippingQuote) shipping.QuoteOverride {
		calls = append(calls, "winner")
		return shipping.AdjustPrice(d("5"))
	})
	h.OnPostQuote("never", func(context.Context, shipping.OptionConfig, shipping.EvaluationContext, shipping.ShippingQuote) shipping.QuoteOverride {
		calls = append(calls, "never")
		return shipping.AdjustPrice(d("1"))
	})

	q, overridden := h.RunPostQuote(context.Background(), option("ground", "mock"), shipping.EvaluationContext{}, baseQuote())
	require.True(t, overridden)

	assert.Equal(t, []string{"skip", "winner"}, calls)
	assert.True(t, q.PriceBeforeDiscount.Equal(d("12")))
	assert.True(t, q.Discount.Equal(d("7")), "a lower price becomes extra discount")
	assert.True(t, q.PriceAfterDiscount.Equal(d("5")))
	assert.True(t, q.ConsistentPrice())
}

func TestHooks_PostQuote_AdjustPriceUp(t *testing.T) {
	h := newHooks()
	h.OnPostQuote("surcharge", func(context.Context, shipping.OptionConfig, shipping.EvaluationContext, shipping.ShippingQuote) shipping.QuoteOverride {
		return shipping.AdjustPrice(d("20"))
	})

	q, overridden := h.RunPostQuote(context.Background(), option("ground", "mock"), shipping.EvaluationContext{}, baseQuote())
	require.True(t, overridden)

	assert.True(t, q.PriceBeforeDiscount.Equal(d("20")))
	assert.True(t, q.Discount.IsZero())
	assert.True(t, q.PriceAfterDiscount.Equal(d("20")))
}

func TestHooks_PostQuote_AdjustPriceToZeroIsFree(t *testing.T) {
	h := newHooks()
	h.OnPostQuote("promo", func(context.Context, shipping.OptionConfig, shipping.EvaluationContext, shipping.ShippingQuote) shipping.QuoteOverride {
		return shipping.AdjustPrice(decimal.Zero)
	})

	q, overridden := h.RunPostQuote(context.Background(), option("ground", "mock"), shipping.EvaluationContext{}, baseQuote())
	require.True(t, overridden)
	assert.True(t, q.Free)
	assert.True(t, q.PriceAfterDiscount.IsZero())
}

func TestHooks_PostQuote_NoOverride(t *testing.T) {
	h := newHooks()
	h.OnPostQuote("noop", func(context.Context, shipping.OptionConfig, shipping.EvaluationContext, shipping.ShippingQuote) shipping.QuoteOverride {
		return shipping.NoOverride()
	})

	q, overridden := h.RunPostQuote(context.Background(), option("ground", "mock"), shipping.EvaluationContext{}, baseQuote())
	assert.False(t, overridden)
	assert.Equal(t, baseQuote(), q)
}

func TestHooks_PostQuote_RaisingZeroPriceClearsFree(t *testing.T) {
	h := newHooks()
	h.OnPostQuote("surcharge", func(context.Context, shipping.OptionConfig, shipping.EvaluationContext, shipping.ShippingQuote) shipping.QuoteOverride {
		return shipping.AdjustPrice(d("5"))
	})
	zero := baseQuote()
	zero.Discount = d("12")
	zero.PriceAfterDiscount = decimal.Zero
	zero.Free = true

	q, _ := h.RunPostQuote(context.Background(), option("ground", "mock"), shipping.EvaluationContext{}, zero)
	assert.True(t, q.PriceAfterDiscount.Equal(d("5")))
	assert.False(t, q.Free, "free only because of the zero price")

	granted := zero
	granted.FreeByRule = true
	q, _ = h.RunPostQuote(context.Background(), option("ground", "mock"), shipping.EvaluationContext{}, granted)
	assert.True(t, q.PriceAfterDiscount.Equal(d("5")))
	assert.True(t, q.Free, "a free-shipping rule survives the price change")
}

func TestHooks_PostQuote_InvalidReplacementIgnored(t *testing.T) {
	h := newHooks()
	h.OnPostQuote("other-option", func(context.Context, shipping.OptionConfig, shipping.EvaluationContext, shipping.ShippingQuote) shipping.QuoteOverride {
		q := baseQuote()
		q.OptionID = "express"
		return shipping.ReplaceQuote(q)
	})
	h.OnPostQuote("inconsistent", func(context.Context, shipping.OptionConfig, shipping.EvaluationContext, shipping.ShippingQuote) shipping.QuoteOverride {
		q := baseQuote()
		q.PriceAfterDiscount = d("1")
		return shipping.ReplaceQuote(q)
	})
	h.OnPostQuote("negative", func(context.Context, shipping.OptionConfig, shipping.EvaluationContext, shipping.ShippingQuote) shipping.QuoteOverride {
		return shipping.AdjustPrice(d("-4"))
	})
	h.OnPostQuote("valid", func(context.Context, shipping.OptionConfig, shipping.EvaluationContext, shipping.ShippingQuote) shipping.QuoteOverride {
		return shipping.ReplaceQuote(shipping.ShippingQuote{
			OptionID:            "ground",
			ServiceID:           "promo",
			PriceBeforeDiscount: d("4"),
			Discount:            d("0"),
			PriceAfterDiscount:  d("4"),
			Currency:            "USD",
		})
	})

	q, overridden := h.RunPostQuote(context.Background(), option("ground", "mock"), shipping.EvaluationContext{}, baseQuote())
	require.True(t, overridden)

	assert.Equal(t, "promo", q.ServiceID)
	assert.Equal(t, "ground:promo", q.QuoteID)
	assert.True(t, q.PriceAfterDiscount.Equal(d("4")))
}

func TestHooks_PostEligibility_Chain(t *testing.T) {
	h := newHooks()
	h.OnPostEligibility("drop-express", func(_ context.Context, _ shipping.EvaluationContext, options []shipping.OptionConfig) []shipping.OptionConfig {
		var out []shipping.OptionConfig
		for _, o := range options {
			if o.ID != "express" {
				out = append(out, o)
			}
		}
		return out
	})
	h.OnPostEligibility("broken", func(context.Context, shipping.EvaluationContext, []shipping.OptionConfig) []shipping.OptionConfig {
		return nil
	})
	h.OnPostEligibility("add-pickup", func(_ context.Context, _ shipping.EvaluationContext, options []shipping.OptionConfig) []shipping.OptionConfig {
		return append(options, option("pickup", "mock"))
	})

	got := h.RunPostEligibility(context.Background(), shipping.EvaluationContext{}, []shipping.OptionConfig{
		option("ground", "mock"),
		option("express", "mock"),
	})
	assert.Equal(t, []string{"ground", "pickup"}, ids(got))
}

func TestHooks_PostEligibility_EmptyListAllowed(t *testing.T) {
	h := newHooks()
	h.OnPostEligibility("none", func(context.Context, shipping.EvaluationContext, []shipping.OptionConfig) []shipping.OptionConfig {
		return []shipping.OptionConfig{}
	})

	got := h.RunPostEligibility(context.Background(), shipping.EvaluationContext{}, []shipping.OptionConfig{option("ground", "mock")})
	assert.Empty(t, got)
}

func TestHooks_PostApply(t *testing.T) {
	h := newHooks()
	var seen []string
	h.OnPostApply("audit", func(_ context.Context, _ shipping.EvaluationContext, eo shipping.EligibleOption) {
		seen = append(seen, eo.Option.ID)
	})

	h.RunPostApply(context.Background(), shipping.EvaluationContext{}, shipping.EligibleOption{Option: option("ground", "mock")})
	assert.Equal(t, []string{"ground"}, seen)
}
