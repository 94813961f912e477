package shipping

import (
	"context"
	"regexp"
	"sync"

	"github.com/shopspring/decimal"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Hook point names, used in logs and metrics.
const (
	HookPreQuote        = "pre_quote"
	HookPostQuote       = "post_quote"
	HookPostEligibility = "post_eligibility"
	HookPostApply       = "post_apply"
)

// ContextPatch is a partial override of the evaluation context returned by a
// pre-quote handler. Nil fields are left untouched.
type ContextPatch struct {
	CustomerID    *string
	CustomerGroup *string
	PaymentMethod *string
	CouponCode    *string
	Currency      *string
	HandlingFee   *decimal.Decimal
	// Custom values are merged key by key.
	Custom map[string]string
	// CacheFields opts custom fields into the cache key.
	CacheFields []string
}

// PreQuoteHandler runs before the provider is invoked for an option.
type PreQuoteHandler func(ctx context.Context, option OptionConfig, ec EvaluationContext) *ContextPatch

// PostQuoteHandler may override one builder-produced quote.
type PostQuoteHandler func(ctx context.Context, option OptionConfig, ec EvaluationContext, quote ShippingQuote) QuoteOverride

// PostEligibilityHandler receives the current eligible list and returns the
// list handed to the next handler.
type PostEligibilityHandler func(ctx context.Context, ec EvaluationContext, options []OptionConfig) []OptionConfig

// PostApplyHandler is notified once quotes are attached to an option.
type PostApplyHandler func(ctx context.Context, ec EvaluationContext, option EligibleOption)

type overrideKind int

const (
	overrideNone overrideKind = iota
	overrideReplace
	overridePrice
)

// QuoteOverride is the result of a post-quote handler: no override, a
// replacement quote, or a bare price. The zero value is NoOverride.
type QuoteOverride struct {
	kind  overrideKind
	quote ShippingQuote
	price decimal.Decimal
}

// NoOverride keeps the quote and lets the next handler run.
func NoOverride() QuoteOverride { return QuoteOverride{} }

// ReplaceQuote substitutes the quote wholesale.
func ReplaceQuote(q ShippingQuote) QuoteOverride {
	return QuoteOverride{kind: overrideReplace, quote: q}
}

// AdjustPrice sets a new price. A price above the discounted price becomes
// the new price with no discount; a lower price is applied as extra discount.
func AdjustPrice(price decimal.Decimal) QuoteOverride {
	return QuoteOverride{kind: overridePrice, price: price}
}

type namedPreQuote struct {
	name string
	fn   PreQuoteHandler
}

type namedPostQuote struct {
	name string
	fn   PostQuoteHandler
}

type namedPostEligibility struct {
	name string
	fn   PostEligibilityHandler
}

type namedPostApply struct {
	name string
	fn   PostApplyHandler
}

// Hooks holds the handlers of the four extension points.
//
//	pre_quote        patches merged in registration order, last wins per field
//	post_quote       first handler returning an override wins
//	post_eligibility each handler's list feeds the next one
//	post_apply       notification only
type Hooks struct {
	mu              sync.RWMutex
	preQuote        []namedPreQuote
	postQuote       []namedPostQuote
	postEligibility []namedPostEligibility
	postApply       []namedPostApply
	logger          *otelzap.Logger
	observer        Observer
}

// NewHooks creates an empty hook registry.
func NewHooks(logger *otelzap.Logger) *Hooks {
	if logger == nil {
		logger = otelzap.New(zap.NewNop())
	}
	return &Hooks{logger: logger, observer: nopObserver{}}
}

func (h *Hooks) setObserver(o Observer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.observer = o
}

// OnPreQuote registers a pre-quote handler.
func (h *Hooks) OnPreQuote(name string, fn PreQuoteHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.preQuote = append(h.preQuote, namedPreQuote{name: name, fn: fn})
}

// OnPostQuote registers a post-quote handler.
func (h *Hooks) OnPostQuote(name string, fn PostQuoteHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.postQuote = append(h.postQuote, namedPostQuote{name: name, fn: fn})
}

// OnPostEligibility registers a post-eligibility handler.
func (h *Hooks) OnPostEligibility(name string, fn PostEligibilityHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.postEligibility = append(h.postEligibility, namedPostEligibility{name: name, fn: fn})
}

// OnPostApply registers a post-apply handler.
func (h *Hooks) OnPostApply(name string, fn PostApplyHandler) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.postApply = append(h.postApply, namedPostApply{name: name, fn: fn})
}

func (h *Hooks) warn(point, handler, reason string) {
	h.logger.Warn("Ignoring incompatible hook result",
		zap.String("hook", point),
		zap.String("handler", handler),
		zap.String("reason", reason),
	)
	h.observer.HookWarning(point)
}

var currencyCode = regexp.MustCompile(`^[A-Z]{3}$`)

// RunPreQuote applies every handler's patch to a copy of ec.
func (h *Hooks) RunPreQuote(ctx context.Context, option OptionConfig, ec EvaluationContext) EvaluationContext {
	h.mu.RLock()
	handlers := append([]namedPreQuote(nil), h.preQuote...)
	h.mu.RUnlock()

	out := ec.clone()
	for _, handler := range handlers {
		patch := handler.fn(ctx, option, out.clone())
		if patch == nil {
			continue
		}
		if patch.HandlingFee != nil && patch.HandlingFee.IsNegative() {
			h.warn(HookPreQuote, handler.name, "negative handling fee")
			continue
		}
		if patch.Currency != nil && !currencyCode.MatchString(*patch.Currency) {
			h.warn(HookPreQuote, handler.name, "malformed currency code")
			continue
		}
		applyPatch(&out, patch)
	}
	return out
}

func applyPatch(ec *EvaluationContext, p *ContextPatch) {
	if p.CustomerID != nil {
		ec.CustomerID = *p.CustomerID
	}
	if p.CustomerGroup != nil {
		ec.CustomerGroup = *p.CustomerGroup
	}
	if p.PaymentMethod != nil {
		ec.PaymentMethod = *p.PaymentMethod
	}
	if p.CouponCode != nil {
		ec.CouponCode = *p.CouponCode
	}
	if p.Currency != nil {
		ec.Currency = *p.Currency
	}
	if p.HandlingFee != nil {
		fee := *p.HandlingFee
		ec.HandlingFee = &fee
	}
	if len(p.Custom) > 0 {
		if ec.Custom == nil {
			ec.Custom = make(map[string]string, len(p.Custom))
		}
		for k, v := range p.Custom {
			ec.Custom[k] = v
		}
	}
	for _, f := range p.CacheFields {
		if !containsString(ec.CacheFields, f) {
			ec.CacheFields = append(ec.CacheFields, f)
		}
	}
}

// RunPostQuote returns the quote after the first effective override and
// whether any handler overrode it.
func (h *Hooks) RunPostQuote(ctx context.Context, option OptionConfig, ec EvaluationContext, quote ShippingQuote) (ShippingQuote, bool) {
	h.mu.RLock()
	handlers := append([]namedPostQuote(nil), h.postQuote...)
	h.mu.RUnlock()

	for _, handler := range handlers {
		override := handler.fn(ctx, option, ec, quote)
		switch override.kind {
		case overrideNone:
			continue
		case overrideReplace:
			q := override.quote
			if q.OptionID != quote.OptionID {
				h.warn(HookPostQuote, handler.name, "replacement quote belongs to another option")
				continue
			}
			if !q.ConsistentPrice() || q.PriceBeforeDiscount.IsNegative() {
				h.warn(HookPostQuote, handler.name, "replacement quote breaks the price invariant")
				continue
			}
			if q.QuoteID == "" {
				q.QuoteID = QuoteID(q.OptionID, q.ServiceID)
			}
			q.Free = q.Free || q.FreeByRule || q.PriceAfterDiscount.IsZero()
			return q, true
		case overridePrice:
			if override.price.IsNegative() {
				h.warn(HookPostQuote, handler.name, "negative price")
				continue
			}
			return applyPrice(quote, override.price), true
		}
	}
	return quote, false
}

func applyPrice(q ShippingQuote, price decimal.Decimal) ShippingQuote {
	current := q.PriceAfterDiscount
	switch {
	case price.GreaterThan(current):
		q.PriceBeforeDiscount = price
		q.Discount = decimal.Zero
	case price.LessThan(current):
		q.Discount = q.Discount.Add(current.Sub(price))
	default:
		return q
	}
	q.PriceAfterDiscount = discountedPrice(q.PriceBeforeDiscount, q.Discount)
	q.Free = q.FreeByRule || q.PriceAfterDiscount.IsZero()
	return q
}

// RunPostEligibility chains the handlers over the eligible list. A nil result
// is treated as incompatible and the handler's input is kept.
func (h *Hooks) RunPostEligibility(ctx context.Context, ec EvaluationContext, options []OptionConfig) []OptionConfig {
	h.mu.RLock()
	handlers := append([]namedPostEligibility(nil), h.postEligibility...)
	h.mu.RUnlock()

	current := options
	for _, handler := range handlers {
		next := handler.fn(ctx, ec, append([]OptionConfig(nil), current...))
		if next == nil {
			h.warn(HookPostEligibility, handler.name, "nil option list")
			continue
		}
		current = next
	}
	return current
}

// RunPostApply notifies every post-apply handler.
func (h *Hooks) RunPostApply(ctx context.Context, ec EvaluationContext, option EligibleOption) {
	h.mu.RLock()
	handlers := append([]namedPostApply(nil), h.postApply...)
	h.mu.RUnlock()

	for _, handler := range handlers {
		handler.fn(ctx, ec, option)
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
