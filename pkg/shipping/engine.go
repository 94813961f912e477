package shipping

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tournevent/shiprate/pkg/shipping/cache"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config holds engine settings.
type Config struct {
	// BaseCurrency is the currency quotes are built and cached in.
	BaseCurrency string
	// CrossRequestCache enables the session-backed cache tier for carts.
	CrossRequestCache bool
}

// Deps are the engine's collaborators. Options and Registry are required.
type Deps struct {
	Options   OptionStore
	Registry  *Registry
	Hooks     *Hooks
	Carts     CartSource
	Orders    OrderSource
	Discounts DiscountEvaluator
	Taxes     TaxEvaluator
	ItemCosts ItemCostSource
	Currency  RateSource
	Sessions  cache.SessionStore
	Observer  Observer
	Tracer    trace.Tracer
}

// Engine quotes shipping options. It is safe for concurrent use; each
// evaluation runs in its own Pass.
type Engine struct {
	cfg       Config
	options   OptionStore
	registry  *Registry
	hooks     *Hooks
	carts     CartSource
	orders    OrderSource
	discounts DiscountEvaluator
	currency  RateSource
	sessions  cache.SessionStore
	builder   *QuoteBuilder
	observer  Observer
	tracer    trace.Tracer
	logger    *otelzap.Logger
}

// NewEngine creates an engine.
func NewEngine(cfg Config, deps Deps, logger *otelzap.Logger) (*Engine, error) {
	if deps.Options == nil {
		return nil, errors.New("shipping engine: option store is required")
	}
	if deps.Registry == nil {
		return nil, errors.New("shipping engine: provider registry is required")
	}
	if cfg.BaseCurrency == "" {
		cfg.BaseCurrency = "USD"
	}
	if logger == nil {
		logger = otelzap.New(zap.NewNop())
	}
	hooks := deps.Hooks
	if hooks == nil {
		hooks = NewHooks(logger)
	}
	observer := deps.Observer
	if observer == nil {
		observer = nopObserver{}
	}
	hooks.setObserver(observer)
	tracer := deps.Tracer
	if tracer == nil {
		tracer = otel.Tracer("github.com/tournevent/shiprate/pkg/shipping")
	}

	return &Engine{
		cfg:       cfg,
		options:   deps.Options,
		registry:  deps.Registry,
		hooks:     hooks,
		carts:     deps.Carts,
		orders:    deps.Orders,
		discounts: deps.Discounts,
		currency:  deps.Currency,
		sessions:  deps.Sessions,
		builder:   NewQuoteBuilder(deps.Discounts, deps.Taxes, deps.ItemCosts),
		observer:  observer,
		tracer:    tracer,
		logger:    logger,
	}, nil
}

// Hooks returns the hook registry.
func (e *Engine) Hooks() *Hooks {
	return e.hooks
}

// Registry returns the provider registry.
func (e *Engine) Registry() *Registry {
	return e.registry
}

// BaseCurrency returns the currency quotes are cached in.
func (e *Engine) BaseCurrency() string {
	return e.cfg.BaseCurrency
}

// DropSession forgets every cross-request entry of a session. It does nothing
// when no session store is configured or the store cannot drop sessions.
func (e *Engine) DropSession(ctx context.Context, sessionID string) error {
	d, ok := e.sessions.(cache.Dropper)
	if !ok || sessionID == "" {
		return nil
	}
	if err := d.Drop(ctx, sessionID); err != nil {
		return fmt.Errorf("dropping session %s: %w", sessionID, err)
	}
	return nil
}

// PassOptions configures one evaluation pass.
type PassOptions struct {
	// SessionID selects the cross-request cache partition for carts.
	SessionID string
	// Currency is the display currency; empty means the base currency.
	Currency     string
	TaxInclusive bool
	// Admin evaluates with admin visibility instead of storefront visibility.
	Admin           bool
	IncludeDisabled bool
	// Carts and Orders replace the engine's sources for this pass when set.
	Carts  CartSource
	Orders OrderSource
}

// Pass is one evaluation pass. Contexts, cached rates and quotes and
// currency rates live as long as the pass. A Pass is not safe for
// concurrent use.
type Pass struct {
	ID         string
	engine     *Engine
	opts       PassOptions
	contexts   map[string]EvaluationContext
	cartCache  *cache.Layer
	orderCache *cache.Layer
	converter  *Converter
}

// NewPass starts an evaluation pass.
func (e *Engine) NewPass(opts PassOptions) *Pass {
	cartOpts := cache.Options{Logger: e.logger, Observer: e.observer}
	if e.cfg.CrossRequestCache && e.sessions != nil {
		cartOpts.Session = e.sessions
		cartOpts.SessionID = opts.SessionID
	}
	return &Pass{
		ID:         uuid.NewString(),
		engine:     e,
		opts:       opts,
		contexts:   make(map[string]EvaluationContext),
		cartCache:  cache.NewLayer(cartOpts),
		orderCache: cache.NewLayer(cache.Options{Logger: e.logger, Observer: e.observer}),
		converter:  NewConverter(e.currency),
	}
}

// EligibleOptions returns every option applicable to ref with its quotes
// attached. An option whose provider failed carries an ErrorHint instead of
// quotes; it never fails the whole evaluation.
func (p *Pass) EligibleOptions(ctx context.Context, ref ContextRef) ([]EligibleOption, error) {
	e := p.engine
	ec, err := p.Context(ctx, ref)
	if err != nil {
		return nil, err
	}

	all, err := e.options.Options(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing shipping options: %w", err)
	}

	eligible := FilterOptions(all, EligibilityQuery{
		Weight:                  ec.Totals.ActualWeight,
		Country:                 ec.Address.Country,
		CustomerID:              ec.CustomerID,
		CustomerGroup:           ec.CustomerGroup,
		FrontendOnly:            !p.opts.Admin,
		IncludeDisabled:         p.opts.IncludeDisabled,
		AllowZeroWeightOverride: !ec.Totals.ActualWeight.IsZero() && ec.Totals.Weight.IsZero(),
	})
	eligible = e.hooks.RunPostEligibility(ctx, ec, eligible)

	result := make([]EligibleOption, 0, len(eligible))
	for _, opt := range eligible {
		eo := EligibleOption{Option: opt}
		quotes, err := p.quote(ctx, opt, ec)
		if err != nil {
			e.logger.Warn("Shipping option could not be quoted",
				zap.String("pass_id", p.ID),
				zap.String("option_id", opt.ID),
				zap.String("provider_type", opt.ProviderType),
				zap.Error(err),
			)
			eo.ErrorHint = err.Error()
		} else {
			eo.Quotes = quotes
		}
		e.hooks.RunPostApply(ctx, ec, eo)
		result = append(result, eo)
	}

	e.logger.Debug("Shipping options evaluated",
		zap.String("pass_id", p.ID),
		zap.String("context", string(ec.Kind)),
		zap.Int("options", len(result)),
		zap.Int("cached_entries", p.cartCache.Len()+p.orderCache.Len()),
		zap.Bool("cross_request", p.cartCache.CrossRequest()),
	)
	return result, nil
}

// Quotes returns the quotes of a single option for ref.
func (p *Pass) Quotes(ctx context.Context, option OptionConfig, ref ContextRef) ([]ShippingQuote, error) {
	ec, err := p.Context(ctx, ref)
	if err != nil {
		return nil, err
	}
	return p.quote(ctx, option, ec)
}

func (p *Pass) quote(ctx context.Context, option OptionConfig, ec EvaluationContext) ([]ShippingQuote, error) {
	e := p.engine

	provider, err := e.registry.Provider(option)
	if err != nil {
		return nil, err
	}
	if !provider.SupportsRates() {
		return nil, nil
	}

	oc := ec.clone()
	if option.HandlingFee != nil {
		fee := *option.HandlingFee
		oc.HandlingFee = &fee
	}
	oc = e.hooks.RunPreQuote(ctx, option, oc)

	items := oc.Quotable
	if oc.AllFree {
		items = oc.Items
	}

	layer := p.orderCache
	if oc.Kind == ContextCart {
		layer = p.cartCache
	}
	rateKey := contentKey(items, oc)
	// Discounts and item costs read prices and order identity, which the
	// rate key leaves out.
	quoteKey := cache.Extend(rateKey,
		oc.OrderID,
		oc.PendingKey,
		oc.Totals.Price.String(),
		itemPricing(items),
		oc.CouponCode,
		oc.PaymentMethod,
		oc.CustomerGroup,
		feeString(oc.HandlingFee),
		strconv.FormatBool(p.opts.TaxInclusive),
		strconv.FormatBool(oc.AllFree),
	)

	quotes, ok := cache.Get[[]ShippingQuote](ctx, layer, cache.KindQuotes, option.ID, quoteKey)
	if !ok {
		rates, ok := cache.Get[[]RawRate](ctx, layer, cache.KindRates, option.ID, rateKey)
		if !ok {
			rates, err = p.callProvider(ctx, provider, option, items, oc)
			if err != nil {
				return nil, err
			}
			cache.Put(ctx, layer, cache.KindRates, option.ID, rateKey, append([]RawRate(nil), rates...))
		}

		quotes, err = e.builder.Build(ctx, BuildRequest{
			Option:       option,
			Rates:        rates,
			Items:        items,
			Context:      oc,
			TaxInclusive: p.opts.TaxInclusive,
			BaseCurrency: e.cfg.BaseCurrency,
		})
		if err != nil {
			return nil, err
		}
		cache.Put(ctx, layer, cache.KindQuotes, option.ID, quoteKey, append([]ShippingQuote(nil), quotes...))
	}

	out := make([]ShippingQuote, len(quotes))
	for i, q := range quotes {
		adjusted, overridden := e.hooks.RunPostQuote(ctx, option, oc, q)
		if overridden {
			adjusted.TaxInclusivePrice = nil
			if p.opts.TaxInclusive {
				incl, err := e.builder.TaxInclusive(ctx, option, oc.Address, adjusted.PriceAfterDiscount)
				if err != nil {
					return nil, err
				}
				adjusted.TaxInclusivePrice = &incl
			}
		}
		if oc.AllFree {
			adjusted.Free = true
			adjusted.FreeByRule = true
		}
		out[i] = adjusted
	}

	return p.converter.Convert(ctx, out, oc.Currency)
}

func (p *Pass) callProvider(ctx context.Context, provider RateProvider, option OptionConfig, items []ShippableItem, ec EvaluationContext) (rates []RawRate, err error) {
	e := p.engine
	ctx, span := e.tracer.Start(ctx, "shipping.GetItemRates", trace.WithAttributes(
		attribute.String("shipping.option_id", option.ID),
		attribute.String("shipping.provider_type", option.ProviderType),
		attribute.Int("shipping.item_count", len(items)),
	))
	defer span.End()

	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			rates = nil
			err = NewProviderError(option.ProviderType, "PANIC", fmt.Sprint(r))
		}
		e.observer.ProviderCall(option.ProviderType, option.ID, time.Since(start).Seconds(), err)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
	}()

	return provider.GetItemRates(ctx, option, items, ec.Address, ec.CallSite(p.opts.Admin))
}

// contentKey covers the items, the address and an explicit allow-list of
// context fields. Customer id is always part of it.
func contentKey(items []ShippableItem, ec EvaluationContext) string {
	tuples := make([]cache.ItemTuple, len(items))
	for i, item := range items {
		tuples[i] = cache.ItemTuple{
			SKU:      item.SKU,
			Quantity: item.Quantity,
			Volume:   item.UnitVolume.String(),
			Free:     item.FreeShipping,
		}
	}
	fields := map[string]string{
		"customer_id": ec.CustomerID,
		"weight":      ec.Totals.Weight.String(),
		"cart_name":   ec.CartName,
	}
	for _, name := range ec.CacheFields {
		fields["custom."+name] = ec.Custom[name]
	}
	return cache.Key(cache.KeyInput{
		Items:   tuples,
		Address: ec.Address.Hash(),
		Fields:  fields,
	})
}

// itemPricing lists product id and unit price per item, in item order.
func itemPricing(items []ShippableItem) string {
	parts := make([]string, len(items))
	for i, item := range items {
		parts[i] = item.ProductID + "=" + item.UnitPrice.String()
	}
	return strings.Join(parts, ",")
}

func feeString(fee *decimal.Decimal) string {
	if fee == nil {
		return ""
	}
	return fee.String()
}
