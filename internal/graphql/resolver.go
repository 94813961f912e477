package graphql

import (
	"context"
	"errors"

	"github.com/tournevent/shiprate/internal/telemetry"
	"github.com/tournevent/shiprate/pkg/shipping"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// Resolver answers the root query fields.
type Resolver struct {
	Engine  *shipping.Engine
	Logger  *otelzap.Logger
	Metrics *telemetry.Metrics
}

// NewResolver creates a new resolver with the given dependencies.
func NewResolver(engine *shipping.Engine, logger *otelzap.Logger, metrics *telemetry.Metrics) *Resolver {
	return &Resolver{
		Engine:  engine,
		Logger:  logger,
		Metrics: metrics,
	}
}

// ShippingOptionsArgs are the arguments of the shippingOptions field.
type ShippingOptionsArgs struct {
	Cart            string
	Order           string
	Currency        string
	TaxInclusive    bool
	Admin           bool
	IncludeDisabled bool
	SessionID       string
	ErrorsFirst     bool
}

// ShippingOptions evaluates the eligible options of a cart or an order.
func (r *Resolver) ShippingOptions(ctx context.Context, args ShippingOptionsArgs) ([]shipping.EligibleOption, error) {
	var ref shipping.ContextRef
	switch {
	case args.Cart != "" && args.Order != "":
		return nil, errors.New("only one of cart and order may be given")
	case args.Cart != "":
		ref = shipping.CartRef(args.Cart)
	case args.Order != "":
		ref = shipping.OrderRef(args.Order)
	default:
		return nil, errors.New("one of cart or order is required")
	}

	pass := r.Engine.NewPass(shipping.PassOptions{
		SessionID:       args.SessionID,
		Currency:        args.Currency,
		TaxInclusive:    args.TaxInclusive,
		Admin:           args.Admin || ref.Kind == shipping.ContextOrder,
		IncludeDisabled: args.IncludeDisabled,
	})
	options, err := pass.EligibleOptions(ctx, ref)
	if err != nil {
		r.Logger.Ctx(ctx).Warn("Shipping options query failed",
			zap.String("pass_id", pass.ID),
			zap.Error(err),
		)
		return nil, err
	}
	if args.ErrorsFirst {
		shipping.SortErrorsFirst(options)
	}
	return options, nil
}

// ShippingCarriers lists the registered provider types.
func (r *Resolver) ShippingCarriers(_ context.Context) []string {
	return r.Engine.Registry().Types()
}

// Health reports service liveness.
func (r *Resolver) Health(_ context.Context) string {
	return "ok"
}
