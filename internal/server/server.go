package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	gql "github.com/99designs/gqlgen/graphql"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/tournevent/shiprate/internal/catalog"
	"github.com/tournevent/shiprate/internal/graphql"
	"github.com/tournevent/shiprate/internal/telemetry"
	"github.com/tournevent/shiprate/pkg/shipping"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"github.com/vektah/gqlparser/v2/gqlerror"
	"go.uber.org/zap"
)

// SessionHeader carries the id that scopes the cross-request cache.
const SessionHeader = "X-Session-ID"

// Server is the HTTP server for the shipping rate service.
type Server struct {
	port         int
	taxInclusive bool
	engine       *shipping.Engine
	logger       *otelzap.Logger
	metrics      *telemetry.Metrics
	gatherer     prometheus.Gatherer
	resolver     *graphql.Resolver
}

// Config holds server configuration.
type Config struct {
	Port int
	// TaxInclusive is the default when a request does not say.
	TaxInclusive bool
	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer
}

// New creates a new server instance.
func New(cfg Config, engine *shipping.Engine, logger *otelzap.Logger, metrics *telemetry.Metrics) *Server {
	gatherer := cfg.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	if metrics == nil {
		metrics = telemetry.NewMetricsWith(prometheus.NewRegistry())
	}
	return &Server{
		port:         cfg.Port,
		taxInclusive: cfg.TaxInclusive,
		engine:       engine,
		logger:       logger,
		metrics:      metrics,
		gatherer:     gatherer,
		resolver:     graphql.NewResolver(engine, logger, metrics),
	}
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{}))
	r.Post("/graphql", s.handleGraphQL)
	r.Route("/v1", func(r chi.Router) {
		r.Post("/carts/{name}/shipping-options", s.handleCartOptions)
		r.Post("/orders/{id}/shipping-options", s.handleOrderOptions)
		r.Delete("/sessions/{id}", s.handleDropSession)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorBody{Error: "method not allowed"})
	})
	return r
}

// Run starts the HTTP server and blocks until context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("Starting server", zap.Int("port", s.port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("Shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

type errorBody struct {
	Error string `json:"error"`
}

// OptionsResponse is the body of the shipping-options endpoints.
type OptionsResponse struct {
	PassID   string                    `json:"pass_id"`
	Currency string                    `json:"currency"`
	Options  []shipping.EligibleOption `json:"options"`
}

// OrderOptionsRequest is the body of the order shipping-options endpoint.
type OrderOptionsRequest struct {
	Order        shipping.OrderSnapshot   `json:"order"`
	PendingItems []shipping.ShippableItem `json:"pending_items,omitempty"`
	PendingKey   string                   `json:"pending_key,omitempty"`
}

func (s *Server) handleCartOptions(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var cart shipping.CartSnapshot
	if err := json.NewDecoder(r.Body).Decode(&cart); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return
	}
	cart.Name = name

	opts, err := s.passOptions(r, false)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	opts.SessionID = r.Header.Get(SessionHeader)
	opts.Carts = catalog.NewSnapshots([]shipping.CartSnapshot{cart}, nil)

	s.evaluate(w, r, "cart_options", opts, shipping.CartRef(name))
}

func (s *Server) handleOrderOptions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req OrderOptionsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON: " + err.Error()})
		return
	}
	req.Order.ID = id

	opts, err := s.passOptions(r, true)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
		return
	}
	opts.Orders = catalog.NewSnapshots(nil, []shipping.OrderSnapshot{req.Order})

	ref := shipping.OrderRef(id)
	if req.PendingItems != nil {
		ref = shipping.PendingOrderRef(id, req.PendingKey, req.PendingItems)
	}
	s.evaluate(w, r, "order_options", opts, ref)
}

func (s *Server) passOptions(r *http.Request, admin bool) (shipping.PassOptions, error) {
	q := r.URL.Query()
	opts := shipping.PassOptions{
		Currency:     q.Get("currency"),
		TaxInclusive: s.taxInclusive,
		Admin:        admin,
	}
	for name, dst := range map[string]*bool{
		"tax_inclusive":    &opts.TaxInclusive,
		"admin":            &opts.Admin,
		"include_disabled": &opts.IncludeDisabled,
	} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.ParseBool(raw)
		if err != nil {
			return shipping.PassOptions{}, fmt.Errorf("invalid %s: %q", name, raw)
		}
		*dst = v
	}
	return opts, nil
}

func (s *Server) evaluate(w http.ResponseWriter, r *http.Request, operation string, opts shipping.PassOptions, ref shipping.ContextRef) {
	ctx := r.Context()
	start := time.Now()

	pass := s.engine.NewPass(opts)
	options, err := pass.EligibleOptions(ctx, ref)
	if err != nil {
		status := statusFor(err)
		s.metrics.RecordRequest(operation, "error", time.Since(start).Seconds())
		s.logger.Ctx(ctx).Warn("Shipping options request failed",
			zap.String("operation", operation),
			zap.String("pass_id", pass.ID),
			zap.Int("status", status),
			zap.Error(err),
		)
		writeJSON(w, status, errorBody{Error: err.Error()})
		return
	}
	s.metrics.RecordRequest(operation, "success", time.Since(start).Seconds())

	if r.URL.Query().Get("errors_first") == "true" {
		shipping.SortErrorsFirst(options)
	}

	currency := opts.Currency
	if currency == "" {
		currency = s.engine.BaseCurrency()
	}
	writeJSON(w, http.StatusOK, OptionsResponse{
		PassID:   pass.ID,
		Currency: currency,
		Options:  options,
	})
}

func (s *Server) handleDropSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.engine.DropSession(r.Context(), id); err != nil {
		s.logger.Ctx(r.Context()).Error("Dropping session cache failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: err.Error()})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, shipping.ErrCartNotFound), errors.Is(err, shipping.ErrOrderNotFound):
		return http.StatusNotFound
	case errors.Is(err, shipping.ErrInvalidContextRef):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) handleGraphQL(w http.ResponseWriter, r *http.Request) {
	var req graphql.Request
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, &gql.Response{
			Errors: gqlerror.List{gqlerror.Errorf("invalid JSON: %s", err.Error())},
		})
		return
	}
	writeJSON(w, http.StatusOK, s.resolver.Execute(r.Context(), req))
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
