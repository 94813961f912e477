// Package remote prices shipments through an external JSON rate service.
package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/tournevent/shiprate/pkg/shipping"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

// ProviderType is the provider type remote options are configured with.
const ProviderType = "remote"

// Config holds the settings of one remote option.
type Config struct {
	BaseURL    string
	APIKey     string
	Timeout    time.Duration
	MaxRetries uint
	UseMock    bool
}

// ConfigFromSettings reads base_url, api_key, timeout, max_retries and
// use_mock from the option settings.
func ConfigFromSettings(option shipping.OptionConfig) (Config, error) {
	s := option.Settings
	cfg := Config{
		BaseURL:    s["base_url"],
		APIKey:     s["api_key"],
		MaxRetries: 3,
	}
	if raw := s["timeout"]; raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return Config{}, fmt.Errorf("option %s: invalid timeout %q: %w", option.ID, raw, err)
		}
		cfg.Timeout = d
	}
	if raw := s["max_retries"]; raw != "" {
		n, err := strconv.ParseUint(raw, 10, 32)
		if err != nil {
			return Config{}, fmt.Errorf("option %s: invalid max_retries %q: %w", option.ID, raw, err)
		}
		cfg.MaxRetries = uint(n)
	}
	if raw := s["use_mock"]; raw != "" {
		b, err := strconv.ParseBool(raw)
		if err != nil {
			return Config{}, fmt.Errorf("option %s: invalid use_mock %q: %w", option.ID, raw, err)
		}
		cfg.UseMock = b
	}
	if !cfg.UseMock && cfg.BaseURL == "" {
		return Config{}, fmt.Errorf("option %s: base_url is required", option.ID)
	}
	return cfg, nil
}

// Client is the remote rate provider. It delegates transport to an APIClient
// and retries retryable failures with exponential backoff.
type Client struct {
	config    Config
	apiClient APIClient
	logger    *otelzap.Logger
}

// New creates a client, using the mock API client when cfg.UseMock is set.
func New(cfg Config, logger *otelzap.Logger) *Client {
	var apiClient APIClient
	if cfg.UseMock {
		apiClient = NewMockAPIClient()
	} else {
		apiClient = NewHTTPAPIClient(HTTPAPIClientConfig{
			BaseURL: cfg.BaseURL,
			APIKey:  cfg.APIKey,
			Timeout: cfg.Timeout,
		})
	}
	return NewWithAPIClient(cfg, apiClient, logger)
}

// NewWithAPIClient creates a client with a custom API client.
func NewWithAPIClient(cfg Config, apiClient APIClient, logger *otelzap.Logger) *Client {
	if logger == nil {
		logger = otelzap.New(zap.NewNop())
	}
	return &Client{config: cfg, apiClient: apiClient, logger: logger}
}

// Factory returns a registry factory building one client per option.
func Factory(logger *otelzap.Logger) shipping.ProviderFactory {
	return func(option shipping.OptionConfig) (shipping.RateProvider, error) {
		cfg, err := ConfigFromSettings(option)
		if err != nil {
			return nil, err
		}
		return New(cfg, logger), nil
	}
}

// SupportsRates always reports true.
func (c *Client) SupportsRates() bool {
	return true
}

// GetItemRates asks the remote service to price the items.
func (c *Client) GetItemRates(ctx context.Context, option shipping.OptionConfig, items []shipping.ShippableItem, addr shipping.Address, site shipping.CallSite) ([]shipping.RawRate, error) {
	req := &RatesRequest{
		RequestID: uuid.NewString(),
		OptionID:  option.ID,
		CallSite:  string(site),
		Destination: Destination{
			Country:  addr.Country,
			State:    addr.State,
			Zip:      addr.Zip,
			City:     addr.City,
			Business: addr.Business,
		},
		Parcels: itemsToParcels(items),
	}

	c.logger.Debug("Requesting remote rates",
		zap.String("option_id", option.ID),
		zap.String("request_id", req.RequestID),
		zap.Int("parcel_count", len(req.Parcels)),
	)

	attempt := 0
	resp, err := backoff.Retry(ctx, func() (*RatesResponse, error) {
		attempt++
		resp, err := c.apiClient.GetRates(ctx, req)
		if err == nil {
			return resp, nil
		}
		perr := toProviderError(err)
		if !shipping.IsRetryable(perr) {
			return nil, backoff.Permanent(perr)
		}
		c.logger.Warn("Remote rate request failed, retrying",
			zap.String("option_id", option.ID),
			zap.Int("attempt", attempt),
			zap.Error(err),
		)
		return nil, perr
	}, backoff.WithBackOff(newBackOff()), backoff.WithMaxTries(c.config.MaxRetries+1))
	if err != nil {
		return nil, err
	}
	if len(resp.Rates) == 0 {
		return nil, shipping.NewProviderError(ProviderType, "NO_RATES", "no service can ship these items").
			WithCause(shipping.ErrNoRates)
	}

	return ratesToRaw(option, resp.Rates)
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return b
}

func itemsToParcels(items []shipping.ShippableItem) []Parcel {
	parcels := make([]Parcel, len(items))
	for i, item := range items {
		parcels[i] = Parcel{
			SKU:      item.SKU,
			Quantity: item.Quantity,
			Weight:   item.UnitWeight.String(),
			Volume:   item.UnitVolume.String(),
		}
	}
	return parcels
}

func ratesToRaw(option shipping.OptionConfig, rates []Rate) ([]shipping.RawRate, error) {
	out := make([]shipping.RawRate, 0, len(rates))
	for _, r := range rates {
		price, err := decimal.NewFromString(r.Price)
		if err != nil {
			return nil, shipping.NewProviderError(ProviderType, "INVALID_RESPONSE",
				fmt.Sprintf("service %s has invalid price %q", r.ServiceCode, r.Price)).WithCause(err)
		}
		if price.IsNegative() {
			return nil, shipping.NewProviderError(ProviderType, "INVALID_RESPONSE",
				fmt.Sprintf("service %s has negative price", r.ServiceCode))
		}
		out = append(out, shipping.RawRate{
			ServiceID:   r.ServiceCode,
			ServiceName: r.ServiceName,
			Price:       price,
			Currency:    r.Currency,
		})
	}
	return out, nil
}

func toProviderError(err error) *shipping.ProviderError {
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		var cause error = apiErr
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests:
			cause = fmt.Errorf("%w: %w", shipping.ErrRateLimitExceeded, apiErr)
		case apiErr.StatusCode == http.StatusServiceUnavailable:
			cause = fmt.Errorf("%w: %w", shipping.ErrServiceUnavailable, apiErr)
		case apiErr.Code == "INVALID_ADDRESS":
			cause = fmt.Errorf("%w: %w", shipping.ErrInvalidAddress, apiErr)
		}
		return shipping.NewProviderError(ProviderType, apiErr.Code, apiErr.Message).
			WithStatusCode(apiErr.StatusCode).
			WithRetryable(apiErr.Temporary()).
			WithCause(cause)
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return shipping.NewProviderError(ProviderType, "CANCELED", err.Error()).WithCause(err)
	}
	// Transport failures are worth another attempt.
	return shipping.NewProviderError(ProviderType, "TRANSPORT", err.Error()).
		WithRetryable(true).
		WithCause(err)
}

var _ shipping.RateProvider = (*Client)(nil)
