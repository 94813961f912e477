package remote

import (
	"context"
	"fmt"
	"net/http"
)

// APIClient is the transport of the remote rate service. The HTTP client is
// used in production; the mock client in tests and local runs.
type APIClient interface {
	// GetRates submits a rate request and returns the completed result.
	GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error)
}

// RatesRequest is the body of POST /rates.
type RatesRequest struct {
	RequestID   string      `json:"request_id"`
	OptionID    string      `json:"option_id"`
	CallSite    string      `json:"call_site"`
	Destination Destination `json:"destination"`
	Parcels     []Parcel    `json:"parcels"`
}

// Destination is the ship-to location.
type Destination struct {
	Country  string `json:"country"`
	State    string `json:"state,omitempty"`
	Zip      string `json:"zip,omitempty"`
	City     string `json:"city,omitempty"`
	Business bool   `json:"business,omitempty"`
}

// Parcel is one line of the shipment.
type Parcel struct {
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
	Weight   string `json:"weight"`
	Volume   string `json:"volume,omitempty"`
}

// RatesResponse is returned by POST /rates and GET /rates/{request_id}.
// Status is "pending" until the service has finished pricing.
type RatesResponse struct {
	RequestID string `json:"request_id"`
	Status    string `json:"status"`
	Rates     []Rate `json:"rates,omitempty"`
	Error     string `json:"error,omitempty"`
}

// Rate is one priced service.
type Rate struct {
	ServiceCode string `json:"service_code"`
	ServiceName string `json:"service_name"`
	Price       string `json:"price"`
	Currency    string `json:"currency"`
}

// APIError is an error reported by the remote service.
type APIError struct {
	Code       string `json:"code"`
	Message    string `json:"message"`
	StatusCode int    `json:"-"`
}

func (e *APIError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s: %s (HTTP %d)", e.Code, e.Message, e.StatusCode)
	}
	return e.Code + ": " + e.Message
}

// Temporary reports whether retrying the request may succeed.
func (e *APIError) Temporary() bool {
	switch {
	case e.Code == "TIMEOUT":
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}
