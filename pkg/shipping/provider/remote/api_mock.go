package remote

import (
	"context"
	"sync/atomic"
	"time"
)

// MockAPIClient is an in-process APIClient.
type MockAPIClient struct {
	SimulateErrors  bool
	SimulateLatency time.Duration

	OnGetRates func(ctx context.Context, req *RatesRequest) (*RatesResponse, error)

	calls atomic.Int64
}

// NewMockAPIClient creates a mock API client with default behavior.
func NewMockAPIClient() *MockAPIClient {
	return &MockAPIClient{}
}

// Calls returns the number of GetRates calls.
func (m *MockAPIClient) Calls() int {
	return int(m.calls.Load())
}

// GetRates returns two canned services.
func (m *MockAPIClient) GetRates(ctx context.Context, req *RatesRequest) (*RatesResponse, error) {
	m.calls.Add(1)

	if m.SimulateLatency > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(m.SimulateLatency):
		}
	}

	if m.SimulateErrors {
		return nil, &APIError{Code: "MOCK_ERROR", Message: "simulated API error"}
	}

	if m.OnGetRates != nil {
		return m.OnGetRates(ctx, req)
	}

	return &RatesResponse{
		RequestID: req.RequestID,
		Status:    "complete",
		Rates: []Rate{
			{ServiceCode: "ground", ServiceName: "Ground", Price: "12.50", Currency: "USD"},
			{ServiceCode: "express", ServiceName: "Express", Price: "24.00", Currency: "USD"},
		},
	}, nil
}

var _ APIClient = (*MockAPIClient)(nil)
