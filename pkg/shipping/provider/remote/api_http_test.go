package remote_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/shiprate/pkg/shipping/provider/remote"
)

func newHTTPClient(url string) *remote.HTTPAPIClient {
	return remote.NewHTTPAPIClient(remote.HTTPAPIClientConfig{
		BaseURL:      url,
		APIKey:       "test-key",
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  time.Second,
	})
}

func TestHTTPAPIClient_SubmitAndPoll(t *testing.T) {
	var polls atomic.Int32
	mux := http.NewServeMux()
	mux.HandleFunc("POST /rates", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "test-key", r.Header.Get("X-API-Key"))
		var req remote.RatesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "req-1", req.RequestID)

		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(remote.RatesResponse{RequestID: "req-1", Status: "pending"})
	})
	mux.HandleFunc("GET /rates/req-1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 2 {
			_ = json.NewEncoder(w).Encode(remote.RatesResponse{RequestID: "req-1", Status: "pending"})
			return
		}
		_ = json.NewEncoder(w).Encode(remote.RatesResponse{
			RequestID: "req-1",
			Status:    "complete",
			Rates:     []remote.Rate{{ServiceCode: "ground", ServiceName: "Ground", Price: "11.00", Currency: "USD"}},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	resp, err := newHTTPClient(srv.URL).GetRates(context.Background(), &remote.RatesRequest{RequestID: "req-1"})
	require.NoError(t, err)
	assert.Equal(t, "complete", resp.Status)
	require.Len(t, resp.Rates, 1)
	assert.Equal(t, "11.00", resp.Rates[0].Price)
	assert.Equal(t, int32(2), polls.Load())
}

func TestHTTPAPIClient_ImmediateResult(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(remote.RatesResponse{Status: "complete", Rates: []remote.Rate{{ServiceCode: "x", Price: "1"}}})
	}))
	defer srv.Close()

	resp, err := newHTTPClient(srv.URL).GetRates(context.Background(), &remote.RatesRequest{})
	require.NoError(t, err)
	assert.Len(t, resp.Rates, 1)
}

func TestHTTPAPIClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(remote.RatesResponse{Status: "error", Error: "no carrier serves this zip"})
	}))
	defer srv.Close()

	_, err := newHTTPClient(srv.URL).GetRates(context.Background(), &remote.RatesRequest{})
	var apiErr *remote.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "RATE_ERROR", apiErr.Code)
	assert.Equal(t, "no carrier serves this zip", apiErr.Message)
}

func TestHTTPAPIClient_ParseError(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		code      string
		message   string
		temporary bool
	}{
		{"structured", http.StatusBadRequest, `{"code":"INVALID_ADDRESS","message":"bad zip"}`, "INVALID_ADDRESS", "bad zip", false},
		{"simple", http.StatusServiceUnavailable, `{"error":"maintenance"}`, "HTTP_503", "maintenance", true},
		{"plain text", http.StatusTooManyRequests, `slow down`, "HTTP_429", "slow down", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newHTTPClient(srv.URL).GetRates(context.Background(), &remote.RatesRequest{})
			var apiErr *remote.APIError
			require.ErrorAs(t, err, &apiErr)
			assert.Equal(t, tt.code, apiErr.Code)
			assert.Equal(t, tt.message, apiErr.Message)
			assert.Equal(t, tt.status, apiErr.StatusCode)
			assert.Equal(t, tt.temporary, apiErr.Temporary())
		})
	}
}

func TestHTTPAPIClient_PollTimeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(remote.RatesResponse{RequestID: "slow", Status: "pending"})
	}))
	defer srv.Close()

	client := remote.NewHTTPAPIClient(remote.HTTPAPIClientConfig{
		BaseURL:      srv.URL,
		PollInterval: 5 * time.Millisecond,
		PollTimeout:  30 * time.Millisecond,
	})
	_, err := client.GetRates(context.Background(), &remote.RatesRequest{})
	var apiErr *remote.APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, "TIMEOUT", apiErr.Code)
	assert.True(t, apiErr.Temporary())
}
