package ipintel

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClient_DecodesProviderResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/ip/203.0.113.7", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"country":"DE","isp":"ExampleNet","is_vpn":true,"fraud_score":42.5}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "test-key", time.Second, zap.NewNop())

	intel, err := client.GetIPIntelligence(context.Background(), "203.0.113.7")
	require.NoError(t, err)
	require.Equal(t, "DE", intel.Country)
	require.Equal(t, "ExampleNet", intel.ISP)
	require.True(t, intel.IsVpn)
	require.False(t, intel.IsProxy)
	require.InDelta(t, 42.5, intel.FraudScore, 1e-9)
}

func TestClient_Non200IsAnError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second, zap.NewNop())

	_, err := client.GetIPIntelligence(context.Background(), "203.0.113.7")
	require.Error(t, err)
}

func TestClient_CallerDeadlineBoundsSlowProvider(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		time.Sleep(300 * time.Millisecond)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client := NewClient(srv.URL, "", time.Second, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := client.GetIPIntelligence(ctx, "203.0.113.7")
	require.Error(t, err)
}

func TestClient_UnconfiguredProvider(t *testing.T) {
	client := NewClient("", "", time.Second, zap.NewNop())

	_, err := client.GetIPIntelligence(context.Background(), "203.0.113.7")
	require.Error(t, err)
}
