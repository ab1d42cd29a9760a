package inspect

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegisgate/aegisgate/internal/config"
)

func reputationServer(t *testing.T, score int, wantKey string) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, wantKey, r.Header.Get("Key"))
		require.NotEmpty(t, r.URL.Query().Get("ipAddress"))
		require.Equal(t, "90", r.URL.Query().Get("maxAgeInDays"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"data":{"abuseConfidenceScore":%d}}`, score)
	}))
}

func TestListedAddressIsForbidden(t *testing.T) {
	srv := reputationServer(t, 100, "intel-key")
	defer srv.Close()

	ti := NewThreatIntel(config.ThreatIntelConfig{
		APIKey: "intel-key", URL: srv.URL,
		ConfidenceMinimum: 95, MaxAgeDays: 90,
	}, nil, nil)

	v := ti.Inspect(context.Background(), &State{Peer: "198.51.100.7"})
	require.NotNil(t, v)
	require.Equal(t, http.StatusForbidden, v.Status)
	require.Contains(t, v.Detail, "listed")
}

func TestLowConfidenceAdmits(t *testing.T) {
	srv := reputationServer(t, 10, "intel-key")
	defer srv.Close()

	ti := NewThreatIntel(config.ThreatIntelConfig{
		APIKey: "intel-key", URL: srv.URL,
		ConfidenceMinimum: 95, MaxAgeDays: 90,
	}, nil, nil)

	require.Nil(t, ti.Inspect(context.Background(), &State{Peer: "198.51.100.7"}))
}

func TestProviderOutageFailsOpen(t *testing.T) {
	srv := reputationServer(t, 100, "intel-key")
	srv.Close() // connection refused from here on

	ti := NewThreatIntel(config.ThreatIntelConfig{
		APIKey: "intel-key", URL: srv.URL,
		ConfidenceMinimum: 95, MaxAgeDays: 90,
	}, nil, nil)

	require.Nil(t, ti.Inspect(context.Background(), &State{Peer: "198.51.100.7"}))
}

func TestUnconfiguredProviderIsPassThrough(t *testing.T) {
	ti := NewThreatIntel(config.ThreatIntelConfig{}, nil, nil)
	require.Nil(t, ti.Inspect(context.Background(), &State{Peer: "198.51.100.7"}))
}
