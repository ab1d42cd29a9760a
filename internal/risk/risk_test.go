package risk

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNullScorerReturnsFixedLowScore(t *testing.T) {
	require.Equal(t, 0.1, NullScorer{}.Score(context.Background(), Features{}))
}

func TestNewRemoteScorerWithoutURLFallsBackToNull(t *testing.T) {
	s := NewRemoteScorer("", nil)
	require.IsType(t, NullScorer{}, s)
}

func TestRemoteScorerParsesModelResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"score": 0.73}`))
	}))
	defer srv.Close()

	s := NewRemoteScorer(srv.URL, nil)
	require.Equal(t, 0.73, s.Score(context.Background(), Features{Method: "POST", Path: "/api"}))
}

func TestRemoteScorerFailuresYieldFallback(t *testing.T) {
	cases := map[string]http.HandlerFunc{
		"server error": func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusInternalServerError)
		},
		"bad payload": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte("not json"))
		},
		"out of range": func(w http.ResponseWriter, _ *http.Request) {
			_, _ = w.Write([]byte(`{"score": 7.5}`))
		},
	}
	for name, handler := range cases {
		t.Run(name, func(t *testing.T) {
			srv := httptest.NewServer(handler)
			defer srv.Close()
			s := NewRemoteScorer(srv.URL, nil)
			require.Equal(t, 0.1, s.Score(context.Background(), Features{}))
		})
	}
}

func TestRemoteScorerUnreachableYieldsFallback(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(http.ResponseWriter, *http.Request) {}))
	srv.Close()

	s := NewRemoteScorer(srv.URL, nil)
	require.Equal(t, 0.1, s.Score(context.Background(), Features{}))
}
