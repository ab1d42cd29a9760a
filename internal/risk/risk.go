// Package risk scores requests for adaptive security decisions. The gateway
// records the score but never blocks on it alone.
package risk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"
)

// fallbackScore is returned whenever the scoring backend is unavailable or
// misbehaves, biasing failures toward admitting traffic.
const fallbackScore = 0.1

// Features is the request-derived input vector for scoring.
type Features struct {
	Method        string  `json:"method"`
	Path          string  `json:"path"`
	BodyBytes     int     `json:"body_bytes"`
	QueryLength   int     `json:"query_length"`
	PathEntropy   float64 `json:"path_entropy"`
	ClientRole    string  `json:"client_role"`
	Authenticated bool    `json:"authenticated"`
}

// Scorer produces a risk score in [0, 1].
type Scorer interface {
	Score(ctx context.Context, f Features) float64
}

// NullScorer is the scorer used when no model endpoint is configured.
type NullScorer struct{}

func (NullScorer) Score(context.Context, Features) float64 { return fallbackScore }

// RemoteScorer calls an external model-serving endpoint. Any failure yields
// the fallback score.
type RemoteScorer struct {
	url    string
	client *http.Client
	log    *slog.Logger
}

// NewRemoteScorer builds a scorer against the configured endpoint, or a
// NullScorer when none is set.
func NewRemoteScorer(url string, log *slog.Logger) Scorer {
	if url == "" {
		return NullScorer{}
	}
	return &RemoteScorer{
		url:    url,
		client: &http.Client{Timeout: 2 * time.Second},
		log:    log,
	}
}

func (s *RemoteScorer) Score(ctx context.Context, f Features) float64 {
	payload, err := json.Marshal(f)
	if err != nil {
		return s.fallback(err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.url, bytes.NewReader(payload))
	if err != nil {
		return s.fallback(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return s.fallback(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return s.fallback(fmt.Errorf("scorer returned status %d", resp.StatusCode))
	}

	var out struct {
		Score float64 `json:"score"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return s.fallback(err)
	}
	if out.Score < 0 || out.Score > 1 {
		return s.fallback(fmt.Errorf("scorer returned out-of-range score %f", out.Score))
	}
	return out.Score
}

func (s *RemoteScorer) fallback(err error) float64 {
	if s.log != nil {
		s.log.Warn("risk score calculation failed",
			slog.String("agent", "risk"),
			slog.String("error", err.Error()),
		)
	}
	return fallbackScore
}
