package redact

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// HTTPRecognizer calls a presidio-style analyzer service: POST /analyze
// with {text, entities[], language}, receiving [{start, end, entity_type,
// score}].
type HTTPRecognizer struct {
	url    string
	client *http.Client
}

// NewHTTPRecognizer builds the analyzer client. An empty URL yields a
// recognizer that reports itself unavailable.
func NewHTTPRecognizer(url string) *HTTPRecognizer {
	return &HTTPRecognizer{
		url:    url,
		client: &http.Client{Timeout: 5 * time.Second},
	}
}

func (r *HTTPRecognizer) Available() bool { return r.url != "" }

type analyzeRequest struct {
	Text     string   `json:"text"`
	Entities []string `json:"entities"`
	Language string   `json:"language"`
}

type analyzeResult struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

func (r *HTTPRecognizer) Analyze(ctx context.Context, text string, entities []string) ([]Span, error) {
	if !r.Available() {
		return nil, nil
	}

	payload, err := json.Marshal(analyzeRequest{Text: text, Entities: entities, Language: "en"})
	if err != nil {
		return nil, fmt.Errorf("redact: encode analyze request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.url, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("redact: build analyze request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("redact: analyze call: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("redact: analyzer returned status %d", resp.StatusCode)
	}

	var results []analyzeResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		return nil, fmt.Errorf("redact: decode analyze response: %w", err)
	}

	spans := make([]Span, 0, len(results))
	for _, res := range results {
		spans = append(spans, Span{Start: res.Start, End: res.End})
	}
	return spans, nil
}
