package redact

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegisgate/aegisgate/internal/config"
)

type stubRecognizer struct {
	spans []Span
	err   error
	calls int
}

func (s *stubRecognizer) Available() bool { return true }

func (s *stubRecognizer) Analyze(_ context.Context, _ string, _ []string) ([]Span, error) {
	s.calls++
	return s.spans, s.err
}

func testPolicies() []config.PiiRedactionPolicy {
	return []config.PiiRedactionPolicy{
		{Role: "customer", RedactEntities: []string{"EMAIL_ADDRESS", "PHONE_NUMBER"}},
		{Role: "*", RedactEntities: []string{"EMAIL_ADDRESS"}},
	}
}

func TestPurifyReplacesRecognizedSpans(t *testing.T) {
	body := `{"email":"alice@example.com"}`
	rec := &stubRecognizer{spans: []Span{{Start: 10, End: 27}}}
	tr := NewTransformer(testPolicies(), rec, nil, nil)

	out := tr.Purify(context.Background(), "customer", []byte(body))
	require.Equal(t, `{"email":"[REDACTED]"}`, string(out))
}

func TestPurifyFirstMatchingPolicyWins(t *testing.T) {
	rec := &stubRecognizer{}
	tr := NewTransformer(testPolicies(), rec, nil, nil)

	tr.Purify(context.Background(), "partner", []byte("body"))
	require.Equal(t, 1, rec.calls) // wildcard policy applies

	tr2 := NewTransformer([]config.PiiRedactionPolicy{{Role: "admin", RedactEntities: nil}}, rec, nil, nil)
	out := tr2.Purify(context.Background(), "customer", []byte("body"))
	require.Equal(t, "body", string(out))
	require.Equal(t, 1, rec.calls) // no policy for customer, recognizer not consulted
}

func TestPurifyAnalyzerErrorReturnsBodyUnchanged(t *testing.T) {
	rec := &stubRecognizer{err: errors.New("analyzer down")}
	tr := NewTransformer(testPolicies(), rec, nil, nil)

	body := []byte(`{"email":"alice@example.com"}`)
	require.Equal(t, body, tr.Purify(context.Background(), "customer", body))
}

func TestPurifyDisabledRecognizerIsPassthrough(t *testing.T) {
	tr := NewTransformer(testPolicies(), NewHTTPRecognizer(""), nil, nil)

	body := []byte(`{"email":"alice@example.com"}`)
	require.Equal(t, body, tr.Purify(context.Background(), "customer", body))
}

func TestApplySpansHandlesMultipleAndInvalidSpans(t *testing.T) {
	text := "call 555-0100 or mail bob@example.com now"
	out := applySpans(text, []Span{
		{Start: 22, End: 37}, // bob@example.com
		{Start: 5, End: 13},  // 555-0100
		{Start: -3, End: 4},  // invalid, dropped
		{Start: 50, End: 60}, // out of range, dropped
	})
	require.Equal(t, "call [REDACTED] or mail [REDACTED] now", out)
}

func TestApplySpansUsesCharacterOffsets(t *testing.T) {
	// Analyzers report character positions; multibyte text before a span
	// must not shift the redacted range.
	text := "Zoë’s mail is alice@example.com"
	out := applySpans(text, []Span{{Start: 14, End: 31}})
	require.Equal(t, "Zoë’s mail is [REDACTED]", out)
}

func TestHTTPRecognizerRoundTrip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req analyzeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, "en", req.Language)
		require.Contains(t, req.Entities, "EMAIL_ADDRESS")

		idx := strings.Index(req.Text, "alice@example.com")
		w.Header().Set("Content-Type", "application/json")
		require.NoError(t, json.NewEncoder(w).Encode([]analyzeResult{
			{Start: idx, End: idx + len("alice@example.com")},
		}))
	}))
	defer srv.Close()

	tr := NewTransformer(testPolicies(), NewHTTPRecognizer(srv.URL), nil, nil)
	out := tr.Purify(context.Background(), "customer", []byte(`contact: alice@example.com`))
	require.Equal(t, "contact: [REDACTED]", string(out))
}

func TestHTTPRecognizerPropagatesServerErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	rec := NewHTTPRecognizer(srv.URL)
	_, err := rec.Analyze(context.Background(), "text", []string{"EMAIL_ADDRESS"})
	require.Error(t, err)
}
