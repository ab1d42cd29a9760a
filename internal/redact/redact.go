// Package redact removes PII from proxied response bodies according to the
// role-based scan policy. Entity recognition is delegated to an external
// analyzer service; when none is configured the transformer passes bodies
// through untouched.
package redact

import (
	"context"
	"log/slog"

	"github.com/aegisgate/aegisgate/internal/config"
)

const replacement = "[REDACTED]"

// Span marks one recognized entity in the analyzed text.
type Span struct {
	Start int
	End   int
}

// Recognizer finds PII entities of the requested types in text.
type Recognizer interface {
	Analyze(ctx context.Context, text string, entities []string) ([]Span, error)
	Available() bool
}

// Transformer applies the first matching redaction policy to response
// bodies.
type Transformer struct {
	policies   []config.PiiRedactionPolicy
	recognizer Recognizer
	audit      *slog.Logger
}

// NewTransformer builds the response transformer. A disabled recognizer is
// reported once at startup; per-request behavior is silent passthrough.
func NewTransformer(policies []config.PiiRedactionPolicy, recognizer Recognizer, log, audit *slog.Logger) *Transformer {
	if !recognizer.Available() && log != nil {
		log.Warn("PII engine unavailable, response redaction disabled",
			slog.String("agent", "transformer"))
	}
	return &Transformer{policies: policies, recognizer: recognizer, audit: audit}
}

// Purify redacts entities for the client's role from body. Recognizer
// failures return the body unchanged; losing redaction is preferable to
// losing traffic, and the startup warning already flagged the degradation.
func (t *Transformer) Purify(ctx context.Context, clientRole string, body []byte) []byte {
	if !t.recognizer.Available() || len(body) == 0 {
		return body
	}

	entities := t.entitiesFor(clientRole)
	if len(entities) == 0 {
		return body
	}

	text := string(body)
	spans, err := t.recognizer.Analyze(ctx, text, entities)
	if err != nil {
		if t.audit != nil {
			t.audit.Warn("PII analysis failed, returning body unchanged",
				slog.String("agent", "transformer"),
				slog.String("error", err.Error()),
			)
		}
		return body
	}
	if len(spans) == 0 {
		return body
	}

	redacted := applySpans(text, spans)
	if redacted != text && t.audit != nil {
		t.audit.Warn("PII_REDACTED",
			slog.String("agent", "transformer"),
			slog.String("role", clientRole),
			slog.Int("entities", len(spans)),
		)
	}
	return []byte(redacted)
}

// entitiesFor returns the redaction list of the first policy matching the
// role, with "*" as the wildcard.
func (t *Transformer) entitiesFor(role string) []string {
	for _, policy := range t.policies {
		if policy.Role == "*" || policy.Role == role {
			return policy.RedactEntities
		}
	}
	return nil
}

// applySpans replaces each span with the redaction marker, processing spans
// back-to-front so earlier offsets stay valid. Analyzer offsets count
// characters, not bytes, so the text is spliced as runes. Overlapping or
// out-of-range spans are dropped.
func applySpans(text string, spans []Span) string {
	runes := []rune(text)

	ordered := make([]Span, 0, len(spans))
	for _, s := range spans {
		if s.Start < 0 || s.End > len(runes) || s.Start >= s.End {
			continue
		}
		ordered = append(ordered, s)
	}
	// Insertion sort by start offset descending; span counts are tiny.
	for i := 1; i < len(ordered); i++ {
		for j := i; j > 0 && ordered[j].Start > ordered[j-1].Start; j-- {
			ordered[j], ordered[j-1] = ordered[j-1], ordered[j]
		}
	}

	marker := []rune(replacement)
	result := runes
	lastStart := len(runes) + 1
	for _, s := range ordered {
		if s.End > lastStart {
			continue
		}
		spliced := make([]rune, 0, len(result)-(s.End-s.Start)+len(marker))
		spliced = append(spliced, result[:s.Start]...)
		spliced = append(spliced, marker...)
		spliced = append(spliced, result[s.End:]...)
		result = spliced
		lastStart = s.Start
	}
	return string(result)
}
