package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"regexp"

	"github.com/gobwas/glob"

	"github.com/aegisgate/aegisgate/internal/config"
	"github.com/aegisgate/aegisgate/internal/expr"
)

// graphql cost heuristic: every `: name {` or ` name {` token counts one
// selection. Aliased selections are under-counted; accepted.
var costToken = regexp.MustCompile(`[:\s]\w+\s*\{`)

type compiledRule struct {
	rule      config.InspectionRule
	path      glob.Glob
	pattern   *regexp.Regexp
	condition *expr.Program
}

// PayloadInspector runs the signature sweep and the declarative rule set
// against each request's query string and body.
type PayloadInspector struct {
	signatures []signature
	rules      []compiledRule
	schemas    *SchemaRegistry
	audit      *slog.Logger
}

// NewPayloadInspector compiles the rule set once. Compilation failures are
// configuration errors and abort startup.
func NewPayloadInspector(rules []config.InspectionRule, schemas *SchemaRegistry, env *expr.Environment, audit *slog.Logger) (*PayloadInspector, error) {
	p := &PayloadInspector{
		signatures: compileSignatures(),
		schemas:    schemas,
		audit:      audit,
	}
	for _, rule := range rules {
		compiled := compiledRule{rule: rule}

		pathPattern := rule.PathPattern
		if pathPattern == "" {
			pathPattern = "*"
		}
		g, err := glob.Compile(pathPattern)
		if err != nil {
			return nil, fmt.Errorf("inspect: rule %q path pattern: %w", rule.Name, err)
		}
		compiled.path = g

		if rule.Type == config.RuleTypePattern {
			re, err := regexp.Compile(rule.Pattern)
			if err != nil {
				return nil, fmt.Errorf("inspect: rule %q pattern: %w", rule.Name, err)
			}
			compiled.pattern = re
		}

		if rule.Condition != "" {
			if env == nil {
				return nil, fmt.Errorf("inspect: rule %q has a condition but no expression environment", rule.Name)
			}
			program, err := env.Compile(rule.Condition)
			if err != nil {
				return nil, fmt.Errorf("inspect: rule %q condition: %w", rule.Name, err)
			}
			compiled.condition = &program
		}

		if rule.Type == config.RuleTypeSchema && !schemas.Known(rule.BodySchema) {
			return nil, fmt.Errorf("inspect: rule %q references unknown schema %q", rule.Name, rule.BodySchema)
		}

		p.rules = append(p.rules, compiled)
	}
	return p, nil
}

func (p *PayloadInspector) Name() string { return "payload_waf" }

// Inspect canonicalizes the request, sweeps the curated signature set, and
// then applies every matching declarative rule in order.
func (p *PayloadInspector) Inspect(_ context.Context, st *State) *Violation {
	canonicalQuery := Canonicalize(st.RawQuery)
	canonicalBody := Canonicalize(string(st.Body))

	if v := p.sweepSignatures(canonicalQuery, "query parameters"); v != nil {
		return v
	}
	if v := p.sweepSignatures(canonicalBody, "request body"); v != nil {
		return v
	}

	for i := range p.rules {
		if v := p.applyRule(&p.rules[i], st, canonicalQuery, canonicalBody); v != nil {
			return v
		}
	}
	return nil
}

func (p *PayloadInspector) sweepSignatures(text, location string) *Violation {
	if text == "" {
		return nil
	}
	for _, sig := range p.signatures {
		if sig.pattern.MatchString(text) {
			if p.audit != nil {
				p.audit.Error("WAF_SIGNATURE_VIOLATION",
					slog.String("agent", "payload_waf"),
					slog.String("family", sig.family),
					slog.String("pattern", sig.pattern.String()),
					slog.String("location", location),
				)
			}
			return NewViolation("payload_waf", http.StatusForbidden,
				fmt.Sprintf("malicious signature detected in %s", location))
		}
	}
	return nil
}

func (p *PayloadInspector) applyRule(cr *compiledRule, st *State, canonicalQuery, canonicalBody string) *Violation {
	if !cr.path.Match(st.Path) {
		return nil
	}
	if !methodAllowed(cr.rule.Methods, st.Method) {
		return nil
	}
	if cr.condition != nil {
		matched, err := cr.condition.EvalBool(map[string]any{
			"request": map[string]any{"method": st.Method, "path": st.Path, "query": st.RawQuery},
			"client":  map[string]any{"id": st.ClientID, "role": st.ClientRole},
			"claims":  st.Claims,
		})
		if err != nil {
			if p.audit != nil {
				p.audit.Warn("rule condition evaluation failed",
					slog.String("agent", "payload_waf"),
					slog.String("rule", cr.rule.Name),
					slog.String("error", err.Error()),
				)
			}
			return nil
		}
		if !matched {
			return nil
		}
	}

	switch cr.rule.Type {
	case config.RuleTypeSchema:
		if err := p.schemas.Validate(cr.rule.BodySchema, st.Body); err != nil {
			if p.audit != nil {
				p.audit.Warn("WAF_SCHEMA_VIOLATION",
					slog.String("agent", "payload_waf"),
					slog.String("rule", cr.rule.Name),
					slog.String("error", err.Error()),
				)
			}
			return NewViolation("payload_waf", http.StatusUnprocessableEntity,
				fmt.Sprintf("invalid request body format: %v", err))
		}
	case config.RuleTypePattern:
		if locationEnabled(cr.rule.InspectLocations, "body") && cr.pattern.MatchString(canonicalBody) {
			return p.ruleViolation(cr, "request body")
		}
		if locationEnabled(cr.rule.InspectLocations, "query_params") && cr.pattern.MatchString(canonicalQuery) {
			return p.ruleViolation(cr, "query parameters")
		}
	case config.RuleTypeGraphQLDepth:
		if cr.rule.MaxDepth <= 0 {
			return nil
		}
		var doc any
		if err := json.Unmarshal(st.Body, &doc); err != nil {
			return nil
		}
		if depth := jsonDepth(doc); depth > cr.rule.MaxDepth {
			return p.ruleViolation(cr, fmt.Sprintf("GraphQL query depth (%d)", depth))
		}
	case config.RuleTypeGraphQLCost:
		if cr.rule.MaxCost <= 0 || !locationEnabled(cr.rule.InspectLocations, "body") {
			return nil
		}
		if cost := len(costToken.FindAllString(canonicalBody, -1)); cost > cr.rule.MaxCost {
			return p.ruleViolation(cr, fmt.Sprintf("GraphQL query cost (%d)", cost))
		}
	}
	return nil
}

func (p *PayloadInspector) ruleViolation(cr *compiledRule, location string) *Violation {
	if p.audit != nil {
		p.audit.Error("WAF_VIOLATION",
			slog.String("agent", "payload_waf"),
			slog.String("rule", cr.rule.Name),
			slog.String("location", location),
		)
	}
	if cr.rule.Action == config.ActionBlock {
		return NewViolation("payload_waf", http.StatusForbidden, "malicious content detected")
	}
	return nil
}

// jsonDepth reports the maximum nesting of containers; scalars contribute
// nothing, maps and lists count equally.
func jsonDepth(v any) int {
	switch t := v.(type) {
	case map[string]any:
		deepest := 0
		for _, child := range t {
			if d := jsonDepth(child); d > deepest {
				deepest = d
			}
		}
		return deepest + 1
	case []any:
		deepest := 0
		for _, child := range t {
			if d := jsonDepth(child); d > deepest {
				deepest = d
			}
		}
		return deepest + 1
	default:
		return 0
	}
}

func methodAllowed(methods []string, method string) bool {
	if len(methods) == 0 {
		return true
	}
	for _, m := range methods {
		if m == "*" || m == method {
			return true
		}
	}
	return false
}

func locationEnabled(locations []string, location string) bool {
	for _, l := range locations {
		if l == location {
			return true
		}
	}
	return false
}
