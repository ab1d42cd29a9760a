package config

import (
	"errors"
	"fmt"
	"strings"
)

// Settings holds every server-level option plus the declarative policy
// sections that drive the inspection pipeline, the redaction path, and the
// aggregation engine. The value is frozen after Load returns.
type Settings struct {
	Server ServerConfig `koanf:"server"`

	BackendTargetURL string `koanf:"backend_target_url"`
	AuthBackendURL   string `koanf:"auth_backend_url"`

	ThreatIntel        ThreatIntelConfig   `koanf:"threat_intel"`
	APIDiscovery       APIDiscoveryConfig  `koanf:"api_discovery"`
	BehavioralAnalysis BehavioralConfig    `koanf:"behavioral_analysis"`
	SecureEnclave      SecureEnclaveConfig `koanf:"secure_enclave"`
	RiskModel          RiskModelConfig     `koanf:"adaptive_security_model"`
	PiiEngine          PiiEngineConfig     `koanf:"pii_engine"`
	AggregationCache   AggregationCacheTTL `koanf:"aggregation_cache"`

	AuthorizationPolicies []AuthPolicy         `koanf:"authorization_policies"`
	InspectionRules       []InspectionRule     `koanf:"inspection_rules"`
	PiiScanPolicy         []PiiRedactionPolicy `koanf:"pii_scan_policy"`
	Aggregations          []Aggregation        `koanf:"aggregations"`

	// Environment-sourced secrets. Never present in the policy document.
	JWTSecretKey   string `koanf:"jwtsecretkey"`
	APIClientsJSON string `koanf:"apiclientsjson"`
	RedisURL       string `koanf:"redisurl"`

	// Clients is parsed from APIClientsJSON during Load; immutable afterwards.
	Clients []ApiClient `koanf:"-"`
}

// ServerConfig collects the bootstrap knobs owned by the lifecycle agent.
type ServerConfig struct {
	Listen  ListenConfig  `koanf:"listen"`
	Logging LoggingConfig `koanf:"logging"`
}

// ListenConfig instructs the HTTP listener about bind address and port.
type ListenConfig struct {
	Address string `koanf:"address"`
	Port    int    `koanf:"port"`
}

// LoggingConfig expresses log level and format for both the runtime and the
// audit channel.
type LoggingConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// ThreatIntelConfig wires the external IP reputation provider. An empty API
// key disables the inspector entirely.
type ThreatIntelConfig struct {
	APIKey            string `koanf:"api_key"`
	URL               string `koanf:"url"`
	ConfidenceMinimum int    `koanf:"confidence_minimum"`
	MaxAgeDays        int    `koanf:"max_age_days"`
}

// APIDiscoveryConfig drives the cartographer: where the official OpenAPI
// document lives and what to do when an undocumented endpoint shows up.
type APIDiscoveryConfig struct {
	OpenAPISpecURL        string `koanf:"openapi_spec_url"`
	OnShadowAPIDiscovered string `koanf:"on_shadow_api_discovered"`
}

// BehavioralConfig tunes the client profiler.
type BehavioralConfig struct {
	EnforceHeaderConsistency bool    `koanf:"enforce_header_consistency"`
	MaxPathEntropy           float64 `koanf:"max_path_entropy"`
}

// SecureEnclaveConfig gates startup on an attestation check.
type SecureEnclaveConfig struct {
	Provider           string `koanf:"provider"`
	RequireAttestation bool   `koanf:"require_attestation"`
}

// RiskModelConfig points at the optional ML risk scorer.
type RiskModelConfig struct {
	URL               string  `koanf:"url"`
	HighRiskThreshold float64 `koanf:"high_risk_threshold"`
}

// PiiEngineConfig points at the external PII recognizer. Empty URL means
// redaction is disabled (fail-open, logged once at startup).
type PiiEngineConfig struct {
	URL string `koanf:"url"`
}

// AggregationCacheTTL controls response caching for aggregation endpoints.
type AggregationCacheTTL struct {
	TTLSeconds int `koanf:"ttl_seconds"`
}

// ApiClient is one row of the startup client table, looked up by api_key.
type ApiClient struct {
	ClientID   string   `json:"client_id"`
	APIKey     string   `json:"api_key"`
	Role       string   `json:"role"`
	AllowedIPs []string `json:"allowed_ips"`
}

// AccessRule binds a path pattern to an optional owner-claim check.
type AccessRule struct {
	PathPattern       string   `koanf:"path_pattern"`
	Methods           []string `koanf:"methods"`
	EnforceOwnerClaim string   `koanf:"enforce_owner_claim"`
	OwnerPathParam    string   `koanf:"owner_path_param"`
}

// AuthPolicy applies its rules to clients whose role matches.
type AuthPolicy struct {
	Name  string            `koanf:"name"`
	Match map[string]string `koanf:"match"`
	Rules []AccessRule      `koanf:"rules"`
}

// InspectionRule is one declarative payload rule. The type selects the
// evaluation strategy; Condition optionally gates the rule with a CEL
// expression over the request snapshot.
type InspectionRule struct {
	Name             string   `koanf:"name"`
	Description      string   `koanf:"description"`
	Type             string   `koanf:"type"`
	Pattern          string   `koanf:"pattern"`
	MaxDepth         int      `koanf:"max_depth"`
	MaxCost          int      `koanf:"max_cost"`
	BodySchema       string   `koanf:"body_schema"`
	InspectLocations []string `koanf:"inspect_locations"`
	PathPattern      string   `koanf:"path_pattern"`
	Methods          []string `koanf:"methods"`
	Action           string   `koanf:"action"`
	Condition        string   `koanf:"condition"`
}

// PiiRedactionPolicy maps a role (or "*") to the PII entity types that must
// be scrubbed from proxied response bodies. First match wins.
type PiiRedactionPolicy struct {
	Role           string   `koanf:"role"`
	RedactEntities []string `koanf:"redact_entities"`
}

// Query is a single upstream call inside an aggregation. String values in
// BackendURL, Params, and Body may contain {scope.key} placeholders.
type Query struct {
	Name       string         `koanf:"name"`
	HTTPMethod string         `koanf:"http_method"`
	BackendURL string         `koanf:"backend_url"`
	Params     map[string]any `koanf:"params"`
	Body       map[string]any `koanf:"body"`
	Adapter    *QueryAdapter  `koanf:"adapter"`
}

// QueryAdapter selects and renames fields of a successful upstream response.
type QueryAdapter struct {
	Select []string          `koanf:"select"`
	Rename map[string]string `koanf:"rename"`
}

// Aggregation is one public BFF endpoint synthesized from parallel queries.
type Aggregation struct {
	PublicPath   string  `koanf:"public_path"`
	RequiredRole string  `koanf:"required_role"`
	Queries      []Query `koanf:"queries"`
}

const (
	// RuleTypePattern matches a compiled regex against the canonical input.
	RuleTypePattern = "pattern"
	// RuleTypeGraphQLDepth bounds the nesting depth of a JSON body.
	RuleTypeGraphQLDepth = "graphql_depth"
	// RuleTypeGraphQLCost bounds the approximate selection cost of a body.
	RuleTypeGraphQLCost = "graphql_cost"
	// RuleTypeSchema validates the raw body against a registered schema.
	RuleTypeSchema = "schema"

	// ActionBlock fails the request on a violation.
	ActionBlock = "block"
	// ActionLog records the violation and lets the request continue.
	ActionLog = "log"

	// ShadowPolicyBlock rejects requests to undocumented endpoints.
	ShadowPolicyBlock = "block"
	// ShadowPolicyLog only audits undocumented endpoints.
	ShadowPolicyLog = "log"

	// RoleAdmin is required for admin surface operations.
	RoleAdmin = "admin"
	// RoleAnonymous marks aggregations that accept callers without a token.
	RoleAnonymous = "mobile_guest"
)

// Validate enforces invariants that keep the runtime predictable before
// serving traffic. It returns the first problem found so startup fails with
// a single descriptive error.
func (s *Settings) Validate() error {
	if s == nil {
		return errors.New("config: nil")
	}
	if s.Server.Listen.Port <= 0 || s.Server.Listen.Port > 65535 {
		return fmt.Errorf("config: listen.port invalid: %d", s.Server.Listen.Port)
	}
	if strings.TrimSpace(s.JWTSecretKey) == "" {
		return errors.New("config: JWT_SECRET_KEY required")
	}
	if strings.TrimSpace(s.APIClientsJSON) == "" {
		return errors.New("config: API_CLIENTS_JSON required")
	}
	if s.BackendTargetURL == "" {
		return errors.New("config: backend_target_url required")
	}
	switch s.APIDiscovery.OnShadowAPIDiscovered {
	case "", ShadowPolicyLog, ShadowPolicyBlock:
	default:
		return fmt.Errorf("config: api_discovery.on_shadow_api_discovered unsupported: %s", s.APIDiscovery.OnShadowAPIDiscovered)
	}
	for i, rule := range s.InspectionRules {
		if err := validateInspectionRule(i, rule); err != nil {
			return err
		}
	}
	// The public path doubles as the aggregation's identity, in routing and
	// in response-cache keys; duplicates would alias each other's entries.
	seenPaths := make(map[string]struct{}, len(s.Aggregations))
	for i, agg := range s.Aggregations {
		if strings.TrimSpace(agg.PublicPath) == "" {
			return fmt.Errorf("config: aggregations[%d].public_path required", i)
		}
		if _, dup := seenPaths[agg.PublicPath]; dup {
			return fmt.Errorf("config: aggregations duplicate public_path %q", agg.PublicPath)
		}
		seenPaths[agg.PublicPath] = struct{}{}
		if len(agg.Queries) == 0 {
			return fmt.Errorf("config: aggregation %q has no queries", agg.PublicPath)
		}
		seen := make(map[string]struct{}, len(agg.Queries))
		for _, q := range agg.Queries {
			if strings.TrimSpace(q.Name) == "" {
				return fmt.Errorf("config: aggregation %q has an unnamed query", agg.PublicPath)
			}
			if _, dup := seen[q.Name]; dup {
				return fmt.Errorf("config: aggregation %q duplicates query %q", agg.PublicPath, q.Name)
			}
			seen[q.Name] = struct{}{}
			if strings.TrimSpace(q.BackendURL) == "" {
				return fmt.Errorf("config: aggregation %q query %q missing backend_url", agg.PublicPath, q.Name)
			}
		}
	}
	if s.AggregationCache.TTLSeconds < 0 {
		return fmt.Errorf("config: aggregation_cache.ttl_seconds invalid: %d", s.AggregationCache.TTLSeconds)
	}
	return nil
}

func validateInspectionRule(i int, rule InspectionRule) error {
	if strings.TrimSpace(rule.Name) == "" {
		return fmt.Errorf("config: inspection_rules[%d].name required", i)
	}
	switch rule.Action {
	case ActionBlock, ActionLog:
	default:
		return fmt.Errorf("config: rule %q action unsupported: %s", rule.Name, rule.Action)
	}
	switch rule.Type {
	case RuleTypePattern:
		if rule.Pattern == "" {
			return fmt.Errorf("config: rule %q requires a pattern", rule.Name)
		}
	case RuleTypeGraphQLDepth:
		if rule.MaxDepth <= 0 {
			return fmt.Errorf("config: rule %q requires max_depth", rule.Name)
		}
	case RuleTypeGraphQLCost:
		if rule.MaxCost <= 0 {
			return fmt.Errorf("config: rule %q requires max_cost", rule.Name)
		}
	case RuleTypeSchema:
		if rule.BodySchema == "" {
			return fmt.Errorf("config: rule %q requires body_schema", rule.Name)
		}
	default:
		return fmt.Errorf("config: rule %q type unsupported: %s", rule.Name, rule.Type)
	}
	for _, loc := range rule.InspectLocations {
		switch loc {
		case "body", "query_params":
		default:
			return fmt.Errorf("config: rule %q inspect location unsupported: %s", rule.Name, loc)
		}
	}
	return nil
}

// RedactionPolicyFor returns the first redaction policy matching the role,
// honoring the "*" wildcard. Nil means no redaction for this role.
func (s *Settings) RedactionPolicyFor(role string) *PiiRedactionPolicy {
	for i := range s.PiiScanPolicy {
		p := &s.PiiScanPolicy[i]
		if p.Role == "*" || p.Role == role {
			return p
		}
	}
	return nil
}

// DefaultSettings returns the baseline values that align with the design
// defaults. Policy sections default to empty: an unconfigured inspector is a
// pass-through.
func DefaultSettings() Settings {
	return Settings{
		Server: ServerConfig{
			Listen: ListenConfig{
				Address: "0.0.0.0",
				Port:    8080,
			},
			Logging: LoggingConfig{
				Level:  "info",
				Format: "json",
			},
		},
		ThreatIntel: ThreatIntelConfig{
			URL:               "https://api.abuseipdb.com/api/v2/check",
			ConfidenceMinimum: 95,
			MaxAgeDays:        90,
		},
		BehavioralAnalysis: BehavioralConfig{
			MaxPathEntropy: 4.0,
		},
		AggregationCache: AggregationCacheTTL{
			TTLSeconds: 60,
		},
	}
}
