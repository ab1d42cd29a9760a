package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	kjson "github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Loader hydrates the runtime configuration while respecting env > file >
// default precedence. Secrets come exclusively from the environment; the
// policy document supplies everything else.
type Loader struct {
	envPrefix string
	files     []string
}

// NewLoader prepares a config hydrator that honors the env-first contract
// before touching files or defaults.
func NewLoader(envPrefix string, files ...string) *Loader {
	return &Loader{
		envPrefix: envPrefix,
		files:     files,
	}
}

// Load assembles the effective snapshot: defaults, then the policy file,
// then environment overrides, then the secret passthrough names the
// deployment contract documents (JWT_SECRET_KEY, API_CLIENTS_JSON,
// REDIS_URL).
func (l *Loader) Load(ctx context.Context) (Settings, error) {
	k := koanf.New(".")

	if err := k.Load(confmap.Provider(defaultsMap(DefaultSettings()), "."), nil); err != nil {
		return Settings{}, fmt.Errorf("config: load defaults: %w", err)
	}

	for _, path := range l.files {
		if path == "" {
			continue
		}
		select {
		case <-ctx.Done():
			return Settings{}, ctx.Err()
		default:
		}
		if _, err := os.Stat(path); err != nil {
			if errors.Is(err, os.ErrNotExist) {
				return Settings{}, fmt.Errorf("config: file %s not found", path)
			}
			return Settings{}, fmt.Errorf("config: stat %s: %w", path, err)
		}
		if err := k.Load(file.Provider(path), parserFor(path)); err != nil {
			return Settings{}, fmt.Errorf("config: load file %s: %w", path, err)
		}
	}

	if l.envPrefix != "" {
		transform := func(s string) string {
			// Double underscores signal nesting (SERVER__LISTEN__PORT ->
			// server.listen.port); single underscores collapse.
			key := strings.TrimPrefix(s, l.envPrefix+"_")
			key = strings.ReplaceAll(key, "__", ".")
			key = strings.ReplaceAll(key, "_", "")
			return strings.ToLower(key)
		}
		if err := k.Load(env.Provider(l.envPrefix, ".", transform), nil); err != nil {
			return Settings{}, fmt.Errorf("config: load env: %w", err)
		}
	}

	secrets := map[string]any{}
	if v := os.Getenv("JWT_SECRET_KEY"); v != "" {
		secrets["jwtsecretkey"] = v
	}
	if v := os.Getenv("API_CLIENTS_JSON"); v != "" {
		secrets["apiclientsjson"] = v
	}
	if v := os.Getenv("REDIS_URL"); v != "" {
		secrets["redisurl"] = v
	}
	if len(secrets) > 0 {
		if err := k.Load(confmap.Provider(secrets, "."), nil); err != nil {
			return Settings{}, fmt.Errorf("config: load secrets: %w", err)
		}
	}

	var cfg Settings
	if err := k.Unmarshal("", &cfg); err != nil {
		return Settings{}, fmt.Errorf("config: unmarshal: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Settings{}, err
	}

	clients, err := ParseClients(cfg.APIClientsJSON)
	if err != nil {
		return Settings{}, err
	}
	cfg.Clients = clients
	return cfg, nil
}

// ParseClients decodes the API_CLIENTS_JSON table into the immutable client
// list the identity resolver serves from.
func ParseClients(raw string) ([]ApiClient, error) {
	var clients []ApiClient
	if err := json.Unmarshal([]byte(raw), &clients); err != nil {
		return nil, fmt.Errorf("config: parse API_CLIENTS_JSON: %w", err)
	}
	seen := make(map[string]struct{}, len(clients))
	for i, c := range clients {
		if strings.TrimSpace(c.ClientID) == "" {
			return nil, fmt.Errorf("config: api client %d missing client_id", i)
		}
		if strings.TrimSpace(c.APIKey) == "" {
			return nil, fmt.Errorf("config: api client %q missing api_key", c.ClientID)
		}
		if _, dup := seen[c.APIKey]; dup {
			return nil, fmt.Errorf("config: api client %q reuses an api_key", c.ClientID)
		}
		seen[c.APIKey] = struct{}{}
	}
	return clients, nil
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return kjson.Parser()
	case ".toml":
		return toml.Parser()
	default:
		return yaml.Parser()
	}
}

// defaultsMap converts DefaultSettings into a map for the koanf confmap
// provider.
func defaultsMap(cfg Settings) map[string]any {
	return map[string]any{
		"server": map[string]any{
			"listen": map[string]any{
				"address": cfg.Server.Listen.Address,
				"port":    cfg.Server.Listen.Port,
			},
			"logging": map[string]any{
				"level":  cfg.Server.Logging.Level,
				"format": cfg.Server.Logging.Format,
			},
		},
		"threat_intel": map[string]any{
			"url":                cfg.ThreatIntel.URL,
			"confidence_minimum": cfg.ThreatIntel.ConfidenceMinimum,
			"max_age_days":       cfg.ThreatIntel.MaxAgeDays,
		},
		"behavioral_analysis": map[string]any{
			"enforce_header_consistency": cfg.BehavioralAnalysis.EnforceHeaderConsistency,
			"max_path_entropy":           cfg.BehavioralAnalysis.MaxPathEntropy,
		},
		"aggregation_cache": map[string]any{
			"ttl_seconds": cfg.AggregationCache.TTLSeconds,
		},
	}
}
