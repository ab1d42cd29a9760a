package inspect

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/aegisgate/aegisgate/internal/config"
)

// ThreatIntel queries an external IP reputation provider for the request's
// peer address. Lookups fail open: an unreachable provider must not gate
// all traffic.
type ThreatIntel struct {
	cfg    config.ThreatIntelConfig
	client *http.Client
	log    *slog.Logger
	audit  *slog.Logger
}

// NewThreatIntel builds the inspector. With no API key configured it is a
// pass-through.
func NewThreatIntel(cfg config.ThreatIntelConfig, log, audit *slog.Logger) *ThreatIntel {
	return &ThreatIntel{
		cfg:    cfg,
		client: &http.Client{Timeout: 3 * time.Second},
		log:    log,
		audit:  audit,
	}
}

func (t *ThreatIntel) Name() string { return "threat_intel" }

type reputationResponse struct {
	Data struct {
		AbuseConfidenceScore int `json:"abuseConfidenceScore"`
	} `json:"data"`
}

func (t *ThreatIntel) Inspect(ctx context.Context, st *State) *Violation {
	if t.cfg.APIKey == "" || t.cfg.URL == "" {
		return nil
	}

	endpoint := fmt.Sprintf("%s?%s", t.cfg.URL, url.Values{
		"ipAddress":    []string{st.Peer},
		"maxAgeInDays": []string{strconv.Itoa(t.cfg.MaxAgeDays)},
	}.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		t.warn(err)
		return nil
	}
	req.Header.Set("Key", t.cfg.APIKey)
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		t.warn(err)
		return nil
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.warn(fmt.Errorf("reputation provider returned status %d", resp.StatusCode))
		return nil
	}

	var body reputationResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.warn(err)
		return nil
	}

	if body.Data.AbuseConfidenceScore >= t.cfg.ConfidenceMinimum {
		if t.audit != nil {
			t.audit.Error("IP_BLACKLISTED",
				slog.String("agent", "threat_intel"),
				slog.String("peer", st.Peer),
				slog.Int("confidence", body.Data.AbuseConfidenceScore),
			)
		}
		return NewViolation("threat_intel", http.StatusForbidden, "your IP address is listed as malicious")
	}
	return nil
}

func (t *ThreatIntel) warn(err error) {
	if t.log != nil {
		t.log.Warn("could not check IP reputation",
			slog.String("agent", "threat_intel"),
			slog.String("error", err.Error()),
		)
	}
}
