package inspect

import (
	"context"
	"log/slog"
	"math"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/aegisgate/aegisgate/internal/cache"
	"github.com/aegisgate/aegisgate/internal/config"
)

const (
	profileTTL        = time.Hour
	pathHistoryLength = 20
)

// Profiler keeps a short-lived behavioral profile per client in the shared
// cache: a header fingerprint captured on first contact and a bounded
// history of leading path segments scored by Shannon entropy.
//
// Profiles only make sense when every gateway instance sees the same state,
// so the profiler degrades to a no-op over an in-process store.
type Profiler struct {
	store cache.Store
	cfg   config.BehavioralConfig
	log   *slog.Logger

	warnOnce sync.Once
}

// NewProfiler wires the behavioral inspector over the configured store.
func NewProfiler(store cache.Store, cfg config.BehavioralConfig, log *slog.Logger) *Profiler {
	return &Profiler{store: store, cfg: cfg, log: log}
}

func (p *Profiler) Name() string { return "profiler" }

// Degraded reports whether profiling is disabled for lack of a shared
// store. Surfaced by the health endpoint.
func (p *Profiler) Degraded() bool {
	return p.store == nil || !p.store.Shared()
}

func (p *Profiler) Inspect(ctx context.Context, st *State) *Violation {
	if p.Degraded() {
		p.warnOnce.Do(func() {
			if p.log != nil {
				p.log.Warn("shared cache not configured, client profiling disabled",
					slog.String("agent", "profiler"))
			}
		})
		return nil
	}

	profileKey := "profile:" + st.ClientID
	historyKey := "profile:paths:" + st.ClientID
	fingerprint := st.Header.Get("User-Agent") + st.Header.Get("Accept-Language")

	stored, found, err := p.store.HGet(ctx, profileKey, "fingerprint")
	if err != nil {
		p.storeError(err)
		return nil
	}
	if !found {
		if err := p.store.HSetWithExpire(ctx, profileKey, map[string]string{"fingerprint": fingerprint}, profileTTL); err != nil {
			p.storeError(err)
		}
		return nil
	}

	if p.cfg.EnforceHeaderConsistency && stored != fingerprint {
		return NewViolation("profiler", http.StatusForbidden,
			"client fingerprint has changed, please re-authenticate")
	}

	segment := leadingSegment(st.Path)
	if err := p.store.ListPushTrimExpire(ctx, historyKey, segment, pathHistoryLength, profileTTL); err != nil {
		p.storeError(err)
		return nil
	}

	history, err := p.store.ListRange(ctx, historyKey, 0, -1)
	if err != nil {
		p.storeError(err)
		return nil
	}

	if entropy := shannonEntropy(history); entropy > p.cfg.MaxPathEntropy {
		return NewViolation("profiler", http.StatusForbidden,
			"suspicious browsing pattern detected (high entropy)")
	}
	return nil
}

// storeError logs and admits; a flaky cache must not take down traffic.
func (p *Profiler) storeError(err error) {
	if p.log != nil {
		p.log.Warn("profiler cache operation failed",
			slog.String("agent", "profiler"),
			slog.String("error", err.Error()),
		)
	}
}

func leadingSegment(path string) string {
	trimmed := strings.TrimPrefix(path, "/")
	if trimmed == "" {
		return "root"
	}
	if idx := strings.IndexByte(trimmed, '/'); idx >= 0 {
		trimmed = trimmed[:idx]
	}
	if trimmed == "" {
		return "root"
	}
	return trimmed
}

func shannonEntropy(items []string) float64 {
	if len(items) == 0 {
		return 0
	}
	frequency := make(map[string]int, len(items))
	for _, item := range items {
		frequency[item]++
	}
	entropy := 0.0
	total := float64(len(items))
	for _, count := range frequency {
		p := float64(count) / total
		entropy -= p * math.Log2(p)
	}
	return entropy
}
