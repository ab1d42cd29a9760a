package gateway

import (
	"net/http"
	"net/url"
	"sort"

	"golang.org/x/sync/errgroup"
)

type serviceHealth struct {
	Service string `json:"service"`
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

type healthReport struct {
	OverallStatus string          `json:"overall_status"`
	Services      []serviceHealth `json:"services"`
}

// handleHealth reports the gateway's own dependencies: the shared cache,
// the behavioral profiler, and every backend host referenced by an
// aggregation endpoint.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	b := g.bundle.Load()

	var services []serviceHealth

	switch {
	case g.store == nil:
		services = append(services, serviceHealth{Service: "cache", Status: "disabled"})
	default:
		kind := "in-memory"
		if g.store.Shared() {
			kind = "redis"
		}
		entry := serviceHealth{Service: "cache", Status: "ok", Details: kind}
		if err := g.store.Ping(r.Context()); err != nil {
			entry.Status = "error"
			entry.Details = err.Error()
		}
		services = append(services, entry)
	}

	profiler := serviceHealth{Service: "behavioral_profiler", Status: "ok"}
	if b.profiler.Degraded() {
		profiler.Status = "degraded"
		profiler.Details = "no shared store; behavioral analysis is disabled"
	}
	services = append(services, profiler)

	hosts := aggregationHosts(b)
	if len(hosts) > 0 {
		probes := make([]serviceHealth, len(hosts))
		grp, ctx := errgroup.WithContext(r.Context())
		for i, host := range hosts {
			grp.Go(func() error {
				entry := serviceHealth{Service: host, Status: "ok"}
				req, err := http.NewRequestWithContext(ctx, http.MethodHead, host, nil)
				if err != nil {
					entry.Status = "error"
					entry.Details = err.Error()
				} else if resp, err := g.healthClient.Do(req); err != nil {
					entry.Status = "error"
					entry.Details = "unreachable"
				} else {
					resp.Body.Close()
					if resp.StatusCode >= http.StatusInternalServerError {
						entry.Status = "error"
						entry.Details = resp.Status
					}
				}
				probes[i] = entry
				return nil
			})
		}
		_ = grp.Wait()
		services = append(services, probes...)
	}

	report := healthReport{OverallStatus: "ok", Services: services}
	status := http.StatusOK
	for _, svc := range services {
		if svc.Status == "error" {
			report.OverallStatus = "degraded"
			status = http.StatusServiceUnavailable
			break
		}
	}
	respondJSON(w, status, report)
}

// aggregationHosts collects the distinct scheme://host roots of every
// backend an aggregation endpoint fans out to.
func aggregationHosts(b *bundle) []string {
	seen := make(map[string]struct{})
	for _, agg := range b.settings.Aggregations {
		for _, q := range agg.Queries {
			u, err := url.Parse(q.BackendURL)
			if err != nil || u.Host == "" {
				continue
			}
			root := u.Scheme + "://" + u.Host
			seen[root] = struct{}{}
		}
	}
	hosts := make([]string, 0, len(seen))
	for host := range seen {
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	return hosts
}
