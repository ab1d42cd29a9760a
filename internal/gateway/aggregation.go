package gateway

import (
	"net/http"
	"time"

	"github.com/aegisgate/aegisgate/internal/aggregate"
	"github.com/aegisgate/aegisgate/internal/identity"
)

// handleAggregation serves one matched BFF endpoint.
func (g *Gateway) handleAggregation(w http.ResponseWriter, r *http.Request, b *bundle, ep *aggregate.Endpoint, pathParams map[string]string) {
	started := time.Now()

	client, v := b.resolver.ResolveClient(r)
	if v != nil {
		g.auditBlocked("", identity.PeerAddress(r), v)
		respondDetail(w, v.Status, v.Detail)
		return
	}

	claims, v := b.resolver.ResolveUser(r)
	if v != nil {
		g.auditBlocked(client.ClientID, identity.PeerAddress(r), v)
		respondDetail(w, v.Status, v.Detail)
		return
	}

	queryParams := make(map[string]string)
	for key, values := range r.URL.Query() {
		if len(values) > 0 {
			queryParams[key] = values[0]
		}
	}

	body, fromCache, violation := b.engine.Execute(r.Context(), ep, claims, pathParams, queryParams)
	if violation != nil {
		g.auditBlocked(client.ClientID, identity.PeerAddress(r), violation)
		if g.metrics != nil {
			g.metrics.ObserveAggregation(ep.PublicPath(), violation.Status, false, time.Since(started))
		}
		respondDetail(w, violation.Status, violation.Detail)
		return
	}

	if g.metrics != nil {
		g.metrics.ObserveAggregation(ep.PublicPath(), http.StatusOK, fromCache, time.Since(started))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(body)
}
