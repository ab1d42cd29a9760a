package gateway

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/aegisgate/aegisgate/internal/config"
	"github.com/aegisgate/aegisgate/internal/identity"
)

// maxSpecBytes bounds the admin payload; OpenAPI documents beyond this are
// misconfigurations, not specs.
const maxSpecBytes = 8 << 20

// handleAdminSpec hot-swaps the cartographer's documented endpoint set from
// a pushed OpenAPI document (YAML or JSON).
func (g *Gateway) handleAdminSpec(w http.ResponseWriter, r *http.Request) {
	b := g.bundle.Load()

	client, v := b.resolver.ResolveClient(r)
	if v != nil {
		g.auditBlocked("", identity.PeerAddress(r), v)
		respondDetail(w, v.Status, v.Detail)
		return
	}
	if client.Role != config.RoleAdmin {
		respondDetail(w, http.StatusForbidden, "this action requires admin privileges")
		if g.audit != nil {
			g.audit.Error("ADMIN_ACCESS_DENIED",
				slog.String("agent", "admin"),
				slog.String("client_id", client.ClientID),
				slog.String("peer", identity.PeerAddress(r)),
			)
		}
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxSpecBytes))
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, "could not read spec payload")
		return
	}
	if len(body) == 0 {
		respondDetail(w, http.StatusBadRequest, "spec payload required")
		return
	}

	if err := g.carto.LoadFromBytes(body); err != nil {
		respondDetail(w, http.StatusBadRequest,
			fmt.Sprintf("invalid OpenAPI spec: %v", err))
		return
	}

	if err := b.engine.PurgeCache(r.Context()); err != nil && g.log != nil {
		g.log.Warn("aggregation cache purge after spec update failed",
			slog.String("agent", "admin"),
			slog.String("error", err.Error()),
		)
	}

	message := fmt.Sprintf("cartographer re-initialized with %d known endpoints", g.carto.KnownCount())
	if g.audit != nil {
		g.audit.Warn("API_SPEC_UPDATED",
			slog.String("agent", "admin"),
			slog.String("client_id", client.ClientID),
			slog.Int("known_endpoints", g.carto.KnownCount()),
		)
	}
	respondJSON(w, http.StatusOK, map[string]string{"status": "success", "message": message})
}
