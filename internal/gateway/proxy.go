package gateway

import (
	"bytes"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aegisgate/aegisgate/internal/identity"
	"github.com/aegisgate/aegisgate/internal/inspect"
	"github.com/aegisgate/aegisgate/internal/risk"
)

// hopByHopHeaders is the RFC 7230 connection-scoped set plus the framing
// headers invalidated by body rewriting.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
	"Content-Length",
	"Content-Encoding",
}

// handleProxy runs the full inspection pipeline and forwards the request to
// the backend target.
func (g *Gateway) handleProxy(w http.ResponseWriter, r *http.Request, b *bundle) {
	started := time.Now()

	client, v := b.resolver.ResolveClient(r)
	if v != nil {
		// No client resolved; nothing is recorded against anyone.
		g.auditBlocked("", identity.PeerAddress(r), v)
		g.observeProxy("blocked", v.Status, started)
		respondDetail(w, v.Status, v.Detail)
		return
	}

	claims, v := b.resolver.ResolveUser(r)
	if v != nil {
		g.auditBlocked(client.ClientID, identity.PeerAddress(r), v)
		g.anomaly.Record(client.ClientID, true)
		g.observeProxy("blocked", v.Status, started)
		respondDetail(w, v.Status, v.Detail)
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		respondDetail(w, http.StatusBadRequest, "could not read request body")
		return
	}

	st := &inspect.State{
		Method:     r.Method,
		Path:       r.URL.Path,
		RawQuery:   r.URL.RawQuery,
		Body:       body,
		Header:     r.Header,
		Peer:       identity.PeerAddress(r),
		ClientID:   client.ClientID,
		ClientRole: client.Role,
		Claims:     claims,
	}

	violation := b.chain.Run(r.Context(), st)
	g.anomaly.Record(client.ClientID, violation != nil)
	if violation != nil {
		g.auditBlocked(client.ClientID, st.Peer, violation)
		g.observeProxy("blocked", violation.Status, started)
		respondDetail(w, violation.Status, violation.Detail)
		return
	}

	score := g.scorer.Score(r.Context(), risk.Features{
		Method:        r.Method,
		Path:          r.URL.Path,
		BodyBytes:     len(body),
		QueryLength:   len(r.URL.RawQuery),
		ClientRole:    client.Role,
		Authenticated: len(claims) > 0,
	})
	if g.log != nil && score >= b.settings.RiskModel.HighRiskThreshold && b.settings.RiskModel.HighRiskThreshold > 0 {
		g.log.Warn("high risk score observed",
			slog.String("agent", "risk"),
			slog.String("client_id", client.ClientID),
			slog.Float64("score", score),
		)
	}

	upstream := *b.backendURL
	upstream.Path = singleJoin(b.backendURL.Path, r.URL.Path)
	upstream.RawQuery = r.URL.RawQuery

	req, err := http.NewRequestWithContext(r.Context(), r.Method, upstream.String(), bytes.NewReader(body))
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, "could not build backend request")
		return
	}
	copyHeaders(req.Header, r.Header)

	resp, err := g.proxyClient.Do(req)
	if err != nil {
		g.observeProxy("upstream_error", http.StatusServiceUnavailable, started)
		respondDetail(w, http.StatusServiceUnavailable, "backend service is unavailable")
		return
	}
	defer resp.Body.Close()

	upstreamBody, err := io.ReadAll(resp.Body)
	if err != nil {
		g.observeProxy("upstream_error", http.StatusBadGateway, started)
		respondDetail(w, http.StatusBadGateway, "backend response could not be read")
		return
	}

	purified := b.transformer.Purify(r.Context(), client.Role, upstreamBody)

	header := w.Header()
	copyHeaders(header, resp.Header)
	for _, h := range hopByHopHeaders {
		header.Del(h)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = w.Write(purified)

	g.observeProxy("forwarded", resp.StatusCode, started)
}

func (g *Gateway) observeProxy(decision string, status int, started time.Time) {
	if g.metrics != nil {
		g.metrics.ObserveProxy(decision, status, time.Since(started))
	}
}

func copyHeaders(dst, src http.Header) {
	for key, values := range src {
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

func singleJoin(prefix, path string) string {
	switch {
	case prefix == "" || prefix == "/":
		return path
	case strings.HasSuffix(prefix, "/") && strings.HasPrefix(path, "/"):
		return prefix + path[1:]
	case !strings.HasSuffix(prefix, "/") && !strings.HasPrefix(path, "/"):
		return prefix + "/" + path
	default:
		return prefix + path
	}
}
