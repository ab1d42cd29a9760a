package gateway

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/aegisgate/aegisgate/internal/identity"
)

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// handleLogin proxies the credential check to the internal authentication
// service and mints a gateway token from the returned identity.
func (g *Gateway) handleLogin(w http.ResponseWriter, r *http.Request) {
	b := g.bundle.Load()

	client, v := b.resolver.ResolveClient(r)
	if v != nil {
		g.auditBlocked("", identity.PeerAddress(r), v)
		respondDetail(w, v.Status, v.Detail)
		return
	}

	var form loginRequest
	if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
		respondDetail(w, http.StatusBadRequest, "invalid login payload")
		return
	}

	if g.log != nil {
		g.log.Info("user login attempt",
			slog.String("agent", "identity"),
			slog.String("client_id", client.ClientID),
		)
	}

	payload, err := json.Marshal(form)
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, "could not encode login payload")
		return
	}

	target := strings.TrimSuffix(b.settings.AuthBackendURL, "/") + "/login"
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, target, bytes.NewReader(payload))
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, "could not build auth request")
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.authClient.Do(req)
	if err != nil {
		respondDetail(w, http.StatusServiceUnavailable, "authentication service is currently unavailable")
		return
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		respondDetail(w, http.StatusServiceUnavailable, "authentication service is currently unavailable")
		return
	}

	if resp.StatusCode >= http.StatusBadRequest {
		detail := strings.TrimSpace(string(raw))
		var parsed struct {
			Detail string `json:"detail"`
		}
		if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Detail != "" {
			detail = parsed.Detail
		}
		respondDetail(w, resp.StatusCode, detail)
		return
	}

	var user struct {
		UserID string `json:"user_id"`
		Role   string `json:"role"`
	}
	if err := json.Unmarshal(raw, &user); err != nil || user.UserID == "" || user.Role == "" {
		respondDetail(w, http.StatusInternalServerError, "backend auth service did not return required user data")
		return
	}

	token, err := b.resolver.MintToken(identity.UserClaims{
		"user_id": user.UserID,
		"role":    user.Role,
	})
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, "could not issue access token")
		return
	}
	respondJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}

// handleRefresh re-issues a token with the caller's current claims and a
// fresh expiry.
func (g *Gateway) handleRefresh(w http.ResponseWriter, r *http.Request) {
	b := g.bundle.Load()

	_, v := b.resolver.ResolveClient(r)
	if v != nil {
		g.auditBlocked("", identity.PeerAddress(r), v)
		respondDetail(w, v.Status, v.Detail)
		return
	}

	claims, v := b.resolver.ResolveUser(r)
	if v != nil {
		respondDetail(w, v.Status, v.Detail)
		return
	}
	if len(claims) == 0 {
		respondDetail(w, http.StatusUnauthorized, "a valid bearer token is required")
		return
	}

	token, err := b.resolver.MintToken(claims)
	if err != nil {
		respondDetail(w, http.StatusInternalServerError, "could not issue access token")
		return
	}
	respondJSON(w, http.StatusOK, tokenResponse{AccessToken: token, TokenType: "bearer"})
}
