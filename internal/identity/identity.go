// Package identity resolves the two principals attached to every request:
// the calling application (x-api-key header) and the optional end user
// (bearer token).
package identity

import (
	"crypto/subtle"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/aegisgate/aegisgate/internal/config"
	"github.com/aegisgate/aegisgate/internal/inspect"
)

const (
	// APIKeyHeader carries the opaque client credential.
	APIKeyHeader = "x-api-key"

	tokenLifetime = 30 * time.Minute
)

// UserClaims is the decoded bearer-token payload. Empty when the request
// carries no token.
type UserClaims map[string]any

// UserID returns the user_id claim, or "" when absent.
func (c UserClaims) UserID() string {
	if v, ok := c["user_id"].(string); ok {
		return v
	}
	return ""
}

// Role returns the role claim, or "" when absent.
func (c UserClaims) Role() string {
	if v, ok := c["role"].(string); ok {
		return v
	}
	return ""
}

// Resolver authenticates API clients and end users against the loaded
// client table and JWT secret.
type Resolver struct {
	clients []config.ApiClient
	secret  []byte
	now     func() time.Time
}

// NewResolver builds a Resolver over the configured client table.
func NewResolver(clients []config.ApiClient, jwtSecret string) *Resolver {
	return &Resolver{
		clients: clients,
		secret:  []byte(jwtSecret),
		now:     time.Now,
	}
}

// ResolveClient authenticates the x-api-key header and, when the matched
// client pins source addresses, verifies the request's immediate peer.
// Every configured key is compared in constant time regardless of whether
// an earlier entry already matched.
func (r *Resolver) ResolveClient(req *http.Request) (config.ApiClient, *inspect.Violation) {
	presented := req.Header.Get(APIKeyHeader)
	if presented == "" {
		return config.ApiClient{}, inspect.NewViolation("identity", http.StatusUnauthorized, "invalid or missing API key")
	}

	var matched *config.ApiClient
	for i := range r.clients {
		if subtle.ConstantTimeCompare([]byte(r.clients[i].APIKey), []byte(presented)) == 1 && matched == nil {
			matched = &r.clients[i]
		}
	}
	if matched == nil {
		return config.ApiClient{}, inspect.NewViolation("identity", http.StatusUnauthorized, "invalid or missing API key")
	}

	if len(matched.AllowedIPs) > 0 {
		peer := PeerAddress(req)
		allowed := false
		for _, ip := range matched.AllowedIPs {
			if ip == peer {
				allowed = true
			}
		}
		if !allowed {
			return config.ApiClient{}, inspect.NewViolation("identity", http.StatusForbidden, "address not allowed")
		}
	}

	return *matched, nil
}

// ResolveUser decodes the Authorization bearer token. A request without a
// token resolves to the empty claim set; a malformed or expired token is a
// 401.
func (r *Resolver) ResolveUser(req *http.Request) (UserClaims, *inspect.Violation) {
	header := req.Header.Get("Authorization")
	if header == "" {
		return UserClaims{}, nil
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return nil, inspect.NewViolation("identity", http.StatusUnauthorized, "invalid credentials")
	}

	claims := jwt.MapClaims{}
	_, err := jwt.ParseWithClaims(parts[1], claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("identity: unexpected signing method %v", token.Header["alg"])
		}
		return r.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithTimeFunc(r.now))
	if err != nil {
		return nil, inspect.NewViolation("identity", http.StatusUnauthorized, "invalid credentials")
	}

	out := make(UserClaims, len(claims))
	for k, v := range claims {
		out[k] = v
	}
	return out, nil
}

// MintToken issues an HS256 token carrying the supplied claims plus a 30
// minute expiry. Used for login and refresh.
func (r *Resolver) MintToken(claims UserClaims) (string, error) {
	payload := jwt.MapClaims{}
	for k, v := range claims {
		payload[k] = v
	}
	payload["exp"] = r.now().Add(tokenLifetime).Unix()

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)
	signed, err := token.SignedString(r.secret)
	if err != nil {
		return "", fmt.Errorf("identity: sign token: %w", err)
	}
	return signed, nil
}

// PeerAddress extracts the immediate peer IP from the request, ignoring any
// forwarding headers. Client pinning and reputation checks both key on this
// address.
func PeerAddress(req *http.Request) string {
	host := req.RemoteAddr
	if idx := strings.LastIndex(host, ":"); idx >= 0 && strings.Count(host, ":") == 1 {
		return host[:idx]
	}
	// Bracketed IPv6 literal, e.g. [::1]:8080.
	if strings.HasPrefix(host, "[") {
		if idx := strings.LastIndex(host, "]"); idx >= 0 {
			return host[1:idx]
		}
	}
	return host
}
