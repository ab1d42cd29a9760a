package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gavv/httpexpect/v2"

	"github.com/aegisgate/aegisgate/internal/config"
)

// TestEndToEndFlow drives the public surface over a real listener: login,
// token refresh, an owner-enforced proxied resource, an aggregation screen,
// and the health report.
func TestEndToEndFlow(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/login":
			var form struct {
				Email string `json:"email"`
			}
			_ = json.NewDecoder(r.Body).Decode(&form)
			if form.Email != "alice@example.com" {
				w.WriteHeader(http.StatusUnauthorized)
				fmt.Fprint(w, `{"detail":"invalid email or password"}`)
				return
			}
			fmt.Fprint(w, `{"user_id":"user-123","role":"customer"}`)
		case "/feed":
			fmt.Fprint(w, `{"items":["a","b"]}`)
		default:
			fmt.Fprint(w, `{"resource":"`+r.URL.Path+`"}`)
		}
	}))
	defer backend.Close()

	cfg := testSettings(backend.URL)
	cfg.AuthorizationPolicies = []config.AuthPolicy{{
		Name:  "user-profiles",
		Match: map[string]string{"role": "web_frontend"},
		Rules: []config.AccessRule{{
			PathPattern:       "/api/users/{user_id}/profile",
			EnforceOwnerClaim: "user_id",
			OwnerPathParam:    "user_id",
		}},
	}}
	cfg.Aggregations = []config.Aggregation{{
		PublicPath:   "/api/mobile/home",
		RequiredRole: config.RoleAnonymous,
		Queries: []config.Query{{
			Name:       "feed",
			HTTPMethod: http.MethodGet,
			BackendURL: backend.URL + "/feed",
		}},
	}}
	g := newTestGateway(t, cfg, nil)

	srv := httptest.NewServer(g.Router())
	defer srv.Close()

	e := httpexpect.Default(t, srv.URL)

	token := e.POST("/auth/login").
		WithHeader("x-api-key", "web-key").
		WithJSON(map[string]string{"email": "alice@example.com", "password": "pw"}).
		Expect().Status(http.StatusOK).
		JSON().Object().
		HasValue("token_type", "bearer").
		Value("access_token").String().NotEmpty().Raw()

	e.POST("/auth/refresh").
		WithHeader("x-api-key", "web-key").
		WithHeader("Authorization", "Bearer "+token).
		Expect().Status(http.StatusOK).
		JSON().Object().Value("access_token").String().NotEmpty()

	e.GET("/api/users/user-123/profile").
		WithHeader("x-api-key", "web-key").
		WithHeader("Authorization", "Bearer "+token).
		Expect().Status(http.StatusOK).
		JSON().Object().HasValue("resource", "/api/users/user-123/profile")

	e.GET("/api/users/user-456/profile").
		WithHeader("x-api-key", "web-key").
		WithHeader("Authorization", "Bearer "+token).
		Expect().Status(http.StatusForbidden).
		JSON().Object().HasValue("detail", "you do not have permission to access this resource")

	e.GET("/api/mobile/home").
		WithHeader("x-api-key", "web-key").
		Expect().Status(http.StatusOK).
		JSON().Object().Value("feed").Object().Value("items").Array().Length().IsEqual(2)

	e.GET("/health").
		Expect().Status(http.StatusOK).
		JSON().Object().HasValue("overall_status", "ok")
}
