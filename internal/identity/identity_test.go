package identity

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/require"

	"github.com/aegisgate/aegisgate/internal/config"
)

const testSecret = "unit-secret"

func testResolver() *Resolver {
	return NewResolver([]config.ApiClient{
		{ClientID: "mobile-app", APIKey: "key-mobile", Role: "customer"},
		{ClientID: "ops", APIKey: "key-ops", Role: "admin", AllowedIPs: []string{"10.0.0.1"}},
	}, testSecret)
}

func requestWithKey(key, remoteAddr string) *http.Request {
	req := httptest.NewRequest(http.MethodGet, "/api/items", nil)
	if key != "" {
		req.Header.Set(APIKeyHeader, key)
	}
	req.RemoteAddr = remoteAddr
	return req
}

func TestResolveClientMatchesByKey(t *testing.T) {
	client, v := testResolver().ResolveClient(requestWithKey("key-mobile", "192.0.2.10:51000"))
	require.Nil(t, v)
	require.Equal(t, "mobile-app", client.ClientID)
	require.Equal(t, "customer", client.Role)
}

func TestResolveClientRejectsMissingOrUnknownKey(t *testing.T) {
	_, v := testResolver().ResolveClient(requestWithKey("", "192.0.2.10:51000"))
	require.NotNil(t, v)
	require.Equal(t, http.StatusUnauthorized, v.Status)

	_, v = testResolver().ResolveClient(requestWithKey("wrong", "192.0.2.10:51000"))
	require.NotNil(t, v)
	require.Equal(t, http.StatusUnauthorized, v.Status)
}

func TestResolveClientEnforcesPinnedAddresses(t *testing.T) {
	_, v := testResolver().ResolveClient(requestWithKey("key-ops", "192.0.2.10:51000"))
	require.NotNil(t, v)
	require.Equal(t, http.StatusForbidden, v.Status)

	client, v := testResolver().ResolveClient(requestWithKey("key-ops", "10.0.0.1:51000"))
	require.Nil(t, v)
	require.Equal(t, "ops", client.ClientID)
}

func TestResolveUserWithoutTokenIsAnonymous(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	claims, v := testResolver().ResolveUser(req)
	require.Nil(t, v)
	require.Empty(t, claims)
}

func TestMintAndResolveRoundTrip(t *testing.T) {
	r := testResolver()
	token, err := r.MintToken(UserClaims{"user_id": "u-77", "role": "customer"})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	claims, v := r.ResolveUser(req)
	require.Nil(t, v)
	require.Equal(t, "u-77", claims.UserID())
	require.Equal(t, "customer", claims.Role())
}

func TestResolveUserRejectsExpiredToken(t *testing.T) {
	r := testResolver()
	r.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err := r.MintToken(UserClaims{"user_id": "u-77", "role": "customer"})
	require.NoError(t, err)

	r.now = time.Now
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+token)

	_, v := r.ResolveUser(req)
	require.NotNil(t, v)
	require.Equal(t, http.StatusUnauthorized, v.Status)
}

func TestResolveUserRejectsForeignSigningKey(t *testing.T) {
	foreign := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"user_id": "u-1",
		"exp":     time.Now().Add(time.Hour).Unix(),
	})
	signed, err := foreign.SignedString([]byte("other-secret"))
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer "+signed)

	_, v := testResolver().ResolveUser(req)
	require.NotNil(t, v)
	require.Equal(t, http.StatusUnauthorized, v.Status)
}

func TestPeerAddressHandlesIPv6(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "[::1]:8080"
	require.Equal(t, "::1", PeerAddress(req))

	req.RemoteAddr = "10.0.0.1:443"
	require.Equal(t, "10.0.0.1", PeerAddress(req))
}
