package cartographer

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"
)

const minimalSpec = `{
  "openapi": "3.0.0",
  "info": {"title": "backend", "version": "1.0.0"},
  "paths": {
    "/api/items": {
      "get": {"responses": {"200": {"description": "ok"}}},
      "post": {"responses": {"201": {"description": "created"}}}
    },
    "/api/items/{item_id}": {
      "get": {"responses": {"200": {"description": "ok"}}}
    }
  }
}`

func TestLoadFromURLPopulatesKnownSet(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(minimalSpec))
	}))
	defer srv.Close()

	c := New(false, nil)
	require.NoError(t, c.LoadFromURL(context.Background(), srv.URL+"/openapi.json"))
	require.Equal(t, 3, c.KnownCount())

	require.Nil(t, c.Check("GET", "/api/items"))
	require.Nil(t, c.Check("get", "/api/items"))
	require.Nil(t, c.Check("POST", "/api/items"))
}

func TestCheckRecordsShadowEndpointOnce(t *testing.T) {
	c := New(false, nil)
	require.NoError(t, c.LoadFromBytes([]byte(minimalSpec)))

	require.Nil(t, c.Check("DELETE", "/api/items"))
	require.Nil(t, c.Check("DELETE", "/api/items"))
	require.Equal(t, []string{"DELETE /api/items"}, c.ShadowEndpoints())
}

func TestCheckBlocksUndocumentedWhenPolicyIsBlock(t *testing.T) {
	c := New(true, nil)
	require.NoError(t, c.LoadFromBytes([]byte(minimalSpec)))

	v := c.Check("PATCH", "/internal/debug")
	require.NotNil(t, v)
	require.Equal(t, http.StatusNotImplemented, v.Status)
	require.Equal(t, "cartographer", v.Inspector)

	// Only the discovering request is rejected; repeats against a recorded
	// shadow endpoint pass cleanly.
	require.Nil(t, c.Check("PATCH", "/internal/debug"))
	require.Equal(t, []string{"PATCH /internal/debug"}, c.ShadowEndpoints())

	require.Nil(t, c.Check("GET", "/api/items"))
}

func TestReloadClearsShadowLedger(t *testing.T) {
	c := New(false, nil)
	require.NoError(t, c.LoadFromBytes([]byte(minimalSpec)))

	require.Nil(t, c.Check("GET", "/api/new-feature"))
	require.Nil(t, c.Check("GET", "/api/stale"))
	require.Equal(t, []string{"GET /api/new-feature", "GET /api/stale"}, c.ShadowEndpoints())

	updated := `{
	  "openapi": "3.0.0",
	  "info": {"title": "backend", "version": "1.1.0"},
	  "paths": {
	    "/api/new-feature": {"get": {"responses": {"200": {"description": "ok"}}}}
	  }
	}`
	require.NoError(t, c.LoadFromBytes([]byte(updated)))

	// The whole ledger resets on reload: promoted entries become known, and
	// entries the new document does not cover are re-discovered on their
	// next request.
	require.Empty(t, c.ShadowEndpoints())
	require.Nil(t, c.Check("GET", "/api/new-feature"))
	require.Empty(t, c.ShadowEndpoints())

	require.Nil(t, c.Check("GET", "/api/stale"))
	require.Equal(t, []string{"GET /api/stale"}, c.ShadowEndpoints())
}

func TestLoadRejectsDocumentWithoutPaths(t *testing.T) {
	c := New(false, nil)
	err := c.LoadFromBytes([]byte(`{"openapi": "3.0.0", "info": {"title": "x", "version": "1"}, "paths": {}}`))
	require.Error(t, err)
	require.Contains(t, err.Error(), "no paths")
}

func TestEmptySpecURLIsNoop(t *testing.T) {
	c := New(false, nil)
	require.NoError(t, c.LoadFromURL(context.Background(), ""))
	require.Zero(t, c.KnownCount())
}
