package inspect

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegisgate/aegisgate/internal/config"
	"github.com/aegisgate/aegisgate/internal/expr"
)

func newPayloadInspector(t *testing.T, rules []config.InspectionRule) *PayloadInspector {
	t.Helper()
	env, err := expr.NewEnvironment()
	require.NoError(t, err)
	p, err := NewPayloadInspector(rules, NewSchemaRegistry(), env, nil)
	require.NoError(t, err)
	return p
}

func requestState(method, path, rawQuery string, body []byte) *State {
	return &State{
		Method:   method,
		Path:     path,
		RawQuery: rawQuery,
		Body:     body,
		Header:   http.Header{},
		ClientID: "mobile-app", ClientRole: "customer",
		Claims: map[string]any{},
	}
}

func TestSignatureSweepBlocksSQLiInQuery(t *testing.T) {
	p := newPayloadInspector(t, nil)

	v := p.Inspect(context.Background(), requestState("POST", "/api", "q=' OR 1=1 --", nil))
	require.NotNil(t, v)
	require.Equal(t, http.StatusForbidden, v.Status)
	require.Contains(t, v.Detail, "malicious signature")
}

func TestSignatureSweepSeesThroughDoubleEncoding(t *testing.T) {
	p := newPayloadInspector(t, nil)

	// "../" encoded twice.
	v := p.Inspect(context.Background(), requestState("GET", "/files", "path=%252e%252e%252fetc", nil))
	require.NotNil(t, v)
	require.Equal(t, http.StatusForbidden, v.Status)
}

func TestSignatureSweepBlocksXSSInBody(t *testing.T) {
	p := newPayloadInspector(t, nil)

	v := p.Inspect(context.Background(), requestState("POST", "/comments", "", []byte(`{"text":"<ScRiPt>alert(1)</script>"}`)))
	require.NotNil(t, v)
	require.Equal(t, http.StatusForbidden, v.Status)
}

func TestCleanRequestPasses(t *testing.T) {
	p := newPayloadInspector(t, nil)

	v := p.Inspect(context.Background(), requestState("GET", "/api/items", "page=2&sort=name", []byte(`{"note":"hello"}`)))
	require.Nil(t, v)
}

func TestPatternRuleRespectsPathAndMethodFilters(t *testing.T) {
	p := newPayloadInspector(t, []config.InspectionRule{{
		Name:             "no-debug",
		Type:             config.RuleTypePattern,
		Pattern:          "debug=true",
		InspectLocations: []string{"query_params"},
		PathPattern:      "/api/*",
		Methods:          []string{"GET"},
		Action:           config.ActionBlock,
	}})

	v := p.Inspect(context.Background(), requestState("GET", "/api/items", "debug=true", nil))
	require.NotNil(t, v)
	require.Equal(t, http.StatusForbidden, v.Status)

	// Different method: rule skipped.
	require.Nil(t, p.Inspect(context.Background(), requestState("POST", "/api/items", "debug=true", nil)))
	// Different path: rule skipped.
	require.Nil(t, p.Inspect(context.Background(), requestState("GET", "/other", "debug=true", nil)))
}

func TestPatternRuleWithLogActionAdmits(t *testing.T) {
	p := newPayloadInspector(t, []config.InspectionRule{{
		Name:             "log-only",
		Type:             config.RuleTypePattern,
		Pattern:          "beta=1",
		InspectLocations: []string{"query_params"},
		PathPattern:      "*",
		Action:           config.ActionLog,
	}})

	require.Nil(t, p.Inspect(context.Background(), requestState("GET", "/x", "beta=1", nil)))
}

func TestSchemaRuleRejectsInvalidBody(t *testing.T) {
	p := newPayloadInspector(t, []config.InspectionRule{{
		Name:        "create-user",
		Type:        config.RuleTypeSchema,
		BodySchema:  "CreateUserRequest",
		PathPattern: "/users",
		Methods:     []string{"POST"},
		Action:      config.ActionBlock,
	}})

	v := p.Inspect(context.Background(), requestState("POST", "/users", "",
		[]byte(`{"username":"x!","email":"not-an-email","full_name":""}`)))
	require.NotNil(t, v)
	require.Equal(t, http.StatusUnprocessableEntity, v.Status)

	require.Nil(t, p.Inspect(context.Background(), requestState("POST", "/users", "",
		[]byte(`{"username":"alice_1","email":"alice@example.com","full_name":"Alice"}`))))
}

func TestGraphQLDepthRule(t *testing.T) {
	p := newPayloadInspector(t, []config.InspectionRule{{
		Name:        "depth",
		Type:        config.RuleTypeGraphQLDepth,
		MaxDepth:    3,
		PathPattern: "/graphql",
		Action:      config.ActionBlock,
	}})

	deep := []byte(`{"a":{"b":{"c":{"d":1}}}}`)
	v := p.Inspect(context.Background(), requestState("POST", "/graphql", "", deep))
	require.NotNil(t, v)

	shallow := []byte(`{"a":{"b":1}}`)
	require.Nil(t, p.Inspect(context.Background(), requestState("POST", "/graphql", "", shallow)))

	// Unparseable bodies skip the rule.
	require.Nil(t, p.Inspect(context.Background(), requestState("POST", "/graphql", "", []byte("not json"))))
}

func TestGraphQLCostRule(t *testing.T) {
	p := newPayloadInspector(t, []config.InspectionRule{{
		Name:             "cost",
		Type:             config.RuleTypeGraphQLCost,
		MaxCost:          2,
		InspectLocations: []string{"body"},
		PathPattern:      "/graphql",
		Action:           config.ActionBlock,
	}})

	costly := []byte(`{"query":"query { user { orders { items { name } } } }"}`)
	v := p.Inspect(context.Background(), requestState("POST", "/graphql", "", costly))
	require.NotNil(t, v)

	cheap := []byte(`{"query":"query { user }"}`)
	require.Nil(t, p.Inspect(context.Background(), requestState("POST", "/graphql", "", cheap)))
}

func TestRuleConditionNarrowsApplication(t *testing.T) {
	p := newPayloadInspector(t, []config.InspectionRule{{
		Name:             "customers-only",
		Type:             config.RuleTypePattern,
		Pattern:          "export=all",
		InspectLocations: []string{"query_params"},
		PathPattern:      "*",
		Action:           config.ActionBlock,
		Condition:        `client.role != "admin"`,
	}})

	st := requestState("GET", "/reports", "export=all", nil)
	require.NotNil(t, p.Inspect(context.Background(), st))

	st.ClientRole = "admin"
	require.Nil(t, p.Inspect(context.Background(), st))
}

func TestJSONDepthCountsListsAndMapsEqually(t *testing.T) {
	require.Equal(t, 0, jsonDepth("scalar"))
	require.Equal(t, 1, jsonDepth(map[string]any{"a": 1}))
	require.Equal(t, 2, jsonDepth([]any{map[string]any{"a": 1}}))
	require.Equal(t, 3, jsonDepth(map[string]any{"a": []any{map[string]any{"b": 1}}}))
}

func TestNewPayloadInspectorRejectsBadRuleConfig(t *testing.T) {
	env, err := expr.NewEnvironment()
	require.NoError(t, err)

	_, err = NewPayloadInspector([]config.InspectionRule{{
		Name: "bad-regex", Type: config.RuleTypePattern, Pattern: "(",
	}}, NewSchemaRegistry(), env, nil)
	require.Error(t, err)

	_, err = NewPayloadInspector([]config.InspectionRule{{
		Name: "bad-schema", Type: config.RuleTypeSchema, BodySchema: "NoSuchSchema",
	}}, NewSchemaRegistry(), env, nil)
	require.Error(t, err)
}
