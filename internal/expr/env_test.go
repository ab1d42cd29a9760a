package expr

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileAndEvalRuleCondition(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	program, err := env.Compile(`request.method == "POST" && client.role != "admin"`)
	require.NoError(t, err)

	matched, err := program.EvalBool(map[string]any{
		"request": map[string]any{"method": "POST", "path": "/api/items", "query": ""},
		"client":  map[string]any{"id": "mobile-app", "role": "customer"},
		"claims":  map[string]any{},
	})
	require.NoError(t, err)
	require.True(t, matched)

	matched, err = program.EvalBool(map[string]any{
		"request": map[string]any{"method": "GET", "path": "/api/items", "query": ""},
		"client":  map[string]any{"id": "ops", "role": "admin"},
		"claims":  map[string]any{},
	})
	require.NoError(t, err)
	require.False(t, matched)
}

func TestCompileRejectsNonBooleanExpression(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	_, err = env.Compile(`request.path`)
	require.Error(t, err)
}

func TestCompileRejectsEmptyExpression(t *testing.T) {
	env, err := NewEnvironment()
	require.NoError(t, err)

	_, err = env.Compile("   ")
	require.Error(t, err)
}

func TestEvalUninitializedProgramFails(t *testing.T) {
	var p Program
	_, err := p.EvalBool(nil)
	require.Error(t, err)
}
