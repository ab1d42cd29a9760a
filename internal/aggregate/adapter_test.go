package aggregate

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/aegisgate/aegisgate/internal/config"
)

func TestAdapterSelectDropsUnlistedAndMissingFields(t *testing.T) {
	adapter := &config.QueryAdapter{Select: []string{"id", "name", "absent"}}

	out := applyAdapter(map[string]any{"id": 1, "name": "a", "secret": "x"}, adapter)
	require.Equal(t, map[string]any{"id": 1, "name": "a"}, out)
}

func TestAdapterRenameAfterSelect(t *testing.T) {
	adapter := &config.QueryAdapter{
		Select: []string{"id", "display_name"},
		Rename: map[string]string{"display_name": "name"},
	}

	out := applyAdapter(map[string]any{"id": 1, "display_name": "a", "extra": true}, adapter)
	require.Equal(t, map[string]any{"id": 1, "name": "a"}, out)
}

func TestAdapterMapsListsElementWise(t *testing.T) {
	adapter := &config.QueryAdapter{Select: []string{"id"}}

	out := applyAdapter([]any{
		map[string]any{"id": 1, "noise": "x"},
		map[string]any{"id": 2, "noise": "y"},
	}, adapter)
	require.Equal(t, []any{
		map[string]any{"id": 1},
		map[string]any{"id": 2},
	}, out)
}

func TestNilAdapterPassesThrough(t *testing.T) {
	data := map[string]any{"anything": 1}
	require.Equal(t, data, applyAdapter(data, nil))
}

// When the rename keys are disjoint from the select list, the two steps
// commute.
func TestSelectRenameCommuteOnDisjointSets(t *testing.T) {
	data := map[string]any{"keep": 1, "old": 2, "drop": 3}

	selectOnly := &config.QueryAdapter{Select: []string{"keep"}}
	renameOnly := &config.QueryAdapter{Rename: map[string]string{"old": "new"}}

	selectThenRename := applyAdapter(applyAdapter(data, selectOnly), renameOnly)
	renameThenSelect := applyAdapter(applyAdapter(data, renameOnly), selectOnly)

	require.Equal(t, selectThenRename, renameThenSelect)
	require.Equal(t, map[string]any{"keep": 1}, renameThenSelect)
}
