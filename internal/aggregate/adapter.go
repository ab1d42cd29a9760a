package aggregate

import "github.com/aegisgate/aegisgate/internal/config"

// applyAdapter reshapes a successful upstream response: select keeps only
// the listed fields (missing ones are silently dropped), rename then maps
// keys to their public names. List responses are adapted element-wise.
func applyAdapter(data any, adapter *config.QueryAdapter) any {
	if adapter == nil {
		return data
	}
	switch t := data.(type) {
	case map[string]any:
		return adaptObject(t, adapter)
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = applyAdapter(item, adapter)
		}
		return out
	default:
		return data
	}
}

func adaptObject(data map[string]any, adapter *config.QueryAdapter) map[string]any {
	var selected map[string]any
	if adapter.Select != nil {
		selected = make(map[string]any, len(adapter.Select))
		for _, field := range adapter.Select {
			if value, ok := data[field]; ok {
				selected[field] = value
			}
		}
	} else {
		selected = make(map[string]any, len(data))
		for k, v := range data {
			selected[k] = v
		}
	}
	for from, to := range adapter.Rename {
		if value, ok := selected[from]; ok {
			delete(selected, from)
			selected[to] = value
		}
	}
	return selected
}
