package backingstore

import (
	"encoding/json"
	"strconv"

	"github.com/cuemby/idbcoordinator/internal/model"
)

// extractIndexKey resolves path against value, which is expected to be
// a JSON-encoded structured clone. Each path segment steps into an
// object field or, if the current value is an array and the segment
// parses as an integer, an array element. Returns ok=false if path is
// empty, value isn't valid JSON, or any segment fails to resolve —
// matching IndexedDB's "index key unresolvable" case, which simply
// omits that record from the index rather than failing the put.
func extractIndexKey(value []byte, path model.KeyPath) (model.KeyData, bool) {
	if len(path) == 0 {
		return model.KeyData{}, false
	}

	var cur any
	if err := json.Unmarshal(value, &cur); err != nil {
		return model.KeyData{}, false
	}

	for _, segment := range path {
		switch v := cur.(type) {
		case map[string]any:
			next, ok := v[segment]
			if !ok {
				return model.KeyData{}, false
			}
			cur = next
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(v) {
				return model.KeyData{}, false
			}
			cur = v[idx]
		default:
			return model.KeyData{}, false
		}
	}

	switch v := cur.(type) {
	case float64:
		return model.NewNumberKey(v), true
	case string:
		return model.NewBytesKey([]byte(v)), true
	default:
		return model.KeyData{}, false
	}
}
