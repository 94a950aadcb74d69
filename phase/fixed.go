package phase

import (
	"encoding/json"
	"reflect"
)

// fixedEqual compares a resource value with a profile's fixed value. Both
// sides are normalized through JSON so YAML-loaded maps, Go ints and JSON
// float64 numbers compare equal.
func fixedEqual(actual, fixed any) bool {
	a, ok := normalize(actual)
	if !ok {
		return false
	}
	f, ok := normalize(fixed)
	if !ok {
		return false
	}
	return reflect.DeepEqual(a, f)
}

func normalize(v any) (any, bool) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, false
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, false
	}
	return out, true
}

// describe renders a fixed value for an issue message.
func describe(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "<unprintable>"
	}
	return string(data)
}
