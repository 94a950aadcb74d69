package phase

import (
	"sort"
	"strconv"
)

// walkObjects calls fn for every JSON object in v, depth first, with its
// concrete path. Contained resources are walked too.
func walkObjects(path string, v any, fn func(path string, obj map[string]any)) {
	switch val := v.(type) {
	case map[string]any:
		fn(path, val)
		for _, k := range sortedKeys(val) {
			walkObjects(path+"."+k, val[k], fn)
		}
	case []any:
		for i, item := range val {
			walkObjects(path+"["+strconv.Itoa(i)+"]", item, fn)
		}
	}
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
