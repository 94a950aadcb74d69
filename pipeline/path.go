package pipeline

import (
	"sort"
	"strconv"
	"strings"
	"unicode"
)

// Node is a value reached by an element path, with its concrete location,
// e.g. "Patient.name[1].family".
type Node struct {
	Path  string
	Value any
}

// Object returns the node as a JSON object.
func (n Node) Object() (map[string]any, bool) {
	m, ok := n.Value.(map[string]any)
	return m, ok
}

// primitiveTypes are the FHIR primitive data types.
var primitiveTypes = map[string]bool{
	"boolean": true, "integer": true, "decimal": true, "string": true,
	"code": true, "uri": true, "url": true, "canonical": true, "id": true,
	"oid": true, "uuid": true, "markdown": true, "base64Binary": true,
	"date": true, "dateTime": true, "instant": true, "time": true,
	"unsignedInt": true, "positiveInt": true,
}

// IsPrimitive reports whether typ is a FHIR primitive type.
func IsPrimitive(typ string) bool {
	return primitiveTypes[typ]
}

// Child looks up the element name in obj. For a choice element such as
// "value[x]" it finds the first present key of the form "valueQuantity".
// It returns the JSON key actually used.
func Child(obj map[string]any, name string) (key string, value any, ok bool) {
	if !strings.HasSuffix(name, "[x]") {
		value, ok = obj[name]
		return name, value, ok
	}
	keys := ChoiceKeys(obj, name)
	if len(keys) == 0 {
		return "", nil, false
	}
	return keys[0], obj[keys[0]], true
}

// ChoiceKeys returns the sorted keys of obj that encode the choice element
// name. More than one key is a structural error.
func ChoiceKeys(obj map[string]any, name string) []string {
	prefix := strings.TrimSuffix(name, "[x]")
	var keys []string
	for k := range obj {
		if len(k) > len(prefix) && strings.HasPrefix(k, prefix) && unicode.IsUpper(rune(k[len(prefix)])) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// ChoiceType returns the data type encoded in a choice key:
// ChoiceType("value[x]", "valueDateTime") is "dateTime" and
// ChoiceType("value[x]", "valueQuantity") is "Quantity".
func ChoiceType(name, key string) string {
	suffix := strings.TrimPrefix(key, strings.TrimSuffix(name, "[x]"))
	if suffix == "" {
		return ""
	}
	lower := strings.ToLower(suffix[:1]) + suffix[1:]
	if primitiveTypes[lower] {
		return lower
	}
	return suffix
}

// Resolve walks an element path such as "Observation.component.code"
// through the resource and returns every value it reaches. Arrays are
// flattened and indexed in the node paths.
func Resolve(resource map[string]any, elementPath string) []Node {
	segments := strings.Split(elementPath, ".")
	if len(segments) == 0 || resource == nil {
		return nil
	}
	nodes := []Node{{Path: segments[0], Value: resource}}
	for _, seg := range segments[1:] {
		nodes = step(nodes, seg)
		if len(nodes) == 0 {
			return nil
		}
	}
	return nodes
}

// Parents resolves everything but the last segment of elementPath and
// returns the object nodes that may hold the element.
func Parents(resource map[string]any, elementPath string) []Node {
	i := strings.LastIndexByte(elementPath, '.')
	if i < 0 {
		return nil
	}
	var out []Node
	for _, n := range Resolve(resource, elementPath[:i]) {
		if _, ok := n.Object(); ok {
			out = append(out, n)
		}
	}
	return out
}

// LastSegment returns the element name at the end of a path.
func LastSegment(elementPath string) string {
	return elementPath[strings.LastIndexByte(elementPath, '.')+1:]
}

func step(nodes []Node, seg string) []Node {
	var next []Node
	for _, n := range nodes {
		obj, ok := n.Object()
		if !ok {
			continue
		}
		key, val, found := Child(obj, seg)
		if !found {
			continue
		}
		path := n.Path + "." + key
		if arr, ok := val.([]any); ok {
			for i, item := range arr {
				next = append(next, Node{Path: path + "[" + strconv.Itoa(i) + "]", Value: item})
			}
			continue
		}
		next = append(next, Node{Path: path, Value: val})
	}
	return next
}
