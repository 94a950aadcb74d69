package mapmaster

import (
	"fmt"
	"strings"
)

// Layer identifies one stage of the validation state machine.
type Layer string

const (
	LayerStructural    Layer = "structural"
	LayerProfile       Layer = "profile"
	LayerTerminology   Layer = "terminology"
	LayerBusinessRules Layer = "business-rule"
)

// layerOrder is the fixed execution order of the state machine.
var layerOrder = []Layer{LayerStructural, LayerProfile, LayerTerminology, LayerBusinessRules}

// AllLayers returns every layer in execution order.
func AllLayers() LayerSet {
	return NewLayerSet(layerOrder...)
}

// Rank returns the position of l in the execution order, or -1.
func (l Layer) Rank() int {
	for i, o := range layerOrder {
		if o == l {
			return i
		}
	}
	return -1
}

// ParseLayer converts a name to a Layer. "business" and "businessrules" are
// accepted as aliases.
func ParseLayer(s string) (Layer, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "structural", "structure":
		return LayerStructural, nil
	case "profile":
		return LayerProfile, nil
	case "terminology":
		return LayerTerminology, nil
	case "business-rule", "business", "businessrules", "business-rules":
		return LayerBusinessRules, nil
	default:
		return "", fmt.Errorf("%w: unknown validation layer %q", ErrConfiguration, s)
	}
}

// LayerSet is an ordered, duplicate-free set of layers.
// The zero value is the empty set.
type LayerSet struct {
	layers []Layer
}

// NewLayerSet builds a set from layers in any order. Unknown layers are
// dropped; the result is always in execution order.
func NewLayerSet(layers ...Layer) LayerSet {
	var set LayerSet
	for _, l := range layerOrder {
		for _, in := range layers {
			if in == l {
				set.layers = append(set.layers, l)
				break
			}
		}
	}
	return set
}

// ParseLayerSet parses a comma separated list of layer names.
func ParseLayerSet(s string) (LayerSet, error) {
	var layers []Layer
	for _, part := range strings.Split(s, ",") {
		if strings.TrimSpace(part) == "" {
			continue
		}
		l, err := ParseLayer(part)
		if err != nil {
			return LayerSet{}, err
		}
		layers = append(layers, l)
	}
	if len(layers) == 0 {
		return LayerSet{}, fmt.Errorf("%w: empty layer set", ErrConfiguration)
	}
	return NewLayerSet(layers...), nil
}

// Has reports whether l is in the set.
func (s LayerSet) Has(l Layer) bool {
	for _, x := range s.layers {
		if x == l {
			return true
		}
	}
	return false
}

// Layers returns a copy of the layers in execution order.
func (s LayerSet) Layers() []Layer {
	out := make([]Layer, len(s.layers))
	copy(out, s.layers)
	return out
}

// Len returns the number of layers.
func (s LayerSet) Len() int { return len(s.layers) }

// String returns the canonical comma separated form used in fingerprints.
func (s LayerSet) String() string {
	parts := make([]string, len(s.layers))
	for i, l := range s.layers {
		parts[i] = string(l)
	}
	return strings.Join(parts, ",")
}

// Level is a named layer preset.
type Level string

const (
	// LevelBasic runs only structural checks.
	LevelBasic Level = "basic"
	// LevelStandard adds profile and terminology checks.
	LevelStandard Level = "standard"
	// LevelStrict runs every layer and treats warnings as failures.
	LevelStrict Level = "strict"
)

// ParseLevel converts a level name.
func ParseLevel(s string) (Level, error) {
	switch Level(strings.ToLower(strings.TrimSpace(s))) {
	case LevelBasic:
		return LevelBasic, nil
	case LevelStandard:
		return LevelStandard, nil
	case LevelStrict:
		return LevelStrict, nil
	default:
		return "", fmt.Errorf("%w: unknown validation level %q", ErrConfiguration, s)
	}
}

// Layers returns the layer preset for the level.
func (l Level) Layers() LayerSet {
	switch l {
	case LevelBasic:
		return NewLayerSet(LayerStructural)
	case LevelStandard:
		return NewLayerSet(LayerStructural, LayerProfile, LayerTerminology)
	default:
		return AllLayers()
	}
}
