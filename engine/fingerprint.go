package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"

	mm "github.com/aks129/FhirMapMaster"
	"github.com/aks129/FhirMapMaster/pipeline"
)

// fingerprint identifies a validation: the resource content, the profile,
// the active layers, strict mode and, in batch mode, the references the
// batch can resolve. encoding/json writes map keys in sorted order, so
// equal resources always serialize identically.
func (v *Validator) fingerprint(resource map[string]any, profileKey string, batch *pipeline.BatchIndex) (string, error) {
	content, err := json.Marshal(resource)
	if err != nil {
		return "", fmt.Errorf("%w: resource cannot be serialized: %v", mm.ErrConfiguration, err)
	}

	h := sha256.New()
	h.Write(content)
	for _, part := range []string{
		profileKey,
		v.options.Layers.String(),
		strconv.FormatBool(v.options.StrictMode),
		batch.String(),
	} {
		h.Write([]byte{0})
		h.Write([]byte(part))
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
