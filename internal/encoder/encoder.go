// Package encoder maps categorical claim fields to the integer codes the
// probability model was fitted on.
package encoder

import (
	"encoding/json"
	"fmt"
)

// FallbackCode is substituted for any label the encoder has not seen.
// It collides with whatever label was assigned code 0 at fit time.
const FallbackCode = 0

// Feature names used as keys in the encoder artifact.
const (
	FeatureDiagnosis    = "Diagnosis"
	FeatureHospitalType = "HospitalType"
)

// CategoryEncoder is a fitted, immutable label to code mapping.
type CategoryEncoder struct {
	codes map[string]int
}

// NewCategoryEncoder builds an encoder from the fitted class list.
// A label's code is its index, matching a fitted label encoder.
func NewCategoryEncoder(classes []string) (*CategoryEncoder, error) {
	codes := make(map[string]int, len(classes))
	for i, c := range classes {
		if _, dup := codes[c]; dup {
			return nil, fmt.Errorf("duplicate class %q", c)
		}
		codes[c] = i
	}
	return &CategoryEncoder{codes: codes}, nil
}

// Lookup returns the code for label, or false if the label is unseen.
func (e *CategoryEncoder) Lookup(label string) (int, bool) {
	code, ok := e.codes[label]
	return code, ok
}

// Len returns the number of known labels.
func (e *CategoryEncoder) Len() int {
	return len(e.codes)
}

// Encode returns the code for raw, or FallbackCode and false when the label
// is unseen or the encoder is missing. The label is used exactly as given.
func Encode(raw string, enc *CategoryEncoder) (int, bool) {
	if enc == nil {
		return FallbackCode, false
	}
	code, ok := enc.Lookup(raw)
	if !ok {
		return FallbackCode, false
	}
	return code, true
}

// Set holds the encoders for every categorical model feature.
type Set struct {
	Version      string
	Diagnosis    *CategoryEncoder
	HospitalType *CategoryEncoder
}

type setArtifact struct {
	Version  string `json:"version"`
	Encoders map[string]struct {
		Classes []string `json:"classes"`
	} `json:"encoders"`
}

// LoadSet parses an encoder artifact. Both Diagnosis and HospitalType
// encoders are required.
func LoadSet(data []byte) (*Set, error) {
	var a setArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse encoder artifact: %w", err)
	}

	set := &Set{Version: a.Version}
	for _, name := range []string{FeatureDiagnosis, FeatureHospitalType} {
		entry, ok := a.Encoders[name]
		if !ok {
			return nil, fmt.Errorf("encoder artifact missing %s encoder", name)
		}
		enc, err := NewCategoryEncoder(entry.Classes)
		if err != nil {
			return nil, fmt.Errorf("encoder %s: %w", name, err)
		}
		switch name {
		case FeatureDiagnosis:
			set.Diagnosis = enc
		case FeatureHospitalType:
			set.HospitalType = enc
		}
	}

	return set, nil
}
