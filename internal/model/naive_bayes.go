// Package model provides the fitted probability model used for base fraud scoring.
package model

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// TypeGaussianNB is the artifact type tag for Gaussian Naive Bayes models.
const TypeGaussianNB = "gaussian_nb"

// FraudClass is the class label for fraudulent claims.
const FraudClass = 1

var (
	ErrFeatureMismatch = errors.New("feature vector does not match model")
	ErrNonFinite       = errors.New("model produced a non-finite probability")
)

// GaussianNB is an immutable Gaussian Naive Bayes classifier.
type GaussianNB struct {
	version    string
	features   []string
	fraudIdx   int
	logPrior   []float64
	theta      [][]float64
	variance   [][]float64
	logNormVar []float64 // per class: -0.5 * sum(log(2*pi*var))
}

type gaussianNBArtifact struct {
	Type       string      `json:"type"`
	Version    string      `json:"version"`
	Features   []string    `json:"features"`
	Classes    []int       `json:"classes"`
	ClassPrior []float64   `json:"class_prior"`
	Theta      [][]float64 `json:"theta"`
	Var        [][]float64 `json:"var"`
}

// LoadGaussianNB parses and validates a model artifact.
func LoadGaussianNB(data []byte) (*GaussianNB, error) {
	var a gaussianNBArtifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to parse model artifact: %w", err)
	}

	if a.Type != TypeGaussianNB {
		return nil, fmt.Errorf("unsupported model type %q", a.Type)
	}
	if a.Version == "" {
		return nil, fmt.Errorf("model artifact has no version")
	}
	if len(a.Features) != len(domain.FeatureNames) {
		return nil, fmt.Errorf("model expects %d features, pipeline provides %d", len(a.Features), len(domain.FeatureNames))
	}
	for i, f := range a.Features {
		if f != domain.FeatureNames[i] {
			return nil, fmt.Errorf("feature %d is %q, expected %q", i, f, domain.FeatureNames[i])
		}
	}

	nClasses := len(a.Classes)
	if nClasses < 2 || len(a.ClassPrior) != nClasses || len(a.Theta) != nClasses || len(a.Var) != nClasses {
		return nil, fmt.Errorf("inconsistent class dimensions")
	}

	m := &GaussianNB{
		version:    a.Version,
		features:   a.Features,
		fraudIdx:   -1,
		logPrior:   make([]float64, nClasses),
		theta:      a.Theta,
		variance:   a.Var,
		logNormVar: make([]float64, nClasses),
	}

	for c := 0; c < nClasses; c++ {
		if a.Classes[c] == FraudClass {
			m.fraudIdx = c
		}
		if a.ClassPrior[c] <= 0 {
			return nil, fmt.Errorf("class %d prior must be positive", a.Classes[c])
		}
		m.logPrior[c] = math.Log(a.ClassPrior[c])

		if len(a.Theta[c]) != len(a.Features) || len(a.Var[c]) != len(a.Features) {
			return nil, fmt.Errorf("class %d parameters do not match feature count", a.Classes[c])
		}
		for i, v := range a.Var[c] {
			if !(v > 0) || math.IsInf(v, 0) {
				return nil, fmt.Errorf("class %d feature %s variance must be positive", a.Classes[c], a.Features[i])
			}
			m.logNormVar[c] -= 0.5 * math.Log(2*math.Pi*v)
		}
	}

	if m.fraudIdx < 0 {
		return nil, fmt.Errorf("model has no fraud class (%d)", FraudClass)
	}

	return m, nil
}

// PredictFraudProbability returns P(fraud | features).
func (m *GaussianNB) PredictFraudProbability(features domain.EncodedFeatures) (float64, error) {
	x := features.Vector()
	if len(x) != len(m.features) {
		return 0, ErrFeatureMismatch
	}

	jll := make([]float64, len(m.logPrior))
	for c := range jll {
		sum := 0.0
		for i, xi := range x {
			d := xi - m.theta[c][i]
			sum += d * d / m.variance[c][i]
		}
		jll[c] = m.logPrior[c] + m.logNormVar[c] - 0.5*sum
	}

	p := math.Exp(jll[m.fraudIdx] - logSumExp(jll))
	if math.IsNaN(p) || math.IsInf(p, 0) {
		return 0, ErrNonFinite
	}
	return p, nil
}

// Version returns the artifact version.
func (m *GaussianNB) Version() string {
	return m.version
}

func logSumExp(v []float64) float64 {
	max := math.Inf(-1)
	for _, x := range v {
		if x > max {
			max = x
		}
	}
	if math.IsInf(max, -1) {
		return max
	}
	sum := 0.0
	for _, x := range v {
		sum += math.Exp(x - max)
	}
	return max + math.Log(sum)
}
