package domain

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"
)

// ClaimRequest is a raw scoring request as received from a caller.
// ClaimAmount is kept as text so that numeric coercion happens inside the
// scoring pipeline and can be reported as ErrInvalidClaimData.
type ClaimRequest struct {
	CustomerID   string `json:"customerId" validate:"required"`
	Name         string `json:"name" validate:"required"`
	Diagnosis    string `json:"diagnosis" validate:"required"`
	HospitalType string `json:"hospitalType" validate:"required"`
	ClaimAmount  Amount `json:"claimAmount" validate:"required"`
}

// Amount is the raw text of a monetary value. It decodes from either a JSON
// number or a JSON string and keeps the literal as sent.
type Amount string

// UnmarshalJSON accepts 5000, 5000.50, "5000" and null.
func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*a = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*a = Amount(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("amount must be a number or a string, got %s", data)
	}
	*a = Amount(n)
	return nil
}

func (a Amount) String() string { return string(a) }

// ClaimInput is a claim after numeric coercion.
type ClaimInput struct {
	CustomerID   string  `json:"customerId"`
	Name         string  `json:"name"`
	Diagnosis    string  `json:"diagnosis"`
	HospitalType string  `json:"hospitalType"`
	ClaimAmount  float64 `json:"claimAmount"`
}

// CustomerProfile is the most recent known state of a customer.
type CustomerProfile struct {
	Age            int `json:"age"`
	PreviousClaims int `json:"previousClaims"`
}

// CustomerRecord is one row of customer history, written by external ingestion.
type CustomerRecord struct {
	ID             string    `json:"id"`
	TenantID       string    `json:"tenantId"`
	CustomerID     string    `json:"customerId"`
	Name           string    `json:"name"`
	RecordedAt     time.Time `json:"recordedAt"`
	Age            int       `json:"age"`
	Diagnosis      string    `json:"diagnosis"`
	HospitalType   string    `json:"hospitalType"`
	PreviousClaims int       `json:"previousClaims"`
	ClaimAmount    float64   `json:"claimAmount"`
}

// Profile returns the scoring-relevant part of the record.
func (r *CustomerRecord) Profile() *CustomerProfile {
	return &CustomerProfile{
		Age:            r.Age,
		PreviousClaims: r.PreviousClaims,
	}
}

// EncodedFeatures is the fixed-order numeric vector accepted by the probability model.
type EncodedFeatures struct {
	ClaimAmount    float64
	Age            int
	DiagnosisCode  int
	HospitalCode   int
	PreviousClaims int
}

// FeatureNames lists the model features in vector order.
var FeatureNames = []string{"ClaimAmount", "Age", "Diagnosis", "HospitalType", "PreviousClaims"}

// Vector returns the features in model order.
func (f EncodedFeatures) Vector() []float64 {
	return []float64{
		f.ClaimAmount,
		float64(f.Age),
		float64(f.DiagnosisCode),
		float64(f.HospitalCode),
		float64(f.PreviousClaims),
	}
}

// ProbabilityModel is a pre-fitted classifier. Implementations must be
// deterministic and safe for concurrent use.
type ProbabilityModel interface {
	// PredictFraudProbability returns P(fraud | features) in [0,1].
	PredictFraudProbability(features EncodedFeatures) (float64, error)

	// Version identifies the fitted artifact.
	Version() string
}
