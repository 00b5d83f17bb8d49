package main

import (
	"bytes"
	"testing"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opensource-finance/claimguard/internal/domain"
)

func TestAuditRowsRoundTrip(t *testing.T) {
	ts := time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)
	results := []*domain.ScoringResult{
		{
			ID:       "score-1",
			TenantID: "tenant-001",
			Claim: domain.ClaimInput{
				CustomerID: "C-100", Name: "Jane Doe", Diagnosis: "Cancer", HospitalType: "Private", ClaimAmount: 350000,
			},
			Profile:         domain.CustomerProfile{Age: 50, PreviousClaims: 7},
			Verdict:         domain.VerdictFraud,
			Probability:     0.6,
			BaseProbability: 0.05,
			RulesFired: []domain.RuleHit{
				{RuleID: domain.RuleFrequentPriorClaims},
				{RuleID: domain.RuleHighClaimAmount},
			},
			ModelVersion: "nb-1",
			Timestamp:    ts,
		},
		{
			ID:             "score-2",
			TenantID:       "tenant-001",
			Claim:          domain.ClaimInput{CustomerID: "C-200", Diagnosis: "Gout"},
			Verdict:        domain.VerdictLegitimate,
			ModelDegraded:  true,
			FallbackFields: []string{"Diagnosis", "HospitalType"},
			Timestamp:      ts.Add(time.Minute),
		},
	}

	var buf bytes.Buffer
	require.NoError(t, writeAuditRows(&buf, toAuditRows(results)))

	rows, err := parquet.Read[auditRow](bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "score-1", rows[0].ScoreID)
	assert.Equal(t, "Fraud", rows[0].Verdict)
	assert.Equal(t, 350000.0, rows[0].ClaimAmount)
	assert.Equal(t, int64(7), rows[0].PreviousClaims)
	assert.Equal(t, domain.RuleFrequentPriorClaims+","+domain.RuleHighClaimAmount, rows[0].RulesFired)
	assert.True(t, rows[0].Timestamp.Equal(ts))

	assert.True(t, rows[1].ModelDegraded)
	assert.Equal(t, "Diagnosis,HospitalType", rows[1].FallbackFields)
	assert.Empty(t, rows[1].RulesFired)
}

func TestParseSince(t *testing.T) {
	got, err := parseSince("2025-03-14")
	require.NoError(t, err)
	assert.Equal(t, time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC), got)

	got, err = parseSince("2025-03-14T09:30:00Z")
	require.NoError(t, err)
	assert.Equal(t, 9, got.Hour())

	got, err = parseSince("")
	require.NoError(t, err)
	assert.True(t, got.IsZero())

	_, err = parseSince("last tuesday")
	assert.Error(t, err)
}
