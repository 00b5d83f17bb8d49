package domain

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAmountUnmarshalJSON(t *testing.T) {
	tests := []struct {
		name string
		body string
		want Amount
	}{
		{"Integer", `{"claimAmount": 350000}`, "350000"},
		{"Fraction", `{"claimAmount": 5000.75}`, "5000.75"},
		{"Exponent", `{"claimAmount": 3.5e5}`, "3.5e5"},
		{"Negative", `{"claimAmount": -10}`, "-10"},
		{"String", `{"claimAmount": "350000"}`, "350000"},
		{"NonNumericString", `{"claimAmount": "three hundred"}`, "three hundred"},
		{"Null", `{"claimAmount": null}`, ""},
		{"Missing", `{}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var req ClaimRequest
			require.NoError(t, json.Unmarshal([]byte(tt.body), &req))
			assert.Equal(t, tt.want, req.ClaimAmount)
		})
	}

	for _, body := range []string{`{"claimAmount": true}`, `{"claimAmount": [1]}`, `{"claimAmount": {"v": 1}}`} {
		var req ClaimRequest
		assert.Error(t, json.Unmarshal([]byte(body), &req), body)
	}
}

func TestClaimMessageKeepsAmountText(t *testing.T) {
	in := ClaimMessage{RequestID: "req-1", Claim: ClaimRequest{CustomerID: "C1", ClaimAmount: "1200.10"}}
	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"claimAmount":"1200.10"`)

	var out ClaimMessage
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)
}
