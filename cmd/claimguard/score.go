package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/opensource-finance/claimguard/internal/domain"
)

var scoreFlags struct {
	tenant string
	claim  domain.ClaimRequest
}

var scoreCmd = &cobra.Command{
	Use:   "score",
	Short: "Score a single claim and print the audited decision",
	Example: `  claimguard score --tenant acme --customer-id C-100 --name "Jane Doe" \
    --diagnosis Cancer --hospital-type Private --amount 350000`,
	RunE: runScore,
}

func init() {
	f := scoreCmd.Flags()
	f.StringVar(&scoreFlags.tenant, "tenant", "", "Tenant whose customer history is queried")
	f.StringVar(&scoreFlags.claim.CustomerID, "customer-id", "", "Customer identifier")
	f.StringVar(&scoreFlags.claim.Name, "name", "", "Customer name")
	f.StringVar(&scoreFlags.claim.Diagnosis, "diagnosis", "", "Diagnosis category")
	f.StringVar(&scoreFlags.claim.HospitalType, "hospital-type", "", "Hospital type category")
	f.StringVar((*string)(&scoreFlags.claim.ClaimAmount), "amount", "", "Claim amount")
	for _, name := range []string{"tenant", "customer-id", "name", "amount"} {
		_ = scoreCmd.MarkFlagRequired(name)
	}
	rootCmd.AddCommand(scoreCmd)
}

func runScore(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	p, err := buildPipeline(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer p.Close()

	result, err := p.scorer.Score(ctx, scoreFlags.tenant, &scoreFlags.claim)
	if err != nil {
		if errors.Is(err, domain.ErrProfileNotFound) || errors.Is(err, domain.ErrInvalidClaimData) {
			return fmt.Errorf("claim rejected: %w", err)
		}
		return err
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}
