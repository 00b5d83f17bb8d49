package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"
	"github.com/spf13/cobra"

	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/repository"
)

var exportFlags struct {
	tenant string
	since  string
	out    string
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export audited scoring decisions to a Parquet file",
	RunE:  runExport,
}

func init() {
	f := exportCmd.Flags()
	f.StringVar(&exportFlags.tenant, "tenant", "", "Tenant whose decisions are exported")
	f.StringVar(&exportFlags.since, "since", "", "Export decisions at or after this time (RFC3339 or YYYY-MM-DD); default all")
	f.StringVarP(&exportFlags.out, "out", "o", "scores.parquet", "Output file")
	_ = exportCmd.MarkFlagRequired("tenant")
	rootCmd.AddCommand(exportCmd)
}

// auditRow is the flat Parquet layout of one scoring decision.
type auditRow struct {
	ScoreID         string    `parquet:"score_id"`
	TenantID        string    `parquet:"tenant_id"`
	CustomerID      string    `parquet:"customer_id"`
	Name            string    `parquet:"name"`
	Diagnosis       string    `parquet:"diagnosis"`
	HospitalType    string    `parquet:"hospital_type"`
	ClaimAmount     float64   `parquet:"claim_amount"`
	Age             int64     `parquet:"age"`
	PreviousClaims  int64     `parquet:"previous_claims"`
	Verdict         string    `parquet:"verdict"`
	Probability     float64   `parquet:"probability"`
	BaseProbability float64   `parquet:"base_probability"`
	RulesFired      string    `parquet:"rules_fired"`
	ModelVersion    string    `parquet:"model_version"`
	ModelDegraded   bool      `parquet:"model_degraded"`
	FallbackFields  string    `parquet:"fallback_fields"`
	Timestamp       time.Time `parquet:"timestamp"`
}

func runExport(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	since, err := parseSince(exportFlags.since)
	if err != nil {
		return err
	}

	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return fmt.Errorf("failed to initialize repository: %w", err)
	}
	defer repo.Close()

	results, err := repo.ListScoringResultsSince(cmd.Context(), exportFlags.tenant, since)
	if err != nil {
		return fmt.Errorf("failed to read scoring results: %w", err)
	}

	f, err := os.Create(exportFlags.out)
	if err != nil {
		return err
	}
	defer f.Close()

	if err := writeAuditRows(f, toAuditRows(results)); err != nil {
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}

	slog.Info("export complete",
		"tenant_id", exportFlags.tenant,
		"rows", len(results),
		"out", exportFlags.out,
	)
	return nil
}

func parseSince(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.DateOnly, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("--since must be RFC3339 or YYYY-MM-DD: %q", s)
	}
	return t, nil
}

func toAuditRows(results []*domain.ScoringResult) []auditRow {
	rows := make([]auditRow, 0, len(results))
	for _, r := range results {
		fired := make([]string, 0, len(r.RulesFired))
		for _, hit := range r.RulesFired {
			fired = append(fired, hit.RuleID)
		}
		rows = append(rows, auditRow{
			ScoreID:         r.ID,
			TenantID:        r.TenantID,
			CustomerID:      r.Claim.CustomerID,
			Name:            r.Claim.Name,
			Diagnosis:       r.Claim.Diagnosis,
			HospitalType:    r.Claim.HospitalType,
			ClaimAmount:     r.Claim.ClaimAmount,
			Age:             int64(r.Profile.Age),
			PreviousClaims:  int64(r.Profile.PreviousClaims),
			Verdict:         string(r.Verdict),
			Probability:     r.Probability,
			BaseProbability: r.BaseProbability,
			RulesFired:      strings.Join(fired, ","),
			ModelVersion:    r.ModelVersion,
			ModelDegraded:   r.ModelDegraded,
			FallbackFields:  strings.Join(r.FallbackFields, ","),
			Timestamp:       r.Timestamp.UTC(),
		})
	}
	return rows
}

func writeAuditRows(w io.Writer, rows []auditRow) error {
	writer := parquet.NewGenericWriter[auditRow](w)
	if _, err := writer.Write(rows); err != nil {
		return fmt.Errorf("write: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("close writer: %w", err)
	}
	return nil
}
