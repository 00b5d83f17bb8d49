package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/opensource-finance/claimguard/internal/artifact"
	"github.com/opensource-finance/claimguard/internal/decision"
	"github.com/opensource-finance/claimguard/internal/domain"
	"github.com/opensource-finance/claimguard/internal/encoder"
	"github.com/opensource-finance/claimguard/internal/model"
	"github.com/opensource-finance/claimguard/internal/repository"
	"github.com/opensource-finance/claimguard/internal/rules"
	"github.com/opensource-finance/claimguard/internal/scoring"
)

// pipeline bundles the components every scoring entry point needs.
type pipeline struct {
	repo   *repository.SQLRepository
	engine *rules.Engine
	scorer *scoring.Scorer
}

func (p *pipeline) Close() {
	p.engine.Close()
	p.repo.Close()
}

// buildPipeline opens the repository, loads the fitted artifacts and the
// rule set, and wires the scorer. Any failure is fatal to the caller.
func buildPipeline(ctx context.Context, cfg *domain.Config, observer scoring.Observer) (*pipeline, error) {
	repo, err := repository.New(cfg.Repository)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize repository: %w", err)
	}
	slog.Info("repository initialized", "driver", cfg.Repository.Driver)

	fail := func(err error) (*pipeline, error) {
		repo.Close()
		return nil, err
	}

	probModel, encoders, err := loadArtifacts(ctx, cfg.Artifacts)
	if err != nil {
		return fail(err)
	}

	engine, err := rules.NewEngine(cfg.Rules.MaxWorkers)
	if err != nil {
		return fail(fmt.Errorf("failed to initialize rule engine: %w", err))
	}
	if err := loadRules(ctx, repo, engine, cfg.Rules.Defaults); err != nil {
		engine.Close()
		return fail(err)
	}
	slog.Info("rule engine initialized", "rules_count", engine.RulesCount())

	policy, err := decision.NewPolicyFromConfig(cfg.Decision)
	if err != nil {
		engine.Close()
		return fail(err)
	}

	scorer, err := scoring.New(scoring.Deps{
		History:  repo,
		Audit:    repo,
		Encoders: encoders,
		Model:    probModel,
		Rules:    engine,
		Policy:   policy,
		Observer: observer,
	})
	if err != nil {
		engine.Close()
		return fail(err)
	}

	return &pipeline{repo: repo, engine: engine, scorer: scorer}, nil
}

func loadArtifacts(ctx context.Context, cfg domain.ArtifactConfig) (domain.ProbabilityModel, *encoder.Set, error) {
	loader := artifact.NewLoader(cfg.S3Region)

	modelData, err := loader.Load(ctx, cfg.ModelURI)
	if err != nil {
		return nil, nil, err
	}
	probModel, err := model.LoadGaussianNB(modelData)
	if err != nil {
		return nil, nil, fmt.Errorf("model artifact %s: %w", cfg.ModelURI, err)
	}

	encData, err := loader.Load(ctx, cfg.EncodersURI)
	if err != nil {
		return nil, nil, err
	}
	encoders, err := encoder.LoadSet(encData)
	if err != nil {
		return nil, nil, fmt.Errorf("encoder artifact %s: %w", cfg.EncodersURI, err)
	}

	slog.Info("artifacts loaded",
		"model_version", probModel.Version(),
		"encoders_version", encoders.Version,
	)
	return probModel, encoders, nil
}

// loadRules seeds an empty rule store with the configured defaults and
// loads the stored set into the engine.
func loadRules(ctx context.Context, repo domain.Repository, engine *rules.Engine, defaults []*domain.RuleConfig) error {
	stored, err := repo.ListRuleConfigs(ctx, domain.GlobalTenantID)
	if err != nil {
		return fmt.Errorf("failed to list rules: %w", err)
	}

	if len(stored) == 0 {
		for _, rule := range defaults {
			if err := engine.ValidateRule(rule); err != nil {
				return fmt.Errorf("invalid default rule: %w", err)
			}
		}
		for _, rule := range defaults {
			if err := repo.SaveRuleConfig(ctx, domain.GlobalTenantID, rule); err != nil {
				return fmt.Errorf("failed to seed rule %s: %w", rule.ID, err)
			}
		}
		slog.Info("seeded default rules", "count", len(defaults))

		if stored, err = repo.ListRuleConfigs(ctx, domain.GlobalTenantID); err != nil {
			return fmt.Errorf("failed to list rules: %w", err)
		}
	}

	if err := engine.ReloadRules(stored); err != nil {
		return fmt.Errorf("failed to load rules: %w", err)
	}
	return nil
}
