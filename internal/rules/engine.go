// Package rules provides the CEL-Go based probability adjustment engine.
package rules

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/cel-go/cel"
	"github.com/google/cel-go/common/types"
	"github.com/google/cel-go/ext"

	"github.com/opensource-finance/claimguard/internal/domain"
)

// Engine applies additive adjustment rules to a base probability.
// Rules are independent: each predicate sees only the claim and profile,
// never the effect of other rules.
type Engine struct {
	mu         sync.RWMutex
	env        *cel.Env
	rules      []*CompiledRule // sorted by rule ID
	maxWorkers int
}

// CompiledRule holds a pre-compiled CEL program.
type CompiledRule struct {
	Config  *domain.RuleConfig
	Program cel.Program
}

// NewEngine creates a new rule engine.
func NewEngine(maxWorkers int) (*Engine, error) {
	if maxWorkers <= 0 {
		maxWorkers = 4
	}

	// Create CEL environment with claim and profile variables
	env, err := cel.NewEnv(
		cel.Variable("claim_amount", cel.DoubleType),
		cel.Variable("previous_claims", cel.IntType),
		cel.Variable("age", cel.IntType),
		cel.Variable("diagnosis", cel.StringType),
		cel.Variable("hospital_type", cel.StringType),
		cel.Variable("customer_id", cel.StringType),
		ext.Strings(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL environment: %w", err)
	}

	return &Engine{
		env:        env,
		maxWorkers: maxWorkers,
	}, nil
}

// ValidateRule compiles and validates a rule without mutating loaded engine rules.
func (e *Engine) ValidateRule(cfg *domain.RuleConfig) error {
	if cfg == nil {
		return fmt.Errorf("rule config is required")
	}

	e.mu.RLock()
	defer e.mu.RUnlock()

	_, err := e.compileRule(cfg)
	return err
}

// LoadRules compiles enabled rules and adds them to the engine.
// A rule with an ID that is already loaded replaces the old one.
func (e *Engine) LoadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	byID := make(map[string]*CompiledRule, len(e.rules)+len(configs))
	for _, r := range e.rules {
		byID[r.Config.ID] = r
	}

	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		byID[cfg.ID] = compiled
	}

	e.rules = sortedRules(byID)
	return nil
}

// ReloadRules clears all existing rules and loads new ones.
// On error the previously loaded rules stay active.
func (e *Engine) ReloadRules(configs []*domain.RuleConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	byID := make(map[string]*CompiledRule, len(configs))
	for _, cfg := range configs {
		if !cfg.Enabled {
			continue
		}
		compiled, err := e.compileRule(cfg)
		if err != nil {
			return err
		}
		byID[cfg.ID] = compiled
	}

	e.rules = sortedRules(byID)
	return nil
}

// Apply evaluates every rule against the claim and profile and returns
// base plus the deltas of all rules that fired, and the fired-rule ledger.
// Deltas are summed in rule ID order so the result does not depend on
// load order or evaluation scheduling.
func (e *Engine) Apply(ctx context.Context, base float64, claim *domain.ClaimInput, profile *domain.CustomerProfile) (float64, []domain.RuleHit) {
	e.mu.RLock()
	rules := e.rules
	e.mu.RUnlock()

	if len(rules) == 0 {
		return base, nil
	}

	activation := map[string]any{
		"claim_amount":    claim.ClaimAmount,
		"previous_claims": int64(profile.PreviousClaims),
		"age":             int64(profile.Age),
		"diagnosis":       claim.Diagnosis,
		"hospital_type":   claim.HospitalType,
		"customer_id":     claim.CustomerID,
	}

	// Parallel evaluation using worker pool pattern
	fired := make([]bool, len(rules))
	var wg sync.WaitGroup

	// Limit concurrency with semaphore
	sem := make(chan struct{}, e.maxWorkers)

	for i, rule := range rules {
		wg.Add(1)
		go func(idx int, r *CompiledRule) {
			defer wg.Done()

			sem <- struct{}{}        // Acquire
			defer func() { <-sem }() // Release

			fired[idx] = e.evaluateRule(ctx, r, activation)
		}(i, rule)
	}

	wg.Wait()

	adjusted := base
	var hits []domain.RuleHit
	for i, r := range rules {
		if !fired[i] {
			continue
		}
		adjusted += r.Config.Delta
		hits = append(hits, domain.RuleHit{
			RuleID: r.Config.ID,
			Name:   r.Config.Name,
			Delta:  r.Config.Delta,
		})
	}

	return adjusted, hits
}

// evaluateRule reports whether a rule's predicate holds.
// An evaluation error counts as not fired.
func (e *Engine) evaluateRule(ctx context.Context, rule *CompiledRule, activation map[string]any) bool {
	out, _, err := rule.Program.ContextEval(ctx, activation)
	if err != nil {
		slog.Warn("rule evaluation failed",
			"rule_id", rule.Config.ID,
			"error", err,
		)
		return false
	}

	b, ok := out.(types.Bool)
	return ok && bool(b)
}

// RulesCount returns the number of loaded rules.
func (e *Engine) RulesCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.rules)
}

// LoadedRules returns the currently loaded rule configurations in evaluation order.
func (e *Engine) LoadedRules() []*domain.RuleConfig {
	e.mu.RLock()
	defer e.mu.RUnlock()

	rules := make([]*domain.RuleConfig, 0, len(e.rules))
	for _, compiled := range e.rules {
		rules = append(rules, compiled.Config)
	}
	return rules
}

// Close cleans up the engine.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rules = nil
	return nil
}

func (e *Engine) compileRule(cfg *domain.RuleConfig) (*CompiledRule, error) {
	if cfg.ID == "" {
		return nil, fmt.Errorf("rule id is required")
	}

	ast, issues := e.env.Compile(cfg.Expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("failed to compile rule %s: %w", cfg.ID, issues.Err())
	}

	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("rule %s: expression must return bool, got %s", cfg.ID, ast.OutputType())
	}

	program, err := e.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("failed to create program for rule %s: %w", cfg.ID, err)
	}

	return &CompiledRule{
		Config:  cfg,
		Program: program,
	}, nil
}

func sortedRules(byID map[string]*CompiledRule) []*CompiledRule {
	rules := make([]*CompiledRule, 0, len(byID))
	for _, r := range byID {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool {
		return rules[i].Config.ID < rules[j].Config.ID
	})
	return rules
}
