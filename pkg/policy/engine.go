package policy

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
	"github.com/open-policy-agent/opa/v1/storage"
	"github.com/open-policy-agent/opa/v1/storage/inmem"
	"github.com/rs/zerolog"

	"github.com/farmops/pondsync/pkg/ponds"
	"github.com/farmops/pondsync/pkg/telemetry"
)

var bedPath = storage.MustParsePath("/pondsync/bed")

// Engine evaluates admission policies for pond operations. It implements
// ponds.Admission.
type Engine struct {
	mu       sync.RWMutex
	policies map[string]*compiledPolicy
	store    storage.Store
	logger   zerolog.Logger
}

var _ ponds.Admission = (*Engine)(nil)

// compiledPolicy represents a compiled Rego policy.
type compiledPolicy struct {
	policy   *Policy
	query    rego.PreparedEvalQuery
	compiled time.Time
}

// NewEngine creates a policy engine with the built-in policies loaded.
func NewEngine(logger zerolog.Logger) (*Engine, error) {
	e := &Engine{
		policies: make(map[string]*compiledPolicy),
		store:    inmem.NewFromObject(map[string]interface{}{"pondsync": map[string]interface{}{}}),
		logger:   logger.With().Str("component", "policy-engine").Logger(),
	}

	if err := e.loadBuiltinPolicies(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to load built-in policies: %w", err)
	}

	return e, nil
}

// Admit evaluates every enabled policy against input and returns the
// violation messages.
func (e *Engine) Admit(ctx context.Context, input ponds.AdmissionInput) ([]string, error) {
	decision, err := e.Evaluate(ctx, input)
	if err != nil {
		return nil, err
	}
	return decision.Reasons(), nil
}

// Evaluate runs every enabled policy against input. Any evaluation error
// fails the whole decision.
func (e *Engine) Evaluate(ctx context.Context, input ponds.AdmissionInput) (decision *Decision, err error) {
	ic := telemetry.StartOperation(ctx, "policy.evaluate", telemetry.AttrOperation.String(input.Operation))
	ctx = ic.Ctx
	defer func() { ic.End(err) }()

	startTime := time.Now()
	e.mu.RLock()
	defer e.mu.RUnlock()

	decision = &Decision{Allowed: true, EvaluatedPolicies: []string{}}

	for _, name := range e.sortedNames() {
		cp := e.policies[name]
		if !cp.policy.Enabled {
			continue
		}
		decision.EvaluatedPolicies = append(decision.EvaluatedPolicies, name)

		violations, err := e.evaluatePolicy(ctx, cp, input)
		if err != nil {
			e.logger.Error().Err(err).
				Str("policy", name).
				Str("operation", input.Operation).
				Msg("Policy evaluation failed")
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		decision.Violations = append(decision.Violations, violations...)
	}

	decision.Allowed = len(decision.Violations) == 0
	decision.Duration = time.Since(startTime)

	e.logger.Debug().
		Str("operation", input.Operation).
		Str("pond", input.Name).
		Bool("allowed", decision.Allowed).
		Int("violations", len(decision.Violations)).
		Dur("duration", decision.Duration).
		Msg("Admission evaluated")

	return decision, nil
}

// evaluatePolicy evaluates a single compiled policy.
func (e *Engine) evaluatePolicy(ctx context.Context, cp *compiledPolicy, input ponds.AdmissionInput) ([]Violation, error) {
	results, err := cp.query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		return nil, fmt.Errorf("policy evaluation error: %w", err)
	}

	var violations []Violation
	for _, result := range results {
		if len(result.Expressions) == 0 {
			continue
		}
		denySet, ok := result.Expressions[0].Value.([]interface{})
		if !ok {
			continue
		}
		for _, d := range denySet {
			violations = append(violations, newViolation(cp.policy.Name, d))
		}
	}

	return violations, nil
}

func newViolation(policy string, result interface{}) Violation {
	v := Violation{Policy: policy}
	switch r := result.(type) {
	case string:
		v.Message = r
	case map[string]interface{}:
		if msg, ok := r["message"].(string); ok {
			v.Message = msg
		}
	}
	if v.Message == "" {
		v.Message = fmt.Sprintf("%s: %v", policy, result)
	}
	return v
}

// SetBounds configures the bed rectangle. A nil bounds disables the check.
func (e *Engine) SetBounds(ctx context.Context, b *Bounds) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if b == nil {
		err := storage.WriteOne(ctx, e.store, storage.RemoveOp, bedPath, nil)
		if err != nil && !storage.IsNotFound(err) {
			return fmt.Errorf("failed to clear bed bounds: %w", err)
		}
		return nil
	}
	if b.MaxX < b.MinX || b.MaxY < b.MinY {
		return fmt.Errorf("invalid bed bounds: %+v", *b)
	}

	value := map[string]interface{}{
		"min_x": b.MinX,
		"max_x": b.MaxX,
		"min_y": b.MinY,
		"max_y": b.MaxY,
	}
	if err := storage.WriteOne(ctx, e.store, storage.AddOp, bedPath, value); err != nil {
		return fmt.Errorf("failed to set bed bounds: %w", err)
	}

	e.logger.Info().Interface("bounds", value).Msg("Bed bounds set")
	return nil
}

// LoadPolicies compiles custom policies from .rego files or directories.
func (e *Engine) LoadPolicies(ctx context.Context, paths []string) error {
	loader := NewLoader(e.logger)
	policies, err := loader.LoadFromPaths(ctx, paths)
	if err != nil {
		return fmt.Errorf("failed to load policies: %w", err)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range policies {
		if _, exists := e.policies[policies[i].Name]; exists {
			return fmt.Errorf("policy %s already loaded", policies[i].Name)
		}
		if err := e.compileAndStorePolicy(ctx, &policies[i]); err != nil {
			return fmt.Errorf("failed to compile policy %s: %w", policies[i].Name, err)
		}
	}

	e.logger.Info().
		Int("count", len(policies)).
		Msg("Policies loaded successfully")

	return nil
}

// compileAndStorePolicy compiles a policy and stores it. Callers hold mu.
func (e *Engine) compileAndStorePolicy(ctx context.Context, policy *Policy) error {
	module, err := ast.ParseModule(policy.Name, policy.Rego)
	if err != nil {
		return fmt.Errorf("failed to parse policy: %w", err)
	}

	r := rego.New(
		rego.Module(policy.Name, policy.Rego),
		rego.Store(e.store),
		rego.Query(module.Package.Path.String()+".deny"),
	)

	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("failed to prepare query: %w", err)
	}

	e.policies[policy.Name] = &compiledPolicy{
		policy:   policy,
		query:    query,
		compiled: time.Now(),
	}

	e.logger.Debug().
		Str("policy", policy.Name).
		Msg("Policy compiled successfully")

	return nil
}

func (e *Engine) loadBuiltinPolicies(ctx context.Context) error {
	builtins := BuiltinPolicies()

	e.mu.Lock()
	defer e.mu.Unlock()

	for i := range builtins {
		if err := e.compileAndStorePolicy(ctx, &builtins[i]); err != nil {
			return fmt.Errorf("failed to compile built-in policy %s: %w", builtins[i].Name, err)
		}
	}

	e.logger.Debug().
		Int("count", len(builtins)).
		Msg("Built-in policies loaded")

	return nil
}

func (e *Engine) sortedNames() []string {
	names := make([]string, 0, len(e.policies))
	for name := range e.policies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// GetPolicy returns a policy by name.
func (e *Engine) GetPolicy(name string) (*Policy, error) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	cp, exists := e.policies[name]
	if !exists {
		return nil, fmt.Errorf("policy not found: %s", name)
	}

	p := *cp.policy
	return &p, nil
}

// ListPolicies returns all loaded policies ordered by name.
func (e *Engine) ListPolicies() []Policy {
	e.mu.RLock()
	defer e.mu.RUnlock()

	policies := make([]Policy, 0, len(e.policies))
	for _, name := range e.sortedNames() {
		policies = append(policies, *e.policies[name].policy)
	}

	return policies
}

// EnablePolicy enables a policy by name.
func (e *Engine) EnablePolicy(name string) error {
	return e.setEnabled(name, true)
}

// DisablePolicy disables a policy by name.
func (e *Engine) DisablePolicy(name string) error {
	return e.setEnabled(name, false)
}

func (e *Engine) setEnabled(name string, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	cp, exists := e.policies[name]
	if !exists {
		return fmt.Errorf("policy not found: %s", name)
	}

	cp.policy.Enabled = enabled
	e.logger.Info().Str("policy", name).Bool("enabled", enabled).Msg("Policy state changed")

	return nil
}
