package compliance

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Masterminds/semver/v3"
	"github.com/google/cel-go/cel"
)

// Rule is one CEL compliance rule. The expression must evaluate to a bool;
// true means compliant. Version follows semver so rule packs can be
// upgraded audit-safely.
type Rule struct {
	Name       string `yaml:"name" json:"name"`
	Version    string `yaml:"version" json:"version"`
	AppliesTo  string `yaml:"applies_to" json:"applies_to"` // command type prefix, empty = all
	Expression string `yaml:"expression" json:"expression"`
	Message    string `yaml:"message" json:"message"`
}

// CELProvider evaluates rules with a shared CEL environment and a compiled
// program cache.
type CELProvider struct {
	env   *cel.Env
	mu    sync.RWMutex
	rules []Rule
	cache map[string]cel.Program
}

func NewCELProvider() (*CELProvider, error) {
	// Rules see a single "input" map for maximum flexibility.
	env, err := cel.NewEnv(
		cel.Variable("input", cel.MapType(cel.StringType, cel.DynType)),
	)
	if err != nil {
		return nil, fmt.Errorf("compliance: create CEL env: %w", err)
	}
	return &CELProvider{env: env, cache: make(map[string]cel.Program)}, nil
}

// AddRule validates the rule's version and expression, compiles it, and
// adds it to the active set.
func (p *CELProvider) AddRule(r Rule) error {
	if r.Name == "" {
		return fmt.Errorf("compliance: rule name must not be empty")
	}
	if _, err := semver.NewVersion(r.Version); err != nil {
		return fmt.Errorf("compliance: rule %s version %q: %w", r.Name, r.Version, err)
	}
	prg, err := p.compile(r.Expression)
	if err != nil {
		return fmt.Errorf("compliance: rule %s: %w", r.Name, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.cache[r.Expression] = prg
	p.rules = append(p.rules, r)
	return nil
}

func (p *CELProvider) compile(expression string) (cel.Program, error) {
	ast, issues := p.env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("CEL compile error: %w", issues.Err())
	}
	prg, err := p.env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("CEL program error: %w", err)
	}
	return prg, nil
}

// Evaluate runs every applicable rule and collects violations.
func (p *CELProvider) Evaluate(in Input) (Evaluation, error) {
	p.mu.RLock()
	rules := make([]Rule, len(p.rules))
	copy(rules, p.rules)
	p.mu.RUnlock()

	activation := in.asActivation()
	var violations []Violation

	for _, r := range rules {
		if r.AppliesTo != "" && !strings.HasPrefix(in.CommandType, r.AppliesTo) {
			continue
		}

		p.mu.RLock()
		prg := p.cache[r.Expression]
		p.mu.RUnlock()

		out, _, err := prg.Eval(activation)
		if err != nil {
			return Evaluation{}, fmt.Errorf("compliance: rule %s eval: %w", r.Name, err)
		}
		compliant, ok := out.Value().(bool)
		if !ok {
			return Evaluation{}, fmt.Errorf("compliance: rule %s did not return a bool", r.Name)
		}
		if !compliant {
			violations = append(violations, Violation{RuleName: r.Name, Message: r.Message})
		}
	}

	return Evaluation{Allowed: len(violations) == 0, Violations: violations}, nil
}
