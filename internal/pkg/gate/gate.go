// Copyright 2025 Arcade Team
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package gate decides whether a pipeline continues after a stage, using
// hard or advisory policies, numeric threshold expressions and an audited
// bypass list.
package gate

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/go-arcade/relay/internal/pkg/errdefs"
)

// Policy says what a failure of the stage means for the run.
type Policy string

const (
	Hard     Policy = "hard"
	Advisory Policy = "advisory"
)

// Category groups stages by the failure class they raise.
type Category string

const (
	Build    Category = "build"
	Quality  Category = "quality"
	Security Category = "security"
	Publish  Category = "publish"
	Deploy   Category = "deploy"
)

// Action is the outcome of a decision.
type Action string

const (
	Continue Action = "continue"
	Halt     Action = "halt"
)

// Rule is the gate attached to one stage.
type Rule struct {
	Stage    string
	Category Category
	Policy   Policy
	// Expr must evaluate to true for the stage to pass, e.g.
	// `outputs.coverage >= thresholds.coverage`.
	Expr string
}

// Input is what the stage produced.
type Input struct {
	Succeeded bool
	Outputs   map[string]string
	Err       error
}

// Decision is the evaluator's verdict.
type Decision struct {
	Action   Action
	Passed   bool
	Kind     errdefs.Kind
	Reason   string
	Advisory bool
	Bypassed bool
}

// Config holds thresholds and the bypass list. A bypass requires a reason.
type Config struct {
	Thresholds   map[string]float64
	Bypass       []string
	BypassReason string
}

func (c Config) Validate() error {
	if len(c.Bypass) > 0 && strings.TrimSpace(c.BypassReason) == "" {
		return errors.New("gate bypass requires a reason")
	}
	return nil
}

// checkBypass rejects bypass entries that name unknown stages or stages
// whose category cannot be bypassed.
func (c Config) checkBypass(stages map[string]Category) error {
	if stages == nil {
		return nil
	}
	for _, name := range c.Bypass {
		cat, ok := stages[name]
		switch {
		case !ok:
			return fmt.Errorf("gate bypass names unknown stage %q", name)
		case cat != Quality && cat != Security:
			return fmt.Errorf("gate bypass for %s: %s stages cannot be bypassed", name, cat)
		}
	}
	return nil
}

// Evaluator is safe for concurrent use; Update swaps its configuration.
type Evaluator struct {
	mu       sync.RWMutex
	cfg      Config
	stages   map[string]Category
	programs map[string]*vm.Program
}

func NewEvaluator(cfg Config) (*Evaluator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{cfg: cfg, programs: make(map[string]*vm.Program)}, nil
}

// Update replaces thresholds and bypasses, e.g. after a config reload.
func (e *Evaluator) Update(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := cfg.checkBypass(e.stages); err != nil {
		return err
	}
	e.cfg = cfg
	return nil
}

// Bind records the category of every stage the evaluator will judge. The
// current and all later bypass lists must only name quality or security
// stages among them.
func (e *Evaluator) Bind(stages map[string]Category) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.cfg.checkBypass(stages); err != nil {
		return err
	}
	e.stages = stages
	return nil
}

// Thresholds returns a copy of the active thresholds.
func (e *Evaluator) Thresholds() map[string]float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]float64, len(e.cfg.Thresholds))
	for k, v := range e.cfg.Thresholds {
		out[k] = v
	}
	return out
}

var compileEnv = map[string]any{
	"outputs":    map[string]any{},
	"thresholds": map[string]float64{},
}

// Compile checks a gate expression and caches the program.
func (e *Evaluator) Compile(src string) error {
	_, err := e.program(src)
	return err
}

func (e *Evaluator) program(src string) (*vm.Program, error) {
	e.mu.RLock()
	p, ok := e.programs[src]
	e.mu.RUnlock()
	if ok {
		return p, nil
	}
	p, err := expr.Compile(src, expr.Env(compileEnv))
	if err != nil {
		return nil, fmt.Errorf("compile gate %q: %w", src, err)
	}
	e.mu.Lock()
	e.programs[src] = p
	e.mu.Unlock()
	return p, nil
}

// Decide evaluates one stage result against its rule.
func (e *Evaluator) Decide(rule Rule, in Input) Decision {
	var (
		kind   errdefs.Kind
		reason string
	)
	switch {
	case !in.Succeeded:
		kind = failureKind(rule.Category, in.Err)
		reason = "stage failed"
		if in.Err != nil {
			reason = in.Err.Error()
		}
	case rule.Expr != "":
		ok, err := e.eval(rule.Expr, in.Outputs)
		if err != nil || !ok {
			kind = gateKind(rule.Category)
			reason = fmt.Sprintf("gate %q not met", rule.Expr)
			if err != nil {
				reason = fmt.Sprintf("gate %q could not be evaluated: %v", rule.Expr, err)
			}
		}
	}
	if kind == "" {
		return Decision{Action: Continue, Passed: true}
	}

	d := Decision{Action: Halt, Kind: kind, Reason: reason}
	if rule.Policy == Advisory {
		d.Action = Continue
		d.Advisory = true
		return d
	}

	e.mu.RLock()
	bypass := slices.Contains(e.cfg.Bypass, rule.Stage)
	bypassReason := e.cfg.BypassReason
	e.mu.RUnlock()
	if bypass && (rule.Category == Quality || rule.Category == Security) {
		d.Action = Continue
		d.Bypassed = true
		d.Reason = fmt.Sprintf("%s (bypassed: %s)", reason, bypassReason)
	}
	return d
}

func (e *Evaluator) eval(src string, outputs map[string]string) (bool, error) {
	p, err := e.program(src)
	if err != nil {
		return false, err
	}
	env := map[string]any{
		"outputs":    typedOutputs(outputs),
		"thresholds": e.Thresholds(),
	}
	out, err := expr.Run(p, env)
	if err != nil {
		return false, err
	}
	b, ok := out.(bool)
	if !ok {
		return false, fmt.Errorf("gate must evaluate to a bool, got %T", out)
	}
	return b, nil
}

// typedOutputs turns numeric and boolean strings into numbers and bools so
// expressions can compare them directly.
func typedOutputs(in map[string]string) map[string]any {
	out := make(map[string]any, len(in))
	for k, v := range in {
		if f, err := strconv.ParseFloat(strings.TrimSuffix(v, "%"), 64); err == nil {
			out[k] = f
			continue
		}
		if b, err := strconv.ParseBool(v); err == nil {
			out[k] = b
			continue
		}
		out[k] = v
	}
	return out
}

func failureKind(c Category, err error) errdefs.Kind {
	if k := errdefs.KindOf(err); k != errdefs.Internal {
		return k
	}
	switch c {
	case Quality:
		return errdefs.QualityGateFailure
	case Security:
		return errdefs.SecurityFindingFailure
	case Publish:
		return errdefs.RegistryError
	default:
		return errdefs.BuildFailure
	}
}

func gateKind(c Category) errdefs.Kind {
	if c == Security {
		return errdefs.SecurityFindingFailure
	}
	return errdefs.QualityGateFailure
}
