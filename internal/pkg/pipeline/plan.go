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

package pipeline

import (
	"fmt"
	"path"
	"slices"

	"github.com/go-arcade/relay/pkg/dag"
)

// Environment names.
const (
	EnvDev     = "dev"
	EnvQA      = "qa"
	EnvStaging = "staging"
	EnvProd    = "prod"
)

// Stage is a definition stage instantiated for one run.
type Stage struct {
	StageDef
	Template    string
	Environment string
}

func (s Stage) NodeName() string        { return s.Name }
func (s Stage) PrevNodeNames() []string { return s.Needs }

// Environments returns the environments a trigger may promote into, limited
// to the configured ones and in promotion order.
func (d *Definition) Environments(t Trigger, configured []string) ([]string, error) {
	var want []string
	switch t.Kind {
	case TriggerDispatch:
		in := t.Dispatch
		if in == nil || in.ImageTag == "" || in.PromoteFrom == "" || in.PromoteTo == "" {
			return nil, fmt.Errorf("%w: dispatch needs image_tag, promote_from and promote_to", ErrTriggerInvalid)
		}
		for _, e := range []string{in.PromoteFrom, in.PromoteTo} {
			if !slices.Contains(configured, e) {
				return nil, fmt.Errorf("%w: environment %q is not configured", ErrTriggerInvalid, e)
			}
		}
		if in.PromoteFrom == in.PromoteTo {
			return nil, fmt.Errorf("%w: promote_from and promote_to are both %q", ErrTriggerInvalid, in.PromoteTo)
		}
		return []string{in.PromoteTo}, nil
	case TriggerPullRequest:
		if t.Commit == "" {
			return nil, fmt.Errorf("%w: pull request without commit", ErrTriggerInvalid)
		}
		if t.Action != ActionOpened && t.Action != ActionMerged {
			return nil, nil
		}
		switch {
		case t.TargetBranch == d.IntegrationBranch:
			want = []string{EnvDev, EnvQA}
		case d.isRelease(t.TargetBranch):
			want = []string{EnvStaging}
		}
	default:
		return nil, fmt.Errorf("%w: unknown kind %q", ErrTriggerInvalid, t.Kind)
	}

	var out []string
	for _, e := range want {
		if slices.Contains(configured, e) {
			out = append(out, e)
		}
	}
	return out, nil
}

func (d *Definition) isRelease(branch string) bool {
	for _, p := range d.ReleaseBranches {
		if ok, _ := path.Match(p, branch); ok {
			return true
		}
	}
	return false
}

// Plan instantiates the stages for a trigger. Stages not meant for the
// trigger are dropped along with the edges into them; publish and promote
// stages are instantiated per environment and dropped when there is none.
// The result is in topological order.
func (d *Definition) Plan(kind TriggerKind, envs []string) ([]Stage, error) {
	included := make(map[string]StageDef)
	for _, s := range d.Stages {
		if !s.runsOn(kind) || (s.Expands() && len(envs) == 0) {
			continue
		}
		included[s.Name] = s
	}

	concrete := func(name string) []string {
		s, ok := included[name]
		if !ok {
			return nil
		}
		if !s.Expands() {
			return []string{name}
		}
		out := make([]string, 0, len(envs))
		for _, e := range envs {
			out = append(out, name+"-"+e)
		}
		return out
	}

	// Environments are promoted in order: the entry stages of an
	// environment's delivery chain need the exit stages of the previous one.
	var entries, exits []string
	for _, s := range d.Stages {
		if _, ok := included[s.Name]; !ok || !s.Expands() {
			continue
		}
		entry, exit := true, true
		for _, n := range s.Needs {
			if dep, ok := included[n]; ok && dep.Expands() {
				entry = false
			}
		}
		for _, o := range d.Stages {
			if _, ok := included[o.Name]; ok && o.Expands() && slices.Contains(o.Needs, s.Name) {
				exit = false
			}
		}
		if entry {
			entries = append(entries, s.Name)
		}
		if exit {
			exits = append(exits, s.Name)
		}
	}

	var stages []Stage
	for _, s := range d.Stages {
		if _, ok := included[s.Name]; !ok {
			continue
		}
		targets := []string{""}
		if s.Expands() {
			targets = envs
		}
		for _, env := range targets {
			st := Stage{StageDef: s, Template: s.Name, Environment: env}
			st.Needs = nil
			for _, n := range s.Needs {
				if dep, ok := included[n]; ok && dep.Expands() && env != "" {
					st.Needs = append(st.Needs, n+"-"+env)
					continue
				}
				st.Needs = append(st.Needs, concrete(n)...)
			}
			if i := slices.Index(envs, env); i > 0 && slices.Contains(entries, s.Name) {
				for _, x := range exits {
					st.Needs = append(st.Needs, x+"-"+envs[i-1])
				}
			}
			if env != "" {
				st.Name = s.Name + "-" + env
				st.With = make(map[string]string, len(s.With)+1)
				for k, v := range s.With {
					st.With[k] = v
				}
				st.With["environment"] = env
			}
			stages = append(stages, st)
		}
	}

	nodes := make([]dag.NamedNode, len(stages))
	byName := make(map[string]Stage, len(stages))
	for i, s := range stages {
		nodes[i] = s
		byName[s.Name] = s
	}
	g, err := dag.New(nodes)
	if err != nil {
		return nil, fmt.Errorf("plan %s: %w", d.Name, err)
	}
	order, err := g.TopologicalOrder()
	if err != nil {
		return nil, err
	}
	out := make([]Stage, 0, len(order))
	for _, name := range order {
		out = append(out, byName[name])
	}
	return out, nil
}
