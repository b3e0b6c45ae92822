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
	"os"
	"path"
	"regexp"
	"slices"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/go-arcade/relay/internal/pkg/gate"
	"github.com/go-arcade/relay/pkg/dag"
)

// Built-in actions.
const (
	UsesPublish = "publish"
	UsesPromote = "promote"
	UsesResolve = "resolve"
)

// StageDef is one stage of a pipeline definition.
type StageDef struct {
	Name      string            `yaml:"name"`
	Needs     []string          `yaml:"needs,omitempty"`
	Run       string            `yaml:"run,omitempty"`
	Uses      string            `yaml:"uses,omitempty"`
	With      map[string]string `yaml:"with,omitempty"`
	Category  gate.Category     `yaml:"category"`
	Policy    gate.Policy       `yaml:"policy,omitempty"`
	Gate      string            `yaml:"gate,omitempty"`
	Timeout   time.Duration     `yaml:"timeout,omitempty"`
	Artifacts []string          `yaml:"artifacts,omitempty"`
	// On limits the stage to some trigger kinds; empty means every trigger.
	On []TriggerKind `yaml:"on,omitempty"`
}

// Expands reports whether the stage is instantiated once per environment.
func (s StageDef) Expands() bool { return s.Uses == UsesPublish || s.Uses == UsesPromote }

// Categories maps each stage name to its gate category.
func (d *Definition) Categories() map[string]gate.Category {
	out := make(map[string]gate.Category, len(d.Stages))
	for _, s := range d.Stages {
		out[s.Name] = s.Category
	}
	return out
}

func (s StageDef) runsOn(k TriggerKind) bool { return len(s.On) == 0 || slices.Contains(s.On, k) }

// Definition is the declarative pipeline.
type Definition struct {
	Name string `yaml:"name"`
	// IntegrationBranch PRs promote to dev and qa.
	IntegrationBranch string `yaml:"integration_branch"`
	// ReleaseBranches are path.Match patterns; PRs into them promote to staging.
	ReleaseBranches []string      `yaml:"release_branches"`
	Timeout         time.Duration `yaml:"timeout,omitempty"`
	Stages          []StageDef    `yaml:"stages"`
}

var stageName = regexp.MustCompile(`^[a-z][a-z0-9_-]*$`)

// LoadDefinition reads a YAML definition from file.
func LoadDefinition(file string) (*Definition, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read pipeline definition: %w", err)
	}
	return ParseDefinition(data)
}

func ParseDefinition(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("parse pipeline definition: %w", err)
	}
	def.setDefaults()
	return &def, nil
}

func (d *Definition) setDefaults() {
	if d.Name == "" {
		d.Name = "release"
	}
	if d.IntegrationBranch == "" {
		d.IntegrationBranch = "develop"
	}
	if len(d.ReleaseBranches) == 0 {
		d.ReleaseBranches = []string{"release/*"}
	}
	if d.Timeout <= 0 {
		d.Timeout = 30 * time.Minute
	}
	for i := range d.Stages {
		s := &d.Stages[i]
		if s.Policy == "" {
			s.Policy = gate.Hard
		}
		if s.Category == "" {
			switch s.Uses {
			case UsesPublish, UsesResolve:
				s.Category = gate.Publish
			case UsesPromote:
				s.Category = gate.Deploy
			default:
				s.Category = gate.Build
			}
		}
	}
}

// Validate checks the definition. compile, when set, checks gate expressions.
func (d *Definition) Validate(compile func(string) error) error {
	if len(d.Stages) == 0 {
		return fmt.Errorf("pipeline %s has no stages", d.Name)
	}
	for _, p := range d.ReleaseBranches {
		if _, err := path.Match(p, ""); err != nil {
			return fmt.Errorf("release branch pattern %q: %w", p, err)
		}
	}

	nodes := make([]dag.NamedNode, 0, len(d.Stages))
	for _, s := range d.Stages {
		if !stageName.MatchString(s.Name) {
			return fmt.Errorf("stage name %q must match %s", s.Name, stageName)
		}
		if (s.Run == "") == (s.Uses == "") {
			return fmt.Errorf("stage %s: exactly one of run and uses is required", s.Name)
		}
		switch s.Uses {
		case "", UsesPublish, UsesPromote, UsesResolve:
		default:
			return fmt.Errorf("stage %s: unknown action %q", s.Name, s.Uses)
		}
		switch s.Category {
		case gate.Build, gate.Quality, gate.Security, gate.Publish, gate.Deploy:
		default:
			return fmt.Errorf("stage %s: unknown category %q", s.Name, s.Category)
		}
		if s.Policy != gate.Hard && s.Policy != gate.Advisory {
			return fmt.Errorf("stage %s: unknown policy %q", s.Name, s.Policy)
		}
		for _, k := range s.On {
			if k != TriggerPullRequest && k != TriggerDispatch {
				return fmt.Errorf("stage %s: unknown trigger %q", s.Name, k)
			}
		}
		if s.Gate != "" && compile != nil {
			if err := compile(s.Gate); err != nil {
				return fmt.Errorf("stage %s: %w", s.Name, err)
			}
		}
		nodes = append(nodes, stageNode{name: s.Name, needs: s.Needs})
	}
	if _, err := dag.New(nodes); err != nil {
		return fmt.Errorf("pipeline %s: %w", d.Name, err)
	}
	return nil
}

type stageNode struct {
	name  string
	needs []string
}

func (n stageNode) NodeName() string        { return n.name }
func (n stageNode) PrevNodeNames() []string { return n.needs }

// DefaultDefinition mirrors a Maven service delivered as a container image.
func DefaultDefinition() *Definition {
	pr := []TriggerKind{TriggerPullRequest}
	def := &Definition{
		Name: "release",
		Stages: []StageDef{
			{Name: "build", Category: gate.Build, On: pr,
				Run: `mvn -B -ntp package -DskipTests`},
			{Name: "test", Needs: []string{"build"}, Category: gate.Build, On: pr,
				Run: `mvn -B -ntp verify && awk -F, 'NR>1 {m+=$8; c+=$9} END {if (m+c>0) printf "coverage=%.1f\n", c*100/(m+c)}' target/site/jacoco/jacoco.csv >> "$RELAY_OUTPUT"`,
				Artifacts: []string{"target/site/jacoco/jacoco.xml"}},
			{Name: "lint", Needs: []string{"build"}, Category: gate.Quality, Policy: gate.Advisory, On: pr,
				Run: `mvn -B -ntp checkstyle:check`},
			{Name: "quality", Needs: []string{"test"}, Category: gate.Quality, On: pr,
				Run:  `mvn -B -ntp sonar:sonar && echo "coverage=${RELAY_TEST_COVERAGE:-0}" >> "$RELAY_OUTPUT"`,
				Gate: `outputs.coverage >= thresholds.coverage`},
			{Name: "secrets", Category: gate.Security, On: pr,
				Run:       `gitleaks detect --no-git --report-path gitleaks.json`,
				Artifacts: []string{"gitleaks.json"}},
			{Name: "image", Needs: []string{"test"}, Category: gate.Build, On: pr,
				Run: `docker build -t "relay/build:$RELAY_RUN_ID" . && echo "image=relay/build:$RELAY_RUN_ID" >> "$RELAY_OUTPUT"`},
			{Name: "image-scan", Needs: []string{"image"}, Category: gate.Security, On: pr,
				Run: `trivy image --quiet --format json --output trivy.json "$RELAY_IMAGE" && ` +
					`echo "critical=$(jq '[.Results[]?.Vulnerabilities[]? | select(.Severity=="CRITICAL")] | length' trivy.json)" >> "$RELAY_OUTPUT" && ` +
					`echo "high=$(jq '[.Results[]?.Vulnerabilities[]? | select(.Severity=="HIGH")] | length' trivy.json)" >> "$RELAY_OUTPUT"`,
				Gate:      `outputs.critical <= thresholds.max_critical && outputs.high <= thresholds.max_high`,
				Artifacts: []string{"trivy.json"}},
			{Name: "resolve", Uses: UsesResolve, On: []TriggerKind{TriggerDispatch}},
			{Name: "publish", Uses: UsesPublish, Needs: []string{"quality", "secrets", "image-scan", "lint", "resolve"}},
			{Name: "promote", Uses: UsesPromote, Needs: []string{"publish"}},
		},
	}
	def.setDefaults()
	return def
}
