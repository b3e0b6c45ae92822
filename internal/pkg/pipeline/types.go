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

// Package pipeline turns trigger events into pipeline runs and drives their
// stages through the executor, the gate evaluator, the registries and the
// environment promoter.
package pipeline

import (
	"errors"
	"slices"
	"time"

	"github.com/go-arcade/relay/internal/pkg/executor"
	"github.com/go-arcade/relay/internal/pkg/gate"
	"github.com/go-arcade/relay/internal/pkg/promote"
	"github.com/go-arcade/relay/internal/pkg/registry"
	"github.com/go-arcade/relay/pkg/statemachine"
)

var (
	ErrRunNotFound      = errors.New("pipeline run not found")
	ErrRunFinished      = errors.New("pipeline run already finished")
	ErrTriggerInvalid   = errors.New("invalid trigger")
	ErrOrchestratorDown = errors.New("orchestrator is shutting down")
)

// TriggerKind is the event type that created a run.
type TriggerKind string

const (
	TriggerPullRequest TriggerKind = "pull_request"
	TriggerDispatch    TriggerKind = "dispatch"
)

// Pull request actions that promote.
const (
	ActionOpened = "opened"
	ActionMerged = "merged"
)

// DispatchInput is a manual promotion of an existing artifact.
type DispatchInput struct {
	ImageTag    string `json:"image_tag"`
	PromoteFrom string `json:"promote_from"`
	PromoteTo   string `json:"promote_to"`
	// Version tags production images; defaults to ImageTag when that is a
	// semantic version.
	Version string `json:"version,omitempty"`
}

// Trigger is the event a run was created for.
type Trigger struct {
	Kind         TriggerKind    `json:"kind"`
	Action       string         `json:"action,omitempty"`
	Repository   string         `json:"repository"`
	SourceBranch string         `json:"source_branch,omitempty"`
	TargetBranch string         `json:"target_branch,omitempty"`
	Commit       string         `json:"commit,omitempty"`
	Author       string         `json:"author,omitempty"`
	Dispatch     *DispatchInput `json:"dispatch,omitempty"`
}

// Branch is the branch a run reports against.
func (t Trigger) Branch() string {
	if t.SourceBranch != "" {
		return t.SourceBranch
	}
	return t.TargetBranch
}

// StageResult is the outcome of one stage in one run.
type StageResult struct {
	Name       string                   `json:"name"`
	Needs      []string                 `json:"needs,omitempty"`
	Category   gate.Category            `json:"category"`
	Policy     gate.Policy              `json:"policy"`
	Status     statemachine.StageStatus `json:"status"`
	Outputs    map[string]string        `json:"outputs,omitempty"`
	Reports    []executor.Report        `json:"reports,omitempty"`
	Images     []string                 `json:"images,omitempty"`
	Output     string                   `json:"output,omitempty"`
	Error      string                   `json:"error,omitempty"`
	ErrorKind  string                   `json:"error_kind,omitempty"`
	Advisory   bool                     `json:"advisory,omitempty"`
	Bypassed   bool                     `json:"bypassed,omitempty"`
	StartedAt  *time.Time               `json:"started_at,omitempty"`
	FinishedAt *time.Time               `json:"finished_at,omitempty"`
}

// AuditEntry records a policy exception taken during a run.
type AuditEntry struct {
	Time   time.Time `json:"time"`
	Stage  string    `json:"stage"`
	Action string    `json:"action"`
	Reason string    `json:"reason"`
}

// PipelineRun is one execution. Once Status is terminal the run no longer
// changes.
type PipelineRun struct {
	ID           string                      `json:"id"`
	Trigger      Trigger                     `json:"trigger"`
	Status       statemachine.RunStatus      `json:"status"`
	Environments []string                    `json:"environments,omitempty"`
	Version      string                      `json:"version,omitempty"`
	Stages       []*StageResult              `json:"stages"`
	Artifacts    []registry.Artifact         `json:"artifacts,omitempty"`
	Promotions   []*promote.PromotionRequest `json:"promotions,omitempty"`
	Error        string                      `json:"error,omitempty"`
	ErrorKind    string                      `json:"error_kind,omitempty"`
	Audit        []AuditEntry                `json:"audit,omitempty"`
	CreatedAt    time.Time                   `json:"created_at"`
	StartedAt    *time.Time                  `json:"started_at,omitempty"`
	FinishedAt   *time.Time                  `json:"finished_at,omitempty"`
}

// Stage returns the named stage result.
func (r *PipelineRun) Stage(name string) (*StageResult, bool) {
	for _, s := range r.Stages {
		if s.Name == name {
			return s, true
		}
	}
	return nil, false
}

// Succeeded is the binary status the triggering system consumes.
func (r *PipelineRun) Succeeded() bool { return r.Status == statemachine.RunSucceeded }

// Clone returns a deep copy.
func (r *PipelineRun) Clone() *PipelineRun {
	c := *r
	c.Environments = slices.Clone(r.Environments)
	c.Artifacts = slices.Clone(r.Artifacts)
	c.Audit = slices.Clone(r.Audit)
	c.StartedAt = cloneTime(r.StartedAt)
	c.FinishedAt = cloneTime(r.FinishedAt)
	if r.Trigger.Dispatch != nil {
		d := *r.Trigger.Dispatch
		c.Trigger.Dispatch = &d
	}
	c.Stages = make([]*StageResult, len(r.Stages))
	for i, s := range r.Stages {
		sc := *s
		sc.Needs = slices.Clone(s.Needs)
		sc.Reports = slices.Clone(s.Reports)
		sc.Images = slices.Clone(s.Images)
		sc.StartedAt = cloneTime(s.StartedAt)
		sc.FinishedAt = cloneTime(s.FinishedAt)
		if s.Outputs != nil {
			sc.Outputs = make(map[string]string, len(s.Outputs))
			for k, v := range s.Outputs {
				sc.Outputs[k] = v
			}
		}
		c.Stages[i] = &sc
	}
	c.Promotions = make([]*promote.PromotionRequest, len(r.Promotions))
	for i, p := range r.Promotions {
		pc := *p
		c.Promotions[i] = &pc
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
