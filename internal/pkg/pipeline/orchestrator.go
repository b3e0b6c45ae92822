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
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/semaphore"

	"github.com/go-arcade/relay/internal/pkg/errdefs"
	"github.com/go-arcade/relay/internal/pkg/executor"
	"github.com/go-arcade/relay/internal/pkg/gate"
	"github.com/go-arcade/relay/internal/pkg/notify"
	"github.com/go-arcade/relay/internal/pkg/promote"
	"github.com/go-arcade/relay/internal/pkg/registry"
	"github.com/go-arcade/relay/pkg/dag"
	"github.com/go-arcade/relay/pkg/id"
	"github.com/go-arcade/relay/pkg/log"
	"github.com/go-arcade/relay/pkg/metrics"
	"github.com/go-arcade/relay/pkg/retry"
	"github.com/go-arcade/relay/pkg/safe"
	"github.com/go-arcade/relay/pkg/statemachine"
)

// Options tune the orchestrator.
type Options struct {
	// Workspace is the checked out source stages run in.
	Workspace   string
	MaxParallel int
	// Environments in promotion order.
	Environments []string
	Retry        retry.Policy
	// DetailsURL prefixes links to runs in notifications.
	DetailsURL string
}

// Deps are the orchestrator's collaborators. Notifier and Metrics are optional.
type Deps struct {
	Executors  *executor.ExecutorManager
	Gates      *gate.Evaluator
	Registries registry.Set
	Promoter   *promote.Promoter
	Notifier   *notify.Manager
	Store      RunStore
	Metrics    *metrics.Metrics
}

// Orchestrator creates runs from triggers and executes them concurrently.
type Orchestrator struct {
	def    *Definition
	opts   Options
	deps   Deps
	tracer trace.Tracer

	mu     sync.Mutex
	active map[string]*execution
	closed bool
	wg     sync.WaitGroup
}

func New(def *Definition, opts Options, deps Deps) (*Orchestrator, error) {
	if deps.Executors == nil || deps.Gates == nil || deps.Promoter == nil {
		return nil, errors.New("orchestrator needs executors, gates and a promoter")
	}
	if err := def.Validate(deps.Gates.Compile); err != nil {
		return nil, err
	}
	if err := deps.Gates.Bind(def.Categories()); err != nil {
		return nil, err
	}
	for _, name := range opts.Environments {
		e, ok := deps.Promoter.Environment(name)
		if !ok {
			return nil, fmt.Errorf("environment %q has no promotion target", name)
		}
		if _, err := deps.Registries.Get(e.Registry); err != nil {
			return nil, fmt.Errorf("environment %s: %w", name, err)
		}
	}
	if deps.Store == nil {
		deps.Store = NewMemoryStore()
	}
	if opts.MaxParallel <= 0 {
		opts.MaxParallel = 4
	}
	if opts.Workspace == "" {
		opts.Workspace = "."
	}
	return &Orchestrator{
		def:    def,
		opts:   opts,
		deps:   deps,
		tracer: otel.Tracer("github.com/go-arcade/relay/internal/pkg/pipeline"),
		active: make(map[string]*execution),
	}, nil
}

// execution is the mutable state of one active run.
type execution struct {
	mu        sync.Mutex
	run       *PipelineRun
	fsm       *statemachine.StateMachine[statemachine.RunStatus]
	stageFSM  map[string]*statemachine.StateMachine[statemachine.StageStatus]
	stages    []Stage
	image     map[string]string
	artifacts map[string]registry.Artifact
	executors *executor.ExecutorManager

	ctx       context.Context
	cancel    context.CancelFunc
	cancelled atomic.Bool
	done      chan struct{}
}

func (ex *execution) snapshot() *PipelineRun {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return ex.run.Clone()
}

func (ex *execution) currentImage() registry.Image {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	return registry.Image{Ref: ex.image["image"], Digest: ex.image["digest"]}
}

func (ex *execution) recordArtifact(env string, a registry.Artifact) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.artifacts[env] = a
	ex.run.Artifacts = append(ex.run.Artifacts, a)
}

func (ex *execution) artifact(env string) (registry.Artifact, bool) {
	ex.mu.Lock()
	defer ex.mu.Unlock()
	a, ok := ex.artifacts[env]
	return a, ok
}

func (ex *execution) recordPromotion(pr *promote.PromotionRequest) {
	if pr == nil {
		return
	}
	ex.mu.Lock()
	defer ex.mu.Unlock()
	ex.run.Promotions = append(ex.run.Promotions, pr)
}

// Submit creates a run for t and starts it in the background.
func (o *Orchestrator) Submit(ctx context.Context, t Trigger) (*PipelineRun, error) {
	envs, err := o.def.Environments(t, o.opts.Environments)
	if err != nil {
		return nil, err
	}
	version, err := runVersion(t, envs)
	if err != nil {
		return nil, err
	}
	stages, err := o.def.Plan(t.Kind, envs)
	if err != nil {
		return nil, err
	}

	run := &PipelineRun{
		ID:           id.RunID(),
		Trigger:      t,
		Status:       statemachine.RunPending,
		Environments: envs,
		Version:      version,
		CreatedAt:    time.Now(),
	}
	ex := &execution{
		run:       run,
		fsm:       statemachine.NewRunStateMachine(),
		stageFSM:  make(map[string]*statemachine.StateMachine[statemachine.StageStatus], len(stages)),
		stages:    stages,
		image:     make(map[string]string),
		artifacts: make(map[string]registry.Artifact),
		done:      make(chan struct{}),
	}
	for _, s := range stages {
		run.Stages = append(run.Stages, &StageResult{
			Name:     s.Name,
			Needs:    s.Needs,
			Category: s.Category,
			Policy:   s.Policy,
			Status:   statemachine.StagePending,
		})
		ex.stageFSM[s.Name] = statemachine.NewStageStateMachine()
	}
	ex.executors = o.deps.Executors.With(o.actions(ex))
	ex.ctx, ex.cancel = context.WithCancel(context.WithoutCancel(ctx))

	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		ex.cancel()
		return nil, ErrOrchestratorDown
	}
	o.active[run.ID] = ex
	o.wg.Add(1)
	o.mu.Unlock()

	if err := o.deps.Store.Save(ctx, run); err != nil {
		log.Warnw("save run failed", "run", run.ID, "error", err)
	}
	log.Infow("pipeline run created", "run", run.ID, "trigger", t.Kind, "branch", t.Branch(), "commit", t.Commit,
		"environments", envs, "stages", len(stages))

	snap := ex.snapshot()
	safe.Go(func() {
		defer o.wg.Done()
		o.execute(ex)
	})
	return snap, nil
}

// Run submits t and waits for the run to finish.
func (o *Orchestrator) Run(ctx context.Context, t Trigger) (*PipelineRun, error) {
	run, err := o.Submit(ctx, t)
	if err != nil {
		return nil, err
	}
	return o.Wait(ctx, run.ID)
}

// Wait blocks until the run is terminal or ctx ends.
func (o *Orchestrator) Wait(ctx context.Context, runID string) (*PipelineRun, error) {
	o.mu.Lock()
	ex := o.active[runID]
	o.mu.Unlock()
	if ex != nil {
		select {
		case <-ex.done:
			return ex.snapshot(), nil
		case <-ctx.Done():
			return ex.snapshot(), ctx.Err()
		}
	}
	return o.deps.Store.Get(ctx, runID)
}

// Get returns the current state of a run.
func (o *Orchestrator) Get(ctx context.Context, runID string) (*PipelineRun, error) {
	o.mu.Lock()
	ex := o.active[runID]
	o.mu.Unlock()
	if ex != nil {
		return ex.snapshot(), nil
	}
	return o.deps.Store.Get(ctx, runID)
}

// List returns recent runs, newest first.
func (o *Orchestrator) List(ctx context.Context, limit int) ([]*PipelineRun, error) {
	return o.deps.Store.List(ctx, limit)
}

// Cancel stops scheduling, cancels running stages and skips the rest.
// Published artifacts stay published.
func (o *Orchestrator) Cancel(ctx context.Context, runID string) error {
	o.mu.Lock()
	ex := o.active[runID]
	o.mu.Unlock()
	if ex == nil {
		if _, err := o.deps.Store.Get(ctx, runID); err != nil {
			return err
		}
		return fmt.Errorf("%w: %s", ErrRunFinished, runID)
	}
	if ex.cancelled.CompareAndSwap(false, true) {
		log.Infow("pipeline run cancel requested", "run", runID)
	}
	ex.cancel()
	return nil
}

// Shutdown cancels active runs and waits for them to settle.
func (o *Orchestrator) Shutdown(ctx context.Context) error {
	o.mu.Lock()
	o.closed = true
	for _, ex := range o.active {
		ex.cancelled.Store(true)
		ex.cancel()
	}
	o.mu.Unlock()

	done := make(chan struct{})
	go func() {
		o.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type stageOutcome struct {
	stage    Stage
	result   *executor.ExecutionResult
	decision gate.Decision
}

func (o *Orchestrator) execute(ex *execution) {
	ctx, span := o.tracer.Start(ex.ctx, "pipeline.run", trace.WithAttributes(
		attribute.String("relay.run_id", ex.run.ID),
		attribute.String("relay.trigger", string(ex.run.Trigger.Kind)),
	))
	defer span.End()
	defer ex.cancel()

	o.notify(ex)

	byName := make(map[string]Stage, len(ex.stages))
	nodes := make([]dag.NamedNode, len(ex.stages))
	for i, s := range ex.stages {
		byName[s.Name] = s
		nodes[i] = s
	}
	g, err := dag.New(nodes)
	if err != nil {
		o.finish(ctx, ex, errdefs.New(errdefs.Internal, "plan", err))
		return
	}

	var (
		sem      = semaphore.NewWeighted(int64(o.opts.MaxParallel))
		results  = make(chan stageOutcome, len(ex.stages))
		started  = make(map[string]bool, len(ex.stages))
		passed   []string
		inflight int
		blocking error
	)
	for {
		if blocking == nil && !ex.cancelled.Load() {
			ready, err := g.GetSchedulableNodeNames(passed...)
			if err != nil {
				blocking = errdefs.New(errdefs.Internal, "schedule", err)
			}
			for _, name := range ready {
				if started[name] {
					continue
				}
				if !sem.TryAcquire(1) {
					break
				}
				started[name] = true
				inflight++
				st := byName[name]
				o.stageStarted(ex, st)
				safe.Go(func() {
					out := o.runStage(ctx, ex, st)
					sem.Release(1)
					results <- out
				})
			}
		}
		if inflight == 0 {
			break
		}

		out := <-results
		inflight--
		o.stageFinished(ex, out)
		if out.decision.Action == gate.Halt {
			if blocking == nil {
				blocking = errdefs.New(out.decision.Kind, out.stage.Name, errors.New(out.decision.Reason))
			}
			continue
		}
		passed = append(passed, out.stage.Name)
	}

	if blocking == nil && ex.cancelled.Load() {
		blocking = errdefs.New(errdefs.Cancelled, "run", context.Canceled)
	}
	o.finish(ctx, ex, blocking)
	if blocking != nil {
		span.SetStatus(codes.Error, blocking.Error())
	}
}

func (o *Orchestrator) stageStarted(ex *execution, st Stage) {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	if ex.fsm.Current() == statemachine.RunPending {
		if err := ex.fsm.TransitionTo(statemachine.RunRunning, "stage started"); err == nil {
			now := time.Now()
			ex.run.Status = statemachine.RunRunning
			ex.run.StartedAt = &now
		}
	}
	if err := ex.stageFSM[st.Name].TransitionTo(statemachine.StageRunning, "scheduled"); err != nil {
		log.Errorw("stage transition rejected", "run", ex.run.ID, "stage", st.Name, "error", err)
	}
	if r, ok := ex.run.Stage(st.Name); ok {
		now := time.Now()
		r.Status = statemachine.StageRunning
		r.StartedAt = &now
	}
}

// runStage always yields an outcome. A panic in an executor or gate halts
// the run as an internal failure instead of leaving the scheduler waiting.
func (o *Orchestrator) runStage(ctx context.Context, ex *execution, st Stage) (out stageOutcome) {
	ctx, span := o.tracer.Start(ctx, "pipeline.stage", trace.WithAttributes(
		attribute.String("relay.run_id", ex.run.ID),
		attribute.String("relay.stage", st.Name),
	))
	defer span.End()
	defer func() {
		if r := recover(); r != nil {
			log.Errorw("stage panicked", "run", ex.run.ID, "stage", st.Name, "panic", r, "stack", string(debug.Stack()))
			reason := fmt.Sprintf("stage panicked: %v", r)
			res := executor.NewExecutionResult("none")
			res.Complete(false, -1, errors.New(reason))
			span.SetStatus(codes.Error, reason)
			out = stageOutcome{stage: st, result: res, decision: gate.Decision{Action: gate.Halt, Kind: errdefs.Internal, Reason: reason}}
		}
	}()

	timeout := st.Timeout
	if timeout <= 0 && st.Uses != UsesPromote {
		timeout = o.def.Timeout
	}
	req := &executor.ExecutionRequest{
		RunID: ex.run.ID,
		Step: &executor.StepInfo{
			Name:      st.Name,
			Run:       st.Run,
			Uses:      st.Uses,
			With:      st.With,
			Artifacts: st.Artifacts,
		},
		Workspace: o.opts.Workspace,
		Env:       o.stageEnv(ex),
		Timeout:   timeout,
	}

	log.Infow("stage started", "run", ex.run.ID, "stage", st.Name)
	res, err := ex.executors.Execute(ctx, req)
	if res == nil {
		res = executor.NewExecutionResult("none")
		res.Complete(false, -1, err)
	}
	if err == nil && !res.Success {
		err = errors.New(res.Error)
	}

	decision := o.deps.Gates.Decide(gate.Rule{
		Stage:    st.Name,
		Category: st.Category,
		Policy:   st.Policy,
		Expr:     st.Gate,
	}, gate.Input{Succeeded: err == nil, Outputs: res.Outputs, Err: err})
	if !decision.Passed && ex.cancelled.Load() {
		decision = gate.Decision{Action: gate.Halt, Kind: errdefs.Cancelled, Reason: "run cancelled"}
	}
	if !decision.Passed {
		span.SetStatus(codes.Error, decision.Reason)
	}
	return stageOutcome{stage: st, result: res, decision: decision}
}

func (o *Orchestrator) stageFinished(ex *execution, out stageOutcome) {
	ex.mu.Lock()
	r, _ := ex.run.Stage(out.stage.Name)
	d, res := out.decision, out.result

	status := statemachine.StageSuccess
	if !d.Passed {
		status = statemachine.StageFailure
	}
	if err := ex.stageFSM[out.stage.Name].TransitionTo(status, statemachine.Event(d.Action)); err != nil {
		log.Errorw("stage transition rejected", "run", ex.run.ID, "stage", out.stage.Name, "error", err)
	}

	now := time.Now()
	r.Status = status
	r.FinishedAt = &now
	r.Outputs = res.Outputs
	r.Reports = res.Reports
	r.Output = res.Output
	r.Advisory = d.Advisory
	r.Bypassed = d.Bypassed
	if !d.Passed {
		r.Error = d.Reason
		r.ErrorKind = string(d.Kind)
	}
	if img := res.Outputs["image"]; img != "" && d.Action == gate.Continue && out.stage.Uses != UsesPromote {
		ex.image = map[string]string{"image": img, "digest": res.Outputs["digest"]}
		r.Images = append(r.Images, img)
	}
	if ref := res.Outputs["reference"]; ref != "" {
		r.Images = append(r.Images, ref)
	}
	if d.Bypassed {
		ex.run.Audit = append(ex.run.Audit, AuditEntry{Time: now, Stage: r.Name, Action: "gate-bypass", Reason: d.Reason})
	}
	snap := ex.run.Clone()
	ex.mu.Unlock()

	switch {
	case d.Bypassed:
		log.Warnw("gate bypassed", "run", snap.ID, "stage", r.Name, "kind", d.Kind, "reason", d.Reason)
		o.deps.Metrics.GateBypassed(r.Name)
	case d.Advisory:
		log.Warnw("advisory stage failed", "run", snap.ID, "stage", r.Name, "kind", d.Kind, "reason", d.Reason)
	case !d.Passed:
		log.Errorw("stage failed", "run", snap.ID, "stage", r.Name, "kind", d.Kind, "reason", d.Reason)
	default:
		log.Infow("stage succeeded", "run", snap.ID, "stage", r.Name, "duration", res.Duration)
	}
	o.deps.Metrics.StageFinished(out.stage.Template, string(status), res.Duration)

	if err := o.deps.Store.Save(context.Background(), snap); err != nil {
		log.Warnw("save run failed", "run", snap.ID, "error", err)
	}
}

// finish skips every stage that never started and moves the run to its
// terminal state.
func (o *Orchestrator) finish(ctx context.Context, ex *execution, blocking error) {
	ex.mu.Lock()
	now := time.Now()
	for _, r := range ex.run.Stages {
		if r.Status != statemachine.StagePending {
			continue
		}
		if err := ex.stageFSM[r.Name].TransitionTo(statemachine.StageSkipped, "not scheduled"); err == nil {
			r.Status = statemachine.StageSkipped
		}
	}

	target := statemachine.RunSucceeded
	switch {
	case errdefs.Is(blocking, errdefs.Cancelled) || ex.cancelled.Load():
		target = statemachine.RunCancelled
	case blocking != nil:
		target = statemachine.RunFailed
	}
	if target == statemachine.RunSucceeded && ex.fsm.Current() == statemachine.RunPending {
		_ = ex.fsm.TransitionTo(statemachine.RunRunning, "no stages")
	}
	if err := ex.fsm.TransitionTo(target, statemachine.Event(target)); err != nil {
		log.Errorw("run transition rejected", "run", ex.run.ID, "error", err)
	}
	ex.run.Status = ex.fsm.Current()
	ex.run.FinishedAt = &now
	if blocking != nil {
		ex.run.Error = blocking.Error()
		ex.run.ErrorKind = string(errdefs.KindOf(blocking))
	}
	snap := ex.run.Clone()
	ex.mu.Unlock()

	if err := o.deps.Store.Save(context.WithoutCancel(ctx), snap); err != nil {
		log.Warnw("save run failed", "run", snap.ID, "error", err)
	}
	o.deps.Metrics.RunFinished(string(snap.Trigger.Kind), string(snap.Status))
	log.Infow("pipeline run finished", "run", snap.ID, "status", snap.Status, "error_kind", snap.ErrorKind)
	o.notify(ex)

	o.mu.Lock()
	delete(o.active, snap.ID)
	o.mu.Unlock()
	close(ex.done)
}

// stageEnv is the environment every stage of the run sees, including the
// outputs of finished stages as RELAY_<STAGE>_<KEY>.
func (o *Orchestrator) stageEnv(ex *execution) map[string]string {
	ex.mu.Lock()
	defer ex.mu.Unlock()

	t := ex.run.Trigger
	env := map[string]string{
		"RELAY_RUN_ID":     ex.run.ID,
		"RELAY_TRIGGER":    string(t.Kind),
		"RELAY_REPOSITORY": t.Repository,
		"RELAY_BRANCH":     t.Branch(),
		"RELAY_COMMIT":     t.Commit,
		"RELAY_VERSION":    ex.run.Version,
		"RELAY_IMAGE":      ex.image["image"],
	}
	for _, r := range ex.run.Stages {
		for k, v := range r.Outputs {
			env[envName("RELAY", r.Name, k)] = v
		}
	}
	return env
}

func envName(parts ...string) string {
	s := strings.ToUpper(strings.Join(parts, "_"))
	return strings.Map(func(r rune) rune {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_' {
			return r
		}
		return '_'
	}, s)
}

func (o *Orchestrator) notify(ex *execution) {
	if o.deps.Notifier == nil {
		return
	}
	run := ex.snapshot()
	o.deps.Notifier.Notify(ex.ctx, eventFor(run, o.opts.DetailsURL))
}

func eventFor(run *PipelineRun, detailsURL string) notify.Event {
	t := run.Trigger
	ev := notify.Event{
		RunID:        run.ID,
		Status:       string(run.Status),
		Trigger:      string(t.Kind),
		Repository:   t.Repository,
		Branch:       t.Branch(),
		Commit:       t.Commit,
		Author:       t.Author,
		Environments: run.Environments,
		Error:        run.Error,
		ErrorKind:    run.ErrorKind,
	}
	switch {
	case len(run.Artifacts) > 0:
		ev.ArtifactTag = run.Artifacts[len(run.Artifacts)-1].Tag
	case t.Dispatch != nil:
		ev.ArtifactTag = t.Dispatch.ImageTag
	}
	for _, s := range run.Stages {
		for _, rep := range s.Reports {
			if rep.URL != "" {
				ev.Reports = append(ev.Reports, notify.Link{Name: s.Name + "/" + rep.Path, URL: rep.URL})
			}
		}
	}
	sort.Slice(ev.Reports, func(i, j int) bool { return ev.Reports[i].Name < ev.Reports[j].Name })
	if detailsURL != "" {
		ev.DetailsURL = strings.TrimRight(detailsURL, "/") + "/api/v1/runs/" + run.ID
	}
	return ev
}

// runVersion is the semantic version production artifacts are tagged with.
func runVersion(t Trigger, envs []string) (string, error) {
	if t.Dispatch == nil {
		return "", nil
	}
	v := t.Dispatch.Version
	if v == "" && registry.ValidVersion(t.Dispatch.ImageTag) {
		v = t.Dispatch.ImageTag
	}
	for _, e := range envs {
		if e == registry.ProdEnvironment && !registry.ValidVersion(v) {
			return "", fmt.Errorf("%w: production needs a semantic version, got %q", ErrTriggerInvalid, v)
		}
	}
	return v, nil
}
