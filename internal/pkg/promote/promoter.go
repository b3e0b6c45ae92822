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

// Package promote moves published artifacts into deployment environments by
// patching their declarative manifests.
package promote

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-arcade/relay/internal/pkg/errdefs"
	"github.com/go-arcade/relay/internal/pkg/registry"
	"github.com/go-arcade/relay/internal/pkg/storage"
	"github.com/go-arcade/relay/pkg/id"
	"github.com/go-arcade/relay/pkg/lock"
	"github.com/go-arcade/relay/pkg/log"
	"github.com/go-arcade/relay/pkg/metrics"
	"github.com/go-arcade/relay/pkg/retry"
)

// Policy decides whether promotion into an environment waits for a human.
type Policy string

const (
	PolicyAuto     Policy = "auto"
	PolicyApproval Policy = "approval"
)

// Environment is a deployment target.
type Environment struct {
	Name        string `mapstructure:"name" json:"name"`
	Registry    string `mapstructure:"registry" json:"registry"`
	Manifest    string `mapstructure:"manifest" json:"manifest"`
	Policy      Policy `mapstructure:"policy" json:"policy"`
	Application string `mapstructure:"application" json:"application,omitempty"`
}

// Status of a PromotionRequest.
type Status string

const (
	StatusPending   Status = "pending"
	StatusApproved  Status = "approved"
	StatusRejected  Status = "rejected"
	StatusExpired   Status = "expired"
	StatusCommitted Status = "committed"
	StatusUnchanged Status = "unchanged"
	StatusFailed    Status = "failed"
)

// Terminal reports whether the promotion has reached a final status.
func (s Status) Terminal() bool {
	switch s {
	case StatusRejected, StatusExpired, StatusCommitted, StatusUnchanged, StatusFailed:
		return true
	}
	return false
}

// Request asks for artifact to be promoted into Environment.
type Request struct {
	RunID       string
	Environment string
	Source      string
	Artifact    registry.Artifact
}

// PromotionRequest tracks one promotion from creation to manifest commit.
type PromotionRequest struct {
	ID          string            `json:"id"`
	RunID       string            `json:"run_id"`
	Environment string            `json:"environment"`
	Source      string            `json:"source,omitempty"`
	Artifact    registry.Artifact `json:"artifact"`
	Image       string            `json:"image"`
	Manifest    string            `json:"manifest"`
	Status      Status            `json:"status"`
	ApprovalID  string            `json:"approval_id,omitempty"`
	Approver    string            `json:"approver,omitempty"`
	Reason      string            `json:"reason,omitempty"`
	Version     string            `json:"version,omitempty"`
	CreatedAt   time.Time         `json:"created_at"`
	UpdatedAt   time.Time         `json:"updated_at"`
}

func (p *PromotionRequest) set(s Status, reason string) {
	p.Status = s
	if reason != "" {
		p.Reason = reason
	}
	p.UpdatedAt = time.Now()
}

// Deps are the collaborators of a Promoter.
type Deps struct {
	Store      storage.Store
	Locker     lock.Locker
	Approvals  *ApprovalManager
	Reconciler Reconciler
	Committer  Committer // optional
	Metrics    *metrics.Metrics
}

// Promoter applies promotions. Writes into one environment are serialised.
type Promoter struct {
	envs  map[string]Environment
	deps  Deps
	retry retry.Policy
}

func NewPromoter(envs []Environment, policy retry.Policy, deps Deps) (*Promoter, error) {
	if deps.Store == nil {
		return nil, errors.New("promoter needs a manifest store")
	}
	if deps.Locker == nil {
		deps.Locker = lock.NewLocal()
	}
	if deps.Approvals == nil {
		deps.Approvals = NewApprovalManager(0)
	}
	if deps.Reconciler == nil {
		deps.Reconciler = NopReconciler{}
	}
	if policy.MaxAttempts <= 0 {
		policy.MaxAttempts = 5
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = 200 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 5 * time.Second
	}

	p := &Promoter{envs: make(map[string]Environment, len(envs)), deps: deps, retry: policy}
	for _, e := range envs {
		if e.Name == "" || e.Manifest == "" {
			return nil, fmt.Errorf("environment %q needs a name and a manifest", e.Name)
		}
		if e.Policy == "" {
			e.Policy = PolicyAuto
		}
		if e.Policy != PolicyAuto && e.Policy != PolicyApproval {
			return nil, fmt.Errorf("environment %s: unknown policy %q", e.Name, e.Policy)
		}
		p.envs[e.Name] = e
	}
	return p, nil
}

// Environment returns the named environment.
func (p *Promoter) Environment(name string) (Environment, bool) {
	e, ok := p.envs[name]
	return e, ok
}

// Approvals exposes the approval manager for the API and the sweeper.
func (p *Promoter) Approvals() *ApprovalManager { return p.deps.Approvals }

// Promote waits for approval when the environment requires it, then patches
// the environment manifest to the artifact. The returned request is never nil.
func (p *Promoter) Promote(ctx context.Context, req Request) (*PromotionRequest, error) {
	now := time.Now()
	pr := &PromotionRequest{
		ID:          id.PromotionID(),
		RunID:       req.RunID,
		Environment: req.Environment,
		Source:      req.Source,
		Artifact:    req.Artifact,
		Image:       req.Artifact.Reference(),
		Status:      StatusPending,
		CreatedAt:   now,
		UpdatedAt:   now,
	}

	env, ok := p.envs[req.Environment]
	if !ok {
		pr.set(StatusFailed, "unknown environment")
		return pr, fmt.Errorf("environment %q is not configured", req.Environment)
	}
	pr.Manifest = env.Manifest

	if env.Policy == PolicyApproval {
		if err := p.awaitApproval(ctx, pr); err != nil {
			p.deps.Metrics.Promoted(env.Name, string(pr.Status))
			return pr, err
		}
	}

	if err := p.commit(ctx, env, pr); err != nil {
		pr.set(StatusFailed, err.Error())
		p.deps.Metrics.Promoted(env.Name, string(pr.Status))
		return pr, err
	}
	p.deps.Metrics.Promoted(env.Name, string(pr.Status))

	if pr.Status == StatusCommitted {
		if err := p.deps.Reconciler.Sync(ctx, env.Application); err != nil {
			log.Warnw("reconciler signal failed", "environment", env.Name, "application", env.Application, "error", err)
		}
	}
	return pr, nil
}

func (p *Promoter) awaitApproval(ctx context.Context, pr *PromotionRequest) error {
	ar := p.deps.Approvals.Create(pr.RunID, pr.Environment, pr.Image)
	pr.ApprovalID = ar.ID

	decided, err := p.deps.Approvals.Wait(ctx, ar.ID)
	switch {
	case err == nil:
		pr.Approver = decided.DecidedBy
		pr.set(StatusApproved, decided.Reason)
		return nil
	case errdefs.Is(err, errdefs.ApprovalRejected):
		pr.Approver = decided.DecidedBy
		pr.set(StatusRejected, decided.Reason)
	case errdefs.Is(err, errdefs.ApprovalTimeout):
		pr.set(StatusExpired, decided.Reason)
	default:
		pr.set(StatusFailed, err.Error())
	}
	return err
}

// commit is a locked read-modify-write of the manifest with a version check,
// retried while the stored version keeps moving.
func (p *Promoter) commit(ctx context.Context, env Environment, pr *PromotionRequest) error {
	unlock, err := p.deps.Locker.Lock(ctx, "env:"+env.Name)
	if err != nil {
		return fmt.Errorf("lock environment %s: %w", env.Name, err)
	}
	defer unlock()

	var written bool
	opts := append(p.retry.Options(),
		retry.WithRetryIf(errdefs.IsRetryable),
		retry.OnRetry(func(attempt int, err error, wait time.Duration) {
			log.Warnw("manifest write retry", "environment", env.Name, "attempt", attempt, "wait", wait, "error", err)
		}),
	)
	err = retry.Do(ctx, func(ctx context.Context) error {
		obj, err := p.deps.Store.Get(ctx, env.Manifest)
		if err != nil {
			return fmt.Errorf("read manifest %s: %w", env.Manifest, err)
		}
		patched, changed, err := PatchImage(obj.Data, pr.Artifact.Repository, pr.Image)
		if err != nil {
			return fmt.Errorf("patch manifest %s: %w", env.Manifest, err)
		}
		if !changed {
			written = false
			pr.Version = obj.Version
			return nil
		}
		version, err := p.deps.Store.PutIfMatch(ctx, env.Manifest, patched, obj.Version)
		if errors.Is(err, errdefs.ErrVersionStale) {
			return errdefs.New(errdefs.ManifestPatchConflict, "write manifest "+env.Manifest, err)
		}
		if err != nil {
			return fmt.Errorf("write manifest %s: %w", env.Manifest, err)
		}
		written = true
		pr.Version = version
		return nil
	}, opts...)
	if err != nil {
		return err
	}

	if !written {
		pr.set(StatusUnchanged, "")
		log.Infow("manifest already at image", "environment", env.Name, "image", pr.Image)
		return nil
	}
	if p.deps.Committer != nil {
		msg := fmt.Sprintf("promote %s to %s (run %s)", pr.Image, env.Name, pr.RunID)
		if err := p.deps.Committer.Commit(ctx, env.Manifest, msg); err != nil {
			return fmt.Errorf("commit manifest %s: %w", env.Manifest, err)
		}
	}
	pr.set(StatusCommitted, "")
	log.Infow("promotion committed", "environment", env.Name, "image", pr.Image, "run", pr.RunID, "version", pr.Version)
	return nil
}
