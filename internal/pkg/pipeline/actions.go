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
	"time"

	"github.com/go-arcade/relay/internal/pkg/errdefs"
	"github.com/go-arcade/relay/internal/pkg/executor"
	"github.com/go-arcade/relay/internal/pkg/promote"
	"github.com/go-arcade/relay/internal/pkg/registry"
	"github.com/go-arcade/relay/pkg/log"
	"github.com/go-arcade/relay/pkg/retry"
)

// actions returns the built-in actions bound to one run.
func (o *Orchestrator) actions(ex *execution) *executor.ActionExecutor {
	return executor.NewActionExecutor().
		Register(UsesResolve, func(ctx context.Context, req *executor.ExecutionRequest) (map[string]string, error) {
			return o.resolve(ctx, ex)
		}).
		Register(UsesPublish, func(ctx context.Context, req *executor.ExecutionRequest) (map[string]string, error) {
			return o.publish(ctx, ex, req.Step.With["environment"])
		}).
		Register(UsesPromote, func(ctx context.Context, req *executor.ExecutionRequest) (map[string]string, error) {
			return o.promote(ctx, ex, req.Step.With["environment"])
		})
}

func (o *Orchestrator) registryFor(env string) (registry.Registry, error) {
	e, ok := o.deps.Promoter.Environment(env)
	if !ok {
		return nil, fmt.Errorf("environment %q is not configured", env)
	}
	return o.deps.Registries.Get(e.Registry)
}

func (o *Orchestrator) retryOpts(op string) []retry.Option {
	return append(o.opts.Retry.Options(),
		retry.WithRetryIf(errdefs.IsRetryable),
		retry.OnRetry(func(attempt int, err error, wait time.Duration) {
			log.Warnw("retrying", "op", op, "attempt", attempt, "wait", wait, "error", err)
		}),
	)
}

// resolve pulls the dispatched tag from the source environment's registry.
func (o *Orchestrator) resolve(ctx context.Context, ex *execution) (map[string]string, error) {
	in := ex.run.Trigger.Dispatch
	if in == nil {
		return nil, errors.New("resolve needs a dispatch trigger")
	}
	reg, err := o.registryFor(in.PromoteFrom)
	if err != nil {
		return nil, err
	}

	var img registry.Image
	err = retry.Do(ctx, func(ctx context.Context) error {
		var err error
		img, err = reg.Pull(ctx, in.ImageTag)
		return err
	}, o.retryOpts("pull "+in.ImageTag)...)
	if err != nil {
		return nil, err
	}
	return map[string]string{"image": img.Ref, "digest": img.Digest}, nil
}

// publish pushes the run's image to the environment's registry under that
// registry's tag convention.
func (o *Orchestrator) publish(ctx context.Context, ex *execution, env string) (map[string]string, error) {
	reg, err := o.registryFor(env)
	if err != nil {
		return nil, err
	}
	img := ex.currentImage()
	if img.Ref == "" {
		return nil, errors.New("no image to publish: no earlier stage produced an image output")
	}
	commit := ex.run.Trigger.Commit
	tag, err := reg.TagFor(env, commit, ex.run.Version)
	if err != nil {
		return nil, err
	}

	var art registry.Artifact
	err = retry.Do(ctx, func(ctx context.Context) error {
		var err error
		art, err = reg.Push(ctx, img, tag)
		return err
	}, o.retryOpts("push "+reg.Name()+" "+tag)...)
	switch {
	case errors.Is(err, errdefs.ErrTagConflict):
		o.deps.Metrics.Pushed(reg.Name(), "conflict")
	case err != nil:
		o.deps.Metrics.Pushed(reg.Name(), "error")
	default:
		o.deps.Metrics.Pushed(reg.Name(), "pushed")
	}
	if err != nil {
		return nil, err
	}

	art.Commit = commit
	ex.recordArtifact(env, art)
	log.Infow("artifact published", "run", ex.run.ID, "environment", env, "reference", art.Reference(), "digest", art.Digest)
	return map[string]string{
		"tag":            art.Tag,
		"digest":         art.Digest,
		"reference":      art.Reference(),
		"scan_reference": reg.ScanReference(art),
	}, nil
}

// promote hands the artifact published for env to the promoter.
func (o *Orchestrator) promote(ctx context.Context, ex *execution, env string) (map[string]string, error) {
	art, ok := ex.artifact(env)
	if !ok {
		return nil, fmt.Errorf("no artifact published for %s", env)
	}
	var source string
	if in := ex.run.Trigger.Dispatch; in != nil {
		source = in.PromoteFrom
	}

	pr, err := o.deps.Promoter.Promote(ctx, promote.Request{
		RunID:       ex.run.ID,
		Environment: env,
		Source:      source,
		Artifact:    art,
	})
	ex.recordPromotion(pr)
	outputs := map[string]string{"status": string(pr.Status), "image": pr.Image}
	if pr.ApprovalID != "" {
		outputs["approval"] = pr.ApprovalID
	}
	return outputs, err
}
