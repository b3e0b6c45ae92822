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

// Package app assembles a relay process from its configuration.
package app

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/go-arcade/relay/internal/conf"
	"github.com/go-arcade/relay/internal/pkg/gate"
	"github.com/go-arcade/relay/internal/pkg/pipeline"
	"github.com/go-arcade/relay/internal/pkg/promote"
	"github.com/go-arcade/relay/internal/router"
	"github.com/go-arcade/relay/pkg/cron"
	"github.com/go-arcade/relay/pkg/http"
	"github.com/go-arcade/relay/pkg/pprof"
)

type App struct {
	Conf         *conf.AppConfig
	Logger       *zap.SugaredLogger
	Router       *router.Router
	Orchestrator *pipeline.Orchestrator
	Approvals    *promote.ApprovalManager
	Gates        *gate.Evaluator
	Scheduler    *cron.Scheduler
	Pprof        *pprof.Server
}

func NewApp(
	cfg *conf.AppConfig,
	logger *zap.SugaredLogger,
	rt *router.Router,
	orch *pipeline.Orchestrator,
	approvals *promote.ApprovalManager,
	gates *gate.Evaluator,
	scheduler *cron.Scheduler,
	profiler *pprof.Server,
	_ TraceShutdown,
) *App {
	return &App{
		Conf:         cfg,
		Logger:       logger,
		Router:       rt,
		Orchestrator: orch,
		Approvals:    approvals,
		Gates:        gates,
		Scheduler:    scheduler,
		Pprof:        profiler,
	}
}

// Reload applies a changed configuration file. Gate thresholds and bypass
// settings take effect immediately; everything else needs a restart.
func (a *App) Reload(cfg *conf.AppConfig) {
	if err := a.Gates.Update(cfg.Gates); err != nil {
		a.Logger.Warnw("gate configuration rejected", "error", err)
		return
	}
	a.Logger.Infow("gate configuration reloaded", "thresholds", cfg.Gates.Thresholds, "bypass", cfg.Gates.Bypass)
}

// Serve runs the HTTP API and the approval sweep until ctx ends or the
// listener fails.
func (a *App) Serve(ctx context.Context) error {
	a.Scheduler.Start()
	defer a.Scheduler.Stop()
	if err := a.Pprof.Start(); err != nil {
		return err
	}

	shutdown, errc := http.NewHttp(a.Conf.Http, a.Router.Router())

	var err error
	select {
	case <-ctx.Done():
		a.Logger.Info("shutting down gracefully")
	case err = <-errc:
		a.Logger.Errorw("http listener failed", "addr", a.Conf.Http.Addr(), "error", err)
	}

	sctx, cancel := context.WithTimeout(context.Background(), time.Duration(a.Conf.Http.ShutdownTimeout)*time.Second)
	defer cancel()
	if serr := shutdown(sctx); serr != nil {
		a.Logger.Errorw("http server shutdown error", "error", serr)
	}
	if perr := a.Pprof.Stop(sctx); perr != nil {
		a.Logger.Warnw("pprof server shutdown error", "error", perr)
	}
	return err
}

// RunOnce executes a single trigger and waits for its outcome.
func (a *App) RunOnce(ctx context.Context, t pipeline.Trigger) (*pipeline.PipelineRun, error) {
	return a.Orchestrator.Run(ctx, t)
}
