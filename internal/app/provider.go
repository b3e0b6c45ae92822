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

package app

import (
	"context"
	"time"

	"github.com/docker/docker/client"
	"github.com/google/wire"
	"github.com/redis/go-redis/v9"

	"github.com/go-arcade/relay/internal/conf"
	"github.com/go-arcade/relay/internal/pkg/executor"
	"github.com/go-arcade/relay/internal/pkg/gate"
	"github.com/go-arcade/relay/internal/pkg/notify"
	"github.com/go-arcade/relay/internal/pkg/pipeline"
	"github.com/go-arcade/relay/internal/pkg/promote"
	"github.com/go-arcade/relay/internal/pkg/registry"
	"github.com/go-arcade/relay/internal/pkg/storage"
	"github.com/go-arcade/relay/internal/router"
	"github.com/go-arcade/relay/pkg/cache"
	"github.com/go-arcade/relay/pkg/cron"
	"github.com/go-arcade/relay/pkg/lock"
	"github.com/go-arcade/relay/pkg/log"
	"github.com/go-arcade/relay/pkg/metrics"
	"github.com/go-arcade/relay/pkg/pprof"
	"github.com/go-arcade/relay/pkg/trace"
)

// ProviderSet builds everything a relay process needs from an AppConfig.
var ProviderSet = wire.NewSet(
	log.ProviderSet,
	metrics.ProviderSet,
	router.ProviderSet,
	pprof.ProviderSet,
	ProvideLogConf,
	ProvidePprofConf,
	ProvideTracer,
	ProvideRedis,
	ProvideLocker,
	ProvideRunStore,
	ProvideStorage,
	ProvideEngine,
	ProvideRegistries,
	ProvideApprovals,
	ProvidePromoter,
	ProvideGates,
	ProvideNotifier,
	ProvideExecutors,
	ProvideDefinition,
	ProvideOrchestrator,
	ProvideScheduler,
	NewApp,
)

const registryAPITimeout = 30 * time.Second

// TraceShutdown flushes the tracer provider.
type TraceShutdown func(context.Context) error

func ProvideLogConf(cfg *conf.AppConfig) *log.Conf { return &cfg.Log }

func ProvidePprofConf(cfg *conf.AppConfig) pprof.Conf { return cfg.Pprof }

func ProvideTracer(ctx context.Context, cfg *conf.AppConfig) (TraceShutdown, func(), error) {
	shutdown, err := trace.Init(ctx, cfg.Trace)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdown(ctx); err != nil {
			log.Warnw("tracer shutdown failed", "error", err)
		}
	}
	return shutdown, cleanup, nil
}

// ProvideRedis connects when Redis is enabled and returns nil otherwise.
func ProvideRedis(ctx context.Context, cfg *conf.AppConfig) (*redis.Client, func(), error) {
	if !cfg.Redis.Enable {
		return nil, func() {}, nil
	}
	rdb, err := cache.NewRedis(ctx, cfg.Redis)
	if err != nil {
		return nil, nil, err
	}
	return rdb, func() { _ = rdb.Close() }, nil
}

// ProvideLocker shares locks through Redis when it is available so several
// relay replicas serialise writes to the same manifest.
func ProvideLocker(cfg *conf.AppConfig, rdb *redis.Client) lock.Locker {
	if rdb == nil {
		return lock.NewLocal()
	}
	return lock.NewRedis(rdb, "relay:lock:", cfg.Promotion.LockTTL)
}

func ProvideRunStore(cfg *conf.AppConfig, rdb *redis.Client) pipeline.RunStore {
	if rdb == nil {
		return pipeline.NewMemoryStore()
	}
	return pipeline.NewRedisStore(rdb, "relay:run:", cfg.Pipeline.RunTTL)
}

func ProvideStorage(ctx context.Context, cfg *conf.AppConfig) (storage.Store, error) {
	return storage.New(ctx, cfg.Storage)
}

func ProvideEngine(cfg *conf.AppConfig) (*client.Client, func(), error) {
	cli, err := registry.NewEngine(cfg.Docker)
	if err != nil {
		return nil, nil, err
	}
	return cli, func() { _ = cli.Close() }, nil
}

func ProvideRegistries(ctx context.Context, cfg *conf.AppConfig, engine *client.Client, locker lock.Locker) (registry.Set, error) {
	return registry.New(ctx, cfg.Registries, registry.Deps{
		Engine: engine,
		API:    registry.NewDistribution(registryAPITimeout),
		Locker: locker,
	})
}

func ProvideApprovals(cfg *conf.AppConfig) *promote.ApprovalManager {
	return promote.NewApprovalManager(cfg.Promotion.ApprovalTimeout)
}

func ProvidePromoter(
	cfg *conf.AppConfig,
	store storage.Store,
	locker lock.Locker,
	approvals *promote.ApprovalManager,
	m *metrics.Metrics,
) (*promote.Promoter, error) {
	reconciler, err := promote.NewReconciler(cfg.Reconciler)
	if err != nil {
		return nil, err
	}
	deps := promote.Deps{
		Store:      store,
		Locker:     locker,
		Approvals:  approvals,
		Reconciler: reconciler,
		Metrics:    m,
	}
	if git := cfg.Promotion.Git; git.Dir != "" {
		deps.Committer = promote.NewGitCommitter(git.Dir, git.Push, git.Author)
	}
	return promote.NewPromoter(cfg.Environments, cfg.Pipeline.Retry, deps)
}

func ProvideGates(cfg *conf.AppConfig) (*gate.Evaluator, error) {
	return gate.NewEvaluator(cfg.Gates)
}

func ProvideNotifier(cfg *conf.AppConfig, m *metrics.Metrics) (*notify.Manager, func(), error) {
	nm, err := notify.New(cfg.Notify, m)
	if err != nil {
		return nil, nil, err
	}
	return nm, func() { _ = nm.Close() }, nil
}

func ProvideExecutors(cfg *conf.AppConfig, store storage.Store) *executor.ExecutorManager {
	m := executor.NewExecutorManager(executor.NewPublisher(store, cfg.Pipeline.ReportLinkExpiry))
	m.Register(executor.NewShellExecutor(
		executor.WithShell(cfg.Pipeline.Shell),
		executor.WithDefaultTimeout(cfg.Pipeline.StageTimeout),
	))
	return m
}

// ProvideDefinition loads the configured pipeline file or falls back to the
// built-in definition.
func ProvideDefinition(cfg *conf.AppConfig) (*pipeline.Definition, error) {
	if cfg.Pipeline.Definition == "" {
		return pipeline.DefaultDefinition(), nil
	}
	return pipeline.LoadDefinition(cfg.Pipeline.Definition)
}

func ProvideOrchestrator(
	cfg *conf.AppConfig,
	def *pipeline.Definition,
	executors *executor.ExecutorManager,
	gates *gate.Evaluator,
	registries registry.Set,
	promoter *promote.Promoter,
	notifier *notify.Manager,
	store pipeline.RunStore,
	m *metrics.Metrics,
) (*pipeline.Orchestrator, func(), error) {
	orch, err := pipeline.New(def, pipeline.Options{
		Workspace:    cfg.Pipeline.Workspace,
		MaxParallel:  cfg.Pipeline.MaxParallel,
		Environments: cfg.EnvironmentNames(),
		Retry:        cfg.Pipeline.Retry,
		DetailsURL:   cfg.Http.ExternalURL,
	}, pipeline.Deps{
		Executors:  executors,
		Gates:      gates,
		Registries: registries,
		Promoter:   promoter,
		Notifier:   notifier,
		Store:      store,
		Metrics:    m,
	})
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Http.ShutdownTimeout)*time.Second)
		defer cancel()
		if err := orch.Shutdown(ctx); err != nil {
			log.Warnw("pipeline runs still active at shutdown", "error", err)
		}
	}
	return orch, cleanup, nil
}

// ProvideScheduler schedules the approval sweep.
func ProvideScheduler(cfg *conf.AppConfig, approvals *promote.ApprovalManager) (*cron.Scheduler, func(), error) {
	s := cron.New()
	err := s.AddFunc("approval-sweep", cfg.Promotion.SweepSchedule, func() {
		if n := approvals.Sweep(); n > 0 {
			log.Infow("approval requests expired", "count", n)
		}
	})
	if err != nil {
		return nil, nil, err
	}
	return s, s.Stop, nil
}
