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
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-arcade/relay/internal/conf"
	"github.com/go-arcade/relay/internal/pkg/gate"
	"github.com/go-arcade/relay/internal/pkg/pipeline"
	"github.com/go-arcade/relay/internal/pkg/promote"
	"github.com/go-arcade/relay/internal/pkg/registry"
	"github.com/go-arcade/relay/internal/pkg/storage"
	"github.com/go-arcade/relay/internal/router"
	"github.com/go-arcade/relay/pkg/log"
	"github.com/go-arcade/relay/pkg/metrics"
	"github.com/go-arcade/relay/pkg/pprof"
	"github.com/go-arcade/relay/pkg/statemachine"
)

const definition = `
name: release
stages:
  - name: build
    run: echo "image=relay/app:test" >> "$RELAY_OUTPUT"
  - name: publish
    uses: publish
    needs: [build]
  - name: promote
    uses: promote
    needs: [publish]
`

func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}

func testConfig(t *testing.T) *conf.AppConfig {
	t.Helper()
	dir := t.TempDir()
	data := filepath.Join(dir, "data")
	require.NoError(t, os.MkdirAll(data, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(data, "dev.yaml"),
		[]byte("containers:\n  - image: registry.dev/app:0000000\n"), 0o644))
	defFile := filepath.Join(dir, "pipeline.yaml")
	require.NoError(t, os.WriteFile(defFile, []byte(definition), 0o644))

	cfg := &conf.AppConfig{
		Storage:      storage.Conf{Provider: "local", BasePath: data},
		Registries:   map[string]registry.Conf{"dev": {Kind: "memory", Host: "registry.dev", Repository: "app"}},
		Environments: []promote.Environment{{Name: "dev", Registry: "dev", Manifest: "dev.yaml"}},
		Pipeline:     conf.PipelineConf{Definition: defFile, Workspace: dir},
	}
	cfg.Http.Host = "127.0.0.1"
	cfg.Http.Port = freePort(t)
	cfg.SetDefaults()
	cfg.Pipeline.Retry.BaseDelay = time.Millisecond
	cfg.Pipeline.Retry.MaxDelay = time.Millisecond
	require.NoError(t, cfg.Validate())
	return cfg
}

// build wires an App the same way the relay command does.
func build(t *testing.T, cfg *conf.AppConfig) *App {
	t.Helper()
	ctx := context.Background()
	var cleanups []func()
	t.Cleanup(func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	})

	logger, err := log.ProvideLogger(ProvideLogConf(cfg))
	require.NoError(t, err)
	m := metrics.New()
	tracer, cleanup, err := ProvideTracer(ctx, cfg)
	require.NoError(t, err)
	cleanups = append(cleanups, cleanup)
	client, cleanup, err := ProvideRedis(ctx, cfg)
	require.NoError(t, err)
	cleanups = append(cleanups, cleanup)
	locker := ProvideLocker(cfg, client)
	runs := ProvideRunStore(cfg, client)
	store, err := ProvideStorage(ctx, cfg)
	require.NoError(t, err)
	engine, cleanup, err := ProvideEngine(cfg)
	require.NoError(t, err)
	cleanups = append(cleanups, cleanup)
	registries, err := ProvideRegistries(ctx, cfg, engine, locker)
	require.NoError(t, err)
	approvals := ProvideApprovals(cfg)
	promoter, err := ProvidePromoter(cfg, store, locker, approvals, m)
	require.NoError(t, err)
	gates, err := ProvideGates(cfg)
	require.NoError(t, err)
	notifier, cleanup, err := ProvideNotifier(cfg, m)
	require.NoError(t, err)
	cleanups = append(cleanups, cleanup)
	executors := ProvideExecutors(cfg, store)
	def, err := ProvideDefinition(cfg)
	require.NoError(t, err)
	orch, cleanup, err := ProvideOrchestrator(cfg, def, executors, gates, registries, promoter, notifier, runs, m)
	require.NoError(t, err)
	cleanups = append(cleanups, cleanup)
	scheduler, cleanup, err := ProvideScheduler(cfg, approvals)
	require.NoError(t, err)
	cleanups = append(cleanups, cleanup)
	rt := router.ProvideRouter(cfg, orch, approvals, m)
	return NewApp(cfg, logger, rt, orch, approvals, gates, scheduler, pprof.NewServer(ProvidePprofConf(cfg)), tracer)
}

func TestApp_RunOnce(t *testing.T) {
	cfg := testConfig(t)
	a := build(t, cfg)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	run, err := a.RunOnce(ctx, pipeline.Trigger{
		Kind:         pipeline.TriggerPullRequest,
		Action:       pipeline.ActionMerged,
		Repository:   "acme/app",
		SourceBranch: "feature/a",
		TargetBranch: "develop",
		Commit:       "0123456789abcdef",
	})
	require.NoError(t, err)
	require.Equal(t, statemachine.RunSucceeded, run.Status, run.Error)
	assert.Equal(t, []string{"dev"}, run.Environments)

	manifest, err := os.ReadFile(filepath.Join(cfg.Storage.BasePath, "dev.yaml"))
	require.NoError(t, err)
	assert.Contains(t, string(manifest), "registry.dev/app:")
	assert.NotContains(t, string(manifest), ":0000000")
}

func TestApp_Reload(t *testing.T) {
	cfg := testConfig(t)
	a := build(t, cfg)

	next := *cfg
	next.Gates = gate.Config{Thresholds: map[string]float64{"coverage": 60}}
	a.Reload(&next)
	assert.Equal(t, 60.0, a.Gates.Thresholds()["coverage"])

	bad := *cfg
	bad.Gates = gate.Config{Thresholds: map[string]float64{"coverage": 10}, Bypass: []string{"quality"}}
	a.Reload(&bad)
	assert.Equal(t, 60.0, a.Gates.Thresholds()["coverage"])
}

func TestApp_Serve(t *testing.T) {
	cfg := testConfig(t)
	a := build(t, cfg)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.Serve(ctx) }()

	client := resty.New().SetBaseURL(fmt.Sprintf("http://%s", cfg.Http.Addr()))
	assert.Eventually(t, func() bool {
		resp, err := client.R().Get("/health")
		return err == nil && resp.StatusCode() == 200
	}, 5*time.Second, 20*time.Millisecond)
	assert.Contains(t, a.Scheduler.Jobs(), "approval-sweep")

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Serve did not return")
	}
}
