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

package executor

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/go-arcade/relay/internal/pkg/errdefs"
	"github.com/go-arcade/relay/internal/pkg/storage"
	"github.com/go-arcade/relay/pkg/log"
)

func shellRequest(t *testing.T, name, run string) *ExecutionRequest {
	t.Helper()
	return &ExecutionRequest{
		RunID:     "01J0TESTRUN",
		Step:      &StepInfo{Name: name, Run: run},
		Workspace: t.TempDir(),
		Env:       map[string]string{"RELAY_COMMIT": "4f2a9c1e"},
	}
}

func TestShellExecutor_SuccessWithOutputs(t *testing.T) {
	e := NewShellExecutor()
	req := shellRequest(t, "quality", `echo "scanning $RELAY_COMMIT"; echo coverage=91.5 >> "$RELAY_OUTPUT"; echo "# note" >> "$RELAY_OUTPUT"`)

	res, err := e.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "91.5", res.Outputs["coverage"])
	assert.Len(t, res.Outputs, 1)
	assert.Contains(t, res.Output, "scanning 4f2a9c1e")
	assert.False(t, res.EndTime.Before(res.StartTime))
}

func TestShellExecutor_LeavesStageStartToCaller(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	log.SetLogger(zap.New(core).Sugar())
	t.Cleanup(func() { log.SetLogger(nil) })

	res, err := NewShellExecutor().Execute(context.Background(), shellRequest(t, "build", "true"))
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Zero(t, logs.FilterMessage("stage started").Len())
}

func TestShellExecutor_Failure(t *testing.T) {
	e := NewShellExecutor()
	res, err := e.Execute(context.Background(), shellRequest(t, "build", "echo compiling; exit 3"))
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Equal(t, 3, res.ExitCode)
	assert.Contains(t, res.Error, "exit code 3")
}

func TestShellExecutor_Timeout(t *testing.T) {
	e := NewShellExecutor()
	req := shellRequest(t, "test", "sleep 5")
	req.Timeout = 100 * time.Millisecond

	start := time.Now()
	res, err := e.Execute(context.Background(), req)
	require.Error(t, err)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.False(t, res.Success)
	assert.Less(t, time.Since(start), 4*time.Second)
}

func TestShellExecutor_Workspace(t *testing.T) {
	e := NewShellExecutor(WithoutInheritedEnv())
	req := shellRequest(t, "build", "pwd > where.txt")
	_, err := e.Execute(context.Background(), req)
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(req.Workspace, "where.txt"))
	require.NoError(t, err)
	got, _ := filepath.EvalSymlinks(strings.TrimSpace(string(data)))
	want, _ := filepath.EvalSymlinks(req.Workspace)
	assert.Equal(t, want, got)
}

func TestTailBuffer(t *testing.T) {
	b := &tailBuffer{max: 4}
	_, _ = b.Write([]byte("abc"))
	_, _ = b.Write([]byte("defg"))
	assert.Equal(t, "defg", b.String())
}

func TestActionExecutor(t *testing.T) {
	a := NewActionExecutor().Register("publish", func(ctx context.Context, req *ExecutionRequest) (map[string]string, error) {
		return map[string]string{"digest": "sha256:1"}, nil
	})
	a.Register("promote", func(ctx context.Context, req *ExecutionRequest) (map[string]string, error) {
		return nil, errdefs.New(errdefs.ApprovalTimeout, "promote prod", nil)
	})

	req := &ExecutionRequest{Step: &StepInfo{Name: "publish-dev", Uses: "publish"}}
	assert.True(t, a.CanExecute(req))
	res, err := a.Execute(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "sha256:1", res.Outputs["digest"])

	res, err = a.Execute(context.Background(), &ExecutionRequest{Step: &StepInfo{Name: "promote-prod", Uses: "promote"}})
	assert.True(t, errdefs.Is(err, errdefs.ApprovalTimeout))
	assert.False(t, res.Success)

	assert.False(t, a.CanExecute(&ExecutionRequest{Step: &StepInfo{Uses: "deploy"}}))
}

func TestExecutorManager_Selection(t *testing.T) {
	m := NewExecutorManager(nil)
	m.Register(NewShellExecutor())

	_, err := m.Execute(context.Background(), &ExecutionRequest{Step: &StepInfo{Name: "x", Uses: "publish"}})
	assert.Error(t, err)

	actions := NewActionExecutor().Register("publish", func(context.Context, *ExecutionRequest) (map[string]string, error) {
		return nil, nil
	})
	res, err := m.With(actions).Execute(context.Background(), &ExecutionRequest{Step: &StepInfo{Name: "x", Uses: "publish"}})
	require.NoError(t, err)
	assert.Equal(t, "action", res.ExecutorName)
}

func TestExecutorManager_PublishesArtifacts(t *testing.T) {
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	m := NewExecutorManager(NewPublisher(store, time.Hour))
	m.Register(NewShellExecutor())

	req := shellRequest(t, "image-scan", "mkdir -p reports && echo '{}' > reports/trivy.json && echo ok > summary.txt")
	req.Step.Artifacts = []string{"reports/*.json", "summary.txt"}

	res, err := m.Execute(context.Background(), req)
	require.NoError(t, err)
	require.Len(t, res.Reports, 2)
	assert.Equal(t, "runs/01J0TESTRUN/image-scan/reports/trivy.json", res.Reports[0].Key)
	assert.NotEmpty(t, res.Reports[0].URL)

	obj, err := store.Get(context.Background(), res.Reports[1].Key)
	require.NoError(t, err)
	assert.Equal(t, "ok\n", string(obj.Data))
}

func TestExecutorManager_MissingArtifactFailsStage(t *testing.T) {
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	m := NewExecutorManager(NewPublisher(store, time.Hour))
	m.Register(NewShellExecutor())

	req := shellRequest(t, "quality", "echo '<report/>' > jacoco.xml")
	req.Step.Artifacts = []string{"jacoco.xml", "sonar-report.json"}

	res, err := m.Execute(context.Background(), req)
	require.Error(t, err)
	assert.False(t, res.Success)
	assert.Empty(t, res.Reports)

	_, err = store.Get(context.Background(), "runs/01J0TESTRUN/quality/jacoco.xml")
	assert.ErrorIs(t, err, errdefs.ErrNotFound, "nothing may be published for a failed stage")
}

// flakyStore fails the n-th Put.
type flakyStore struct {
	storage.Store
	puts   int
	failAt int
}

func (f *flakyStore) Put(ctx context.Context, key string, data []byte, ct string) (string, error) {
	f.puts++
	if f.puts == f.failAt {
		return "", errors.New("bucket unavailable")
	}
	return f.Store.Put(ctx, key, data, ct)
}

func TestPublisher_RollsBackPartialUpload(t *testing.T) {
	local, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	store := &flakyStore{Store: local, failAt: 2}
	p := NewPublisher(store, time.Hour)

	ws := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(ws, "a.txt"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(ws, "b.txt"), []byte("b"), 0o644))

	_, err = p.Publish(context.Background(), "run", "secrets", ws, []string{"*.txt"})
	require.Error(t, err)

	_, err = local.Get(context.Background(), "runs/run/secrets/a.txt")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestParseOutputs(t *testing.T) {
	p := filepath.Join(t.TempDir(), "out")
	require.NoError(t, os.WriteFile(p, []byte("critical=0\n\nhigh = 2\nbad line\n=x\nhigh=3\n"), 0o644))
	out, err := parseOutputs(p)
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"critical": "0", "high": "3"}, out)
}
