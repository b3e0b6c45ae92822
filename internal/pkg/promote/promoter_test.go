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

package promote

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-arcade/relay/internal/pkg/errdefs"
	"github.com/go-arcade/relay/internal/pkg/registry"
	"github.com/go-arcade/relay/internal/pkg/storage"
	"github.com/go-arcade/relay/pkg/retry"
)

const manifestTmpl = `apiVersion: apps/v1
kind: Deployment
metadata:
  name: catalog-%s
spec:
  replicas: 2
  template:
    spec:
      containers:
        - name: catalog
          image: ghcr.io/acme/catalog:sha-0000000
`

var fastRetry = retry.Policy{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: 5 * time.Millisecond}

func newStore(t *testing.T, envs ...string) *storage.Local {
	t.Helper()
	store, err := storage.NewLocal(t.TempDir())
	require.NoError(t, err)
	for _, e := range envs {
		_, err := store.Put(context.Background(), manifestKey(e), []byte(fmt.Sprintf(manifestTmpl, e)), "application/yaml")
		require.NoError(t, err)
	}
	return store
}

func manifestKey(env string) string { return "envs/" + env + "/deployment.yaml" }

func environments(approval ...string) []Environment {
	var out []Environment
	for _, name := range []string{"dev", "qa", "staging", "prod"} {
		e := Environment{Name: name, Registry: "ghcr", Manifest: manifestKey(name), Policy: PolicyAuto, Application: "catalog-" + name}
		for _, a := range approval {
			if a == name {
				e.Policy = PolicyApproval
			}
		}
		out = append(out, e)
	}
	return out
}

func artifact(tag string) registry.Artifact {
	return registry.Artifact{Registry: "ghcr", Host: "ghcr.io", Repository: "acme/catalog", Tag: tag, Digest: "sha256:" + tag}
}

func read(t *testing.T, store storage.Store, env string) string {
	t.Helper()
	obj, err := store.Get(context.Background(), manifestKey(env))
	require.NoError(t, err)
	return string(obj.Data)
}

type recordingReconciler struct {
	mu    sync.Mutex
	apps  []string
	fails bool
}

func (r *recordingReconciler) Sync(_ context.Context, app string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.apps = append(r.apps, app)
	if r.fails {
		return fmt.Errorf("reconciler down")
	}
	return nil
}

type recordingCommitter struct {
	mu       sync.Mutex
	messages []string
}

func (c *recordingCommitter) Commit(_ context.Context, _, message string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages, message)
	return nil
}

func TestPromote_Auto(t *testing.T) {
	store := newStore(t, "dev", "qa", "staging", "prod")
	rec := &recordingReconciler{}
	p, err := NewPromoter(environments(), fastRetry, Deps{Store: store, Reconciler: rec})
	require.NoError(t, err)

	pr, err := p.Promote(context.Background(), Request{RunID: "run-1", Environment: "dev", Artifact: artifact("sha-abcdef0")})
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, pr.Status)
	assert.Contains(t, read(t, store, "dev"), "image: ghcr.io/acme/catalog:sha-abcdef0\n")
	assert.Equal(t, fmt.Sprintf(manifestTmpl, "qa"), read(t, store, "qa"), "other environments untouched")
	assert.Equal(t, []string{"catalog-dev"}, rec.apps)

	pr, err = p.Promote(context.Background(), Request{RunID: "run-2", Environment: "dev", Artifact: artifact("sha-abcdef0")})
	require.NoError(t, err)
	assert.Equal(t, StatusUnchanged, pr.Status)
	assert.Len(t, rec.apps, 1, "no reconciler signal without a change")
}

func TestPromote_ReconcilerFailureIsNotFatal(t *testing.T) {
	store := newStore(t, "dev")
	p, err := NewPromoter(environments(), fastRetry, Deps{Store: store, Reconciler: &recordingReconciler{fails: true}})
	require.NoError(t, err)

	pr, err := p.Promote(context.Background(), Request{RunID: "run-1", Environment: "dev", Artifact: artifact("sha-1234567")})
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, pr.Status)
}

func TestPromote_UnknownEnvironment(t *testing.T) {
	p, err := NewPromoter(environments(), fastRetry, Deps{Store: newStore(t)})
	require.NoError(t, err)
	pr, err := p.Promote(context.Background(), Request{Environment: "perf", Artifact: artifact("x")})
	assert.Error(t, err)
	assert.Equal(t, StatusFailed, pr.Status)
}

func TestPromote_MissingManifest(t *testing.T) {
	p, err := NewPromoter(environments(), fastRetry, Deps{Store: newStore(t)})
	require.NoError(t, err)
	_, err = p.Promote(context.Background(), Request{Environment: "dev", Artifact: artifact("x")})
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestPromote_ApprovalGate(t *testing.T) {
	store := newStore(t, "prod")
	approvals := NewApprovalManager(time.Minute)
	p, err := NewPromoter(environments("prod"), fastRetry, Deps{Store: store, Approvals: approvals})
	require.NoError(t, err)

	type result struct {
		pr  *PromotionRequest
		err error
	}
	done := make(chan result, 1)
	go func() {
		pr, err := p.Promote(context.Background(), Request{RunID: "run-9", Environment: "prod", Source: "staging", Artifact: artifact("1.2.3")})
		done <- result{pr, err}
	}()

	require.Eventually(t, func() bool { return len(approvals.List(ApprovalStatusPending)) == 1 }, time.Second, 5*time.Millisecond)
	assert.Contains(t, read(t, store, "prod"), "sha-0000000", "nothing written while pending")

	pending := approvals.List(ApprovalStatusPending)[0]
	assert.Equal(t, "ghcr.io/acme/catalog:1.2.3", pending.Image)
	require.NoError(t, approvals.Approve(pending.ID, "release-manager", "CAB-7"))

	res := <-done
	require.NoError(t, res.err)
	assert.Equal(t, StatusCommitted, res.pr.Status)
	assert.Equal(t, "release-manager", res.pr.Approver)
	assert.Contains(t, read(t, store, "prod"), "image: ghcr.io/acme/catalog:1.2.3\n")
}

func TestPromote_ApprovalTimeout(t *testing.T) {
	store := newStore(t, "prod")
	p, err := NewPromoter(environments("prod"), fastRetry, Deps{Store: store, Approvals: NewApprovalManager(20 * time.Millisecond)})
	require.NoError(t, err)

	pr, err := p.Promote(context.Background(), Request{Environment: "prod", Artifact: artifact("1.2.3")})
	assert.True(t, errdefs.Is(err, errdefs.ApprovalTimeout))
	assert.Equal(t, StatusExpired, pr.Status)
	assert.Equal(t, fmt.Sprintf(manifestTmpl, "prod"), read(t, store, "prod"))
}

// staleStore reports a version conflict for the first n conditional writes,
// after rewriting an unrelated line as a concurrent editor would.
type staleStore struct {
	storage.Store
	conflicts atomic.Int32
}

func (s *staleStore) PutIfMatch(ctx context.Context, key string, data []byte, expected string) (string, error) {
	if s.conflicts.Add(-1) >= 0 {
		obj, err := s.Store.Get(ctx, key)
		if err != nil {
			return "", err
		}
		edited := strings.Replace(string(obj.Data), "replicas: 2", "replicas: 3", 1)
		if _, err := s.Store.Put(ctx, key, []byte(edited), ""); err != nil {
			return "", err
		}
		return "", errdefs.ErrVersionStale
	}
	return s.Store.PutIfMatch(ctx, key, data, expected)
}

func TestPromote_ConflictRetriedWithFreshRead(t *testing.T) {
	store := &staleStore{Store: newStore(t, "staging")}
	store.conflicts.Store(2)
	p, err := NewPromoter(environments(), fastRetry, Deps{Store: store})
	require.NoError(t, err)

	pr, err := p.Promote(context.Background(), Request{Environment: "staging", Artifact: artifact("sha-7654321")})
	require.NoError(t, err)
	assert.Equal(t, StatusCommitted, pr.Status)

	got := read(t, store, "staging")
	assert.Contains(t, got, "replicas: 3", "concurrent edit preserved")
	assert.Contains(t, got, "image: ghcr.io/acme/catalog:sha-7654321")
}

func TestPromote_ConflictExhausted(t *testing.T) {
	store := &staleStore{Store: newStore(t, "staging")}
	store.conflicts.Store(100)
	p, err := NewPromoter(environments(), retry.Policy{MaxAttempts: 3, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, Deps{Store: store})
	require.NoError(t, err)

	_, err = p.Promote(context.Background(), Request{Environment: "staging", Artifact: artifact("sha-7654321")})
	assert.True(t, errdefs.Is(err, errdefs.ManifestPatchConflict))
}

func TestPromote_ConcurrentSameEnvironment(t *testing.T) {
	store := newStore(t, "qa")
	committer := &recordingCommitter{}
	p, err := NewPromoter(environments(), fastRetry, Deps{Store: store, Committer: committer})
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.Promote(context.Background(), Request{
				RunID:       fmt.Sprintf("run-%d", i),
				Environment: "qa",
				Artifact:    artifact(fmt.Sprintf("sha-%07d", i+1)),
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got := read(t, store, "qa")
	assert.Equal(t, 1, strings.Count(got, "image:"))
	assert.Equal(t, len(strings.Split(fmt.Sprintf(manifestTmpl, "qa"), "\n")), len(strings.Split(got, "\n")))

	require.Len(t, committer.messages, 8)
	last := committer.messages[len(committer.messages)-1]
	ref, ok := ImageOf([]byte(got))
	require.True(t, ok)
	assert.True(t, strings.HasPrefix(last, "promote "+ref+" "), "manifest holds the last committed image")
}

func TestArgoCDSync(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/applications/catalog-prod/sync", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	rc, err := NewReconciler(ReconcilerConf{Kind: "argocd", Server: srv.URL, Token: "secret"})
	require.NoError(t, err)
	require.NoError(t, rc.Sync(context.Background(), "catalog-prod"))
	assert.EqualValues(t, 1, calls.Load())

	_, err = NewReconciler(ReconcilerConf{Kind: "flux"})
	assert.Error(t, err)
}

func TestArgoCDSync_Error(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "permission denied", http.StatusForbidden)
	}))
	defer srv.Close()

	rc, err := NewArgoCD(ReconcilerConf{Server: srv.URL})
	require.NoError(t, err)
	assert.ErrorContains(t, rc.Sync(context.Background(), "catalog"), "403")
}
