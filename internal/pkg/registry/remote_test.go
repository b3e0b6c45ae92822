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

package registry

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/image"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-arcade/relay/internal/pkg/errdefs"
)

const testRepo = "acme/catalog-api"

// fakeRegistry is a Registry API v2 server with a bearer token challenge.
type fakeRegistry struct {
	mu        sync.Mutex
	manifests map[string]string
	srv       *httptest.Server
	heads     int
}

func newFakeRegistry(t *testing.T) *fakeRegistry {
	f := &fakeRegistry{manifests: map[string]string{}}
	mux := http.NewServeMux()
	mux.HandleFunc("/token", func(w http.ResponseWriter, r *http.Request) {
		user, pass, ok := r.BasicAuth()
		if !ok || user != "bot" || pass != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		assert.Equal(t, "repository:"+testRepo+":pull", r.URL.Query().Get("scope"))
		_, _ = io.WriteString(w, `{"token":"tok"}`)
	})
	mux.HandleFunc("/v2/", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		f.heads++
		if r.Header.Get("Authorization") != "Bearer tok" {
			w.Header().Set("WWW-Authenticate",
				fmt.Sprintf(`Bearer realm="%s/token",service="fake",scope="repository:%s:pull"`, f.srv.URL, testRepo))
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		tag := r.URL.Path[strings.LastIndex(r.URL.Path, "/")+1:]
		digest, ok := f.manifests[tag]
		if !ok {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Docker-Content-Digest", digest)
		w.WriteHeader(http.StatusOK)
	})
	f.srv = httptest.NewServer(mux)
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeRegistry) set(tag, digest string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.manifests[tag] = digest
}

// fakeEngine records engine calls and "pushes" into a fakeRegistry.
type fakeEngine struct {
	reg         *fakeRegistry
	pushDigest  string
	repoDigests []string
	tagged      []string
	pushed      []string
	pushErr     error
}

func (e *fakeEngine) ImageTag(_ context.Context, source, target string) error {
	e.tagged = append(e.tagged, source+"->"+target)
	return nil
}

func (e *fakeEngine) ImagePush(_ context.Context, ref string, opts image.PushOptions) (io.ReadCloser, error) {
	if e.pushErr != nil {
		return nil, e.pushErr
	}
	if opts.RegistryAuth == "" {
		return nil, errors.New("missing auth")
	}
	e.pushed = append(e.pushed, ref)
	e.reg.set(ref[strings.LastIndex(ref, ":")+1:], e.pushDigest)
	stream := `{"status":"Pushing"}` + "\n" +
		fmt.Sprintf(`{"aux":{"Tag":"x","Digest":"%s","Size":10}}`, e.pushDigest) + "\n"
	return io.NopCloser(strings.NewReader(stream)), nil
}

func (e *fakeEngine) ImagePull(_ context.Context, ref string, _ image.PullOptions) (io.ReadCloser, error) {
	return io.NopCloser(strings.NewReader(`{"status":"Pulled"}` + "\n")), nil
}

func (e *fakeEngine) ImageInspectWithRaw(_ context.Context, id string) (types.ImageInspect, []byte, error) {
	return types.ImageInspect{ID: id, RepoDigests: e.repoDigests}, nil, nil
}

func newTestRemote(t *testing.T) (*remote, *fakeRegistry, *fakeEngine) {
	t.Helper()
	reg := newFakeRegistry(t)
	eng := &fakeEngine{reg: reg, pushDigest: "sha256:aaa"}
	r, err := newRemote("ghcr", "ghcr", "registry.test", reg.srv.URL,
		Conf{Repository: testRepo},
		staticCredentials("bot", "secret", "registry.test"), ghcrTag,
		Deps{Engine: eng, API: NewDistribution(0)})
	require.NoError(t, err)
	return r, reg, eng
}

func TestRemotePush_New(t *testing.T) {
	r, _, eng := newTestRemote(t)

	art, err := r.Push(context.Background(), Image{Ref: "relay.local/catalog-api:4f2a9c1"}, "sha-4f2a9c1")
	require.NoError(t, err)
	assert.Equal(t, "sha256:aaa", art.Digest)
	assert.Equal(t, "registry.test/acme/catalog-api:sha-4f2a9c1", art.Reference())
	assert.Equal(t, "registry.test/acme/catalog-api@sha256:aaa", r.ScanReference(art))
	assert.Equal(t, []string{"registry.test/acme/catalog-api:sha-4f2a9c1"}, eng.pushed)
	assert.Len(t, eng.tagged, 1)
}

func TestRemotePush_IdempotentForSameContent(t *testing.T) {
	r, reg, eng := newTestRemote(t)
	reg.set("sha-4f2a9c1", "sha256:aaa")
	eng.repoDigests = []string{"registry.test/acme/catalog-api@sha256:aaa"}

	art, err := r.Push(context.Background(), Image{Ref: "relay.local/catalog-api:4f2a9c1"}, "sha-4f2a9c1")
	require.NoError(t, err)
	assert.Equal(t, "sha256:aaa", art.Digest)
	assert.Empty(t, eng.pushed, "identical content must not be pushed again")
}

func TestRemotePush_ConflictForDifferentContent(t *testing.T) {
	r, reg, eng := newTestRemote(t)
	reg.set("sha-4f2a9c1", "sha256:old")
	eng.repoDigests = []string{"registry.test/acme/catalog-api@sha256:new"}

	_, err := r.Push(context.Background(), Image{Ref: "relay.local/catalog-api:4f2a9c1"}, "sha-4f2a9c1")
	require.Error(t, err)
	assert.True(t, errdefs.Is(err, errdefs.RegistryError))
	assert.ErrorIs(t, err, errdefs.ErrTagConflict)
	assert.False(t, errdefs.IsRetryable(err))
	assert.Empty(t, eng.pushed)
}

func TestRemotePush_EngineFailureIsRetryable(t *testing.T) {
	r, _, eng := newTestRemote(t)
	eng.pushErr = errors.New("connection reset by peer")

	_, err := r.Push(context.Background(), Image{Ref: "relay.local/catalog-api:4f2a9c1"}, "sha-4f2a9c1")
	require.Error(t, err)
	assert.True(t, errdefs.IsRetryable(err))
}

func TestRemotePush_BadCredentials(t *testing.T) {
	reg := newFakeRegistry(t)
	r, err := newRemote("ghcr", "ghcr", "registry.test", reg.srv.URL, Conf{Repository: testRepo},
		staticCredentials("bot", "wrong", "registry.test"), ghcrTag,
		Deps{Engine: &fakeEngine{reg: reg}, API: NewDistribution(0)})
	require.NoError(t, err)

	_, err = r.Push(context.Background(), Image{Ref: "x"}, "sha-4f2a9c1")
	assert.ErrorIs(t, err, errdefs.ErrAuthRejected)
	assert.False(t, errdefs.IsRetryable(err))
}

func TestRemotePull(t *testing.T) {
	r, reg, _ := newTestRemote(t)
	reg.set("1.4.0", "sha256:bbb")

	img, err := r.Pull(context.Background(), "1.4.0")
	require.NoError(t, err)
	assert.Equal(t, Image{Ref: "registry.test/acme/catalog-api:1.4.0", Digest: "sha256:bbb"}, img)

	_, err = r.Pull(context.Background(), "missing")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestDistribution_TokenIsCached(t *testing.T) {
	reg := newFakeRegistry(t)
	reg.set("a", "sha256:1")
	d := NewDistribution(0)
	creds := Credentials{Username: "bot", Password: "secret"}

	_, found, err := d.ManifestDigest(context.Background(), reg.srv.URL, testRepo, "a", creds)
	require.NoError(t, err)
	assert.True(t, found)
	first := reg.heads

	_, found, err = d.ManifestDigest(context.Background(), reg.srv.URL, testRepo, "b", creds)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, first+1, reg.heads, "second probe reuses the token")
}

func TestParseChallenge(t *testing.T) {
	scheme, params := parseChallenge(`Bearer realm="https://auth.docker.io/token",service="registry.docker.io",scope="repository:a/b:pull,push"`)
	assert.Equal(t, "Bearer", scheme)
	assert.Equal(t, "https://auth.docker.io/token", params["realm"])
	assert.Equal(t, "registry.docker.io", params["service"])
	assert.Equal(t, "repository:a/b:pull,push", params["scope"])

	scheme, params = parseChallenge(`Basic realm=registry`)
	assert.Equal(t, "Basic", scheme)
	assert.Equal(t, "registry", params["realm"])
}

func TestReadPushStreamError(t *testing.T) {
	rc := io.NopCloser(strings.NewReader(`{"errorDetail":{"message":"denied"},"error":"denied"}` + "\n"))
	_, err := readPushStream(rc)
	assert.Error(t, err)
}
