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

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-arcade/relay/internal/pkg/errdefs"
)

func TestLocal_GetPut(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	_, err = s.Get(ctx, "envs/dev/deployment.yaml")
	assert.ErrorIs(t, err, errdefs.ErrNotFound)

	v1, err := s.Put(ctx, "envs/dev/deployment.yaml", []byte("image: app:1\n"), "")
	require.NoError(t, err)

	obj, err := s.Get(ctx, "envs/dev/deployment.yaml")
	require.NoError(t, err)
	assert.Equal(t, "image: app:1\n", string(obj.Data))
	assert.Equal(t, v1, obj.Version)

	u, err := s.URL(ctx, "envs/dev/deployment.yaml", 0)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(u, "file://"))

	require.NoError(t, s.Delete(ctx, "envs/dev/deployment.yaml"))
	require.NoError(t, s.Delete(ctx, "envs/dev/deployment.yaml"))
}

func TestLocal_PutIfMatch(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)

	v1, err := s.PutIfMatch(ctx, "m.yaml", []byte("a"), "")
	require.NoError(t, err)

	_, err = s.PutIfMatch(ctx, "m.yaml", []byte("b"), "")
	assert.ErrorIs(t, err, errdefs.ErrVersionStale, "create must fail when the key exists")

	v2, err := s.PutIfMatch(ctx, "m.yaml", []byte("b"), v1)
	require.NoError(t, err)
	assert.NotEqual(t, v1, v2)

	_, err = s.PutIfMatch(ctx, "m.yaml", []byte("c"), v1)
	assert.ErrorIs(t, err, errdefs.ErrVersionStale)
}

func TestLocal_ExternalEditIsDetected(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	s, err := NewLocal(dir)
	require.NoError(t, err)

	v, err := s.Put(ctx, "m.yaml", []byte("a"), "")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "m.yaml"), []byte("edited"), 0o644))

	_, err = s.PutIfMatch(ctx, "m.yaml", []byte("b"), v)
	assert.ErrorIs(t, err, errdefs.ErrVersionStale)
}

func TestLocal_ConcurrentCAS(t *testing.T) {
	ctx := context.Background()
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	v, err := s.Put(ctx, "m.yaml", []byte("base"), "")
	require.NoError(t, err)

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		wins int
	)
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := s.PutIfMatch(ctx, "m.yaml", []byte{byte('a' + i)}, v); err == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}

func TestLocal_RejectsEscape(t *testing.T) {
	s, err := NewLocal(t.TempDir())
	require.NoError(t, err)
	_, err = s.Put(context.Background(), "../outside", []byte("x"), "")
	assert.Error(t, err)
}

func TestNew(t *testing.T) {
	s, err := New(context.Background(), Conf{Provider: "local", BasePath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &Local{}, s)

	_, err = New(context.Background(), Conf{Provider: "gcs"})
	assert.Error(t, err)
}

func TestErrorMapping(t *testing.T) {
	err := s3Error("k", &smithy.GenericAPIError{Code: "PreconditionFailed"})
	assert.ErrorIs(t, err, errdefs.ErrVersionStale)
	err = s3Error("k", &smithy.GenericAPIError{Code: "NoSuchKey"})
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
	err = s3Error("k", errors.New("dial tcp: refused"))
	assert.False(t, errors.Is(err, errdefs.ErrVersionStale))

	err = minioError("k", minio.ErrorResponse{Code: "PreconditionFailed"})
	assert.ErrorIs(t, err, errdefs.ErrVersionStale)
	err = minioError("k", minio.ErrorResponse{Code: "NoSuchKey"})
	assert.ErrorIs(t, err, errdefs.ErrNotFound)
}

func TestFullPath(t *testing.T) {
	assert.Equal(t, "a/b", fullPath("", "/a/b"))
	assert.Equal(t, "base/a/b", fullPath("/base/", "a/b"))
}
