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

// Package storage stores stage reports and environment manifests in a local
// directory, S3 or MinIO. Every backend supports compare-and-swap writes so
// manifest updates are read-modify-write safe.
package storage

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"
)

// Object is stored content with the version it was read at.
type Object struct {
	Data    []byte
	Version string
}

// Store is the object store contract shared by all backends.
type Store interface {
	// Get returns errdefs.ErrNotFound when key does not exist.
	Get(ctx context.Context, key string) (*Object, error)
	// Put writes unconditionally and returns the new version.
	Put(ctx context.Context, key string, data []byte, contentType string) (string, error)
	// PutIfMatch writes only when the stored version equals expected.
	// An empty expected means the key must not exist yet.
	// A mismatch returns errdefs.ErrVersionStale.
	PutIfMatch(ctx context.Context, key string, data []byte, expected string) (string, error)
	Delete(ctx context.Context, key string) error
	// URL returns a link a human can open, presigned where the backend supports it.
	URL(ctx context.Context, key string, expiry time.Duration) (string, error)
}

// Conf selects and configures a backend.
type Conf struct {
	Provider  string // local | s3 | minio
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseTLS    bool
	PathStyle bool
	// BasePath prefixes every key; for the local provider it is the root directory.
	BasePath string
}

// New builds the configured backend.
func New(ctx context.Context, c Conf) (Store, error) {
	switch strings.ToLower(c.Provider) {
	case "", "local":
		return NewLocal(c.BasePath)
	case "s3":
		return NewS3(ctx, c)
	case "minio":
		return NewMinio(c)
	default:
		return nil, fmt.Errorf("unsupported storage provider %q", c.Provider)
	}
}

func fullPath(base, key string) string {
	if base == "" {
		return strings.TrimPrefix(key, "/")
	}
	return path.Join(strings.Trim(base, "/"), strings.TrimPrefix(key, "/"))
}
