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
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/go-arcade/relay/internal/pkg/errdefs"
)

// Local keeps objects as files under a root directory. The version of an
// object is the sha256 of its content, so a file edited outside relay is
// detected as a concurrent change.
type Local struct {
	root string
	mu   sync.Mutex
}

func NewLocal(root string) (*Local, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("create storage root: %w", err)
	}
	return &Local{root: abs}, nil
}

// Root returns the absolute root directory.
func (l *Local) Root() string { return l.root }

func (l *Local) path(key string) (string, error) {
	p := filepath.Join(l.root, filepath.FromSlash(strings.TrimPrefix(key, "/")))
	if p != l.root && !strings.HasPrefix(p, l.root+string(filepath.Separator)) {
		return "", fmt.Errorf("key %q escapes storage root", key)
	}
	return p, nil
}

func version(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func (l *Local) Get(_ context.Context, key string) (*Object, error) {
	p, err := l.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", key, errdefs.ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &Object{Data: data, Version: version(data)}, nil
}

func (l *Local) Put(_ context.Context, key string, data []byte, _ string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.write(key, data)
}

func (l *Local) PutIfMatch(_ context.Context, key string, data []byte, expected string) (string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	p, err := l.path(key)
	if err != nil {
		return "", err
	}
	current, err := os.ReadFile(p)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if expected != "" {
			return "", fmt.Errorf("%s: %w", key, errdefs.ErrVersionStale)
		}
	case err != nil:
		return "", err
	default:
		if version(current) != expected {
			return "", fmt.Errorf("%s: %w", key, errdefs.ErrVersionStale)
		}
	}
	return l.write(key, data)
}

// write replaces the file atomically through a rename.
func (l *Local) write(key string, data []byte) (string, error) {
	p, err := l.path(key)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
		return "", err
	}
	mode := os.FileMode(0o644)
	if fi, err := os.Stat(p); err == nil {
		mode = fi.Mode().Perm()
	}
	tmp, err := os.CreateTemp(filepath.Dir(p), ".relay-*")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", err
	}
	if err := os.Chmod(tmp.Name(), mode); err != nil {
		return "", err
	}
	if err := os.Rename(tmp.Name(), p); err != nil {
		return "", err
	}
	return version(data), nil
}

func (l *Local) Delete(_ context.Context, key string) error {
	p, err := l.path(key)
	if err != nil {
		return err
	}
	if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

func (l *Local) URL(_ context.Context, key string, _ time.Duration) (string, error) {
	p, err := l.path(key)
	if err != nil {
		return "", err
	}
	return "file://" + filepath.ToSlash(p), nil
}
