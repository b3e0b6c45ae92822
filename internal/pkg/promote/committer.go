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
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
)

// Committer records a manifest change in the declarative state history.
type Committer interface {
	Commit(ctx context.Context, manifest, message string) error
}

// GitCommitter commits manifests that live in a git working tree, the one
// the local store writes into.
type GitCommitter struct {
	mu     sync.Mutex
	dir    string
	push   bool
	author string
}

func NewGitCommitter(dir string, push bool, author string) *GitCommitter {
	return &GitCommitter{dir: dir, push: push, author: author}
}

func (g *GitCommitter) Commit(ctx context.Context, manifest, message string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	path := filepath.FromSlash(manifest)
	if err := g.git(ctx, "add", "--", path); err != nil {
		return err
	}
	args := []string{"commit", "-m", message}
	if g.author != "" {
		args = append(args, "--author", g.author)
	}
	args = append(args, "--", path)
	if err := g.git(ctx, args...); err != nil {
		return err
	}
	if g.push {
		return g.git(ctx, "push")
	}
	return nil
}

func (g *GitCommitter) git(ctx context.Context, args ...string) error {
	cmd := exec.CommandContext(ctx, "git", args...)
	cmd.Dir = g.dir
	var out bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &out
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("git %s: %w: %s", args[0], err, strings.TrimSpace(out.String()))
	}
	return nil
}
