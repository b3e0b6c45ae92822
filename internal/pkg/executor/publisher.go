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
	"fmt"
	"mime"
	"os"
	"path"
	"path/filepath"
	"sort"
	"time"

	"github.com/go-arcade/relay/internal/pkg/storage"
	"github.com/go-arcade/relay/pkg/log"
)

// Publisher copies stage reports from the workspace into the artifact store
// under runs/<run>/<stage>/<path>.
type Publisher struct {
	store  storage.Store
	expiry time.Duration
}

func NewPublisher(store storage.Store, linkExpiry time.Duration) *Publisher {
	if linkExpiry <= 0 {
		linkExpiry = 7 * 24 * time.Hour
	}
	return &Publisher{store: store, expiry: linkExpiry}
}

// Publish uploads every file matched by patterns. Each pattern must match at
// least one file. On any failure the keys uploaded so far are deleted.
func (p *Publisher) Publish(ctx context.Context, runID, stage, workspace string, patterns []string) ([]Report, error) {
	files, err := resolve(workspace, patterns)
	if err != nil {
		return nil, err
	}

	reports := make([]Report, 0, len(files))
	rollback := func() {
		for _, r := range reports {
			if err := p.store.Delete(context.WithoutCancel(ctx), r.Key); err != nil {
				log.Warnw("failed to roll back artifact", "key", r.Key, "error", err)
			}
		}
	}

	for _, rel := range files {
		data, err := os.ReadFile(filepath.Join(workspace, rel))
		if err != nil {
			rollback()
			return nil, fmt.Errorf("read artifact %s: %w", rel, err)
		}
		key := path.Join("runs", runID, stage, filepath.ToSlash(rel))
		if _, err := p.store.Put(ctx, key, data, mime.TypeByExtension(filepath.Ext(rel))); err != nil {
			rollback()
			return nil, fmt.Errorf("publish artifact %s: %w", rel, err)
		}
		r := Report{Path: filepath.ToSlash(rel), Key: key}
		if u, err := p.store.URL(ctx, key, p.expiry); err == nil {
			r.URL = u
		}
		reports = append(reports, r)
	}
	return reports, nil
}

// resolve expands patterns relative to workspace into sorted unique files.
func resolve(workspace string, patterns []string) ([]string, error) {
	seen := map[string]struct{}{}
	for _, pat := range patterns {
		matches, err := filepath.Glob(filepath.Join(workspace, pat))
		if err != nil {
			return nil, fmt.Errorf("bad artifact pattern %q: %w", pat, err)
		}
		found := false
		for _, m := range matches {
			fi, err := os.Stat(m)
			if err != nil || fi.IsDir() {
				continue
			}
			rel, err := filepath.Rel(workspace, m)
			if err != nil {
				return nil, err
			}
			seen[rel] = struct{}{}
			found = true
		}
		if !found {
			return nil, fmt.Errorf("declared artifact %q was not produced", pat)
		}
	}
	files := make([]string, 0, len(seen))
	for f := range seen {
		files = append(files, f)
	}
	sort.Strings(files)
	return files, nil
}
