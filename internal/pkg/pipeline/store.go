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

package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
)

// RunStore keeps run snapshots.
type RunStore interface {
	Save(ctx context.Context, run *PipelineRun) error
	// Get returns ErrRunNotFound for unknown ids.
	Get(ctx context.Context, id string) (*PipelineRun, error)
	// List returns the newest runs first.
	List(ctx context.Context, limit int) ([]*PipelineRun, error)
}

// MemoryStore keeps runs in process.
type MemoryStore struct {
	mu   sync.RWMutex
	runs map[string]*PipelineRun
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{runs: make(map[string]*PipelineRun)}
}

func (s *MemoryStore) Save(_ context.Context, run *PipelineRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.runs[run.ID] = run.Clone()
	return nil
}

func (s *MemoryStore) Get(_ context.Context, id string) (*PipelineRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	r, ok := s.runs[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	return r.Clone(), nil
}

func (s *MemoryStore) List(_ context.Context, limit int) ([]*PipelineRun, error) {
	s.mu.RLock()
	out := make([]*PipelineRun, 0, len(s.runs))
	for _, r := range s.runs {
		out = append(out, r.Clone())
	}
	s.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// RedisStore keeps runs as JSON strings indexed by a sorted set, so every
// replica of the server sees the same history.
type RedisStore struct {
	client redis.UniversalClient
	prefix string
	ttl    time.Duration
}

func NewRedisStore(client redis.UniversalClient, prefix string, ttl time.Duration) *RedisStore {
	if prefix == "" {
		prefix = "relay:"
	}
	return &RedisStore{client: client, prefix: prefix, ttl: ttl}
}

func (s *RedisStore) key(id string) string { return s.prefix + "run:" + id }
func (s *RedisStore) index() string        { return s.prefix + "runs" }

func (s *RedisStore) Save(ctx context.Context, run *PipelineRun) error {
	data, err := sonic.Marshal(run)
	if err != nil {
		return fmt.Errorf("marshal run %s: %w", run.ID, err)
	}
	_, err = s.client.TxPipelined(ctx, func(p redis.Pipeliner) error {
		p.Set(ctx, s.key(run.ID), data, s.ttl)
		p.ZAdd(ctx, s.index(), redis.Z{Score: float64(run.CreatedAt.UnixMilli()), Member: run.ID})
		return nil
	})
	if err != nil {
		return fmt.Errorf("save run %s: %w", run.ID, err)
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*PipelineRun, error) {
	data, err := s.client.Get(ctx, s.key(id)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", id, err)
	}
	var run PipelineRun
	if err := sonic.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("unmarshal run %s: %w", id, err)
	}
	return &run, nil
}

func (s *RedisStore) List(ctx context.Context, limit int) ([]*PipelineRun, error) {
	stop := int64(-1)
	if limit > 0 {
		stop = int64(limit - 1)
	}
	ids, err := s.client.ZRevRange(ctx, s.index(), 0, stop).Result()
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	out := make([]*PipelineRun, 0, len(ids))
	var expired []any
	for _, id := range ids {
		run, err := s.Get(ctx, id)
		if errors.Is(err, ErrRunNotFound) {
			expired = append(expired, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, run)
	}
	if len(expired) > 0 {
		s.client.ZRem(ctx, s.index(), expired...)
	}
	return out, nil
}
