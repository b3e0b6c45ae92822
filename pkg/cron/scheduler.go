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

// Package cron runs named periodic jobs on robfig/cron.
package cron

import (
	"fmt"
	"sync"

	"github.com/robfig/cron"
	"go.uber.org/zap"

	"github.com/go-arcade/relay/pkg/log"
)

// Scheduler runs named jobs. Specs accept an optional seconds field and the
// @every/@hourly descriptors.
type Scheduler struct {
	c *cron.Cron

	mu      sync.Mutex
	names   map[string]struct{}
	running bool
}

func New() *Scheduler {
	c := cron.New()
	c.ErrorLog = zap.NewStdLog(log.GetLogger().Desugar())
	return &Scheduler{c: c, names: make(map[string]struct{})}
}

// AddFunc schedules fn under name. Names are unique.
func (s *Scheduler) AddFunc(name, spec string, fn func()) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.names[name]; ok {
		return fmt.Errorf("cron job %s already scheduled", name)
	}
	if _, err := cron.Parse(spec); err != nil {
		return fmt.Errorf("cron job %s: %w", name, err)
	}
	err := s.c.AddFunc(spec, func() {
		log.Debugw("cron job started", "job", name)
		fn()
	})
	if err != nil {
		return fmt.Errorf("cron job %s: %w", name, err)
	}
	s.names[name] = struct{}{}
	return nil
}

// Jobs lists scheduled job names.
func (s *Scheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.names))
	for n := range s.names {
		out = append(out, n)
	}
	return out
}

func (s *Scheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.c.Start()
}

// Stop halts scheduling. Jobs already running are not interrupted.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return
	}
	s.running = false
	s.c.Stop()
}
