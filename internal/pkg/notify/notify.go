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

// Package notify delivers pipeline run events to external channels. Delivery
// is best-effort: failures are logged and counted, never returned.
package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/go-arcade/relay/internal/pkg/errdefs"
	"github.com/go-arcade/relay/pkg/log"
	"github.com/go-arcade/relay/pkg/metrics"
)

// Link is a named report or artifact link.
type Link struct {
	Name string `json:"name"`
	URL  string `json:"url"`
}

// Event is the structured status of a pipeline run.
type Event struct {
	RunID        string    `json:"run_id"`
	Status       string    `json:"status"`
	Trigger      string    `json:"trigger"`
	Repository   string    `json:"repository"`
	Branch       string    `json:"branch"`
	Commit       string    `json:"commit"`
	Author       string    `json:"author,omitempty"`
	ArtifactTag  string    `json:"artifact_tag,omitempty"`
	Environments []string  `json:"environments,omitempty"`
	Reports      []Link    `json:"reports,omitempty"`
	Error        string    `json:"error,omitempty"`
	ErrorKind    string    `json:"error_kind,omitempty"`
	DetailsURL   string    `json:"details_url,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// Channel is one delivery target.
type Channel interface {
	Name() string
	Send(ctx context.Context, ev Event) error
	Close() error
}

// Manager fans events out to every registered channel.
type Manager struct {
	mu       sync.RWMutex
	channels []Channel
	timeout  time.Duration
	metrics  *metrics.Metrics
}

func NewManager(timeout time.Duration, m *metrics.Metrics, channels ...Channel) *Manager {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Manager{channels: channels, timeout: timeout, metrics: m}
}

// Register adds a channel.
func (nm *Manager) Register(ch Channel) error {
	if ch == nil {
		return errors.New("channel cannot be nil")
	}
	nm.mu.Lock()
	defer nm.mu.Unlock()
	nm.channels = append(nm.channels, ch)
	return nil
}

// Channels lists registered channel names.
func (nm *Manager) Channels() []string {
	nm.mu.RLock()
	defer nm.mu.RUnlock()
	names := make([]string, 0, len(nm.channels))
	for _, ch := range nm.channels {
		names = append(names, ch.Name())
	}
	return names
}

// Notify sends ev to all channels concurrently and waits for them. It
// returns the number of channels that failed; the errors themselves are
// logged as NotificationFailure.
func (nm *Manager) Notify(ctx context.Context, ev Event) int {
	nm.mu.RLock()
	channels := append([]Channel(nil), nm.channels...)
	nm.mu.RUnlock()
	if len(channels) == 0 {
		return 0
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), nm.timeout)
	defer cancel()

	var (
		g      errgroup.Group
		mu     sync.Mutex
		failed int
	)
	for _, ch := range channels {
		g.Go(func() (err error) {
			defer func() {
				if r := recover(); r != nil {
					err = fmt.Errorf("panic: %v", r)
				}
				if err != nil {
					err = errdefs.New(errdefs.NotificationFailure, "notify "+ch.Name(), err)
					log.Warnw("notification failed", "channel", ch.Name(), "run", ev.RunID, "error", err)
					nm.metrics.NotificationFailed(ch.Name())
					mu.Lock()
					failed++
					mu.Unlock()
				}
			}()
			return ch.Send(ctx, ev)
		})
	}
	_ = g.Wait()
	return failed
}

// Close closes every channel.
func (nm *Manager) Close() error {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	var errs []error
	for _, ch := range nm.channels {
		if err := ch.Close(); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", ch.Name(), err))
		}
	}
	nm.channels = nil
	return errors.Join(errs...)
}
