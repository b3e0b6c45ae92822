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
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/go-arcade/relay/internal/pkg/errdefs"
	"github.com/go-arcade/relay/pkg/id"
	"github.com/go-arcade/relay/pkg/log"
)

// ApprovalStatus is the state of an approval request.
type ApprovalStatus string

const (
	ApprovalStatusPending  ApprovalStatus = "pending"
	ApprovalStatusApproved ApprovalStatus = "approved"
	ApprovalStatusRejected ApprovalStatus = "rejected"
	ApprovalStatusExpired  ApprovalStatus = "expired"
)

var (
	ErrApprovalNotFound   = errors.New("approval request not found")
	ErrApprovalNotPending = errors.New("approval request is not pending")
)

// ApprovalRequest asks a human to let an artifact into an environment.
type ApprovalRequest struct {
	ID          string         `json:"id"`
	RunID       string         `json:"run_id"`
	Environment string         `json:"environment"`
	Image       string         `json:"image"`
	Status      ApprovalStatus `json:"status"`
	RequestedAt time.Time      `json:"requested_at"`
	ExpiresAt   time.Time      `json:"expires_at"`
	DecidedAt   *time.Time     `json:"decided_at,omitempty"`
	DecidedBy   string         `json:"decided_by,omitempty"`
	Reason      string         `json:"reason,omitempty"`

	done chan struct{}
}

// ApprovalManager holds pending approvals and wakes their waiters.
type ApprovalManager struct {
	mu        sync.RWMutex
	requests  map[string]*ApprovalRequest
	timeout   time.Duration
	retention time.Duration
	now       func() time.Time
}

func NewApprovalManager(timeout time.Duration) *ApprovalManager {
	if timeout <= 0 {
		timeout = 24 * time.Hour
	}
	return &ApprovalManager{
		requests:  make(map[string]*ApprovalRequest),
		timeout:   timeout,
		retention: 7 * 24 * time.Hour,
		now:       time.Now,
	}
}

// Create registers a pending request that expires after the manager timeout.
func (am *ApprovalManager) Create(runID, environment, image string) *ApprovalRequest {
	now := am.now()
	req := &ApprovalRequest{
		ID:          id.PromotionID(),
		RunID:       runID,
		Environment: environment,
		Image:       image,
		Status:      ApprovalStatusPending,
		RequestedAt: now,
		ExpiresAt:   now.Add(am.timeout),
		done:        make(chan struct{}),
	}

	am.mu.Lock()
	am.requests[req.ID] = req
	am.mu.Unlock()

	log.Infow("approval requested", "approval", req.ID, "run", runID, "environment", environment, "image", image)
	return req
}

// Wait blocks until the request is decided, expires or ctx ends. Only the
// waiting run is suspended. A request still pending when ctx ends expires.
func (am *ApprovalManager) Wait(ctx context.Context, requestID string) (ApprovalRequest, error) {
	am.mu.RLock()
	req, ok := am.requests[requestID]
	am.mu.RUnlock()
	if !ok {
		return ApprovalRequest{}, fmt.Errorf("%w: %s", ErrApprovalNotFound, requestID)
	}

	timer := time.NewTimer(time.Until(req.ExpiresAt))
	defer timer.Stop()

	select {
	case <-req.done:
	case <-timer.C:
		am.decide(requestID, ApprovalStatusExpired, "", "approval window elapsed")
	case <-ctx.Done():
		// Nobody is left to act on a decision.
		_ = am.decide(requestID, ApprovalStatusExpired, "", "waiting run ended: "+ctx.Err().Error())
		return am.snapshot(requestID), ctx.Err()
	}

	snap := am.snapshot(requestID)
	switch snap.Status {
	case ApprovalStatusApproved:
		return snap, nil
	case ApprovalStatusRejected:
		return snap, errdefs.Newf(errdefs.ApprovalRejected, "approval", "rejected by %s: %s", snap.DecidedBy, snap.Reason)
	default:
		return snap, errdefs.Newf(errdefs.ApprovalTimeout, "approval", "no decision for %s before %s",
			snap.Environment, snap.ExpiresAt.Format(time.RFC3339))
	}
}

func (am *ApprovalManager) Approve(requestID, by, reason string) error {
	return am.decide(requestID, ApprovalStatusApproved, by, reason)
}

func (am *ApprovalManager) Reject(requestID, by, reason string) error {
	return am.decide(requestID, ApprovalStatusRejected, by, reason)
}

func (am *ApprovalManager) decide(requestID string, status ApprovalStatus, by, reason string) error {
	am.mu.Lock()
	defer am.mu.Unlock()

	req, ok := am.requests[requestID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrApprovalNotFound, requestID)
	}
	if req.Status != ApprovalStatusPending {
		return fmt.Errorf("%w: %s", ErrApprovalNotPending, req.Status)
	}
	now := am.now()
	req.Status = status
	req.DecidedAt = &now
	req.DecidedBy = by
	req.Reason = reason
	close(req.done)

	log.Infow("approval decided", "approval", requestID, "status", status, "by", by, "reason", reason)
	return nil
}

// Get returns a copy of the request.
func (am *ApprovalManager) Get(requestID string) (ApprovalRequest, error) {
	am.mu.RLock()
	_, ok := am.requests[requestID]
	am.mu.RUnlock()
	if !ok {
		return ApprovalRequest{}, fmt.Errorf("%w: %s", ErrApprovalNotFound, requestID)
	}
	return am.snapshot(requestID), nil
}

// List returns copies of all requests, oldest first. An empty status lists all.
func (am *ApprovalManager) List(status ApprovalStatus) []ApprovalRequest {
	am.mu.RLock()
	defer am.mu.RUnlock()

	out := make([]ApprovalRequest, 0, len(am.requests))
	for _, r := range am.requests {
		if status != "" && r.Status != status {
			continue
		}
		c := *r
		c.done = nil
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RequestedAt.Before(out[j].RequestedAt) })
	return out
}

// Sweep expires overdue pending requests and forgets decided ones past
// retention. It returns how many requests it expired.
func (am *ApprovalManager) Sweep() int {
	am.mu.Lock()
	defer am.mu.Unlock()

	now := am.now()
	expired := 0
	for reqID, r := range am.requests {
		switch {
		case r.Status == ApprovalStatusPending && now.After(r.ExpiresAt):
			r.Status = ApprovalStatusExpired
			r.DecidedAt = &now
			r.Reason = "approval window elapsed"
			close(r.done)
			expired++
		case r.Status != ApprovalStatusPending && r.DecidedAt != nil && now.Sub(*r.DecidedAt) > am.retention:
			delete(am.requests, reqID)
		}
	}
	return expired
}

func (am *ApprovalManager) snapshot(requestID string) ApprovalRequest {
	am.mu.RLock()
	defer am.mu.RUnlock()
	r, ok := am.requests[requestID]
	if !ok {
		return ApprovalRequest{ID: requestID}
	}
	c := *r
	c.done = nil
	return c
}
