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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-arcade/relay/internal/pkg/errdefs"
)

func TestApproval_Approve(t *testing.T) {
	am := NewApprovalManager(time.Minute)
	req := am.Create("run-1", "prod", "ghcr.io/acme/catalog:1.2.3")

	go func() {
		time.Sleep(10 * time.Millisecond)
		assert.NoError(t, am.Approve(req.ID, "alice", "release window"))
	}()

	got, err := am.Wait(context.Background(), req.ID)
	require.NoError(t, err)
	assert.Equal(t, ApprovalStatusApproved, got.Status)
	assert.Equal(t, "alice", got.DecidedBy)

	assert.ErrorIs(t, am.Reject(req.ID, "bob", "late"), ErrApprovalNotPending)
}

func TestApproval_Reject(t *testing.T) {
	am := NewApprovalManager(time.Minute)
	req := am.Create("run-1", "prod", "img")
	require.NoError(t, am.Reject(req.ID, "bob", "freeze"))

	_, err := am.Wait(context.Background(), req.ID)
	assert.True(t, errdefs.Is(err, errdefs.ApprovalRejected))
}

func TestApproval_Timeout(t *testing.T) {
	am := NewApprovalManager(30 * time.Millisecond)
	req := am.Create("run-1", "prod", "img")

	got, err := am.Wait(context.Background(), req.ID)
	assert.True(t, errdefs.Is(err, errdefs.ApprovalTimeout))
	assert.Equal(t, ApprovalStatusExpired, got.Status)
}

func TestApproval_ContextCancel(t *testing.T) {
	am := NewApprovalManager(time.Minute)
	req := am.Create("run-1", "prod", "img")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	got, err := am.Wait(ctx, req.ID)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, ApprovalStatusExpired, got.Status)
	assert.Contains(t, got.Reason, "waiting run ended")

	assert.Empty(t, am.List(ApprovalStatusPending))
	assert.ErrorIs(t, am.Approve(req.ID, "alice", "too late"), ErrApprovalNotPending)
}

func TestApproval_UnknownID(t *testing.T) {
	am := NewApprovalManager(time.Minute)
	_, err := am.Wait(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrApprovalNotFound)
	assert.ErrorIs(t, am.Approve("nope", "a", ""), ErrApprovalNotFound)
}

func TestApproval_SweepAndList(t *testing.T) {
	am := NewApprovalManager(time.Hour)
	now := time.Now()
	am.now = func() time.Time { return now }

	stale := am.Create("run-1", "prod", "img:1")
	fresh := am.Create("run-2", "staging", "img:2")
	am.mu.Lock()
	am.requests[stale.ID].ExpiresAt = now.Add(-time.Second)
	am.mu.Unlock()

	assert.Equal(t, 1, am.Sweep())
	assert.Len(t, am.List(ApprovalStatusPending), 1)
	assert.Equal(t, fresh.ID, am.List(ApprovalStatusPending)[0].ID)
	assert.Len(t, am.List(""), 2)

	_, err := am.Wait(context.Background(), stale.ID)
	assert.True(t, errdefs.Is(err, errdefs.ApprovalTimeout))

	am.now = func() time.Time { return now.Add(8 * 24 * time.Hour) }
	am.Sweep()
	_, err = am.Get(stale.ID)
	assert.ErrorIs(t, err, ErrApprovalNotFound, "decided requests are forgotten after retention")
}
