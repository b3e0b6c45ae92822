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

package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	err := fmt.Errorf("publish dev: %w", New(RegistryError, "push", errors.New("connection reset")))
	assert.Equal(t, RegistryError, KindOf(err))
	assert.True(t, Is(err, RegistryError))
	assert.False(t, Is(err, BuildFailure))
	assert.Equal(t, Internal, KindOf(errors.New("plain")))
	assert.Contains(t, err.Error(), "connection reset")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"network", New(RegistryError, "push", errors.New("timeout")), true},
		{"tag conflict", New(RegistryError, "push", ErrTagConflict), false},
		{"auth", New(RegistryError, "login", ErrAuthRejected), false},
		{"manifest conflict", New(ManifestPatchConflict, "write", ErrVersionStale), true},
		{"build", New(BuildFailure, "build", errors.New("exit 1")), false},
		{"approval", New(ApprovalTimeout, "prod", nil), false},
		{"nil", nil, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestErrorUnwrap(t *testing.T) {
	err := New(ManifestPatchConflict, "write manifest", ErrVersionStale)
	assert.ErrorIs(t, err, ErrVersionStale)

	var e *Error
	assert.True(t, errors.As(err, &e))
	assert.Equal(t, "write manifest", e.Op)
	assert.Equal(t, "approve prod: ApprovalTimeout", New(ApprovalTimeout, "approve prod", nil).Error())
}
