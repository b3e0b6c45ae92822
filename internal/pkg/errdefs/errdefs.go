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

// Package errdefs defines the failure classes a pipeline run can end with.
package errdefs

import (
	"errors"
	"fmt"
)

// Kind classifies a pipeline failure.
type Kind string

const (
	BuildFailure           Kind = "BuildFailure"
	QualityGateFailure     Kind = "QualityGateFailure"
	SecurityFindingFailure Kind = "SecurityFindingFailure"
	RegistryError          Kind = "RegistryError"
	ManifestPatchConflict  Kind = "ManifestPatchConflict"
	ApprovalTimeout        Kind = "ApprovalTimeout"
	ApprovalRejected       Kind = "ApprovalRejected"
	NotificationFailure    Kind = "NotificationFailure"
	Cancelled              Kind = "Cancelled"
	Internal               Kind = "Internal"
)

// Retryable reports whether failures of this kind are worth another attempt.
func (k Kind) Retryable() bool {
	return k == RegistryError || k == ManifestPatchConflict
}

// Error carries a Kind together with the operation that failed.
type Error struct {
	Kind Kind
	Op   string
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Kind, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Is matches another *Error with the same Kind, so errors.Is(err, &Error{Kind: k}) works.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Op == "" && t.Err == nil && t.Kind == e.Kind
}

func New(kind Kind, op string, err error) error {
	return &Error{Kind: kind, Op: op, Err: err}
}

func Newf(kind Kind, op, format string, args ...any) error {
	return &Error{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// KindOf returns the Kind of the outermost *Error in err's chain, or Internal.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

// Is reports whether err carries kind.
func Is(err error, kind Kind) bool {
	return errors.Is(err, &Error{Kind: kind})
}

// Sentinel causes shared by several packages.
var (
	ErrTagConflict  = errors.New("tag already bound to a different digest")
	ErrAuthRejected = errors.New("registry rejected credentials")
	ErrNotFound     = errors.New("not found")
	ErrVersionStale = errors.New("state store version changed")
)

// IsRetryable is the retry predicate for pipeline operations: retryable kinds,
// except tag conflicts, rejected credentials and missing objects.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrTagConflict) || errors.Is(err, ErrAuthRejected) || errors.Is(err, ErrNotFound) {
		return false
	}
	return KindOf(err).Retryable()
}
