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

package statemachine

import (
	"fmt"
	"slices"
	"sync"
	"time"
)

// Event names the reason of a transition.
type Event string

// StateHook runs after a state has been entered.
type StateHook[T comparable] func(from, to T, event Event)

// TransitionRecord records one accepted transition.
type TransitionRecord[T comparable] struct {
	From      T
	To        T
	Event     Event
	Timestamp time.Time
}

// StateMachine is a small thread-safe finite state machine. A state with no
// registered outgoing transitions is terminal.
type StateMachine[T comparable] struct {
	mu          sync.RWMutex
	current     T
	transitions map[T][]T
	onEnter     map[T][]StateHook[T]
	history     []TransitionRecord[T]
}

// NewWithState creates a state machine positioned at initial.
func NewWithState[T comparable](initial T) *StateMachine[T] {
	return &StateMachine[T]{
		current:     initial,
		transitions: make(map[T][]T),
		onEnter:     make(map[T][]StateHook[T]),
	}
}

// Allow registers from -> to for every target.
func (sm *StateMachine[T]) Allow(from T, to ...T) *StateMachine[T] {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	for _, target := range to {
		if !slices.Contains(sm.transitions[from], target) {
			sm.transitions[from] = append(sm.transitions[from], target)
		}
	}
	return sm
}

// OnEnter registers a hook fired after state is entered.
func (sm *StateMachine[T]) OnEnter(state T, h StateHook[T]) *StateMachine[T] {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onEnter[state] = append(sm.onEnter[state], h)
	return sm
}

// Current returns the current state.
func (sm *StateMachine[T]) Current() T {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.current
}

// CanTransition reports whether from -> to is registered.
func (sm *StateMachine[T]) CanTransition(from, to T) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return slices.Contains(sm.transitions[from], to)
}

// IsTerminal reports whether state has no outgoing transitions.
func (sm *StateMachine[T]) IsTerminal(state T) bool {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return len(sm.transitions[state]) == 0
}

// TransitionTo moves the machine from its current state to to.
func (sm *StateMachine[T]) TransitionTo(to T, event Event) error {
	sm.mu.Lock()
	from := sm.current
	if !slices.Contains(sm.transitions[from], to) {
		sm.mu.Unlock()
		return fmt.Errorf("invalid transition: %v -> %v", from, to)
	}
	sm.current = to
	sm.history = append(sm.history, TransitionRecord[T]{From: from, To: to, Event: event, Timestamp: time.Now()})
	hooks := slices.Clone(sm.onEnter[to])
	sm.mu.Unlock()

	for _, h := range hooks {
		h(from, to, event)
	}
	return nil
}

// History returns a copy of the accepted transitions.
func (sm *StateMachine[T]) History() []TransitionRecord[T] {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return slices.Clone(sm.history)
}
