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
	"testing"
)

func TestRunStateMachine(t *testing.T) {
	tests := []struct {
		name    string
		path    []RunStatus
		wantErr bool
	}{
		{"success path", []RunStatus{RunRunning, RunSucceeded}, false},
		{"failure path", []RunStatus{RunRunning, RunFailed}, false},
		{"cancel while running", []RunStatus{RunRunning, RunCancelled}, false},
		{"cancel before start", []RunStatus{RunCancelled}, false},
		{"skip running", []RunStatus{RunSucceeded}, true},
		{"leave terminal", []RunStatus{RunRunning, RunFailed, RunRunning}, true},
		{"succeeded to cancelled", []RunStatus{RunRunning, RunSucceeded, RunCancelled}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sm := NewRunStateMachine()
			var err error
			for _, s := range tt.path {
				if err = sm.TransitionTo(s, ""); err != nil {
					break
				}
			}
			if (err != nil) != tt.wantErr {
				t.Errorf("TransitionTo() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRunStatusTerminal(t *testing.T) {
	sm := NewRunStateMachine()
	for _, s := range []RunStatus{RunSucceeded, RunFailed, RunCancelled} {
		if !s.IsTerminal() || !sm.IsTerminal(s) {
			t.Errorf("%s should be terminal", s)
		}
	}
	for _, s := range []RunStatus{RunPending, RunRunning} {
		if s.IsTerminal() || sm.IsTerminal(s) {
			t.Errorf("%s should not be terminal", s)
		}
	}
}

func TestStageStateMachine(t *testing.T) {
	sm := NewStageStateMachine()
	if err := sm.TransitionTo(StageSkipped, "upstream failed"); err != nil {
		t.Fatalf("pending -> skipped: %v", err)
	}
	if err := sm.TransitionTo(StageRunning, ""); err == nil {
		t.Errorf("skipped stage must not start")
	}
}

func TestOnEnterAndHistory(t *testing.T) {
	var entered []RunStatus
	sm := NewRunStateMachine().
		OnEnter(RunFailed, func(from, to RunStatus, event Event) {
			entered = append(entered, to)
		})

	if err := sm.TransitionTo(RunRunning, "start"); err != nil {
		t.Fatal(err)
	}
	if err := sm.TransitionTo(RunFailed, "build failed"); err != nil {
		t.Fatal(err)
	}
	if len(entered) != 1 || entered[0] != RunFailed {
		t.Errorf("OnEnter hook fired %v", entered)
	}
	h := sm.History()
	if len(h) != 2 || h[1].Event != "build failed" {
		t.Errorf("unexpected history %+v", h)
	}
	if sm.Current() != RunFailed {
		t.Errorf("Current() = %s", sm.Current())
	}
}
