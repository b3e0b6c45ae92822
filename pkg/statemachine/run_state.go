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

// RunStatus is the lifecycle of a pipeline run.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
	RunCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further transition is possible.
func (s RunStatus) IsTerminal() bool {
	return s == RunSucceeded || s == RunFailed || s == RunCancelled
}

// NewRunStateMachine returns Pending -> Running -> {Succeeded, Failed, Cancelled}.
// A run may also fail or be cancelled before it starts.
func NewRunStateMachine() *StateMachine[RunStatus] {
	return NewWithState(RunPending).
		Allow(RunPending, RunRunning, RunFailed, RunCancelled).
		Allow(RunRunning, RunSucceeded, RunFailed, RunCancelled)
}

// StageStatus is the lifecycle of a single stage inside a run.
type StageStatus string

const (
	StagePending StageStatus = "pending"
	StageRunning StageStatus = "running"
	StageSuccess StageStatus = "success"
	StageFailure StageStatus = "failure"
	StageSkipped StageStatus = "skipped"
)

// IsTerminal reports whether the stage is finished.
func (s StageStatus) IsTerminal() bool {
	return s == StageSuccess || s == StageFailure || s == StageSkipped
}

// NewStageStateMachine returns the stage transitions.
func NewStageStateMachine() *StateMachine[StageStatus] {
	return NewWithState(StagePending).
		Allow(StagePending, StageRunning, StageSkipped).
		Allow(StageRunning, StageSuccess, StageFailure)
}
