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

package executor

import (
	"context"
	"time"
)

// Executor runs one pipeline stage.
type Executor interface {
	// Execute runs the stage. The result is never nil; a non-nil error
	// explains why the stage did not succeed.
	Execute(ctx context.Context, req *ExecutionRequest) (*ExecutionResult, error)
	// CanExecute reports whether this executor handles req.
	CanExecute(req *ExecutionRequest) bool
	Name() string
}

// StepInfo describes the stage to execute.
type StepInfo struct {
	Name string
	// Run is a shell command; Uses names a built-in action. Exactly one is set.
	Run  string
	Uses string
	With map[string]string
	// Artifacts are workspace relative paths or globs published on success.
	Artifacts []string
}

// ExecutionRequest carries everything a stage may read.
type ExecutionRequest struct {
	RunID     string
	Step      *StepInfo
	Workspace string
	Env       map[string]string
	Timeout   time.Duration
}

// ExecutionResult is what a stage produced.
type ExecutionResult struct {
	Success      bool
	ExitCode     int
	Error        string
	StartTime    time.Time
	EndTime      time.Time
	Duration     time.Duration
	Output       string
	Outputs      map[string]string
	Reports      []Report
	ExecutorName string
}

// Report is a published stage artifact.
type Report struct {
	Path string `json:"path"`
	Key  string `json:"key"`
	URL  string `json:"url,omitempty"`
}

func NewExecutionResult(executorName string) *ExecutionResult {
	return &ExecutionResult{
		ExecutorName: executorName,
		StartTime:    time.Now(),
		Outputs:      make(map[string]string),
	}
}

// Complete stamps the end of execution.
func (r *ExecutionResult) Complete(success bool, exitCode int, err error) {
	r.EndTime = time.Now()
	r.Duration = r.EndTime.Sub(r.StartTime)
	r.Success = success
	r.ExitCode = exitCode
	if err != nil {
		r.Error = err.Error()
	}
}
