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
	"fmt"
	"sync"

	"github.com/go-arcade/relay/pkg/log"
)

// ExecutorManager picks the first registered executor able to run a stage
// and publishes the stage's declared artifacts once it succeeded.
type ExecutorManager struct {
	mu        sync.RWMutex
	executors []Executor
	publisher *Publisher
}

func NewExecutorManager(publisher *Publisher) *ExecutorManager {
	return &ExecutorManager{publisher: publisher}
}

func (m *ExecutorManager) Register(executors ...Executor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executors = append(m.executors, executors...)
}

// With returns a manager that tries extra first and then m's executors.
// It shares m's publisher.
func (m *ExecutorManager) With(extra ...Executor) *ExecutorManager {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := &ExecutorManager{publisher: m.publisher}
	out.executors = append(append(out.executors, extra...), m.executors...)
	return out
}

func (m *ExecutorManager) SelectExecutor(req *ExecutionRequest) (Executor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, e := range m.executors {
		if e.CanExecute(req) {
			return e, nil
		}
	}
	return nil, fmt.Errorf("no executor available for stage %s", req.Step.Name)
}

// Execute runs req on the selected executor. Declared artifacts are published
// all-or-nothing: when publishing fails the stage fails and nothing stays
// published.
func (m *ExecutorManager) Execute(ctx context.Context, req *ExecutionRequest) (*ExecutionResult, error) {
	e, err := m.SelectExecutor(req)
	if err != nil {
		res := NewExecutionResult("none")
		res.Complete(false, -1, err)
		return res, err
	}

	res, err := e.Execute(ctx, req)
	if err != nil || !res.Success || len(req.Step.Artifacts) == 0 {
		return res, err
	}
	if m.publisher == nil {
		log.Warnw("stage declares artifacts but no artifact store is configured", "stage", req.Step.Name)
		return res, nil
	}

	reports, err := m.publisher.Publish(ctx, req.RunID, req.Step.Name, req.Workspace, req.Step.Artifacts)
	if err != nil {
		res.Complete(false, res.ExitCode, err)
		return res, err
	}
	res.Reports = reports
	return res, nil
}
