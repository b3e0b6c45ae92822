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
)

// ActionFunc implements a built-in action and returns its outputs.
type ActionFunc func(ctx context.Context, req *ExecutionRequest) (map[string]string, error)

// ActionExecutor runs `uses` stages backed by Go functions.
type ActionExecutor struct {
	mu      sync.RWMutex
	actions map[string]ActionFunc
}

func NewActionExecutor() *ActionExecutor {
	return &ActionExecutor{actions: make(map[string]ActionFunc)}
}

// Register binds name to fn, replacing any previous binding.
func (a *ActionExecutor) Register(name string, fn ActionFunc) *ActionExecutor {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.actions[name] = fn
	return a
}

func (a *ActionExecutor) Name() string { return "action" }

func (a *ActionExecutor) CanExecute(req *ExecutionRequest) bool {
	if req.Step == nil || req.Step.Uses == "" {
		return false
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.actions[req.Step.Uses]
	return ok
}

func (a *ActionExecutor) Execute(ctx context.Context, req *ExecutionRequest) (*ExecutionResult, error) {
	res := NewExecutionResult(a.Name())

	a.mu.RLock()
	fn, ok := a.actions[req.Step.Uses]
	a.mu.RUnlock()
	if !ok {
		err := fmt.Errorf("unknown action %q", req.Step.Uses)
		res.Complete(false, -1, err)
		return res, err
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	outputs, err := fn(ctx, req)
	for k, v := range outputs {
		res.Outputs[k] = v
	}
	if err != nil {
		res.Complete(false, 1, err)
		return res, err
	}
	res.Complete(true, 0, nil)
	return res, nil
}
