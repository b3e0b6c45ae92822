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
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/go-arcade/relay/pkg/log"
)

// OutputEnv names the file a command appends key=value outputs to.
const OutputEnv = "RELAY_OUTPUT"

const maxCapturedOutput = 64 * 1024

// ShellExecutor runs `run` stages through a shell in the workspace.
type ShellExecutor struct {
	shell          string
	defaultTimeout time.Duration
	inheritEnv     bool
}

type ShellOption func(*ShellExecutor)

// WithShell overrides the shell, /bin/sh by default.
func WithShell(shell string) ShellOption {
	return func(e *ShellExecutor) { e.shell = shell }
}

// WithDefaultTimeout bounds stages that do not set their own timeout.
func WithDefaultTimeout(d time.Duration) ShellOption {
	return func(e *ShellExecutor) { e.defaultTimeout = d }
}

// WithoutInheritedEnv starts commands with only the stage environment.
func WithoutInheritedEnv() ShellOption {
	return func(e *ShellExecutor) { e.inheritEnv = false }
}

func NewShellExecutor(opts ...ShellOption) *ShellExecutor {
	e := &ShellExecutor{shell: "/bin/sh", defaultTimeout: 30 * time.Minute, inheritEnv: true}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *ShellExecutor) Name() string { return "shell" }

func (e *ShellExecutor) CanExecute(req *ExecutionRequest) bool {
	return req.Step != nil && strings.TrimSpace(req.Step.Run) != ""
}

func (e *ShellExecutor) Execute(ctx context.Context, req *ExecutionRequest) (*ExecutionResult, error) {
	res := NewExecutionResult(e.Name())

	timeout := req.Timeout
	if timeout <= 0 {
		timeout = e.defaultTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outFile, err := os.CreateTemp("", "relay-output-*")
	if err != nil {
		res.Complete(false, -1, err)
		return res, err
	}
	outFile.Close()
	defer os.Remove(outFile.Name())

	cmd := exec.CommandContext(ctx, e.shell, "-c", req.Step.Run)
	cmd.Dir = req.Workspace
	cmd.Env = e.environ(req.Env, outFile.Name())
	cmd.WaitDelay = 5 * time.Second
	isolate(cmd)

	tail := &tailBuffer{max: maxCapturedOutput}
	lines := &lineLogger{stage: req.Step.Name}
	cmd.Stdout = &multi{tail, lines}
	cmd.Stderr = cmd.Stdout

	log.Debugw("running command", "run", req.RunID, "stage", req.Step.Name, "shell", e.shell)
	runErr := cmd.Run()
	lines.flush()
	res.Output = tail.String()

	outputs, err := parseOutputs(outFile.Name())
	if err != nil {
		log.Warnw("failed to read stage outputs", "stage", req.Step.Name, "error", err)
	}
	res.Outputs = outputs

	if runErr != nil {
		exitCode := -1
		var exitErr *exec.ExitError
		if errors.As(runErr, &exitErr) {
			exitCode = exitErr.ExitCode()
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			runErr = fmt.Errorf("stage %s timed out after %s: %w", req.Step.Name, timeout, context.DeadlineExceeded)
		} else {
			runErr = fmt.Errorf("stage %s failed with exit code %d: %w", req.Step.Name, exitCode, runErr)
		}
		res.Complete(false, exitCode, runErr)
		return res, runErr
	}
	res.Complete(true, 0, nil)
	return res, nil
}

func (e *ShellExecutor) environ(extra map[string]string, outputFile string) []string {
	var env []string
	if e.inheritEnv {
		env = os.Environ()
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return append(env, OutputEnv+"="+outputFile)
}

// parseOutputs reads key=value lines; blank lines and # comments are ignored
// and later keys win.
func parseOutputs(path string) (map[string]string, error) {
	out := map[string]string{}
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return out, err
	}
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		k, v, ok := strings.Cut(line, "=")
		if !ok || strings.TrimSpace(k) == "" {
			continue
		}
		out[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return out, sc.Err()
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = append(t.buf[:0], t.buf[over:]...)
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return string(t.buf)
}

// lineLogger forwards complete output lines to the debug log.
type lineLogger struct {
	mu      sync.Mutex
	stage   string
	partial []byte
}

func (l *lineLogger) Write(p []byte) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.partial = append(l.partial, p...)
	for {
		i := bytes.IndexByte(l.partial, '\n')
		if i < 0 {
			break
		}
		log.Debugw(string(l.partial[:i]), "stage", l.stage)
		l.partial = l.partial[i+1:]
	}
	return len(p), nil
}

func (l *lineLogger) flush() {
	l.mu.Lock()
	defer l.mu.Unlock()
	if len(l.partial) > 0 {
		log.Debugw(string(l.partial), "stage", l.stage)
		l.partial = nil
	}
}

type multi []interface{ Write([]byte) (int, error) }

func (m multi) Write(p []byte) (int, error) {
	for _, w := range m {
		if _, err := w.Write(p); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}
