// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runner

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sync"
)

// Command is one subprocess invocation: an explicit argv, an explicit
// environment, and buffered stdin. Nothing is inherited implicitly.
type Command struct {
	Name  string
	Args  []string
	Env   []string
	Stdin []byte
}

// ExecOutput is the captured outcome of one subprocess run.
type ExecOutput struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}

// Manager abstracts subprocess execution so the process runner can be
// tested without spawning real processes.
type Manager interface {
	// Run executes cmd synchronously, honoring ctx for cancellation.
	// A non-zero exit is not an error: it comes back in ExecOutput with a
	// nil error. The error return covers spawn failures and context
	// cancellation.
	Run(ctx context.Context, cmd Command) (ExecOutput, error)
}

// DefaultManager runs real subprocesses via os/exec.
type DefaultManager struct{}

// NewDefaultManager creates a DefaultManager.
func NewDefaultManager() *DefaultManager {
	return &DefaultManager{}
}

// Run executes cmd. On context expiry the process is killed and the
// context error is returned.
func (m *DefaultManager) Run(ctx context.Context, cmd Command) (ExecOutput, error) {
	proc := exec.CommandContext(ctx, cmd.Name, cmd.Args...)
	proc.Env = cmd.Env
	proc.Stdin = bytes.NewReader(cmd.Stdin)

	var stdout, stderr bytes.Buffer
	proc.Stdout = &stdout
	proc.Stderr = &stderr

	err := proc.Run()
	output := ExecOutput{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}

	if ctxErr := ctx.Err(); ctxErr != nil {
		return output, ctxErr
	}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			output.ExitCode = exitErr.ExitCode()
			return output, nil
		}
		return output, err
	}
	return output, nil
}

// MockManager is a test double recording every command it receives.
//
// Configure Output/Stderr/ExitCode/Err for a canned response, or RunFunc
// for per-call behavior (RunFunc wins when both are set).
type MockManager struct {
	mu       sync.Mutex
	Commands []Command

	Output   []byte
	Stderr   []byte
	ExitCode int
	Err      error

	RunFunc func(ctx context.Context, cmd Command) (ExecOutput, error)
}

// Run records cmd and returns the configured response.
func (m *MockManager) Run(ctx context.Context, cmd Command) (ExecOutput, error) {
	m.mu.Lock()
	m.Commands = append(m.Commands, cmd)
	m.mu.Unlock()

	if m.RunFunc != nil {
		return m.RunFunc(ctx, cmd)
	}
	return ExecOutput{Stdout: m.Output, Stderr: m.Stderr, ExitCode: m.ExitCode}, m.Err
}

// LastCommand returns the most recently recorded command.
func (m *MockManager) LastCommand() (Command, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.Commands) == 0 {
		return Command{}, false
	}
	return m.Commands[len(m.Commands)-1], true
}

var (
	_ Manager = (*DefaultManager)(nil)
	_ Manager = (*MockManager)(nil)
)
