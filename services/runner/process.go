// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/wardstone-io/wardstone/pkg/logging"
)

// envAllowList is the only set of inherited environment variables a
// sandboxed subprocess receives; everything else is scrubbed. The entries
// cover interpreter resolution and temp-file placement, nothing more.
var envAllowList = []string{"PATH", "HOME", "LANG", "LC_ALL", "TMPDIR"}

// Sandbox marker variables injected into every subprocess environment.
const (
	EnvSandboxMarker = "WARDSTONE_SANDBOX"
	EnvOverlay       = "WARDSTONE_OVERLAY"
	EnvPhase         = "WARDSTONE_PHASE"
	EnvRequestID     = "WARDSTONE_REQUEST_ID"
)

// ProcessRunner executes overlays as subprocesses.
//
// # Description
//
// The argument vector comes from splitting the manifest entrypoint on
// whitespace; nothing passes through a shell. The wire request is written
// to the child's stdin as canonical JSON, execution is bounded by the
// request timeout, and on expiry the process is killed and the result
// records a timeout with no partial success. Stdout that looks like a JSON
// object is parsed into OutputJSON; anything else is passed through as
// opaque text.
type ProcessRunner struct {
	manager Manager
	logger  *logging.Logger

	// environ is injected by tests; defaults to os.Getenv.
	environ func(string) string
}

// ProcessOption customizes a ProcessRunner.
type ProcessOption func(*ProcessRunner)

// WithEnviron injects an environment source. Used by tests.
func WithEnviron(environ func(string) string) ProcessOption {
	return func(r *ProcessRunner) {
		if environ != nil {
			r.environ = environ
		}
	}
}

// NewProcessRunner creates a ProcessRunner. A nil manager gets the real
// subprocess manager; a nil logger gets the default logger.
func NewProcessRunner(manager Manager, logger *logging.Logger, opts ...ProcessOption) *ProcessRunner {
	if manager == nil {
		manager = NewDefaultManager()
	}
	if logger == nil {
		logger = logging.Default()
	}
	r := &ProcessRunner{manager: manager, logger: logger, environ: os.Getenv}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Invoke executes one overlay subprocess invocation.
func (r *ProcessRunner) Invoke(ctx context.Context, req Request) (*InvocationResult, error) {
	if err := req.validate(); err != nil {
		return nil, err
	}
	body, hash, err := encodeProtocolRequest(req)
	if err != nil {
		return nil, err
	}

	result := &InvocationResult{
		Overlay:        req.Overlay,
		Phase:          req.Phase,
		ProvenanceHash: hash,
	}

	argv := strings.Fields(req.Entrypoint)
	if len(argv) == 0 {
		return nil, fmt.Errorf("%w: entrypoint is blank", ErrBadRequest)
	}

	cmd := Command{
		Name:  argv[0],
		Args:  argv[1:],
		Env:   r.sandboxEnv(req),
		Stdin: body,
	}

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	output, runErr := r.manager.Run(runCtx, cmd)
	result.DurationMS = time.Since(started).Milliseconds()
	result.Stdout = string(output.Stdout)
	result.Stderr = string(output.Stderr)
	result.ExitCode = output.ExitCode

	if runErr != nil {
		if errors.Is(runErr, context.DeadlineExceeded) {
			result.ExitCode = -1
			result.Error = fmt.Sprintf("%v after %dms", ErrExecutionTimeout, req.TimeoutMS)
			r.logger.Warn("overlay subprocess timed out",
				"overlay", req.Overlay,
				"request_id", req.RequestID,
				"timeout_ms", req.TimeoutMS,
			)
			return result, nil
		}
		result.ExitCode = -1
		result.Error = runErr.Error()
		r.logger.Error("overlay subprocess failed to run",
			"overlay", req.Overlay,
			"request_id", req.RequestID,
			"error", runErr.Error(),
		)
		return result, nil
	}

	if output.ExitCode != 0 {
		result.Error = fmt.Sprintf("exit code %d", output.ExitCode)
		return result, nil
	}

	result.OK = true
	if looksLikeJSONObject(output.Stdout) {
		var parsed map[string]any
		if err := json.Unmarshal(output.Stdout, &parsed); err != nil {
			// Looked like JSON but wasn't; keep the run successful and
			// surface the opaque text, noting the protocol mismatch.
			result.Error = newProtocolError("stdout is not valid JSON", output.Stdout).Error()
		} else {
			result.OutputJSON = parsed
		}
	}
	return result, nil
}

// sandboxEnv builds the scrubbed environment: allow-listed inherited
// variables plus the sandbox markers.
func (r *ProcessRunner) sandboxEnv(req Request) []string {
	env := make([]string, 0, len(envAllowList)+4)
	for _, key := range envAllowList {
		if value := r.environ(key); value != "" {
			env = append(env, key+"="+value)
		}
	}
	env = append(env,
		EnvSandboxMarker+"=1",
		EnvOverlay+"="+req.Overlay,
		EnvPhase+"="+req.Phase,
		EnvRequestID+"="+req.RequestID,
	)
	return env
}

var _ Runner = (*ProcessRunner)(nil)
