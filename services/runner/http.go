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
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/wardstone-io/wardstone/pkg/logging"
)

// DefaultHTTPRetries is the bounded retry count for transient failures;
// the first attempt plus two retries.
const DefaultHTTPRetries = 2

// defaultBackoff is the fixed delay sequence between attempts. When the
// retry count exceeds its length the last delay repeats.
var defaultBackoff = []time.Duration{250 * time.Millisecond, time.Second}

// responseBodyLimit caps how much of an overlay's HTTP response is read.
const responseBodyLimit = 8 << 20

// HTTPRunner executes overlays exposed as HTTP services.
//
// # Description
//
// POSTs the canonical-JSON wire request to the entrypoint URL. 4xx
// responses are terminal client errors and are never retried; 5xx and
// network-level errors are retried up to the configured bound with the
// fixed backoff sequence, then reported as failure with the last error.
// The 2xx response body is parsed as JSON and wrapped in the standard
// {ok, result} envelope when it does not already use that shape.
type HTTPRunner struct {
	client  *http.Client
	retries int
	backoff []time.Duration
	logger  *logging.Logger

	// sleep is injected by tests to skip real backoff delays.
	sleep func(context.Context, time.Duration) error
}

// HTTPOption customizes an HTTPRunner.
type HTTPOption func(*HTTPRunner)

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(client *http.Client) HTTPOption {
	return func(r *HTTPRunner) {
		if client != nil {
			r.client = client
		}
	}
}

// WithRetries overrides the transient-failure retry bound.
func WithRetries(n int) HTTPOption {
	return func(r *HTTPRunner) {
		if n >= 0 {
			r.retries = n
		}
	}
}

// WithBackoff overrides the delay sequence between attempts.
func WithBackoff(delays []time.Duration) HTTPOption {
	return func(r *HTTPRunner) {
		if len(delays) > 0 {
			r.backoff = delays
		}
	}
}

// WithSleep injects the inter-attempt delay function. Used by tests.
func WithSleep(sleep func(context.Context, time.Duration) error) HTTPOption {
	return func(r *HTTPRunner) {
		if sleep != nil {
			r.sleep = sleep
		}
	}
}

// NewHTTPRunner creates an HTTPRunner with the default client, retry
// bound, and backoff sequence.
func NewHTTPRunner(logger *logging.Logger, opts ...HTTPOption) *HTTPRunner {
	if logger == nil {
		logger = logging.Default()
	}
	r := &HTTPRunner{
		client:  &http.Client{},
		retries: DefaultHTTPRetries,
		backoff: defaultBackoff,
		logger:  logger,
		sleep:   sleepContext,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Invoke executes one overlay HTTP invocation.
func (r *HTTPRunner) Invoke(ctx context.Context, req Request) (*InvocationResult, error) {
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

	timeout := time.Duration(req.TimeoutMS) * time.Millisecond
	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	started := time.Now()
	defer func() {
		result.DurationMS = time.Since(started).Milliseconds()
	}()

	var lastErr string
	for attempt := 0; attempt <= r.retries; attempt++ {
		if attempt > 0 {
			if err := r.sleep(callCtx, r.delay(attempt-1)); err != nil {
				break
			}
			r.logger.Info("retrying overlay http call",
				"overlay", req.Overlay,
				"request_id", req.RequestID,
				"attempt", attempt+1,
			)
		}

		status, responseBody, err := r.post(callCtx, req.Entrypoint, body)
		if err != nil {
			if callCtx.Err() != nil {
				result.ExitCode = -1
				result.Error = fmt.Sprintf("%v after %dms", ErrExecutionTimeout, req.TimeoutMS)
				return result, nil
			}
			// Network-level failure: transient, retry.
			lastErr = err.Error()
			continue
		}

		switch {
		case status >= 200 && status < 300:
			r.fillSuccess(result, responseBody)
			return result, nil
		case status >= 400 && status < 500:
			// Terminal client error, never retried.
			result.ExitCode = status
			result.Stdout = string(responseBody)
			result.Error = fmt.Sprintf("terminal client error: status %d", status)
			return result, nil
		default:
			lastErr = fmt.Sprintf("status %d", status)
		}
	}

	result.ExitCode = -1
	result.Error = fmt.Sprintf("failed after %d attempts: %s", r.retries+1, lastErr)
	return result, nil
}

// post performs one attempt.
func (r *HTTPRunner) post(ctx context.Context, url string, body []byte) (int, []byte, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return 0, nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	request.Header.Set("Content-Type", "application/json")

	response, err := r.client.Do(request)
	if err != nil {
		return 0, nil, err
	}
	defer response.Body.Close()

	responseBody, err := io.ReadAll(io.LimitReader(response.Body, responseBodyLimit))
	if err != nil {
		return response.StatusCode, nil, err
	}
	return response.StatusCode, responseBody, nil
}

// fillSuccess parses a 2xx response body and wraps it in the {ok, result}
// envelope when it does not already carry one.
func (r *HTTPRunner) fillSuccess(result *InvocationResult, responseBody []byte) {
	result.Stdout = string(responseBody)

	var parsed map[string]any
	if err := json.Unmarshal(responseBody, &parsed); err != nil {
		result.Error = newProtocolError("response is not valid JSON", responseBody).Error()
		return
	}

	result.OK = true
	if _, hasEnvelope := parsed["ok"]; hasEnvelope {
		result.OutputJSON = parsed
		return
	}
	result.OutputJSON = map[string]any{"ok": true, "result": parsed}
}

// delay returns the backoff before retry attempt i (0-based), repeating
// the final entry when the sequence is exhausted.
func (r *HTTPRunner) delay(i int) time.Duration {
	if i >= len(r.backoff) {
		return r.backoff[len(r.backoff)-1]
	}
	return r.backoff[i]
}

// sleepContext waits for d or until ctx is done.
func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ Runner = (*HTTPRunner)(nil)
