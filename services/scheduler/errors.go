// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package scheduler

import (
	"errors"
	"fmt"
)

// Sentinel errors for the scheduler package.
var (
	// ErrAdmissionRejected is returned when a low-priority job is refused
	// under extreme memory stress. It is deliberately distinct from
	// execution failure so callers can requeue later; the scheduler never
	// retries on its own.
	ErrAdmissionRejected = errors.New("admission rejected under memory stress")

	// ErrNilJob is returned when Submit receives a nil job.
	ErrNilJob = errors.New("job must not be nil")

	// ErrNilProfile is returned when a job carries no memory profile.
	ErrNilProfile = errors.New("job profile must not be nil")

	// ErrDegradeStep is returned when a degradation step cannot be applied,
	// for example a SHRINK_KV step whose argument is not a number.
	ErrDegradeStep = errors.New("degrade step not applicable")
)

// AdmissionError carries the stress conditions behind a rejection.
type AdmissionError struct {
	JobID    string
	Stress   float64
	Priority int
	Cutoff   float64
}

// Error returns the error message.
func (e *AdmissionError) Error() string {
	return fmt.Sprintf("job %q rejected: stress %.3f >= cutoff %.3f and priority %d is rejectable",
		e.JobID, e.Stress, e.Cutoff, e.Priority)
}

// Unwrap marks AdmissionError as an ErrAdmissionRejected.
func (e *AdmissionError) Unwrap() error {
	return ErrAdmissionRejected
}
