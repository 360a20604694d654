// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package gateway

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wardstone-io/wardstone/pkg/validation"
	"github.com/wardstone-io/wardstone/services/gateway/observability"
	"github.com/wardstone-io/wardstone/services/memrune"
	"github.com/wardstone-io/wardstone/services/phasepolicy"
	"github.com/wardstone-io/wardstone/services/provenance"
	"github.com/wardstone-io/wardstone/services/registry"
	"github.com/wardstone-io/wardstone/services/runner"
	"github.com/wardstone-io/wardstone/services/scheduler"
)

// invokeRequest is the POST /v1/invoke body.
type invokeRequest struct {
	Overlay   string `json:"overlay" binding:"required"`
	Phase     string `json:"phase" binding:"required"`
	RequestID string `json:"request_id"`
	Payload   any    `json:"payload"`
}

// overlaySummary is one row of GET /v1/overlays.
type overlaySummary struct {
	Name         string              `json:"name"`
	Version      string              `json:"version"`
	Status       string              `json:"status"`
	Phases       []phasepolicy.Phase `json:"phases"`
	Capabilities []string            `json:"capabilities"`
	TimeoutMS    int                 `json:"timeout_ms"`
}

// handleHealth reports liveness plus the current stress classification.
func (s *Service) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":       "ok",
		"ram_stress":   s.deps.Monitor.Current(),
		"stress_level": s.deps.Monitor.Classify(),
	})
}

// handleListOverlays lists every overlay with a parseable manifest.
func (s *Service) handleListOverlays(c *gin.Context) {
	manifests, err := s.deps.Registry.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"ok": false, "error": err.Error()})
		return
	}
	summaries := make([]overlaySummary, 0, len(manifests))
	for _, m := range manifests {
		summaries = append(summaries, overlaySummary{
			Name:         m.Name,
			Version:      m.Version,
			Status:       m.Status,
			Phases:       m.Phases,
			Capabilities: m.Capabilities,
			TimeoutMS:    m.TimeoutMS,
		})
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "overlays": summaries})
}

// handleInvoke runs the full governor pipeline for one invocation.
func (s *Service) handleInvoke(c *gin.Context) {
	var req invokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	if err := validation.ValidateRequestID(req.RequestID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"ok": false, "error": err.Error()})
		return
	}
	requestID := req.RequestID
	if requestID == "" {
		requestID = uuid.NewString()
	}

	if err := s.sem.Acquire(c.Request.Context(), 1); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"ok": false, "request_id": requestID, "error": "gateway at capacity",
		})
		return
	}
	defer s.sem.Release(1)

	manifest, err := s.deps.Registry.Get(req.Overlay)
	if err != nil {
		status := http.StatusInternalServerError
		switch {
		case errors.Is(err, registry.ErrOverlayNotFound):
			status = http.StatusNotFound
		case errors.Is(err, validation.ErrInvalidOverlayName),
			errors.Is(err, registry.ErrManifestInvalid):
			status = http.StatusBadRequest
		}
		c.JSON(status, gin.H{"ok": false, "request_id": requestID, "error": err.Error()})
		return
	}
	if !manifest.Enabled() {
		c.JSON(http.StatusForbidden, gin.H{
			"ok": false, "request_id": requestID,
			"error": "overlay is not enabled",
		})
		return
	}

	phase := phasepolicy.Phase(req.Phase)
	if err := s.deps.Engine.Check(phasepolicy.CheckRequest{
		Phase:           phase,
		Overlay:         manifest.Name,
		SupportedPhases: manifest.Phases,
		Entrypoint:      manifest.Entrypoint,
		Capabilities:    manifest.Capabilities,
		TimeoutMS:       manifest.TimeoutMS,
	}); err != nil {
		var violation *phasepolicy.Violation
		if errors.As(err, &violation) {
			s.metrics.PolicyViolationsTotal.WithLabelValues(string(violation.Rule)).Inc()
			s.metrics.InvocationsTotal.WithLabelValues(
				manifest.Name, req.Phase, observability.OutcomeViolation).Inc()
			s.logger.Warn("invocation denied by phase policy",
				"overlay", manifest.Name,
				"phase", req.Phase,
				"rule", string(violation.Rule),
				"request_id", requestID,
			)
			c.JSON(http.StatusForbidden, gin.H{
				"ok": false, "request_id": requestID,
				"error": violation.Error(), "violation": violation,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"ok": false, "request_id": requestID, "error": err.Error(),
		})
		return
	}

	policy := s.deps.Engine.Policy(phase)
	if policy.RequireApproval {
		if err := s.opts.Approval.Approve(c.Request.Context(),
			manifest.Name, req.Phase, requestID); err != nil {
			c.JSON(http.StatusForbidden, gin.H{
				"ok": false, "request_id": requestID,
				"error": "approval withheld: " + err.Error(),
			})
			return
		}
	}

	profile := s.defaultProfile
	if manifest.Rune != "" {
		profile, err = memrune.Parse(manifest.Rune)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"ok": false, "request_id": requestID,
				"error": "overlay rune annotation: " + err.Error(),
			})
			return
		}
	}

	timeoutMS := manifest.TimeoutMS
	if policy.MaxDurationMS < timeoutMS {
		timeoutMS = policy.MaxDurationMS
	}

	runnerReq := runner.Request{
		Overlay:     manifest.Name,
		Version:     manifest.Version,
		Phase:       req.Phase,
		Entrypoint:  manifest.Entrypoint,
		RequestID:   requestID,
		TimestampMS: s.now().UnixMilli(),
		Payload:     req.Payload,
		TimeoutMS:   timeoutMS,
	}

	job := &scheduler.JobContext{
		JobID:    requestID,
		Profile:  profile,
		Metadata: map[string]any{metaInvocationRequest: runnerReq},
	}

	started := time.Now()
	submitted, err := s.sched.Submit(c.Request.Context(), job)
	if err != nil {
		if errors.Is(err, scheduler.ErrAdmissionRejected) {
			s.metrics.AdmissionRejectionsTotal.WithLabelValues(manifest.Name).Inc()
			s.metrics.InvocationsTotal.WithLabelValues(
				manifest.Name, req.Phase, observability.OutcomeRejected).Inc()
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"ok": false, "request_id": requestID, "error": err.Error(),
				"retryable": true,
			})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"ok": false, "request_id": requestID, "error": err.Error(),
		})
		return
	}

	result, ok := submitted.(*runner.InvocationResult)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{
			"ok": false, "request_id": requestID, "error": "executor returned unexpected result",
		})
		return
	}

	result.PolicyChecked = true

	degradation := degradationDirectives(job.Metadata)
	if len(degradation) > 0 {
		s.metrics.DegradedInvocationsTotal.Inc()
	}

	findings := s.opts.Drift.Scan(result.Stdout)
	for _, finding := range findings {
		s.logger.Warn("drift finding in overlay output",
			"overlay", manifest.Name,
			"request_id", requestID,
			"rule", finding.Rule,
			"severity", finding.Severity,
		)
	}

	s.appendAudit(requestID, manifest, req.Phase, runnerReq, result)

	outcome := observability.OutcomeFailed
	if result.OK {
		outcome = observability.OutcomeOK
	}
	s.metrics.InvocationsTotal.WithLabelValues(manifest.Name, req.Phase, outcome).Inc()
	s.metrics.InvokeDurationSeconds.WithLabelValues(manifest.Name, req.Phase).
		Observe(time.Since(started).Seconds())

	response := gin.H{
		"ok":         result.OK,
		"request_id": requestID,
		"result":     result,
	}
	if len(degradation) > 0 {
		response["degradation"] = degradation
	}
	if len(findings) > 0 {
		response["drift_findings"] = findings
	}
	c.JSON(http.StatusOK, response)
}

// degradationDirectives extracts the scheduler's degradation keys from job
// metadata, skipping the gateway's own transport key.
func degradationDirectives(meta map[string]any) map[string]any {
	directives := make(map[string]any)
	for key, value := range meta {
		if key == metaInvocationRequest {
			continue
		}
		directives[key] = value
	}
	return directives
}

// appendAudit writes the invocation's audit entry and index record.
// Failures are logged, never surfaced to the caller: the invocation
// already happened and its result must be returned.
func (s *Service) appendAudit(requestID string, manifest *registry.Manifest,
	phase string, req runner.Request, result *runner.InvocationResult) {

	entry := provenance.Entry{
		RequestID:       requestID,
		TimestampMS:     req.TimestampMS,
		Overlay:         manifest.Name,
		Phase:           phase,
		ManifestVersion: manifest.Version,
		Entrypoint:      manifest.Entrypoint,
		OK:              result.OK,
		ExitCode:        result.ExitCode,
		DurationMS:      result.DurationMS,
		ProvenanceHash:  result.ProvenanceHash,
	}
	if s.deps.Audit.PayloadsEnabled() {
		entry.Payload = req.Payload
	}
	if err := s.deps.Audit.Append(entry); err != nil {
		s.logger.Error("audit append failed", "request_id", requestID, "error", err.Error())
		return
	}
	if s.deps.Index != nil {
		if err := s.deps.Index.Put(entry); err != nil {
			s.logger.Error("index put failed", "request_id", requestID, "error", err.Error())
		}
	}
}
