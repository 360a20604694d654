// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/wardstone-io/wardstone/pkg/ux"
	"github.com/wardstone-io/wardstone/services/provenance"
)

// Exit codes for replay commands.
const (
	ReplayExitSuccess = 0
	ReplayExitBroken  = 1
	ReplayExitError   = 2
)

var (
	replayLogPath   string
	replayIndexDir  string
	replayRequestID string
	replayJSON      bool
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Inspect audit logs and the provenance index",
}

var replayVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recompute the audit log's hash chain",
	Long: `verify re-reads an audit log line by line and recomputes its hash
chain. Any edited, deleted, or reordered line breaks every hash after it.

Exit codes: 0 chain intact, 1 chain broken or malformed, 2 I/O error.`,
	RunE: runReplayVerify,
}

var replayShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the audit entry for one request id",
	Long: `show looks up a single invocation by request id. With --index it
reads the badger index wardstoned maintains; otherwise it ingests the
audit log into a throwaway in-memory index first.`,
	RunE: runReplayShow,
}

func init() {
	replayCmd.PersistentFlags().StringVar(&replayLogPath, "log",
		"./wardstone_audit.jsonl", "audit log path")
	replayCmd.PersistentFlags().BoolVar(&replayJSON, "json", false,
		"machine-readable output")

	replayShowCmd.Flags().StringVar(&replayRequestID, "request", "", "request id to show")
	replayShowCmd.Flags().StringVar(&replayIndexDir, "index", "",
		"provenance index directory (default: ingest --log)")
	replayShowCmd.MarkFlagRequired("request")

	replayCmd.AddCommand(replayVerifyCmd)
	replayCmd.AddCommand(replayShowCmd)
	rootCmd.AddCommand(replayCmd)
}

func runReplayVerify(cmd *cobra.Command, args []string) error {
	file, err := os.Open(replayLogPath)
	if err != nil {
		ux.Error(fmt.Sprintf("open %s: %v", replayLogPath, err))
		os.Exit(ReplayExitError)
	}
	defer file.Close()

	result, verifyErr := provenance.Verify(file)

	if replayJSON {
		out := map[string]any{
			"log":    replayLogPath,
			"lines":  result.Lines,
			"intact": verifyErr == nil,
		}
		if result.BrokenAt > 0 {
			out["broken_at"] = result.BrokenAt
		}
		json.NewEncoder(os.Stdout).Encode(out)
	} else if verifyErr == nil {
		ux.Success(fmt.Sprintf("chain intact: %d entries in %s", result.Lines, replayLogPath))
	} else {
		ux.Error(fmt.Sprintf("chain broken at line %d: %v", result.BrokenAt, verifyErr))
	}

	if verifyErr != nil {
		if errors.Is(verifyErr, provenance.ErrChainBroken) ||
			errors.Is(verifyErr, provenance.ErrMalformedEntry) {
			os.Exit(ReplayExitBroken)
		}
		os.Exit(ReplayExitError)
	}
	return nil
}

func runReplayShow(cmd *cobra.Command, args []string) error {
	entry, err := lookupEntry(replayRequestID)
	if err != nil {
		if errors.Is(err, provenance.ErrNotIndexed) {
			ux.Error(fmt.Sprintf("request %s not found", replayRequestID))
			os.Exit(ReplayExitBroken)
		}
		ux.Error(err.Error())
		os.Exit(ReplayExitError)
	}

	if replayJSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(entry)
	}

	status := ux.IconSuccess.Render() + " ok"
	if !entry.OK {
		status = fmt.Sprintf("%s failed (exit %d)", ux.IconError.Render(), entry.ExitCode)
	}
	ux.Title(fmt.Sprintf("%s %s phase=%s", entry.Overlay, entry.ManifestVersion, entry.Phase))
	fmt.Printf("  request_id:      %s\n", entry.RequestID)
	fmt.Printf("  status:          %s\n", status)
	fmt.Printf("  entrypoint:      %s\n", entry.Entrypoint)
	fmt.Printf("  duration_ms:     %d\n", entry.DurationMS)
	fmt.Printf("  timestamp_ms:    %d\n", entry.TimestampMS)
	fmt.Printf("  provenance_hash: %s\n", entry.ProvenanceHash)
	if entry.ChainHash != "" {
		ux.Muted("  chain_hash:      " + entry.ChainHash)
	}
	return nil
}

// lookupEntry resolves a request id from the persistent index when
// --index is set, or from a one-shot ingest of the audit log.
func lookupEntry(requestID string) (provenance.Entry, error) {
	if replayIndexDir != "" {
		index, err := provenance.OpenIndex(replayIndexDir)
		if err != nil {
			return provenance.Entry{}, fmt.Errorf("open index %s: %w", replayIndexDir, err)
		}
		defer index.Close()
		return index.Get(requestID)
	}

	file, err := os.Open(replayLogPath)
	if err != nil {
		return provenance.Entry{}, fmt.Errorf("open %s: %w", replayLogPath, err)
	}
	defer file.Close()

	index, err := provenance.OpenInMemoryIndex()
	if err != nil {
		return provenance.Entry{}, err
	}
	defer index.Close()
	if _, err := index.IngestLog(file); err != nil {
		return provenance.Entry{}, fmt.Errorf("ingest %s: %w", replayLogPath, err)
	}
	return index.Get(requestID)
}
