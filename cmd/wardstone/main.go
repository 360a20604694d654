// Copyright (C) 2025 Wardstone Authors
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command wardstone is the operator CLI for the overlay execution
// governor. It inspects audit logs and the replay index produced by
// wardstoned.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "wardstone",
	Short: "Operator tooling for the Wardstone overlay governor",
	Long: `wardstone inspects the artifacts produced by wardstoned: the
append-only audit log and the provenance replay index.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(ReplayExitError)
	}
}
