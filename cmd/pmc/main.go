// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/pegasus-wms/pmc-go/internal/config"
)

// version is set at build time via ldflags.
var version = "0.0.0"

func main() {
	cmd := &cobra.Command{
		Use:   "pmc",
		Short: "DAG coordinator: registers workers, schedules tasks, drives a run to completion or rescue.",
	}

	cmd.AddCommand(coordinatorCmd())
	cmd.AddCommand(versionCmd())

	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func versionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version and exit.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), version)
			return err
		},
	}
}

var coordinatorFlags = []config.Flag{
	{Name: "dag", Usage: "path to the DAG document to run"},
	{Name: "rescue", Usage: "path to the rescue log (resumed on load, appended to as tasks succeed)"},
	{Name: "jobstate-log", Usage: "path to append one line per workflow/task lifecycle event"},
	{Name: "dagman-log", Usage: "path to append one diagnostic line per workflow/task lifecycle event"},
	{Name: "listen", Default: config.Defaults().Listen, Usage: "address the coordinator's transport listens on"},
	{Name: "workers", Default: config.Defaults().NumWorkers, Usage: "number of workers expected to register before scheduling begins"},
	{Name: "max-wall-time", Default: "0s", Usage: "soft wall-time deadline, 0 disables it"},
	{Name: "fd-cache-size", Default: config.Defaults().FDCacheSize, Usage: "IO-forwarding fd cache capacity, 0 auto-derives from the process rlimit"},
	{Name: "max-retries", Default: config.Defaults().MaxRetries, Usage: "retry budget seeded into every task that doesn't specify its own"},
	{Name: "log-format", Default: config.Defaults().LogFormat, Usage: "log output format: text or json"},
	{Name: "debug", Default: false, Usage: "enable debug-level logging"},
}
