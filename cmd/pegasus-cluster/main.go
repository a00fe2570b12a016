// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pegasus-wms/pmc-go/internal/cluster"
	"github.com/pegasus-wms/pmc-go/internal/hostinfo"
	"github.com/pegasus-wms/pmc-go/internal/logger"
)

// version is set at build time via ldflags.
var version = "0.0.0"

func main() {
	os.Exit(run(os.Args[1:]))
}

// run implements the whole command, separate from main so its exit
// code is a return value instead of an os.Exit call buried in RunE
// (cobra's own exit-code handling collapses every error to 1, but
// spec.md's exit codes 2/3/5/42 must reach the shell distinctly).
func run(args []string) int {
	var (
		debug        bool
		statusFile   string
		progressFile string
		successCodes []string
		cpusFlag     string
		oldMode      bool
		failHard     bool
	)

	cmd := &cobra.Command{
		Use:     "pegasus-cluster [flags] [inputfile]",
		Short:   "Run a list of applications, N at a time.",
		Version: version,
		Args:    cobra.MaximumNArgs(1),
	}
	cmd.Flags().BoolVarP(&debug, "debug", "d", false, "increase debug mode")
	cmd.Flags().StringVarP(&statusFile, "status", "s", "", "protocol anything to the given status file, default stdout")
	cmd.Flags().StringVarP(&progressFile, "progress-report", "R", "", "record progress into the given file")
	cmd.Flags().StringArrayVarP(&successCodes, "success", "S", nil, "mark non-zero exit code as success (repeatable)")
	cmd.Flags().StringVarP(&cpusFlag, "cpus", "n", "", "number of CPUs to use, defaults to 1, 'auto' permitted")
	cmd.Flags().BoolVarP(&oldMode, "old-mode", "e", false, "execute everything and always return success")
	cmd.Flags().BoolVarP(&failHard, "fail-hard", "f", false, "fail hard on first error")

	var exitCode int
	cmd.RunE = func(cmd *cobra.Command, cmdArgs []string) error {
		if oldMode && failHard {
			return fmt.Errorf("-e and -f are mutually exclusive")
		}

		opts := cluster.Options{Debug: debug}
		switch {
		case failHard:
			opts.Mode = cluster.ModeFailHard
		case oldMode:
			opts.Mode = cluster.ModeOld
		default:
			opts.Mode = cluster.ModeCollect
		}

		for _, s := range successCodes {
			code, err := strconv.Atoi(s)
			if err != nil || !opts.AddSuccessCode(code) {
				fmt.Fprintf(cmd.ErrOrStderr(), "pegasus-cluster: ignoring unreasonable success code: %s\n", s)
			}
		}

		opts.Cpus = 1
		switch {
		case strings.EqualFold(cpusFlag, "auto"):
			opts.Cpus = hostinfo.AutoCPUCount()
		case cpusFlag != "":
			if n, err := strconv.Atoi(cpusFlag); err == nil && n > 0 {
				opts.Cpus = n
			}
		case os.Getenv("SEQEXEC_CPUS") != "":
			env := os.Getenv("SEQEXEC_CPUS")
			if strings.EqualFold(env, "auto") {
				opts.Cpus = hostinfo.AutoCPUCount()
			} else if n, err := strconv.Atoi(env); err == nil && n > 0 {
				opts.Cpus = n
			}
		}

		opts.SetupCmd = os.Getenv("SEQEXEC_SETUP")
		opts.CleanupCmd = os.Getenv("SEQEXEC_CLEANUP")
		if progressFile == "" {
			progressFile = os.Getenv("SEQEXEC_PROGRESS_REPORT")
		}

		status := cmd.OutOrStdout()
		if statusFile != "" {
			f, err := os.OpenFile(statusFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
			if err != nil {
				exitCode = 2
				return fmt.Errorf("opening status file: %w", err)
			}
			defer f.Close()
			status = f
		}

		if progressFile != "" {
			f, err := os.OpenFile(progressFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o666)
			if err != nil {
				exitCode = 1
				return fmt.Errorf("opening progress file: %w", err)
			}
			defer f.Close()
			opts.ProgressWriter = f
		}

		input := cmd.InOrStdin()
		if len(cmdArgs) == 1 {
			f, err := os.Open(cmdArgs[0])
			if err != nil {
				exitCode = 3
				return fmt.Errorf("opening input file: %w", err)
			}
			defer f.Close()
			input = f
		}

		log := logger.NewLogger(loggerOpts(debug)...)

		summary, err := cluster.Run(context.Background(), input, status, opts, log)
		if err != nil {
			exitCode = 42
			return err
		}

		fmt.Fprintf(status,
			"[cluster-summary stat=%q, lines=%d, tasks=%d, succeeded=%d, failed=%d, extra=%d, duration=%.3f]\n",
			summary.Stat, summary.Lines, summary.Tasks, summary.Succeeded, summary.Failed, summary.Extra, summary.Duration.Seconds())

		if summary.Stat != "ok" {
			exitCode = 5
		}
		return nil
	}

	if err := cmd.Execute(); err != nil {
		if exitCode == 0 {
			exitCode = 1
		}
		fmt.Fprintln(os.Stderr, err)
	}
	return exitCode
}

func loggerOpts(debug bool) []logger.Option {
	if debug {
		return []logger.Option{logger.WithDebug()}
	}
	return nil
}
