// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/pegasus-wms/pmc-go/internal/config"
	"github.com/pegasus-wms/pmc-go/internal/coordinator"
	"github.com/pegasus-wms/pmc-go/internal/dagmodel/dagfile"
	"github.com/pegasus-wms/pmc-go/internal/listener"
	"github.com/pegasus-wms/pmc-go/internal/logger"
)

func coordinatorCmd() *cobra.Command {
	v := viper.New()
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "coordinator",
		Short: "Run the DAG coordinator over a dry-run in-process worker pool.",
		Long: "Run the DAG coordinator. The real worker fabric that executes " +
			"tasks over a network is an out-of-scope collaborator; --dry-run " +
			"(the default) answers every dispatched task locally with exit 0, " +
			"so this command is only useful to validate scheduling against a " +
			"DAG document end to end.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return err
			}

			log := logger.NewLogger(loggerOptions(cfg)...)

			dag, err := dagfile.Load(cfg.DAGPath, cfg.MaxRetries, cfg.RescuePath)
			if err != nil {
				return err
			}

			listeners, err := buildListeners(cfg)
			if err != nil {
				return err
			}

			if !dryRun {
				return fmt.Errorf("pmc: no real worker transport is wired; rerun with --dry-run, or integrate a Transport implementation over your own worker fabric")
			}

			transport, err := coordinator.NewLoopbackTransport(cfg.NumWorkers)
			if err != nil {
				return fmt.Errorf("building dry-run transport: %w", err)
			}

			co, err := coordinator.New(coordinator.Config{
				NumWorkers:  cfg.NumWorkers,
				MaxWallTime: cfg.MaxWallTime,
				FDCacheSize: cfg.FDCacheSize,
				OutputDir:   ".",
				RescuePath:  cfg.RescuePath,
			}, dag, transport, log, listeners...)
			if err != nil {
				return err
			}

			summary, err := co.Run(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(),
				"[workflow-summary stat=%q tasks=%d succeeded=%d failed=%d duration=%.3f]\n",
				map[bool]string{true: "ok", false: "fail"}[summary.OK],
				summary.Tasks, summary.Succeeded, summary.Failed, summary.Duration.Seconds())
			if !summary.OK {
				return fmt.Errorf("pmc: workflow finished with %d failed task(s)", summary.Failed)
			}
			return nil
		},
	}

	if err := config.RegisterFlags(cmd, v, coordinatorFlags); err != nil {
		panic(err)
	}
	cmd.Flags().BoolVar(&dryRun, "dry-run", true, "answer dispatched tasks in-process instead of waiting for real workers")

	return cmd
}

func loggerOptions(cfg config.Config) []logger.Option {
	opts := []logger.Option{logger.WithFormat(cfg.LogFormat)}
	if cfg.Debug {
		opts = append(opts, logger.WithDebug())
	}
	return opts
}

func buildListeners(cfg config.Config) ([]listener.Listener, error) {
	var out []listener.Listener
	if cfg.JobstateLog != "" {
		l, err := listener.NewJobstateLog(cfg.JobstateLog)
		if err != nil {
			return nil, fmt.Errorf("opening jobstate log: %w", err)
		}
		out = append(out, l)
	}
	if cfg.DagmanLog != "" {
		l, err := listener.NewDAGManLog(cfg.DagmanLog, cfg.DAGPath)
		if err != nil {
			return nil, fmt.Errorf("opening dagman log: %w", err)
		}
		out = append(out, l)
	}
	return out, nil
}
