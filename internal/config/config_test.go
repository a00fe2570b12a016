// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package config

import (
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/require"
)

func flagSet() []Flag {
	d := Defaults()
	return []Flag{
		{Name: "dag", Usage: "path to the dag file"},
		{Name: "rescue", Usage: "path to the rescue log"},
		{Name: "workers", Default: d.NumWorkers, Usage: "expected worker count"},
		{Name: "max-wall-time", Default: "0s", Usage: "soft wall-time deadline"},
		{Name: "listen", Default: d.Listen, Usage: "listen address"},
	}
}

func TestLoad_AppliesFlagsOverDefaults(t *testing.T) {
	v := viper.New()
	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, RegisterFlags(cmd, v, flagSet()))

	require.NoError(t, cmd.Flags().Set("dag", "workflow.dag"))
	require.NoError(t, cmd.Flags().Set("workers", "4"))
	require.NoError(t, cmd.Flags().Set("max-wall-time", "2h"))

	cfg, err := Load(v)
	require.NoError(t, err)
	require.Equal(t, "workflow.dag", cfg.DAGPath)
	require.Equal(t, 4, cfg.NumWorkers)
	require.Equal(t, 2*time.Hour, cfg.MaxWallTime)
	require.Equal(t, ":7085", cfg.Listen)
}

func TestLoad_RequiresDAGPath(t *testing.T) {
	v := viper.New()
	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, RegisterFlags(cmd, v, flagSet()))

	_, err := Load(v)
	require.Error(t, err)
}

func TestLoad_RejectsZeroWorkers(t *testing.T) {
	v := viper.New()
	cmd := &cobra.Command{Use: "test"}
	require.NoError(t, RegisterFlags(cmd, v, flagSet()))
	require.NoError(t, cmd.Flags().Set("dag", "workflow.dag"))
	require.NoError(t, cmd.Flags().Set("workers", "0"))

	_, err := Load(v)
	require.Error(t, err)
}
