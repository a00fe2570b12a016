// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package cluster

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/pegasus-wms/pmc-go/internal/logger"
)

func TestRun_AllSucceed(t *testing.T) {
	input := strings.NewReader("true\ntrue\ntrue\n")
	var status bytes.Buffer

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	summary, err := Run(ctx, input, &status, Options{Cpus: 2}, logger.NewLogger())
	require.NoError(t, err)
	require.Equal(t, "ok", summary.Stat)
	require.EqualValues(t, 3, summary.Tasks)
	require.EqualValues(t, 3, summary.Succeeded)
	require.EqualValues(t, 0, summary.Failed)
	require.Equal(t, 3, strings.Count(status.String(), "[cluster-task"))
}

func TestRun_CollectModeReportsFailureButRunsAll(t *testing.T) {
	input := strings.NewReader("true\nfalse\ntrue\n")
	var status bytes.Buffer

	summary, err := Run(context.Background(), input, &status, Options{Cpus: 1, Mode: ModeCollect}, logger.NewLogger())
	require.NoError(t, err)
	require.Equal(t, "fail", summary.Stat)
	require.EqualValues(t, 3, summary.Tasks)
	require.EqualValues(t, 1, summary.Failed)
}

func TestRun_OldModeAlwaysOK(t *testing.T) {
	input := strings.NewReader("false\nfalse\n")
	var status bytes.Buffer

	summary, err := Run(context.Background(), input, &status, Options{Cpus: 1, Mode: ModeOld}, logger.NewLogger())
	require.NoError(t, err)
	require.Equal(t, "ok", summary.Stat)
	require.EqualValues(t, 2, summary.Failed)
}

func TestRun_FailHardStopsLaunchingAfterFailure(t *testing.T) {
	input := strings.NewReader("false\ntrue\ntrue\ntrue\n")
	var status bytes.Buffer

	summary, err := Run(context.Background(), input, &status, Options{Cpus: 1, Mode: ModeFailHard}, logger.NewLogger())
	require.NoError(t, err)
	require.Equal(t, "fail", summary.Stat)
	require.EqualValues(t, 1, summary.Tasks)
}

func TestRun_SkipsBlankAndCommentLines(t *testing.T) {
	input := strings.NewReader("\n# a comment\ntrue\n\r\n")
	var status bytes.Buffer

	summary, err := Run(context.Background(), input, &status, Options{Cpus: 1}, logger.NewLogger())
	require.NoError(t, err)
	require.EqualValues(t, 1, summary.Tasks)
}

func TestRun_NonZeroSuccessCodeHonored(t *testing.T) {
	input := strings.NewReader("sh -c 'exit 3'\n")
	var status bytes.Buffer

	opts := Options{Cpus: 1, Mode: ModeCollect}
	require.True(t, opts.AddSuccessCode(3))

	summary, err := Run(context.Background(), input, &status, opts, logger.NewLogger())
	require.NoError(t, err)
	require.Equal(t, "ok", summary.Stat)
	require.EqualValues(t, 0, summary.Failed)
}

func TestOptions_AddSuccessCodeRejectsOutOfRange(t *testing.T) {
	var o Options
	require.False(t, o.AddSuccessCode(0))
	require.False(t, o.AddSuccessCode(-1))
	require.False(t, o.AddSuccessCode(256))
	require.True(t, o.AddSuccessCode(255))
}

func TestRun_SetupAndCleanupCountAsExtra(t *testing.T) {
	input := strings.NewReader("true\n")
	var status bytes.Buffer

	summary, err := Run(context.Background(), input, &status, Options{
		Cpus: 1, SetupCmd: "true", CleanupCmd: "true",
	}, logger.NewLogger())
	require.NoError(t, err)
	require.EqualValues(t, 2, summary.Extra)
}

func TestRun_UnparsableLineIsIgnoredNotFatal(t *testing.T) {
	input := strings.NewReader("'unterminated\ntrue\n")
	var status bytes.Buffer

	summary, err := Run(context.Background(), input, &status, Options{Cpus: 1}, logger.NewLogger())
	require.NoError(t, err)
	require.EqualValues(t, 1, summary.Tasks)
}
