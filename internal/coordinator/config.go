// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package coordinator

import "time"

// Config holds the coordinator's run-time tuning knobs.
type Config struct {
	// NumWorkers is the number of Registration messages expected
	// before the REGISTERING phase completes.
	NumWorkers int
	// MaxWallTime, if positive, is a soft deadline: once exceeded the
	// coordinator stops accepting new tasks, drains in-flight ones, and
	// reports the run as failed (spec.md §4.4).
	MaxWallTime time.Duration
	// FDCacheSize is the configured FD cache capacity (0 = auto-derive
	// from the process's rlimit, per spec.md §4.5).
	FDCacheSize int
	// OutputDir is the root directory IOData payloads are landed under,
	// one file per (task, filename) pair.
	OutputDir string
	// RescuePath is where successful tasks are appended as they
	// complete, and where the final rescue snapshot is written.
	RescuePath string
}
