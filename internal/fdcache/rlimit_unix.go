// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

//go:build unix

package fdcache

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// softNoFileLimit returns the process's soft RLIMIT_NOFILE, mirroring
// the original get_max_open_files().
func softNoFileLimit() (int, error) {
	var rlim unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_NOFILE, &rlim); err != nil {
		return 0, fmt.Errorf("getrlimit(RLIMIT_NOFILE): %w", err)
	}
	return int(rlim.Cur), nil
}
