// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package logger

import (
	"fmt"
	"time"
)

func sprintf(format string, args ...any) string {
	return fmt.Sprintf(format, args...)
}

func nowOrZero() time.Time {
	return time.Now()
}
