// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package listener

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/pegasus-wms/pmc-go/internal/dagmodel"
)

// JobstateLog writes one line per event, with a monotonic sequence
// number and timestamp, to path — the jobstate.log format the
// original pegasus-mpi-cluster produces.
type JobstateLog struct {
	mu   sync.Mutex
	f    *os.File
	seq  uint64
	now  func() time.Time
}

// NewJobstateLog opens (creating if necessary) the jobstate log at path.
func NewJobstateLog(path string) (*JobstateLog, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening jobstate log %s: %w", path, err)
	}
	return &JobstateLog{f: f, now: time.Now}, nil
}

// OnEvent implements Listener.
func (j *JobstateLog) OnEvent(event Event, task *dagmodel.Task) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	j.seq++
	name := ""
	if task != nil {
		name = task.Name
	}
	_, err := fmt.Fprintf(j.f, "%d %s %s %s\n", j.seq, j.now().Format(time.RFC3339Nano), name, event.String())
	return err
}

// Close closes the underlying file.
func (j *JobstateLog) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.f.Close()
}

var _ io.Closer = (*JobstateLog)(nil)
