// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package listener

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/pegasus-wms/pmc-go/internal/dagmodel"
)

// DAGManLog writes textual status transitions keyed on task name, in
// the style of a DAGMan-compatible dagman.out log.
type DAGManLog struct {
	mu      sync.Mutex
	f       *os.File
	dagPath string
	now     func() time.Time
}

// NewDAGManLog opens (creating if necessary) the log at logPath,
// recording transitions for the DAG loaded from dagPath.
func NewDAGManLog(logPath, dagPath string) (*DAGManLog, error) {
	f, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening dagman log %s: %w", logPath, err)
	}
	return &DAGManLog{f: f, dagPath: dagPath, now: time.Now}, nil
}

// OnEvent implements Listener.
func (d *DAGManLog) OnEvent(event Event, task *dagmodel.Task) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	ts := d.now().Format("01/02/06 15:04:05")
	switch event {
	case WorkflowStart:
		_, err := fmt.Fprintf(d.f, "%s Dagman starting for DAG %s\n", ts, d.dagPath)
		return err
	case WorkflowSuccess:
		_, err := fmt.Fprintf(d.f, "%s EVENT: ALL_JOBS_COMPLETE\n", ts)
		return err
	case WorkflowFailure:
		_, err := fmt.Fprintf(d.f, "%s EVENT: DAGMAN_ABORT\n", ts)
		return err
	case TaskSubmit:
		_, err := fmt.Fprintf(d.f, "%s Job %s submitted\n", ts, task.Name)
		return err
	case TaskSuccess:
		_, err := fmt.Fprintf(d.f, "%s Job %s completed successfully\n", ts, task.Name)
		return err
	case TaskFailure:
		_, err := fmt.Fprintf(d.f, "%s Job %s failed\n", ts, task.Name)
		return err
	default:
		return nil
	}
}

// Close closes the underlying file.
func (d *DAGManLog) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.f.Close()
}
