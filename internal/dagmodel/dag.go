// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package dagmodel

import (
	"bufio"
	"container/heap"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/google/uuid"
)

// ErrParse indicates a fatal DAG-load or rescue-replay error: an
// unknown task reference, a duplicate task, or a malformed record.
var ErrParse = errors.New("dag parse error")

// TaskRecord is the logical per-task record the (out-of-scope) DAG file
// parser must yield.
type TaskRecord struct {
	Name                  string
	Argv                  []string
	Memory                uint32
	CPUs                  uint16
	Priority              int
	Tries                 int
	PegasusID             string
	PegasusTransformation string
	PipeForwards          map[string]string
	FileForwards          map[string]string
}

// Edge is a directed parent->child relationship between two tasks.
type Edge struct {
	Parent string
	Child  string
}

// LoadOptions configures Load.
type LoadOptions struct {
	// MaxRetries seeds Task.Tries when a record does not specify Tries.
	MaxRetries int
	// RescuePath, if non-empty, is replayed: tasks named DONE in it are
	// marked succeeded before the initial ready set is computed.
	RescuePath string
}

// DAG is a set of tasks with directed parent->child edges, the ready
// queue that drives scheduling, and the rescue log.
type DAG struct {
	tasks map[string]*Task
	order []string // parse order, for tie-break determinism

	ready taskHeap

	rescuePath string
	rescueFile *os.File
}

// Load builds a DAG from records and edges, replays an optional rescue
// file, and pushes every root whose parents have all succeeded into
// the ready queue.
func Load(records []TaskRecord, edges []Edge, opts LoadOptions) (*DAG, error) {
	d := &DAG{tasks: make(map[string]*Task, len(records))}

	for i, r := range records {
		if _, exists := d.tasks[r.Name]; exists {
			return nil, fmt.Errorf("%w: duplicate task %q", ErrParse, r.Name)
		}
		tries := r.Tries
		if tries == 0 {
			tries = opts.MaxRetries
		}
		cpus := r.CPUs
		if cpus == 0 {
			cpus = 1
		}
		pegasusID := r.PegasusID
		if pegasusID == "" {
			// Tasks that don't carry a Pegasus job id of their own (e.g.
			// loaded from a plain task list rather than a Pegasus DAX) get
			// one synthesized, so downstream logging always has a stable
			// per-task identifier to key on.
			pegasusID = uuid.NewString()
		}
		d.tasks[r.Name] = &Task{
			Name:                  r.Name,
			Argv:                  r.Argv,
			Memory:                r.Memory,
			CPUs:                  cpus,
			Priority:              r.Priority,
			Tries:                 tries,
			PegasusID:             pegasusID,
			PegasusTransformation: r.PegasusTransformation,
			PipeForwards:          r.PipeForwards,
			FileForwards:          r.FileForwards,
			parseOrder:            i,
		}
		d.order = append(d.order, r.Name)
	}

	for _, e := range edges {
		parent, ok := d.tasks[e.Parent]
		if !ok {
			return nil, fmt.Errorf("%w: edge references unknown parent %q", ErrParse, e.Parent)
		}
		child, ok := d.tasks[e.Child]
		if !ok {
			return nil, fmt.Errorf("%w: edge references unknown child %q", ErrParse, e.Child)
		}
		parent.Children = append(parent.Children, child.Name)
		child.Parents = append(child.Parents, parent.Name)
	}

	if err := d.checkAcyclic(); err != nil {
		return nil, err
	}

	if opts.RescuePath != "" {
		if err := d.replayRescue(opts.RescuePath); err != nil {
			return nil, err
		}
	}

	d.rescuePath = opts.RescuePath
	heap.Init(&d.ready)
	for _, name := range d.order {
		t := d.tasks[name]
		if t.Status == StatusSucceeded {
			continue
		}
		if d.allParentsSucceeded(t) {
			t.Status = StatusReady
			heap.Push(&d.ready, t)
		}
	}

	return d, nil
}

func (d *DAG) checkAcyclic() error {
	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(d.order))
	var visit func(name string) error
	visit = func(name string) error {
		color[name] = gray
		for _, c := range d.tasks[name].Children {
			switch color[c] {
			case gray:
				return fmt.Errorf("%w: cycle detected through task %q", ErrParse, c)
			case white:
				if err := visit(c); err != nil {
					return err
				}
			}
		}
		color[name] = black
		return nil
	}
	for _, name := range d.order {
		if color[name] == white {
			if err := visit(name); err != nil {
				return err
			}
		}
	}
	return nil
}

func (d *DAG) allParentsSucceeded(t *Task) bool {
	for _, p := range t.Parents {
		if !d.tasks[p].Success {
			return false
		}
	}
	return true
}

func (d *DAG) replayRescue(path string) error {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("opening rescue file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		name, ok := strings.CutPrefix(line, "DONE ")
		if !ok {
			return fmt.Errorf("%w: malformed rescue line %q", ErrParse, line)
		}
		task, ok := d.tasks[name]
		if !ok {
			return fmt.Errorf("%w: rescue refers to unknown task %q", ErrParse, name)
		}
		task.Success = true
		task.Status = StatusSucceeded
	}
	return scanner.Err()
}

// GetTask returns the named task, or (nil, false) if it does not exist.
func (d *DAG) GetTask(name string) (*Task, bool) {
	t, ok := d.tasks[name]
	return t, ok
}

// HasReadyTask reports whether the ready queue is non-empty.
func (d *DAG) HasReadyTask() bool { return d.ready.Len() > 0 }

// NextReadyTask pops the highest-priority ready task (ties broken by
// parse order), or returns (nil, false) if the queue is empty. A task
// that was pushed ready and later driven to a terminal status while
// still sitting in the heap (e.g. CheckFeasibility marking it
// permanently failed) is discarded rather than handed back, since by
// the time it is popped its Status no longer reflects why it was
// queued.
func (d *DAG) NextReadyTask() (*Task, bool) {
	for d.ready.Len() > 0 {
		t := heap.Pop(&d.ready).(*Task)
		if t.Status == StatusFailed || t.Status == StatusSucceeded {
			continue
		}
		t.Status = StatusQueued
		return t, true
	}
	return nil, false
}

// PushReady re-inserts a task into the ready queue, e.g. after
// head-of-line blocking found no free slot for it, or after a failed
// task was re-queued for retry.
func (d *DAG) PushReady(t *Task) {
	t.Status = StatusReady
	heap.Push(&d.ready, t)
}

// MarkRunning transitions a task to running.
func (d *DAG) MarkRunning(t *Task) { t.Status = StatusRunning }

// MarkSuccess records a task as succeeded, appends its rescue line,
// and returns any children that became ready as a result.
func (d *DAG) MarkSuccess(name string) ([]*Task, error) {
	t, ok := d.tasks[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown task %q", ErrParse, name)
	}
	t.Success = true
	t.Status = StatusSucceeded

	if err := d.appendRescue(name); err != nil {
		// I/O error writing the rescue file is logged by the caller but
		// does not abort scheduling (spec.md §4.1).
		return d.newlyReady(t), err
	}
	return d.newlyReady(t), nil
}

func (d *DAG) newlyReady(t *Task) []*Task {
	var ready []*Task
	for _, cname := range t.Children {
		c := d.tasks[cname]
		if c.Status == StatusUnready && d.allParentsSucceeded(c) {
			c.Status = StatusReady
			heap.Push(&d.ready, c)
			ready = append(ready, c)
		}
	}
	return ready
}

// MarkFailure records a failed attempt of a task. If retries remain,
// the task is re-queued (queued flag is the caller's job via
// PushReady) and exhausted is false. If retries are exhausted, the
// task becomes failed and every descendant becomes permanently
// unreachable; those descendants are returned.
func (d *DAG) MarkFailure(name string) (exhausted bool, unreachable []*Task, err error) {
	t, ok := d.tasks[name]
	if !ok {
		return false, nil, fmt.Errorf("%w: unknown task %q", ErrParse, name)
	}

	if t.Tries > 0 {
		t.Tries--
	}
	if t.Tries > 0 {
		t.Status = StatusUnready // caller requeues via PushReady
		return false, nil, nil
	}

	t.Status = StatusFailed
	t.Success = false
	return true, d.markUnreachable(t), nil
}

func (d *DAG) markUnreachable(t *Task) []*Task {
	var out []*Task
	var walk func(name string)
	seen := map[string]bool{}
	walk = func(name string) {
		for _, cname := range d.tasks[name].Children {
			if seen[cname] {
				continue
			}
			seen[cname] = true
			c := d.tasks[cname]
			if c.Status != StatusFailed {
				c.Status = StatusFailed
				c.Success = false
				out = append(out, c)
			}
			walk(cname)
		}
	}
	walk(t.Name)
	return out
}

// IsFinished reports whether the workflow has nothing left to do:
// no task is ready and none is currently running (runningCount is
// tracked by the caller, typically the engine/coordinator).
func (d *DAG) IsFinished(runningCount int) bool {
	return !d.HasReadyTask() && runningCount == 0
}

func (d *DAG) appendRescue(name string) error {
	if d.rescuePath == "" {
		return nil
	}
	if d.rescueFile == nil {
		f, err := os.OpenFile(d.rescuePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return fmt.Errorf("opening rescue file for append: %w", err)
		}
		d.rescueFile = f
	}
	if _, err := fmt.Fprintf(d.rescueFile, "DONE %s\n", name); err != nil {
		return fmt.Errorf("appending rescue line: %w", err)
	}
	// Flushed to the OS before the caller delivers TASK_SUCCESS (spec.md §5).
	return d.rescueFile.Sync()
}

// WriteRescue writes a full rescue snapshot (every previously
// succeeded task) to path. Used at shutdown as a final summary write,
// independent of the incremental append-on-success log.
func (d *DAG) WriteRescue(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating rescue file: %w", err)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	for _, name := range d.order {
		if d.tasks[name].Success {
			if _, err := fmt.Fprintf(w, "DONE %s\n", name); err != nil {
				return err
			}
		}
	}
	return w.Flush()
}

// Close releases the rescue file handle, if open.
func (d *DAG) Close() error {
	if d.rescueFile != nil {
		return d.rescueFile.Close()
	}
	return nil
}

// Tasks returns every task in parse order.
func (d *DAG) Tasks() []*Task {
	out := make([]*Task, len(d.order))
	for i, name := range d.order {
		out[i] = d.tasks[name]
	}
	return out
}
