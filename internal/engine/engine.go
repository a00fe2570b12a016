// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package engine implements the scheduling policy that moves tasks
// through ready -> submitted -> succeeded/failed, notifies workflow
// event listeners, and decides overall workflow termination.
package engine

import (
	"fmt"

	"github.com/samber/lo"

	"github.com/pegasus-wms/pmc-go/internal/dagmodel"
	"github.com/pegasus-wms/pmc-go/internal/listener"
	"github.com/pegasus-wms/pmc-go/internal/resource"
)

// assignment records what a dispatched task is bound to, so its
// resources can be released when its Result arrives.
type assignment struct {
	slot    *resource.Slot
	binding resource.Binding
}

// Dispatch is a task matched to a slot, ready to become a Command.
type Dispatch struct {
	Task    *dagmodel.Task
	Slot    *resource.Slot
	Binding resource.Binding
}

// Engine owns the ready-to-slot matching policy over a DAG and a set
// of hosts/slots. It does not itself talk to a transport; the
// coordinator turns its Dispatch values into wire Commands.
type Engine struct {
	dag        *dagmodel.DAG
	hosts      map[string]*resource.Host
	freeSlots  []*resource.Slot
	running    map[string]assignment
	listeners  *listener.Multi
}

// New builds an Engine over dag, notifying listeners as tasks move
// through their lifecycle.
func New(dag *dagmodel.DAG, listeners *listener.Multi) *Engine {
	return &Engine{
		dag:       dag,
		hosts:     make(map[string]*resource.Host),
		running:   make(map[string]assignment),
		listeners: listeners,
	}
}

// RegisterHost adds a host (created on first registration from that
// host name, per spec.md §3).
func (e *Engine) RegisterHost(h *resource.Host) {
	e.hosts[h.Name] = h
}

// Host returns the host registered under name, if any.
func (e *Engine) Host(name string) (*resource.Host, bool) {
	h, ok := e.hosts[name]
	return h, ok
}

// RegisterSlot adds a worker slot on an already-registered host and
// adds it to the free-slot pool.
func (e *Engine) RegisterSlot(hostName string, rank int) (*resource.Slot, error) {
	h, ok := e.hosts[hostName]
	if !ok {
		return nil, fmt.Errorf("registering slot: unknown host %q", hostName)
	}
	h.AddSlot()
	s := &resource.Slot{Rank: rank, Host: h}
	e.freeSlots = append(e.freeSlots, s)
	return s, nil
}

// RunningCount returns the number of tasks currently in flight.
func (e *Engine) RunningCount() int { return len(e.running) }

// CheckFeasibility marks, as permanently failed, every ready or
// not-yet-ready task that no registered host could ever run (spec.md
// §8 scenario 4): called once registration completes and the full
// host set is known. Returns the set of tasks marked infeasible,
// together with the descendants that became unreachable as a result.
func (e *Engine) CheckFeasibility() []*dagmodel.Task {
	var affected []*dagmodel.Task
	for _, t := range e.dag.Tasks() {
		if t.Status == dagmodel.StatusSucceeded || t.Status == dagmodel.StatusFailed {
			continue
		}
		if e.anyHostCanEverRun(t) {
			continue
		}
		exhausted, unreachable, err := e.failInfeasible(t)
		if err != nil {
			continue
		}
		if exhausted {
			affected = append(affected, t)
			affected = append(affected, unreachable...)
			e.listeners.Notify(listener.TaskFailure, t)
		}
	}
	return affected
}

func (e *Engine) anyHostCanEverRun(t *dagmodel.Task) bool {
	if len(e.hosts) == 0 {
		return true // nothing registered yet; defer the check
	}
	rt := resource.Task{Name: t.Name, Memory: t.Memory, CPUs: t.CPUs}
	for _, h := range e.hosts {
		if h.CanEverRun(rt) {
			return true
		}
	}
	return false
}

// failInfeasible drives a task straight to permanent failure,
// bypassing the retry budget: infeasibility is structural, not a
// transient failure worth retrying.
func (e *Engine) failInfeasible(t *dagmodel.Task) (bool, []*dagmodel.Task, error) {
	t.Tries = 0
	return e.dag.MarkFailure(t.Name)
}

// ScheduleTasks drains the ready queue against the free-slot pool:
// while both are non-empty, it pops the highest-priority ready task
// and searches free slots in placement order for the first host that
// can run it. If none can right now, the task is put back and the
// scan stops (head-of-line blocking, spec.md §4.4) so a large task
// never starves behind smaller ones that happen to fit.
func (e *Engine) ScheduleTasks() ([]Dispatch, error) {
	var dispatches []Dispatch
	for e.dag.HasReadyTask() && len(e.freeSlots) > 0 {
		task, ok := e.dag.NextReadyTask()
		if !ok {
			break
		}

		ordered := resource.Placement(e.freeSlots)
		rt := resource.Task{Name: task.Name, Memory: task.Memory, CPUs: task.CPUs}
		idx := resource.FindSlot(ordered, rt)
		if idx == -1 {
			e.dag.PushReady(task)
			break
		}

		slot := ordered[idx]
		binding, err := slot.Host.AllocateResources(rt)
		if err != nil {
			return dispatches, err
		}

		e.removeFreeSlot(slot)
		e.dag.MarkRunning(task)
		e.running[task.Name] = assignment{slot: slot, binding: binding}

		e.listeners.Notify(listener.TaskSubmit, task)
		dispatches = append(dispatches, Dispatch{Task: task, Slot: slot, Binding: binding})
	}
	return dispatches, nil
}

func (e *Engine) removeFreeSlot(target *resource.Slot) {
	for i, s := range e.freeSlots {
		if s == target {
			e.freeSlots = append(e.freeSlots[:i], e.freeSlots[i+1:]...)
			return
		}
	}
}

// CompleteTask applies a task's Result: it releases its resources,
// emits TASK_SUCCESS/TASK_FAILURE, updates the DAG, and — on failure
// with retries remaining — re-queues the task. It returns whether the
// task's rescue-append (on success) failed, which the caller logs but
// does not treat as fatal.
func (e *Engine) CompleteTask(name string, success bool) (rescueErr error, err error) {
	a, ok := e.running[name]
	if !ok {
		return nil, fmt.Errorf("result for unknown or not-running task %q", name)
	}
	delete(e.running, name)

	rt := resource.Task{Name: name, Memory: 0, CPUs: 0}
	if task, ok := e.dag.GetTask(name); ok {
		rt.Memory = task.Memory
		rt.CPUs = task.CPUs
	}
	if releaseErr := a.slot.Host.ReleaseResources(rt, a.binding); releaseErr != nil {
		return nil, releaseErr
	}
	e.freeSlots = append(e.freeSlots, a.slot)

	task, _ := e.dag.GetTask(name)

	if success {
		ready, markErr := e.dag.MarkSuccess(name)
		e.listeners.Notify(listener.TaskSuccess, task)
		for _, r := range ready {
			e.listeners.Notify(listener.TaskQueued, r)
		}
		return markErr, nil
	}

	exhausted, unreachable, markErr := e.dag.MarkFailure(name)
	if markErr != nil {
		return nil, markErr
	}
	e.listeners.Notify(listener.TaskFailure, task)
	if !exhausted {
		e.dag.PushReady(task)
		return nil, nil
	}
	for _, u := range unreachable {
		e.listeners.Notify(listener.TaskFailure, u)
	}
	return nil, nil
}

// IsFinished reports whether the workflow has nothing left to do.
func (e *Engine) IsFinished() bool {
	return e.dag.IsFinished(e.RunningCount())
}

// Failed reports whether any task ended in a permanently failed state,
// which determines the workflow's final stat="ok"|"fail".
func (e *Engine) Failed() bool {
	return lo.SomeBy(e.dag.Tasks(), func(t *dagmodel.Task) bool {
		return t.Status == dagmodel.StatusFailed
	})
}

// FailedTasks returns every task that ended in a permanently failed
// state, in parse order, for the final run report.
func (e *Engine) FailedTasks() []*dagmodel.Task {
	return lo.Filter(e.dag.Tasks(), func(t *dagmodel.Task, _ int) bool {
		return t.Status == dagmodel.StatusFailed
	})
}
