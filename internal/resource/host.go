// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package resource models the hosts and slots the coordinator binds
// tasks to, and the CPU/memory accounting invariants that bind keeps.
package resource

import (
	"errors"
	"fmt"
)

// ErrInvariantViolation indicates a bug in resource accounting, not a
// user error: a release that would make a counter negative, or an
// index release for a CPU the task never owned.
var ErrInvariantViolation = errors.New("resource accounting invariant violation")

// Task is the minimal view of a task the resource model needs: its
// name (for ownership bookkeeping) and its resource demand.
type Task struct {
	Name   string
	Memory uint32 // MiB
	CPUs   uint16
}

// Host is a physical or logical machine contributing one or more
// worker slots and a fixed pool of memory and CPU threads.
type Host struct {
	Name    string
	Memory  uint32
	Threads uint16
	Cores   uint16
	Sockets uint16

	memoryFree uint32
	cpusFree   uint16
	slotsFree  int
	slots      int

	// cpuOwner[i] is the name of the task occupying hardware thread i,
	// or "" if the thread is free. Exposed only through Binding values,
	// never as a borrowed reference (spec design note §9).
	cpuOwner []string

	// runningCount is the number of tasks currently running on this
	// host, used by the placement policy.
	runningCount int
}

// NewHost creates a Host with all resources free and no slots yet.
// Slots are added by AddSlot as workers register from this host.
func NewHost(name string, memory uint32, threads, cores, sockets uint16) *Host {
	return &Host{
		Name:       name,
		Memory:     memory,
		Threads:    threads,
		Cores:      cores,
		Sockets:    sockets,
		memoryFree: memory,
		cpusFree:   threads,
		cpuOwner:   make([]string, threads),
	}
}

// AddSlot registers one more worker slot on this host.
func (h *Host) AddSlot() {
	h.slots++
	h.slotsFree++
}

// MemoryFree returns the host's currently unreserved memory, in MiB.
func (h *Host) MemoryFree() uint32 { return h.memoryFree }

// CPUsFree returns the number of currently unreserved hardware threads.
func (h *Host) CPUsFree() uint16 { return h.cpusFree }

// SlotsFree returns the number of slots on this host holding no task.
func (h *Host) SlotsFree() int { return h.slotsFree }

// RunningCount returns the number of tasks currently running on this host.
func (h *Host) RunningCount() int { return h.runningCount }

// LoadFactor is used-cpus/threads, the primary placement-tiebreak key.
func (h *Host) LoadFactor() float64 {
	if h.Threads == 0 {
		return 1
	}
	return float64(h.Threads-h.cpusFree) / float64(h.Threads)
}

// CanRun reports whether this host currently has enough free memory,
// free CPUs, and a free slot to run task.
func (h *Host) CanRun(task Task) bool {
	return h.memoryFree >= task.Memory && h.cpusFree >= task.CPUs && h.slotsFree >= 1
}

// CanEverRun reports whether this host could ever satisfy task's
// demand, independent of current load — used to detect tasks that can
// never be scheduled on any registered host (spec.md §8 scenario 4).
func (h *Host) CanEverRun(task Task) bool {
	return h.Memory >= task.Memory && h.Threads >= task.CPUs
}

// Binding is the ordered list of CPU indices a task occupies on its
// host for its lifetime. It is a plain value, never a reference into
// the host's internal ownership array (spec.md §9).
type Binding []int

// AllocateResources claims task.CPUs free hardware threads (scanning
// 0..Threads-1 and taking the first free ones, deterministically),
// reserves memory and a slot, and returns the binding. The caller must
// have already checked CanRun.
func (h *Host) AllocateResources(task Task) (Binding, error) {
	if !h.CanRun(task) {
		return nil, fmt.Errorf("%w: host %s cannot satisfy task %s", ErrInvariantViolation, h.Name, task.Name)
	}

	binding := make(Binding, 0, task.CPUs)
	for i := 0; i < len(h.cpuOwner) && len(binding) < int(task.CPUs); i++ {
		if h.cpuOwner[i] == "" {
			binding = append(binding, i)
		}
	}
	if len(binding) != int(task.CPUs) {
		return nil, fmt.Errorf("%w: host %s has fewer free cpus than accounted", ErrInvariantViolation, h.Name)
	}

	for _, idx := range binding {
		h.cpuOwner[idx] = task.Name
	}
	h.memoryFree -= task.Memory
	h.cpusFree -= task.CPUs
	h.slotsFree--
	h.runningCount++

	return binding, nil
}

// ReleaseResources is the exact inverse of the allocation returned by
// AllocateResources: it frees the binding's CPU indices and restores
// the memory/cpu/slot counters. A binding that does not match what was
// actually allocated for this task is a fatal invariant violation.
func (h *Host) ReleaseResources(task Task, binding Binding) error {
	for _, idx := range binding {
		if idx < 0 || idx >= len(h.cpuOwner) {
			return fmt.Errorf("%w: cpu index %d out of range on host %s", ErrInvariantViolation, idx, h.Name)
		}
		if h.cpuOwner[idx] != task.Name {
			return fmt.Errorf("%w: cpu index %d on host %s not owned by task %s", ErrInvariantViolation, idx, h.Name, task.Name)
		}
	}

	if h.memoryFree+task.Memory > h.Memory {
		return fmt.Errorf("%w: memory release would exceed host %s capacity", ErrInvariantViolation, h.Name)
	}
	if int(h.cpusFree)+len(binding) > int(h.Threads) {
		return fmt.Errorf("%w: cpu release would exceed host %s capacity", ErrInvariantViolation, h.Name)
	}

	for _, idx := range binding {
		h.cpuOwner[idx] = ""
	}
	h.memoryFree += task.Memory
	h.cpusFree += uint16(len(binding))
	h.slotsFree++
	h.runningCount--

	return nil
}
