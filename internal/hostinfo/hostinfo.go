// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

// Package hostinfo discovers a worker process's own memory and CPU
// topology, for the Registration message it sends the coordinator and
// for the independent cluster tool's "auto" CPU count.
package hostinfo

import (
	"fmt"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/mem"
)

// Info is the resource topology of the machine this process is
// running on, in the units the wire protocol and resource model use.
type Info struct {
	MemoryMiB uint32
	Threads   uint16
	Cores     uint16
	Sockets   uint16
}

// Discover queries the local machine's total memory and CPU topology.
func Discover() (Info, error) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		return Info{}, fmt.Errorf("reading memory info: %w", err)
	}

	threads, err := cpu.Counts(true)
	if err != nil {
		return Info{}, fmt.Errorf("counting logical cpus: %w", err)
	}
	physical, err := cpu.Counts(false)
	if err != nil {
		return Info{}, fmt.Errorf("counting physical cpus: %w", err)
	}

	sockets := socketCount()
	if sockets < 1 {
		sockets = 1
	}
	cores := physical
	if cores < 1 {
		cores = threads
	}

	return Info{
		MemoryMiB: uint32(vm.Total / (1024 * 1024)),
		Threads:   uint16(threads),
		Cores:     uint16(cores),
		Sockets:   uint16(sockets),
	}, nil
}

// socketCount counts distinct physical package ids reported by the CPU
// info table; any failure or empty result is treated as a single
// socket, which is the common case for VMs and containers.
func socketCount() int {
	infos, err := cpu.Info()
	if err != nil || len(infos) == 0 {
		return 1
	}
	seen := make(map[string]bool)
	for _, i := range infos {
		seen[i.PhysicalID] = true
	}
	if len(seen) == 0 {
		return 1
	}
	return len(seen)
}

// AutoCPUCount is the number of usable logical CPUs for the
// independent cluster tool's SEQEXEC_CPUS=auto setting: the logical
// CPU count gopsutil reports, or 1 if that count cannot be determined.
// Cgroup quotas are not taken into account.
func AutoCPUCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n < 1 {
		return 1
	}
	return n
}
