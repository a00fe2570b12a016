// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package resource

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestHost_AllocateAndRelease(t *testing.T) {
	h := NewHost("h1", 4096, 4, 2, 1)
	task := Task{Name: "t1", Memory: 1024, CPUs: 2}

	h.AddSlot()
	require.True(t, h.CanRun(task))

	binding, err := h.AllocateResources(task)
	require.NoError(t, err)
	require.Equal(t, Binding{0, 1}, binding)

	require.EqualValues(t, 3072, h.MemoryFree())
	require.EqualValues(t, 2, h.CPUsFree())
	require.Equal(t, 0, h.SlotsFree())

	require.NoError(t, h.ReleaseResources(task, binding))
	require.EqualValues(t, 4096, h.MemoryFree())
	require.EqualValues(t, 4, h.CPUsFree())
	require.Equal(t, 1, h.SlotsFree())
}

func TestHost_CanRun_RespectsMemoryCPUAndSlots(t *testing.T) {
	h := NewHost("h1", 1024, 2, 1, 1)
	h.AddSlot()

	require.False(t, h.CanRun(Task{Memory: 2048, CPUs: 1}))
	require.False(t, h.CanRun(Task{Memory: 512, CPUs: 4}))
	require.True(t, h.CanRun(Task{Memory: 512, CPUs: 1}))

	noSlot := NewHost("h2", 1024, 2, 1, 1)
	require.False(t, noSlot.CanRun(Task{Memory: 512, CPUs: 1}))
}

func TestHost_CanEverRun_InfeasibleTask(t *testing.T) {
	h := NewHost("h1", 4096, 2, 1, 1)
	require.False(t, h.CanEverRun(Task{Memory: 1024, CPUs: 4}))
	require.True(t, h.CanEverRun(Task{Memory: 1024, CPUs: 2}))
}

func TestHost_ReleaseResources_DetectsInvariantViolation(t *testing.T) {
	h := NewHost("h1", 4096, 4, 2, 1)
	h.AddSlot()
	task := Task{Name: "t1", Memory: 1024, CPUs: 2}
	binding, err := h.AllocateResources(task)
	require.NoError(t, err)

	other := Task{Name: "t2", Memory: 1024, CPUs: 2}
	err = h.ReleaseResources(other, binding)
	require.ErrorIs(t, err, ErrInvariantViolation)
}

func TestHost_AllocateResources_DeterministicScan(t *testing.T) {
	h := NewHost("h1", 4096, 4, 2, 1)
	h.AddSlot()
	h.AddSlot()

	b1, err := h.AllocateResources(Task{Name: "a", Memory: 0, CPUs: 1})
	require.NoError(t, err)
	require.Equal(t, Binding{0}, b1)

	b2, err := h.AllocateResources(Task{Name: "b", Memory: 0, CPUs: 1})
	require.NoError(t, err)
	require.Equal(t, Binding{1}, b2)

	require.NoError(t, h.ReleaseResources(Task{Name: "a"}, b1))

	b3, err := h.AllocateResources(Task{Name: "c", Memory: 0, CPUs: 1})
	require.NoError(t, err)
	require.Equal(t, Binding{0}, b3)
}
