// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package resource

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPlacement_PrefersLowestLoadThenFewestRunningThenName(t *testing.T) {
	busy := NewHost("b-host", 8192, 4, 2, 1)
	busy.AddSlot()
	busy.AddSlot()
	_, err := busy.AllocateResources(Task{Name: "x", CPUs: 2})
	require.NoError(t, err)

	idle := NewHost("a-host", 8192, 4, 2, 1)
	idle.AddSlot()
	idle.AddSlot()

	slots := []*Slot{
		{Rank: 0, Host: busy},
		{Rank: 0, Host: idle},
	}

	ordered := Placement(slots)
	require.Equal(t, "a-host", ordered[0].Host.Name)
	require.Equal(t, "b-host", ordered[1].Host.Name)
}

func TestFindSlot_SkipsHostsThatCannotRun(t *testing.T) {
	small := NewHost("small", 512, 1, 1, 1)
	small.AddSlot()

	big := NewHost("big", 8192, 4, 2, 1)
	big.AddSlot()

	slots := []*Slot{{Rank: 0, Host: small}, {Rank: 0, Host: big}}
	idx := FindSlot(slots, Task{Memory: 1024, CPUs: 2})
	require.Equal(t, 1, idx)
}

func TestFindSlot_NoneCanRun(t *testing.T) {
	small := NewHost("small", 512, 1, 1, 1)
	small.AddSlot()
	slots := []*Slot{{Rank: 0, Host: small}}
	idx := FindSlot(slots, Task{Memory: 1024, CPUs: 2})
	require.Equal(t, -1, idx)
}
