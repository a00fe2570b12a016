// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package dagmodel

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func diamond(t *testing.T) []TaskRecord {
	t.Helper()
	return []TaskRecord{
		{Name: "A"},
		{Name: "B"},
		{Name: "C"},
		{Name: "D"},
	}
}

func diamondEdges() []Edge {
	return []Edge{
		{Parent: "A", Child: "B"},
		{Parent: "A", Child: "C"},
		{Parent: "B", Child: "D"},
		{Parent: "C", Child: "D"},
	}
}

// TestDiamond_ScenarioOne is spec.md §8 scenario 1.
func TestDiamond_ScenarioOne(t *testing.T) {
	rescue := filepath.Join(t.TempDir(), "rescue.log")
	d, err := Load(diamond(t), diamondEdges(), LoadOptions{MaxRetries: 1, RescuePath: rescue})
	require.NoError(t, err)

	require.True(t, d.HasReadyTask())
	a, ok := d.NextReadyTask()
	require.True(t, ok)
	require.Equal(t, "A", a.Name)
	require.False(t, d.HasReadyTask())

	ready, err := d.MarkSuccess("A")
	require.NoError(t, err)
	require.Len(t, ready, 2)

	// Both B and C are now ready; D must not be ready until both succeed.
	b, _ := d.NextReadyTask()
	c, _ := d.NextReadyTask()
	require.ElementsMatch(t, []string{"B", "C"}, []string{b.Name, c.Name})
	require.False(t, d.HasReadyTask())

	readyAfterB, err := d.MarkSuccess("B")
	require.NoError(t, err)
	require.Empty(t, readyAfterB)
	require.False(t, d.HasReadyTask())

	readyAfterC, err := d.MarkSuccess("C")
	require.NoError(t, err)
	require.Len(t, readyAfterC, 1)
	require.Equal(t, "D", readyAfterC[0].Name)

	dTask, _ := d.NextReadyTask()
	_, err = d.MarkSuccess(dTask.Name)
	require.NoError(t, err)
	require.True(t, d.IsFinished(0))
	require.NoError(t, d.Close())

	data, err := os.ReadFile(rescue)
	require.NoError(t, err)
	require.Equal(t, "DONE A\nDONE B\nDONE C\nDONE D\n", string(data))
}

// TestDiamond_ScenarioTwo is spec.md §8 scenario 2.
func TestDiamond_ScenarioTwo(t *testing.T) {
	dir := t.TempDir()
	rescueIn := filepath.Join(dir, "rescue-in.log")
	require.NoError(t, os.WriteFile(rescueIn, []byte("DONE A\nDONE B\nDONE C\n"), 0o644))

	rescueOut := filepath.Join(dir, "rescue-out.log")
	d, err := Load(diamond(t), diamondEdges(), LoadOptions{MaxRetries: 1, RescuePath: rescueOut})
	require.NoError(t, err)
	// Simulate resuming from rescueIn by replaying into a DAG whose
	// rescue output path differs from its replay input; load twice to
	// exercise the replay path directly against rescueIn.
	d2, err := Load(diamond(t), diamondEdges(), LoadOptions{MaxRetries: 1, RescuePath: rescueIn})
	require.NoError(t, err)
	require.True(t, d2.HasReadyTask())
	next, _ := d2.NextReadyTask()
	require.Equal(t, "D", next.Name)

	_ = d // first DAG unused beyond construction smoke-check
}

func TestRescueReplay_UnknownTaskIsFatal(t *testing.T) {
	dir := t.TempDir()
	rescue := filepath.Join(dir, "rescue.log")
	require.NoError(t, os.WriteFile(rescue, []byte("DONE ZZZ\n"), 0o644))

	_, err := Load(diamond(t), diamondEdges(), LoadOptions{RescuePath: rescue})
	require.ErrorIs(t, err, ErrParse)
}

// TestPriorityDAG is spec.md §8 scenario 3.
func TestPriorityDAG_OrdersByPriorityThenParseOrder(t *testing.T) {
	records := []TaskRecord{
		{Name: "G", Priority: 10},
		{Name: "I", Priority: 9},
		{Name: "D", Priority: 8},
		{Name: "E", Priority: 7},
		{Name: "O", Priority: -4},
		{Name: "N", Priority: -5},
	}
	d, err := Load(records, nil, LoadOptions{MaxRetries: 1})
	require.NoError(t, err)

	first, _ := d.NextReadyTask()
	second, _ := d.NextReadyTask()
	third, _ := d.NextReadyTask()
	require.Equal(t, []string{"G", "I", "D"}, []string{first.Name, second.Name, third.Name})
}

func TestMarkFailure_RetriesThenFails(t *testing.T) {
	records := []TaskRecord{{Name: "A", Tries: 2}, {Name: "B"}}
	edges := []Edge{{Parent: "A", Child: "B"}}
	d, err := Load(records, edges, LoadOptions{MaxRetries: 1})
	require.NoError(t, err)

	a, _ := d.NextReadyTask()
	exhausted, unreachable, err := d.MarkFailure(a.Name)
	require.NoError(t, err)
	require.False(t, exhausted)
	require.Empty(t, unreachable)

	d.PushReady(a)
	a2, _ := d.NextReadyTask()
	exhausted, unreachable, err = d.MarkFailure(a2.Name)
	require.NoError(t, err)
	require.True(t, exhausted)
	require.Len(t, unreachable, 1)
	require.Equal(t, "B", unreachable[0].Name)
	require.True(t, d.IsFinished(0))
}

func TestLoad_DuplicateTaskIsFatal(t *testing.T) {
	_, err := Load([]TaskRecord{{Name: "A"}, {Name: "A"}}, nil, LoadOptions{})
	require.ErrorIs(t, err, ErrParse)
}

func TestLoad_UnknownEdgeReferenceIsFatal(t *testing.T) {
	_, err := Load([]TaskRecord{{Name: "A"}}, []Edge{{Parent: "A", Child: "ZZZ"}}, LoadOptions{})
	require.ErrorIs(t, err, ErrParse)
}

func TestLoad_CycleIsFatal(t *testing.T) {
	records := []TaskRecord{{Name: "A"}, {Name: "B"}}
	edges := []Edge{{Parent: "A", Child: "B"}, {Parent: "B", Child: "A"}}
	_, err := Load(records, edges, LoadOptions{})
	require.ErrorIs(t, err, ErrParse)
}
