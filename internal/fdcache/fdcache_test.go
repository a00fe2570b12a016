// Copyright (C) 2024 The Dagu Authors
// SPDX-License-Identifier: GPL-3.0-or-later

package fdcache

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/pegasus-wms/pmc-go/internal/logger"
)

func newTestCache(t *testing.T, size int) *Cache {
	t.Helper()
	c, err := New(size, logger.NewLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

// TestFDCache_Eviction is spec.md §8 scenario 6.
func TestFDCache_Eviction(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "A")
	b := filepath.Join(dir, "B")
	c := filepath.Join(dir, "C")

	cache := newTestCache(t, 2)

	_, err := cache.Write(a, []byte("first"))
	require.NoError(t, err)
	_, err = cache.Write(b, []byte("second"))
	require.NoError(t, err)
	_, err = cache.Write(a, []byte("+third"))
	require.NoError(t, err)
	_, err = cache.Write(c, []byte("fourth"))
	require.NoError(t, err)

	require.Equal(t, 2, cache.Size())

	require.NoError(t, cache.Close())

	contentA, err := os.ReadFile(a)
	require.NoError(t, err)
	require.Equal(t, "first+third", string(contentA))

	contentB, err := os.ReadFile(b)
	require.NoError(t, err)
	require.Equal(t, "second", string(contentB))

	contentC, err := os.ReadFile(c)
	require.NoError(t, err)
	require.Equal(t, "fourth", string(contentC))
}

func TestFDCache_CreatesIntermediateDirectories(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "deep", "out.log")

	cache := newTestCache(t, 4)
	_, err := cache.Write(path, []byte("hi"))
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hi", string(data))
}

func TestFDCache_HitRateTracksHitsAndMisses(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "x")

	cache := newTestCache(t, 4)
	require.Equal(t, 1.0, cache.HitRate())

	_, err := cache.Write(path, []byte("a"))
	require.NoError(t, err)
	_, err = cache.Write(path, []byte("b"))
	require.NoError(t, err)

	require.Equal(t, 0.5, cache.HitRate())
}

func TestFDCache_SizeExceedsRlimitIsError(t *testing.T) {
	_, err := New(1<<30, logger.NewLogger())
	if err == nil {
		t.Skip("rlimit could not be determined on this platform")
	}
	require.Error(t, err)
}
