// Artgrid - Species Observation Hotspot Aggregation and Ranking
// Copyright 2026 J. Eklind (eklind)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/eklind/artgrid

package cache

import (
	"bytes"
	"fmt"
	"testing"
	"time"
)

func TestResponseCache_GetSet(t *testing.T) {
	t.Parallel()

	c := New(4, time.Minute)

	if _, ok := c.Get("missing"); ok {
		t.Error("expected miss on empty cache")
	}

	c.Set("a", []byte("body-a"))
	body, ok := c.Get("a")
	if !ok || !bytes.Equal(body, []byte("body-a")) {
		t.Errorf("Get(a) = (%q, %v), want body-a hit", body, ok)
	}

	// Overwrite keeps a single entry.
	c.Set("a", []byte("body-a2"))
	if c.Len() != 1 {
		t.Errorf("Len = %d, want 1 after overwrite", c.Len())
	}
	body, _ = c.Get("a")
	if !bytes.Equal(body, []byte("body-a2")) {
		t.Errorf("Get(a) = %q after overwrite", body)
	}
}

func TestResponseCache_EvictsLeastRecentlyUsed(t *testing.T) {
	t.Parallel()

	c := New(2, time.Minute)
	c.Set("a", []byte("a"))
	c.Set("b", []byte("b"))

	// Touch a so b becomes the eviction candidate.
	if _, ok := c.Get("a"); !ok {
		t.Fatal("expected hit on a")
	}
	c.Set("c", []byte("c"))

	if _, ok := c.Get("b"); ok {
		t.Error("b should have been evicted")
	}
	if _, ok := c.Get("a"); !ok {
		t.Error("a should have survived")
	}
	if _, ok := c.Get("c"); !ok {
		t.Error("c should be present")
	}
}

func TestResponseCache_TTLExpiry(t *testing.T) {
	t.Parallel()

	c := New(4, 10*time.Millisecond)
	c.Set("a", []byte("a"))

	time.Sleep(20 * time.Millisecond)

	if _, ok := c.Get("a"); ok {
		t.Error("expected expired entry to miss")
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0 after lazy removal", c.Len())
	}
}

func TestResponseCache_Invalidate(t *testing.T) {
	t.Parallel()

	c := New(8, time.Minute)
	for i := 0; i < 5; i++ {
		c.Set(fmt.Sprintf("k%d", i), []byte("v"))
	}

	c.Invalidate()

	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0 after invalidate", c.Len())
	}
	if _, ok := c.Get("k0"); ok {
		t.Error("expected miss after invalidate")
	}

	// The cache keeps working after a full reset.
	c.Set("fresh", []byte("v"))
	if _, ok := c.Get("fresh"); !ok {
		t.Error("expected hit after re-adding")
	}
}

func TestResponseCache_DefaultsOnBadConfig(t *testing.T) {
	t.Parallel()

	c := New(0, 0)
	c.Set("a", []byte("a"))
	if _, ok := c.Get("a"); !ok {
		t.Error("cache with defaulted config must still work")
	}
}

func TestResponseCache_ConcurrentAccess(t *testing.T) {
	t.Parallel()

	c := New(32, time.Minute)
	done := make(chan struct{})

	for w := 0; w < 4; w++ {
		go func(w int) {
			defer func() { done <- struct{}{} }()
			for i := 0; i < 200; i++ {
				key := fmt.Sprintf("k%d", i%50)
				c.Set(key, []byte(key))
				c.Get(key)
			}
			if w == 0 {
				c.Invalidate()
			}
		}(w)
	}
	for w := 0; w < 4; w++ {
		<-done
	}
}
