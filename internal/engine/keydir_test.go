package engine_test

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"

	"github.com/arjunroy/kvs/internal/engine"
)

func Test_KeyDir_StoreLoadDelete(t *testing.T) {
	t.Parallel()

	d := &engine.KeyDir{}

	_, ok := d.Load("missing")
	assert.False(t, ok)

	pos1 := engine.CommandPos{Gen: 1, Offset: 0, Len: 10}

	_, had := d.Store("k", pos1)
	assert.False(t, had)

	got, ok := d.Load("k")
	assert.True(t, ok)

	if diff := cmp.Diff(pos1, got); diff != "" {
		t.Errorf("CommandPos mismatch (-want +got):\n%s", diff)
	}

	pos2 := engine.CommandPos{Gen: 1, Offset: 10, Len: 5}

	prev, had := d.Store("k", pos2)
	assert.True(t, had)
	assert.Equal(t, pos1, prev)

	deleted, had := d.Delete("k")
	assert.True(t, had)
	assert.Equal(t, pos2, deleted)

	_, ok = d.Load("k")
	assert.False(t, ok)
}

func Test_KeyDir_CompareAndSwap(t *testing.T) {
	t.Parallel()

	d := &engine.KeyDir{}

	old := engine.CommandPos{Gen: 1, Offset: 0, Len: 10}
	next := engine.CommandPos{Gen: 2, Offset: 0, Len: 10}

	// CAS against a key that was never stored fails.
	assert.False(t, d.CompareAndSwap("k", old, next))

	_, _ = d.Store("k", old)

	assert.True(t, d.CompareAndSwap("k", old, next))

	got, _ := d.Load("k")
	assert.Equal(t, next, got)

	// A stale CAS (the entry moved on) fails and does not clobber.
	assert.False(t, d.CompareAndSwap("k", old, engine.CommandPos{Gen: 3}))

	got, _ = d.Load("k")
	assert.Equal(t, next, got)
}

func Test_KeyDir_RangeAndLen(t *testing.T) {
	t.Parallel()

	d := &engine.KeyDir{}

	_, _ = d.Store("a", engine.CommandPos{Gen: 1})
	_, _ = d.Store("b", engine.CommandPos{Gen: 1})
	_, _ = d.Store("c", engine.CommandPos{Gen: 1})

	assert.Equal(t, 3, d.Len())

	seen := make(map[string]bool)
	d.Range(func(key string, _ engine.CommandPos) bool {
		seen[key] = true
		return true
	})

	assert.Equal(t, map[string]bool{"a": true, "b": true, "c": true}, seen)
}
