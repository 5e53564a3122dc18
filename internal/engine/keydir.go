package engine

import "sync"

// CommandPos is an opaque pointer into the log: generation, starting byte
// offset, and byte length. The range [Offset, Offset+Len) in file
// "<Gen>.log" always decodes to exactly one Set record whose key matches
// the key directory entry pointing at it.
type CommandPos struct {
	Gen    uint64
	Offset int64
	Len    int64
}

// KeyDir is the in-memory index from key to CommandPos. It is read by any
// number of readers without blocking the writer, and mutated by the
// writer (on Set/Remove) and by the compactor (rewriting entries into the
// freshly compacted generation).
//
// Backed by sync.Map rather than a mutex-guarded map[string]CommandPos:
// lookups (the hot Get path) need no lock at all, and the compactor's
// "only rewrite an entry if it still points at what I copied" protocol
// maps directly onto sync.Map's CompareAndSwap.
type KeyDir struct {
	m sync.Map // string -> CommandPos
}

// Load returns the CommandPos for key, if present.
func (d *KeyDir) Load(key string) (CommandPos, bool) {
	v, ok := d.m.Load(key)
	if !ok {
		return CommandPos{}, false
	}

	return v.(CommandPos), true
}

// Store sets key's CommandPos unconditionally, returning the previous
// value if one existed.
func (d *KeyDir) Store(key string, pos CommandPos) (prev CommandPos, hadPrev bool) {
	v, loaded := d.m.Swap(key, pos)
	if !loaded {
		return CommandPos{}, false
	}

	return v.(CommandPos), true
}

// Delete removes key, returning the CommandPos it held, if any.
func (d *KeyDir) Delete(key string) (prev CommandPos, hadPrev bool) {
	v, loaded := d.m.LoadAndDelete(key)
	if !loaded {
		return CommandPos{}, false
	}

	return v.(CommandPos), true
}

// CompareAndSwap replaces key's entry with next only if it currently
// equals old. Used by the compactor so a concurrent Set/Remove racing
// compaction is never clobbered: the compactor only downgrades an entry
// it can prove it just copied.
func (d *KeyDir) CompareAndSwap(key string, old, next CommandPos) bool {
	return d.m.CompareAndSwap(key, old, next)
}

// Range calls f for each entry. Iteration order is unspecified and need
// not be atomic with respect to concurrent mutation, matching spec §4.5
// step 3 ("order irrelevant; iteration need not be atomic").
func (d *KeyDir) Range(f func(key string, pos CommandPos) bool) {
	d.m.Range(func(k, v any) bool {
		return f(k.(string), v.(CommandPos))
	})
}

// Len reports the current number of live keys. For diagnostics/tests
// only; not used on any hot path.
func (d *KeyDir) Len() int {
	n := 0

	d.m.Range(func(_, _ any) bool {
		n++
		return true
	})

	return n
}
