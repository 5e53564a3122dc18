package engine

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"sync"

	kvfs "github.com/arjunroy/kvs/pkg/fs"
)

// compactor runs as its own goroutine, signaled by the writer whenever
// uncompactedBytes crosses the configured threshold (spec §9 design
// option b: an asynchronous compactor over an in-line one, trading a
// second goroutine for lower write latency).
//
// Generation rotation (opening the next active file and making it live)
// is the only step performed under the writer mutex; copying live
// records into the new snapshot generation happens without holding it,
// so writes continue to flow (into the freshly rotated generation)
// throughout the bulk of a compaction run. This ordering is what makes
// the invariant in spec §4.5 true in practice: a concurrent set/remove
// that races compaction always lands in g_next, so the compactor's
// compare-and-swap against the pre-rotation generations never needs to
// retry, and deleting every generation below g_snap afterward is always
// safe.
type compactor struct {
	dir    string
	fsys   kvfs.FS
	keydir *KeyDir
	w      *writer
	rdr    *reader
	log    *slog.Logger

	threshold int64
	signal    chan struct{}
	done      chan struct{}
	wg        sync.WaitGroup

	// runMu serializes compaction passes, so an on-demand Compact never
	// overlaps a background pass.
	runMu sync.Mutex
}

func newCompactor(fsys kvfs.FS, dir string, keydir *KeyDir, w *writer, threshold int64, log *slog.Logger) *compactor {
	return &compactor{
		dir:       dir,
		fsys:      fsys,
		keydir:    keydir,
		w:         w,
		rdr:       newReader(fsys, dir),
		log:       log,
		threshold: threshold,
		signal:    make(chan struct{}, 1),
		done:      make(chan struct{}),
	}
}

func (c *compactor) start() {
	c.wg.Add(1)

	go func() {
		defer c.wg.Done()

		for {
			select {
			case <-c.signal:
				if err := c.compactOnce(); err != nil {
					c.log.Error("compaction failed", "err", err)
				}
			case <-c.done:
				return
			}
		}
	}()
}

func (c *compactor) stop() {
	close(c.done)
	c.wg.Wait()
	_ = c.rdr.closeAll()
}

// maybeSignal enqueues a compaction run if uncompactedBytes exceeds the
// threshold. Non-blocking: if a run is already queued or in progress, this
// is a no-op (the eventual run will see the current, larger total).
func (c *compactor) maybeSignal() {
	if c.w.uncompactedBytes() <= c.threshold {
		return
	}

	select {
	case c.signal <- struct{}{}:
	default:
	}
}

// compactOnce runs one full compaction pass per spec §4.5.
func (c *compactor) compactOnce() error {
	c.runMu.Lock()
	defer c.runMu.Unlock()

	gActive := c.w.currentGen()
	gSnap := gActive + 1
	gNext := gActive + 2

	// Rotate the writer to gNext first, under the writer mutex. From this
	// point on every new set/remove lands in gNext, never in a
	// generation <= gActive, so no file the copy loop below reads from is
	// appended to again. Key-directory entries can still change under the
	// loop; the compare-and-swap below handles that.
	if err := c.w.rotate(gNext); err != nil {
		return fmt.Errorf("compaction: rotate to generation %d: %w", gNext, err)
	}

	snap, err := newPositionedWriter(c.fsys, logFilePath(c.dir, gSnap))
	if err != nil {
		return fmt.Errorf("compaction: open snapshot generation %d: %w", gSnap, err)
	}

	var newOff int64

	c.keydir.Range(func(key string, pos CommandPos) bool {
		if pos.Gen >= gSnap {
			// Already in the new generation (or, in principle, a later
			// one); nothing to do for this key.
			return true
		}

		var buf bytes.Buffer

		if _, cerr := c.rdr.copyRecord(pos, &buf); cerr != nil {
			c.log.Error("compaction: skipping unreadable record", "key", key, "err", cerr)
			return true
		}

		if _, werr := snap.Write(buf.Bytes()); werr != nil {
			err = fmt.Errorf("compaction: write snapshot: %w", werr)
			return false
		}

		// Flush before publishing the new CommandPos, so a reader that
		// loads it finds the record's bytes in the snapshot file.
		if ferr := snap.Flush(); ferr != nil {
			err = fmt.Errorf("compaction: flush snapshot: %w", ferr)
			return false
		}

		next := CommandPos{Gen: gSnap, Offset: newOff, Len: pos.Len}
		newOff += pos.Len

		// Only advance the entry if it still points at exactly what we
		// just copied. A concurrent set/remove landed in gNext (see
		// above) and already replaced or deleted it; don't resurrect a
		// stale value.
		c.keydir.CompareAndSwap(key, pos, next)

		return true
	})
	if err != nil {
		_ = snap.Close()
		return err
	}

	if err := snap.Flush(); err != nil {
		return fmt.Errorf("compaction: flush snapshot: %w", err)
	}

	if err := snap.Close(); err != nil {
		return fmt.Errorf("compaction: close snapshot: %w", err)
	}

	gens, err := listGenerations(c.fsys, c.dir)
	if err != nil {
		return fmt.Errorf("compaction: list generations: %w", err)
	}

	for _, g := range gens {
		if g >= gSnap {
			continue
		}

		c.rdr.prune(g)

		if rerr := c.fsys.Remove(logFilePath(c.dir, g)); rerr != nil {
			c.log.Error("compaction: removing stale generation", "gen", g, "err", rerr)
		}
	}

	return nil
}

// compactNow runs a synchronous compaction pass, bypassing the signal
// channel. Used by tests and by Engine.Compact for on-demand compaction.
func (c *compactor) compactNow(_ context.Context) error {
	return c.compactOnce()
}
