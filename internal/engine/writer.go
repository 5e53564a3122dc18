package engine

import (
	"sync"

	kvfs "github.com/arjunroy/kvs/pkg/fs"
)

// writer owns the single append stream to the currently active
// generation's file. All mutation of the active file/generation goes
// through mu, matching spec §5: "writer state ... guarded by a single
// mutex."
type writer struct {
	dir  string
	fsys kvfs.FS

	mu          sync.Mutex
	activeGen   uint64
	f           *positionedWriter
	uncompacted int64
}

func newWriter(fsys kvfs.FS, dir string, activeGen uint64, f *positionedWriter) *writer {
	return &writer{dir: dir, fsys: fsys, activeGen: activeGen, f: f}
}

// append writes rec to the active file and flushes, then — still holding
// w.mu — invokes commit with the resulting CommandPos, if commit is
// non-nil. Running commit inside the same critical section as the append
// makes the two atomic with respect to any other Set/Remove: the order in
// which callers acquire w.mu is both the persistent log order and the
// order their key-directory mutation takes effect, matching spec §5's
// linearization guarantee (mirrors the original's log_writer.lock() held
// across both the write and the key_dir update).
func (w *writer) append(data []byte, commit func(CommandPos)) (CommandPos, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	before := w.f.Pos()

	if _, err := w.f.Write(data); err != nil {
		return CommandPos{}, err
	}

	if err := w.f.Flush(); err != nil {
		return CommandPos{}, err
	}

	pos := CommandPos{Gen: w.activeGen, Offset: before, Len: w.f.Pos() - before}

	if commit != nil {
		commit(pos)
	}

	return pos, nil
}

// addUncompacted adds n bytes to the running uncompacted-bytes estimate
// and reports the new total.
func (w *writer) addUncompacted(n int64) int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.uncompacted += n

	return w.uncompacted
}

func (w *writer) uncompactedBytes() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.uncompacted
}

func (w *writer) currentGen() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.activeGen
}

// rotate performs the writer-side half of compaction's generation
// rotation (spec §4.5 steps 5 and 7): it opens nextGen for append, makes
// it the new active writer, and resets the uncompacted counter to zero.
// Holding w.mu for the whole call is what makes compaction "linearizable
// with the writer" (spec §5): any Set/Remove racing this call blocks
// until rotation completes, then lands in nextGen.
func (w *writer) rotate(nextGen uint64) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	nf, err := newPositionedWriter(w.fsys, logFilePath(w.dir, nextGen))
	if err != nil {
		return err
	}

	old := w.f
	w.f = nf
	w.activeGen = nextGen
	w.uncompacted = 0

	return old.Close()
}

func (w *writer) close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	return w.f.Close()
}
