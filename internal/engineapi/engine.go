// Package engineapi defines the storage engine contract shared by the
// bitcask-style engine and any drop-in alternative (see internal/sledengine).
// The request server and CLI only ever depend on this package, never on a
// concrete engine implementation.
package engineapi

import "errors"

// Sentinel errors surfaced across the engine boundary. The server maps
// ErrKeyNotFound to a client-visible response; every other error is logged
// and treated as fatal or connection-ending depending on context.
var (
	// ErrKeyNotFound is returned by Remove for an absent key. Get does not
	// return it: a miss is a false ok value with a nil error.
	ErrKeyNotFound = errors.New("key not found")

	// ErrLogInit reports failure to create or open a log/data file at
	// startup. Fatal.
	ErrLogInit = errors.New("log init")

	// ErrParser reports a wire or on-disk decode failure.
	ErrParser = errors.New("parse error")

	// ErrUnexpectedCommandType reports a CommandPos that resolved to a
	// record other than Set. Indicates a broken invariant; fatal.
	ErrUnexpectedCommandType = errors.New("unexpected command type")

	// ErrEngineMismatch reports that the on-disk engine marker disagrees
	// with the requested backend.
	ErrEngineMismatch = errors.New("engine mismatch")
)

// Engine is the storage backend contract. GET/SET/RM from the wire
// protocol map directly onto Get/Set/Remove. Implementations must be safe
// for concurrent use by multiple goroutines without external locking.
//
// A second implementation (internal/sledengine) is a drop-in behind this
// interface; nothing above this boundary knows or cares which one is in
// use beyond the marker-file check performed at open time.
type Engine interface {
	// Get returns the current value for key. ok is false, err is nil when
	// the key is absent.
	Get(key string) (val string, ok bool, err error)

	// Set stores val for key, replacing any previous value.
	Set(key, val string) error

	// Remove deletes key. Returns ErrKeyNotFound if key is absent; the
	// engine must not be mutated in that case.
	Remove(key string) error

	// Close releases all resources held by the engine. Safe to call once;
	// behavior of further calls is implementation-defined.
	Close() error

	// Clone returns a handle sharing the same underlying store, suitable
	// for handing to an independent goroutine (one per connection). The
	// returned Engine's Close must not be called; only the original
	// handle returned by Open owns shutdown.
	Clone() Engine
}

// Name identifies a storage backend. Stored verbatim in the engine marker
// file and compared against the --engine flag on reopen.
type Name string

const (
	KVS  Name = "kvs"
	Sled Name = "sled"
)
