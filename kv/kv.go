// Package kv defines the narrow ordered key-value contract that the
// document store is built on. Concrete engines (see kv/pebblekv) live in
// their own packages so the storage layer above never imports a specific
// embedded database directly.
package kv

// errorType lets a plain string satisfy the error interface.
type errorType string

func (e errorType) Error() string { return string(e) }

// ErrClosed is the error kind for an operation on an Engine or View after
// Close has been called on it. The engines in this repository do not
// track closure, so none of them returns it.
const ErrClosed = errorType("kv: engine is closed")

// Engine is an embedded ordered key-value store: every key lives in a
// single flat byte-lexicographic keyspace, and ranges can be iterated in
// that order. Implementations must be safe for concurrent use.
type Engine interface {
	// View returns a keyspace restricted to keys sharing prefix, with the
	// prefix stripped from and added to keys transparently. This is how
	// the document store separates its "docs:" and "index:" partitions
	// within one engine.
	View(prefix []byte) View

	// Close releases resources held by the engine. It does not affect
	// data durably persisted to disk.
	Close() error
}

// View is a byte-lexicographically ordered keyspace supporting point
// reads/writes and forward range scans.
type View interface {
	// Get returns the value stored at key, or (nil, nil) if key is absent.
	Get(key []byte) ([]byte, error)

	// Put stores value at key, overwriting any existing value.
	Put(key, value []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(key []byte) error

	// Iterator returns a forward iterator over [start, stop): start is
	// inclusive, stop is exclusive. A nil stop means "no upper bound",
	// i.e. iterate to the end of the view's keyspace.
	Iterator(start, stop []byte) (Iterator, error)
}

// Iterator walks a key range in ascending order. Call Next until it
// returns io.EOF, then call Close.
type Iterator interface {
	// Next advances to the next entry and returns its key and value. It
	// returns io.EOF once the range is exhausted, at which point key and
	// value are nil.
	Next() (key, value []byte, err error)

	// Close releases resources held by the iterator. Safe to call more
	// than once.
	Close() error
}
