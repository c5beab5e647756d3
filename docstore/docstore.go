// Package docstore implements a schemaless JSON document store on top of
// an ordered key-value engine (see package kv). Every top-level field of
// every document is indexed, so conjunctive equality queries can be
// answered by a range scan plus point-probe verification (see query.go).
package docstore

import (
	"encoding/json"

	logging "github.com/ipfs/go-log/v2"

	"github.com/deuspy/deuspy/kv"
	"github.com/deuspy/deuspy/tuple"
)

var log = logging.Logger("docstore")

// Document is a JSON object whose values are restricted to the scalars
// the tuple codec can index: nil, bool, string, and number (decoded as
// float64, the only numeric type encoding/json produces).
type Document map[string]interface{}

// Store is a document+index engine layered over a kv.Engine. It keeps no
// state beyond two prefixed sub-views of the engine: docs: and index:.
type Store struct {
	docs            kv.View
	index           kv.View
	maxAllocRetries int
}

// Option configures a Store at Open time.
type Option func(*Store)

// WithMaxAllocRetries overrides the default identifier allocation retry
// cap.
func WithMaxAllocRetries(n int) Option {
	return func(s *Store) { s.maxAllocRetries = n }
}

// Open wraps engine with the docs:/index: keyspace layout.
func Open(engine kv.Engine, opts ...Option) *Store {
	s := &Store{
		docs:            engine.View([]byte("docs:")),
		index:           engine.View([]byte("index:")),
		maxAllocRetries: defaultMaxAllocRetries,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// toElement converts a decoded JSON scalar to a tuple.Element. Numbers
// always decode via encoding/json as float64; storing every numeric
// field that way, rather than trying to recover int vs. float, keeps a
// single field's index entries under one consistent type tag so range
// scans over it stay correctly ordered.
func toElement(v interface{}) (tuple.Element, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool:
		return t, nil
	case float64:
		return t, nil
	case string:
		return t, nil
	default:
		return nil, &StorageError{Op: "index field", Err: tuple.ErrUnsupportedType}
	}
}

// docKey packs the docs: key for uid.
func docKey(uid int64) ([]byte, error) {
	return tuple.Pack(tuple.Tuple{uid})
}

// indexKey packs the index: key for (name, value, uid).
func indexKey(name string, value interface{}, uid int64) ([]byte, error) {
	el, err := toElement(value)
	if err != nil {
		return nil, err
	}
	return tuple.Pack(tuple.Tuple{name, el, uid})
}

// save writes doc's docs: entry and one index: entry per field. It is
// not exposed publicly; Create and Update are the only callers. Every
// index key is built before anything is written, so a document with a
// field value the codec cannot encode is rejected without being stored.
func (s *Store) save(uid int64, doc Document) error {
	key, err := docKey(uid)
	if err != nil {
		return &StorageError{Op: "save", Err: err}
	}
	value, err := json.Marshal(doc)
	if err != nil {
		return &StorageError{Op: "marshal document", Err: err}
	}
	ikeys := make([][]byte, 0, len(doc))
	for name, v := range doc {
		ikey, err := indexKey(name, v, uid)
		if err != nil {
			return err
		}
		ikeys = append(ikeys, ikey)
	}
	if err := s.docs.Put(key, value); err != nil {
		return &StorageError{Op: "save document", Err: err}
	}
	for _, ikey := range ikeys {
		if err := s.index.Put(ikey, nil); err != nil {
			return &StorageError{Op: "save index entry", Err: err}
		}
	}
	return nil
}

// Create allocates a fresh uid, stores doc under it, and returns the uid.
func (s *Store) Create(doc Document) (int64, error) {
	uid, err := s.allocateUID()
	if err != nil {
		return 0, err
	}
	if err := s.save(uid, doc); err != nil {
		return 0, err
	}
	return uid, nil
}

// Read returns the document stored at uid, or (nil, nil) if absent.
func (s *Store) Read(uid int64) (Document, error) {
	key, err := docKey(uid)
	if err != nil {
		return nil, &StorageError{Op: "read", Err: err}
	}
	raw, err := s.docs.Get(key)
	if err != nil {
		return nil, &StorageError{Op: "read", Err: err}
	}
	if raw == nil {
		return nil, nil
	}
	var doc Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, &StorageError{Op: "decode document", Err: err}
	}
	return doc, nil
}

// Delete removes the document at uid and all of its index entries,
// deleting the index entries first so a crash mid-delete leaves I3
// violated in the recoverable direction (stale index entries pointing at
// a doc that still exists) rather than orphaned ones. It reports whether
// a document was actually present, which is what lets the HTTP layer
// answer DELETE with a real 404 instead of always succeeding.
func (s *Store) Delete(uid int64) (bool, error) {
	doc, err := s.Read(uid)
	if err != nil {
		return false, err
	}
	if doc == nil {
		return false, nil
	}
	for name, v := range doc {
		ikey, err := indexKey(name, v, uid)
		if err != nil {
			return false, err
		}
		if err := s.index.Delete(ikey); err != nil {
			return false, &StorageError{Op: "delete index entry", Err: err}
		}
	}
	key, err := docKey(uid)
	if err != nil {
		return false, &StorageError{Op: "delete", Err: err}
	}
	if err := s.docs.Delete(key); err != nil {
		return false, &StorageError{Op: "delete document", Err: err}
	}
	return true, nil
}

// Update replaces the document at uid with doc, preserving uid. It is
// delete-then-save under the hood, so Update on an unknown uid creates a
// new document there rather than failing.
func (s *Store) Update(uid int64, doc Document) error {
	if _, err := s.Delete(uid); err != nil {
		return err
	}
	return s.save(uid, doc)
}
