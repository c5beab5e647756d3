// Package pebblekv adapts github.com/cockroachdb/pebble, an embedded
// ordered key-value store, to the kv.Engine contract.
package pebblekv

import (
	"io"
	"time"

	"github.com/cockroachdb/pebble"
	logging "github.com/ipfs/go-log/v2"

	"github.com/deuspy/deuspy/kv"
	"github.com/deuspy/deuspy/metrics"
)

var log = logging.Logger("pebblekv")

// config holds Open's tunables, built up via functional options and
// applied in Open.
type config struct {
	cacheSizeBytes int64
	disableWAL     bool
}

func (c *config) apply(opts []Option) {
	for _, opt := range opts {
		opt(c)
	}
}

// Option configures an Engine at open time.
type Option func(*config)

// WithCacheSize sets pebble's block cache size, in bytes. The default is
// pebble's own built-in default.
func WithCacheSize(n int64) Option {
	return func(c *config) { c.cacheSizeBytes = n }
}

// WithoutWAL disables the write-ahead log, trading durability across
// crashes for write throughput. Intended for test and scratch databases.
func WithoutWAL(yes bool) Option {
	return func(c *config) { c.disableWAL = yes }
}

// Engine is a kv.Engine backed by a single pebble database directory.
type Engine struct {
	db         *pebble.DB
	disableWAL bool
}

var _ kv.Engine = (*Engine)(nil)

// Open opens (creating if necessary) a pebble database at dir.
func Open(dir string, opts ...Option) (*Engine, error) {
	c := config{}
	c.apply(opts)

	popts := &pebble.Options{DisableWAL: c.disableWAL}
	if c.cacheSizeBytes > 0 {
		popts.Cache = pebble.NewCache(c.cacheSizeBytes)
	}

	db, err := pebble.Open(dir, popts)
	if err != nil {
		return nil, err
	}
	log.Infof("opened pebble database at %s", dir)
	return &Engine{db: db, disableWAL: c.disableWAL}, nil
}

// View implements kv.Engine.
func (e *Engine) View(prefix []byte) kv.View {
	p := append([]byte(nil), prefix...)
	return &view{db: e.db, prefix: p, disableWAL: e.disableWAL}
}

// Close implements kv.Engine.
func (e *Engine) Close() error {
	return e.db.Close()
}

// view is a prefix-scoped slice of an Engine's keyspace. Keys are stored
// in the underlying database as prefix+key and returned to callers with
// the prefix stripped.
type view struct {
	db         *pebble.DB
	prefix     []byte
	disableWAL bool
}

var _ kv.View = (*view)(nil)

func (v *view) full(key []byte) []byte {
	out := make([]byte, 0, len(v.prefix)+len(key))
	out = append(out, v.prefix...)
	out = append(out, key...)
	return out
}

func observeKVLatency(op string, start time.Time) {
	metrics.KVOperationLatencyHistogram.WithLabelValues(op).Observe(time.Since(start).Seconds())
}

func (v *view) Get(key []byte) ([]byte, error) {
	defer observeKVLatency("get", time.Now())
	val, closer, err := v.db.Get(v.full(key))
	if err == pebble.ErrNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), val...)
	if cerr := closer.Close(); cerr != nil {
		return nil, cerr
	}
	return out, nil
}

func (v *view) Put(key, value []byte) error {
	defer observeKVLatency("put", time.Now())
	writeOpts := pebble.Sync
	if v.disableWAL {
		writeOpts = pebble.NoSync
	}
	return v.db.Set(v.full(key), value, writeOpts)
}

func (v *view) Delete(key []byte) error {
	defer observeKVLatency("delete", time.Now())
	writeOpts := pebble.Sync
	if v.disableWAL {
		writeOpts = pebble.NoSync
	}
	return v.db.Delete(v.full(key), writeOpts)
}

// prefixUpperBound returns the smallest key that is strictly greater than
// every key beginning with prefix, i.e. prefix incremented in its last
// non-0xff byte. It returns nil if prefix is all 0xff (unbounded above).
func prefixUpperBound(prefix []byte) []byte {
	out := append([]byte(nil), prefix...)
	for i := len(out) - 1; i >= 0; i-- {
		if out[i] != 0xff {
			out[i]++
			return out[:i+1]
		}
	}
	return nil
}

func (v *view) Iterator(start, stop []byte) (kv.Iterator, error) {
	defer observeKVLatency("iterate", time.Now())
	lower := v.full(start)
	var upper []byte
	if stop != nil {
		upper = v.full(stop)
	} else {
		upper = prefixUpperBound(v.prefix)
	}

	it, err := v.db.NewIter(&pebble.IterOptions{
		LowerBound: lower,
		UpperBound: upper,
	})
	if err != nil {
		return nil, err
	}
	return &iterator{it: it, prefixLen: len(v.prefix), started: false}, nil
}

// iterator adapts a pebble iterator to kv.Iterator's Next/io.EOF shape,
// stripping the view's prefix back off returned keys.
type iterator struct {
	it        *pebble.Iterator
	prefixLen int
	started   bool
}

var _ kv.Iterator = (*iterator)(nil)

func (it *iterator) Next() ([]byte, []byte, error) {
	var ok bool
	if !it.started {
		it.started = true
		ok = it.it.First()
	} else {
		ok = it.it.Next()
	}
	if !ok {
		if err := it.it.Error(); err != nil {
			return nil, nil, err
		}
		return nil, nil, io.EOF
	}
	key := append([]byte(nil), it.it.Key()[it.prefixLen:]...)
	val := append([]byte(nil), it.it.Value()...)
	return key, val, nil
}

func (it *iterator) Close() error {
	if it.it == nil {
		return nil
	}
	err := it.it.Close()
	it.it = nil
	return err
}
