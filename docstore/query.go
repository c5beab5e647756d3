package docstore

import (
	"io"
	"math"
	"strconv"
	"time"

	"github.com/deuspy/deuspy/kv"
	"github.com/deuspy/deuspy/metrics"
	"github.com/deuspy/deuspy/tuple"
)

// Predicate is one equality test: field name must equal Value.
type Predicate struct {
	Name  string
	Value interface{}
}

// Filter is an ordered conjunction of predicates. Order matters only in
// that the first predicate is chosen as the driver for the index range
// scan; callers that care about which field drives the scan should put
// it first.
type Filter []Predicate

// Cursor lazily yields uids matching a Filter (or, for an empty filter,
// every uid in the store) in ascending order. Call Next until it returns
// io.EOF, then Close.
type Cursor struct {
	docsIt kv.Iterator // set when the filter was empty
	rangeIt kv.Iterator // set when scanning a driver range
	probes  []Predicate
	index   kv.View
}

// Query plans and begins executing filter: an empty filter walks docs:
// directly; otherwise the first predicate's (name, value) pair selects
// an index: range, and the rest are verified per candidate by point
// lookup.
func (s *Store) Query(filter Filter) (*Cursor, error) {
	if len(filter) == 0 {
		it, err := s.docs.Iterator(nil, nil)
		if err != nil {
			return nil, &StorageError{Op: "query", Err: err}
		}
		return &Cursor{docsIt: it}, nil
	}

	driver := filter[0]
	driverEl, err := toElement(driver.Value)
	if err != nil {
		return nil, ErrUnencodableFilter
	}
	start, err := tuple.Pack(tuple.Tuple{driver.Name, driverEl, int64(0)})
	if err != nil {
		return nil, ErrUnencodableFilter
	}
	stop, err := tuple.Pack(tuple.Tuple{driver.Name, driverEl, int64(math.MaxInt64)})
	if err != nil {
		return nil, ErrUnencodableFilter
	}
	it, err := s.index.Iterator(start, stop)
	if err != nil {
		return nil, &StorageError{Op: "query", Err: err}
	}
	return &Cursor{rangeIt: it, probes: filter[1:], index: s.index}, nil
}

// Next returns the next matching uid, or io.EOF once exhausted. Each call
// that does real scan/probe work is timed and recorded against
// metrics.QueryLatencyHistogram, labeled by whether this cursor has any
// probe predicates beyond its driver.
func (c *Cursor) Next() (int64, error) {
	start := time.Now()
	hasProbes := strconv.FormatBool(len(c.probes) > 0)
	defer func() {
		metrics.QueryLatencyHistogram.WithLabelValues(hasProbes).Observe(time.Since(start).Seconds())
	}()

	if c.docsIt != nil {
		key, _, err := c.docsIt.Next()
		if err != nil {
			return 0, err
		}
		t, err := tuple.Unpack(key)
		if err != nil || len(t) != 1 {
			return 0, &StorageError{Op: "query", Err: tuple.ErrTruncated}
		}
		uid, ok := t[0].(int64)
		if !ok {
			return 0, &StorageError{Op: "query", Err: tuple.ErrUnsupportedType}
		}
		return uid, nil
	}

	for {
		key, _, err := c.rangeIt.Next()
		if err != nil {
			return 0, err
		}
		t, err := tuple.Unpack(key)
		if err != nil || len(t) != 3 {
			return 0, &StorageError{Op: "query", Err: tuple.ErrTruncated}
		}
		uid, ok := t[2].(int64)
		if !ok {
			return 0, &StorageError{Op: "query", Err: tuple.ErrUnsupportedType}
		}

		matched, err := c.probe(uid)
		if err != nil {
			return 0, err
		}
		if matched {
			return uid, nil
		}
	}
}

// probe verifies uid against every remaining predicate via a point
// lookup in index:, skipping the candidate on the first miss.
func (c *Cursor) probe(uid int64) (bool, error) {
	for _, p := range c.probes {
		el, err := toElement(p.Value)
		if err != nil {
			return false, ErrUnencodableFilter
		}
		key, err := tuple.Pack(tuple.Tuple{p.Name, el, uid})
		if err != nil {
			return false, ErrUnencodableFilter
		}
		val, err := c.index.Get(key)
		if err != nil {
			return false, &StorageError{Op: "query probe", Err: err}
		}
		if val == nil {
			return false, nil
		}
	}
	return true, nil
}

// Close releases the cursor's underlying iterator.
func (c *Cursor) Close() error {
	if c.docsIt != nil {
		return c.docsIt.Close()
	}
	if c.rangeIt != nil {
		return c.rangeIt.Close()
	}
	return nil
}

// Collect drains the cursor into a slice, closing it. Intended for
// callers (like the HTTP layer) that need the full result set rather
// than early termination.
func Collect(c *Cursor, err error) ([]int64, error) {
	if err != nil {
		return nil, err
	}
	defer c.Close()
	var out []int64
	for {
		uid, err := c.Next()
		if err == io.EOF {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, uid)
	}
}
