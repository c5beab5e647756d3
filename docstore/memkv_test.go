package docstore

import (
	"io"
	"sort"

	"github.com/deuspy/deuspy/kv"
)

// memEngine is a minimal in-memory kv.Engine used only by this package's
// tests, so the docstore logic can be exercised without pulling in a real
// embedded database.
type memEngine struct {
	data map[string][]byte
}

func newMemEngine() *memEngine {
	return &memEngine{data: make(map[string][]byte)}
}

func (e *memEngine) View(prefix []byte) kv.View {
	return &memView{engine: e, prefix: append([]byte(nil), prefix...)}
}

func (e *memEngine) Close() error { return nil }

type memView struct {
	engine *memEngine
	prefix []byte
}

func (v *memView) full(key []byte) string {
	return string(v.prefix) + string(key)
}

func (v *memView) Get(key []byte) ([]byte, error) {
	val, ok := v.engine.data[v.full(key)]
	if !ok {
		return nil, nil
	}
	return append([]byte(nil), val...), nil
}

func (v *memView) Put(key, value []byte) error {
	v.engine.data[v.full(key)] = append([]byte(nil), value...)
	return nil
}

func (v *memView) Delete(key []byte) error {
	delete(v.engine.data, v.full(key))
	return nil
}

func (v *memView) Iterator(start, stop []byte) (kv.Iterator, error) {
	lower := v.full(start)
	var keys []string
	for k := range v.engine.data {
		if len(k) < len(v.prefix) || k[:len(v.prefix)] != string(v.prefix) {
			continue
		}
		if k < lower {
			continue
		}
		if stop != nil && k >= v.full(stop) {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return &memIterator{view: v, keys: keys}, nil
}

type memIterator struct {
	view *memView
	keys []string
	pos  int
}

func (it *memIterator) Next() ([]byte, []byte, error) {
	if it.pos >= len(it.keys) {
		return nil, nil, io.EOF
	}
	k := it.keys[it.pos]
	it.pos++
	val := it.view.engine.data[k]
	key := []byte(k)[len(it.view.prefix):]
	return append([]byte(nil), key...), append([]byte(nil), val...), nil
}

func (it *memIterator) Close() error { return nil }

var _ kv.Engine = (*memEngine)(nil)
