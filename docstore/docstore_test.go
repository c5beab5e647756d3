package docstore

import (
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/deuspy/deuspy/kv"
	"github.com/deuspy/deuspy/tuple"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	return Open(newMemEngine())
}

func TestCreateReadRoundTrip(t *testing.T) {
	s := newTestStore(t)
	doc := Document{"type": "post", "author": "ada"}
	uid, err := s.Create(doc)
	require.NoError(t, err)

	got, err := s.Read(uid)
	require.NoError(t, err)
	require.Equal(t, doc, got)
}

func TestReadAbsentReturnsNilNotError(t *testing.T) {
	s := newTestStore(t)
	got, err := s.Read(12345)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestUpdatePreservesUID(t *testing.T) {
	s := newTestStore(t)
	uid, err := s.Create(Document{"a": float64(1)})
	require.NoError(t, err)

	require.NoError(t, s.Update(uid, Document{"a": float64(2), "b": "x"}))

	got, err := s.Read(uid)
	require.NoError(t, err)
	require.Equal(t, Document{"a": float64(2), "b": "x"}, got)
}

func TestUpdateOnUnknownUIDCreates(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Update(999, Document{"fresh": true}))

	got, err := s.Read(999)
	require.NoError(t, err)
	require.Equal(t, Document{"fresh": true}, got)
}

func TestDeleteReportsWhetherSomethingWasDeleted(t *testing.T) {
	s := newTestStore(t)
	uid, err := s.Create(Document{"x": "y"})
	require.NoError(t, err)

	deleted, err := s.Delete(uid)
	require.NoError(t, err)
	require.True(t, deleted)

	got, err := s.Read(uid)
	require.NoError(t, err)
	require.Nil(t, got)
}

// TestDeleteIdempotence is property P6: deleting twice succeeds and
// leaves no trace.
func TestDeleteIdempotence(t *testing.T) {
	s := newTestStore(t)
	uid, err := s.Create(Document{"x": "y"})
	require.NoError(t, err)

	deleted1, err := s.Delete(uid)
	require.NoError(t, err)
	require.True(t, deleted1)

	deleted2, err := s.Delete(uid)
	require.NoError(t, err)
	require.False(t, deleted2)
}

func TestDeleteNonExistentIsNoop(t *testing.T) {
	s := newTestStore(t)
	deleted, err := s.Delete(42)
	require.NoError(t, err)
	require.False(t, deleted)
}

// TestInvariantsAcrossInterleavedOperations exercises I1-I4: after a mix
// of create/update/delete, docs: and index: agree exactly, and the
// index: range for any (field, value) pair is contiguous by construction
// of the tuple codec (proven separately in the tuple package's order
// tests), so we only need to check set equality here.
func TestInvariantsAcrossInterleavedOperations(t *testing.T) {
	s := newTestStore(t)

	u1, err := s.Create(Document{"a": float64(1), "b": float64(2)})
	require.NoError(t, err)
	u2, err := s.Create(Document{"a": float64(1), "b": float64(3)})
	require.NoError(t, err)
	require.NoError(t, s.Update(u1, Document{"a": float64(1)}))
	deleted, err := s.Delete(u2)
	require.NoError(t, err)
	require.True(t, deleted)

	got, err := s.Read(u1)
	require.NoError(t, err)
	require.Equal(t, Document{"a": float64(1)}, got)

	got2, err := s.Read(u2)
	require.NoError(t, err)
	require.Nil(t, got2)

	uids, err := Collect(s.Query(nil))
	require.NoError(t, err)
	require.ElementsMatch(t, []int64{u1}, uids)

	it, err := s.index.Iterator(nil, nil)
	require.NoError(t, err)
	defer it.Close()
	var entries []tuple.Tuple
	for {
		key, _, err := it.Next()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		entry, err := tuple.Unpack(key)
		require.NoError(t, err)
		entries = append(entries, entry)
	}
	require.ElementsMatch(t, []tuple.Tuple{{"a", float64(1), u1}}, entries)
}

func TestEmptyDocumentQueriesToNothing(t *testing.T) {
	s := newTestStore(t)
	uid, err := s.Create(Document{"type": "post"})
	require.NoError(t, err)
	require.NoError(t, s.Update(uid, Document{}))

	uids, err := Collect(s.Query(Filter{{Name: "type", Value: "post"}}))
	require.NoError(t, err)
	require.Empty(t, uids)

	got, err := s.Read(uid)
	require.NoError(t, err)
	require.Equal(t, Document{}, got)
}

func TestCreateAllocatesDistinctUIDs(t *testing.T) {
	s := newTestStore(t)
	seen := map[int64]bool{}
	for i := 0; i < 50; i++ {
		uid, err := s.Create(Document{"i": float64(i)})
		require.NoError(t, err)
		require.False(t, seen[uid])
		seen[uid] = true
	}
}

// alwaysOccupiedView is a kv.View double whose Get always reports a value
// present, regardless of key, so every uid the allocator samples looks
// occupied.
type alwaysOccupiedView struct{}

func (alwaysOccupiedView) Get(key []byte) ([]byte, error)          { return []byte("{}"), nil }
func (alwaysOccupiedView) Put(key, value []byte) error             { return nil }
func (alwaysOccupiedView) Delete(key []byte) error                 { return nil }
func (alwaysOccupiedView) Iterator(start, stop []byte) (kv.Iterator, error) {
	return &memIterator{}, nil
}

// TestAllocatorExhaustionSurfacesError is property-adjacent coverage for
// ErrExhausted: against a docs: view that reports every sampled uid as
// already occupied, Create must exhaust its retry cap and surface the
// error rather than looping forever or succeeding incorrectly.
func TestAllocatorExhaustionSurfacesError(t *testing.T) {
	s := &Store{docs: alwaysOccupiedView{}, index: alwaysOccupiedView{}, maxAllocRetries: 5}

	_, err := s.Create(Document{"a": true})
	require.ErrorIs(t, err, ErrExhausted)
}

func TestQueryUnencodableFilterErrors(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Create(Document{"a": float64(1)})
	require.NoError(t, err)

	_, err = s.Query(Filter{{Name: "a", Value: []interface{}{"nested"}}})
	require.ErrorIs(t, err, ErrUnencodableFilter)
}

func TestCursorNextReturnsEOFWhenExhausted(t *testing.T) {
	s := newTestStore(t)
	c, err := s.Query(nil)
	require.NoError(t, err)
	_, err = c.Next()
	require.Equal(t, io.EOF, err)
}
