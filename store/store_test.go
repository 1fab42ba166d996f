package store

import (
	"context"
	"sync"
	"testing"
	"time"

	ds "github.com/ipfs/go-datastore"
	ds_sync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testRecord struct {
	Name  string
	Owner string
	State string
	At    time.Time
}

func testIndexer(v interface{}) []IndexEntry {
	r := v.(*testRecord)
	return []IndexEntry{{Index: "owner", Key: r.Owner}, {Index: "state", Key: r.State}}
}

func newTestCollection() *Collection {
	return New(ds_sync.MutexWrap(ds.NewMapDatastore())).Collection("records", testIndexer)
}

func TestCollection(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection()
	at := time.Date(2026, time.March, 3, 10, 4, 5, 123456789, time.UTC)

	rec := &testRecord{Name: "a", Owner: "alice", State: "open", At: at}
	require.NoError(t, c.Create(ctx, "1", rec))

	// Creating the same record again should error
	assert.Equal(t, ErrExists, c.Create(ctx, "1", rec))

	var got testRecord
	v, err := c.Get(ctx, "1", &got)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), v)
	assert.Equal(t, "a", got.Name)
	assert.True(t, at.Equal(got.At))

	_, err = c.Get(ctx, "missing", &got)
	assert.Equal(t, ErrNotFound, err)

	t.Run("update with current version", func(t *testing.T) {
		rec.State = "closed"
		v, err := c.Update(ctx, "1", 1, rec)
		require.NoError(t, err)
		assert.Equal(t, uint64(2), v)
	})

	t.Run("update with stale version", func(t *testing.T) {
		_, err := c.Update(ctx, "1", 1, rec)
		assert.ErrorIs(t, err, ErrVersionConflict)
	})

	t.Run("indexes follow updates", func(t *testing.T) {
		ids, err := c.Lookup(ctx, "state", "open")
		require.NoError(t, err)
		assert.Empty(t, ids)

		ids, err = c.Lookup(ctx, "state", "closed")
		require.NoError(t, err)
		assert.Equal(t, []string{"1"}, ids)

		ids, err = c.Lookup(ctx, "owner", "alice")
		require.NoError(t, err)
		assert.Equal(t, []string{"1"}, ids)
	})

	t.Run("for each visits all records", func(t *testing.T) {
		require.NoError(t, c.Create(ctx, "2", &testRecord{Name: "b", Owner: "bob/with/slashes", State: "open"}))
		var names []string
		err := c.ForEach(ctx, func(id string, version uint64, decode func(out interface{}) error) error {
			var r testRecord
			if err := decode(&r); err != nil {
				return err
			}
			names = append(names, r.Name)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"a", "b"}, names)

		ids, err := c.Lookup(ctx, "owner", "bob/with/slashes")
		require.NoError(t, err)
		assert.Equal(t, []string{"2"}, ids)
	})
}

func TestCollection_ConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	c := newTestCollection()
	require.NoError(t, c.Create(ctx, "1", &testRecord{Name: "a", State: "open"}))

	const writers = 16
	var wg sync.WaitGroup
	var mu sync.Mutex
	succeeded := 0
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Update(ctx, "1", 1, &testRecord{Name: "b", State: "closed"}); err == nil {
				mu.Lock()
				succeeded++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, succeeded)
}

func TestKeyLocker(t *testing.T) {
	l := NewKeyLocker()
	unlockA := l.Lock("a")
	// a different key does not block
	unlockB := l.Lock("b")
	unlockB()

	acquired := make(chan struct{})
	done := make(chan struct{})
	go func() {
		unlock := l.Lock("a")
		close(acquired)
		unlock()
		close(done)
	}()

	select {
	case <-acquired:
		t.Fatal("lock on held key acquired")
	case <-time.After(20 * time.Millisecond):
	}
	unlockA()
	<-acquired
	<-done

	l.mu.Lock()
	defer l.mu.Unlock()
	assert.Empty(t, l.locks)
}
