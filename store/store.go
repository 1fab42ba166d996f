package store

import (
	"context"
	"errors"
	"net/url"
	"strings"

	"github.com/fxamacker/cbor/v2"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	dsq "github.com/ipfs/go-datastore/query"
	"golang.org/x/xerrors"
)

var ErrNotFound = errors.New("record not found")
var ErrExists = errors.New("record already exists")
var ErrVersionConflict = errors.New("record version conflict")

// IndexEntry places a record under a secondary index key.
type IndexEntry struct {
	Index string
	Key   string
}

// Indexer derives the secondary index entries of a record value.
type Indexer func(v interface{}) []IndexEntry

type envelope struct {
	Version uint64
	Indexes []IndexEntry
	Data    cbor.RawMessage
}

// Store is a transactional record store on top of a batching datastore.
// Records carry a version; every write is a compare-and-swap on that version.
type Store struct {
	ds    datastore.Batching
	locks *KeyLocker
	enc   cbor.EncMode
}

func New(ds datastore.Batching) *Store {
	enc, err := cbor.EncOptions{Time: cbor.TimeRFC3339Nano}.EncMode()
	if err != nil {
		panic(err)
	}
	return &Store{ds: ds, locks: NewKeyLocker(), enc: enc}
}

// Collection returns the named record collection. Index entries are recomputed
// on every write with indexer, which may be nil.
func (s *Store) Collection(name string, indexer Indexer) *Collection {
	return &Collection{
		store:   s,
		name:    name,
		ds:      namespace.Wrap(s.ds, datastore.NewKey("/"+name)),
		indexer: indexer,
	}
}

// Close closes the underlying datastore.
func (s *Store) Close() error {
	return s.ds.Close()
}

type Collection struct {
	store   *Store
	name    string
	ds      datastore.Batching
	indexer Indexer
}

func recordKey(id string) datastore.Key {
	return datastore.NewKey("/r").ChildString(id)
}

func escape(s string) string {
	if s == "" {
		return "_"
	}
	return url.PathEscape(s)
}

func indexPrefix(index, key string) datastore.Key {
	return datastore.NewKey("/i").ChildString(escape(index)).ChildString(escape(key))
}

func indexKey(e IndexEntry, id string) datastore.Key {
	return indexPrefix(e.Index, e.Key).ChildString(id)
}

func (c *Collection) load(ctx context.Context, id string) (*envelope, error) {
	b, err := c.ds.Get(ctx, recordKey(id))
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, xerrors.Errorf("reading %s/%s: %w", c.name, id, err)
	}
	var env envelope
	if err := cbor.Unmarshal(b, &env); err != nil {
		return nil, xerrors.Errorf("decoding %s/%s: %w", c.name, id, err)
	}
	return &env, nil
}

// Get decodes the record into out and returns its version.
func (c *Collection) Get(ctx context.Context, id string, out interface{}) (uint64, error) {
	env, err := c.load(ctx, id)
	if err != nil {
		return 0, err
	}
	if err := cbor.Unmarshal(env.Data, out); err != nil {
		return 0, xerrors.Errorf("decoding %s/%s: %w", c.name, id, err)
	}
	return env.Version, nil
}

func (c *Collection) Has(ctx context.Context, id string) (bool, error) {
	return c.ds.Has(ctx, recordKey(id))
}

// Create stores v as version 1 of a new record.
func (c *Collection) Create(ctx context.Context, id string, v interface{}) error {
	unlock := c.store.locks.Lock(c.name + "/" + id)
	defer unlock()

	has, err := c.ds.Has(ctx, recordKey(id))
	if err != nil {
		return err
	}
	if has {
		return ErrExists
	}
	_, err = c.write(ctx, id, nil, 1, v)
	return err
}

// Update replaces the record if its stored version still equals expected,
// and returns the new version.
func (c *Collection) Update(ctx context.Context, id string, expected uint64, v interface{}) (uint64, error) {
	unlock := c.store.locks.Lock(c.name + "/" + id)
	defer unlock()

	cur, err := c.load(ctx, id)
	if err != nil {
		return 0, err
	}
	if cur.Version != expected {
		return 0, xerrors.Errorf("%s/%s at version %d, expected %d: %w", c.name, id, cur.Version, expected, ErrVersionConflict)
	}
	return c.write(ctx, id, cur, expected+1, v)
}

func (c *Collection) write(ctx context.Context, id string, prev *envelope, version uint64, v interface{}) (uint64, error) {
	data, err := c.store.enc.Marshal(v)
	if err != nil {
		return 0, xerrors.Errorf("encoding %s/%s: %w", c.name, id, err)
	}
	var indexes []IndexEntry
	if c.indexer != nil {
		indexes = c.indexer(v)
	}
	b, err := c.store.enc.Marshal(envelope{Version: version, Indexes: indexes, Data: data})
	if err != nil {
		return 0, xerrors.Errorf("encoding %s/%s: %w", c.name, id, err)
	}

	batch, err := c.ds.Batch(ctx)
	if err != nil {
		return 0, err
	}
	if prev != nil {
		for _, e := range prev.Indexes {
			if containsEntry(indexes, e) {
				continue
			}
			if err := batch.Delete(ctx, indexKey(e, id)); err != nil {
				return 0, err
			}
		}
	}
	for _, e := range indexes {
		if err := batch.Put(ctx, indexKey(e, id), []byte{}); err != nil {
			return 0, err
		}
	}
	if err := batch.Put(ctx, recordKey(id), b); err != nil {
		return 0, err
	}
	if err := batch.Commit(ctx); err != nil {
		return 0, xerrors.Errorf("committing %s/%s: %w", c.name, id, err)
	}
	return version, nil
}

func containsEntry(entries []IndexEntry, e IndexEntry) bool {
	for _, x := range entries {
		if x == e {
			return true
		}
	}
	return false
}

// Lookup returns the IDs of all records indexed under key, ordered by ID.
func (c *Collection) Lookup(ctx context.Context, index, key string) ([]string, error) {
	res, err := c.ds.Query(ctx, dsq.Query{
		Prefix:   indexPrefix(index, key).String(),
		KeysOnly: true,
		Orders:   []dsq.Order{dsq.OrderByKey{}},
	})
	if err != nil {
		return nil, err
	}
	defer res.Close()

	var out []string
	for {
		r, ok := res.NextSync()
		if !ok {
			break
		}
		if r.Error != nil {
			return nil, xerrors.Errorf("querying index %s/%s: %w", c.name, index, r.Error)
		}
		out = append(out, datastore.NewKey(r.Key).BaseNamespace())
	}
	return out, nil
}

// ForEach calls fn for every record in ID order until fn returns an error.
func (c *Collection) ForEach(ctx context.Context, fn func(id string, version uint64, decode func(out interface{}) error) error) error {
	res, err := c.ds.Query(ctx, dsq.Query{
		Prefix: "/r",
		Orders: []dsq.Order{dsq.OrderByKey{}},
	})
	if err != nil {
		return err
	}
	defer res.Close()

	for {
		r, ok := res.NextSync()
		if !ok {
			return nil
		}
		if r.Error != nil {
			return xerrors.Errorf("querying %s: %w", c.name, r.Error)
		}
		id := strings.TrimPrefix(r.Key, "/r/")
		var env envelope
		if err := cbor.Unmarshal(r.Value, &env); err != nil {
			return xerrors.Errorf("decoding %s/%s: %w", c.name, id, err)
		}
		decode := func(out interface{}) error {
			return cbor.Unmarshal(env.Data, out)
		}
		if err := fn(id, env.Version, decode); err != nil {
			return err
		}
	}
}
