package store

import (
	"os"

	"github.com/ipfs/go-datastore"
	ds_sync "github.com/ipfs/go-datastore/sync"
	badger "github.com/ipfs/go-ds-badger2"
	"golang.org/x/xerrors"
)

// NewMemory returns a store backed by a thread-safe map datastore.
func NewMemory() *Store {
	return New(ds_sync.MutexWrap(datastore.NewMapDatastore()))
}

// Open returns a badger backed store rooted at dir, or an in-memory store when dir is empty.
func Open(dir string) (*Store, error) {
	if dir == "" {
		return NewMemory(), nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, xerrors.Errorf("failed to create data directory %s: %w", dir, err)
	}
	bds, err := badger.NewDatastore(dir, nil)
	if err != nil {
		return nil, xerrors.Errorf("failed to open datastore in %s: %w", dir, err)
	}
	return New(bds), nil
}
