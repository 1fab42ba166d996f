package memory

import (
	"context"
	"sync"

	"github.com/datanova-ai/datanova-exchange/cidutil"
	"github.com/datanova-ai/datanova-exchange/storage"
)

// CAS keeps blobs in memory. Corrupt, Remove and FailNext let tests simulate
// tampering, loss and outages of the storage network.
type CAS struct {
	mu       sync.Mutex
	blobs    map[string][]byte
	failures []error
}

func New() *CAS {
	return &CAS{blobs: map[string][]byte{}}
}

func (c *CAS) Put(ctx context.Context, data []byte) (string, error) {
	if len(data) == 0 {
		return "", storage.ErrEmpty
	}
	locator, err := cidutil.SumString(data, cidutil.SHA256)
	if err != nil {
		return "", err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.popFailure(); err != nil {
		return "", err
	}
	if _, ok := c.blobs[locator]; !ok {
		c.blobs[locator] = append([]byte(nil), data...)
	}
	return locator, nil
}

func (c *CAS) Get(ctx context.Context, locator string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.popFailure(); err != nil {
		return nil, err
	}
	b, ok := c.blobs[locator]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return append([]byte(nil), b...), nil
}

// Corrupt replaces the bytes stored under locator out of band.
func (c *CAS) Corrupt(locator string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blobs[locator] = append([]byte(nil), data...)
}

// Remove drops the blob stored under locator.
func (c *CAS) Remove(locator string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.blobs, locator)
}

// FailNext makes the next n operations fail with a transient error.
func (c *CAS) FailNext(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := 0; i < n; i++ {
		c.failures = append(c.failures, storage.ErrTransient)
	}
}

func (c *CAS) popFailure() error {
	if len(c.failures) == 0 {
		return nil
	}
	err := c.failures[0]
	c.failures = c.failures[1:]
	return err
}
