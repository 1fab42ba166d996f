package testkit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datanova-ai/datanova-exchange/cidutil"
	"github.com/datanova-ai/datanova-exchange/storage"
)

// NewCAS constructs a fresh, empty CAS instance for a test.
// The returned CAS must be isolated from other tests.
type NewCAS func(t *testing.T) storage.CAS

// RunCASConformance checks the contract every storage.CAS implementation shares.
func RunCASConformance(t *testing.T, newCAS NewCAS) {
	t.Helper()
	ctx := context.Background()

	t.Run("put get round trip", func(t *testing.T) {
		cas := newCAS(t)
		want := []byte("temperature,pressure\n21.5,1013\n")

		locator, err := cas.Put(ctx, want)
		require.NoError(t, err)
		wantLocator, err := cidutil.SumString(want, cidutil.SHA256)
		require.NoError(t, err)
		assert.Equal(t, wantLocator, locator)

		got, err := cas.Get(ctx, locator)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})

	t.Run("put is idempotent", func(t *testing.T) {
		cas := newCAS(t)
		b := []byte("same bytes")

		l1, err := cas.Put(ctx, b)
		require.NoError(t, err)
		l2, err := cas.Put(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, l1, l2)
	})

	t.Run("missing locator", func(t *testing.T) {
		cas := newCAS(t)
		locator, _ := cidutil.SumString([]byte("missing"), cidutil.SHA256)

		_, err := cas.Get(ctx, locator)
		assert.True(t, storage.IsNotFound(err), "got %v", err)
	})

	t.Run("empty content", func(t *testing.T) {
		cas := newCAS(t)
		_, err := cas.Put(ctx, nil)
		assert.ErrorIs(t, err, storage.ErrEmpty)
	})
}
