package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datanova-ai/datanova-exchange/storage"
	"github.com/datanova-ai/datanova-exchange/storage/testkit"
)

func TestMemory_Conformance(t *testing.T) {
	testkit.RunCASConformance(t, func(t *testing.T) storage.CAS {
		return New()
	})
}

func TestMemory_Faults(t *testing.T) {
	ctx := context.Background()
	cas := New()
	locator, err := cas.Put(ctx, []byte("X"))
	require.NoError(t, err)

	t.Run("transient failure is consumed once", func(t *testing.T) {
		cas.FailNext(1)
		_, err := cas.Get(ctx, locator)
		assert.True(t, storage.IsTransient(err))

		_, err = cas.Get(ctx, locator)
		assert.NoError(t, err)
	})

	t.Run("corruption is returned as is", func(t *testing.T) {
		cas.Corrupt(locator, []byte("Y"))
		b, err := cas.Get(ctx, locator)
		require.NoError(t, err)
		assert.Equal(t, []byte("Y"), b)
	})

	t.Run("removed blob is not found", func(t *testing.T) {
		cas.Remove(locator)
		_, err := cas.Get(ctx, locator)
		assert.True(t, storage.IsNotFound(err))
	})
}
