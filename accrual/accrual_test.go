package accrual

import (
	"context"
	"math/rand"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datanova-ai/datanova-exchange/domain"
	"github.com/datanova-ai/datanova-exchange/domain/events"
	"github.com/datanova-ai/datanova-exchange/store"
)

func granted(provider string, price uint64) *domain.Agreement {
	return &domain.Agreement{ID: uuid.New(), ProviderID: provider, ConsumerID: "consumer", Price: price, State: domain.Granted}
}

func TestEngine_RecordGrant(t *testing.T) {
	ctx := context.Background()
	rec := &events.Recorder{}
	e := New(store.NewMemory(), rec)
	a := granted("provider", 100)

	entry, err := e.RecordGrant(ctx, a)
	require.NoError(t, err)
	assert.Equal(t, domain.AccrualID(a.ID), entry.ID)
	assert.Equal(t, uint64(100), entry.Amount)
	assert.Len(t, rec.Of(events.AccrualRecorded), 1)

	t.Run("replay is a duplicate", func(t *testing.T) {
		_, err := e.RecordGrant(ctx, a)
		assert.ErrorIs(t, err, domain.ErrDuplicateAccrual)
		entries, _ := e.Entries(ctx, "provider")
		assert.Len(t, entries, 1)
	})

	cases := map[string]struct {
		agreement *domain.Agreement
		err       *domain.Error
	}{
		"nil":      {nil, domain.ErrValidation},
		"proposed": {&domain.Agreement{ID: uuid.New(), State: domain.Proposed}, domain.ErrInvalidState},
		"expired":  {&domain.Agreement{ID: uuid.New(), State: domain.Expired}, domain.ErrInvalidState},
		"revoked":  {&domain.Agreement{ID: uuid.New(), State: domain.RevokedAgreement}, domain.ErrInvalidState},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := e.RecordGrant(ctx, tc.agreement)
			assert.ErrorIs(t, err, tc.err)
		})
	}
}

func TestEngine_MarkPaidOut(t *testing.T) {
	ctx := context.Background()
	e := New(store.NewMemory(), nil)
	e1, _ := e.RecordGrant(ctx, granted("provider", 10))
	e2, _ := e.RecordGrant(ctx, granted("provider", 20))
	e3, _ := e.RecordGrant(ctx, granted("provider", 30))

	paid, err := e.MarkPaidOut(ctx, []uuid.UUID{e1.ID})
	require.NoError(t, err)
	require.Len(t, paid, 1)
	assert.True(t, paid[0].PaidOut)

	balance, _ := e.Balance(ctx, "provider")
	assert.Equal(t, uint64(50), balance)

	t.Run("already paid fails the batch", func(t *testing.T) {
		_, err := e.MarkPaidOut(ctx, []uuid.UUID{e2.ID, e1.ID})
		assert.ErrorIs(t, err, domain.ErrAlreadyPaid)

		got, _ := e.Get(ctx, e2.ID)
		assert.False(t, got.PaidOut)
	})

	t.Run("unknown entry fails the batch", func(t *testing.T) {
		_, err := e.MarkPaidOut(ctx, []uuid.UUID{e3.ID, uuid.New()})
		assert.ErrorIs(t, err, domain.ErrNotFound)

		got, _ := e.Get(ctx, e3.ID)
		assert.False(t, got.PaidOut)
	})

	t.Run("duplicate ids in one batch", func(t *testing.T) {
		paid, err := e.MarkPaidOut(ctx, []uuid.UUID{e2.ID, e2.ID})
		require.NoError(t, err)
		assert.Len(t, paid, 1)
	})
}

func TestEngine_BalanceIsSumOfUnpaid(t *testing.T) {
	ctx := context.Background()
	e := New(store.NewMemory(), nil)
	r := rand.New(rand.NewSource(7))
	providers := []string{"p1", "p2", "p3"}

	var all []*domain.AccrualEntry
	for step := 0; step < 200; step++ {
		if r.Intn(3) > 0 || len(all) == 0 {
			entry, err := e.RecordGrant(ctx, granted(providers[r.Intn(len(providers))], uint64(r.Intn(1000))))
			require.NoError(t, err)
			all = append(all, entry)
		} else {
			pick := all[r.Intn(len(all))]
			current, _ := e.Get(ctx, pick.ID)
			_, err := e.MarkPaidOut(ctx, []uuid.UUID{pick.ID})
			if current.PaidOut {
				assert.ErrorIs(t, err, domain.ErrAlreadyPaid)
			} else {
				assert.NoError(t, err)
			}
		}

		for _, p := range providers {
			var want uint64
			for _, entry := range all {
				stored, _ := e.Get(ctx, entry.ID)
				if stored.ProviderID == p && !stored.PaidOut {
					want += stored.Amount
				}
			}
			got, err := e.Balance(ctx, p)
			require.NoError(t, err)
			assert.Equal(t, want, got, "provider %s at step %d", p, step)
		}
	}
}
