package agreement

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datanova-ai/datanova-exchange/accrual"
	"github.com/datanova-ai/datanova-exchange/domain"
	"github.com/datanova-ai/datanova-exchange/domain/commands"
	"github.com/datanova-ai/datanova-exchange/domain/events"
	"github.com/datanova-ai/datanova-exchange/ledger"
	"github.com/datanova-ai/datanova-exchange/ledger/devnet"
	"github.com/datanova-ai/datanova-exchange/registry"
	"github.com/datanova-ai/datanova-exchange/storage/memory"
	"github.com/datanova-ai/datanova-exchange/store"
)

const confirmations = 2

type fixture struct {
	machine  *Machine
	registry *registry.Registry
	blobs    *memory.CAS
	chain    *devnet.Ledger
	accruals *accrual.Engine
	events   *events.Recorder
}

func newFixture(t *testing.T, cfg Config) *fixture {
	s := store.NewMemory()
	rec := &events.Recorder{}
	blobs := memory.New()
	reg := registry.New(registry.DefaultConfig(), s, blobs, rec)

	chain := devnet.New()
	lcfg := ledger.DefaultConfig()
	lcfg.MinConfirmations = confirmations
	lcfg.RetryMin = time.Millisecond
	lcfg.RetryMax = time.Millisecond
	lcfg.RetryAttempts = 2
	adapter, err := ledger.NewAdapter(lcfg, chain, s)
	require.NoError(t, err)

	acc := accrual.New(s, rec)
	return &fixture{
		machine:  New(cfg, s, reg, adapter, acc, rec),
		registry: reg,
		blobs:    blobs,
		chain:    chain,
		accruals: acc,
		events:   rec,
	}
}

func (f *fixture) dataset(t *testing.T, content string, price uint64, exclusive *bool) *domain.Dataset {
	d, err := f.registry.Register(context.Background(), "provider", registry.Content{Bytes: []byte(content)}, registry.Options{
		Price:     price,
		Exclusive: exclusive,
	})
	require.NoError(t, err)
	return d
}

// paid proposes an agreement for consumer and submits its payment.
func (f *fixture) paid(t *testing.T, d *domain.Dataset, consumer string) *domain.Agreement {
	ctx := context.Background()
	f.chain.Fund(consumer, d.Price)
	a, err := f.machine.Propose(ctx, d.ID, consumer)
	require.NoError(t, err)
	_, err = f.machine.InitiatePayment(ctx, a.ID)
	require.NoError(t, err)
	a, err = f.machine.Get(ctx, a.ID)
	require.NoError(t, err)
	return a
}

func boolPtr(b bool) *bool { return &b }

func TestMachine_Settlement(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	d := f.dataset(t, "X", 100, nil)
	f.chain.Fund("consumer", 100)

	a, err := f.machine.Propose(ctx, d.ID, "consumer")
	require.NoError(t, err)
	assert.Equal(t, domain.Proposed, a.State)
	assert.Equal(t, "provider", a.ProviderID)
	assert.Equal(t, uint64(100), a.Price)
	assert.Empty(t, a.ExclusivityKey)

	txRef, err := f.machine.InitiatePayment(ctx, a.ID)
	require.NoError(t, err)
	a, _ = f.machine.Get(ctx, a.ID)
	assert.Equal(t, domain.PaymentPending, a.State)
	assert.Equal(t, txRef, a.TxRef)
	assert.False(t, a.PaymentDeadline.IsZero())

	t.Run("pending until the confirmation depth is reached", func(t *testing.T) {
		a, err := f.machine.Reconcile(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPending, a.State)
	})

	f.chain.Advance(confirmations)
	a, err = f.machine.Reconcile(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.Granted, a.State)
	assert.True(t, a.Accrued)

	entries, err := f.accruals.Entries(ctx, "provider")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, a.ID, entries[0].AgreementID)
	assert.Equal(t, uint64(100), entries[0].Amount)

	balance, _ := f.accruals.Balance(ctx, "provider")
	assert.Equal(t, uint64(100), balance)
}

func TestMachine_ReconcileIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	d := f.dataset(t, "X", 100, nil)
	a := f.paid(t, d, "consumer")
	f.chain.Advance(confirmations)

	t.Run("sequential replays", func(t *testing.T) {
		for i := 0; i < 5; i++ {
			got, err := f.machine.Reconcile(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.Granted, got.State)
		}
	})

	t.Run("concurrent replays", func(t *testing.T) {
		var wg sync.WaitGroup
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _ = f.machine.Reconcile(ctx, a.ID)
			}()
		}
		wg.Wait()
	})

	entries, _ := f.accruals.Entries(ctx, "provider")
	assert.Len(t, entries, 1)
	assert.Len(t, f.events.Of(events.AgreementGranted), 1)
	assert.Len(t, f.events.Of(events.AccrualRecorded), 1)
}

func TestMachine_Propose(t *testing.T) {
	ctx := context.Background()

	t.Run("conflicting open agreement", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		d := f.dataset(t, "X", 100, nil)
		_, err := f.machine.Propose(ctx, d.ID, "consumer")
		require.NoError(t, err)
		_, err = f.machine.Propose(ctx, d.ID, "consumer")
		assert.ErrorIs(t, err, domain.ErrConflict)

		// another consumer is fine
		_, err = f.machine.Propose(ctx, d.ID, "other")
		assert.NoError(t, err)
	})

	t.Run("concurrent proposals for one pair", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		d := f.dataset(t, "X", 100, nil)
		var (
			wg sync.WaitGroup
			mu sync.Mutex
			ok int
		)
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if _, err := f.machine.Propose(ctx, d.ID, "consumer"); err == nil {
					mu.Lock()
					ok++
					mu.Unlock()
				}
			}()
		}
		wg.Wait()
		assert.Equal(t, 1, ok)
	})

	t.Run("terminal agreement allows a new proposal", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		d := f.dataset(t, "X", 100, nil)
		a, _ := f.machine.Propose(ctx, d.ID, "consumer")
		_, err := f.machine.Reject(ctx, a.ID, "declined")
		require.NoError(t, err)
		b, err := f.machine.Propose(ctx, d.ID, "consumer")
		require.NoError(t, err)

		latest, err := f.machine.Latest(ctx, d.ID, "consumer")
		require.NoError(t, err)
		assert.Equal(t, b.ID, latest.ID)
	})

	t.Run("unavailable datasets", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		quarantined := f.dataset(t, "Q", 1, nil)
		f.blobs.Corrupt(quarantined.Locator, []byte("tampered"))
		_, _ = f.registry.Verify(ctx, quarantined.ID)

		revoked := f.dataset(t, "R", 1, nil)
		require.NoError(t, f.registry.Revoke(ctx, revoked.ID))

		public, err := f.registry.Register(ctx, "provider", registry.Content{Bytes: []byte("P")}, registry.Options{Visibility: domain.Public})
		require.NoError(t, err)

		for name, id := range map[string]uuid.UUID{"quarantined": quarantined.ID, "revoked": revoked.ID, "public": public.ID} {
			t.Run(name, func(t *testing.T) {
				_, err := f.machine.Propose(ctx, id, "consumer")
				assert.ErrorIs(t, err, domain.ErrDatasetUnavailable)
			})
		}
	})

	t.Run("malformed input", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		d := f.dataset(t, "X", 100, nil)
		cases := map[string]struct {
			dataset  uuid.UUID
			consumer string
			err      *domain.Error
		}{
			"nil dataset":       {uuid.Nil, "consumer", domain.ErrValidation},
			"empty consumer":    {d.ID, "  ", domain.ErrValidation},
			"consumer is owner": {d.ID, "provider", domain.ErrValidation},
			"unknown dataset":   {uuid.New(), "consumer", domain.ErrNotFound},
		}
		for name, tc := range cases {
			t.Run(name, func(t *testing.T) {
				_, err := f.machine.Propose(ctx, tc.dataset, tc.consumer)
				assert.ErrorIs(t, err, tc.err)
			})
		}
	})
}

func TestMachine_InitiatePayment(t *testing.T) {
	ctx := context.Background()

	t.Run("repeated call returns the same reference", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		d := f.dataset(t, "X", 100, nil)
		a := f.paid(t, d, "consumer")
		txRef, err := f.machine.InitiatePayment(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, a.TxRef, txRef)
		assert.Equal(t, 1, f.chain.Sends())
	})

	t.Run("ledger rejection rejects the agreement", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		d := f.dataset(t, "X", 100, nil)
		a, _ := f.machine.Propose(ctx, d.ID, "broke")
		_, err := f.machine.InitiatePayment(ctx, a.ID)
		assert.ErrorIs(t, err, domain.ErrSubmission)

		a, _ = f.machine.Get(ctx, a.ID)
		assert.Equal(t, domain.Rejected, a.State)
		assert.NotEmpty(t, a.Reason)
	})

	t.Run("unavailable ledger keeps the proposal", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		d := f.dataset(t, "X", 100, nil)
		f.chain.Fund("consumer", 100)
		a, _ := f.machine.Propose(ctx, d.ID, "consumer")
		f.chain.FailNext(10)
		_, err := f.machine.InitiatePayment(ctx, a.ID)
		assert.ErrorIs(t, err, domain.ErrUnavailable)

		a, _ = f.machine.Get(ctx, a.ID)
		assert.Equal(t, domain.Proposed, a.State)
	})

	t.Run("not proposed", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		d := f.dataset(t, "X", 100, nil)
		a, _ := f.machine.Propose(ctx, d.ID, "consumer")
		_, _ = f.machine.Reject(ctx, a.ID, "declined")
		_, err := f.machine.InitiatePayment(ctx, a.ID)
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})
}

func TestMachine_ReconcileFailures(t *testing.T) {
	ctx := context.Background()

	t.Run("failed transaction expires", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		a := f.paid(t, f.dataset(t, "X", 100, nil), "consumer")
		f.chain.Fail(a.TxRef, "instruction error")

		a, err := f.machine.Reconcile(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.Expired, a.State)
	})

	t.Run("underpayment expires", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		a := f.paid(t, f.dataset(t, "X", 100, nil), "consumer")
		f.chain.Rewrite(a.TxRef, 99, "provider")
		f.chain.Advance(confirmations)

		a, err := f.machine.Reconcile(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.Expired, a.State)
		entries, _ := f.accruals.Entries(ctx, "provider")
		assert.Empty(t, entries)
	})

	t.Run("wrong recipient expires", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		a := f.paid(t, f.dataset(t, "X", 100, nil), "consumer")
		f.chain.Rewrite(a.TxRef, 100, "someone else")
		f.chain.Advance(confirmations)

		a, err := f.machine.Reconcile(ctx, a.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.Expired, a.State)
	})

	t.Run("tampered content holds the grant", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		d := f.dataset(t, "X", 100, nil)
		a := f.paid(t, d, "consumer")
		f.chain.Advance(confirmations)
		f.blobs.Corrupt(d.Locator, []byte("Y"))

		got, err := f.machine.Reconcile(ctx, a.ID)
		assert.ErrorIs(t, err, domain.ErrIntegrity)
		assert.Equal(t, domain.PaymentPending, got.State)

		stored, _ := f.registry.Get(ctx, d.ID)
		assert.Equal(t, domain.Quarantined, stored.Visibility)
	})

	t.Run("unreachable ledger leaves the agreement pending", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		a := f.paid(t, f.dataset(t, "X", 100, nil), "consumer")
		f.chain.FailNext(10)

		got, err := f.machine.Reconcile(ctx, a.ID)
		assert.ErrorIs(t, err, domain.ErrUnavailable)
		assert.Equal(t, domain.PaymentPending, got.State)
	})
}

func TestMachine_Deadline(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)
	now := start
	TimeNow = func() time.Time { return now }
	defer func() { TimeNow = time.Now }()

	cfg := DefaultConfig()
	cfg.PaymentWindow = time.Hour

	tests := map[string]struct {
		ledger func(f *fixture)
		state  domain.AgreementState
		reason string
	}{
		"confirmed before the deadline, reconciled late": {
			ledger: func(f *fixture) { f.chain.Advance(confirmations) },
			state:  domain.Granted,
			reason: "payment confirmed",
		},
		"still pending": {
			ledger: func(f *fixture) {},
			state:  domain.Expired,
			reason: "payment deadline passed",
		},
		"ledger unreachable": {
			ledger: func(f *fixture) {
				f.chain.Advance(confirmations)
				f.chain.FailNext(10)
			},
			state:  domain.Expired,
			reason: "payment deadline passed",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			now = start
			f := newFixture(t, cfg)
			a := f.paid(t, f.dataset(t, "X "+name, 100, nil), "consumer")
			assert.True(t, now.Add(time.Hour).Equal(a.PaymentDeadline))

			now = now.Add(59 * time.Minute)
			a, err := f.machine.Reconcile(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.PaymentPending, a.State)

			tc.ledger(f)
			now = now.Add(2 * time.Minute)
			a, err = f.machine.Reconcile(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.state, a.State)
			assert.Equal(t, tc.reason, a.Reason)

			balance, err := f.accruals.Balance(ctx, a.ProviderID)
			require.NoError(t, err)
			if tc.state == domain.Granted {
				assert.Equal(t, uint64(100), balance)
			} else {
				assert.Zero(t, balance)
			}
		})
	}
}

func TestMachine_Exclusivity(t *testing.T) {
	ctx := context.Background()

	t.Run("first grant wins, loser expires on reconcile", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		d := f.dataset(t, "X", 100, boolPtr(true))
		a1 := f.paid(t, d, "c1")
		a2 := f.paid(t, d, "c2")
		assert.Equal(t, d.ID.String(), a1.ExclusivityKey)
		f.chain.Advance(confirmations)

		a1, err := f.machine.Reconcile(ctx, a1.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.Granted, a1.State)

		a2, err = f.machine.Reconcile(ctx, a2.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.Expired, a2.State)

		_, err = f.machine.Propose(ctx, d.ID, "c3")
		assert.ErrorIs(t, err, domain.ErrDatasetUnavailable)
	})

	t.Run("concurrent reconciliation grants once", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		d := f.dataset(t, "X", 100, boolPtr(true))
		var open []*domain.Agreement
		for _, c := range []string{"c1", "c2", "c3", "c4", "c5"} {
			open = append(open, f.paid(t, d, c))
		}
		f.chain.Advance(confirmations)

		var wg sync.WaitGroup
		for _, a := range open {
			for i := 0; i < 3; i++ {
				wg.Add(1)
				go func(id uuid.UUID) {
					defer wg.Done()
					_, _ = f.machine.Reconcile(ctx, id)
				}(a.ID)
			}
		}
		wg.Wait()

		granted, err := f.machine.ListByState(ctx, domain.Granted)
		require.NoError(t, err)
		assert.Len(t, granted, 1)
		expired, _ := f.machine.ListByState(ctx, domain.Expired)
		assert.Len(t, expired, 4)
	})

	t.Run("configured default", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.DefaultExclusive = true
		f := newFixture(t, cfg)
		exclusive := f.dataset(t, "X", 1, nil)
		shared := f.dataset(t, "Y", 1, boolPtr(false))

		a, _ := f.machine.Propose(ctx, exclusive.ID, "consumer")
		assert.Equal(t, exclusive.ID.String(), a.ExclusivityKey)
		b, _ := f.machine.Propose(ctx, shared.ID, "consumer")
		assert.Empty(t, b.ExclusivityKey)
	})

	t.Run("shared datasets grant everyone", func(t *testing.T) {
		f := newFixture(t, DefaultConfig())
		d := f.dataset(t, "X", 100, nil)
		a1 := f.paid(t, d, "c1")
		a2 := f.paid(t, d, "c2")
		f.chain.Advance(confirmations)

		n, err := f.machine.ReconcileAll(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, n)
		for _, id := range []uuid.UUID{a1.ID, a2.ID} {
			a, _ := f.machine.Get(ctx, id)
			assert.Equal(t, domain.Granted, a.State)
		}
		balance, _ := f.accruals.Balance(ctx, "provider")
		assert.Equal(t, uint64(200), balance)
	})

	t.Run("expired access releases exclusivity", func(t *testing.T) {
		now := time.Date(2026, time.May, 1, 12, 0, 0, 0, time.UTC)
		TimeNow = func() time.Time { return now }
		defer func() { TimeNow = time.Now }()

		cfg := DefaultConfig()
		cfg.AccessDuration = 24 * time.Hour
		f := newFixture(t, cfg)
		d := f.dataset(t, "X", 100, boolPtr(true))
		a := f.paid(t, d, "c1")
		f.chain.Advance(confirmations)
		a, err := f.machine.Reconcile(ctx, a.ID)
		require.NoError(t, err)
		assert.True(t, now.Add(24*time.Hour).Equal(a.AccessExpiresAt))

		_, err = f.machine.Propose(ctx, d.ID, "c2")
		assert.ErrorIs(t, err, domain.ErrDatasetUnavailable)

		now = now.Add(25 * time.Hour)
		_, err = f.machine.Propose(ctx, d.ID, "c2")
		assert.NoError(t, err)
	})

	t.Run("holder renews its exclusive access", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.AccessDuration = 24 * time.Hour
		f := newFixture(t, cfg)
		d := f.dataset(t, "X", 100, boolPtr(true))
		first := f.paid(t, d, "c1")
		f.chain.Advance(confirmations)
		first, err := f.machine.Reconcile(ctx, first.ID)
		require.NoError(t, err)
		require.Equal(t, domain.Granted, first.State)

		renewal := f.paid(t, d, "c1")
		renewal, err = f.machine.Reconcile(ctx, renewal.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PaymentPending, renewal.State)

		f.chain.Advance(confirmations)
		renewal, err = f.machine.Reconcile(ctx, renewal.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.Granted, renewal.State)

		_, err = f.machine.Propose(ctx, d.ID, "c2")
		assert.ErrorIs(t, err, domain.ErrDatasetUnavailable)

		balance, err := f.accruals.Balance(ctx, "provider")
		require.NoError(t, err)
		assert.Equal(t, uint64(200), balance)
	})
}

type flakyAccruals struct {
	Accruals
	failures int
}

func (f *flakyAccruals) RecordGrant(ctx context.Context, a *domain.Agreement) (*domain.AccrualEntry, error) {
	if f.failures > 0 {
		f.failures--
		return nil, errors.New("disk full")
	}
	return f.Accruals.RecordGrant(ctx, a)
}

func TestMachine_AccrualRecovery(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	flaky := &flakyAccruals{Accruals: f.accruals, failures: 1}
	f.machine.accruals = flaky

	a := f.paid(t, f.dataset(t, "X", 100, nil), "consumer")
	f.chain.Advance(confirmations)

	got, err := f.machine.Reconcile(ctx, a.ID)
	assert.Error(t, err)
	assert.Equal(t, domain.Granted, got.State)
	assert.False(t, got.Accrued)

	n, err := f.machine.ReconcileAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, _ = f.machine.Get(ctx, a.ID)
	assert.True(t, got.Accrued)
	balance, _ := f.accruals.Balance(ctx, "provider")
	assert.Equal(t, uint64(100), balance)

	n, _ = f.machine.ReconcileAll(ctx)
	assert.Equal(t, 0, n)
}

func TestMachine_AdministrativeTransitions(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, DefaultConfig())
	d := f.dataset(t, "X", 100, nil)

	t.Run("revoke a grant", func(t *testing.T) {
		a := f.paid(t, d, "c1")
		f.chain.Advance(confirmations)
		_, err := f.machine.Reconcile(ctx, a.ID)
		require.NoError(t, err)

		a, err = f.machine.Revoke(ctx, a.ID, "license breach")
		require.NoError(t, err)
		assert.Equal(t, domain.RevokedAgreement, a.State)
		assert.Len(t, f.events.Of(events.AgreementRevoked), 1)

		// a revoked agreement stays revoked
		_, err = f.machine.Expire(ctx, a.ID, "late")
		require.NoError(t, err)
		a, _ = f.machine.Get(ctx, a.ID)
		assert.Equal(t, domain.RevokedAgreement, a.State)
	})

	t.Run("revoke needs a grant", func(t *testing.T) {
		a, _ := f.machine.Propose(ctx, d.ID, "c2")
		_, err := f.machine.Revoke(ctx, a.ID, "nope")
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})

	t.Run("expire command", func(t *testing.T) {
		a, _ := f.machine.Propose(ctx, d.ID, "c3")
		err := f.machine.HandleCommand(ctx, &commands.ExpireAgreement{ID: a.ID, Reason: "exclusivity"})
		require.NoError(t, err)
		a, _ = f.machine.Get(ctx, a.ID)
		assert.Equal(t, domain.Expired, a.State)
		assert.Equal(t, "exclusivity", a.Reason)
	})

	t.Run("expire does not touch a grant", func(t *testing.T) {
		a := f.paid(t, d, "c4")
		f.chain.Advance(confirmations)
		_, _ = f.machine.Reconcile(ctx, a.ID)
		_, err := f.machine.Expire(ctx, a.ID, "exclusivity")
		assert.ErrorIs(t, err, domain.ErrInvalidState)
	})
}

func TestMachine_Transition(t *testing.T) {
	ctx := context.Background()

	t.Run("allowed transitions", func(t *testing.T) {
		cases := map[string]struct {
			from, to domain.AgreementState
			ok       bool
		}{
			"pay":               {domain.Proposed, domain.PaymentPending, true},
			"reject":            {domain.Proposed, domain.Rejected, true},
			"grant":             {domain.PaymentPending, domain.Granted, true},
			"expire pending":    {domain.PaymentPending, domain.Expired, true},
			"revoke":            {domain.Granted, domain.RevokedAgreement, true},
			"grant unpaid":      {domain.Proposed, domain.Granted, false},
			"reject pending":    {domain.PaymentPending, domain.Rejected, false},
			"revive expired":    {domain.Expired, domain.PaymentPending, false},
			"expire grant":      {domain.Granted, domain.Expired, false},
			"reinstate revoked": {domain.RevokedAgreement, domain.Granted, false},
		}
		for name, tc := range cases {
			t.Run(name, func(t *testing.T) {
				assert.Equal(t, tc.ok, CanTransition(tc.from, tc.to))
			})
		}
	})

	for name, retries := range map[string]int{"conflict exhausts retries": 0, "conflict is retried": 1} {
		t.Run(name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.ConflictRetries = retries
			f := newFixture(t, cfg)
			a, _ := f.machine.Propose(ctx, f.dataset(t, "X", 1, nil).ID, "consumer")

			interfered := false
			_, err := f.machine.transition(ctx, a.ID, func(cur *domain.Agreement) error {
				if !interfered {
					interfered = true
					other := *cur
					other.Reason = "concurrent writer"
					_, err := f.machine.agreements.Update(ctx, cur.ID.String(), cur.Version, &other)
					require.NoError(t, err)
				}
				cur.Reason = "mine"
				return nil
			})
			if retries == 0 {
				assert.ErrorIs(t, err, domain.ErrConflict)
				return
			}
			require.NoError(t, err)
			got, _ := f.machine.Get(ctx, a.ID)
			assert.Equal(t, "mine", got.Reason)
			assert.Equal(t, uint64(3), got.Version)
		})
	}
}
