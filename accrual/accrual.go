package accrual

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/datanova-ai/datanova-exchange/domain"
	"github.com/datanova-ai/datanova-exchange/domain/events"
	"github.com/datanova-ai/datanova-exchange/metrics"
	"github.com/datanova-ai/datanova-exchange/pkg/logger"
	"github.com/datanova-ai/datanova-exchange/store"
)

// TimeNow is the accrual engine's clock.
var TimeNow = func() time.Time {
	return time.Now()
}

const (
	indexProvider = "provider"
	indexUnpaid   = "unpaid"
)

func entryIndexer(v interface{}) []store.IndexEntry {
	e := v.(*domain.AccrualEntry)
	entries := []store.IndexEntry{{Index: indexProvider, Key: e.ProviderID}}
	if !e.PaidOut {
		entries = append(entries, store.IndexEntry{Index: indexUnpaid, Key: e.ProviderID})
	}
	return entries
}

// Engine keeps the payable credits of providers. Balances are always derived
// from the entries, never stored.
type Engine struct {
	entries *store.Collection
	bus     events.Publisher
	payout  sync.Mutex
	log     *logrus.Entry
}

func New(s *store.Store, bus events.Publisher) *Engine {
	return &Engine{
		entries: s.Collection("accruals", entryIndexer),
		bus:     bus,
		log:     logger.Component("accrual"),
	}
}

// RecordGrant creates the accrual entry of a granted agreement. A second call
// for the same agreement fails with ErrDuplicateAccrual.
func (e *Engine) RecordGrant(ctx context.Context, a *domain.Agreement) (*domain.AccrualEntry, error) {
	if a == nil {
		return nil, domain.Errorf(domain.ErrValidation, "agreement is required")
	}
	if a.State != domain.Granted {
		return nil, domain.Errorf(domain.ErrInvalidState, "agreement %s is %s, only granted agreements accrue", a.ID, a.State)
	}
	entry := &domain.AccrualEntry{
		ID:          domain.AccrualID(a.ID),
		ProviderID:  a.ProviderID,
		AgreementID: a.ID,
		Amount:      a.Price,
		AccruedAt:   TimeNow(),
		Version:     1,
	}
	err := e.entries.Create(ctx, entry.ID.String(), entry)
	if errors.Is(err, store.ErrExists) {
		return nil, domain.Errorf(domain.ErrDuplicateAccrual, "agreement %s", a.ID)
	}
	if err != nil {
		return nil, err
	}

	metrics.Measures.AccrualsRecorded.Inc()
	metrics.Measures.AccruedTokens.Add(float64(entry.Amount))
	e.log.WithFields(logrus.Fields{
		"agreement": a.ID,
		"provider":  a.ProviderID,
		"amount":    entry.Amount,
	}).Info("accrual recorded")
	events.Publish(ctx, e.bus, events.AccrualRecorded, events.AccrualData{
		ID:          entry.ID,
		ProviderID:  entry.ProviderID,
		AgreementID: entry.AgreementID,
		Amount:      entry.Amount,
	}, domain.AccrualAggregateType, entry.ID, 1)
	return entry, nil
}

// Balance is the sum of the unpaid entries of a provider.
func (e *Engine) Balance(ctx context.Context, providerID string) (uint64, error) {
	unpaid, err := e.byIndex(ctx, indexUnpaid, providerID)
	if err != nil {
		return 0, err
	}
	var total uint64
	for _, entry := range unpaid {
		total += entry.Amount
	}
	return total, nil
}

// Entries returns all entries of a provider in accrual order.
func (e *Engine) Entries(ctx context.Context, providerID string) ([]*domain.AccrualEntry, error) {
	return e.byIndex(ctx, indexProvider, providerID)
}

func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*domain.AccrualEntry, error) {
	entry, _, err := e.load(ctx, id.String())
	return entry, err
}

func (e *Engine) load(ctx context.Context, id string) (*domain.AccrualEntry, uint64, error) {
	var entry domain.AccrualEntry
	version, err := e.entries.Get(ctx, id, &entry)
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, domain.Errorf(domain.ErrNotFound, "accrual entry %s", id)
	}
	if err != nil {
		return nil, 0, err
	}
	entry.Version = version
	return &entry, version, nil
}

func (e *Engine) byIndex(ctx context.Context, index, key string) ([]*domain.AccrualEntry, error) {
	ids, err := e.entries.Lookup(ctx, index, key)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.AccrualEntry, 0, len(ids))
	for _, id := range ids {
		entry, _, err := e.load(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, entry)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].AccruedAt.Before(out[j].AccruedAt)
	})
	return out, nil
}

// MarkPaidOut settles a batch of entries. Every entry is checked before any is
// changed: one unknown or already paid entry fails the whole batch.
func (e *Engine) MarkPaidOut(ctx context.Context, ids []uuid.UUID) ([]*domain.AccrualEntry, error) {
	e.payout.Lock()
	defer e.payout.Unlock()

	seen := map[uuid.UUID]bool{}
	var batch []*domain.AccrualEntry
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		entry, _, err := e.load(ctx, id.String())
		if err != nil {
			return nil, err
		}
		if entry.PaidOut {
			return nil, domain.Errorf(domain.ErrAlreadyPaid, "accrual entry %s paid out at %s", id, entry.PaidOutAt.Format(time.RFC3339))
		}
		batch = append(batch, entry)
	}

	now := TimeNow()
	for _, entry := range batch {
		entry.PaidOut = true
		entry.PaidOutAt = now
		version, err := e.entries.Update(ctx, entry.ID.String(), entry.Version, entry)
		if err != nil {
			return nil, err
		}
		entry.Version = version
		events.Publish(ctx, e.bus, events.AccrualPaidOut, events.AccrualData{
			ID:          entry.ID,
			ProviderID:  entry.ProviderID,
			AgreementID: entry.AgreementID,
			Amount:      entry.Amount,
		}, domain.AccrualAggregateType, entry.ID, int(version))
	}
	e.log.WithField("entries", len(batch)).Info("accrual entries paid out")
	return batch, nil
}
