package agreement

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/datanova-ai/datanova-exchange/domain"
	"github.com/datanova-ai/datanova-exchange/domain/events"
	"github.com/datanova-ai/datanova-exchange/ledger"
	"github.com/datanova-ai/datanova-exchange/metrics"
	"github.com/datanova-ai/datanova-exchange/pkg/logger"
	"github.com/datanova-ai/datanova-exchange/store"
)

// TimeNow is the state machine's clock.
var TimeNow = func() time.Time {
	return time.Now()
}

const (
	indexPair       = "pair"
	indexState      = "state"
	indexDataset    = "dataset"
	indexReconcile  = "reconcile"
	indexContenders = "contenders"
	indexHolders    = "holders"
)

type Config struct {
	PaymentWindow     time.Duration
	AccessDuration    time.Duration
	DefaultExclusive  bool
	ReconcileInterval time.Duration
	ReconcileWorkers  int
	ConflictRetries   int
}

func DefaultConfig() Config {
	return Config{
		PaymentWindow:     30 * time.Minute,
		ReconcileInterval: 10 * time.Second,
		ReconcileWorkers:  4,
		ConflictRetries:   5,
	}
}

// Datasets is the content registry as the state machine uses it.
type Datasets interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Dataset, error)
	Verify(ctx context.Context, id uuid.UUID) (bool, error)
}

// Ledger is the ledger client adapter as the state machine uses it.
type Ledger interface {
	Submit(ctx context.Context, intent ledger.Intent) (string, error)
	Confirm(ctx context.Context, signature string) (ledger.Confirmation, error)
}

// Accruals records the provider credit of a grant.
type Accruals interface {
	RecordGrant(ctx context.Context, a *domain.Agreement) (*domain.AccrualEntry, error)
}

// Machine is the agreement state machine. All agreement records are written
// through it, one optimistic read-modify-write per transition.
type Machine struct {
	cfg        Config
	agreements *store.Collection
	datasets   Datasets
	ledger     Ledger
	accruals   Accruals
	bus        events.Publisher

	pairLocks        *store.KeyLocker
	agreementLocks   *store.KeyLocker
	exclusivityLocks *store.KeyLocker
	log              *logrus.Entry
}

func pairKey(datasetID uuid.UUID, consumerID string) string {
	return datasetID.String() + "|" + consumerID
}

func needsReconcile(a *domain.Agreement) bool {
	switch a.State {
	case domain.PaymentPending:
		return true
	case domain.Proposed:
		return a.ExclusivityKey != ""
	case domain.Granted:
		return !a.Accrued
	}
	return false
}

func agreementIndexer(v interface{}) []store.IndexEntry {
	a := v.(*domain.Agreement)
	entries := []store.IndexEntry{
		{Index: indexPair, Key: pairKey(a.DatasetID, a.ConsumerID)},
		{Index: indexState, Key: string(a.State)},
		{Index: indexDataset, Key: a.DatasetID.String()},
	}
	if needsReconcile(a) {
		entries = append(entries, store.IndexEntry{Index: indexReconcile, Key: "pending"})
	}
	if a.ExclusivityKey != "" {
		if !a.State.Terminal() {
			entries = append(entries, store.IndexEntry{Index: indexContenders, Key: a.ExclusivityKey})
		}
		if a.State == domain.Granted {
			entries = append(entries, store.IndexEntry{Index: indexHolders, Key: a.ExclusivityKey})
		}
	}
	return entries
}

func New(cfg Config, s *store.Store, datasets Datasets, l Ledger, accruals Accruals, bus events.Publisher) *Machine {
	if cfg.ReconcileWorkers <= 0 {
		cfg.ReconcileWorkers = 1
	}
	if cfg.ConflictRetries < 0 {
		cfg.ConflictRetries = 0
	}
	return &Machine{
		cfg:              cfg,
		agreements:       s.Collection("agreements", agreementIndexer),
		datasets:         datasets,
		ledger:           l,
		accruals:         accruals,
		bus:              bus,
		pairLocks:        store.NewKeyLocker(),
		agreementLocks:   store.NewKeyLocker(),
		exclusivityLocks: store.NewKeyLocker(),
		log:              logger.Component("agreement"),
	}
}

// Propose records a consumer's intent to access a gated dataset.
func (m *Machine) Propose(ctx context.Context, datasetID uuid.UUID, consumerID string) (*domain.Agreement, error) {
	consumerID = strings.TrimSpace(consumerID)
	if datasetID == uuid.Nil {
		return nil, domain.Errorf(domain.ErrValidation, "dataset is required")
	}
	if consumerID == "" {
		return nil, domain.Errorf(domain.ErrValidation, "consumer is required")
	}
	ds, err := m.datasets.Get(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	if ds.Visibility != domain.Gated {
		return nil, domain.Errorf(domain.ErrDatasetUnavailable, "dataset %s is %s", datasetID, ds.Visibility)
	}
	if consumerID == ds.OwnerID {
		return nil, domain.Errorf(domain.ErrValidation, "%s owns dataset %s", consumerID, datasetID)
	}

	exclusivityKey := ""
	exclusive := m.cfg.DefaultExclusive
	if ds.Exclusive != nil {
		exclusive = *ds.Exclusive
	}
	if exclusive {
		exclusivityKey = ds.ID.String()
		holder, err := m.holder(ctx, exclusivityKey, consumerID)
		if err != nil {
			return nil, err
		}
		if holder != nil {
			return nil, domain.Errorf(domain.ErrDatasetUnavailable, "dataset %s is exclusively granted", datasetID)
		}
	}

	pair := pairKey(datasetID, consumerID)
	unlock := m.pairLocks.Lock(pair)
	defer unlock()

	existing, err := m.byIndex(ctx, indexPair, pair)
	if err != nil {
		return nil, err
	}
	for _, a := range existing {
		if !a.State.Terminal() {
			return nil, domain.Errorf(domain.ErrConflict, "agreement %s for %s on %s is %s", a.ID, consumerID, datasetID, a.State)
		}
	}

	now := TimeNow()
	a := &domain.Agreement{
		ID:             uuid.New(),
		DatasetID:      datasetID,
		ProviderID:     ds.OwnerID,
		ConsumerID:     consumerID,
		Price:          ds.Price,
		State:          domain.Proposed,
		ProposedAt:     now,
		ExclusivityKey: exclusivityKey,
		UpdatedAt:      now,
		Version:        1,
	}
	if err := m.agreements.Create(ctx, a.ID.String(), a); err != nil {
		return nil, err
	}
	metrics.Measures.AgreementTransitions.WithLabelValues(string(domain.Proposed)).Inc()
	m.log.WithField("agreement", a.ID).WithField("dataset", datasetID).Info("agreement proposed")
	m.publish(ctx, a)
	return a, nil
}

// InitiatePayment submits the settlement transaction of a proposed agreement
// and moves it to PAYMENT_PENDING. A ledger rejection rejects the agreement;
// when the ledger is unavailable the agreement stays PROPOSED.
func (m *Machine) InitiatePayment(ctx context.Context, id uuid.UUID) (string, error) {
	unlock := m.agreementLocks.Lock(id.String())
	defer unlock()

	a, err := m.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if a.State == domain.PaymentPending && a.TxRef != "" {
		return a.TxRef, nil
	}
	if a.State != domain.Proposed {
		return "", domain.Errorf(domain.ErrInvalidState, "agreement %s is %s", id, a.State)
	}
	ds, err := m.datasets.Get(ctx, a.DatasetID)
	if err != nil {
		return "", err
	}
	if ds.Visibility != domain.Gated {
		return "", domain.Errorf(domain.ErrDatasetUnavailable, "dataset %s is %s", a.DatasetID, ds.Visibility)
	}

	intent := ledger.Intent{
		AgreementID: a.ID,
		DatasetID:   a.DatasetID,
		From:        a.ConsumerID,
		To:          a.ProviderID,
		Amount:      a.Price,
	}
	if m.cfg.AccessDuration > 0 {
		intent.AccessDuration = m.cfg.AccessDuration.String()
	}
	txRef, err := m.ledger.Submit(ctx, intent)
	if errors.Is(err, domain.ErrSubmission) {
		if _, rerr := m.move(ctx, id, domain.Rejected, err.Error(), nil); rerr != nil {
			m.log.WithError(rerr).WithField("agreement", id).Error("could not reject agreement")
		}
		return "", err
	}
	if err != nil {
		return "", err
	}

	_, err = m.move(ctx, id, domain.PaymentPending, "payment submitted", func(a *domain.Agreement) {
		a.TxRef = txRef
		a.PaymentDeadline = TimeNow().Add(m.cfg.PaymentWindow)
	})
	if err != nil {
		return "", err
	}
	return txRef, nil
}

// Reconcile brings an agreement in line with the ledger. It is safe to call
// any number of times; the grant and its accrual happen at most once.
func (m *Machine) Reconcile(ctx context.Context, id uuid.UUID) (*domain.Agreement, error) {
	start := time.Now()
	defer func() {
		metrics.Measures.ReconcileSeconds.Observe(time.Since(start).Seconds())
	}()

	unlock := m.agreementLocks.Lock(id.String())
	defer unlock()

	a, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	log := m.log.WithField("agreement", id)

	switch a.State {
	case domain.Granted:
		if a.Accrued {
			return a, nil
		}
		return m.accrue(ctx, a)
	case domain.Proposed:
		if a.ExclusivityKey == "" {
			return a, nil
		}
		return m.expireIfHeld(ctx, a)
	case domain.PaymentPending:
	default:
		return a, nil
	}

	if a.ExclusivityKey != "" {
		expired, err := m.expireIfHeld(ctx, a)
		if err != nil || expired.State != a.State {
			return expired, err
		}
	}
	// Past the deadline the ledger gets one last look; only a confirmed
	// payment survives it.
	overdue := !TimeNow().Before(a.PaymentDeadline)
	expireOverdue := func() (*domain.Agreement, error) {
		log.Info("payment deadline passed")
		return m.move(ctx, id, domain.Expired, "payment deadline passed", nil)
	}

	c, err := m.ledger.Confirm(ctx, a.TxRef)
	if err != nil {
		if overdue {
			log.WithError(err).Warn("ledger unavailable past payment deadline")
			return expireOverdue()
		}
		return a, err
	}
	switch c.Status {
	case ledger.Pending:
		if overdue {
			return expireOverdue()
		}
		return a, nil
	case ledger.Failed:
		return m.move(ctx, id, domain.Expired, "payment failed: "+c.Reason, nil)
	}
	if c.Amount < a.Price || c.Recipient != a.ProviderID {
		log.WithFields(logrus.Fields{
			"amount":    c.Amount,
			"recipient": c.Recipient,
		}).Warn("confirmed payment does not match agreement")
		return m.move(ctx, id, domain.Expired, "payment does not match agreement terms", nil)
	}
	return m.grant(ctx, a)
}

func (m *Machine) grant(ctx context.Context, a *domain.Agreement) (*domain.Agreement, error) {
	if a.ExclusivityKey != "" {
		unlock := m.exclusivityLocks.Lock(a.ExclusivityKey)
		defer unlock()
		expired, err := m.expireIfHeld(ctx, a)
		if err != nil || expired.State != a.State {
			return expired, err
		}
	}

	ok, err := m.datasets.Verify(ctx, a.DatasetID)
	if err != nil {
		return a, err
	}
	if !ok {
		m.log.WithField("agreement", a.ID).WithField("dataset", a.DatasetID).Warn("grant held: dataset failed integrity check")
		return a, domain.Errorf(domain.ErrIntegrity, "dataset %s failed verification", a.DatasetID)
	}

	granted, err := m.move(ctx, a.ID, domain.Granted, "payment confirmed", func(a *domain.Agreement) {
		now := TimeNow()
		a.GrantedAt = now
		if m.cfg.AccessDuration > 0 {
			a.AccessExpiresAt = now.Add(m.cfg.AccessDuration)
		}
	})
	if err != nil {
		return nil, err
	}
	return m.accrue(ctx, granted)
}

// accrue makes sure the accrual entry of a granted agreement exists.
func (m *Machine) accrue(ctx context.Context, a *domain.Agreement) (*domain.Agreement, error) {
	_, err := m.accruals.RecordGrant(ctx, a)
	if err != nil && !errors.Is(err, domain.ErrDuplicateAccrual) {
		return a, err
	}
	return m.transition(ctx, a.ID, func(a *domain.Agreement) error {
		if a.Accrued {
			return errUnchanged
		}
		a.Accrued = true
		return nil
	})
}

// expireIfHeld expires a when another consumer holds its exclusivity key.
func (m *Machine) expireIfHeld(ctx context.Context, a *domain.Agreement) (*domain.Agreement, error) {
	holder, err := m.holder(ctx, a.ExclusivityKey, a.ConsumerID)
	if err != nil || holder == nil {
		return a, err
	}
	m.log.WithField("agreement", a.ID).WithField("holder", holder.ID).Info("exclusivity held by another agreement")
	return m.move(ctx, a.ID, domain.Expired, "exclusive access granted to "+holder.ID.String(), nil)
}

// holder returns the granted agreement with live access on an exclusivity
// key held by a consumer other than consumerID.
func (m *Machine) holder(ctx context.Context, key string, consumerID string) (*domain.Agreement, error) {
	holders, err := m.byIndex(ctx, indexHolders, key)
	if err != nil {
		return nil, err
	}
	now := TimeNow()
	for _, h := range holders {
		if h.ConsumerID != consumerID && h.State == domain.Granted && !h.AccessExpired(now) {
			return h, nil
		}
	}
	return nil, nil
}

// Reject closes a proposed agreement.
func (m *Machine) Reject(ctx context.Context, id uuid.UUID, reason string) (*domain.Agreement, error) {
	unlock := m.agreementLocks.Lock(id.String())
	defer unlock()
	return m.move(ctx, id, domain.Rejected, reason, nil)
}

// Revoke withdraws a granted agreement.
func (m *Machine) Revoke(ctx context.Context, id uuid.UUID, reason string) (*domain.Agreement, error) {
	unlock := m.agreementLocks.Lock(id.String())
	defer unlock()
	return m.move(ctx, id, domain.RevokedAgreement, reason, nil)
}

// Expire forces a non-terminal agreement into EXPIRED. Agreements that
// already ended are left as they are.
func (m *Machine) Expire(ctx context.Context, id uuid.UUID, reason string) (*domain.Agreement, error) {
	unlock := m.agreementLocks.Lock(id.String())
	defer unlock()
	a, err := m.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if a.State.Terminal() {
		if a.State == domain.Granted {
			return a, domain.Errorf(domain.ErrInvalidState, "agreement %s is %s", id, a.State)
		}
		return a, nil
	}
	return m.move(ctx, id, domain.Expired, reason, nil)
}

func (m *Machine) Get(ctx context.Context, id uuid.UUID) (*domain.Agreement, error) {
	a, _, err := m.load(ctx, id.String())
	return a, err
}

func (m *Machine) load(ctx context.Context, id string) (*domain.Agreement, uint64, error) {
	var a domain.Agreement
	version, err := m.agreements.Get(ctx, id, &a)
	if errors.Is(err, store.ErrNotFound) {
		return nil, 0, domain.Errorf(domain.ErrNotFound, "agreement %s", id)
	}
	if err != nil {
		return nil, 0, err
	}
	a.Version = version
	return &a, version, nil
}

// Latest returns the most recently proposed agreement of a consumer on a dataset.
func (m *Machine) Latest(ctx context.Context, datasetID uuid.UUID, consumerID string) (*domain.Agreement, error) {
	list, err := m.History(ctx, datasetID, consumerID)
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, domain.Errorf(domain.ErrNotFound, "no agreement for %s on %s", consumerID, datasetID)
	}
	return list[len(list)-1], nil
}

// History returns every agreement of a consumer on a dataset ordered by proposal time.
func (m *Machine) History(ctx context.Context, datasetID uuid.UUID, consumerID string) ([]*domain.Agreement, error) {
	return m.byIndex(ctx, indexPair, pairKey(datasetID, consumerID))
}

// ListByState returns the agreements in a state ordered by proposal time.
func (m *Machine) ListByState(ctx context.Context, state domain.AgreementState) ([]*domain.Agreement, error) {
	return m.byIndex(ctx, indexState, string(state))
}

// ListByDataset returns every agreement on a dataset ordered by proposal time.
func (m *Machine) ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]*domain.Agreement, error) {
	return m.byIndex(ctx, indexDataset, datasetID.String())
}

// Contenders returns the non-terminal agreements competing for an exclusivity key.
func (m *Machine) Contenders(ctx context.Context, exclusivityKey string) ([]uuid.UUID, error) {
	list, err := m.byIndex(ctx, indexContenders, exclusivityKey)
	if err != nil {
		return nil, err
	}
	ids := make([]uuid.UUID, 0, len(list))
	for _, a := range list {
		ids = append(ids, a.ID)
	}
	return ids, nil
}

func (m *Machine) byIndex(ctx context.Context, index, key string) ([]*domain.Agreement, error) {
	ids, err := m.agreements.Lookup(ctx, index, key)
	if err != nil {
		return nil, err
	}
	out := make([]*domain.Agreement, 0, len(ids))
	for _, id := range ids {
		a, _, err := m.load(ctx, id)
		if domain.KindOf(err) == domain.KindNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].ProposedAt.Before(out[j].ProposedAt)
	})
	return out, nil
}

func (m *Machine) publish(ctx context.Context, a *domain.Agreement) {
	eventType, ok := stateEvents[a.State]
	if !ok {
		return
	}
	events.Publish(ctx, m.bus, eventType, events.AgreementData{
		ID:             a.ID,
		DatasetID:      a.DatasetID,
		ProviderID:     a.ProviderID,
		ConsumerID:     a.ConsumerID,
		Price:          a.Price,
		TxRef:          a.TxRef,
		ExclusivityKey: a.ExclusivityKey,
		Reason:         a.Reason,
	}, domain.AgreementAggregateType, a.ID, int(a.Version))
}
