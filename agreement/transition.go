package agreement

import (
	"context"
	"errors"

	"github.com/google/uuid"
	eh "github.com/looplab/eventhorizon"

	"github.com/datanova-ai/datanova-exchange/domain"
	"github.com/datanova-ai/datanova-exchange/domain/events"
	"github.com/datanova-ai/datanova-exchange/metrics"
	"github.com/datanova-ai/datanova-exchange/store"
)

// allowed lists the states each state may move to.
var allowed = map[domain.AgreementState][]domain.AgreementState{
	domain.Proposed:       {domain.PaymentPending, domain.Rejected, domain.Expired},
	domain.PaymentPending: {domain.Granted, domain.Expired},
	domain.Granted:        {domain.RevokedAgreement},
}

var stateEvents = map[domain.AgreementState]eh.EventType{
	domain.Proposed:         events.AgreementProposed,
	domain.PaymentPending:   events.PaymentInitiated,
	domain.Granted:          events.AgreementGranted,
	domain.Expired:          events.AgreementExpired,
	domain.Rejected:         events.AgreementRejected,
	domain.RevokedAgreement: events.AgreementRevoked,
}

// CanTransition reports whether an agreement may move from one state to another.
func CanTransition(from, to domain.AgreementState) bool {
	for _, s := range allowed[from] {
		if s == to {
			return true
		}
	}
	return false
}

// errUnchanged tells transition that the stored record already is as wanted.
var errUnchanged = errors.New("unchanged")

// transition applies fn to the stored agreement and writes it back if the
// version did not move in between. Conflicting writers cause a reload and a
// new attempt, up to the configured number of retries.
func (m *Machine) transition(ctx context.Context, id uuid.UUID, fn func(a *domain.Agreement) error) (*domain.Agreement, error) {
	for attempt := 0; attempt <= m.cfg.ConflictRetries; attempt++ {
		a, version, err := m.load(ctx, id.String())
		if err != nil {
			return nil, err
		}
		if err := fn(a); err == errUnchanged {
			return a, nil
		} else if err != nil {
			return a, err
		}
		a.UpdatedAt = TimeNow()
		a.Version = version + 1
		newVersion, err := m.agreements.Update(ctx, id.String(), version, a)
		if errors.Is(err, store.ErrVersionConflict) {
			m.log.WithField("agreement", id).Debugf("version conflict on attempt %d", attempt+1)
			continue
		}
		if err != nil {
			return nil, err
		}
		a.Version = newVersion
		return a, nil
	}
	return nil, domain.Errorf(domain.ErrConflict, "agreement %s changed concurrently %d times", id, m.cfg.ConflictRetries+1)
}

// move transitions an agreement to state to, applying mutate on the way.
// Moving to the current state is a no-op.
func (m *Machine) move(ctx context.Context, id uuid.UUID, to domain.AgreementState, reason string, mutate func(a *domain.Agreement)) (*domain.Agreement, error) {
	var from domain.AgreementState
	a, err := m.transition(ctx, id, func(a *domain.Agreement) error {
		from = a.State
		if a.State == to {
			return errUnchanged
		}
		if !CanTransition(a.State, to) {
			return domain.Errorf(domain.ErrInvalidState, "agreement %s cannot move from %s to %s", id, a.State, to)
		}
		a.State = to
		a.Reason = reason
		if mutate != nil {
			mutate(a)
		}
		return nil
	})
	if err != nil || from == to {
		return a, err
	}
	metrics.Measures.AgreementTransitions.WithLabelValues(string(to)).Inc()
	m.log.WithField("agreement", id).WithField("from", from).WithField("to", to).Infof("agreement transition: %s", reason)
	m.publish(ctx, a)
	return a, nil
}
