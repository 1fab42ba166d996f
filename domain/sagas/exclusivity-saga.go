package sagas

import (
	"context"

	"github.com/google/uuid"
	eh "github.com/looplab/eventhorizon"
	"github.com/looplab/eventhorizon/eventhandler/saga"

	"github.com/datanova-ai/datanova-exchange/domain/commands"
	"github.com/datanova-ai/datanova-exchange/domain/events"
	"github.com/datanova-ai/datanova-exchange/pkg/logger"
)

// ContenderFinder lists the open agreements competing for an exclusivity key.
type ContenderFinder interface {
	Contenders(ctx context.Context, exclusivityKey string) ([]uuid.UUID, error)
}

const ExclusivitySagaType saga.Type = "ExclusivitySaga"

// ExclusivitySaga expires the competing agreements once one of them is
// granted exclusive access.
type ExclusivitySaga struct {
	Agreements ContenderFinder
}

func (s ExclusivitySaga) SagaType() saga.Type {
	return ExclusivitySagaType
}

func (s ExclusivitySaga) RunSaga(ctx context.Context, event eh.Event) []eh.Command {
	if event.EventType() != events.AgreementGranted {
		return nil
	}
	data, ok := events.AgreementOf(event)
	if !ok || data.ExclusivityKey == "" {
		return nil
	}
	log := logger.Component("saga").WithField("saga", ExclusivitySagaType).WithField("agreement", data.ID)

	contenders, err := s.Agreements.Contenders(ctx, data.ExclusivityKey)
	if err != nil {
		// the reconciler expires the losers on its next pass
		log.WithError(err).Warn("could not list contenders")
		return nil
	}
	var cmds []eh.Command
	for _, id := range contenders {
		if id == data.ID {
			continue
		}
		cmds = append(cmds, &commands.ExpireAgreement{
			ID:     id,
			Reason: "exclusive access granted to " + data.ID.String(),
		})
	}
	if len(cmds) > 0 {
		log.WithField("contenders", len(cmds)).Info("expiring contenders of exclusive grant")
	}
	return cmds
}
