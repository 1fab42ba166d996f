package sagas

import (
	"context"

	"github.com/google/uuid"
	eh "github.com/looplab/eventhorizon"
	"github.com/looplab/eventhorizon/eventhandler/saga"

	"github.com/datanova-ai/datanova-exchange/domain"
	"github.com/datanova-ai/datanova-exchange/domain/commands"
	"github.com/datanova-ai/datanova-exchange/domain/events"
	"github.com/datanova-ai/datanova-exchange/pkg/logger"
)

// DatasetAgreements lists the agreements made on a dataset.
type DatasetAgreements interface {
	ListByDataset(ctx context.Context, datasetID uuid.UUID) ([]*domain.Agreement, error)
}

const DatasetWithdrawnSagaType saga.Type = "DatasetWithdrawnSaga"

// DatasetWithdrawnSaga closes the unpaid proposals on a dataset that was
// quarantined or revoked. Agreements with a submitted payment are left to
// the reconciler.
type DatasetWithdrawnSaga struct {
	Agreements DatasetAgreements
}

func (s DatasetWithdrawnSaga) SagaType() saga.Type {
	return DatasetWithdrawnSagaType
}

func (s DatasetWithdrawnSaga) RunSaga(ctx context.Context, event eh.Event) []eh.Command {
	var reason string
	switch event.EventType() {
	case events.DatasetQuarantined:
		reason = "dataset quarantined"
	case events.DatasetRevoked:
		reason = "dataset revoked"
	default:
		return nil
	}

	list, err := s.Agreements.ListByDataset(ctx, event.AggregateID())
	if err != nil {
		logger.Component("saga").WithError(err).WithField("dataset", event.AggregateID()).Warn("could not list agreements")
		return nil
	}
	var cmds []eh.Command
	for _, a := range list {
		if a.State != domain.Proposed {
			continue
		}
		cmds = append(cmds, &commands.ExpireAgreement{ID: a.ID, Reason: reason})
	}
	return cmds
}
