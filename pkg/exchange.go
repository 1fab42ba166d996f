/*
 *  DataNova exchange holds the settlement logic for dataset access
 *  Copyright (C) 2026 DataNova community
 *
 *  This program is free software: you can redistribute it and/or modify
 *  it under the terms of the GNU General Public License as published by
 *  the Free Software Foundation, either version 3 of the License, or
 *  (at your option) any later version.
 *
 *  This program is distributed in the hope that it will be useful,
 *  but WITHOUT ANY WARRANTY; without even the implied warranty of
 *  MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 *  GNU General Public License for more details.
 *
 *  You should have received a copy of the GNU General Public License
 *  along with this program.  If not, see <https://www.gnu.org/licenses/>.
 */

package pkg

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"
	eh "github.com/looplab/eventhorizon"
	"github.com/looplab/eventhorizon/commandhandler/bus"
	"github.com/looplab/eventhorizon/eventbus/local"
	"github.com/looplab/eventhorizon/eventhandler/saga"
	"golang.org/x/xerrors"

	"github.com/datanova-ai/datanova-exchange/accrual"
	"github.com/datanova-ai/datanova-exchange/agreement"
	"github.com/datanova-ai/datanova-exchange/analysis"
	"github.com/datanova-ai/datanova-exchange/domain"
	"github.com/datanova-ai/datanova-exchange/domain/commands"
	"github.com/datanova-ai/datanova-exchange/domain/events"
	"github.com/datanova-ai/datanova-exchange/domain/sagas"
	"github.com/datanova-ai/datanova-exchange/gate"
	"github.com/datanova-ai/datanova-exchange/ledger"
	"github.com/datanova-ai/datanova-exchange/ledger/devnet"
	"github.com/datanova-ai/datanova-exchange/ledger/rpc"
	"github.com/datanova-ai/datanova-exchange/pkg/logger"
	"github.com/datanova-ai/datanova-exchange/registry"
	"github.com/datanova-ai/datanova-exchange/storage"
	"github.com/datanova-ai/datanova-exchange/storage/localfs"
	"github.com/datanova-ai/datanova-exchange/storage/memory"
	"github.com/datanova-ai/datanova-exchange/store"
)

// ExchangeClient is what the request-serving layer may call into.
type ExchangeClient interface {
	RegisterDataset(ctx context.Context, ownerID string, content registry.Content, opts registry.Options) (*domain.Dataset, error)
	VerifyDataset(ctx context.Context, id uuid.UUID) (bool, error)
	LocateDataset(ctx context.Context, id uuid.UUID) (string, error)
	ProposeAgreement(ctx context.Context, datasetID uuid.UUID, consumerID string) (*domain.Agreement, error)
	InitiatePayment(ctx context.Context, agreementID uuid.UUID) (string, error)
	Authorize(ctx context.Context, datasetID uuid.UUID, consumerID string) (gate.Decision, error)
	Fetch(ctx context.Context, datasetID uuid.UUID, consumerID string) ([]byte, error)
	Analyze(ctx context.Context, datasetID uuid.UUID, consumerID string, kind analysis.Kind) (*analysis.Report, error)
	Balance(ctx context.Context, providerID string) (uint64, error)
}

// Exchange wires the settlement components together.
type Exchange struct {
	Config Config

	Store      *store.Store
	Blobs      storage.CAS
	Chain      ledger.Chain
	Ledger     *ledger.Adapter
	Registry   *registry.Registry
	Agreements *agreement.Machine
	Accruals   *accrual.Engine
	Gate       *gate.Gate

	EventBus   *local.EventBus
	CommandBus *bus.CommandHandler

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

var instance *Exchange
var oneExchange sync.Once

func ExchangeInstance() *Exchange {
	oneExchange.Do(func() {
		instance = &Exchange{Config: DefaultConfig()}
	})
	return instance
}

// Configure builds every component from the configuration. It does not
// start background work.
func (ex *Exchange) Configure() error {
	cfg := ex.Config
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := logger.Configure(cfg.Log.Level, cfg.Log.Format); err != nil {
		return domain.Errorf(domain.ErrConfiguration, "log.level: %v", err)
	}

	s, err := store.Open(cfg.Datadir)
	if err != nil {
		return domain.Errorf(domain.ErrConfiguration, "datadir: %v", err)
	}
	ex.Store = s

	if cfg.Storage.Dir == "" {
		ex.Blobs = memory.New()
	} else {
		blobs, err := localfs.New(cfg.Storage.Dir, cfg.Storage.Compress)
		if err != nil {
			return domain.Errorf(domain.ErrConfiguration, "storage.dir: %v", err)
		}
		ex.Blobs = blobs
	}

	switch cfg.Ledger.Mode {
	case LedgerRPC:
		ex.Chain = rpc.New(cfg.Ledger.Endpoint, cfg.Ledger.SubmitTimeout)
	default:
		chain := devnet.New()
		accounts, _ := cfg.devnetAccounts()
		for account, amount := range accounts {
			chain.Fund(account, amount)
		}
		ex.Chain = chain
	}
	if ex.Ledger, err = ledger.NewAdapter(cfg.ledgerConfig(), ex.Chain, s); err != nil {
		return err
	}

	ex.EventBus = local.NewEventBus(local.NewGroup())
	ex.CommandBus = bus.NewCommandHandler()
	ex.EventBus.AddObserver(eh.MatchAny(), &logger.EventLogger{})

	ex.Registry = registry.New(cfg.registryConfig(), s, ex.Blobs, ex.EventBus)
	ex.Accruals = accrual.New(s, ex.EventBus)
	ex.Agreements = agreement.New(cfg.agreementConfig(), s, ex.Registry, ex.Ledger, ex.Accruals, ex.EventBus)
	if ex.Gate, err = gate.New(cfg.gateConfig(), ex.Registry, ex.Agreements, ex.Blobs); err != nil {
		return err
	}

	handler := eh.UseCommandHandlerMiddleware(ex.Agreements, logger.EventLogger{}.CommandLogger)
	if err := ex.CommandBus.SetHandler(handler, commands.ExpireAgreementCmdType); err != nil {
		return xerrors.Errorf("registering command handler: %w", err)
	}
	exclusivity := saga.NewEventHandler(sagas.ExclusivitySaga{Agreements: ex.Agreements}, ex.CommandBus)
	ex.EventBus.AddHandler(eh.MatchEvent(events.AgreementGranted), exclusivity)
	withdrawn := saga.NewEventHandler(sagas.DatasetWithdrawnSaga{Agreements: ex.Agreements}, ex.CommandBus)
	ex.EventBus.AddHandler(eh.MatchAnyEventOf(events.DatasetQuarantined, events.DatasetRevoked), withdrawn)
	return nil
}

// Start runs the reconciler, the content audit and the event bus error log
// until Shutdown.
func (ex *Exchange) Start() error {
	if ex.Agreements == nil {
		return xerrors.New("exchange is not configured")
	}
	ctx, cancel := context.WithCancel(context.Background())
	ex.cancel = cancel
	ex.run(func() {
		agreement.Reconciler{Machine: ex.Agreements, Interval: ex.Config.Agreements.ReconcileInterval}.Run(ctx)
	})
	ex.run(func() {
		registry.Auditor{Registry: ex.Registry, Interval: ex.Config.Registry.AuditInterval}.Run(ctx)
	})
	ex.run(func() {
		log := logger.Component("eventbus")
		for {
			select {
			case <-ctx.Done():
				return
			case err := <-ex.EventBus.Errors():
				log.WithError(err.Err).WithField("event", err.Event).Error("event handler failed")
			}
		}
	})
	logger.Logger().Info("datanova exchange started")
	return nil
}

func (ex *Exchange) run(fn func()) {
	ex.wg.Add(1)
	go func() {
		defer ex.wg.Done()
		fn()
	}()
}

// Shutdown stops background work and closes the stores.
func (ex *Exchange) Shutdown() error {
	if ex.cancel != nil {
		ex.cancel()
	}
	ex.wg.Wait()
	if ex.EventBus != nil {
		ex.EventBus.Close()
	}
	if c, ok := ex.Blobs.(io.Closer); ok {
		if err := c.Close(); err != nil {
			return err
		}
	}
	if ex.Store != nil {
		return ex.Store.Close()
	}
	return nil
}

func (ex *Exchange) RegisterDataset(ctx context.Context, ownerID string, content registry.Content, opts registry.Options) (*domain.Dataset, error) {
	return ex.Registry.Register(ctx, ownerID, content, opts)
}

func (ex *Exchange) VerifyDataset(ctx context.Context, id uuid.UUID) (bool, error) {
	return ex.Registry.Verify(ctx, id)
}

func (ex *Exchange) LocateDataset(ctx context.Context, id uuid.UUID) (string, error) {
	return ex.Registry.Locate(ctx, id)
}

func (ex *Exchange) ProposeAgreement(ctx context.Context, datasetID uuid.UUID, consumerID string) (*domain.Agreement, error) {
	return ex.Agreements.Propose(ctx, datasetID, consumerID)
}

func (ex *Exchange) InitiatePayment(ctx context.Context, agreementID uuid.UUID) (string, error) {
	return ex.Agreements.InitiatePayment(ctx, agreementID)
}

func (ex *Exchange) Authorize(ctx context.Context, datasetID uuid.UUID, consumerID string) (gate.Decision, error) {
	return ex.Gate.Authorize(ctx, datasetID, consumerID)
}

func (ex *Exchange) Fetch(ctx context.Context, datasetID uuid.UUID, consumerID string) ([]byte, error) {
	return ex.Gate.Fetch(ctx, datasetID, consumerID)
}

func (ex *Exchange) Analyze(ctx context.Context, datasetID uuid.UUID, consumerID string, kind analysis.Kind) (*analysis.Report, error) {
	return ex.Gate.Analyze(ctx, datasetID, consumerID, kind)
}

func (ex *Exchange) Balance(ctx context.Context, providerID string) (uint64, error) {
	return ex.Accruals.Balance(ctx, providerID)
}

var _ ExchangeClient = (*Exchange)(nil)
