package agreement

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	eh "github.com/looplab/eventhorizon"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/datanova-ai/datanova-exchange/domain"
	"github.com/datanova-ai/datanova-exchange/domain/commands"
)

// ReconcileAll reconciles every agreement that may still change because of
// ledger state, exclusivity or a missing accrual, with a bounded number of
// parallel workers. It returns the number of agreements visited.
func (m *Machine) ReconcileAll(ctx context.Context) (int, error) {
	ids, err := m.agreements.Lookup(ctx, indexReconcile, "pending")
	if err != nil {
		return 0, err
	}

	var (
		mu   sync.Mutex
		errs *multierror.Error
		g    errgroup.Group
	)
	g.SetLimit(m.cfg.ReconcileWorkers)
	for _, key := range ids {
		id, err := uuid.Parse(key)
		if err != nil {
			continue
		}
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			if _, err := m.Reconcile(ctx, id); err != nil {
				mu.Lock()
				errs = multierror.Append(errs, xerrors.Errorf("agreement %s: %w", id, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return len(ids), errs.ErrorOrNil()
}

// Reconciler periodically reconciles open agreements until its context ends.
type Reconciler struct {
	Machine  *Machine
	Interval time.Duration
}

func (r Reconciler) Run(ctx context.Context) {
	interval := r.Interval
	if interval <= 0 {
		interval = r.Machine.cfg.ReconcileInterval
	}
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := r.Machine.ReconcileAll(ctx)
			if err != nil {
				r.Machine.log.WithError(err).WithField("visited", n).Warn("reconciliation pass finished with errors")
				continue
			}
			r.Machine.log.WithField("visited", n).Debug("reconciliation pass finished")
		}
	}
}

// HandleCommand makes the machine the command handler of agreement commands.
func (m *Machine) HandleCommand(ctx context.Context, cmd eh.Command) error {
	switch cmd := cmd.(type) {
	case *commands.ExpireAgreement:
		_, err := m.Expire(ctx, cmd.ID, cmd.Reason)
		return err
	}
	return domain.Errorf(domain.ErrValidation, "unsupported command %s", cmd.CommandType())
}
