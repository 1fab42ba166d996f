package registry

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"

	"github.com/datanova-ai/datanova-exchange/domain"
)

// AuditReport summarizes one integrity sweep.
type AuditReport struct {
	Checked     int
	Quarantined []uuid.UUID
}

// Audit verifies every visible dataset with a bounded number of workers.
// Errors of individual datasets are collected; the sweep always covers all datasets.
func (r *Registry) Audit(ctx context.Context) (AuditReport, error) {
	var ids []uuid.UUID
	err := r.datasets.ForEach(ctx, func(id string, version uint64, decode func(out interface{}) error) error {
		var d domain.Dataset
		if err := decode(&d); err != nil {
			return err
		}
		if !d.Visibility.Hidden() {
			ids = append(ids, d.ID)
		}
		return nil
	})
	if err != nil {
		return AuditReport{}, err
	}

	var (
		mu     sync.Mutex
		report AuditReport
		errs   *multierror.Error
		g      errgroup.Group
	)
	g.SetLimit(r.cfg.AuditWorkers)
	for _, id := range ids {
		id := id
		g.Go(func() error {
			ok, err := r.Verify(ctx, id)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = multierror.Append(errs, xerrors.Errorf("dataset %s: %w", id, err))
				return nil
			}
			report.Checked++
			if !ok {
				report.Quarantined = append(report.Quarantined, id)
			}
			return nil
		})
	}
	_ = g.Wait()
	return report, errs.ErrorOrNil()
}

// Auditor runs the integrity sweep periodically until its context ends.
type Auditor struct {
	Registry *Registry
	Interval time.Duration
}

func (a Auditor) Run(ctx context.Context) {
	interval := a.Interval
	if interval <= 0 {
		interval = a.Registry.cfg.AuditInterval
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
			report, err := a.Registry.Audit(ctx)
			log := a.Registry.log.WithField("checked", report.Checked).WithField("quarantined", len(report.Quarantined))
			if err != nil {
				log.WithError(err).Warn("audit sweep finished with errors")
				continue
			}
			log.Info("audit sweep finished")
		}
	}
}
