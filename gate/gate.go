package gate

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/datanova-ai/datanova-exchange/analysis"
	"github.com/datanova-ai/datanova-exchange/cidutil"
	"github.com/datanova-ai/datanova-exchange/domain"
	"github.com/datanova-ai/datanova-exchange/metrics"
	"github.com/datanova-ai/datanova-exchange/pkg/logger"
	"github.com/datanova-ai/datanova-exchange/storage"
)

// TimeNow is the gate's clock.
var TimeNow = func() time.Time {
	return time.Now()
}

// Reason explains a denied access decision.
type Reason string

const NoAgreement = Reason("NO_AGREEMENT")
const PaymentIncomplete = Reason("PAYMENT_INCOMPLETE")
const Revoked = Reason("REVOKED")
const Expired = Reason("EXPIRED")
const DatasetQuarantined = Reason("DATASET_QUARANTINED")

// Decision is the outcome of an access check. Granted decisions carry a
// signed access token.
type Decision struct {
	Granted     bool
	Reason      Reason
	AgreementID uuid.UUID
	Token       string
	ExpiresAt   time.Time
}

type Config struct {
	SigningSecret []byte
	TokenTTL      time.Duration
	Analysis      analysis.Options
}

func DefaultConfig() Config {
	return Config{TokenTTL: 15 * time.Minute, Analysis: analysis.DefaultOptions()}
}

// Datasets is the content registry as the gate uses it.
type Datasets interface {
	Get(ctx context.Context, id uuid.UUID) (*domain.Dataset, error)
	Locate(ctx context.Context, id uuid.UUID) (string, error)
	Verify(ctx context.Context, id uuid.UUID) (bool, error)
}

// Agreements gives the agreement history of a consumer on a dataset.
type Agreements interface {
	History(ctx context.Context, datasetID uuid.UUID, consumerID string) ([]*domain.Agreement, error)
}

// Gate decides whether a consumer may read a dataset's content right now,
// and is the only read path to gated content.
type Gate struct {
	cfg        Config
	datasets   Datasets
	agreements Agreements
	blobs      storage.CAS
	analyzer   analysis.Analyzer
	log        *logrus.Entry
}

func New(cfg Config, datasets Datasets, agreements Agreements, blobs storage.CAS) (*Gate, error) {
	if len(cfg.SigningSecret) == 0 {
		return nil, domain.Errorf(domain.ErrConfiguration, "gate signing secret is required")
	}
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultConfig().TokenTTL
	}
	return &Gate{
		cfg:        cfg,
		datasets:   datasets,
		agreements: agreements,
		blobs:      blobs,
		analyzer:   analysis.New(blobs, cfg.Analysis),
		log:        logger.Component("gate"),
	}, nil
}

// Authorize checks the consumer's agreements on a dataset. It reads records
// only; content digests are not recomputed here.
func (g *Gate) Authorize(ctx context.Context, datasetID uuid.UUID, consumerID string) (Decision, error) {
	dec, _, err := g.authorize(ctx, datasetID, consumerID)
	return dec, err
}

func (g *Gate) authorize(ctx context.Context, datasetID uuid.UUID, consumerID string) (Decision, *domain.Dataset, error) {
	consumerID = strings.TrimSpace(consumerID)
	if datasetID == uuid.Nil || consumerID == "" {
		return Decision{}, nil, domain.Errorf(domain.ErrValidation, "dataset and consumer are required")
	}
	d, err := g.datasets.Get(ctx, datasetID)
	if err != nil {
		return Decision{}, nil, err
	}
	dec, err := g.decide(ctx, d, consumerID)
	if err != nil {
		return Decision{}, nil, err
	}
	if dec.Granted {
		if err := g.sign(&dec, d.ID, consumerID); err != nil {
			return Decision{}, nil, err
		}
		metrics.Measures.GateDecisions.WithLabelValues("granted").Inc()
	} else {
		metrics.Measures.GateDecisions.WithLabelValues(string(dec.Reason)).Inc()
	}
	g.log.WithFields(logrus.Fields{
		"dataset":  datasetID,
		"consumer": consumerID,
		"granted":  dec.Granted,
		"reason":   dec.Reason,
	}).Debug("access decision")
	return dec, d, nil
}

func (g *Gate) decide(ctx context.Context, d *domain.Dataset, consumerID string) (Decision, error) {
	switch d.Visibility {
	case domain.Quarantined:
		return denied(DatasetQuarantined), nil
	case domain.Revoked:
		return denied(Revoked), nil
	case domain.Public:
		return Decision{Granted: true}, nil
	}
	if consumerID == d.OwnerID {
		return Decision{Granted: true}, nil
	}

	history, err := g.agreements.History(ctx, d.ID, consumerID)
	if err != nil {
		return Decision{}, err
	}
	if len(history) == 0 {
		return denied(NoAgreement), nil
	}
	now := TimeNow()
	// a live grant wins over a later renewal that is still unpaid
	for i := len(history) - 1; i >= 0; i-- {
		a := history[i]
		if a.State == domain.Granted && !a.AccessExpired(now) {
			return Decision{Granted: true, AgreementID: a.ID, ExpiresAt: a.AccessExpiresAt}, nil
		}
	}

	latest := history[len(history)-1]
	dec := Decision{AgreementID: latest.ID}
	switch latest.State {
	case domain.Proposed:
		dec.Reason = PaymentIncomplete
	case domain.PaymentPending:
		dec.Reason = PaymentIncomplete
		if !now.Before(latest.PaymentDeadline) {
			dec.Reason = Expired
		}
	case domain.Granted, domain.Expired:
		dec.Reason = Expired
	case domain.RevokedAgreement:
		dec.Reason = Revoked
	default:
		dec.Reason = NoAgreement
	}
	return dec, nil
}

func denied(r Reason) Decision {
	return Decision{Reason: r}
}

// Fetch returns the content of a dataset to an authorized consumer. Content
// that no longer matches its digest is quarantined and not returned.
func (g *Gate) Fetch(ctx context.Context, datasetID uuid.UUID, consumerID string) ([]byte, error) {
	dec, d, err := g.authorize(ctx, datasetID, consumerID)
	if err != nil {
		return nil, err
	}
	if !dec.Granted {
		return nil, domain.Errorf(domain.ErrAccessDenied, "%s", dec.Reason)
	}
	locator, err := g.datasets.Locate(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	data, err := g.blobs.Get(ctx, locator)
	switch {
	case storage.IsTransient(err):
		return nil, domain.Errorf(domain.ErrUnavailable, "reading dataset %s: %v", datasetID, err)
	case storage.IsNotFound(err):
		g.quarantine(ctx, datasetID)
		return nil, domain.Errorf(domain.ErrIntegrity, "content of dataset %s is missing", datasetID)
	case err != nil:
		return nil, err
	}
	actual, err := cidutil.Recompute(d.Digest, data)
	if err != nil {
		return nil, domain.Errorf(domain.ErrDigestComputation, "%v", err)
	}
	if actual != d.Digest {
		g.quarantine(ctx, datasetID)
		return nil, domain.Errorf(domain.ErrIntegrity, "content of dataset %s does not match its digest", datasetID)
	}
	return data, nil
}

// Analyze runs an analysis over the content of a dataset the consumer may read.
func (g *Gate) Analyze(ctx context.Context, datasetID uuid.UUID, consumerID string, kind analysis.Kind) (*analysis.Report, error) {
	if !kind.Valid() {
		return nil, domain.Errorf(domain.ErrValidation, "unknown analysis kind %q", kind)
	}
	dec, err := g.Authorize(ctx, datasetID, consumerID)
	if err != nil {
		return nil, err
	}
	if !dec.Granted {
		return nil, domain.Errorf(domain.ErrAccessDenied, "%s", dec.Reason)
	}
	locator, err := g.datasets.Locate(ctx, datasetID)
	if err != nil {
		return nil, err
	}
	return g.analyzer.Analyze(ctx, locator, kind)
}

func (g *Gate) quarantine(ctx context.Context, datasetID uuid.UUID) {
	if _, err := g.datasets.Verify(ctx, datasetID); err != nil {
		g.log.WithError(err).WithField("dataset", datasetID).Error("could not verify tampered dataset")
	}
}
