package ledger

import (
	"context"
	"errors"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/jpillora/backoff"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"
	"golang.org/x/xerrors"

	"github.com/datanova-ai/datanova-exchange/domain"
	"github.com/datanova-ai/datanova-exchange/metrics"
	"github.com/datanova-ai/datanova-exchange/pkg/logger"
	"github.com/datanova-ai/datanova-exchange/store"
)

// TimeNow is the adapter's clock.
var TimeNow = func() time.Time {
	return time.Now()
}

type Config struct {
	MinConfirmations uint64
	SubmitTimeout    time.Duration
	ConfirmTimeout   time.Duration
	RetryMin         time.Duration
	RetryMax         time.Duration
	RetryAttempts    int
	EscrowCheck      bool
	CacheSize        int
}

func DefaultConfig() Config {
	return Config{
		MinConfirmations: 32,
		SubmitTimeout:    10 * time.Second,
		ConfirmTimeout:   5 * time.Second,
		RetryMin:         100 * time.Millisecond,
		RetryMax:         2 * time.Second,
		RetryAttempts:    5,
		EscrowCheck:      true,
		CacheSize:        1024,
	}
}

// submission is the persisted outcome of submitting an intent.
type submission struct {
	IntentKey   string
	Signature   string
	SubmittedAt time.Time
}

// Adapter submits settlement transactions and reports their finality.
type Adapter struct {
	cfg         Config
	chain       Chain
	submissions *store.Collection
	records     *store.Collection
	final       *lru.Cache[string, domain.LedgerTransactionRecord]
	inflight    singleflight.Group
	log         *logrus.Entry
}

func NewAdapter(cfg Config, chain Chain, s *store.Store) (*Adapter, error) {
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = 1
	}
	if cfg.CacheSize <= 0 {
		cfg.CacheSize = 1024
	}
	cache, err := lru.New[string, domain.LedgerTransactionRecord](cfg.CacheSize)
	if err != nil {
		return nil, err
	}
	return &Adapter{
		cfg:         cfg,
		chain:       chain,
		submissions: s.Collection("ledger-submissions", nil),
		records:     s.Collection("ledger-transactions", nil),
		final:       cache,
		log:         logger.Component("ledger"),
	}, nil
}

// Submit puts the intent on the ledger and returns the transaction signature.
// Submitting an intent again returns the original signature.
func (a *Adapter) Submit(ctx context.Context, intent Intent) (string, error) {
	if intent.From == "" || intent.To == "" {
		return "", domain.Errorf(domain.ErrValidation, "intent %s needs a sender and a recipient", intent.Key())
	}
	key := intent.Key()
	sig, err, _ := a.inflight.Do(key, func() (interface{}, error) {
		return a.submit(ctx, key, intent)
	})
	if err != nil {
		return "", err
	}
	return sig.(string), nil
}

func (a *Adapter) submit(ctx context.Context, key string, intent Intent) (string, error) {
	var existing submission
	_, err := a.submissions.Get(ctx, key, &existing)
	if err == nil {
		return existing.Signature, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return "", err
	}

	if a.cfg.SubmitTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.SubmitTimeout)
		defer cancel()
	}
	log := a.log.WithField("intent", key)

	if a.cfg.EscrowCheck {
		var balance uint64
		err := a.retry(ctx, "balance", func(ctx context.Context) error {
			var err error
			balance, err = a.chain.Balance(ctx, intent.From)
			return err
		})
		if err != nil {
			return "", a.submitFailed(err)
		}
		if balance < intent.Amount {
			metrics.Measures.LedgerSubmissions.WithLabelValues("rejected").Inc()
			return "", domain.Errorf(domain.ErrSubmission, "balance of %s is %d, need %d", intent.From, balance, intent.Amount)
		}
	}

	memo, err := Memo(intent)
	if err != nil {
		return "", xerrors.Errorf("rendering memo for %s: %w", key, err)
	}
	transfer := Transfer{
		From:      intent.From,
		To:        intent.To,
		Amount:    intent.Amount,
		Memo:      memo,
		Reference: key,
	}

	var sig string
	err = a.retry(ctx, "send", func(ctx context.Context) error {
		var err error
		sig, err = a.chain.Send(ctx, transfer)
		return err
	})
	if err != nil {
		return "", a.submitFailed(err)
	}

	err = a.submissions.Create(ctx, key, &submission{IntentKey: key, Signature: sig, SubmittedAt: TimeNow()})
	if errors.Is(err, store.ErrExists) {
		if _, err := a.submissions.Get(ctx, key, &existing); err == nil {
			return existing.Signature, nil
		}
	}
	if err != nil {
		return "", err
	}
	metrics.Measures.LedgerSubmissions.WithLabelValues("submitted").Inc()
	log.WithField("signature", sig).Info("settlement transaction submitted")
	return sig, nil
}

func (a *Adapter) submitFailed(err error) error {
	if errors.Is(err, ErrRejected) {
		metrics.Measures.LedgerSubmissions.WithLabelValues("rejected").Inc()
		return domain.Errorf(domain.ErrSubmission, "%v", err)
	}
	metrics.Measures.LedgerSubmissions.WithLabelValues("unavailable").Inc()
	return domain.Errorf(domain.ErrUnavailable, "ledger: %v", err)
}

// Confirm polls the ledger for a submitted transaction. CONFIRMED is only
// reported once the configured confirmation depth is reached.
func (a *Adapter) Confirm(ctx context.Context, signature string) (Confirmation, error) {
	if record, ok := a.final.Get(signature); ok {
		return confirmationOf(record), nil
	}
	var record domain.LedgerTransactionRecord
	if _, err := a.records.Get(ctx, signature, &record); err == nil {
		a.final.Add(signature, record)
		return confirmationOf(record), nil
	} else if !errors.Is(err, store.ErrNotFound) {
		return Confirmation{}, err
	}

	if a.cfg.ConfirmTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.ConfirmTimeout)
		defer cancel()
	}
	var status TxStatus
	err := a.retry(ctx, "status", func(ctx context.Context) error {
		var err error
		status, err = a.chain.Status(ctx, signature)
		return err
	})
	if err != nil {
		return Confirmation{}, domain.Errorf(domain.ErrUnavailable, "ledger: %v", err)
	}

	record = domain.LedgerTransactionRecord{
		Signature:     signature,
		Amount:        status.Amount,
		Sender:        status.Sender,
		Recipient:     status.Recipient,
		Confirmations: status.Confirmations,
		Failed:        status.Failed,
		FailReason:    status.Err,
		ObservedAt:    TimeNow(),
	}
	switch {
	case !status.Found:
		metrics.Measures.LedgerConfirmations.WithLabelValues(string(Pending)).Inc()
		return Confirmation{Status: Pending, Signature: signature}, nil
	case status.Failed:
		record.Final = true
	case status.Confirmations >= a.cfg.MinConfirmations:
		record.Final = true
	default:
		metrics.Measures.LedgerConfirmations.WithLabelValues(string(Pending)).Inc()
		return confirmationOf(record), nil
	}

	if err := a.records.Create(ctx, signature, &record); err != nil && !errors.Is(err, store.ErrExists) {
		return Confirmation{}, err
	}
	a.final.Add(signature, record)
	c := confirmationOf(record)
	metrics.Measures.LedgerConfirmations.WithLabelValues(string(c.Status)).Inc()
	return c, nil
}

func confirmationOf(r domain.LedgerTransactionRecord) Confirmation {
	c := Confirmation{
		Status:        Pending,
		Signature:     r.Signature,
		Amount:        r.Amount,
		Sender:        r.Sender,
		Recipient:     r.Recipient,
		Confirmations: r.Confirmations,
		Reason:        r.FailReason,
	}
	switch {
	case r.Final && r.Failed:
		c.Status = Failed
	case r.Final:
		c.Status = Confirmed
	}
	return c
}

// Balance returns the ledger balance of an account.
func (a *Adapter) Balance(ctx context.Context, account string) (uint64, error) {
	var balance uint64
	err := a.retry(ctx, "balance", func(ctx context.Context) error {
		var err error
		balance, err = a.chain.Balance(ctx, account)
		return err
	})
	if err != nil {
		return 0, domain.Errorf(domain.ErrUnavailable, "ledger: %v", err)
	}
	return balance, nil
}

// retry runs fn until it succeeds, the ledger rejects the call, the attempts
// run out or ctx ends.
func (a *Adapter) retry(ctx context.Context, op string, fn func(ctx context.Context) error) error {
	b := &backoff.Backoff{
		Min:    a.cfg.RetryMin,
		Max:    a.cfg.RetryMax,
		Factor: 2,
		Jitter: true,
	}
	for {
		err := fn(ctx)
		if err == nil || errors.Is(err, ErrRejected) {
			return err
		}

		// b.Attempt() starts from zero
		nAttempts := int(b.Attempt()) + 1
		if nAttempts >= a.cfg.RetryAttempts {
			return xerrors.Errorf("exhausted %d attempts of %s: %w", a.cfg.RetryAttempts, op, err)
		}
		duration := b.Duration()
		a.log.WithError(err).Debugf("%s failed on attempt %d of %d, waiting %s", op, nAttempts, a.cfg.RetryAttempts, duration)

		timer := time.NewTimer(duration)
		select {
		case <-ctx.Done():
			timer.Stop()
			return xerrors.Errorf("%s canceled: %w", op, err)
		case <-timer.C:
		}
	}
}
