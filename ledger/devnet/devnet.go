package devnet

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"
	"golang.org/x/xerrors"

	"github.com/datanova-ai/datanova-exchange/ledger"
)

// ErrUnreachable is returned by operations failed through FailNext.
var ErrUnreachable = errors.New("devnet: node unreachable")

type tx struct {
	transfer ledger.Transfer
	slot     uint64
	failed   bool
	reason   string
}

// Ledger is an in-process simulated ledger. Transactions land in the current
// slot and gain one confirmation per slot the ledger advances.
type Ledger struct {
	mu         sync.Mutex
	slot       uint64
	balances   map[string]uint64
	txs        map[string]*tx
	references map[string]string
	failures   int
	sends      int
}

func New() *Ledger {
	return &Ledger{
		balances:   map[string]uint64{},
		txs:        map[string]*tx{},
		references: map[string]string{},
	}
}

// Fund credits an account.
func (l *Ledger) Fund(account string, amount uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.balances[account] += amount
}

// Advance moves the ledger forward by n slots.
func (l *Ledger) Advance(n uint64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.slot += n
}

// FailNext makes the next n calls fail as if the node could not be reached.
func (l *Ledger) FailNext(n int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.failures += n
}

// Fail marks a landed transaction as failed and refunds the sender.
func (l *Ledger) Fail(signature, reason string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.txs[signature]; ok && !t.failed {
		t.failed = true
		t.reason = reason
		l.balances[t.transfer.From] += t.transfer.Amount
		l.balances[t.transfer.To] -= t.transfer.Amount
	}
}

// Rewrite replaces the observed amount and recipient of a transaction.
func (l *Ledger) Rewrite(signature string, amount uint64, recipient string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if t, ok := l.txs[signature]; ok {
		t.transfer.Amount = amount
		t.transfer.To = recipient
	}
}

// Sends is the number of transactions that landed.
func (l *Ledger) Sends() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.sends
}

func (l *Ledger) unreachable() bool {
	if l.failures > 0 {
		l.failures--
		return true
	}
	return false
}

func (l *Ledger) Send(ctx context.Context, t ledger.Transfer) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unreachable() {
		return "", ErrUnreachable
	}
	if t.Reference != "" {
		if sig, ok := l.references[t.Reference]; ok {
			return sig, nil
		}
	}
	if t.From == t.To {
		return "", xerrors.Errorf("transfer to self: %w", ledger.ErrRejected)
	}
	if l.balances[t.From] < t.Amount {
		return "", xerrors.Errorf("insufficient funds in %s: %w", t.From, ledger.ErrRejected)
	}
	l.balances[t.From] -= t.Amount
	l.balances[t.To] += t.Amount

	sig := strings.ReplaceAll(uuid.New().String(), "-", "")
	l.txs[sig] = &tx{transfer: t, slot: l.slot}
	if t.Reference != "" {
		l.references[t.Reference] = sig
	}
	l.sends++
	return sig, nil
}

func (l *Ledger) Status(ctx context.Context, signature string) (ledger.TxStatus, error) {
	if err := ctx.Err(); err != nil {
		return ledger.TxStatus{}, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unreachable() {
		return ledger.TxStatus{}, ErrUnreachable
	}
	t, ok := l.txs[signature]
	if !ok {
		return ledger.TxStatus{}, nil
	}
	return ledger.TxStatus{
		Found:         true,
		Confirmations: l.slot - t.slot,
		Failed:        t.failed,
		Err:           t.reason,
		Amount:        t.transfer.Amount,
		Sender:        t.transfer.From,
		Recipient:     t.transfer.To,
	}, nil
}

func (l *Ledger) Balance(ctx context.Context, account string) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.unreachable() {
		return 0, ErrUnreachable
	}
	return l.balances[account], nil
}

var _ ledger.Chain = (*Ledger)(nil)
