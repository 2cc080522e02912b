// Package payout provides value-transfer collaborators for distributions and
// fee withdrawals.
package payout

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"github.com/iho/splitledger/internal/domain"
)

var (
	// ErrDuplicateReference is returned when a settled reference is reused
	// for a different batch.
	ErrDuplicateReference = errors.New("payout reference already used")
	// ErrRecipientRejected is returned when a recipient refuses funds.
	ErrRecipientRejected = errors.New("recipient rejected payout")
)

// Bank is an in-process payer that credits recipient balances. A batch is
// applied completely or not at all, and a reference settles at most once.
type Bank struct {
	mu       sync.Mutex
	balances map[domain.Address]decimal.Decimal
	refs     map[string]string
	rejected map[domain.Address]struct{}
	logger   zerolog.Logger
}

// NewBank creates an empty Bank.
func NewBank(logger zerolog.Logger) *Bank {
	return &Bank{
		balances: make(map[domain.Address]decimal.Decimal),
		refs:     make(map[string]string),
		rejected: make(map[domain.Address]struct{}),
		logger:   logger.With().Str("component", "payout_bank").Logger(),
	}
}

// Pay credits every payout in the batch identified by ref. Resending a
// settled batch under its reference is acknowledged without paying again.
func (b *Bank) Pay(ctx context.Context, ref string, payouts []domain.Payout) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	digest := batchDigest(payouts)
	if settled, ok := b.refs[ref]; ok {
		if settled != digest {
			return fmt.Errorf("%w: %s", ErrDuplicateReference, ref)
		}
		b.logger.Info().Str("reference", ref).Msg("payout batch already settled")
		return nil
	}
	for _, p := range payouts {
		if p.Amount.IsNegative() {
			return fmt.Errorf("negative payout %s to %s", p.Amount, p.Holder)
		}
		if _, ok := b.rejected[p.Holder]; ok {
			return fmt.Errorf("%w: %s", ErrRecipientRejected, p.Holder)
		}
	}

	total := decimal.Zero
	for _, p := range payouts {
		b.balances[p.Holder] = b.balance(p.Holder).Add(p.Amount)
		total = total.Add(p.Amount)
	}
	b.refs[ref] = digest

	b.logger.Info().
		Str("reference", ref).
		Int("payouts", len(payouts)).
		Str("total", total.String()).
		Msg("payout batch settled")

	return nil
}

func batchDigest(payouts []domain.Payout) string {
	var sb strings.Builder
	for _, p := range payouts {
		sb.WriteString(p.Holder.String())
		sb.WriteByte('=')
		sb.WriteString(p.Amount.String())
		sb.WriteByte(';')
	}
	return sb.String()
}

func (b *Bank) balance(addr domain.Address) decimal.Decimal {
	if bal, ok := b.balances[addr]; ok {
		return bal
	}
	return decimal.Zero
}

// Balance returns the amount credited to addr.
func (b *Bank) Balance(addr domain.Address) decimal.Decimal {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.balance(addr)
}

// Reject makes every future batch containing addr fail.
func (b *Bank) Reject(addr domain.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rejected[addr] = struct{}{}
}

// Accept undoes Reject.
func (b *Bank) Accept(addr domain.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.rejected, addr)
}
