package domain

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/shopspring/decimal"
)

// ErrInvalidEventStream is returned when emitted records cannot be replayed.
var ErrInvalidEventStream = errors.New("invalid event stream")

// LedgerSnapshot is a ledger and its splits rebuilt from emitted records.
type LedgerSnapshot struct {
	Ledger *Ledger
	Splits map[int64]*Split
}

// Replay rebuilds one ledger's state from its emitted records. The stream must
// start with the ledger's protocol.created record.
func Replay(events []*OutboxEvent) (*LedgerSnapshot, error) {
	ordered := make([]*OutboxEvent, len(events))
	copy(ordered, events)
	sort.SliceStable(ordered, func(i, j int) bool { return ordered[i].Sequence < ordered[j].Sequence })

	var snap *LedgerSnapshot
	for _, e := range ordered {
		if snap == nil {
			if e.EventType != EventTypeProtocolCreated {
				return nil, fmt.Errorf("%w: first event is %s", ErrInvalidEventStream, e.EventType)
			}
			snap = &LedgerSnapshot{Splits: make(map[int64]*Split)}
		} else if e.LedgerID != snap.Ledger.ID {
			return nil, fmt.Errorf("%w: event %s belongs to ledger %s", ErrInvalidEventStream, e.ID, e.LedgerID)
		}

		if err := snap.apply(e); err != nil {
			return nil, fmt.Errorf("%w: event %s (%s): %v", ErrInvalidEventStream, e.ID, e.EventType, err)
		}
	}

	if snap == nil {
		return nil, fmt.Errorf("%w: no events", ErrInvalidEventStream)
	}
	return snap, nil
}

func (s *LedgerSnapshot) apply(e *OutboxEvent) error {
	switch e.EventType {
	case EventTypeProtocolCreated:
		if s.Ledger != nil {
			return errors.New("ledger created twice")
		}
		var p ProtocolCreatedEvent
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		payment, err := parseAmount("payment", p.Payment)
		if err != nil {
			return err
		}
		if err := ValidateFeeRate(p.FeeRateBps); err != nil {
			return err
		}
		at := parseEventTime(p.EventAt)
		s.Ledger = &Ledger{
			ID:                 p.LedgerID,
			Name:               p.Name,
			Owner:              Address(p.Creator),
			FeeRateBps:         p.FeeRateBps,
			TotalFeesCollected: decimal.Zero,
			FeesWithdrawable:   decimal.Zero,
			TotalDistributed:   decimal.Zero,
			CreationPayment:    payment,
			CreatedAt:          at,
			UpdatedAt:          at,
		}

	case EventTypeSplitCreated:
		var p SplitCreatedEvent
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		if p.SplitID != s.Ledger.SplitCount {
			return fmt.Errorf("split id %d out of sequence, want %d", p.SplitID, s.Ledger.SplitCount)
		}
		holders, err := NewHolderSet(p.Holders, p.Shares)
		if err != nil {
			return err
		}
		at := parseEventTime(p.EventAt)
		s.Splits[p.SplitID] = &Split{
			LedgerID:         s.Ledger.ID,
			ID:               p.SplitID,
			Name:             p.Name,
			Creator:          Address(p.Creator),
			TotalShares:      TotalShares,
			TotalDistributed: decimal.Zero,
			PendingBalance:   decimal.Zero,
			PendingFees:      decimal.Zero,
			Active:           true,
			Holders:          holders,
			CreatedAt:        at,
			UpdatedAt:        at,
		}
		s.Ledger.SplitCount++

	case EventTypeFundsReceived:
		var p FundsReceivedEvent
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		split, err := s.split(p.SplitID)
		if err != nil {
			return err
		}
		amount, err := parseAmount("amount", p.Amount)
		if err != nil {
			return err
		}
		fee, err := parseAmount("fee", p.Fee)
		if err != nil {
			return err
		}
		net, err := parseAmount("net", p.Net)
		if err != nil {
			return err
		}
		if !fee.Add(net).Equal(amount) {
			return fmt.Errorf("fee %s + net %s != amount %s", fee, net, amount)
		}
		split.ApplyDeposit(net, fee)
		s.Ledger.AccrueFee(fee)

	case EventTypeFundsDistributed:
		var p FundsDistributedEvent
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		split, err := s.split(p.SplitID)
		if err != nil {
			return err
		}
		amount, err := parseAmount("amount", p.Amount)
		if err != nil {
			return err
		}
		fee, err := parseAmount("fee", p.Fee)
		if err != nil {
			return err
		}
		if !amount.IsPositive() || amount.GreaterThan(split.PendingBalance) {
			return fmt.Errorf("distributed %s but pending is %s", amount, split.PendingBalance)
		}
		if fee.GreaterThan(split.PendingFees) {
			return fmt.Errorf("distribution fee %s but pending fees are %s", fee, split.PendingFees)
		}
		if len(p.Payouts) != len(split.Holders) {
			return fmt.Errorf("%d payouts for %d holders", len(p.Payouts), len(split.Holders))
		}
		plan := &DistributionPlan{Total: amount, Fee: fee, Payouts: make([]Payout, len(p.Payouts))}
		sum := decimal.Zero
		for i, po := range p.Payouts {
			if Address(po.Holder) != split.Holders[i].Address {
				return fmt.Errorf("payout %d holder %s does not match %s", i, po.Holder, split.Holders[i].Address)
			}
			payout, err := parseAmount(fmt.Sprintf("payout %d", i), po.Amount)
			if err != nil {
				return err
			}
			plan.Payouts[i] = Payout{Holder: Address(po.Holder), Amount: payout}
			sum = sum.Add(payout)
		}
		if !sum.Equal(amount) {
			return fmt.Errorf("payouts sum to %s, want %s", sum, amount)
		}
		split.ApplyDistribution(plan)
		s.Ledger.TotalDistributed = s.Ledger.TotalDistributed.Add(amount)

	case EventTypeSplitDeactivated:
		var p SplitDeactivatedEvent
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		split, err := s.split(p.SplitID)
		if err != nil {
			return err
		}
		split.Active = false

	case EventTypeFeeUpdated:
		var p FeeUpdatedEvent
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		if err := ValidateFeeRate(p.NewRateBps); err != nil {
			return err
		}
		s.Ledger.FeeRateBps = p.NewRateBps

	case EventTypeFeesWithdrawn:
		var p FeesWithdrawnEvent
		if err := e.DecodePayload(&p); err != nil {
			return err
		}
		amount, err := parseAmount("amount", p.Amount)
		if err != nil {
			return err
		}
		if !amount.IsPositive() || amount.GreaterThan(s.Ledger.FeesWithdrawable) {
			return fmt.Errorf("withdrew %s but only %s available", amount, s.Ledger.FeesWithdrawable)
		}
		s.Ledger.FeesWithdrawable = s.Ledger.FeesWithdrawable.Sub(amount)

	default:
		return fmt.Errorf("unknown event type %q", e.EventType)
	}

	return nil
}

func (s *LedgerSnapshot) split(id int64) (*Split, error) {
	split, ok := s.Splits[id]
	if !ok {
		return nil, fmt.Errorf("%w: %d", ErrSplitNotFound, id)
	}
	return split, nil
}

// parseAmount reads a base unit amount written by an event payload.
func parseAmount(field, s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("%s %q: %w", field, s, ErrInvalidAmount)
	}
	if err := ValidateBaseUnits(d); err != nil {
		return decimal.Zero, fmt.Errorf("%s %q: %w", field, s, err)
	}
	return d, nil
}

func parseEventTime(s string) time.Time {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}
	}
	return t
}
