package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event types
const (
	EventTypeProtocolCreated  = "protocol.created"
	EventTypeSplitCreated     = "split.created"
	EventTypeFundsReceived    = "split.funds_received"
	EventTypeFundsDistributed = "split.funds_distributed"
	EventTypeSplitDeactivated = "split.deactivated"
	EventTypeFeeUpdated       = "ledger.fee_updated"
	EventTypeFeesWithdrawn    = "ledger.fees_withdrawn"
)

// Aggregate types
const (
	AggregateTypeLedger = "ledger"
	AggregateTypeSplit  = "split"
)

// OutboxEvent is an emitted record. Events of one ledger are totally ordered
// by Sequence and carry enough data to rebuild the ledger by replay.
type OutboxEvent struct {
	ID            string
	Sequence      int64
	LedgerID      string
	AggregateID   string
	AggregateType string
	EventType     string
	Payload       map[string]any
	CreatedAt     time.Time
	PublishedAt   *time.Time
	Published     bool
}

// ProtocolCreatedEvent payload
type ProtocolCreatedEvent struct {
	LedgerID   string `json:"ledger_id"`
	Name       string `json:"name"`
	Creator    string `json:"creator"`
	Payment    string `json:"payment"`
	FeeRateBps int64  `json:"fee_rate_bps"`
	EventAt    string `json:"event_at"`
}

// SplitCreatedEvent payload
type SplitCreatedEvent struct {
	SplitID int64    `json:"split_id"`
	Name    string   `json:"name"`
	Creator string   `json:"creator"`
	Holders []string `json:"holders"`
	Shares  []int64  `json:"shares"`
	EventAt string   `json:"event_at"`
}

// FundsReceivedEvent payload
type FundsReceivedEvent struct {
	SplitID int64  `json:"split_id"`
	Sender  string `json:"sender"`
	Amount  string `json:"amount"`
	Fee     string `json:"fee"`
	Net     string `json:"net"`
	EventAt string `json:"event_at"`
}

// PayoutRecord is one holder's payout inside FundsDistributedEvent.
type PayoutRecord struct {
	Holder string `json:"holder"`
	Amount string `json:"amount"`
}

// FundsDistributedEvent payload
type FundsDistributedEvent struct {
	SplitID   int64          `json:"split_id"`
	Amount    string         `json:"amount"`
	Fee       string         `json:"fee"`
	Payouts   []PayoutRecord `json:"payouts"`
	Reference string         `json:"reference"`
	By        string         `json:"by,omitempty"`
	EventAt   string         `json:"event_at"`
}

// SplitDeactivatedEvent payload
type SplitDeactivatedEvent struct {
	SplitID int64  `json:"split_id"`
	By      string `json:"by"`
	EventAt string `json:"event_at"`
}

// FeeUpdatedEvent payload
type FeeUpdatedEvent struct {
	OldRateBps int64  `json:"old_rate_bps"`
	NewRateBps int64  `json:"new_rate_bps"`
	EventAt    string `json:"event_at"`
}

// FeesWithdrawnEvent payload
type FeesWithdrawnEvent struct {
	To        string `json:"to"`
	Amount    string `json:"amount"`
	Reference string `json:"reference"`
	EventAt   string `json:"event_at"`
}

// NewOutboxEvent builds an unpublished event from a typed payload.
func NewOutboxEvent(id, ledgerID, aggregateType, aggregateID, eventType string, payload any, at time.Time) (*OutboxEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("unmarshal %s payload: %w", eventType, err)
	}

	return &OutboxEvent{
		ID:            id,
		LedgerID:      ledgerID,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       m,
		CreatedAt:     at,
		Published:     false,
	}, nil
}

// DecodePayload unmarshals the event payload into v.
func (e *OutboxEvent) DecodePayload(v any) error {
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// SplitAggregateID is the aggregate id used for split events.
func SplitAggregateID(ledgerID string, splitID int64) string {
	return fmt.Sprintf("%s/%d", ledgerID, splitID)
}

// FormatEventTime renders event timestamps.
func FormatEventTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}
