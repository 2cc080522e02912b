package dto

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/iho/splitledger/internal/domain"
	"github.com/iho/splitledger/internal/usecase"
)

// ErrorResponse represents an error in API responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// ProtocolResponse represents a protocol in API responses.
type ProtocolResponse struct {
	ID                 string          `json:"id"`
	Name               string          `json:"name"`
	Owner              string          `json:"owner"`
	FeeRateBps         int64           `json:"fee_rate_bps"`
	TotalFeesCollected decimal.Decimal `json:"total_fees_collected"`
	FeesWithdrawable   decimal.Decimal `json:"fees_withdrawable"`
	SplitCount         int64           `json:"split_count"`
	TotalDistributed   decimal.Decimal `json:"total_distributed"`
	CreationPayment    decimal.Decimal `json:"creation_payment"`
	Version            int64           `json:"version"`
	CreatedAt          time.Time       `json:"created_at"`
	UpdatedAt          time.Time       `json:"updated_at"`
}

// ProtocolFromDomain converts a domain ledger to response.
func ProtocolFromDomain(l *domain.Ledger) *ProtocolResponse {
	return &ProtocolResponse{
		ID:                 l.ID,
		Name:               l.Name,
		Owner:              l.Owner.String(),
		FeeRateBps:         l.FeeRateBps,
		TotalFeesCollected: l.TotalFeesCollected,
		FeesWithdrawable:   l.FeesWithdrawable,
		SplitCount:         l.SplitCount,
		TotalDistributed:   l.TotalDistributed,
		CreationPayment:    l.CreationPayment,
		Version:            l.Version,
		CreatedAt:          l.CreatedAt,
		UpdatedAt:          l.UpdatedAt,
	}
}

// ProtocolsFromDomain converts domain ledgers to responses.
func ProtocolsFromDomain(ledgers []*domain.Ledger) []*ProtocolResponse {
	result := make([]*ProtocolResponse, len(ledgers))
	for i, l := range ledgers {
		result[i] = ProtocolFromDomain(l)
	}
	return result
}

// FactoryStatsResponse summarizes created protocols.
type FactoryStatsResponse struct {
	ProtocolCount     int64           `json:"protocol_count"`
	TotalCreationFees decimal.Decimal `json:"total_creation_fees"`
	CreationFee       decimal.Decimal `json:"creation_fee"`
}

// FactoryStatsFromDomain converts factory stats to response.
func FactoryStatsFromDomain(s *domain.FactoryStats) *FactoryStatsResponse {
	return &FactoryStatsResponse{
		ProtocolCount:     s.ProtocolCount,
		TotalCreationFees: s.TotalCreationFees,
		CreationFee:       s.CreationFee,
	}
}

// HolderResponse represents one split holder.
type HolderResponse struct {
	Position int             `json:"position"`
	Address  string          `json:"address"`
	Shares   int64           `json:"shares"`
	Claimed  decimal.Decimal `json:"claimed"`
}

// HoldersFromDomain converts holders to responses.
func HoldersFromDomain(holders []domain.ShareHolder) []HolderResponse {
	result := make([]HolderResponse, len(holders))
	for i, h := range holders {
		result[i] = HolderResponse{
			Position: h.Position,
			Address:  h.Address.String(),
			Shares:   h.Shares,
			Claimed:  h.Claimed,
		}
	}
	return result
}

// SplitResponse represents a split in API responses.
type SplitResponse struct {
	LedgerID         string           `json:"ledger_id"`
	ID               int64            `json:"id"`
	Name             string           `json:"name"`
	Creator          string           `json:"creator"`
	TotalShares      int64            `json:"total_shares"`
	TotalDistributed decimal.Decimal  `json:"total_distributed"`
	PendingBalance   decimal.Decimal  `json:"pending_balance"`
	PendingFees      decimal.Decimal  `json:"pending_fees"`
	Active           bool             `json:"active"`
	Holders          []HolderResponse `json:"holders"`
	CreatedAt        time.Time        `json:"created_at"`
	UpdatedAt        time.Time        `json:"updated_at"`
}

// SplitFromDomain converts a domain split to response.
func SplitFromDomain(s *domain.Split) *SplitResponse {
	return &SplitResponse{
		LedgerID:         s.LedgerID,
		ID:               s.ID,
		Name:             s.Name,
		Creator:          s.Creator.String(),
		TotalShares:      s.TotalShares,
		TotalDistributed: s.TotalDistributed,
		PendingBalance:   s.PendingBalance,
		PendingFees:      s.PendingFees,
		Active:           s.Active,
		Holders:          HoldersFromDomain(s.Holders),
		CreatedAt:        s.CreatedAt,
		UpdatedAt:        s.UpdatedAt,
	}
}

// SplitsFromDomain converts domain splits to responses.
func SplitsFromDomain(splits []*domain.Split) []*SplitResponse {
	result := make([]*SplitResponse, len(splits))
	for i, s := range splits {
		result[i] = SplitFromDomain(s)
	}
	return result
}

// DepositResponse is the outcome of a deposit.
type DepositResponse struct {
	Split  *SplitResponse  `json:"split"`
	Amount decimal.Decimal `json:"amount"`
	Fee    decimal.Decimal `json:"fee"`
	Net    decimal.Decimal `json:"net"`
}

// DepositFromResult converts a deposit result to response.
func DepositFromResult(r *usecase.DepositResult) *DepositResponse {
	return &DepositResponse{
		Split:  SplitFromDomain(r.Split),
		Amount: r.Amount,
		Fee:    r.Fee,
		Net:    r.Net,
	}
}

// PayoutResponse is one holder's payout.
type PayoutResponse struct {
	Holder string          `json:"holder"`
	Amount decimal.Decimal `json:"amount"`
}

// DistributionResponse is the outcome of a distribution.
type DistributionResponse struct {
	Split     *SplitResponse   `json:"split"`
	Total     decimal.Decimal  `json:"total"`
	Fee       decimal.Decimal  `json:"fee"`
	Reference string           `json:"reference"`
	Payouts   []PayoutResponse `json:"payouts"`
}

// DistributionFromResult converts a distribution result to response.
func DistributionFromResult(r *usecase.DistributionResult) *DistributionResponse {
	payouts := make([]PayoutResponse, len(r.Payouts))
	for i, p := range r.Payouts {
		payouts[i] = PayoutResponse{Holder: p.Holder.String(), Amount: p.Amount}
	}
	return &DistributionResponse{
		Split:     SplitFromDomain(r.Split),
		Total:     r.Total,
		Fee:       r.Fee,
		Reference: r.Reference,
		Payouts:   payouts,
	}
}

// ClaimableResponse is a holder's share of the current pending balance.
type ClaimableResponse struct {
	LedgerID string          `json:"ledger_id"`
	SplitID  int64           `json:"split_id"`
	Holder   string          `json:"holder"`
	Amount   decimal.Decimal `json:"amount"`
}

// FeeStateResponse represents a protocol's fee accounting.
type FeeStateResponse struct {
	LedgerID           string          `json:"ledger_id"`
	FeeRateBps         int64           `json:"fee_rate_bps"`
	TotalFeesCollected decimal.Decimal `json:"total_fees_collected"`
	FeesWithdrawable   decimal.Decimal `json:"fees_withdrawable"`
}

// FeeStateFromDomain converts fee state to response.
func FeeStateFromDomain(s *domain.FeeState) *FeeStateResponse {
	return &FeeStateResponse{
		LedgerID:           s.LedgerID,
		FeeRateBps:         s.FeeRateBps,
		TotalFeesCollected: s.TotalFeesCollected,
		FeesWithdrawable:   s.FeesWithdrawable,
	}
}

// WithdrawalResponse is the outcome of a fee withdrawal.
type WithdrawalResponse struct {
	LedgerID string          `json:"ledger_id"`
	To       string          `json:"to"`
	Amount   decimal.Decimal `json:"amount"`
}

// EventResponse represents an emitted record.
type EventResponse struct {
	ID            string         `json:"id"`
	Sequence      int64          `json:"sequence"`
	LedgerID      string         `json:"ledger_id"`
	AggregateType string         `json:"aggregate_type"`
	AggregateID   string         `json:"aggregate_id"`
	EventType     string         `json:"event_type"`
	Payload       map[string]any `json:"payload"`
	CreatedAt     time.Time      `json:"created_at"`
	PublishedAt   *time.Time     `json:"published_at,omitempty"`
}

// EventsFromDomain converts emitted records to responses.
func EventsFromDomain(events []*domain.OutboxEvent) []*EventResponse {
	result := make([]*EventResponse, len(events))
	for i, e := range events {
		result[i] = &EventResponse{
			ID:            e.ID,
			Sequence:      e.Sequence,
			LedgerID:      e.LedgerID,
			AggregateType: e.AggregateType,
			AggregateID:   e.AggregateID,
			EventType:     e.EventType,
			Payload:       e.Payload,
			CreatedAt:     e.CreatedAt,
			PublishedAt:   e.PublishedAt,
		}
	}
	return result
}

// ConsistencyResponse represents a replay check report.
type ConsistencyResponse struct {
	LedgerID     string    `json:"ledger_id"`
	EventCount   int       `json:"event_count"`
	SplitCount   int64     `json:"split_count"`
	IsConsistent bool      `json:"is_consistent"`
	Mismatches   []string  `json:"mismatches,omitempty"`
	CheckedAt    time.Time `json:"checked_at"`
}

// ConsistencyFromReport converts a consistency report to response.
func ConsistencyFromReport(r *usecase.ConsistencyReport) *ConsistencyResponse {
	return &ConsistencyResponse{
		LedgerID:     r.LedgerID,
		EventCount:   r.EventCount,
		SplitCount:   r.SplitCount,
		IsConsistent: r.IsConsistent,
		Mismatches:   r.Mismatches,
		CheckedAt:    r.CheckedAt,
	}
}

// CallerResponse identifies the resolved caller.
type CallerResponse struct {
	Address string `json:"address"`
}
