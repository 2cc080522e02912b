package domain

import "errors"

var (
	// Split registry errors
	ErrInvalidHolderSet = errors.New("invalid holder set")
	ErrNoHolders        = errors.New("no holders")
	ErrShareSumMismatch = errors.New("shares must sum to total shares")
	ErrSplitNotFound    = errors.New("split not found")
	ErrSplitInactive    = errors.New("split is not active")
	ErrHolderNotFound   = errors.New("holder not found in split")

	// Distribution errors
	ErrInvalidAmount       = errors.New("amount must be a positive whole number of base units")
	ErrNothingToDistribute = errors.New("no pending balance")
	ErrTransferFailed      = errors.New("payout transfer failed")
	ErrPayoutInProgress    = errors.New("payout already in progress")
	ErrPayoutNotFound      = errors.New("payout intent not found")

	// Fee and admin errors
	ErrFeeTooHigh      = errors.New("fee too high")
	ErrInvalidFeeRate  = errors.New("fee rate must not be negative")
	ErrNoFeesAvailable = errors.New("no fees available")
	ErrUnauthorized    = errors.New("unauthorized")

	// Factory errors
	ErrInsufficientFee = errors.New("insufficient fee")
	ErrLedgerNotFound  = errors.New("protocol not found")

	// Input errors
	ErrInvalidAddress = errors.New("invalid address")
	ErrInvalidName    = errors.New("invalid name")

	// Auth errors
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)
