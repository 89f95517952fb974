package token

import "errors"

// Stable failure reasons for the guarded transfer pipeline. Each pipeline
// stage aborts with exactly one of these; callers rely on errors.Is to branch
// on the reason.
var (
	ErrSystemPaused          = errors.New("token: system paused")
	ErrBlacklisted           = errors.New("token: blacklisted")
	ErrRecipientNotApproved  = errors.New("token: recipient not approved")
	ErrApprovalRegistryUnset = errors.New("token: approval registry unset")
	ErrTradingNotOpen        = errors.New("token: trading not open")
	ErrSniperWindowEOAOnly   = errors.New("token: sniper window restricts buys to externally owned accounts")
	ErrMaxTxExceeded         = errors.New("token: max transaction exceeded")
	ErrMaxWalletExceeded     = errors.New("token: max wallet exceeded")
	ErrCooldownActive        = errors.New("token: cooldown active")
	ErrInsufficientBalance   = errors.New("token: insufficient balance")
	ErrInvalidAmount         = errors.New("token: amount must be non-negative")
	ErrMintAfterGenesis      = errors.New("token: mint only permitted at genesis")
)

// Configuration failures.
var (
	ErrCategoryLocked     = errors.New("token: category locked")
	ErrFeeCapExceeded     = errors.New("token: fee above cap")
	ErrTradingAlreadyOpen = errors.New("token: trading already enabled")
	ErrFractionOutOfRange = errors.New("token: basis points out of range")
)
