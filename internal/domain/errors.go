package domain

import "errors"

// Error taxonomy shared by services, repositories and transport. Callers
// match with errors.Is; wrapping preserves the category.
var (
	ErrNotFound           = errors.New("not found")
	ErrInvalidState       = errors.New("transition not allowed from current state")
	ErrConcurrentConflict = errors.New("concurrent status conflict")
	ErrOutOfStock         = errors.New("out of stock")

	ErrCodeNotFound    = errors.New("pickup code not found")
	ErrCodeExpired     = errors.New("pickup code expired")
	ErrCodeAlreadyUsed = errors.New("pickup code already used")

	ErrProofRequired         = errors.New("payment proof required")
	ErrPaymentAlreadyPending = errors.New("fine payment already pending verification")
	ErrNotEligible           = errors.New("loan not eligible for fine payment")

	ErrLoanLimitReached = errors.New("active loan limit reached")
	ErrAlreadyExtended  = errors.New("loan already extended")
)
