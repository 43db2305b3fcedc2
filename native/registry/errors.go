package registry

import "errors"

var (
	// ErrInsufficientFunds rejects a transfer whose source balance is short.
	ErrInsufficientFunds = errors.New("registry: insufficient funds")
	// ErrInvalidAmount rejects non-positive amounts and stakes exceeding the
	// available balance in the selected pair.
	ErrInvalidAmount = errors.New("registry: invalid amount")
	// ErrWithdrawalLocked rejects locked-pair mutations before the
	// registrar's timelock has elapsed since the pair was last touched.
	ErrWithdrawalLocked = errors.New("registry: withdrawal locked")
	// ErrUnauthorized rejects callers that are not the beneficiary or
	// authority registered for the account acted upon.
	ErrUnauthorized = errors.New("registry: unauthorized")
	// ErrMemberExists rejects a second member for the same
	// (registrar, beneficiary) pair.
	ErrMemberExists = errors.New("registry: member already exists")
	// ErrRegistrarExists rejects re-initialisation of a registrar.
	ErrRegistrarExists = errors.New("registry: registrar already exists")

	errStateNotConfigured = errors.New("registry: state not configured")
)
