package voting

import "errors"

var (
	// ErrQueueFull rejects poll or proposal creation when the governor's
	// queue has no free slot.
	ErrQueueFull = errors.New("voting: queue full")
	// ErrVoteTwice rejects a second ballot for the same (member, target)
	// pair. The one-time vote account already exists.
	ErrVoteTwice = errors.New("voting: vote already cast")
	// ErrPollNotOpen rejects ballots outside the [startTs, endTs) window.
	ErrPollNotOpen = errors.New("voting: poll not open")
	// ErrPollNotClosed rejects tallies and executions before endTs.
	ErrPollNotClosed = errors.New("voting: poll not closed")
	// ErrInvalidOptionIndex rejects selectors outside the option list.
	ErrInvalidOptionIndex = errors.New("voting: invalid option index")
	// ErrUnauthorized rejects callers that are not the member's beneficiary
	// or whose member belongs to a different registrar.
	ErrUnauthorized = errors.New("voting: unauthorized")
	// ErrInsufficientFunds rejects bond payments the depositor cannot cover.
	ErrInsufficientFunds = errors.New("voting: insufficient funds")
	// ErrProposalBurned rejects a second execution of the same proposal.
	ErrProposalBurned = errors.New("voting: proposal already burned")

	errStateNotConfigured = errors.New("voting: state not configured")
)
