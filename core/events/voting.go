package events

import (
	"math/big"
	"strconv"

	"stakereg/core/types"
)

const (
	// TypeGovernorCreated is emitted once per governor initialisation.
	TypeGovernorCreated = "gov.governorCreated"
	// TypeGovernorUpdated is emitted when governance pricing changes.
	TypeGovernorUpdated = "gov.governorUpdated"
	// TypePollCreated is emitted when a poll is admitted to the queue.
	TypePollCreated = "gov.pollCreated"
	// TypePollVote is emitted when a ballot is recorded against a poll.
	TypePollVote = "gov.pollVote"
	// TypeProposalCreated is emitted when a proposal is admitted.
	TypeProposalCreated = "gov.proposalCreated"
	// TypeProposalVote is emitted when a ballot is recorded on a proposal.
	TypeProposalVote = "gov.proposalVote"
	// TypeProposalExecuted marks a proposal whose outcome was determined.
	TypeProposalExecuted = "gov.proposalExecuted"
)

// GovernorCreated announces a new governance configuration.
type GovernorCreated struct {
	Governor  string
	Registrar string
	Mint      string
}

// EventType satisfies the Event interface.
func (GovernorCreated) EventType() string { return TypeGovernorCreated }

// Event converts the structured payload into a broadcastable event.
func (e GovernorCreated) Event() *types.Event {
	return &types.Event{Type: TypeGovernorCreated, Attributes: map[string]string{
		"governor":  e.Governor,
		"registrar": e.Registrar,
		"mint":      e.Mint,
	}}
}

// GovernorUpdated announces a change to the proposal price or voting window.
type GovernorUpdated struct {
	Governor      string
	ProposalPrice *big.Int
	WindowSecs    int64
}

// EventType satisfies the Event interface.
func (GovernorUpdated) EventType() string { return TypeGovernorUpdated }

// Event converts the structured payload into a broadcastable event.
func (e GovernorUpdated) Event() *types.Event {
	return &types.Event{Type: TypeGovernorUpdated, Attributes: map[string]string{
		"governor":      e.Governor,
		"proposalPrice": formatAmount(e.ProposalPrice),
		"windowSecs":    strconv.FormatInt(e.WindowSecs, 10),
	}}
}

// PollCreated announces a poll opening for votes.
type PollCreated struct {
	Poll     string
	Governor string
	Creator  string
	EndTs    int64
}

// EventType satisfies the Event interface.
func (PollCreated) EventType() string { return TypePollCreated }

// Event converts the structured payload into a broadcastable event.
func (e PollCreated) Event() *types.Event {
	return &types.Event{Type: TypePollCreated, Attributes: map[string]string{
		"poll":     e.Poll,
		"governor": e.Governor,
		"creator":  e.Creator,
		"endTs":    strconv.FormatInt(e.EndTs, 10),
	}}
}

// PollVote records a stake-weighted ballot on a poll option.
type PollVote struct {
	Poll     string
	Member   string
	Selector uint32
	Weight   *big.Int
}

// EventType satisfies the Event interface.
func (PollVote) EventType() string { return TypePollVote }

// Event converts the structured payload into a broadcastable event.
func (e PollVote) Event() *types.Event {
	return &types.Event{Type: TypePollVote, Attributes: map[string]string{
		"poll":     e.Poll,
		"member":   e.Member,
		"selector": strconv.FormatUint(uint64(e.Selector), 10),
		"weight":   formatAmount(e.Weight),
	}}
}

// ProposalCreated announces a proposal opening for votes.
type ProposalCreated struct {
	Proposal string
	Governor string
	Proposer string
	EndTs    int64
}

// EventType satisfies the Event interface.
func (ProposalCreated) EventType() string { return TypeProposalCreated }

// Event converts the structured payload into a broadcastable event.
func (e ProposalCreated) Event() *types.Event {
	return &types.Event{Type: TypeProposalCreated, Attributes: map[string]string{
		"proposal": e.Proposal,
		"governor": e.Governor,
		"proposer": e.Proposer,
		"endTs":    strconv.FormatInt(e.EndTs, 10),
	}}
}

// ProposalVote records a stake-weighted yes/no ballot on a proposal.
type ProposalVote struct {
	Proposal string
	Member   string
	Approve  bool
	Weight   *big.Int
}

// EventType satisfies the Event interface.
func (ProposalVote) EventType() string { return TypeProposalVote }

// Event converts the structured payload into a broadcastable event.
func (e ProposalVote) Event() *types.Event {
	return &types.Event{Type: TypeProposalVote, Attributes: map[string]string{
		"proposal": e.Proposal,
		"member":   e.Member,
		"approve":  strconv.FormatBool(e.Approve),
		"weight":   formatAmount(e.Weight),
	}}
}

// ProposalExecuted records the terminal outcome of a proposal.
type ProposalExecuted struct {
	Proposal string
	Passed   bool
	VoteYes  *big.Int
	VoteNo   *big.Int
}

// EventType satisfies the Event interface.
func (ProposalExecuted) EventType() string { return TypeProposalExecuted }

// Event converts the structured payload into a broadcastable event.
func (e ProposalExecuted) Event() *types.Event {
	return &types.Event{Type: TypeProposalExecuted, Attributes: map[string]string{
		"proposal": e.Proposal,
		"passed":   strconv.FormatBool(e.Passed),
		"voteYes":  formatAmount(e.VoteYes),
		"voteNo":   formatAmount(e.VoteNo),
	}}
}
