package voting

import (
	"math/big"
)

// Governor is the global governance configuration bound to a staking
// registrar: anyone holding that registrar's pool shares may vote. Poll and
// proposal creation are priced in the governor's mint and the fee is held in
// a per-poll bond vault.
type Governor struct {
	Address       string   `json:"address"`
	Registrar     string   `json:"registrar"`
	Mint          string   `json:"mint"`
	Nonce         uint8    `json:"nonce"`
	PollPrice     *big.Int `json:"poll_price"`
	ProposalPrice *big.Int `json:"proposal_price"`
	WindowSecs    int64    `json:"window_secs"`
	PollQueue     string   `json:"poll_queue"`
	ProposalQueue string   `json:"proposal_queue"`
}

// Clone returns a deep copy of the governor record.
func (g *Governor) Clone() *Governor {
	if g == nil {
		return nil
	}
	clone := *g
	clone.PollPrice = cloneAmount(g.PollPrice)
	clone.ProposalPrice = cloneAmount(g.ProposalPrice)
	return &clone
}

// PollState is the time-derived lifecycle phase of a poll or proposal.
// Transitions are recomputed from the clock on every read; there is no
// explicit transition call.
type PollState uint8

const (
	PollPending PollState = iota
	PollOpen
	PollClosed
)

// String implements fmt.Stringer for logging and RPC responses.
func (s PollState) String() string {
	switch s {
	case PollPending:
		return "pending"
	case PollOpen:
		return "open"
	case PollClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Poll is a single vote instance with a fixed option set, time bounds, and a
// per-option weight tally parallel to the options.
type Poll struct {
	Address     string     `json:"address"`
	Governor    string     `json:"governor"`
	Creator     string     `json:"creator"`
	Message     string     `json:"message"`
	Options     []string   `json:"options"`
	StartTs     int64      `json:"start_ts"`
	EndTs       int64      `json:"end_ts"`
	VoteWeights []*big.Int `json:"vote_weights"`
	Vault       string     `json:"vault"`
	Nonce       uint8      `json:"nonce"`
}

// State derives the lifecycle phase from the supplied clock reading.
func (p *Poll) State(now int64) PollState {
	switch {
	case now < p.StartTs:
		return PollPending
	case now < p.EndTs:
		return PollOpen
	default:
		return PollClosed
	}
}

// Clone returns a deep copy of the poll record.
func (p *Poll) Clone() *Poll {
	if p == nil {
		return nil
	}
	clone := *p
	clone.Options = append([]string(nil), p.Options...)
	clone.VoteWeights = make([]*big.Int, len(p.VoteWeights))
	for i, w := range p.VoteWeights {
		clone.VoteWeights[i] = cloneAmount(w)
	}
	return &clone
}

// TransactionPayload is the opaque action a proposal carries. The voting
// engine records and gates it; interpretation belongs to the executor the
// host wires in.
type TransactionPayload struct {
	Target string `json:"target"`
	Data   []byte `json:"data"`
}

// Proposal is a binding yes/no vote over a transaction payload. It follows
// the poll lifecycle and additionally burns exactly once at execution.
type Proposal struct {
	Address   string             `json:"address"`
	Governor  string             `json:"governor"`
	Proposer  string             `json:"proposer"`
	Depositor string             `json:"depositor"`
	Message   string             `json:"message"`
	StartTs   int64              `json:"start_ts"`
	EndTs     int64              `json:"end_ts"`
	VoteYes   *big.Int           `json:"vote_yes"`
	VoteNo    *big.Int           `json:"vote_no"`
	Tx        TransactionPayload `json:"tx"`
	Vault     string             `json:"vault"`
	Nonce     uint8              `json:"nonce"`
	Burned    bool               `json:"burned"`
}

// State derives the lifecycle phase from the supplied clock reading.
func (p *Proposal) State(now int64) PollState {
	switch {
	case now < p.StartTs:
		return PollPending
	case now < p.EndTs:
		return PollOpen
	default:
		return PollClosed
	}
}

// Clone returns a deep copy of the proposal record.
func (p *Proposal) Clone() *Proposal {
	if p == nil {
		return nil
	}
	clone := *p
	clone.VoteYes = cloneAmount(p.VoteYes)
	clone.VoteNo = cloneAmount(p.VoteNo)
	clone.Tx.Data = append([]byte(nil), p.Tx.Data...)
	return &clone
}

// Selector values recorded on proposal ballots.
const (
	ProposalSelectorNo  uint32 = 0
	ProposalSelectorYes uint32 = 1
)

// Vote is a one-time-use record binding a member's stake snapshot to a chosen
// option. Its address is derived from (member, target), so the account store
// rejects a second cast for the same pair.
type Vote struct {
	Address  string   `json:"address"`
	Member   string   `json:"member"`
	Target   string   `json:"target"`
	Selector uint32   `json:"selector"`
	Weight   *big.Int `json:"weight"`
	Burned   bool     `json:"burned"`
	Ts       int64    `json:"ts"`
}

// Clone returns a deep copy of the vote record.
func (v *Vote) Clone() *Vote {
	if v == nil {
		return nil
	}
	clone := *v
	clone.Weight = cloneAmount(v.Weight)
	return &clone
}

// GovQueue is a fixed-capacity append-only sequence of poll or proposal
// references. The entry index equals creation order; appending past capacity
// fails with ErrQueueFull and leaves the queue untouched.
type GovQueue struct {
	Address string   `json:"address"`
	Head    uint32   `json:"head"`
	Entries []string `json:"entries"`
}

// NewGovQueue allocates a queue with the given fixed capacity.
func NewGovQueue(address string, capacity uint32) *GovQueue {
	return &GovQueue{Address: address, Entries: make([]string, capacity)}
}

// Full reports whether the queue has no free slot left.
func (q *GovQueue) Full() bool {
	return int(q.Head) >= len(q.Entries)
}

// Append inserts the reference at the head cursor, returning the assigned
// index.
func (q *GovQueue) Append(ref string) (uint32, error) {
	if q.Full() {
		return 0, ErrQueueFull
	}
	cursor := q.Head
	q.Entries[cursor] = ref
	q.Head++
	return cursor, nil
}

// Clone returns a deep copy of the queue.
func (q *GovQueue) Clone() *GovQueue {
	if q == nil {
		return nil
	}
	clone := *q
	clone.Entries = append([]string(nil), q.Entries...)
	return &clone
}

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}
