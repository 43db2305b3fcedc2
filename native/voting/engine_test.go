package voting

import (
	"bytes"
	"errors"
	"math/big"
	"testing"

	"stakereg/core/events"
	"stakereg/core/types"
	"stakereg/native/registry"
)

type mockVotingState struct {
	registrars map[string]*registry.Registrar
	members    map[string]*registry.Member
	governors  map[string]*Governor
	queues     map[string]*GovQueue
	polls      map[string]*Poll
	proposals  map[string]*Proposal
	votes      map[string]*Vote
	tokens     map[string]*types.TokenAccount
}

func newMockVotingState() *mockVotingState {
	return &mockVotingState{
		registrars: make(map[string]*registry.Registrar),
		members:    make(map[string]*registry.Member),
		governors:  make(map[string]*Governor),
		queues:     make(map[string]*GovQueue),
		polls:      make(map[string]*Poll),
		proposals:  make(map[string]*Proposal),
		votes:      make(map[string]*Vote),
		tokens:     make(map[string]*types.TokenAccount),
	}
}

func (m *mockVotingState) RegistrarGet(addr string) (*registry.Registrar, bool, error) {
	r, ok := m.registrars[addr]
	if !ok {
		return nil, false, nil
	}
	return r.Clone(), true, nil
}

func (m *mockVotingState) MemberGet(addr string) (*registry.Member, bool, error) {
	mem, ok := m.members[addr]
	if !ok {
		return nil, false, nil
	}
	return mem.Clone(), true, nil
}

func (m *mockVotingState) GovernorGet(addr string) (*Governor, bool, error) {
	g, ok := m.governors[addr]
	if !ok {
		return nil, false, nil
	}
	return g.Clone(), true, nil
}

func (m *mockVotingState) GovernorPut(g *Governor) error {
	m.governors[g.Address] = g.Clone()
	return nil
}

func (m *mockVotingState) QueueGet(addr string) (*GovQueue, bool, error) {
	q, ok := m.queues[addr]
	if !ok {
		return nil, false, nil
	}
	return q.Clone(), true, nil
}

func (m *mockVotingState) QueuePut(q *GovQueue) error {
	m.queues[q.Address] = q.Clone()
	return nil
}

func (m *mockVotingState) PollGet(addr string) (*Poll, bool, error) {
	p, ok := m.polls[addr]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

func (m *mockVotingState) PollPut(p *Poll) error {
	m.polls[p.Address] = p.Clone()
	return nil
}

func (m *mockVotingState) ProposalGet(addr string) (*Proposal, bool, error) {
	p, ok := m.proposals[addr]
	if !ok {
		return nil, false, nil
	}
	return p.Clone(), true, nil
}

func (m *mockVotingState) ProposalPut(p *Proposal) error {
	m.proposals[p.Address] = p.Clone()
	return nil
}

func (m *mockVotingState) VoteCreate(v *Vote) error {
	if _, ok := m.votes[v.Address]; ok {
		return ErrVoteTwice
	}
	m.votes[v.Address] = v.Clone()
	return nil
}

func (m *mockVotingState) TokenGet(addr string) (*types.TokenAccount, bool, error) {
	acc, ok := m.tokens[addr]
	if !ok {
		return nil, false, nil
	}
	clone := *acc
	if acc.Amount != nil {
		clone.Amount = new(big.Int).Set(acc.Amount)
	}
	return &clone, true, nil
}

func (m *mockVotingState) TokenPut(acc *types.TokenAccount) error {
	clone := *acc
	if acc.Amount != nil {
		clone.Amount = new(big.Int).Set(acc.Amount)
	}
	m.tokens[acc.Address] = &clone
	return nil
}

type captureEmitter struct {
	events []events.Event
}

func (c *captureEmitter) Emit(evt events.Event) { c.events = append(c.events, evt) }

const testNow = int64(1_700_000_000)

// addVoter registers a member whose voting weight is split across the free and
// locked pool-share accounts.
func addVoter(state *mockVotingState, name string, freeShares, lockedShares int64) string {
	memberAddr := "member-" + name
	state.members[memberAddr] = &registry.Member{
		Address:        memberAddr,
		Registrar:      "registrar",
		Beneficiary:    name,
		Balances:       registry.BalanceVaultPair{SPT: "spt-free-" + name},
		BalancesLocked: registry.BalanceVaultPair{SPT: "spt-locked-" + name},
	}
	state.tokens["spt-free-"+name] = &types.TokenAccount{Address: "spt-free-" + name, Mint: "pool-mint", Owner: name, Amount: big.NewInt(freeShares)}
	state.tokens["spt-locked-"+name] = &types.TokenAccount{Address: "spt-locked-" + name, Mint: "pool-mint", Owner: name, Amount: big.NewInt(lockedShares)}
	return memberAddr
}

func setupVoting(t *testing.T, queueCap uint32) (*Engine, *mockVotingState, *Governor) {
	t.Helper()
	state := newMockVotingState()
	state.registrars["registrar"] = &registry.Registrar{
		Address:    "registrar",
		Mint:       "mint",
		PoolMint:   "pool-mint",
		StakeRate:  1,
		PoolSupply: big.NewInt(0),
	}
	state.tokens["alice-wallet"] = &types.TokenAccount{Address: "alice-wallet", Mint: "mint", Owner: "alice", Amount: big.NewInt(100)}

	engine := NewEngine()
	engine.SetState(state)
	engine.SetNowFunc(func() int64 { return testNow })

	governor, err := engine.CreateGovernor("registrar", "mint", big.NewInt(5), big.NewInt(10), 300, queueCap)
	if err != nil {
		t.Fatalf("create governor: %v", err)
	}
	return engine, state, governor
}

func walletAmount(t *testing.T, state *mockVotingState, addr string) *big.Int {
	t.Helper()
	acc, ok := state.tokens[addr]
	if !ok {
		t.Fatalf("token account %s missing", addr)
	}
	return acc.Amount
}

func TestCreateGovernorAllocatesQueues(t *testing.T) {
	_, state, governor := setupVoting(t, 4)

	for _, addr := range []string{governor.PollQueue, governor.ProposalQueue} {
		queue, ok := state.queues[addr]
		if !ok {
			t.Fatalf("expected queue at %s", addr)
		}
		if len(queue.Entries) != 4 || queue.Head != 0 {
			t.Fatalf("unexpected queue shape: %+v", queue)
		}
	}

	engine := NewEngine()
	engine.SetState(state)
	if _, err := engine.CreateGovernor("registrar", "mint", big.NewInt(5), big.NewInt(10), 300, 4); err == nil {
		t.Fatalf("expected duplicate governor rejection")
	}
	if _, err := engine.CreateGovernor("missing", "mint", big.NewInt(5), big.NewInt(10), 300, 4); err == nil {
		t.Fatalf("expected unknown registrar rejection")
	}
}

func TestCreatePollChargesBond(t *testing.T) {
	engine, state, governor := setupVoting(t, 2)

	poll, err := engine.CreatePoll("alice", governor.Address, "alice-wallet", "which?", []string{"asdf", "qwer", "zxcv"}, testNow+30)
	if err != nil {
		t.Fatalf("create poll: %v", err)
	}
	if got := walletAmount(t, state, "alice-wallet"); got.Cmp(big.NewInt(95)) != 0 {
		t.Fatalf("wallet after bond: got %s want 95", got)
	}
	if got := walletAmount(t, state, poll.Vault); got.Cmp(big.NewInt(5)) != 0 {
		t.Fatalf("bond vault: got %s want 5", got)
	}
	if len(poll.VoteWeights) != 3 {
		t.Fatalf("expected three zeroed tallies, got %d", len(poll.VoteWeights))
	}
	if poll.State(testNow) != PollOpen {
		t.Fatalf("fresh poll must be open")
	}
	if state.queues[governor.PollQueue].Entries[0] != poll.Address {
		t.Fatalf("poll not recorded in queue")
	}

	if _, err := engine.CreatePoll("alice", governor.Address, "alice-wallet", "solo", []string{"only"}, testNow+30); err == nil {
		t.Fatalf("expected single-option rejection")
	}
	if _, err := engine.CreatePoll("alice", governor.Address, "alice-wallet", "late", []string{"a", "b"}, testNow); err == nil {
		t.Fatalf("expected past end timestamp rejection")
	}
	if _, err := engine.CreatePoll("mallory", governor.Address, "alice-wallet", "steal", []string{"a", "b"}, testNow+30); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected foreign wallet rejection, got %v", err)
	}
}

func TestPollQueueFullLeavesQueueUntouched(t *testing.T) {
	engine, state, governor := setupVoting(t, 1)

	if _, err := engine.CreatePoll("alice", governor.Address, "alice-wallet", "first", []string{"a", "b"}, testNow+30); err != nil {
		t.Fatalf("create poll: %v", err)
	}
	if _, err := engine.CreatePoll("alice", governor.Address, "alice-wallet", "second", []string{"a", "b"}, testNow+30); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if state.queues[governor.PollQueue].Head != 1 {
		t.Fatalf("queue mutated by rejected poll")
	}
	// The bond for the rejected poll was never charged.
	if got := walletAmount(t, state, "alice-wallet"); got.Cmp(big.NewInt(95)) != 0 {
		t.Fatalf("wallet charged for rejected poll: %s", got)
	}
}

func TestVotePollRecordsWeightOnce(t *testing.T) {
	engine, state, governor := setupVoting(t, 2)
	emitter := &captureEmitter{}
	engine.SetEmitter(emitter)
	memberAddr := addVoter(state, "alice", 6, 4)

	poll, err := engine.CreatePoll("alice", governor.Address, "alice-wallet", "which?", []string{"asdf", "qwer", "zxcv"}, testNow+30)
	if err != nil {
		t.Fatalf("create poll: %v", err)
	}
	vote, err := engine.VotePoll("alice", memberAddr, poll.Address, 1)
	if err != nil {
		t.Fatalf("vote: %v", err)
	}
	if vote.Weight.Cmp(big.NewInt(10)) != 0 {
		t.Fatalf("vote weight: got %s want 10", vote.Weight)
	}
	if !vote.Burned {
		t.Fatalf("vote record must be burned on cast")
	}

	stored := state.polls[poll.Address]
	want := []int64{0, 10, 0}
	for i, w := range stored.VoteWeights {
		if w.Cmp(big.NewInt(want[i])) != 0 {
			t.Fatalf("tally[%d]: got %s want %d", i, w, want[i])
		}
	}

	if _, err := engine.VotePoll("alice", memberAddr, poll.Address, 2); !errors.Is(err, ErrVoteTwice) {
		t.Fatalf("expected ErrVoteTwice, got %v", err)
	}
	stored = state.polls[poll.Address]
	for i, w := range stored.VoteWeights {
		if w.Cmp(big.NewInt(want[i])) != 0 {
			t.Fatalf("tally mutated by rejected revote at %d: %s", i, w)
		}
	}

	var sawVote bool
	for _, evt := range emitter.events {
		if evt.EventType() == events.TypePollVote {
			sawVote = true
		}
	}
	if !sawVote {
		t.Fatalf("expected a poll vote event")
	}
}

func TestVotePollLifecycleAndBounds(t *testing.T) {
	engine, state, governor := setupVoting(t, 2)
	memberAddr := addVoter(state, "alice", 10, 0)

	poll, err := engine.CreatePoll("alice", governor.Address, "alice-wallet", "which?", []string{"a", "b"}, testNow+30)
	if err != nil {
		t.Fatalf("create poll: %v", err)
	}

	if _, err := engine.VotePoll("alice", memberAddr, poll.Address, 2); !errors.Is(err, ErrInvalidOptionIndex) {
		t.Fatalf("expected ErrInvalidOptionIndex, got %v", err)
	}

	engine.SetNowFunc(func() int64 { return testNow + 30 })
	if _, err := engine.VotePoll("alice", memberAddr, poll.Address, 0); !errors.Is(err, ErrPollNotOpen) {
		t.Fatalf("expected closed poll rejection at the end timestamp, got %v", err)
	}
}

func TestVotePollAuthorization(t *testing.T) {
	engine, state, governor := setupVoting(t, 2)
	memberAddr := addVoter(state, "alice", 10, 0)

	poll, err := engine.CreatePoll("alice", governor.Address, "alice-wallet", "which?", []string{"a", "b"}, testNow+30)
	if err != nil {
		t.Fatalf("create poll: %v", err)
	}

	if _, err := engine.VotePoll("mallory", memberAddr, poll.Address, 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected beneficiary rejection, got %v", err)
	}

	state.members[memberAddr].Registrar = "other-registrar"
	if _, err := engine.VotePoll("alice", memberAddr, poll.Address, 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected registrar mismatch rejection, got %v", err)
	}
	state.members[memberAddr].Registrar = "registrar"

	// A member with no shares still gets a ballot; it just carries no weight.
	broke := addVoter(state, "bob", 0, 0)
	vote, err := engine.VotePoll("bob", broke, poll.Address, 0)
	if err != nil {
		t.Fatalf("zero-weight vote: %v", err)
	}
	if vote.Weight.Sign() != 0 {
		t.Fatalf("zero-weight vote carries weight %s", vote.Weight)
	}
	if got := state.polls[poll.Address].VoteWeights[0]; got.Sign() != 0 {
		t.Fatalf("zero-weight vote moved the tally: %s", got)
	}
	if _, err := engine.VotePoll("bob", broke, poll.Address, 0); !errors.Is(err, ErrVoteTwice) {
		t.Fatalf("zero-weight vote must still burn the ballot, got %v", err)
	}
}

func TestUpdateGovernorRequiresAuthority(t *testing.T) {
	engine, state, governor := setupVoting(t, 2)
	state.registrars["registrar"].Authority = "admin"

	updated, err := engine.UpdateGovernor("admin", governor.Address, big.NewInt(25), 600)
	if err != nil {
		t.Fatalf("update governor: %v", err)
	}
	if updated.ProposalPrice.Cmp(big.NewInt(25)) != 0 {
		t.Fatalf("proposal price: got %s want 25", updated.ProposalPrice)
	}
	if updated.WindowSecs != 600 {
		t.Fatalf("window: got %d want 600", updated.WindowSecs)
	}

	// A nil price leaves the current price in place; a zero window keeps the window.
	updated, err = engine.UpdateGovernor("admin", governor.Address, nil, 0)
	if err != nil {
		t.Fatalf("no-op update: %v", err)
	}
	if updated.ProposalPrice.Cmp(big.NewInt(25)) != 0 || updated.WindowSecs != 600 {
		t.Fatalf("no-op update changed the governor: %+v", updated)
	}

	if _, err := engine.UpdateGovernor("mallory", governor.Address, big.NewInt(1), 0); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected non-authority rejection, got %v", err)
	}
	if _, err := engine.UpdateGovernor("admin", governor.Address, big.NewInt(-1), 0); err == nil {
		t.Fatalf("expected negative price rejection")
	}

	// New proposals open under the updated window and price.
	proposal, err := engine.CreateProposal("alice", governor.Address, "alice-wallet", "post-update", TransactionPayload{Target: "noop"})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	if proposal.EndTs != testNow+600 {
		t.Fatalf("proposal window: got %d want %d", proposal.EndTs, testNow+600)
	}
	if got := walletAmount(t, state, "alice-wallet"); got.Cmp(big.NewInt(75)) != 0 {
		t.Fatalf("wallet after updated bond: got %s want 75", got)
	}
}

func TestTallyResultRequiresClosedPoll(t *testing.T) {
	engine, state, governor := setupVoting(t, 2)
	alice := addVoter(state, "alice", 10, 0)
	bob := addVoter(state, "bob", 10, 0)

	poll, err := engine.CreatePoll("alice", governor.Address, "alice-wallet", "which?", []string{"a", "b", "c"}, testNow+30)
	if err != nil {
		t.Fatalf("create poll: %v", err)
	}
	if _, err := engine.VotePoll("alice", alice, poll.Address, 2); err != nil {
		t.Fatalf("vote alice: %v", err)
	}
	if _, err := engine.VotePoll("bob", bob, poll.Address, 1); err != nil {
		t.Fatalf("vote bob: %v", err)
	}

	if _, err := engine.TallyResult(poll.Address); !errors.Is(err, ErrPollNotClosed) {
		t.Fatalf("expected ErrPollNotClosed, got %v", err)
	}

	engine.SetNowFunc(func() int64 { return testNow + 31 })
	winner, err := engine.TallyResult(poll.Address)
	if err != nil {
		t.Fatalf("tally: %v", err)
	}
	// Equal weights on options 1 and 2 break to the lowest index.
	if winner != 1 {
		t.Fatalf("winner: got %d want 1", winner)
	}
}

func TestProposalPassesAboveSixtyPercent(t *testing.T) {
	engine, state, governor := setupVoting(t, 2)
	alice := addVoter(state, "alice", 61, 0)
	bob := addVoter(state, "bob", 39, 0)

	var executed []TransactionPayload
	engine.SetExecutor(func(tx TransactionPayload) error {
		executed = append(executed, tx)
		return nil
	})

	payload := TransactionPayload{Target: "params.stakeRate", Data: []byte{0x01, 0x02}}
	proposal, err := engine.CreateProposal("alice", governor.Address, "alice-wallet", "raise the rate", payload)
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	if proposal.EndTs != testNow+300 {
		t.Fatalf("proposal window: got %d want %d", proposal.EndTs, testNow+300)
	}
	if got := walletAmount(t, state, "alice-wallet"); got.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("wallet after proposal bond: got %s want 90", got)
	}

	if _, err := engine.VoteProposal("alice", alice, proposal.Address, true); err != nil {
		t.Fatalf("vote alice: %v", err)
	}
	if _, err := engine.VoteProposal("bob", bob, proposal.Address, false); err != nil {
		t.Fatalf("vote bob: %v", err)
	}

	if _, err := engine.ExecuteProposal(proposal.Address); !errors.Is(err, ErrPollNotClosed) {
		t.Fatalf("expected open proposal rejection, got %v", err)
	}

	engine.SetNowFunc(func() int64 { return testNow + 301 })
	passed, err := engine.ExecuteProposal(proposal.Address)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !passed {
		t.Fatalf("61%% approval must pass")
	}
	if len(executed) != 1 || executed[0].Target != payload.Target || !bytes.Equal(executed[0].Data, payload.Data) {
		t.Fatalf("executor payload mismatch: %+v", executed)
	}
	// The bond comes back on success.
	if got := walletAmount(t, state, "alice-wallet"); got.Cmp(big.NewInt(100)) != 0 {
		t.Fatalf("bond not refunded: %s", got)
	}
	if !state.proposals[proposal.Address].Burned {
		t.Fatalf("executed proposal must be burned")
	}
	if _, err := engine.ExecuteProposal(proposal.Address); !errors.Is(err, ErrProposalBurned) {
		t.Fatalf("expected ErrProposalBurned, got %v", err)
	}
}

func TestProposalFailsAtExactlySixtyPercent(t *testing.T) {
	engine, state, governor := setupVoting(t, 2)
	alice := addVoter(state, "alice", 60, 0)
	bob := addVoter(state, "bob", 40, 0)

	var executorCalled bool
	engine.SetExecutor(func(TransactionPayload) error {
		executorCalled = true
		return nil
	})

	proposal, err := engine.CreateProposal("alice", governor.Address, "alice-wallet", "on the line", TransactionPayload{Target: "noop"})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	if _, err := engine.VoteProposal("alice", alice, proposal.Address, true); err != nil {
		t.Fatalf("vote alice: %v", err)
	}
	if _, err := engine.VoteProposal("bob", bob, proposal.Address, false); err != nil {
		t.Fatalf("vote bob: %v", err)
	}

	engine.SetNowFunc(func() int64 { return testNow + 301 })
	passed, err := engine.ExecuteProposal(proposal.Address)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if passed {
		t.Fatalf("exactly 60%% approval must fail the strict bar")
	}
	if executorCalled {
		t.Fatalf("executor ran on a failed proposal")
	}
	// Failed proposals forfeit the bond.
	if got := walletAmount(t, state, "alice-wallet"); got.Cmp(big.NewInt(90)) != 0 {
		t.Fatalf("bond refunded on failure: %s", got)
	}
	if !state.proposals[proposal.Address].Burned {
		t.Fatalf("failed proposal must still burn")
	}
}

func TestProposalExecutorErrorLeavesProposalLive(t *testing.T) {
	engine, state, governor := setupVoting(t, 2)
	alice := addVoter(state, "alice", 100, 0)

	engine.SetExecutor(func(TransactionPayload) error {
		return errors.New("target rejected payload")
	})

	proposal, err := engine.CreateProposal("alice", governor.Address, "alice-wallet", "doomed", TransactionPayload{Target: "noop"})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	if _, err := engine.VoteProposal("alice", alice, proposal.Address, true); err != nil {
		t.Fatalf("vote: %v", err)
	}

	engine.SetNowFunc(func() int64 { return testNow + 301 })
	if _, err := engine.ExecuteProposal(proposal.Address); err == nil {
		t.Fatalf("expected executor failure to propagate")
	}
	if state.proposals[proposal.Address].Burned {
		t.Fatalf("proposal burned despite executor failure")
	}
}

func TestVoteProposalOneBallotPerMember(t *testing.T) {
	engine, state, governor := setupVoting(t, 2)
	alice := addVoter(state, "alice", 10, 0)

	proposal, err := engine.CreateProposal("alice", governor.Address, "alice-wallet", "double?", TransactionPayload{Target: "noop"})
	if err != nil {
		t.Fatalf("create proposal: %v", err)
	}
	if _, err := engine.VoteProposal("alice", alice, proposal.Address, true); err != nil {
		t.Fatalf("vote: %v", err)
	}
	if _, err := engine.VoteProposal("alice", alice, proposal.Address, false); !errors.Is(err, ErrVoteTwice) {
		t.Fatalf("expected ErrVoteTwice, got %v", err)
	}
	stored := state.proposals[proposal.Address]
	if stored.VoteYes.Cmp(big.NewInt(10)) != 0 || stored.VoteNo.Sign() != 0 {
		t.Fatalf("tally mutated by rejected revote: yes %s no %s", stored.VoteYes, stored.VoteNo)
	}
}

func TestGovQueueAppendUntilFull(t *testing.T) {
	q := NewGovQueue("queue", 2)
	for i := 0; i < 2; i++ {
		cursor, err := q.Append("entry")
		if err != nil {
			t.Fatalf("append %d: %v", i, err)
		}
		if cursor != uint32(i) {
			t.Fatalf("cursor %d assigned for append %d", cursor, i)
		}
	}
	if !q.Full() {
		t.Fatalf("queue should be full")
	}
	if _, err := q.Append("overflow"); !errors.Is(err, ErrQueueFull) {
		t.Fatalf("expected ErrQueueFull, got %v", err)
	}
	if q.Head != 2 {
		t.Fatalf("head mutated by rejected append: %d", q.Head)
	}
}
