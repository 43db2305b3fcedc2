package voting

import (
	"encoding/binary"
	"fmt"
	"math/big"
	"time"

	"stakereg/core/events"
	"stakereg/core/types"
	"stakereg/crypto"
	"stakereg/native/registry"
)

type engineState interface {
	RegistrarGet(addr string) (*registry.Registrar, bool, error)
	MemberGet(addr string) (*registry.Member, bool, error)
	GovernorGet(addr string) (*Governor, bool, error)
	GovernorPut(*Governor) error
	QueueGet(addr string) (*GovQueue, bool, error)
	QueuePut(*GovQueue) error
	PollGet(addr string) (*Poll, bool, error)
	PollPut(*Poll) error
	ProposalGet(addr string) (*Proposal, bool, error)
	ProposalPut(*Proposal) error
	// VoteCreate stores the vote only if no vote exists at its address and
	// returns ErrVoteTwice otherwise.
	VoteCreate(*Vote) error
	TokenGet(addr string) (*types.TokenAccount, bool, error)
	TokenPut(*types.TokenAccount) error
}

// Executor applies a passed proposal's transaction payload. The engine never
// interprets the payload itself.
type Executor func(TransactionPayload) error

// Engine validates poll lifecycle against the clock, computes eligible voting
// weight from live stake balances, and updates tallies atomically with vote
// recording. Every operation validates all inputs before its first write.
type Engine struct {
	state    engineState
	emitter  events.Emitter
	nowFn    func() int64
	executor Executor
}

// NewEngine creates a voting engine with a no-op emitter and no executor.
func NewEngine() *Engine {
	return &Engine{
		emitter: events.NoopEmitter{},
		nowFn:   func() int64 { return time.Now().Unix() },
	}
}

// SetState configures the state backend used by the engine.
func (e *Engine) SetState(state engineState) { e.state = state }

// SetEmitter configures the event emitter used by the engine. Passing nil
// resets the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetNowFunc overrides the time source used for lifecycle checks. Nil
// restores the default clock.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// SetExecutor wires the callback that applies passed proposal payloads.
func (e *Engine) SetExecutor(executor Executor) { e.executor = executor }

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil || event == nil {
		return
	}
	e.emitter.Emit(event)
}

func (e *Engine) now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// operationLocker is the optional lock a state backend exposes so a whole
// read-modify-write transition owns the store exclusively. Without it,
// concurrent ballots on the same poll could interleave their tally reads and
// writes and lose weight.
type operationLocker interface {
	LockOperations()
	UnlockOperations()
}

func (e *Engine) lockState() func() {
	if locker, ok := e.state.(operationLocker); ok {
		locker.LockOperations()
		return locker.UnlockOperations
	}
	return func() {}
}

// CreateGovernor allocates the governance configuration for a registrar along
// with its poll and proposal queues.
func (e *Engine) CreateGovernor(registrarAddr, mint string, pollPrice, proposalPrice *big.Int, windowSecs int64, queueCap uint32) (*Governor, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	if windowSecs <= 0 {
		return nil, fmt.Errorf("voting: window must be positive")
	}
	if queueCap == 0 {
		return nil, fmt.Errorf("voting: queue capacity must be positive")
	}
	pollBond := cloneAmount(pollPrice)
	proposalBond := cloneAmount(proposalPrice)
	if pollBond.Sign() < 0 || proposalBond.Sign() < 0 {
		return nil, fmt.Errorf("voting: prices must not be negative")
	}
	defer e.lockState()()
	if _, ok, err := e.state.RegistrarGet(registrarAddr); err != nil {
		return nil, err
	} else if !ok {
		return nil, fmt.Errorf("voting: registrar %s not found", registrarAddr)
	}
	addr := crypto.DeriveAddress(crypto.StakePrefix, []byte("governor"), []byte(registrarAddr), []byte(mint))
	if _, ok, err := e.state.GovernorGet(addr.String()); err != nil {
		return nil, err
	} else if ok {
		return nil, fmt.Errorf("voting: governor %s already exists", addr)
	}
	const nonce = uint8(0)
	governor := &Governor{
		Address:       addr.String(),
		Registrar:     registrarAddr,
		Mint:          mint,
		Nonce:         nonce,
		PollPrice:     pollBond,
		ProposalPrice: proposalBond,
		WindowSecs:    windowSecs,
		PollQueue:     crypto.DeriveAddress(crypto.StakePrefix, []byte("poll-queue"), addr.Bytes()).String(),
		ProposalQueue: crypto.DeriveAddress(crypto.StakePrefix, []byte("proposal-queue"), addr.Bytes()).String(),
	}
	if err := e.state.QueuePut(NewGovQueue(governor.PollQueue, queueCap)); err != nil {
		return nil, err
	}
	if err := e.state.QueuePut(NewGovQueue(governor.ProposalQueue, queueCap)); err != nil {
		return nil, err
	}
	if err := e.state.GovernorPut(governor); err != nil {
		return nil, err
	}
	e.emit(events.GovernorCreated{Governor: governor.Address, Registrar: registrarAddr, Mint: mint})
	return governor.Clone(), nil
}

// UpdateGovernor adjusts the proposal price and voting window of an existing
// governor. Only the authority of the governor's registrar may update. A nil
// price or non-positive window leaves the respective field unchanged.
func (e *Engine) UpdateGovernor(caller, governorAddr string, proposalPrice *big.Int, windowSecs int64) (*Governor, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	if proposalPrice != nil && proposalPrice.Sign() < 0 {
		return nil, fmt.Errorf("voting: price must not be negative")
	}
	defer e.lockState()()
	governor, ok, err := e.state.GovernorGet(governorAddr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("voting: governor %s not found", governorAddr)
	}
	registrar, ok, err := e.state.RegistrarGet(governor.Registrar)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("voting: registrar %s not found", governor.Registrar)
	}
	if registrar.Authority != caller {
		return nil, fmt.Errorf("%w: caller is not the registrar authority", ErrUnauthorized)
	}
	if proposalPrice != nil {
		governor.ProposalPrice = new(big.Int).Set(proposalPrice)
	}
	if windowSecs > 0 {
		governor.WindowSecs = windowSecs
	}
	if err := e.state.GovernorPut(governor); err != nil {
		return nil, err
	}
	e.emit(events.GovernorUpdated{
		Governor:      governor.Address,
		ProposalPrice: cloneAmount(governor.ProposalPrice),
		WindowSecs:    governor.WindowSecs,
	})
	return governor.Clone(), nil
}

func cursorSeed(cursor uint32) []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], cursor)
	return buf[:]
}

// chargeBond moves the bond price from the creator's depositor account into a
// freshly derived vault owned by the record's signer. A zero price skips the
// transfer but still allocates the vault.
func (e *Engine) chargeBond(caller, depositorAddr string, governor *Governor, record crypto.Address, nonce uint8, price *big.Int) (string, *types.TokenAccount, *types.TokenAccount, error) {
	vaultAddr := crypto.DeriveAddress(crypto.StakePrefix, []byte("bond-vault"), record.Bytes()).String()
	signer := crypto.DeriveSigner(record, nonce).String()
	vault := &types.TokenAccount{Address: vaultAddr, Mint: governor.Mint, Owner: signer, Amount: big.NewInt(0)}
	if price.Sign() == 0 {
		return vaultAddr, vault, nil, nil
	}
	depositor, ok, err := e.state.TokenGet(depositorAddr)
	if err != nil {
		return "", nil, nil, err
	}
	if !ok {
		return "", nil, nil, fmt.Errorf("voting: token account %s not found", depositorAddr)
	}
	if depositor.Owner != caller {
		return "", nil, nil, fmt.Errorf("%w: depositor account not owned by caller", ErrUnauthorized)
	}
	if depositor.Mint != governor.Mint {
		return "", nil, nil, fmt.Errorf("voting: depositor mint %s does not match governor", depositor.Mint)
	}
	if depositor.Amount.Cmp(price) < 0 {
		return "", nil, nil, ErrInsufficientFunds
	}
	depositor.Amount = new(big.Int).Sub(depositor.Amount, price)
	vault.Amount = new(big.Int).Set(price)
	return vaultAddr, vault, depositor, nil
}

// CreatePoll admits a poll to the governor's queue, charging the poll price
// from the creator into the poll's bond vault. The poll opens immediately and
// closes at endTs.
func (e *Engine) CreatePoll(caller, governorAddr, depositorAddr, msg string, options []string, endTs int64) (*Poll, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	defer e.lockState()()
	governor, ok, err := e.state.GovernorGet(governorAddr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("voting: governor %s not found", governorAddr)
	}
	if len(options) < 2 {
		return nil, fmt.Errorf("voting: at least two options required")
	}
	now := e.now()
	if endTs <= now {
		return nil, fmt.Errorf("voting: end timestamp must be in the future")
	}
	queue, ok, err := e.state.QueueGet(governor.PollQueue)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("voting: poll queue %s not found", governor.PollQueue)
	}
	if queue.Full() {
		return nil, ErrQueueFull
	}
	const nonce = uint8(0)
	pollAddr := crypto.DeriveAddress(crypto.StakePrefix, []byte("poll"), []byte(governor.Address), cursorSeed(queue.Head))
	vaultAddr, vault, depositor, err := e.chargeBond(caller, depositorAddr, governor, pollAddr, nonce, governor.PollPrice)
	if err != nil {
		return nil, err
	}

	weights := make([]*big.Int, len(options))
	for i := range weights {
		weights[i] = big.NewInt(0)
	}
	poll := &Poll{
		Address:     pollAddr.String(),
		Governor:    governor.Address,
		Creator:     caller,
		Message:     msg,
		Options:     append([]string(nil), options...),
		StartTs:     now,
		EndTs:       endTs,
		VoteWeights: weights,
		Vault:       vaultAddr,
		Nonce:       nonce,
	}
	if _, err := queue.Append(poll.Address); err != nil {
		return nil, err
	}
	if depositor != nil {
		if err := e.state.TokenPut(depositor); err != nil {
			return nil, err
		}
	}
	if err := e.state.TokenPut(vault); err != nil {
		return nil, err
	}
	if err := e.state.PollPut(poll); err != nil {
		return nil, err
	}
	if err := e.state.QueuePut(queue); err != nil {
		return nil, err
	}
	e.emit(events.PollCreated{Poll: poll.Address, Governor: governor.Address, Creator: caller, EndTs: endTs})
	return poll.Clone(), nil
}

// memberWeight resolves the caller's member record under the governor's
// registrar and computes its live voting weight: unlocked plus locked pool
// shares at call time.
func (e *Engine) memberWeight(caller, memberAddr string, governor *Governor) (*registry.Member, *big.Int, error) {
	member, ok, err := e.state.MemberGet(memberAddr)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("voting: member %s not found", memberAddr)
	}
	if member.Beneficiary != caller {
		return nil, nil, fmt.Errorf("%w: caller is not the member beneficiary", ErrUnauthorized)
	}
	if member.Registrar != governor.Registrar {
		return nil, nil, fmt.Errorf("%w: member belongs to a different registrar", ErrUnauthorized)
	}
	weight := big.NewInt(0)
	for _, sptAddr := range []string{member.Balances.SPT, member.BalancesLocked.SPT} {
		acc, ok, err := e.state.TokenGet(sptAddr)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			return nil, nil, fmt.Errorf("voting: token account %s not found", sptAddr)
		}
		if acc.Amount != nil {
			weight.Add(weight, acc.Amount)
		}
	}
	// A member with no shares still casts: the ballot lands with weight zero
	// and burns the one-time vote account.
	return member, weight, nil
}

// VotePoll records a one-time stake-weighted ballot for the given option. The
// vote record and tally update land in a single transition: the vote account
// is created (or the call rejected with ErrVoteTwice) and the option weight
// incremented together.
func (e *Engine) VotePoll(caller, memberAddr, pollAddr string, selector uint32) (*Vote, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	defer e.lockState()()
	poll, ok, err := e.state.PollGet(pollAddr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("voting: poll %s not found", pollAddr)
	}
	now := e.now()
	if state := poll.State(now); state != PollOpen {
		return nil, fmt.Errorf("%w: poll is %s", ErrPollNotOpen, state)
	}
	if int(selector) >= len(poll.Options) {
		return nil, fmt.Errorf("%w: selector %d of %d options", ErrInvalidOptionIndex, selector, len(poll.Options))
	}
	governor, ok, err := e.state.GovernorGet(poll.Governor)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("voting: governor %s not found", poll.Governor)
	}
	member, weight, err := e.memberWeight(caller, memberAddr, governor)
	if err != nil {
		return nil, err
	}

	vote := &Vote{
		Address:  crypto.DeriveAddress(crypto.StakePrefix, []byte("vote"), []byte(member.Address), []byte(poll.Address)).String(),
		Member:   member.Address,
		Target:   poll.Address,
		Selector: selector,
		Weight:   weight,
		Burned:   true,
		Ts:       now,
	}
	if err := e.state.VoteCreate(vote); err != nil {
		return nil, err
	}
	poll.VoteWeights[selector] = new(big.Int).Add(poll.VoteWeights[selector], weight)
	if err := e.state.PollPut(poll); err != nil {
		return nil, err
	}
	e.emit(events.PollVote{Poll: poll.Address, Member: member.Address, Selector: selector, Weight: weight})
	return vote.Clone(), nil
}

// TallyResult returns the winning option index of a closed poll. Ties break
// to the lowest option index.
func (e *Engine) TallyResult(pollAddr string) (uint32, error) {
	if e == nil || e.state == nil {
		return 0, errStateNotConfigured
	}
	poll, ok, err := e.state.PollGet(pollAddr)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, fmt.Errorf("voting: poll %s not found", pollAddr)
	}
	if state := poll.State(e.now()); state != PollClosed {
		return 0, fmt.Errorf("%w: poll is %s", ErrPollNotClosed, state)
	}
	winner := uint32(0)
	max := big.NewInt(0)
	for i, w := range poll.VoteWeights {
		if w != nil && w.Cmp(max) > 0 {
			winner = uint32(i)
			max = w
		}
	}
	return winner, nil
}

// CreateProposal admits a binding proposal to the governor's queue. The
// voting window is the governor's configured duration starting now, and the
// bond is the proposal price.
func (e *Engine) CreateProposal(caller, governorAddr, depositorAddr, msg string, tx TransactionPayload) (*Proposal, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	defer e.lockState()()
	governor, ok, err := e.state.GovernorGet(governorAddr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("voting: governor %s not found", governorAddr)
	}
	queue, ok, err := e.state.QueueGet(governor.ProposalQueue)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("voting: proposal queue %s not found", governor.ProposalQueue)
	}
	if queue.Full() {
		return nil, ErrQueueFull
	}
	const nonce = uint8(0)
	now := e.now()
	proposalAddr := crypto.DeriveAddress(crypto.StakePrefix, []byte("proposal"), []byte(governor.Address), cursorSeed(queue.Head))
	vaultAddr, vault, depositor, err := e.chargeBond(caller, depositorAddr, governor, proposalAddr, nonce, governor.ProposalPrice)
	if err != nil {
		return nil, err
	}

	proposal := &Proposal{
		Address:   proposalAddr.String(),
		Governor:  governor.Address,
		Proposer:  caller,
		Depositor: depositorAddr,
		Message:   msg,
		StartTs:   now,
		EndTs:     now + governor.WindowSecs,
		VoteYes:   big.NewInt(0),
		VoteNo:    big.NewInt(0),
		Tx:        TransactionPayload{Target: tx.Target, Data: append([]byte(nil), tx.Data...)},
		Vault:     vaultAddr,
		Nonce:     nonce,
	}
	if _, err := queue.Append(proposal.Address); err != nil {
		return nil, err
	}
	if depositor != nil {
		if err := e.state.TokenPut(depositor); err != nil {
			return nil, err
		}
	}
	if err := e.state.TokenPut(vault); err != nil {
		return nil, err
	}
	if err := e.state.ProposalPut(proposal); err != nil {
		return nil, err
	}
	if err := e.state.QueuePut(queue); err != nil {
		return nil, err
	}
	e.emit(events.ProposalCreated{Proposal: proposal.Address, Governor: governor.Address, Proposer: caller, EndTs: proposal.EndTs})
	return proposal.Clone(), nil
}

// VoteProposal records a one-time stake-weighted yes/no ballot on an open
// proposal.
func (e *Engine) VoteProposal(caller, memberAddr, proposalAddr string, approve bool) (*Vote, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	defer e.lockState()()
	proposal, ok, err := e.state.ProposalGet(proposalAddr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("voting: proposal %s not found", proposalAddr)
	}
	now := e.now()
	if state := proposal.State(now); state != PollOpen {
		return nil, fmt.Errorf("%w: proposal is %s", ErrPollNotOpen, state)
	}
	governor, ok, err := e.state.GovernorGet(proposal.Governor)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("voting: governor %s not found", proposal.Governor)
	}
	member, weight, err := e.memberWeight(caller, memberAddr, governor)
	if err != nil {
		return nil, err
	}

	selector := ProposalSelectorNo
	if approve {
		selector = ProposalSelectorYes
	}
	vote := &Vote{
		Address:  crypto.DeriveAddress(crypto.StakePrefix, []byte("vote"), []byte(member.Address), []byte(proposal.Address)).String(),
		Member:   member.Address,
		Target:   proposal.Address,
		Selector: selector,
		Weight:   weight,
		Burned:   true,
		Ts:       now,
	}
	if err := e.state.VoteCreate(vote); err != nil {
		return nil, err
	}
	if approve {
		proposal.VoteYes = new(big.Int).Add(proposal.VoteYes, weight)
	} else {
		proposal.VoteNo = new(big.Int).Add(proposal.VoteNo, weight)
	}
	if err := e.state.ProposalPut(proposal); err != nil {
		return nil, err
	}
	e.emit(events.ProposalVote{Proposal: proposal.Address, Member: member.Address, Approve: approve, Weight: weight})
	return vote.Clone(), nil
}

// ExecuteProposal determines the outcome of a closed proposal and burns it.
// The proposal passes when yes weight strictly exceeds 60% of the cast
// weight; a passed payload is handed to the configured executor and the bond
// refunded to the account that paid it. Execution happens at most once.
func (e *Engine) ExecuteProposal(proposalAddr string) (bool, error) {
	if e == nil || e.state == nil {
		return false, errStateNotConfigured
	}
	defer e.lockState()()
	proposal, ok, err := e.state.ProposalGet(proposalAddr)
	if err != nil {
		return false, err
	}
	if !ok {
		return false, fmt.Errorf("voting: proposal %s not found", proposalAddr)
	}
	if proposal.Burned {
		return false, ErrProposalBurned
	}
	if state := proposal.State(e.now()); state != PollClosed {
		return false, fmt.Errorf("%w: proposal is %s", ErrPollNotClosed, state)
	}

	total := new(big.Int).Add(proposal.VoteYes, proposal.VoteNo)
	passed := false
	if total.Sign() > 0 {
		// Integer percentage, matching the strict 60% bar.
		ratio := new(big.Int).Div(new(big.Int).Mul(proposal.VoteYes, big.NewInt(100)), total)
		passed = ratio.Cmp(big.NewInt(60)) > 0
	}

	if passed && e.executor != nil {
		if err := e.executor(proposal.Tx); err != nil {
			return false, fmt.Errorf("voting: execute proposal %s: %w", proposal.Address, err)
		}
	}
	if passed {
		if err := e.refundBond(proposal); err != nil {
			return false, err
		}
	}
	proposal.Burned = true
	if err := e.state.ProposalPut(proposal); err != nil {
		return false, err
	}
	e.emit(events.ProposalExecuted{Proposal: proposal.Address, Passed: passed, VoteYes: proposal.VoteYes, VoteNo: proposal.VoteNo})
	return passed, nil
}

// refundBond returns the bond vault balance to the depositor account that
// funded it.
func (e *Engine) refundBond(proposal *Proposal) error {
	vault, ok, err := e.state.TokenGet(proposal.Vault)
	if err != nil {
		return err
	}
	if !ok || vault.Amount == nil || vault.Amount.Sign() == 0 {
		return nil
	}
	depositor, ok, err := e.state.TokenGet(proposal.Depositor)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("voting: depositor account %s not found", proposal.Depositor)
	}
	depositor.Amount = new(big.Int).Add(depositor.Amount, vault.Amount)
	vault.Amount = big.NewInt(0)
	if err := e.state.TokenPut(depositor); err != nil {
		return err
	}
	return e.state.TokenPut(vault)
}

// Poll returns a copy of the stored poll record.
func (e *Engine) Poll(addr string) (*Poll, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	poll, ok, err := e.state.PollGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("voting: poll %s not found", addr)
	}
	return poll.Clone(), nil
}

// Proposal returns a copy of the stored proposal record.
func (e *Engine) Proposal(addr string) (*Proposal, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	proposal, ok, err := e.state.ProposalGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("voting: proposal %s not found", addr)
	}
	return proposal.Clone(), nil
}

// Governor returns a copy of the stored governor record.
func (e *Engine) Governor(addr string) (*Governor, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	governor, ok, err := e.state.GovernorGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("voting: governor %s not found", addr)
	}
	return governor.Clone(), nil
}
