package registry

import (
	"fmt"
	"math/big"
	"time"

	"stakereg/core/events"
	"stakereg/core/types"
	"stakereg/crypto"
)

type engineState interface {
	RegistrarGet(addr string) (*Registrar, bool, error)
	RegistrarPut(*Registrar) error
	MemberGet(addr string) (*Member, bool, error)
	MemberPut(*Member) error
	RewardQueueGet(addr string) (*RewardQueue, bool, error)
	RewardQueuePut(*RewardQueue) error
	TokenGet(addr string) (*types.TokenAccount, bool, error)
	TokenPut(*types.TokenAccount) error
}

// Engine converts deposits into pool shares and back, enforcing the stake
// rate and the locked pair's withdrawal timelock, and appending reward-queue
// events for the external distributor. Every operation validates all inputs
// before its first write so a rejected call leaves state untouched.
type Engine struct {
	state   engineState
	emitter events.Emitter
	nowFn   func() int64
}

// NewEngine creates a staking engine with a no-op emitter and a UTC clock.
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

// SetNowFunc overrides the time source used for timelock checks. Nil restores
// the default clock.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

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
// concurrent operations could interleave their reads and writes and lose
// updates.
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

func cloneAmount(v *big.Int) *big.Int {
	if v == nil {
		return big.NewInt(0)
	}
	return new(big.Int).Set(v)
}

// InitializeRegistrar creates the global staking pool configuration along
// with its pool mint and reward queue. The stake rate is fixed at creation
// and must be positive.
func (e *Engine) InitializeRegistrar(authority, mint string, stakeRate uint64, timelockSecs int64, rewardQueueCap uint32) (*Registrar, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	if stakeRate == 0 {
		return nil, fmt.Errorf("%w: stake rate must be positive", ErrInvalidAmount)
	}
	if timelockSecs < 0 {
		return nil, fmt.Errorf("%w: timelock must not be negative", ErrInvalidAmount)
	}
	if rewardQueueCap == 0 {
		return nil, fmt.Errorf("%w: reward queue capacity must be positive", ErrInvalidAmount)
	}
	defer e.lockState()()
	addr := crypto.DeriveAddress(crypto.StakePrefix, []byte("registrar"), []byte(authority), []byte(mint)).String()
	if _, ok, err := e.state.RegistrarGet(addr); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrRegistrarExists
	}

	// Any nonce yields a valid derivation here; zero is canonical.
	const nonce = uint8(0)
	queueAddr := crypto.DeriveAddress(crypto.StakePrefix, []byte("reward-queue"), []byte(addr)).String()
	registrar := &Registrar{
		Address:            addr,
		Authority:          authority,
		Mint:               mint,
		PoolMint:           crypto.DeriveAddress(crypto.StakePrefix, []byte("pool-mint"), []byte(addr)).String(),
		Nonce:              nonce,
		StakeRate:          stakeRate,
		WithdrawalTimelock: timelockSecs,
		RewardQueue:        queueAddr,
		PoolSupply:         big.NewInt(0),
	}
	if err := e.state.RewardQueuePut(NewRewardQueue(queueAddr, addr, rewardQueueCap)); err != nil {
		return nil, err
	}
	if err := e.state.RegistrarPut(registrar); err != nil {
		return nil, err
	}
	return registrar.Clone(), nil
}

// CreateMember binds a beneficiary to a registrar and allocates both
// balance-vault pairs. The member address is derived from the
// (registrar, beneficiary) pair, so a second call fails with ErrMemberExists.
func (e *Engine) CreateMember(registrarAddr, beneficiary string) (*Member, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	defer e.lockState()()
	registrar, ok, err := e.state.RegistrarGet(registrarAddr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("registry: registrar %s not found", registrarAddr)
	}
	memberAddr := crypto.DeriveAddress(crypto.StakePrefix, []byte("member"), []byte(registrar.Address), []byte(beneficiary))
	if _, ok, err := e.state.MemberGet(memberAddr.String()); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrMemberExists
	}
	const nonce = uint8(0)
	signer := crypto.DeriveSigner(memberAddr, nonce).String()

	member := &Member{
		Address:     memberAddr.String(),
		Registrar:   registrar.Address,
		Beneficiary: beneficiary,
		Nonce:       nonce,
	}
	member.Balances = e.derivePair(memberAddr, "free")
	member.BalancesLocked = e.derivePair(memberAddr, "locked")
	for _, acc := range pairAccounts(member.Balances, registrar, signer) {
		if err := e.state.TokenPut(acc); err != nil {
			return nil, err
		}
	}
	for _, acc := range pairAccounts(member.BalancesLocked, registrar, signer) {
		if err := e.state.TokenPut(acc); err != nil {
			return nil, err
		}
	}
	if err := e.state.MemberPut(member); err != nil {
		return nil, err
	}
	return member.Clone(), nil
}

func (e *Engine) derivePair(member crypto.Address, label string) BalanceVaultPair {
	return BalanceVaultPair{
		Vault:      crypto.DeriveAddress(crypto.StakePrefix, []byte("vault"), []byte(label), member.Bytes()).String(),
		VaultStake: crypto.DeriveAddress(crypto.StakePrefix, []byte("vault-stake"), []byte(label), member.Bytes()).String(),
		SPT:        crypto.DeriveAddress(crypto.StakePrefix, []byte("spt"), []byte(label), member.Bytes()).String(),
	}
}

func pairAccounts(pair BalanceVaultPair, registrar *Registrar, owner string) []*types.TokenAccount {
	return []*types.TokenAccount{
		{Address: pair.Vault, Mint: registrar.Mint, Owner: owner, Amount: big.NewInt(0)},
		{Address: pair.VaultStake, Mint: registrar.Mint, Owner: owner, Amount: big.NewInt(0)},
		{Address: pair.SPT, Mint: registrar.PoolMint, Owner: owner, Amount: big.NewInt(0)},
	}
}

func (e *Engine) loadMember(addr string) (*Member, *Registrar, error) {
	member, ok, err := e.state.MemberGet(addr)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("registry: member %s not found", addr)
	}
	registrar, ok, err := e.state.RegistrarGet(member.Registrar)
	if err != nil {
		return nil, nil, err
	}
	if !ok {
		return nil, nil, fmt.Errorf("registry: registrar %s not found", member.Registrar)
	}
	return member, registrar, nil
}

func (e *Engine) loadToken(addr string) (*types.TokenAccount, error) {
	acc, ok, err := e.state.TokenGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("registry: token account %s not found", addr)
	}
	return acc, nil
}

// Deposit moves raw tokens from a depositor-owned account into the selected
// vault. No conversion to pool shares happens here.
func (e *Engine) Deposit(caller, memberAddr, depositorAddr string, amount *big.Int, locked bool) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	amt := cloneAmount(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("%w: deposit must be positive", ErrInvalidAmount)
	}
	defer e.lockState()()
	member, registrar, err := e.loadMember(memberAddr)
	if err != nil {
		return err
	}
	if member.Beneficiary != caller {
		return fmt.Errorf("%w: caller is not the member beneficiary", ErrUnauthorized)
	}
	depositor, err := e.loadToken(depositorAddr)
	if err != nil {
		return err
	}
	if depositor.Owner != caller {
		return fmt.Errorf("%w: depositor account not owned by caller", ErrUnauthorized)
	}
	if depositor.Mint != registrar.Mint {
		return fmt.Errorf("%w: depositor mint %s does not match registrar", ErrInvalidAmount, depositor.Mint)
	}
	if depositor.Amount.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	pair := member.Pair(locked)
	vault, err := e.loadToken(pair.Vault)
	if err != nil {
		return err
	}

	depositor.Amount = new(big.Int).Sub(depositor.Amount, amt)
	vault.Amount = new(big.Int).Add(vault.Amount, amt)
	if locked {
		pair.LastUpdateTs = e.now()
	}
	if err := e.state.TokenPut(depositor); err != nil {
		return err
	}
	if err := e.state.TokenPut(vault); err != nil {
		return err
	}
	if err := e.state.MemberPut(member); err != nil {
		return err
	}
	e.emit(events.StakeDeposited{Member: member.Address, Depositor: depositorAddr, Amount: amt, Locked: locked})
	return nil
}

// Stake converts vault tokens into staked tokens and mints pool shares at the
// registrar's fixed rate: sptAmount shares cost sptAmount*stakeRate raw
// tokens. The new total staked supply is snapshotted onto the reward queue.
func (e *Engine) Stake(caller, memberAddr string, sptAmount *big.Int, locked bool) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	shares := cloneAmount(sptAmount)
	if shares.Sign() <= 0 {
		return fmt.Errorf("%w: stake must be positive", ErrInvalidAmount)
	}
	defer e.lockState()()
	member, registrar, err := e.loadMember(memberAddr)
	if err != nil {
		return err
	}
	if member.Beneficiary != caller {
		return fmt.Errorf("%w: caller is not the member beneficiary", ErrUnauthorized)
	}
	raw := new(big.Int).Mul(shares, new(big.Int).SetUint64(registrar.StakeRate))
	pair := member.Pair(locked)
	vault, err := e.loadToken(pair.Vault)
	if err != nil {
		return err
	}
	if vault.Amount.Cmp(raw) < 0 {
		return fmt.Errorf("%w: stake exceeds available balance", ErrInvalidAmount)
	}
	vaultStake, err := e.loadToken(pair.VaultStake)
	if err != nil {
		return err
	}
	spt, err := e.loadToken(pair.SPT)
	if err != nil {
		return err
	}
	queue, ok, err := e.state.RewardQueueGet(registrar.RewardQueue)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("registry: reward queue %s not found", registrar.RewardQueue)
	}

	vault.Amount = new(big.Int).Sub(vault.Amount, raw)
	vaultStake.Amount = new(big.Int).Add(vaultStake.Amount, raw)
	spt.Amount = new(big.Int).Add(spt.Amount, shares)
	registrar.PoolSupply = new(big.Int).Add(registrar.PoolSupply, shares)
	if locked {
		pair.LastUpdateTs = e.now()
	}
	cursor := queue.Append(RewardEvent{
		Kind:       RewardEventStake,
		Member:     member.Address,
		Shares:     shares,
		PoolSupply: cloneAmount(registrar.PoolSupply),
		Locked:     locked,
		Ts:         e.now(),
	})
	for _, acc := range []*types.TokenAccount{vault, vaultStake, spt} {
		if err := e.state.TokenPut(acc); err != nil {
			return err
		}
	}
	if err := e.state.RewardQueuePut(queue); err != nil {
		return err
	}
	if err := e.state.RegistrarPut(registrar); err != nil {
		return err
	}
	if err := e.state.MemberPut(member); err != nil {
		return err
	}
	e.emit(events.Staked{
		Member:     member.Address,
		Shares:     shares,
		Amount:     raw,
		PoolSupply: cloneAmount(registrar.PoolSupply),
		Locked:     locked,
		Cursor:     cursor,
	})
	return nil
}

// Unstake burns pool shares and returns sptAmount*stakeRate tokens from the
// stake vault to the vault. The locked pair rejects with ErrWithdrawalLocked
// until the registrar timelock has elapsed since the pair's last mutation.
func (e *Engine) Unstake(caller, memberAddr string, sptAmount *big.Int, locked bool) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	shares := cloneAmount(sptAmount)
	if shares.Sign() <= 0 {
		return fmt.Errorf("%w: unstake must be positive", ErrInvalidAmount)
	}
	defer e.lockState()()
	member, registrar, err := e.loadMember(memberAddr)
	if err != nil {
		return err
	}
	if member.Beneficiary != caller {
		return fmt.Errorf("%w: caller is not the member beneficiary", ErrUnauthorized)
	}
	pair := member.Pair(locked)
	if locked {
		if err := e.checkTimelock(pair, registrar); err != nil {
			return err
		}
	}
	spt, err := e.loadToken(pair.SPT)
	if err != nil {
		return err
	}
	if spt.Amount.Cmp(shares) < 0 {
		return fmt.Errorf("%w: unstake exceeds pool share balance", ErrInvalidAmount)
	}
	raw := new(big.Int).Mul(shares, new(big.Int).SetUint64(registrar.StakeRate))
	vault, err := e.loadToken(pair.Vault)
	if err != nil {
		return err
	}
	vaultStake, err := e.loadToken(pair.VaultStake)
	if err != nil {
		return err
	}
	if vaultStake.Amount.Cmp(raw) < 0 {
		return fmt.Errorf("registry: stake vault %s below share obligation", pair.VaultStake)
	}
	queue, ok, err := e.state.RewardQueueGet(registrar.RewardQueue)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("registry: reward queue %s not found", registrar.RewardQueue)
	}

	vaultStake.Amount = new(big.Int).Sub(vaultStake.Amount, raw)
	vault.Amount = new(big.Int).Add(vault.Amount, raw)
	spt.Amount = new(big.Int).Sub(spt.Amount, shares)
	registrar.PoolSupply = new(big.Int).Sub(registrar.PoolSupply, shares)
	if locked {
		pair.LastUpdateTs = e.now()
	}
	cursor := queue.Append(RewardEvent{
		Kind:       RewardEventUnstake,
		Member:     member.Address,
		Shares:     shares,
		PoolSupply: cloneAmount(registrar.PoolSupply),
		Locked:     locked,
		Ts:         e.now(),
	})
	for _, acc := range []*types.TokenAccount{vault, vaultStake, spt} {
		if err := e.state.TokenPut(acc); err != nil {
			return err
		}
	}
	if err := e.state.RewardQueuePut(queue); err != nil {
		return err
	}
	if err := e.state.RegistrarPut(registrar); err != nil {
		return err
	}
	if err := e.state.MemberPut(member); err != nil {
		return err
	}
	e.emit(events.Unstaked{
		Member:     member.Address,
		Shares:     shares,
		Amount:     raw,
		PoolSupply: cloneAmount(registrar.PoolSupply),
		Locked:     locked,
		Cursor:     cursor,
	})
	return nil
}

// Withdraw moves raw tokens from the selected vault back into a
// depositor-owned account. The locked pair is subject to the timelock.
func (e *Engine) Withdraw(caller, memberAddr, depositorAddr string, amount *big.Int, locked bool) error {
	if e == nil || e.state == nil {
		return errStateNotConfigured
	}
	amt := cloneAmount(amount)
	if amt.Sign() <= 0 {
		return fmt.Errorf("%w: withdrawal must be positive", ErrInvalidAmount)
	}
	defer e.lockState()()
	member, registrar, err := e.loadMember(memberAddr)
	if err != nil {
		return err
	}
	if member.Beneficiary != caller {
		return fmt.Errorf("%w: caller is not the member beneficiary", ErrUnauthorized)
	}
	pair := member.Pair(locked)
	if locked {
		if err := e.checkTimelock(pair, registrar); err != nil {
			return err
		}
	}
	vault, err := e.loadToken(pair.Vault)
	if err != nil {
		return err
	}
	if err := e.verifyVaultOwner(member, vault); err != nil {
		return err
	}
	if vault.Amount.Cmp(amt) < 0 {
		return ErrInsufficientFunds
	}
	depositor, err := e.loadToken(depositorAddr)
	if err != nil {
		return err
	}
	if depositor.Owner != caller {
		return fmt.Errorf("%w: depositor account not owned by caller", ErrUnauthorized)
	}
	if depositor.Mint != registrar.Mint {
		return fmt.Errorf("%w: depositor mint %s does not match registrar", ErrInvalidAmount, depositor.Mint)
	}

	vault.Amount = new(big.Int).Sub(vault.Amount, amt)
	depositor.Amount = new(big.Int).Add(depositor.Amount, amt)
	if locked {
		pair.LastUpdateTs = e.now()
	}
	if err := e.state.TokenPut(vault); err != nil {
		return err
	}
	if err := e.state.TokenPut(depositor); err != nil {
		return err
	}
	if err := e.state.MemberPut(member); err != nil {
		return err
	}
	e.emit(events.StakeWithdrawn{Member: member.Address, Depositor: depositorAddr, Amount: amt, Locked: locked})
	return nil
}

// verifyVaultOwner confirms the vault is still controlled by the member's
// derived signer before funds leave it.
func (e *Engine) verifyVaultOwner(member *Member, vault *types.TokenAccount) error {
	base, err := crypto.DecodeAddress(member.Address)
	if err != nil {
		return fmt.Errorf("registry: decode member address: %w", err)
	}
	owner, err := crypto.DecodeAddress(vault.Owner)
	if err != nil {
		return fmt.Errorf("%w: vault %s owner is not a derived signer", ErrUnauthorized, vault.Address)
	}
	if err := crypto.VerifySigner(owner, base, member.Nonce); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	return nil
}

func (e *Engine) checkTimelock(pair *BalanceVaultPair, registrar *Registrar) error {
	if pair.LastUpdateTs == 0 || registrar.WithdrawalTimelock == 0 {
		return nil
	}
	unlockAt := pair.LastUpdateTs + registrar.WithdrawalTimelock
	if e.now() < unlockAt {
		return fmt.Errorf("%w: locked until %d", ErrWithdrawalLocked, unlockAt)
	}
	return nil
}

// Registrar returns a copy of the stored registrar record.
func (e *Engine) Registrar(addr string) (*Registrar, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	registrar, ok, err := e.state.RegistrarGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("registry: registrar %s not found", addr)
	}
	return registrar.Clone(), nil
}

// Member returns a copy of the stored member record.
func (e *Engine) Member(addr string) (*Member, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	member, ok, err := e.state.MemberGet(addr)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("registry: member %s not found", addr)
	}
	return member.Clone(), nil
}

// PairBalances reports the raw, staked, and pool-share balances of the
// selected pair. Used by RPC queries and the voting engine's weight reads.
type PairBalances struct {
	Vault      *big.Int `json:"vault"`
	VaultStake *big.Int `json:"vault_stake"`
	SPT        *big.Int `json:"spt"`
}

// Balances resolves the token balances behind a member's pair.
func (e *Engine) Balances(memberAddr string, locked bool) (*PairBalances, error) {
	if e == nil || e.state == nil {
		return nil, errStateNotConfigured
	}
	member, _, err := e.loadMember(memberAddr)
	if err != nil {
		return nil, err
	}
	pair := member.Pair(locked)
	vault, err := e.loadToken(pair.Vault)
	if err != nil {
		return nil, err
	}
	vaultStake, err := e.loadToken(pair.VaultStake)
	if err != nil {
		return nil, err
	}
	spt, err := e.loadToken(pair.SPT)
	if err != nil {
		return nil, err
	}
	return &PairBalances{
		Vault:      cloneAmount(vault.Amount),
		VaultStake: cloneAmount(vaultStake.Amount),
		SPT:        cloneAmount(spt.Amount),
	}, nil
}
