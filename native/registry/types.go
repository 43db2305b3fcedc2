package registry

import (
	"math/big"
)

// Registrar is the global configuration for a staking pool: which mint it
// custodies, who administers it, the fixed exchange rate between deposited
// tokens and pool shares, and the withdrawal timelock applied to the locked
// balance pair.
type Registrar struct {
	Address            string   `json:"address"`
	Authority          string   `json:"authority"`
	Mint               string   `json:"mint"`
	PoolMint           string   `json:"pool_mint"`
	Nonce              uint8    `json:"nonce"`
	StakeRate          uint64   `json:"stake_rate"`
	WithdrawalTimelock int64    `json:"withdrawal_timelock"`
	RewardQueue        string   `json:"reward_queue"`
	PoolSupply         *big.Int `json:"pool_supply"`
}

// Clone returns a deep copy so callers can mutate without touching the stored
// instance.
func (r *Registrar) Clone() *Registrar {
	if r == nil {
		return nil
	}
	clone := *r
	if r.PoolSupply != nil {
		clone.PoolSupply = new(big.Int).Set(r.PoolSupply)
	} else {
		clone.PoolSupply = big.NewInt(0)
	}
	return &clone
}

// BalanceVaultPair references the three token accounts backing one side of a
// member's position: raw deposits (vault), staked deposits (vault-stake), and
// the pool shares minted against them (spt). LastUpdateTs records the most
// recent mutation, which is what the locked pair's timelock is measured from.
type BalanceVaultPair struct {
	Vault        string `json:"vault"`
	VaultStake   string `json:"vault_stake"`
	SPT          string `json:"spt"`
	LastUpdateTs int64  `json:"last_update_ts"`
}

// Member binds a beneficiary to its two balance-vault pairs under a registrar.
// The member address is derived from (registrar, beneficiary), so exactly one
// member can exist per pair.
type Member struct {
	Address        string           `json:"address"`
	Registrar      string           `json:"registrar"`
	Beneficiary    string           `json:"beneficiary"`
	Nonce          uint8            `json:"nonce"`
	Balances       BalanceVaultPair `json:"balances"`
	BalancesLocked BalanceVaultPair `json:"balances_locked"`
}

// Clone returns a copy of the member record.
func (m *Member) Clone() *Member {
	if m == nil {
		return nil
	}
	clone := *m
	return &clone
}

// Pair selects the free or locked balance-vault pair.
func (m *Member) Pair(locked bool) *BalanceVaultPair {
	if locked {
		return &m.BalancesLocked
	}
	return &m.Balances
}

const (
	// RewardEventStake marks a reward-queue entry recorded on stake.
	RewardEventStake = "stake"
	// RewardEventUnstake marks a reward-queue entry recorded on unstake.
	RewardEventUnstake = "unstake"
)

// RewardEvent snapshots the pool state after a stake or unstake so an
// external reward distributor can compute pro-rata payouts. Entries are
// append-only; the cursor is the position in the logical (unbounded) log.
type RewardEvent struct {
	Cursor     uint64   `json:"cursor"`
	Kind       string   `json:"kind"`
	Member     string   `json:"member"`
	Shares     *big.Int `json:"shares"`
	PoolSupply *big.Int `json:"pool_supply"`
	Locked     bool     `json:"locked"`
	Ts         int64    `json:"ts"`
}

// RewardQueue is a fixed-capacity ring over reward events. Once full, the
// oldest entry is overwritten; consumers that fall more than a full capacity
// behind lose events, which bounds retention without unbounded growth.
type RewardQueue struct {
	Address   string        `json:"address"`
	Registrar string        `json:"registrar"`
	Head      uint64        `json:"head"`
	Tail      uint64        `json:"tail"`
	Events    []RewardEvent `json:"events"`
}

// NewRewardQueue allocates a queue with the given fixed capacity.
func NewRewardQueue(address, registrar string, capacity uint32) *RewardQueue {
	return &RewardQueue{
		Address:   address,
		Registrar: registrar,
		Events:    make([]RewardEvent, capacity),
	}
}

func (q *RewardQueue) capacity() uint64 { return uint64(len(q.Events)) }

// Append records the event at the head cursor, discarding the oldest entry
// when the ring is full. It returns the cursor assigned to the event.
func (q *RewardQueue) Append(ev RewardEvent) uint64 {
	cursor := q.Head
	if q.Head-q.Tail == q.capacity() {
		q.Tail++
	}
	ev.Cursor = cursor
	q.Events[cursor%q.capacity()] = ev
	q.Head++
	return cursor
}

// Pending returns the retained events in append order, oldest first.
func (q *RewardQueue) Pending() []RewardEvent {
	out := make([]RewardEvent, 0, q.Head-q.Tail)
	for c := q.Tail; c < q.Head; c++ {
		out = append(out, q.Events[c%q.capacity()])
	}
	return out
}
