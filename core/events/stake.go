package events

import (
	"math/big"
	"strconv"

	"stakereg/core/types"
)

const (
	// TypeStakeDeposited captures raw tokens entering a member vault.
	TypeStakeDeposited = "stake.deposited"
	// TypeStaked captures a vault-to-stake conversion minting pool shares.
	TypeStaked = "stake.staked"
	// TypeUnstaked captures pool shares burned back into vault tokens.
	TypeUnstaked = "stake.unstaked"
	// TypeStakeWithdrawn captures raw tokens leaving a member vault.
	TypeStakeWithdrawn = "stake.withdrawn"
)

// StakeDeposited records a depositor funding a member vault.
type StakeDeposited struct {
	Member    string
	Depositor string
	Amount    *big.Int
	Locked    bool
}

// EventType satisfies the Event interface.
func (StakeDeposited) EventType() string { return TypeStakeDeposited }

// Event converts the structured payload into a broadcastable event.
func (e StakeDeposited) Event() *types.Event {
	return &types.Event{Type: TypeStakeDeposited, Attributes: map[string]string{
		"member":    e.Member,
		"depositor": e.Depositor,
		"amount":    formatAmount(e.Amount),
		"locked":    strconv.FormatBool(e.Locked),
	}}
}

// Staked records the share delta and the pool supply snapshot realised when a
// member stakes. The pool supply snapshot is what reward-queue drainers use
// for pro-rata reward distribution.
type Staked struct {
	Member     string
	Shares     *big.Int
	Amount     *big.Int
	PoolSupply *big.Int
	Locked     bool
	Cursor     uint64
}

// EventType satisfies the Event interface.
func (Staked) EventType() string { return TypeStaked }

// Event converts the structured payload into a broadcastable event.
func (e Staked) Event() *types.Event {
	return &types.Event{Type: TypeStaked, Attributes: map[string]string{
		"member":     e.Member,
		"shares":     formatAmount(e.Shares),
		"amount":     formatAmount(e.Amount),
		"poolSupply": formatAmount(e.PoolSupply),
		"locked":     strconv.FormatBool(e.Locked),
		"cursor":     strconv.FormatUint(e.Cursor, 10),
	}}
}

// Unstaked records the share delta and pool supply snapshot realised when a
// member unstakes.
type Unstaked struct {
	Member     string
	Shares     *big.Int
	Amount     *big.Int
	PoolSupply *big.Int
	Locked     bool
	Cursor     uint64
}

// EventType satisfies the Event interface.
func (Unstaked) EventType() string { return TypeUnstaked }

// Event converts the structured payload into a broadcastable event.
func (e Unstaked) Event() *types.Event {
	return &types.Event{Type: TypeUnstaked, Attributes: map[string]string{
		"member":     e.Member,
		"shares":     formatAmount(e.Shares),
		"amount":     formatAmount(e.Amount),
		"poolSupply": formatAmount(e.PoolSupply),
		"locked":     strconv.FormatBool(e.Locked),
		"cursor":     strconv.FormatUint(e.Cursor, 10),
	}}
}

// StakeWithdrawn records vault tokens returned to a depositor account.
type StakeWithdrawn struct {
	Member    string
	Depositor string
	Amount    *big.Int
	Locked    bool
}

// EventType satisfies the Event interface.
func (StakeWithdrawn) EventType() string { return TypeStakeWithdrawn }

// Event converts the structured payload into a broadcastable event.
func (e StakeWithdrawn) Event() *types.Event {
	return &types.Event{Type: TypeStakeWithdrawn, Attributes: map[string]string{
		"member":    e.Member,
		"depositor": e.Depositor,
		"amount":    formatAmount(e.Amount),
		"locked":    strconv.FormatBool(e.Locked),
	}}
}
