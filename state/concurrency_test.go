package state

import (
	"fmt"
	"math/big"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"stakereg/core/types"
	"stakereg/native/registry"
	"stakereg/native/voting"
)

// Concurrent ballots on one poll must all land in the tally. The engines hold
// the store's operation lock for the whole read-modify-write transition, so
// no cast can overwrite another's weight.
func TestConcurrentPollVotesKeepEveryBallot(t *testing.T) {
	store := newTestStore(t)
	now := int64(1_700_000_000)

	engine := voting.NewEngine()
	engine.SetState(store)
	engine.SetNowFunc(func() int64 { return now })

	require.NoError(t, store.RegistrarPut(&registry.Registrar{
		Address:    "registrar",
		Authority:  "admin",
		Mint:       "mint",
		PoolMint:   "pool-mint",
		StakeRate:  1,
		PoolSupply: big.NewInt(0),
	}))

	// Zero prices skip the bond transfer so no depositor account is needed.
	governor, err := engine.CreateGovernor("registrar", "mint", big.NewInt(0), big.NewInt(0), 300, 4)
	require.NoError(t, err)
	poll, err := engine.CreatePoll("creator", governor.Address, "", "pick one", []string{"a", "b"}, now+60)
	require.NoError(t, err)

	const voters = 64
	members := make([]string, voters)
	for i := 0; i < voters; i++ {
		memberAddr := fmt.Sprintf("member-%d", i)
		freeSPT := fmt.Sprintf("spt-free-%d", i)
		lockedSPT := fmt.Sprintf("spt-locked-%d", i)
		require.NoError(t, store.MemberPut(&registry.Member{
			Address:        memberAddr,
			Registrar:      "registrar",
			Beneficiary:    fmt.Sprintf("voter-%d", i),
			Balances:       registry.BalanceVaultPair{SPT: freeSPT},
			BalancesLocked: registry.BalanceVaultPair{SPT: lockedSPT},
		}))
		require.NoError(t, store.TokenPut(&types.TokenAccount{Address: freeSPT, Mint: "pool-mint", Owner: fmt.Sprintf("voter-%d", i), Amount: big.NewInt(1)}))
		require.NoError(t, store.TokenPut(&types.TokenAccount{Address: lockedSPT, Mint: "pool-mint", Owner: fmt.Sprintf("voter-%d", i), Amount: big.NewInt(0)}))
		members[i] = memberAddr
	}

	var wg sync.WaitGroup
	errs := make([]error, voters)
	for i := 0; i < voters; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = engine.VotePoll(fmt.Sprintf("voter-%d", i), members[i], poll.Address, 0)
		}(i)
	}
	wg.Wait()

	for i, err := range errs {
		require.NoError(t, err, "vote %d", i)
	}
	stored, ok, err := store.PollGet(poll.Address)
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, stored.VoteWeights[0].Cmp(big.NewInt(voters)), "tally lost weight: %s", stored.VoteWeights[0])
	require.Zero(t, stored.VoteWeights[1].Sign())
}

// Concurrent withdrawals of the full vault balance must spend it exactly
// once; the rest fail the funds check instead of double-spending.
func TestConcurrentWithdrawsSpendVaultOnce(t *testing.T) {
	store := newTestStore(t)

	engine := registry.NewEngine()
	engine.SetState(store)

	registrar, err := engine.InitializeRegistrar("admin", "mint", 1, 0, 4)
	require.NoError(t, err)
	member, err := engine.CreateMember(registrar.Address, "alice")
	require.NoError(t, err)
	require.NoError(t, store.TokenPut(&types.TokenAccount{Address: "alice-wallet", Mint: "mint", Owner: "alice", Amount: big.NewInt(100)}))
	require.NoError(t, engine.Deposit("alice", member.Address, "alice-wallet", big.NewInt(100), false))

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = engine.Withdraw("alice", member.Address, "alice-wallet", big.NewInt(100), false)
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, registry.ErrInsufficientFunds)
	}
	require.Equal(t, 1, succeeded, "vault spent %d times", succeeded)

	wallet, ok, err := store.TokenGet("alice-wallet")
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, wallet.Amount.Cmp(big.NewInt(100)))
	balances, err := engine.Balances(member.Address, false)
	require.NoError(t, err)
	require.Zero(t, balances.Vault.Sign())
}

func TestConcurrentTokenCreateAdmitsOne(t *testing.T) {
	store := newTestStore(t)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = store.TokenCreate(&types.TokenAccount{Address: "acc", Mint: "mint", Owner: "alice", Amount: big.NewInt(5)})
		}(i)
	}
	wg.Wait()

	var succeeded int
	for _, err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		require.ErrorIs(t, err, ErrTokenExists)
	}
	require.Equal(t, 1, succeeded)

	stored, ok, err := store.TokenGet("acc")
	require.NoError(t, err)
	require.True(t, ok)
	require.Zero(t, stored.Amount.Cmp(big.NewInt(5)))
}
