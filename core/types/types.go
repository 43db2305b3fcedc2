package types

import "math/big"

// TokenAccount is a fixed-layout token holding record keyed by its address.
// Vaults, stake vaults, pool-share accounts, and depositor accounts all share
// this layout; only the owner differs (derived signer vs. user key).
type TokenAccount struct {
	Address string   `json:"address"`
	Mint    string   `json:"mint"`
	Owner   string   `json:"owner"`
	Amount  *big.Int `json:"amount"`
}

// Clone returns a deep copy so callers can mutate without touching the stored
// instance.
func (a *TokenAccount) Clone() *TokenAccount {
	if a == nil {
		return nil
	}
	clone := *a
	if a.Amount != nil {
		clone.Amount = new(big.Int).Set(a.Amount)
	} else {
		clone.Amount = big.NewInt(0)
	}
	return &clone
}

// Event represents a structured state change broadcast to subscribers.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}
