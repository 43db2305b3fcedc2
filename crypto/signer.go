package crypto

import (
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Derived signers give a component exclusive authority over a resource (a
// vault, a queue, a bond account) without a private key existing for the
// address. The controlling record stores the nonce used at creation; every
// mutating entry point re-derives the signer and compares.

// DeriveAddress produces a deterministic record address from the supplied
// seeds. Records derived from the same seeds collide by construction, which is
// how uniqueness constraints such as one-member-per-(registrar, beneficiary)
// and one-vote-per-(member, poll) are enforced.
func DeriveAddress(prefix AddressPrefix, seeds ...[]byte) Address {
	digest := ethcrypto.Keccak256(seeds...)
	return MustNewAddress(prefix, digest[12:])
}

// DeriveSigner derives the signer address controlled by base under the given
// nonce.
func DeriveSigner(base Address, nonce uint8) Address {
	return DeriveAddress(SignerPrefix, base.Bytes(), []byte{nonce})
}

// VerifySigner checks that signer is the address derived from base and nonce.
func VerifySigner(signer, base Address, nonce uint8) error {
	derived := DeriveSigner(base, nonce)
	if signer.String() != derived.String() {
		return fmt.Errorf("signer %s does not match derivation for %s nonce %d", signer, base, nonce)
	}
	return nil
}
