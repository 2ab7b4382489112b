package escrow

import "lukechampine.com/blake3"

// Derivation contexts for the holding account. Changing either value changes
// every derived address, so they are versioned.
const (
	vaultAddressContext   = "x402resolve/escrow/vault/address/v1"
	vaultAuthorityContext = "x402resolve/escrow/vault/authority/v1"
)

// Vault identifies the deterministic holding account backing an escrow. The
// address and the bump salt are both derived from the transaction id, so the
// vault can always be recovered without additional bookkeeping.
type Vault struct {
	Address [20]byte
	Bump    uint8
}

// Capability authorizes outgoing transfers from a vault. State backends honour
// vault debits only when the presented capability re-derives correctly, which
// keeps the holding account exclusively controllable by the engine's own
// transition logic.
type Capability [32]byte

// DeriveVault derives the holding account for a transaction id using a keyed
// derivation over the id bytes.
func DeriveVault(transactionID string) (Vault, error) {
	if err := ValidateTransactionID(transactionID); err != nil {
		return Vault{}, err
	}
	var seed [32]byte
	blake3.DeriveKey(seed[:], vaultAddressContext, []byte(transactionID))
	vault := Vault{Bump: seed[31]}
	copy(vault.Address[:], seed[:20])
	return vault, nil
}

// AuthorizeTransfer derives the transfer capability for the vault backing the
// transaction id. The bump must match the salt stored on the escrow record.
func AuthorizeTransfer(transactionID string, bump uint8) (Capability, error) {
	if err := ValidateTransactionID(transactionID); err != nil {
		return Capability{}, err
	}
	material := make([]byte, 0, len(transactionID)+1)
	material = append(material, transactionID...)
	material = append(material, bump)
	var capability Capability
	blake3.DeriveKey(capability[:], vaultAuthorityContext, material)
	return capability, nil
}
