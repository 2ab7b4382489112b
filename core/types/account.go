package types

// Account models a value-unit account addressable by a 20-byte entity address.
// The engine treats the underlying transfer primitive as an external
// collaborator; accounts only expose a single balance and a nonce.
type Account struct {
	Nonce   uint64
	Balance uint64
}

// Clone returns a copy of the account so callers can mutate it without
// affecting the stored instance.
func (a *Account) Clone() *Account {
	if a == nil {
		return &Account{}
	}
	clone := *a
	return &clone
}
