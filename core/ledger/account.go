package ledger

import "math/big"

// AccountState is the per-account record: balances by asset, the nonce of
// the last transaction committed from this account (the next one must
// carry Nonce+1), and pointers into this account's entry chain. Created
// lazily on first credit or debit; never deleted.
type AccountState struct {
	Balances            map[string]*big.Int
	Nonce               uint64
	LastEntryID         string
	LastTransactionHash string
}

// NewAccountState returns a zeroed account record.
func NewAccountState() *AccountState {
	return &AccountState{Balances: make(map[string]*big.Int)}
}

// Balance returns the account's balance for asset, or zero if the account
// has never held it.
func (a *AccountState) Balance(asset string) *big.Int {
	if bal, ok := a.Balances[asset]; ok {
		return new(big.Int).Set(bal)
	}
	return big.NewInt(0)
}

func (a *AccountState) credit(asset string, amount *big.Int) {
	cur, ok := a.Balances[asset]
	if !ok {
		cur = big.NewInt(0)
	}
	a.Balances[asset] = new(big.Int).Add(cur, amount)
}

func (a *AccountState) debit(asset string, amount *big.Int) {
	cur, ok := a.Balances[asset]
	if !ok {
		cur = big.NewInt(0)
	}
	a.Balances[asset] = new(big.Int).Sub(cur, amount)
}
