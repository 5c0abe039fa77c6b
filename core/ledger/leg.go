package ledger

import "math/big"

// LegKind distinguishes the two sides of a bookkeeping Leg.
type LegKind uint8

const (
	Debit LegKind = iota
	Credit
)

func (k LegKind) String() string {
	switch k {
	case Debit:
		return "debit"
	case Credit:
		return "credit"
	default:
		return "unknown"
	}
}

// Leg is the atomic bookkeeping element: one side of a double-entry
// ledger entry, naming the account, the asset, whether it is a debit or
// credit, and the amount.
type Leg struct {
	Account string
	Asset   string
	Kind    LegKind
	Amount  *big.Int
}

// NewLeg constructs a Leg with a defensively copied amount.
func NewLeg(account, asset string, kind LegKind, amount *big.Int) Leg {
	return Leg{Account: account, Asset: asset, Kind: kind, Amount: new(big.Int).Set(amount)}
}

// signedDelta returns the leg's contribution to the asset's net balance:
// positive for a credit, negative for a debit. Used by the balance
// invariant check in State.ApplyEntry.
func (l Leg) signedDelta() *big.Int {
	if l.Kind == Credit {
		return new(big.Int).Set(l.Amount)
	}
	return new(big.Int).Neg(l.Amount)
}
