package txengine

import (
	"fmt"

	"atlasledger/core/ledger"
)

// Action is a deferred state mutation queued by an interceptor during
// stateless processing and executed once the commit has acquired the
// State write lock, after the nonce check and before ApplyEntry. This
// replaces the original implementation's boxed closures (Box<dyn FnOnce>)
// with a small set of named, serializable variants, matching the
// tagged-enum shape Rust used for the same purpose without requiring Go to
// fabricate a closure-over-captured-state type.
type Action interface {
	// Apply executes the action against state, returning an error that
	// aborts the transaction (but not the rest of the batch) if it fails.
	Apply(state *ledger.State) error
}

// RegisterAssetAction registers a new asset definition, requested by a
// system:registry transaction. Fails with ledger.ErrDuplicateAsset if an
// asset with the same ID (issuer/symbol) is already registered.
type RegisterAssetAction struct {
	Definition ledger.AssetDefinition
}

// Apply implements Action.
func (a RegisterAssetAction) Apply(state *ledger.State) error {
	return state.RegisterAsset(a.Definition)
}

// DelegateAction increments a delegator's stake behind a validator,
// requested by a system:staking transaction with memo "delegate:<validator>".
type DelegateAction struct {
	Delegator string
	Validator string
	Amount    uint64
}

// Apply implements Action.
func (a DelegateAction) Apply(state *ledger.State) error {
	state.Delegations().Delegate(a.Delegator, a.Validator, a.Amount)
	return nil
}

// UndelegateAction decrements a delegator's stake behind a validator,
// requested by a system:staking transaction with memo
// "undelegate:<validator>:<amount>". The refund legs crediting the
// delegator are added to the entry by the caller, not by this action.
type UndelegateAction struct {
	Delegator string
	Validator string
	Amount    uint64
}

// Apply implements Action.
func (a UndelegateAction) Apply(state *ledger.State) error {
	if err := state.Delegations().Undelegate(a.Delegator, a.Validator, a.Amount); err != nil {
		return fmt.Errorf("undelegate %s from %s: %w", a.Delegator, a.Validator, err)
	}
	return nil
}
