package ledger

// DelegationStore tracks delegator -> validator stake allocations and the
// resulting total voting power per validator. validator_power[v] is kept
// equal to the sum of every delegator's allocation to v as an invariant
// maintained by Delegate/Undelegate/SlashDelegators.
type DelegationStore struct {
	delegations     map[string]map[string]uint64 // delegator -> validator -> amount
	validatorPower  map[string]uint64
}

// NewDelegationStore returns an empty delegation store.
func NewDelegationStore() *DelegationStore {
	return &DelegationStore{
		delegations:    make(map[string]map[string]uint64),
		validatorPower: make(map[string]uint64),
	}
}

// Delegate allocates amount of the delegator's stake to validator.
func (d *DelegationStore) Delegate(delegator, validator string, amount uint64) {
	if _, ok := d.delegations[delegator]; !ok {
		d.delegations[delegator] = make(map[string]uint64)
	}
	d.delegations[delegator][validator] += amount
	d.validatorPower[validator] += amount
}

// Undelegate withdraws amount of the delegator's stake from validator,
// returning ErrInsufficientStake if the delegator has less than amount
// allocated there. Empty maps are pruned so GetDelegatedPower and
// iteration never see zero-valued entries.
func (d *DelegationStore) Undelegate(delegator, validator string, amount uint64) error {
	byValidator, ok := d.delegations[delegator]
	if !ok {
		return ErrInsufficientStake
	}
	cur, ok := byValidator[validator]
	if !ok || cur < amount {
		return ErrInsufficientStake
	}
	remaining := cur - amount
	if remaining == 0 {
		delete(byValidator, validator)
	} else {
		byValidator[validator] = remaining
	}
	if len(byValidator) == 0 {
		delete(d.delegations, delegator)
	}

	d.validatorPower[validator] -= amount
	if d.validatorPower[validator] == 0 {
		delete(d.validatorPower, validator)
	}
	return nil
}

// GetDelegatedPower returns the total stake delegated to validator.
func (d *DelegationStore) GetDelegatedPower(validator string) uint64 {
	return d.validatorPower[validator]
}

// SlashDelegators burns percentage (0-100) of every delegator's stake to
// validator, returning the total amount burned. Used by Ledger.SlashValidator
// to penalize a validator's backers alongside the validator itself.
func (d *DelegationStore) SlashDelegators(validator string, percentage uint64) uint64 {
	var totalSlashed uint64
	for delegator, byValidator := range d.delegations {
		amount, ok := byValidator[validator]
		if !ok {
			continue
		}
		penalty := (amount * percentage) / 100
		if penalty == 0 {
			continue
		}
		remaining := amount - penalty
		if remaining == 0 {
			delete(byValidator, validator)
		} else {
			byValidator[validator] = remaining
		}
		if len(byValidator) == 0 {
			delete(d.delegations, delegator)
		}
		d.validatorPower[validator] -= penalty
		totalSlashed += penalty
	}
	if d.validatorPower[validator] == 0 {
		delete(d.validatorPower, validator)
	}
	return totalSlashed
}
