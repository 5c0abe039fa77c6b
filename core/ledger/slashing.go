package ledger

import "math/big"

// SlashingAccount receives every confiscated unit of stake, from both
// validators and their delegators.
const SlashingAccount = "patrimonio:slashing"

// DelegatorSlashPercentage is the fraction of each delegator's stake to a
// slashed validator that is burned alongside the validator's own penalty.
const DelegatorSlashPercentage = 10

// SlashValidator penalizes a validator for equivocation: it debits the
// validator's own wallet by min(balance, amount), credits
// patrimonio:slashing with that amount, then burns DelegatorSlashPercentage
// percent of every delegator's stake to this validator, crediting the
// burned amount to patrimonio:slashing as well via a refund-style pair of
// legs debiting wallet:system:staking.
func (s *State) SlashValidator(validatorAddr string, amount *big.Int, shards ShardAppender) error {
	walletKey := "wallet:" + validatorAddr

	s.mu.Lock()
	balance := big.NewInt(0)
	if acc, ok := s.accounts[walletKey]; ok {
		balance = acc.Balance(AtlasAssetID)
	}
	s.mu.Unlock()

	toSlash := amount
	if balance.Cmp(amount) < 0 {
		toSlash = balance
	}

	if toSlash.Sign() > 0 {
		entry := NewLedgerEntry(
			"slash-"+validatorAddr,
			[]Leg{
				NewLeg(walletKey, AtlasAssetID, Debit, toSlash),
				NewLeg(SlashingAccount, AtlasAssetID, Credit, toSlash),
			},
			genesisZeroHash,
			0,
			0,
			"VALIDATOR SLASH",
		)
		if err := s.ApplyEntry(entry); err != nil {
			return err
		}
		if shards != nil {
			if err := shards.Append(walletKey, entry); err != nil {
				return err
			}
			if err := shards.Append(SlashingAccount, entry); err != nil {
				return err
			}
		}
	}

	s.mu.Lock()
	burned := s.delegations.SlashDelegators(validatorAddr, DelegatorSlashPercentage)
	s.mu.Unlock()

	if burned == 0 {
		return nil
	}
	burnedAmount := new(big.Int).SetUint64(burned)
	entry := NewLedgerEntry(
		"slash-delegators-"+validatorAddr,
		[]Leg{
			NewLeg("wallet:system:staking", AtlasAssetID, Debit, burnedAmount),
			NewLeg(SlashingAccount, AtlasAssetID, Credit, burnedAmount),
		},
		genesisZeroHash,
		0,
		0,
		"DELEGATOR SLASH",
	)
	if err := s.ApplyEntry(entry); err != nil {
		return err
	}
	if shards != nil {
		if err := shards.Append("wallet:system:staking", entry); err != nil {
			return err
		}
		if err := shards.Append(SlashingAccount, entry); err != nil {
			return err
		}
	}
	return nil
}
