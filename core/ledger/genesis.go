package ledger

import (
	"math/big"
	"strconv"

	"atlasledger/crypto"
)

// IssuanceReserve is the authorized-but-unissued ATLAS supply credited to
// vault:issuance (balanced by a debit to vault:unissued) once genesis
// allocations have been applied: 100,000,000 ATLAS at 6 decimal places.
var IssuanceReserve = new(big.Int).Mul(big.NewInt(100_000_000), big.NewInt(1_000_000))

// GenesisKey is the account whose presence marks genesis as already
// applied, making repeated ApplyGenesisState calls on the same State a
// no-op. State is held in memory only, so a fresh State (as after a
// process restart) applies genesis again.
const GenesisKey = "vault:genesis"

// GenesisAllocation is one (address, amount) pair from the genesis
// allocation file. Address may be a Bech32m string already, or a legacy
// Base58 identifier requiring migration (see crypto.ResolveGenesisAddress).
type GenesisAllocation struct {
	Address string
	Amount  *big.Int
}

// ShardAppender is the minimal surface State needs from the Sharded
// Account Log to persist genesis entries; satisfied by *shard.Store. Kept
// as a local interface to avoid an import cycle between core/ledger and
// storage/shard.
type ShardAppender interface {
	Append(account string, entry *LedgerEntry) error
}

// ApplyGenesisState performs the one-time genesis allocation described in
// spec §4.2. It is idempotent: if vault:genesis already has an account
// record, it returns nil immediately.
func (s *State) ApplyGenesisState(allocations []GenesisAllocation, shards ShardAppender) error {
	s.mu.Lock()
	if _, ok := s.accounts[GenesisKey]; ok {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	var prevGenesis *[32]byte
	for i, alloc := range allocations {
		finalAddress := crypto.ResolveGenesisAddress(alloc.Address)
		walletKey := "wallet:" + finalAddress

		debit := NewLeg(GenesisKey, AtlasAssetID, Debit, alloc.Amount)
		credit := NewLeg(walletKey, AtlasAssetID, Credit, alloc.Amount)
		entry := NewLedgerEntry(
			genesisEntryID(finalAddress, i),
			[]Leg{debit, credit},
			genesisZeroHash,
			0,
			0,
			"GENESIS ALLOCATION",
		)
		if prevGenesis != nil {
			entry.PrevForAccount[GenesisKey] = *prevGenesis
		}
		if err := s.ApplyEntry(entry); err != nil {
			return err
		}
		genesisHash := entry.Hash()
		prevGenesis = &genesisHash
		if shards != nil {
			if err := shards.Append(walletKey, entry); err != nil {
				return err
			}
			if err := shards.Append(GenesisKey, entry); err != nil {
				return err
			}
		}
	}

	issuanceCredit := NewLeg("vault:issuance", AtlasAssetID, Credit, IssuanceReserve)
	issuanceDebit := NewLeg("vault:unissued", AtlasAssetID, Debit, IssuanceReserve)
	issuanceEntry := NewLedgerEntry(
		"genesis-issuance",
		[]Leg{issuanceDebit, issuanceCredit},
		genesisZeroHash,
		0,
		0,
		"GENESIS ISSUANCE",
	)
	if err := s.ApplyEntry(issuanceEntry); err != nil {
		return err
	}
	if shards != nil {
		if err := shards.Append("vault:issuance", issuanceEntry); err != nil {
			return err
		}
		if err := shards.Append("vault:unissued", issuanceEntry); err != nil {
			return err
		}
	}
	return nil
}

const genesisZeroHash = "0000000000000000000000000000000000000000000000000000000000000000"

func genesisEntryID(address string, index int) string {
	return "genesis-" + address + "-" + strconv.Itoa(index)
}
