package ledger

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
	"sync"
)

// State holds every account, asset, and delegation known to the ledger. It
// is the sole owner of the in-memory accounting data; callers never mutate
// an AccountState directly, only through ApplyEntry.
//
// Concurrency: one reader/writer lock. ApplyEntry takes the writer lock for
// its entire two-phase validate-then-mutate body; balance queries take the
// reader lock. The writer section performs only in-memory work — callers
// persist the resulting entry to WAL/Index/Shard after releasing the lock.
type State struct {
	mu          sync.RWMutex
	accounts    map[string]*AccountState
	assets      map[string]AssetDefinition
	delegations *DelegationStore
}

// equityAccounts are the ledger's mint-side source accounts: debits against
// them are exempt from the sufficient-pre-balance check in
// applyEntryLocked, mirroring original_source's "Double Entry Bypass for
// Genesis" (src/core/ledger/genesis.rs), which calls update_account_balance
// directly instead of routing through apply_entry for exactly these
// accounts. Every other account must be funded before it can be debited.
var equityAccounts = map[string]struct{}{
	GenesisKey:       {},
	"vault:unissued": {},
}

// supplementalAssets are fiat/commodity asset definitions carried over from
// the original implementation's State::new seeding (original_source
// atlas-ledger/src/core/ledger/state/mod.rs) so that cross-asset transfers
// exercised by tests have somewhere to register against. They carry no balance; registering an asset never
// implies minting it.
var supplementalAssets = []AssetDefinition{
	{ID: "USD", Issuer: "wallet:mint", Symbol: "USD"},
	{ID: "BRL", Issuer: "wallet:mint", Symbol: "BRL"},
	{ID: "GBP", Issuer: "wallet:mint", Symbol: "GBP"},
	{ID: "EUR", Issuer: "wallet:mint", Symbol: "EUR"},
	{ID: "XAU", Issuer: "wallet:mint", Symbol: "XAU"},
}

// NewState returns an empty ledger with the native ATLAS asset and a small
// set of supplemental fiat/commodity assets pre-registered. It holds no
// account balances: genesis allocation happens exclusively through
// ApplyGenesisState so that every unit of value is traceable to a
// double-entry record, matching the original implementation's explicit
// removal of hardcoded genesis balances from this constructor.
func NewState() *State {
	s := &State{
		accounts:    make(map[string]*AccountState),
		assets:      make(map[string]AssetDefinition),
		delegations: NewDelegationStore(),
	}
	s.assets[AtlasAssetID] = AssetDefinition{ID: AtlasAssetID, Issuer: "system", Symbol: "ATLAS"}
	for _, a := range supplementalAssets {
		s.assets[a.ID] = a
	}
	return s
}

// RegisterAsset adds a new asset definition, failing with ErrDuplicateAsset
// if one is already registered under the same ID.
func (s *State) RegisterAsset(def AssetDefinition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.assets[def.ID]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateAsset, def.ID)
	}
	s.assets[def.ID] = def
	return nil
}

// HasAsset reports whether asset is registered.
func (s *State) HasAsset(asset string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.assets[asset]
	return ok
}

// Delegations exposes the delegation store for read access by the quorum
// evaluator and transaction engine interceptors. Mutation still goes
// through Delegate/Undelegate/SlashValidator so State remains the sole
// writer.
func (s *State) Delegations() *DelegationStore {
	return s.delegations
}

// GetBalance returns account's balance for asset. If account contains no
// ":" (i.e. it is a bare address rather than a structured system key) and
// has no entry under that raw key, GetBalance retries with the "wallet:"
// prefix, matching the legacy fallback callers rely on when an address is
// passed without its class prefix.
func (s *State) GetBalance(account, asset string) *big.Int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if acc, ok := s.accounts[account]; ok {
		return acc.Balance(asset)
	}
	if !strings.Contains(account, ":") {
		if acc, ok := s.accounts["wallet:"+account]; ok {
			return acc.Balance(asset)
		}
	}
	return big.NewInt(0)
}

// GetValidatorTotalPower returns a validator's own ATLAS balance plus the
// stake delegated to it, the quantity the quorum evaluator sums to
// determine total active stake and a proposal's yes-stake. validatorAddr is
// the raw address (no "wallet:" prefix); own balance is resolved through
// GetBalance's legacy fallback and delegations are keyed by the same raw
// address used by the staking interceptor.
func (s *State) GetValidatorTotalPower(validatorAddr string) *big.Int {
	own := s.GetBalance(validatorAddr, AtlasAssetID)
	s.mu.RLock()
	delegated := s.delegations.GetDelegatedPower(validatorAddr)
	s.mu.RUnlock()
	return new(big.Int).Add(own, new(big.Int).SetUint64(delegated))
}

// Account returns a defensive snapshot of the named account's balances and
// metadata, or nil if the account has never been touched. The transaction
// engine's nonce and chain-linkage checks read State directly inside
// ApplyTransactionEntry rather than through this snapshot.
func (s *State) Account(key string) *AccountState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.accounts[key]
	if !ok {
		return nil
	}
	clone := &AccountState{
		Balances:            make(map[string]*big.Int, len(acc.Balances)),
		Nonce:               acc.Nonce,
		LastEntryID:         acc.LastEntryID,
		LastTransactionHash: acc.LastTransactionHash,
	}
	for asset, bal := range acc.Balances {
		clone.Balances[asset] = new(big.Int).Set(bal)
	}
	return clone
}

// IncrementNonce bumps the account's nonce by one, taking State's writer
// lock itself. The transaction engine does not call it: ApplyTransactionEntry
// bumps the sender's nonce as its own last step.
func (s *State) IncrementNonce(account string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	acc, ok := s.accounts[account]
	if !ok {
		acc = NewAccountState()
		s.accounts[account] = acc
	}
	acc.Nonce++
}

// ApplyTransactionEntry performs the Transaction Engine's stateful commit
// (spec §4.3 step 8) as one atomic operation under the write lock: it
// checks sender's nonce, annotates entry's chain linkage for every
// involved account, runs preApply (the transaction's deferred interceptor
// actions), applies the entry, and finally increments sender's nonce.
// preApply may be nil. A failure at any stage leaves State exactly as it
// was before the call.
func (s *State) ApplyTransactionEntry(sender string, expectedNonce uint64, entry *LedgerEntry, preApply func(*State) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	nonce := uint64(0)
	if acc, ok := s.accounts[sender]; ok {
		nonce = acc.Nonce
	}
	if expectedNonce != nonce+1 {
		return fmt.Errorf("%w: expected %d, got %d", ErrInvalidNonce, nonce+1, expectedNonce)
	}

	touched := make(map[string]struct{}, len(entry.Legs))
	for _, leg := range entry.Legs {
		touched[leg.Account] = struct{}{}
	}
	for account := range touched {
		acc, ok := s.accounts[account]
		if !ok || acc.LastTransactionHash == "" {
			continue
		}
		raw, err := hex.DecodeString(acc.LastTransactionHash)
		if err != nil || len(raw) != 32 {
			continue
		}
		var prev [32]byte
		copy(prev[:], raw)
		entry.PrevForAccount[account] = prev
	}

	if preApply != nil {
		if err := preApply(s); err != nil {
			return err
		}
	}

	if err := s.applyEntryLocked(entry); err != nil {
		return err
	}

	acc, ok := s.accounts[sender]
	if !ok {
		acc = NewAccountState()
		s.accounts[sender] = acc
	}
	acc.Nonce++
	return nil
}

// ApplyEntry is the only mutator of account balances. It is strictly
// two-phase: phase 1 validates every invariant against the current state
// without mutating anything; phase 2, reached only if phase 1 fully
// succeeds, mutates balances and per-account chain metadata. A phase-1
// failure leaves State bytewise identical to its pre-call snapshot.
func (s *State) ApplyEntry(entry *LedgerEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.applyEntryLocked(entry)
}

func (s *State) applyEntryLocked(entry *LedgerEntry) error {
	// Phase 1: read-only validation.
	netByAsset := make(map[string]*big.Int)
	for _, leg := range entry.Legs {
		if _, ok := s.assets[leg.Asset]; !ok {
			return fmt.Errorf("%w: %s", ErrAssetNotRegistered, leg.Asset)
		}
		cur, ok := netByAsset[leg.Asset]
		if !ok {
			cur = big.NewInt(0)
		}
		netByAsset[leg.Asset] = new(big.Int).Add(cur, leg.signedDelta())
	}
	for asset, net := range netByAsset {
		if net.Sign() != 0 {
			return &UnbalancedAssetError{Asset: asset, Net: net.String()}
		}
	}
	for _, leg := range entry.Legs {
		if leg.Kind != Debit {
			continue
		}
		if _, exempt := equityAccounts[leg.Account]; exempt {
			continue
		}
		available := big.NewInt(0)
		if acc, ok := s.accounts[leg.Account]; ok {
			available = acc.Balance(leg.Asset)
		}
		if available.Cmp(leg.Amount) < 0 {
			return &InsufficientFundsError{
				Account:   leg.Account,
				Asset:     leg.Asset,
				Required:  leg.Amount.String(),
				Available: available.String(),
			}
		}
	}

	// Phase 2: mutate.
	involved := make(map[string]struct{}, len(entry.Legs))
	for _, leg := range entry.Legs {
		acc, ok := s.accounts[leg.Account]
		if !ok {
			acc = NewAccountState()
			s.accounts[leg.Account] = acc
		}
		if leg.Kind == Debit {
			acc.debit(leg.Asset, leg.Amount)
		} else {
			acc.credit(leg.Asset, leg.Amount)
		}
		involved[leg.Account] = struct{}{}
	}

	hash := entry.Hash()
	hashHex := fmt.Sprintf("%x", hash)
	for account := range involved {
		acc := s.accounts[account]
		acc.LastEntryID = entry.EntryID
		acc.LastTransactionHash = hashHex
	}
	return nil
}
