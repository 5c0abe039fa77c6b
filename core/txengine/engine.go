package txengine

import (
	"bytes"
	"context"
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"strconv"
	"strings"

	"atlasledger/consensus/bft"
	"atlasledger/core/ledger"
	"atlasledger/core/types"
	"atlasledger/crypto"
	"atlasledger/observability/otel"

	"go.opentelemetry.io/otel/attribute"
	apitrace "go.opentelemetry.io/otel/trace"
)

var tracer = otel.Tracer("atlasledger/core/txengine")

// VaultFeesAccount receives the system's share of every transaction fee.
const VaultFeesAccount = "vault:fees"

// Fee schedule (spec §4.3 step 4): totalFee = baseFee + feePerByte*size,
// split validatorSharePercent/  (100-validatorSharePercent) between the
// block proposer and VaultFeesAccount.
const (
	baseFee              = 1000
	feePerByte           = 10
	validatorSharePercent = 90
)

// Registration fee (spec §4.3 interceptors): a system:registry transaction
// must pay at least this much ATLAS, collected entirely by VaultFeesAccount.
const registrationFeeAmount = 100

// Engine is the Transaction Engine: it turns a committed proposal's batch
// of signed transactions into ledger mutations, one transaction at a time,
// grounded on the original implementation's execute_transaction pipeline
// (original_source atlas-ledger/src/core/ledger/transaction_engine.rs).
type Engine struct {
	State  *ledger.State
	Shards ledger.ShardAppender

	// AdminPublicKey is the genesis admin Ed25519 public key authorized to
	// sign transactions debiting any vault:* account. Left nil disables
	// vault spends entirely.
	AdminPublicKey []byte

	// AbortOnFirstFailure switches ApplyProposal from its default
	// behavior — skip a failing transaction and keep applying the rest of
	// the batch, matching the original implementation's observed
	// behavior — to stopping at the first failure and leaving the
	// remaining transactions in the batch unapplied. Transactions already
	// committed before the failure are not rolled back either way.
	AbortOnFirstFailure bool
}

// New constructs an Engine. shards may be nil to skip shard persistence
// entirely; WAL replay instead skips it per call through ApplyProposal's
// persistShards argument.
func New(state *ledger.State, shards ledger.ShardAppender, adminPublicKey []byte) *Engine {
	return &Engine{State: state, Shards: shards, AdminPublicKey: adminPublicKey}
}

// ApplyResult tallies how many of a proposal's transactions committed.
type ApplyResult struct {
	Applied int
	Failed  int
}

// ApplyProposal parses proposal.Content into a transaction batch and
// applies each transaction in order. A single transaction's failure does
// not abort its siblings (spec §4.3: "a failing transaction is dropped
// from the batch, not the whole proposal"); persistShards controls whether
// successfully applied entries are written to the Sharded Account Log,
// which the consensus driver disables during replay since the shard
// files already hold those entries from their first application.
func (e *Engine) ApplyProposal(proposal *bft.Proposal, persistShards bool) (ApplyResult, error) {
	batch, err := ParseBatch(proposal.Content)
	if err != nil {
		return ApplyResult{}, err
	}

	var result ApplyResult
	for i, st := range batch {
		_, span := tracer.Start(context.Background(), "Engine.ApplyTransaction", apitrace.WithAttributes(
			attribute.String("proposal_id", proposal.ID),
			attribute.Int("index", i),
			attribute.String("from", st.Transaction.From),
		))
		err := e.applyOne(proposal, i, st, persistShards)
		span.End()
		if err != nil {
			slog.Warn("transaction rejected",
				"proposal", proposal.ID, "index", i, "from", st.Transaction.From, "err", err)
			result.Failed++
			if e.AbortOnFirstFailure {
				break
			}
			continue
		}
		result.Applied++
	}
	return result, nil
}

// ParseBatch accepts the three content shapes a proposal may carry (spec
// §4.3 step 1): a JSON array of SignedTransaction (the normal case), a
// single SignedTransaction object, or a single legacy unsigned Transaction
// object (parsed with an empty signature, which stateless validation
// always rejects with ErrEmptySignature).
func ParseBatch(content []byte) ([]*types.SignedTransaction, error) {
	var batch []*types.SignedTransaction
	if err := json.Unmarshal(content, &batch); err == nil && batch != nil {
		return batch, nil
	}

	var single types.SignedTransaction
	if err := json.Unmarshal(content, &single); err == nil && single.Transaction.From != "" {
		return []*types.SignedTransaction{&single}, nil
	}

	var legacy types.Transaction
	if err := json.Unmarshal(content, &legacy); err == nil && legacy.From != "" {
		return []*types.SignedTransaction{{Transaction: legacy}}, nil
	}

	return nil, ErrUnparseableContent
}

// TxHashesOf parses content the same way ApplyProposal does and returns
// each transaction's hash, in batch order — the list the Secondary Index
// stores per committed proposal (spec §4.5).
func TxHashesOf(content []byte) ([]string, error) {
	batch, err := ParseBatch(content)
	if err != nil {
		return nil, err
	}
	hashes := make([]string, len(batch))
	for i, st := range batch {
		hashes[i] = st.Hash()
	}
	return hashes, nil
}

// accountKey resolves a transaction's from/to/fee-payer field into the
// ledger account key it addresses. Strings already carrying a "vault:",
// "patrimonio:", or "wallet:" class prefix are used as-is; everything
// else, including bare addresses and the pooled "system:registry" /
// "system:staking" identifiers, is a wallet account and gets "wallet:"
// prepended.
func accountKey(raw string) string {
	if strings.HasPrefix(raw, "vault:") || strings.HasPrefix(raw, "patrimonio:") || strings.HasPrefix(raw, "wallet:") {
		return raw
	}
	return "wallet:" + raw
}

func (e *Engine) applyOne(proposal *bft.Proposal, index int, st *types.SignedTransaction, persistShards bool) error {
	tx := &st.Transaction

	if err := e.validateStateless(st); err != nil {
		return err
	}
	if tx.Amount == nil || tx.Amount.Sign() <= 0 {
		return ErrZeroAmount
	}
	if err := e.validateAsset(tx.Asset); err != nil {
		return err
	}

	fromKey := accountKey(tx.From)
	toKey := accountKey(tx.To)

	legs := []ledger.Leg{
		ledger.NewLeg(fromKey, tx.Asset, ledger.Debit, tx.Amount),
		ledger.NewLeg(toKey, tx.Asset, ledger.Credit, tx.Amount),
	}

	feePayer := st.FeePayer
	if feePayer == "" {
		feePayer = tx.From
	}
	feePayerKey := accountKey(feePayer)

	totalFee := big.NewInt(baseFee + feePerByte*int64(tx.SizeBytes()))
	validatorReward := new(big.Int).Div(new(big.Int).Mul(totalFee, big.NewInt(validatorSharePercent)), big.NewInt(100))
	systemRevenue := new(big.Int).Sub(totalFee, validatorReward)
	proposerKey := accountKey(proposal.Proposer)

	legs = append(legs,
		ledger.NewLeg(feePayerKey, ledger.AtlasAssetID, ledger.Debit, totalFee),
		ledger.NewLeg(proposerKey, ledger.AtlasAssetID, ledger.Credit, validatorReward),
		ledger.NewLeg(VaultFeesAccount, ledger.AtlasAssetID, ledger.Credit, systemRevenue),
	)

	var actions []Action

	switch tx.To {
	case "system:registry":
		extraLegs, action, err := e.registryInterceptor(tx)
		if err != nil {
			return err
		}
		legs = append(legs, extraLegs...)
		actions = append(actions, action)

	case "system:staking":
		extraLegs, action, err := e.stakingInterceptor(tx, fromKey)
		if err != nil {
			return err
		}
		legs = append(legs, extraLegs...)
		actions = append(actions, action)
	}

	entryID := fmt.Sprintf("entry-%s-%d", proposal.ID, index)
	entry := ledger.NewLedgerEntry(entryID, legs, st.Hash(), proposal.Height, proposal.Time, tx.Memo)

	preApply := func(s *ledger.State) error {
		for _, a := range actions {
			if err := a.Apply(s); err != nil {
				return err
			}
		}
		return nil
	}

	if err := e.State.ApplyTransactionEntry(fromKey, tx.Nonce, entry, preApply); err != nil {
		return err
	}

	if persistShards && e.Shards != nil {
		involved := make(map[string]struct{}, len(entry.Legs))
		for _, leg := range entry.Legs {
			involved[leg.Account] = struct{}{}
		}
		for account := range involved {
			if err := e.Shards.Append(account, entry); err != nil {
				slog.Error("shard append failed", "account", account, "entry", entry.EntryID, "err", err)
			}
		}
	}

	return nil
}

// registryInterceptor validates a system:registry transaction's memo (a
// JSON AssetDefinition), requires at least registrationFeeAmount ATLAS and
// that the claimed issuer matches the sender, and returns the legs that
// move the registration fee from the pooled system:registry account (where
// the base accounting entry deposited it) to VaultFeesAccount, plus the
// RegisterAssetAction itself.
func (e *Engine) registryInterceptor(tx *types.Transaction) ([]ledger.Leg, Action, error) {
	if tx.Asset != ledger.AtlasAssetID {
		return nil, nil, ErrRegistrationFeeAsset
	}
	if tx.Amount.Cmp(big.NewInt(registrationFeeAmount)) < 0 {
		return nil, nil, ErrRegistrationFeeTooLow
	}
	if tx.Memo == "" {
		return nil, nil, ErrInvalidRegistryMemo
	}
	var def types.AssetDefinition
	if err := json.Unmarshal([]byte(tx.Memo), &def); err != nil || def.Symbol == "" || def.Issuer == "" {
		return nil, nil, ErrInvalidRegistryMemo
	}
	if def.Issuer != tx.From {
		return nil, nil, fmt.Errorf("%w: claimed issuer %s does not match sender %s", ledger.ErrUnauthorizedIssuer, def.Issuer, tx.From)
	}

	fee := big.NewInt(registrationFeeAmount)
	legs := []ledger.Leg{
		ledger.NewLeg(accountKey("system:registry"), ledger.AtlasAssetID, ledger.Debit, fee),
		ledger.NewLeg(VaultFeesAccount, ledger.AtlasAssetID, ledger.Credit, fee),
	}
	action := RegisterAssetAction{Definition: ledger.AssetDefinition{
		ID:     ledger.AssetID(def.Issuer, def.Symbol),
		Issuer: def.Issuer,
		Symbol: def.Symbol,
	}}
	return legs, action, nil
}

// stakingInterceptor parses a system:staking transaction's memo, one of
// "delegate:<validator>" or "undelegate:<validator>:<amount>", and returns
// the extra legs (undelegate alone refunds the delegator from the pooled
// system:staking account) plus the deferred Action.
func (e *Engine) stakingInterceptor(tx *types.Transaction, fromKey string) ([]ledger.Leg, Action, error) {
	switch {
	case strings.HasPrefix(tx.Memo, "delegate:"):
		validator := strings.TrimPrefix(tx.Memo, "delegate:")
		if validator == "" {
			return nil, nil, ErrInvalidStakingMemo
		}
		return nil, DelegateAction{Delegator: tx.From, Validator: validator, Amount: tx.Amount.Uint64()}, nil

	case strings.HasPrefix(tx.Memo, "undelegate:"):
		parts := strings.SplitN(strings.TrimPrefix(tx.Memo, "undelegate:"), ":", 2)
		if len(parts) != 2 || parts[0] == "" {
			return nil, nil, ErrInvalidStakingMemo
		}
		amount, err := strconv.ParseUint(parts[1], 10, 64)
		if err != nil {
			return nil, nil, ErrInvalidStakingMemo
		}
		refund := new(big.Int).SetUint64(amount)
		legs := []ledger.Leg{
			ledger.NewLeg(accountKey("system:staking"), ledger.AtlasAssetID, ledger.Debit, refund),
			ledger.NewLeg(fromKey, ledger.AtlasAssetID, ledger.Credit, refund),
		}
		return legs, UndelegateAction{Delegator: tx.From, Validator: parts[0], Amount: amount}, nil

	default:
		return nil, nil, ErrInvalidStakingMemo
	}
}

// validateAsset rejects a transaction against an asset State has no
// definition for (spec §4.3 step 2).
func (e *Engine) validateAsset(asset string) error {
	if !e.State.HasAsset(asset) {
		return fmt.Errorf("%w: %s", ledger.ErrAssetNotRegistered, asset)
	}
	return nil
}

// validateStateless runs the signature, address, fee-payer, and admin-key
// checks that depend only on the transaction's own bytes (spec §4.3
// step 1): no ledger state is consulted.
func (e *Engine) validateStateless(st *types.SignedTransaction) error {
	tx := &st.Transaction

	if len(st.Signature) == 0 || len(st.PublicKey) == 0 {
		return ErrEmptySignature
	}
	if !crypto.Verify(st.PublicKey, tx.SigningBytes(), st.Signature) {
		return ErrInvalidSignature
	}
	if !strings.Contains(tx.From, ":") {
		addr, err := crypto.AddressFromPublicKey(crypto.ExposedPrefix, ed25519.PublicKey(st.PublicKey))
		if err != nil || addr.String() != tx.From {
			return ErrAddressMismatch
		}
	}

	if st.FeePayer != "" {
		if len(st.FeePayerSignature) == 0 || len(st.FeePayerPublicKey) == 0 {
			return ErrMissingFeePayerSig
		}
		if !crypto.Verify(st.FeePayerPublicKey, tx.SigningBytes(), st.FeePayerSignature) {
			return ErrFeePayerSigInvalid
		}
		if !strings.Contains(st.FeePayer, ":") {
			addr, err := crypto.AddressFromPublicKey(crypto.ExposedPrefix, ed25519.PublicKey(st.FeePayerPublicKey))
			if err != nil || addr.String() != st.FeePayer {
				return ErrFeePayerAddrMismatch
			}
		}
	}

	if strings.HasPrefix(tx.From, "vault:") {
		if e.AdminPublicKey == nil || !bytes.Equal(st.PublicKey, e.AdminPublicKey) {
			return ErrUnauthorizedSystemSpend
		}
	}

	return nil
}
