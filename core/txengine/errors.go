package txengine

import "errors"

// Stateless-validation failures (spec §7 ValidationError).
var (
	ErrEmptySignature       = errors.New("txengine: transaction is missing a signature")
	ErrInvalidSignature     = errors.New("txengine: sender signature verification failed")
	ErrAddressMismatch      = errors.New("txengine: sender address does not match signing public key")
	ErrMissingFeePayerSig   = errors.New("txengine: fee payer declared but no fee payer signature provided")
	ErrFeePayerSigInvalid   = errors.New("txengine: fee payer signature verification failed")
	ErrFeePayerAddrMismatch = errors.New("txengine: fee payer address does not match its signing public key")
	ErrUnparseableContent   = errors.New("txengine: proposal content is neither a transaction batch nor a single transaction")
	ErrZeroAmount           = errors.New("txengine: transaction amount must be positive")
)

// Stateful failures (spec §7 StateError / AuthorizationError). Invalid
// nonce reuses ledger.ErrInvalidNonce since the nonce itself is ledger
// state, not a transaction-engine concept.
var (
	ErrUnauthorizedSystemSpend = errors.New("txengine: system accounts require the genesis admin key")
	ErrRegistrationFeeTooLow = errors.New("txengine: insufficient registration fee")
	ErrRegistrationFeeAsset  = errors.New("txengine: registration fee must be paid in ATLAS")
	ErrInvalidRegistryMemo   = errors.New("txengine: system:registry memo is not a valid asset definition")
	ErrInvalidStakingMemo    = errors.New("txengine: system:staking memo is not a recognized delegate/undelegate instruction")
)

// Mempool admission failures (spec §7 "rejects synchronously to the submitter").
var (
	ErrDuplicateTransaction = errors.New("txengine: transaction already queued or committed")
	ErrMempoolRateLimited   = errors.New("txengine: sender exceeded mempool admission rate")
)
