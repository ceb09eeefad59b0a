package core

import (
	"errors"

	"github.com/metachain-labs/evmcore/core/txqueue"
)

// Block-fatal errors. A finalize call failing with one of these persisted
// nothing and left its queue intact.
var (
	// ErrInvalidNonce is returned when a queued transaction's nonce differs
	// from the sender's account nonce at execution time.
	ErrInvalidNonce = errors.New("EVM block rejected for invalid nonce")

	// ErrFeeMismatch is returned when the executed fees differ from the fees
	// promised at admission.
	ErrFeeMismatch = errors.New("EVM block rejected because block total fees != (burnt fees + priority fees)")

	// ErrTxNotApplicable is returned when the EVM refuses a transaction as a
	// whole, e.g. a fee cap below the base fee or an exhausted block gas pool.
	// A sender that can no longer pay only fails its own transaction.
	ErrTxNotApplicable = errors.New("EVM block rejected for inapplicable transaction")

	// ErrStateRootMismatch is returned when the committed state root differs
	// from the root written into the block header.
	ErrStateRootMismatch = errors.New("committed state root differs from computed root")

	// ErrBaseFeeMismatch is returned when a queue's transactions were admitted
	// under a different base fee than the block is built with.
	ErrBaseFeeMismatch = txqueue.ErrBaseFeeMismatch

	// ErrUnknownQueue is returned for operations on an unknown queue id.
	ErrUnknownQueue = txqueue.ErrNoSuchQueue
)

// Item-level errors. They are recorded as failed transactions and never abort
// a block.
var (
	ErrContractExists   = errors.New("token address is already in use")
	ErrNotDST20Contract = errors.New("DST20 token code is not valid")
	ErrDST20Balance     = errors.New("DST20 balance overflow/underflow")
)

// Admission errors.
var (
	ErrGasPriceTooLow    = errors.New("tx gas price is lower than block base fee")
	ErrNonceTooLow       = errors.New("nonce too low")
	ErrGasLimitTooHigh   = errors.New("tx gas limit above block gas limit")
	ErrIntrinsicGas      = errors.New("intrinsic gas too low")
	ErrInsufficientFunds = errors.New("insufficient funds for gas * price + value")
)

// ErrGenesisNotAllowed is returned at construction when a genesis file is
// given for a network other than regtest.
var ErrGenesisNotAllowed = errors.New("loading a genesis from JSON file is restricted to regtest network")
