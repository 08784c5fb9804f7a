// internal/chain/adapter.go
package chain

import (
	"context"
	"errors"
)

// Sentinel errors the engine branches on. Anything else coming out of the
// adapter is transient and already went through the retry policy.
var (
	ErrNotFound   = errors.New("chain: not found")
	ErrRejected   = errors.New("chain: transaction rejected")
	ErrRateLimited = errors.New("chain: rate limited")
)

// AddressTx is one page entry of transactions touching an address.
type AddressTx struct {
	TxHash    string `json:"tx_hash"`
	BlockTime int64  `json:"block_time"`
}

// Amount is a {unit, quantity} pair as the indexer reports it.
type Amount struct {
	Unit     string `json:"unit"`
	Quantity int64  `json:"quantity,string"`
}

// UTxO is one input or output of a transaction.
type UTxO struct {
	Address             string   `json:"address"`
	TxHash              string   `json:"tx_hash"`
	OutputIndex         uint32   `json:"output_index"`
	Amounts             []Amount `json:"amount"`
	InlineDatum         string   `json:"inline_datum"` // hex CBOR, empty when absent
	ReferenceScriptHash string   `json:"reference_script_hash"`
	Collateral          bool     `json:"collateral"`
}

// TxInfo is the extended view of a transaction the sync loop works from.
type TxInfo struct {
	TxHash        string
	BlockHash     string
	BlockTime     int64
	Confirmations int64
	Inputs        []UTxO
	Outputs       []UTxO
	RawBody       []byte
}

// ExUnits is the execution budget of one script evaluation.
type ExUnits struct {
	Mem   uint64 `json:"memory"`
	Steps uint64 `json:"steps"`
}

// Adapter abstracts the UTxO-chain indexer. Implementations retry transient
// failures internally with exponential back-off before returning an error;
// callers treat every returned error as final for the current cycle. No
// package outside this one talks to the indexer.
type Adapter interface {
	// ListTxsAt returns transactions touching the address, newest first,
	// page indexes starting at 1. An empty page means the history is
	// exhausted.
	ListTxsAt(ctx context.Context, address string, page int) ([]AddressTx, error)

	// ListUTxOsAt returns the unspent outputs currently sitting at an
	// address. Dispatchers feed these into largest-first coin selection.
	ListUTxOsAt(ctx context.Context, address string) ([]UTxO, error)

	// GetTx fetches the extended transaction info including raw body bytes.
	// Returns ErrNotFound for transactions unknown to the current chain,
	// which is how rollbacks become visible.
	GetTx(ctx context.Context, txHash string) (*TxInfo, error)

	// SubmitTx submits a signed CBOR transaction and returns its hash.
	SubmitTx(ctx context.Context, signed []byte) (string, error)

	// EvaluateTx computes execution units per redeemer for an unsigned
	// transaction, keyed "tag:index".
	EvaluateTx(ctx context.Context, raw []byte) (map[string]ExUnits, error)
}
