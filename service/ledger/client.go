package ledger

import "context"

// ChainClient is the ledger data provider consumed by the transaction
// engine. Implementations talk to an already-synced chain indexer; the
// engine never owns wire-format or chain-sync logic itself.
type ChainClient interface {
	// ListUnspentOutputs fetches the complete unspent-output set for an
	// address. Implementations page through the provider until a short
	// page is returned.
	ListUnspentOutputs(ctx context.Context, address string) ([]UnspentOutput, error)

	// EstimateFee returns the fee implied by the serialized size of the
	// given transaction bytes under the current protocol parameters.
	EstimateFee(ctx context.Context, txBytes []byte) (uint64, error)

	// MinCoinForOutput returns the ledger's minimum coin an output must
	// carry, derived from the output's serialized size.
	MinCoinForOutput(ctx context.Context, out Output) (uint64, error)

	// Submit sends the signed transaction to the network and returns its
	// hash. Rejections are returned as *SubmitError.
	Submit(ctx context.Context, txBytes []byte) (string, error)

	// Tip returns the latest known slot, used for transaction validity
	// windows and time-locked minting scripts.
	Tip(ctx context.Context) (uint64, error)
}
