package ledger

import "context"

// BuildRequest carries everything the codec needs to assemble a
// transaction: the structured fields the assembler produced plus the signing
// capabilities for the wallet and any involved minting policies.
type BuildRequest struct {
	Inputs   []UnspentOutput
	Outputs  []Output
	Mints    []Mint
	Policies map[string]Policy // keyed by policy id, one entry per distinct minted policy
	Metadata map[uint64]any
	Fee      uint64
	TTL      uint64

	// Signers holds the wallet payment key plus one signer per involved
	// policy. Every signer contributes a witness.
	Signers []Signer

	// Placeholder requests witnesses of the correct byte length without
	// real signatures. Used for the fee-sizing draft only; a placeholder
	// transaction must never be submitted.
	Placeholder bool
}

// BuiltTx is a serialized transaction and its canonical hash.
type BuiltTx struct {
	Bytes []byte
	Hash  string
}

// Codec assembles and serializes transactions. The engine treats it as a
// black-box encoder; all wire-format knowledge lives behind this interface.
type Codec interface {
	Assemble(ctx context.Context, req BuildRequest) (*BuiltTx, error)
}
