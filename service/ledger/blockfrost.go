package ledger

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/blockfrost/blockfrost-go"

	"github.com/heronlabs/heron/service/metrics"
)

// utxoPageSize is the page size used when walking an address's unspent
// outputs. The provider terminates iteration by returning a short page.
const utxoPageSize = 100

// blockfrostAPI is the subset of the Blockfrost client the chain client
// needs. Declared as an interface so tests can script provider responses
// without hitting the network.
type blockfrostAPI interface {
	AddressUTXOs(ctx context.Context, address string, query blockfrost.APIQueryParams) ([]blockfrost.AddressUTXO, error)
	LatestEpochParameters(ctx context.Context) (blockfrost.EpochParameters, error)
	BlockLatest(ctx context.Context) (blockfrost.Block, error)
	TransactionSubmit(ctx context.Context, cbor []byte) (string, error)
}

// BlockfrostClient implements ChainClient against the Blockfrost API.
type BlockfrostClient struct {
	api     blockfrostAPI
	logger  *slog.Logger
	metrics *metrics.Metrics

	// Protocol parameters are effectively static within an epoch; fetch
	// once and refresh on a timer rather than per call.
	params        *protocolParams
	paramsFetched time.Time
	paramsTTL     time.Duration
}

// protocolParams is the slice of the epoch parameters the fee and min-coin
// oracles need.
type protocolParams struct {
	minFeeA          uint64
	minFeeB          uint64
	coinsPerUTxOByte uint64
}

// NewBlockfrostClient builds a chain client for the given Blockfrost
// project. The network is inferred from the project id prefix, matching the
// provider's own key format (preprod..., preview..., mainnet...).
func NewBlockfrostClient(projectID, customServer string, m *metrics.Metrics, logger *slog.Logger) (*BlockfrostClient, error) {
	server, err := serverForProject(projectID, customServer)
	if err != nil {
		return nil, err
	}
	api := blockfrost.NewAPIClient(blockfrost.APIClientOptions{
		ProjectID: projectID,
		Server:    server,
	})
	return &BlockfrostClient{
		api:       api,
		logger:    logger.With("component", "chain_client"),
		metrics:   m,
		paramsTTL: time.Hour,
	}, nil
}

// newBlockfrostClientWithAPI is the test seam.
func newBlockfrostClientWithAPI(api blockfrostAPI, m *metrics.Metrics, logger *slog.Logger) *BlockfrostClient {
	return &BlockfrostClient{
		api:       api,
		logger:    logger.With("component", "chain_client"),
		metrics:   m,
		paramsTTL: time.Hour,
	}
}

func serverForProject(projectID, customServer string) (string, error) {
	if customServer != "" {
		return customServer, nil
	}
	if len(projectID) < 7 {
		return "", fmt.Errorf("blockfrost project id is too short to infer a network")
	}
	switch strings.ToLower(projectID[:7]) {
	case "preprod":
		return blockfrost.CardanoPreProd, nil
	case "preview":
		return blockfrost.CardanoPreview, nil
	case "mainnet":
		return blockfrost.CardanoMainNet, nil
	}
	return "", fmt.Errorf("cannot infer network from project id prefix %q; set a custom API URL", projectID[:7])
}

// ListUnspentOutputs pages through the address's unspent outputs until the
// provider returns a short page. A 404 from the provider means the address
// has never been seen on chain: an empty set, not an error.
func (c *BlockfrostClient) ListUnspentOutputs(ctx context.Context, address string) ([]UnspentOutput, error) {
	var all []UnspentOutput
	start := time.Now()
	for page := 1; ; page++ {
		utxos, err := c.api.AddressUTXOs(ctx, address, blockfrost.APIQueryParams{
			Count: utxoPageSize,
			Page:  page,
		})
		if err != nil {
			if isNotFound(err) {
				break
			}
			c.recordCall("AddressUTXOs", "error", start)
			return nil, fmt.Errorf("list unspent outputs for %s: %w", address, err)
		}
		for _, u := range utxos {
			out, err := addressUTXOToDomain(u)
			if err != nil {
				return nil, err
			}
			all = append(all, out)
		}
		if len(utxos) < utxoPageSize {
			break
		}
	}
	c.recordCall("AddressUTXOs", "success", start)
	c.logger.DebugContext(ctx, "listed unspent outputs", "address", address, "count", len(all))
	return all, nil
}

// EstimateFee computes the linear fee for the serialized transaction:
// minFeeA * size + minFeeB.
func (c *BlockfrostClient) EstimateFee(ctx context.Context, txBytes []byte) (uint64, error) {
	pp, err := c.protocolParameters(ctx)
	if err != nil {
		return 0, err
	}
	return pp.minFeeA*uint64(len(txBytes)) + pp.minFeeB, nil
}

// MinCoinForOutput applies the ledger's size-based minimum-coin rule:
// (constant overhead + serialized output size) * coins-per-byte. The size is
// a conservative estimate of the CBOR encoding; the engine only needs the
// oracle to never understate the ledger's own computation.
func (c *BlockfrostClient) MinCoinForOutput(ctx context.Context, out Output) (uint64, error) {
	pp, err := c.protocolParameters(ctx)
	if err != nil {
		return 0, err
	}
	const utxoEntryOverhead = 160
	return (utxoEntryOverhead + estimateOutputSize(out)) * pp.coinsPerUTxOByte, nil
}

// estimateOutputSize approximates the serialized byte size of an output.
// Address bytes, per-policy and per-asset-name overhead, quantity varints,
// and the optional inline datum all contribute.
func estimateOutputSize(out Output) uint64 {
	size := uint64(40) // address bytes + output framing
	policies := map[string]struct{}{}
	for u := range out.Value {
		if u.IsCoin() {
			size += 9
			continue
		}
		policyID, assetName, err := u.Split()
		if err != nil {
			continue
		}
		policies[policyID] = struct{}{}
		size += uint64(len(assetName))/2 + 12
	}
	size += uint64(len(policies)) * 28
	size += uint64(len(out.Datum))
	return size
}

// Submit sends the signed transaction and classifies any rejection into the
// closed taxonomy. This is the single boundary where the node's rejection
// string is pattern-matched.
func (c *BlockfrostClient) Submit(ctx context.Context, txBytes []byte) (string, error) {
	start := time.Now()
	hash, err := c.api.TransactionSubmit(ctx, txBytes)
	if err != nil {
		c.recordCall("TransactionSubmit", "error", start)
		se := Classify(err.Error())
		c.logger.WarnContext(ctx, "transaction rejected",
			"kind", se.Kind.String(),
			"reason", se.Reason,
		)
		return "", se
	}
	c.recordCall("TransactionSubmit", "success", start)
	c.logger.InfoContext(ctx, "transaction submitted", "tx_hash", hash, "size_bytes", len(txBytes))
	return hash, nil
}

// Tip returns the slot of the latest block.
func (c *BlockfrostClient) Tip(ctx context.Context) (uint64, error) {
	block, err := c.api.BlockLatest(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch chain tip: %w", err)
	}
	return uint64(block.Slot), nil
}

func (c *BlockfrostClient) protocolParameters(ctx context.Context) (*protocolParams, error) {
	if c.params != nil && time.Since(c.paramsFetched) < c.paramsTTL {
		return c.params, nil
	}
	raw, err := c.api.LatestEpochParameters(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch protocol parameters: %w", err)
	}
	perByte, err := coinsPerByte(raw)
	if err != nil {
		return nil, err
	}
	c.params = &protocolParams{
		minFeeA:          uint64(raw.MinFeeA),
		minFeeB:          uint64(raw.MinFeeB),
		coinsPerUTxOByte: perByte,
	}
	c.paramsFetched = time.Now()
	c.logger.Debug("refreshed protocol parameters",
		"min_fee_a", c.params.minFeeA,
		"min_fee_b", c.params.minFeeB,
		"coins_per_utxo_byte", c.params.coinsPerUTxOByte,
	)
	return c.params, nil
}

// coinsPerByte extracts the per-byte UTxO cost that MinCoinForOutput needs.
// Babbage exposes it directly as coins_per_utxo_size; pre-Babbage parameter
// sets only carry the per-word cost, and a word is 8 bytes.
func coinsPerByte(raw blockfrost.EpochParameters) (uint64, error) {
	if raw.CoinsPerUTxOSize != nil && *raw.CoinsPerUTxOSize != "" {
		v, err := strconv.ParseUint(*raw.CoinsPerUTxOSize, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse coins_per_utxo_size %q: %w", *raw.CoinsPerUTxOSize, err)
		}
		return v, nil
	}
	v, err := strconv.ParseUint(raw.CoinsPerUtxOWord, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse coins_per_utxo_word %q: %w", raw.CoinsPerUtxOWord, err)
	}
	return v / 8, nil
}

func (c *BlockfrostClient) recordCall(method, status string, start time.Time) {
	if c.metrics == nil {
		return
	}
	c.metrics.RecordChainCall(method, status, time.Since(start).Seconds())
}

func addressUTXOToDomain(u blockfrost.AddressUTXO) (UnspentOutput, error) {
	value := Value{}
	for _, amt := range u.Amount {
		qty, err := strconv.ParseUint(amt.Quantity, 10, 64)
		if err != nil {
			return UnspentOutput{}, fmt.Errorf("parse quantity %q for unit %s: %w", amt.Quantity, amt.Unit, err)
		}
		value.Add(Unit(amt.Unit), qty)
	}
	return UnspentOutput{
		TxHash: u.TxHash,
		Index:  uint32(u.OutputIndex),
		Value:  value,
	}, nil
}

func isNotFound(err error) bool {
	return strings.Contains(err.Error(), "404") || strings.Contains(strings.ToLower(err.Error()), "not found")
}
