package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/heronlabs/heron/service/ledger"
	"github.com/heronlabs/heron/service/metrics"
)

const (
	// feeCeiling is the worst-case fee reserved during coin selection.
	// The real fee converges during assembly; reserving the protocol's
	// practical maximum up front means the selected inputs always cover
	// whatever the oracle returns.
	feeCeiling = 1_000_000

	// validityWindow is how many slots past the current tip a built
	// transaction remains valid.
	validityWindow = 7200
)

// buildJob carries everything the assembler needs for one transaction.
type buildJob struct {
	walletID string
	address  string
	outputs  []ledger.Output
	mints    []ledger.Mint
	policies map[string]ledger.Policy
	metadata map[uint64]any
	signers  []ledger.Signer
}

// BuildResult is a finalized, signed transaction together with the inputs
// it consumed and the outputs it will create.
type BuildResult struct {
	Tx      *ledger.BuiltTx
	Fee     uint64
	Inputs  []ledger.UnspentOutput
	Outputs []ledger.Output

	// Remaining is the cache working set minus consumed inputs; the
	// processor commits it back to the cache after a successful submit.
	Remaining []ledger.UnspentOutput
}

// Assembler turns a build job into a finalized transaction: selects inputs
// from the balance cache, iterates with the fee oracle until the fee
// matches the serialized size, and signs the result.
type Assembler struct {
	cache   *BalanceCache
	client  ledger.ChainClient
	codec   ledger.Codec
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewAssembler wires an assembler from its collaborators.
func NewAssembler(cache *BalanceCache, client ledger.ChainClient, codec ledger.Codec, m *metrics.Metrics, logger *slog.Logger) *Assembler {
	return &Assembler{
		cache:   cache,
		client:  client,
		codec:   codec,
		metrics: m,
		logger:  logger.With("component", "assembler"),
	}
}

// Build runs selection and fee iteration for one job. A negative balance
// discovered during change computation triggers exactly one top-up with the
// largest remaining coin output before the job fails with
// ErrInsufficientBalance.
func (a *Assembler) Build(ctx context.Context, job *buildJob) (*BuildResult, error) {
	start := time.Now()
	result, err := a.build(ctx, job)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	a.metrics.RecordBuild(job.walletID, outcome, time.Since(start).Seconds())
	return result, err
}

func (a *Assembler) build(ctx context.Context, job *buildJob) (*BuildResult, error) {
	outputs, err := a.raiseToMinCoin(ctx, job.outputs)
	if err != nil {
		return nil, err
	}

	available, err := a.cache.Get(ctx, job.address)
	if err != nil {
		return nil, err
	}

	required := requirementFor(outputs, job.mints, feeCeiling)
	sel, err := selectInputs(available, required)
	if err != nil {
		return nil, err
	}

	result, err := a.assemble(ctx, job, outputs, sel)
	if errors.Is(err, ledger.ErrInsufficientBalance) {
		// One bounded top-up: the fee or a change minimum pushed the
		// coin balance negative after selection looked sufficient.
		if !sel.topUp() {
			return nil, fmt.Errorf("%w: no outputs left for top-up", ledger.ErrInsufficientBalance)
		}
		a.logger.DebugContext(ctx, "retrying build after top-up",
			"wallet_id", job.walletID,
			"inputs", len(sel.inputs),
		)
		result, err = a.assemble(ctx, job, outputs, sel)
	}
	if err != nil {
		return nil, err
	}

	a.metrics.RecordInputsSelected(job.walletID, float64(len(result.Inputs)))
	return result, nil
}

// assemble performs one fee-iteration cycle over a fixed input set: size a
// placeholder draft, derive the fee, recompute change, then build and sign
// the final transaction.
func (a *Assembler) assemble(ctx context.Context, job *buildJob, outputs []ledger.Output, sel *selection) (*BuildResult, error) {
	tip, err := a.client.Tip(ctx)
	if err != nil {
		return nil, fmt.Errorf("query tip: %w", err)
	}
	ttl := tip + validityWindow

	// Draft change assuming zero fee so the sizing pass accounts for a
	// change output of realistic size.
	draftChange, err := changeFor(sel, outputs, job.mints, 0)
	if err != nil {
		return nil, err
	}
	draftOutputs := outputs
	if draftChange != nil {
		draftChange.Address = job.address
		draftOutputs = append(append([]ledger.Output{}, outputs...), *draftChange)
	}

	draft, err := a.codec.Assemble(ctx, ledger.BuildRequest{
		Inputs:      sel.inputs,
		Outputs:     draftOutputs,
		Mints:       job.mints,
		Policies:    job.policies,
		Metadata:    job.metadata,
		Fee:         0,
		TTL:         ttl,
		Signers:     job.signers,
		Placeholder: true,
	})
	if err != nil {
		return nil, fmt.Errorf("assemble draft: %w", err)
	}

	fee, err := a.client.EstimateFee(ctx, draft.Bytes)
	if err != nil {
		return nil, fmt.Errorf("estimate fee: %w", err)
	}

	change, err := changeFor(sel, outputs, job.mints, fee)
	if err != nil {
		return nil, err
	}

	finalOutputs := outputs
	if change != nil {
		change.Address = job.address
		minCoin, err := a.client.MinCoinForOutput(ctx, *change)
		if err != nil {
			return nil, fmt.Errorf("minimum coin for change: %w", err)
		}
		if change.Value.Coin() < minCoin {
			if change.Value.HasAssets() {
				// Leftover assets must ride a change output and the
				// coin on hand cannot carry them.
				return nil, ledger.ErrInsufficientBalance
			}
			// Dust: fold the whole remainder into the fee instead of
			// emitting a sub-minimum output.
			fee += change.Value.Coin()
			change = nil
		}
	}
	if change != nil {
		finalOutputs = append(append([]ledger.Output{}, outputs...), *change)
	}

	final, err := a.codec.Assemble(ctx, ledger.BuildRequest{
		Inputs:   sel.inputs,
		Outputs:  finalOutputs,
		Mints:    job.mints,
		Policies: job.policies,
		Metadata: job.metadata,
		Fee:      fee,
		TTL:      ttl,
		Signers:  job.signers,
	})
	if err != nil {
		return nil, fmt.Errorf("assemble final: %w", err)
	}

	return &BuildResult{
		Tx:        final,
		Fee:       fee,
		Inputs:    sel.inputs,
		Outputs:   finalOutputs,
		Remaining: sel.remaining,
	}, nil
}

// raiseToMinCoin enforces the minimum-coin rule on every asset-bearing
// output. Shortfalls raise the output's coin, and with it the selection
// requirement, rather than being dropped.
func (a *Assembler) raiseToMinCoin(ctx context.Context, outputs []ledger.Output) ([]ledger.Output, error) {
	raised := make([]ledger.Output, len(outputs))
	for i, out := range outputs {
		raised[i] = ledger.Output{Address: out.Address, Value: out.Value.Clone(), Datum: out.Datum}
		if !out.Value.HasAssets() {
			continue
		}
		minCoin, err := a.client.MinCoinForOutput(ctx, out)
		if err != nil {
			return nil, fmt.Errorf("minimum coin for output: %w", err)
		}
		if coin := raised[i].Value.Coin(); coin < minCoin {
			raised[i].Value[ledger.Lovelace] = minCoin
		}
	}
	return raised, nil
}

// changeFor computes the change output returning leftover value to the
// wallet: total input plus minted, minus requested outputs, minus fee.
// Returns nil when nothing is left over. A negative balance in any unit is
// ErrInsufficientBalance.
func changeFor(sel *selection, outputs []ledger.Output, mints []ledger.Mint, fee uint64) (*ledger.Output, error) {
	total := sel.supplied.Clone()
	for _, m := range mints {
		unit := m.Unit()
		if m.Quantity > 0 {
			total.Add(unit, uint64(m.Quantity))
		} else if m.Quantity < 0 {
			burned := uint64(-m.Quantity)
			if total.Get(unit) < burned {
				return nil, fmt.Errorf("%w: burn exceeds holdings of %s", ledger.ErrInsufficientBalance, unit)
			}
			total[unit] -= burned
		}
	}

	spent := ledger.NewValue(fee)
	for _, out := range outputs {
		for _, unit := range out.Value.Units() {
			spent.Add(unit, out.Value.Get(unit))
		}
	}

	change := ledger.NewValue(0)
	for _, unit := range total.Units() {
		have := total.Get(unit)
		need := spent.Get(unit)
		if have < need {
			return nil, ledger.ErrInsufficientBalance
		}
		if have > need {
			change.Add(unit, have-need)
		}
	}
	// Anything demanded but not supplied slipped past selection.
	for _, unit := range spent.Units() {
		if total.Get(unit) < spent.Get(unit) {
			return nil, ledger.ErrInsufficientBalance
		}
	}

	if change.Coin() == 0 && !change.HasAssets() {
		return nil, nil
	}
	return &ledger.Output{Value: change}, nil
}
