package engine

import (
	"fmt"

	"github.com/heronlabs/heron/service/ledger"
)

// selection is the result of a coin-selection pass: the inputs chosen for
// the build and the outputs left available for a later top-up.
type selection struct {
	inputs    []ledger.UnspentOutput
	remaining []ledger.UnspentOutput
	supplied  ledger.Value
}

// selectInputs chooses unspent outputs covering the required value.
// Assets are covered first: each short asset unit claims a whole output
// containing it, all of whose contents count toward the requirement. The
// residual coin requirement is then covered largest-first to keep the input
// count, and with it the transaction size, small.
func selectInputs(available []ledger.UnspentOutput, required ledger.Value) (*selection, error) {
	sel := &selection{
		remaining: make([]ledger.UnspentOutput, len(available)),
		supplied:  ledger.NewValue(0),
	}
	copy(sel.remaining, available)

	// Asset pass: consume whole outputs until every non-coin unit is met.
	for _, unit := range required.Units() {
		if unit.IsCoin() {
			continue
		}
		for sel.supplied.Get(unit) < required.Get(unit) {
			idx := -1
			for i, out := range sel.remaining {
				if out.Value.Get(unit) > 0 {
					idx = i
					break
				}
			}
			if idx < 0 {
				return nil, fmt.Errorf("%w: unit %s short by %d",
					ledger.ErrInsufficientBalance, unit, required.Get(unit)-sel.supplied.Get(unit))
			}
			sel.take(idx)
		}
	}

	// Coin pass: largest coin first until the coin requirement is met.
	for sel.supplied.Coin() < required.Coin() {
		idx := largestCoinIndex(sel.remaining)
		if idx < 0 {
			return nil, fmt.Errorf("%w: coin short by %d",
				ledger.ErrInsufficientBalance, required.Coin()-sel.supplied.Coin())
		}
		sel.take(idx)
	}

	return sel, nil
}

// take moves remaining[idx] into the selected-input set and credits its
// full contents against the requirement.
func (s *selection) take(idx int) {
	out := s.remaining[idx]
	s.inputs = append(s.inputs, out)
	s.remaining = append(s.remaining[:idx], s.remaining[idx+1:]...)
	for _, unit := range out.Value.Units() {
		s.supplied.Add(unit, out.Value.Get(unit))
	}
}

// topUp adds the single largest-coin remaining output to the selection.
// Returns false when nothing is left to add.
func (s *selection) topUp() bool {
	idx := largestCoinIndex(s.remaining)
	if idx < 0 {
		return false
	}
	s.take(idx)
	return true
}

func largestCoinIndex(outputs []ledger.UnspentOutput) int {
	idx := -1
	var best uint64
	for i, out := range outputs {
		if coin := out.Value.Coin(); coin > best {
			best = coin
			idx = i
		}
	}
	return idx
}

// requirementFor derives the selection target from the requested outputs,
// the worst-case fee ceiling and the mint declarations. Minted quantities
// are supplied by the mint rather than consumed from inputs, so they reduce
// the requirement; burned quantities must come from inputs and raise it.
func requirementFor(outputs []ledger.Output, mints []ledger.Mint, feeCeiling uint64) ledger.Value {
	required := ledger.NewValue(feeCeiling)
	for _, out := range outputs {
		for _, unit := range out.Value.Units() {
			required.Add(unit, out.Value.Get(unit))
		}
	}
	for _, m := range mints {
		unit := m.Unit()
		if m.Quantity > 0 {
			minted := uint64(m.Quantity)
			if required.Get(unit) <= minted {
				delete(required, unit)
			} else {
				required[unit] -= minted
			}
		} else if m.Quantity < 0 {
			required.Add(unit, uint64(-m.Quantity))
		}
	}
	return required
}
