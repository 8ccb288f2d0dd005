package ledger

import (
	"errors"
	"fmt"
	"strings"
)

// SubmitErrorKind is the closed classification of ledger rejection reasons.
// The string matching that produces it lives only in Classify; everything
// downstream switches on the kind.
type SubmitErrorKind int

const (
	// KindGeneric covers transient network/protocol failures and anything
	// the classifier does not recognize.
	KindGeneric SubmitErrorKind = iota
	// KindValueNotConserved means declared inputs/outputs/mint do not
	// balance. Almost always a stale balance cache.
	KindValueNotConserved
	// KindBadInputs means a selected input was already spent: a race with
	// another consumer of the address, or a stale cache.
	KindBadInputs
)

// String implements fmt.Stringer for metric labels and log fields.
func (k SubmitErrorKind) String() string {
	switch k {
	case KindValueNotConserved:
		return "value_not_conserved"
	case KindBadInputs:
		return "bad_inputs"
	default:
		return "generic"
	}
}

// ForcesRefresh reports whether a rejection of this kind warrants a cache
// refresh before the next attempt. All kinds are re-enqueued up to the
// ceiling; only these two invalidate the balance cache first.
func (k SubmitErrorKind) ForcesRefresh() bool {
	return k == KindValueNotConserved || k == KindBadInputs
}

// SubmitError is a classified ledger rejection.
type SubmitError struct {
	Kind   SubmitErrorKind
	Reason string
}

func (e *SubmitError) Error() string {
	return fmt.Sprintf("transaction rejected (%s): %s", e.Kind, e.Reason)
}

// ErrInsufficientBalance is returned when coin selection cannot meet the
// requirement even after the single top-up attempt. It is terminal for the
// job: no amount of retrying conjures funds.
var ErrInsufficientBalance = errors.New("insufficient balance to cover outputs and fee")

// ErrPolicyNotFound is returned when a mint declaration references a policy
// id with no registered minting policy.
var ErrPolicyNotFound = errors.New("minting policy not found")

// Classify maps a raw node rejection string onto the closed taxonomy. The
// ledger's own error vocabulary is authoritative: ValueNotConservedUTxO and
// BadInputsUTxO are the two recognizable rule violations, everything else is
// generic.
func Classify(reason string) *SubmitError {
	lower := strings.ToLower(reason)
	kind := KindGeneric
	switch {
	case strings.Contains(lower, "valuenotconservedutxo"):
		kind = KindValueNotConserved
	case strings.Contains(lower, "badinputsutxo"):
		kind = KindBadInputs
	}
	return &SubmitError{Kind: kind, Reason: reason}
}

// AsSubmitError unwraps a SubmitError from an error chain. The second return
// is false when the error is not a classified rejection.
func AsSubmitError(err error) (*SubmitError, bool) {
	var se *SubmitError
	if errors.As(err, &se) {
		return se, true
	}
	return nil, false
}
