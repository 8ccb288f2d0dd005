package ledger

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name   string
		reason string
		want   SubmitErrorKind
	}{
		{
			name:   "value not conserved",
			reason: `transaction submit error: ValueNotConservedUTxO (Value 9 /= Value 10)`,
			want:   KindValueNotConserved,
		},
		{
			name:   "bad inputs",
			reason: `transaction submit error: BadInputsUTxO (fromList [...])`,
			want:   KindBadInputs,
		},
		{
			name:   "case insensitive",
			reason: "BADINPUTSUTXO",
			want:   KindBadInputs,
		},
		{
			name:   "unrecognized rejection",
			reason: "OutsideValidityIntervalUTxO",
			want:   KindGeneric,
		},
		{
			name:   "transport error",
			reason: "connection reset by peer",
			want:   KindGeneric,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			se := Classify(tt.reason)
			assert.Equal(t, tt.want, se.Kind)
			assert.Equal(t, tt.reason, se.Reason)
		})
	}
}

func TestForcesRefresh(t *testing.T) {
	assert.True(t, KindValueNotConserved.ForcesRefresh())
	assert.True(t, KindBadInputs.ForcesRefresh())
	assert.False(t, KindGeneric.ForcesRefresh())
}

func TestSubmitErrorKindString(t *testing.T) {
	assert.Equal(t, "value_not_conserved", KindValueNotConserved.String())
	assert.Equal(t, "bad_inputs", KindBadInputs.String())
	assert.Equal(t, "generic", KindGeneric.String())
}

func TestAsSubmitError(t *testing.T) {
	se := Classify("BadInputsUTxO")
	wrapped := fmt.Errorf("submit: %w", se)

	got, ok := AsSubmitError(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindBadInputs, got.Kind)

	_, ok = AsSubmitError(errors.New("plain"))
	assert.False(t, ok)
}
