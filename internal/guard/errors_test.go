package guard

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestError_Format(t *testing.T) {
	tests := []struct {
		name string
		err  *Error
		want string
	}{
		{
			name: "plain",
			err:  NewIntegrityError("items redeemed exceeds items available"),
			want: "INTEGRITY_ERROR: items redeemed exceeds items available",
		},
		{
			name: "group and condition",
			err:  NewUnknownConditionError("WL", "asset_gate"),
			want: "CONFIGURATION_ERROR: unknown guard condition (group=WL, condition=asset_gate)",
		},
		{
			name: "group only",
			err:  NewSubmissionRaceError("pub", ReasonSoldOut),
			want: "SUBMISSION_RACE_ERROR: guard no longer allows minting: sold out (group=pub)",
		},
		{
			name: "cause",
			err:  NewTransientError("fetch candy machine", errors.New("timeout")),
			want: "TRANSIENT_FETCH_ERROR: fetch candy machine: timeout",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestError_PredicatesSeeThroughWrapping(t *testing.T) {
	cause := errors.New("connection reset")
	err := fmt.Errorf("pass 3: %w", NewTransientError("fetch wallet", cause))

	assert.True(t, IsTransient(err))
	assert.False(t, IsConfigurationError(err))
	assert.False(t, IsHardFailure(err))
	assert.ErrorIs(t, err, cause)

	cfg := fmt.Errorf("load: %w", NewConfigurationError("candy guard not found", nil))
	assert.True(t, IsConfigurationError(cfg))
	assert.True(t, IsHardFailure(cfg))

	assert.True(t, IsSubmissionRace(NewSubmissionRaceError("g", "x")))
	assert.False(t, IsTransient(errors.New("plain")))
}
