package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHash_Validate(t *testing.T) {
	tests := []struct {
		name    string
		input   Hash
		wantErr bool
	}{
		{name: "Plain hash", input: "abc123", wantErr: false},
		{name: "Long hex hash", input: "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", wantErr: false},
		{name: "Empty", input: "", wantErr: true},
		{name: "Dot dot", input: "..", wantErr: true},
		{name: "Slash", input: "abc/def", wantErr: true},
		{name: "Backslash", input: `abc\def`, wantErr: true},
		{name: "Commit suffix", input: "abc.commit", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.input.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidHash)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestHash_Keys(t *testing.T) {
	h := Hash("abc123")
	assert.Equal(t, "abc123", h.ContentPrefix())
	assert.Equal(t, "abc123.commit", h.CommitKey())
	assert.Equal(t, "abc123", h.String())
	assert.False(t, h.IsZero())

	var zero Hash
	assert.True(t, zero.IsZero())
}

func TestOutcome_IsHit(t *testing.T) {
	assert.True(t, OutcomeHitLocal.IsHit())
	assert.True(t, OutcomeHitRemote.IsHit())
	assert.False(t, OutcomeMiss.IsHit())
	assert.False(t, OutcomeError.IsHit())
	assert.Equal(t, "miss", OutcomeMiss.String())
}
