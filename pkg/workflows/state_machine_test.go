package workflows

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStateMachine(t *testing.T) {
	sm := NewStateMachine(map[string][]string{
		"active": {"withdrawn", "sold"},
	})

	tests := []struct {
		from, to string
		want     bool
	}{
		{"active", "sold", true},
		{"active", "withdrawn", true},
		{"sold", "active", false},
		{"withdrawn", "sold", false},
		{"active", "active", false},
		{"unknown", "sold", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, sm.CanTransition(tt.from, tt.to), "%s -> %s", tt.from, tt.to)
	}

	assert.Equal(t, []string{"sold", "withdrawn"}, sm.GetAllowedTransitions("active"))
	assert.Empty(t, sm.GetAllowedTransitions("missing"))
	assert.True(t, sm.IsTerminal("sold"))
	assert.False(t, sm.IsTerminal("active"))
	assert.False(t, sm.IsTerminal("missing"))
	assert.True(t, sm.Known("withdrawn"))
	assert.False(t, sm.Known("missing"))
}
