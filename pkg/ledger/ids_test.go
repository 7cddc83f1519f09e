package ledger

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseTransactionID(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    string
		wantErr bool
	}{
		{"canonical", "0.0.1001@1714564800.000000042", "0.0.1001@1714564800.000000042", false},
		{"short nanos", "0.0.5@17.5", "0.0.5@17.000000005", false},
		{"whitespace stripped", "  0.0.1001 @ 1714564800.1\n", "0.0.1001@1714564800.000000001", false},
		{"empty", "", "", true},
		{"no at", "0.0.1001-1714564800.1", "", true},
		{"bad account", "0.1001@1714564800.1", "", true},
		{"no nanos", "0.0.1001@1714564800", "", true},
		{"trailing dot", "0.0.1001@1714564800.", "", true},
		{"negative seconds", "0.0.1001@-5.1", "", true},
		{"nanos too long", "0.0.1001@1.1234567890", "", true},
		{"letters", "0.0.abc@1.2", "", true},
		{"signed seconds and nanos", "0.0.1001@+1.+5", "", true},
		{"signed nanos", "0.0.1001@1.+5", "", true},
		{"signed account", "0.0.+1001@1.5", "", true},
		{"hex seconds", "0.0.1001@0x1.5", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTransactionID(tt.input)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, ErrMalformedTransactionID)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.String())
		})
	}
}

func TestTransactionIDRoundTrip(t *testing.T) {
	id := TransactionID{AccountID: "0.0.7", ValidStart: time.Unix(1714564800, 123).UTC()}

	parsed, err := ParseTransactionID(id.String())

	require.NoError(t, err)
	assert.Equal(t, id, parsed)
	assert.False(t, parsed.IsZero())
	assert.True(t, TransactionID{}.IsZero())
}

func TestParseHbar(t *testing.T) {
	tests := []struct {
		input   string
		want    int64
		wantErr bool
	}{
		{"5", 500_000_000, false},
		{"0.25", 25_000_000, false},
		{"0.00000001", 1, false},
		{"0", 0, false},
		{"0.000000001", 0, true},
		{"-1", 0, true},
		{"five", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseHbar(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
	assert.Equal(t, "5", FormatHbar(Hbar(5)))
	assert.Equal(t, "0.25", FormatHbar(25_000_000))
}
