package ledger

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// AccountID identifies an account or contract as shard.realm.num
type AccountID string

// ParseAccountID validates the shard.realm.num form
func ParseAccountID(s string) (AccountID, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 3 {
		return "", fmt.Errorf("invalid account id %q: expected shard.realm.num", s)
	}
	for _, p := range parts {
		if p == "" {
			return "", fmt.Errorf("invalid account id %q: empty component", s)
		}
		if _, err := strconv.ParseUint(p, 10, 64); err != nil {
			return "", fmt.Errorf("invalid account id %q: %w", s, err)
		}
	}
	return AccountID(s), nil
}

func (a AccountID) String() string {
	return string(a)
}

// TransactionID is the payer account plus the transaction valid-start time,
// rendered as <accountId>@<seconds>.<nanos>
type TransactionID struct {
	AccountID  AccountID
	ValidStart time.Time
}

// ParseTransactionID parses <accountId>@<seconds>.<nanos>. Whitespace is
// stripped before parsing, matching wallet copy/paste behavior.
func ParseTransactionID(s string) (TransactionID, error) {
	cleaned := strings.Join(strings.Fields(s), "")

	at := strings.Index(cleaned, "@")
	if at <= 0 || at == len(cleaned)-1 {
		return TransactionID{}, fmt.Errorf("%w: %q, expected 'account_id@seconds.nanos'", ErrMalformedTransactionID, s)
	}

	account, err := ParseAccountID(cleaned[:at])
	if err != nil {
		return TransactionID{}, fmt.Errorf("%w: %q: %v", ErrMalformedTransactionID, s, err)
	}

	ts := cleaned[at+1:]
	dot := strings.Index(ts, ".")
	if dot <= 0 || dot == len(ts)-1 {
		return TransactionID{}, fmt.Errorf("%w: %q, expected 'account_id@seconds.nanos'", ErrMalformedTransactionID, s)
	}

	secsPart, nanosPart := ts[:dot], ts[dot+1:]
	if !digits(secsPart) || !digits(nanosPart) {
		return TransactionID{}, fmt.Errorf("%w: %q: seconds and nanos must be decimal digits", ErrMalformedTransactionID, s)
	}

	secs, err := strconv.ParseInt(secsPart, 10, 64)
	if err != nil {
		return TransactionID{}, fmt.Errorf("%w: %q: bad seconds", ErrMalformedTransactionID, s)
	}
	if len(nanosPart) > 9 {
		return TransactionID{}, fmt.Errorf("%w: %q: nanos out of range", ErrMalformedTransactionID, s)
	}
	nanos, err := strconv.ParseInt(nanosPart, 10, 64)
	if err != nil {
		return TransactionID{}, fmt.Errorf("%w: %q: bad nanos", ErrMalformedTransactionID, s)
	}

	return TransactionID{
		AccountID:  account,
		ValidStart: time.Unix(secs, nanos).UTC(),
	}, nil
}

func digits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}

func (t TransactionID) String() string {
	return fmt.Sprintf("%s@%d.%09d", t.AccountID, t.ValidStart.Unix(), t.ValidStart.Nanosecond())
}

// IsZero reports whether the id was never assigned
func (t TransactionID) IsZero() bool {
	return t.AccountID == "" && t.ValidStart.IsZero()
}

// MarshalText renders the id in its string form so records encode cleanly
func (t TransactionID) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

func (t *TransactionID) UnmarshalText(b []byte) error {
	parsed, err := ParseTransactionID(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}
