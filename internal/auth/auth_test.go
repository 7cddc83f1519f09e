package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/settlement-backend/pkg/ledger"
)

type stubAccounts map[ledger.AccountID]int64

func (s stubAccounts) Balance(a ledger.AccountID) (int64, error) {
	b, ok := s[a]
	if !ok {
		return 0, fmt.Errorf("unknown account %s", a)
	}
	return b, nil
}

func newIssuer(t *testing.T) *TokenIssuer {
	t.Helper()
	issuer, err := NewTokenIssuer("test-secret", "settlement-api", time.Hour)
	require.NoError(t, err)
	return issuer
}

func TestNewTokenIssuer_RequiresSecret(t *testing.T) {
	_, err := NewTokenIssuer("", "x", time.Hour)
	assert.Error(t, err)
}

func TestTokenIssuer_RoundTrip(t *testing.T) {
	issuer := newIssuer(t)

	token, expires, err := issuer.Issue("0.0.1001")
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(time.Hour), expires, time.Minute)

	account, err := issuer.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, ledger.AccountID("0.0.1001"), account)
}

func TestTokenIssuer_Rejects(t *testing.T) {
	issuer := newIssuer(t)
	token, _, err := issuer.Issue("0.0.1001")
	require.NoError(t, err)

	other, err := NewTokenIssuer("other-secret", "settlement-api", time.Hour)
	require.NoError(t, err)

	expired := newIssuer(t)
	expired.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	old, _, err := expired.Issue("0.0.1001")
	require.NoError(t, err)

	badSubject := newIssuer(t)
	weird, _, err := badSubject.Issue("alice")
	require.NoError(t, err)

	tests := []struct {
		name  string
		token string
	}{
		{"wrong secret", func() string { s, _, _ := other.Issue("0.0.1001"); return s }()},
		{"expired", old},
		{"garbage", "not-a-token"},
		{"tampered", token + "x"},
		{"non account subject", weird},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := issuer.Verify(tt.token)
			assert.ErrorIs(t, err, ErrInvalidToken)
		})
	}
}

func newRouter(issuer *TokenIssuer, devTokens bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewHandler(issuer, stubAccounts{"0.0.1001": ledger.Hbar(3)}, devTokens, nil)
	RegisterRoutes(r.Group("/api/v1"), h)
	return r
}

func TestMiddleware(t *testing.T) {
	issuer := newIssuer(t)
	r := newRouter(issuer, false)
	token, _, err := issuer.Issue("0.0.1001")
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		query  string
		want   int
	}{
		{"no token", "", "", http.StatusUnauthorized},
		{"basic scheme", "Basic abc", "", http.StatusUnauthorized},
		{"bad token", "Bearer nope", "", http.StatusUnauthorized},
		{"header", "Bearer " + token, "", http.StatusOK},
		{"query", "", "?access_token=" + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me"+tt.query, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			r.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
}

func TestMe(t *testing.T) {
	issuer := newIssuer(t)
	r := newRouter(issuer, false)
	token, _, _ := issuer.Issue("0.0.1001")

	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "0.0.1001", body["account_id"])
	assert.Equal(t, "3", body["balance_hbar"])
}

func TestToken(t *testing.T) {
	issuer := newIssuer(t)

	post := func(r *gin.Engine, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/auth/token", bytes.NewBufferString(body))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		return w
	}

	t.Run("disabled", func(t *testing.T) {
		w := post(newRouter(issuer, false), `{"account_id":"0.0.1001"}`)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	r := newRouter(issuer, true)
	t.Run("issues for known account", func(t *testing.T) {
		w := post(r, `{"account_id":"0.0.1001"}`)
		require.Equal(t, http.StatusOK, w.Code)
		var body map[string]interface{}
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
		account, err := issuer.Verify(body["access_token"].(string))
		require.NoError(t, err)
		assert.Equal(t, ledger.AccountID("0.0.1001"), account)
	})
	t.Run("unknown account", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, post(r, `{"account_id":"0.0.9999"}`).Code)
	})
	t.Run("malformed account", func(t *testing.T) {
		assert.Equal(t, http.StatusBadRequest, post(r, `{"account_id":"alice"}`).Code)
	})
}
