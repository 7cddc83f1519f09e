package settlement

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/settlement-backend/internal/auth"
	"carbon-scribe/settlement-backend/pkg/ledger"
)

type api struct {
	*env
	router *gin.Engine
	issuer *auth.TokenIssuer
}

func newAPI(t *testing.T) *api {
	t.Helper()
	gin.SetMode(gin.TestMode)
	e := newEnv(t, envOptions{recordLag: ledger.DefaultRecordLag})
	issuer, err := auth.NewTokenIssuer("handler-secret", "", time.Hour)
	require.NoError(t, err)

	r := gin.New()
	NewHandler(e.svc, nil, nil).RegisterRoutes(r.Group("/api/v1"), issuer)
	return &api{env: e, router: r, issuer: issuer}
}

func (a *api) do(t *testing.T, method, path string, as ledger.AccountID, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, "/api/v1"+path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if as != "" {
		token, _, err := a.issuer.Issue(as)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	a.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out), w.Body.String())
	return out
}

func TestHandler_RequiresToken(t *testing.T) {
	a := newAPI(t)
	w := a.do(t, http.MethodGet, "/projects/mine", "", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestHandler_SettlementFlow(t *testing.T) {
	a := newAPI(t)

	for _, acct := range []ledger.AccountID{a.proposer, a.buyer} {
		w := a.do(t, http.MethodPost, "/tokens/associate", acct, nil)
		require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	}

	w := a.do(t, http.MethodPost, "/projects", a.proposer, gin.H{"metadata_reference": "ipfs://QmProject", "fee": "1"})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	submitted := decode(t, w)
	assert.Equal(t, float64(1), submitted["project_id"])
	txID := submitted["transaction_id"].(string)

	w = a.do(t, http.MethodPost, "/projects/review", a.buyer, gin.H{"transaction_id": txID, "approve": true})
	require.Equal(t, http.StatusForbidden, w.Code)
	body := decode(t, w)
	assert.Equal(t, "caller is not the verifier", body["reason"])
	assert.Equal(t, string(PhaseSubmission), body["phase"])

	w = a.do(t, http.MethodPost, "/projects/review", a.verifier, gin.H{"transaction_id": txID, "approve": true})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, float64(1), decode(t, w)["serial_number"])

	w = a.do(t, http.MethodGet, "/projects/1", a.buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "approved", decode(t, w)["status"])

	w = a.do(t, http.MethodPost, "/listings", a.proposer, gin.H{"serial_number": 1, "price": "5", "deposit": true})
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())

	w = a.do(t, http.MethodPost, "/listings/1/buy", a.buyer, gin.H{"payment": "4"})
	require.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "payment does not match price", decode(t, w)["reason"])

	w = a.do(t, http.MethodPost, "/listings/1/buy", a.buyer, gin.H{"payment": "5"})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	w = a.do(t, http.MethodPost, "/listings/1/claim", a.proposer, nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Equal(t, "5", decode(t, w)["amount"])

	w = a.do(t, http.MethodPost, "/listings/1/claim", a.proposer, nil)
	require.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, "proceeds already claimed", decode(t, w)["reason"])

	w = a.do(t, http.MethodGet, "/credits/mine", a.buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["credits"], 1)

	w = a.do(t, http.MethodGet, "/credits/1", a.proposer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	credit := decode(t, w)
	assert.Equal(t, a.buyer.String(), credit["owner"])
	assert.Equal(t, float64(1), credit["project_id"])
	assert.Equal(t, "transferred", credit["status"])

	w = a.do(t, http.MethodGet, "/listings?active=false", a.buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Len(t, decode(t, w)["listings"], 1)

	w = a.do(t, http.MethodGet, "/listings/export?format=csv&scope=mine", a.proposer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv", w.Header().Get("Content-Type"))
	assert.Contains(t, w.Header().Get("Content-Disposition"), ".csv")
	lines := strings.Split(strings.TrimSpace(w.Body.String()), "\n")
	assert.Len(t, lines, 2)

	w = a.do(t, http.MethodGet, "/transactions/"+txID+"/record", a.buyer, nil)
	require.Equal(t, http.StatusOK, w.Code)
	record := decode(t, w)
	assert.Equal(t, "SUCCESS", record["status"])
	assert.Equal(t, txID, record["transaction_id"])
}

func TestHandler_BadRequests(t *testing.T) {
	a := newAPI(t)

	tests := []struct {
		name   string
		method string
		path   string
		body   interface{}
		want   int
	}{
		{"sub-tinybar fee", http.MethodPost, "/projects", gin.H{"metadata_reference": "x", "fee": "0.000000001"}, http.StatusBadRequest},
		{"missing fee", http.MethodPost, "/projects", gin.H{"metadata_reference": "x"}, http.StatusBadRequest},
		{"review without decision", http.MethodPost, "/projects/review", gin.H{"project_id": 1}, http.StatusBadRequest},
		{"bad project id", http.MethodGet, "/projects/abc", nil, http.StatusBadRequest},
		{"unknown project", http.MethodGet, "/projects/7", nil, http.StatusNotFound},
		{"bad serial", http.MethodPost, "/listings/0/claim", nil, http.StatusBadRequest},
		{"bad credit serial", http.MethodGet, "/credits/abc", nil, http.StatusBadRequest},
		{"unknown credit", http.MethodGet, "/credits/42", nil, http.StatusNotFound},
		{"unknown listing", http.MethodPost, "/listings/9/buy", gin.H{"payment": "1"}, http.StatusNotFound},
		{"malformed record id", http.MethodGet, "/transactions/nope/record", nil, http.StatusBadRequest},
		{"bad export format", http.MethodGet, "/listings/export?format=docx", nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := a.do(t, tt.method, tt.path, a.proposer, tt.body)
			assert.Equal(t, tt.want, w.Code, w.Body.String())
			assert.Contains(t, decode(t, w), "error")
		})
	}
}

func TestHandler_UnconfirmedRecord(t *testing.T) {
	a := newAPI(t)

	w := a.do(t, http.MethodGet, "/transactions/0.0.1003@1700000000.000000001/record", a.proposer, nil)
	require.Equal(t, http.StatusGatewayTimeout, w.Code)
	body := decode(t, w)
	assert.Equal(t, float64(7), body["attempts"])
	assert.Equal(t, "0.0.1003@1700000000.000000001", body["transaction_id"])
}
