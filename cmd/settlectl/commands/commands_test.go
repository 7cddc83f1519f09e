package commands

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fatih/color"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"carbon-scribe/settlement-backend/internal/printer"
)

func run(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	prev := color.NoColor
	color.NoColor = true
	var stdout, stderr bytes.Buffer
	restore := printer.SetOutput(&stdout, &stderr)
	t.Cleanup(func() {
		restore()
		color.NoColor = prev
	})

	absent := filepath.Join(t.TempDir(), "absent.json")
	rootCmd.SetArgs(append(args, "--config", absent))
	err := Execute()
	return stdout.String(), stderr.String(), err
}

func TestDeploy_YAML(t *testing.T) {
	out := filepath.Join(t.TempDir(), "deployment.yaml")
	stdout, _, err := run(t, "deploy", "--format", "yaml", "--output", out)
	require.NoError(t, err)

	assert.Contains(t, stdout, "Contracts deployed")
	body := stdout[strings.Index(stdout, "network:"):strings.Index(stdout, "✓ Deployment written")]
	var doc deploymentDoc
	require.NoError(t, yaml.Unmarshal([]byte(body), &doc))
	assert.Equal(t, "0.0.1001", doc.Operator)
	assert.Equal(t, doc.Accounts["verifier"], doc.Verifier)
	assert.NotEmpty(t, doc.Token)
}

func TestEncodeDeployment_UnknownFormat(t *testing.T) {
	_, err := encodeDeployment(deploymentDoc{}, "toml")
	assert.Error(t, err)
}

func TestFlow_Approve(t *testing.T) {
	stdout, stderr, err := run(t, "flow", "--fast", "--price", "5", "--events", "--reject=false")
	require.NoError(t, err, stderr)

	assert.Contains(t, stdout, "Credit 0.0.")
	assert.Contains(t, stdout, "#1 minted to")
	assert.Contains(t, stdout, "amount: 5 HBAR")
	assert.Contains(t, stdout, "event credit.sold")
	assert.Contains(t, stdout, "settled")
}

func TestFlow_PaymentMismatch(t *testing.T) {
	_, stderr, err := run(t, "flow", "--fast", "--price", "5", "--payment", "4", "--events=false")
	require.Error(t, err)

	assert.Equal(t, "Purchase failed", err.Error())
	assert.Contains(t, stderr, "reason: payment does not match price")
	assert.Contains(t, stderr, "phase: submission")
	require.NoError(t, flowCmd.Flags().Set("payment", ""))
}

func TestFlow_Reject(t *testing.T) {
	stdout, _, err := run(t, "flow", "--fast", "--reject", "--price", "10")
	require.NoError(t, err)
	assert.Contains(t, stdout, "Project 1 rejected")
	assert.NotContains(t, stdout, "minted")
	require.NoError(t, flowCmd.Flags().Set("reject", "false"))
}

func TestResolve_Malformed(t *testing.T) {
	_, stderr, err := run(t, "resolve", "not-a-transaction")
	require.Error(t, err)
	assert.Equal(t, "Malformed transaction id", err.Error())
	assert.Contains(t, stderr, "expected <accountId>@<seconds>.<nanos>")
}

func TestResolve_AgainstAPI(t *testing.T) {
	var authHeader string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/v1/auth/token":
			var body map[string]string
			_ = json.NewDecoder(r.Body).Decode(&body)
			assert.Equal(t, "0.0.1003", body["account_id"])
			_ = json.NewEncoder(w).Encode(map[string]string{"access_token": "tok"})
		case "/api/v1/transactions/0.0.1003@1767225600.000000001/record":
			authHeader = r.Header.Get("Authorization")
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"status": "SUCCESS", "transaction_id": "0.0.1003@1767225600.000000001"})
		case "/api/v1/transactions/0.0.1003@1767225600.000000002/record":
			w.WriteHeader(http.StatusGatewayTimeout)
			_ = json.NewEncoder(w).Encode(map[string]interface{}{"error": "record unavailable", "attempts": 7})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	stdout, _, err := run(t, "resolve", " 0.0.1003 @ 1767225600.000000001", "--api", srv.URL, "--account", "0.0.1003")
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", authHeader)
	assert.Contains(t, stdout, "succeeded")

	_, stderr, err := run(t, "resolve", "0.0.1003@1767225600.000000002", "--api", srv.URL, "--token", "tok")
	require.Error(t, err)
	assert.Equal(t, "Record unavailable", err.Error())
	assert.Contains(t, stderr, "attempts: 7")
}
