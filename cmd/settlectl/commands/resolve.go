package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"carbon-scribe/settlement-backend/internal/printer"
	"carbon-scribe/settlement-backend/pkg/ledger"
)

var (
	resolveAPI     string
	resolveToken   string
	resolveAccount string
	resolveTimeout time.Duration
)

var resolveCmd = &cobra.Command{
	Use:   "resolve TRANSACTION_ID",
	Short: "Resolve a transaction record through the settlement API",
	Long: `Resolves the durable record of a transaction through a running settlement
API. The API polls the ledger within its configured attempt budget, so an
accepted transaction whose record is not yet available reports the attempts
made instead of a result.

The id has the form <accountId>@<seconds>.<nanos>. Whitespace is ignored and
malformed ids fail immediately without contacting the API.

Authentication uses --token, or --account when the API has development
tokens enabled.

Examples:
  settlectl resolve 0.0.1003@1767225600.000000001 --account 0.0.1003
  settlectl resolve "0.0.1003 @ 1767225600.000000001" --token $TOKEN`,
	Args: cobra.ExactArgs(1),
	RunE: runResolve,
}

func init() {
	resolveCmd.Flags().StringVar(&resolveAPI, "api", "http://localhost:8080", "settlement API base URL")
	resolveCmd.Flags().StringVar(&resolveToken, "token", "", "bearer token")
	resolveCmd.Flags().StringVar(&resolveAccount, "account", "", "request a development token for this account")
	resolveCmd.Flags().DurationVar(&resolveTimeout, "timeout", 2*time.Minute, "overall request timeout")
	rootCmd.AddCommand(resolveCmd)
}

// apiClient talks to the settlement API
type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// apiError is a non-2xx API response
type apiError struct {
	StatusCode int
	Body       map[string]interface{}
}

func (e *apiError) Error() string {
	if msg, ok := e.Body["error"].(string); ok {
		return fmt.Sprintf("status %d: %s", e.StatusCode, msg)
	}
	return fmt.Sprintf("status %d", e.StatusCode)
}

func newAPIClient(baseURL string, timeout time.Duration) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *apiClient) do(ctx context.Context, method, path string, in, out interface{}) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+"/api/v1"+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &apiError{StatusCode: resp.StatusCode, Body: map[string]interface{}{}}
		_ = json.Unmarshal(raw, &apiErr.Body)
		return apiErr
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(raw, out)
}

// login exchanges an account id for a development token
func (c *apiClient) login(ctx context.Context, account ledger.AccountID) error {
	var resp struct {
		AccessToken string `json:"access_token"`
	}
	if err := c.do(ctx, http.MethodPost, "/auth/token", map[string]string{"account_id": account.String()}, &resp); err != nil {
		return err
	}
	c.token = resp.AccessToken
	return nil
}

func (c *apiClient) record(ctx context.Context, txID ledger.TransactionID) (map[string]interface{}, error) {
	var rec map[string]interface{}
	err := c.do(ctx, http.MethodGet, "/transactions/"+url.PathEscape(txID.String())+"/record", nil, &rec)
	return rec, err
}

func runResolve(cmd *cobra.Command, args []string) error {
	txID, err := ledger.ParseTransactionID(args[0])
	if err != nil {
		return printer.Error("Malformed transaction id", err.Error(), nil,
			"expected <accountId>@<seconds>.<nanos>, for example 0.0.1003@1767225600.000000001")
	}

	client := newAPIClient(resolveAPI, resolveTimeout)
	client.token = resolveToken
	ctx := cmd.Context()

	if client.token == "" {
		if resolveAccount == "" {
			return printer.Error("No credentials", "resolving a record requires a bearer token", nil,
				"pass --token", "pass --account when the API has dev_tokens enabled")
		}
		account, err := ledger.ParseAccountID(resolveAccount)
		if err != nil {
			return printer.Error("Invalid account", err.Error(), nil)
		}
		if err := client.login(ctx, account); err != nil {
			return printer.Error("Login failed", err.Error(), map[string]string{"api": resolveAPI})
		}
	}

	printer.Step("Resolving %s", txID)
	rec, err := client.record(ctx, txID)
	if err != nil {
		context := map[string]string{"transaction_id": txID.String()}
		var apiErr *apiError
		if errors.As(err, &apiErr) {
			for _, key := range []string{"attempts", "reason", "phase"} {
				if v, ok := apiErr.Body[key]; ok {
					context[key] = fmt.Sprint(v)
				}
			}
			if apiErr.StatusCode == http.StatusGatewayTimeout {
				return printer.Error("Record unavailable", err.Error(), context,
					"the transaction may still be in flight; try again later")
			}
		}
		return printer.Error("Resolution failed", err.Error(), context)
	}

	status := fmt.Sprint(rec["status"])
	if status != string(ledger.StatusSuccess) {
		printer.Warning("Transaction %s finished with %s", txID, status)
	} else {
		printer.Success("Transaction %s succeeded", txID)
	}
	pretty, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	printer.Info("%s", pretty)
	return nil
}
