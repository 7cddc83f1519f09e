package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"carbon-scribe/settlement-backend/internal/deploy"
	"carbon-scribe/settlement-backend/internal/printer"
)

var (
	deployOutput string
	deployFormat string
)

var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "Deploy the contracts and print their addresses",
	Long: `Starts a ledger from the configuration, funds the configured accounts and
deploys the registry, escrow and marketplace contracts in order:

  1. link the marketplace to the escrow
  2. transfer minting rights to the escrow
  3. create the credit collection
  4. associate the marketplace with the collection token
  5. bind the marketplace to the token

Examples:
  settlectl deploy
  settlectl deploy --output deployment.json
  settlectl deploy --format yaml`,
	Args: cobra.NoArgs,
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().StringVarP(&deployOutput, "output", "o", "", "also write the deployment to this file")
	deployCmd.Flags().StringVar(&deployFormat, "format", "json", "output format: json or yaml")
	rootCmd.AddCommand(deployCmd)
}

// deploymentDoc is the serialisable part of a deployment
type deploymentDoc struct {
	Network     string            `json:"network" yaml:"network"`
	Operator    string            `json:"operator" yaml:"operator"`
	Registry    string            `json:"registry_id" yaml:"registry_id"`
	Escrow      string            `json:"escrow_id" yaml:"escrow_id"`
	Marketplace string            `json:"marketplace_id" yaml:"marketplace_id"`
	Token       string            `json:"token_id" yaml:"token_id"`
	Verifier    string            `json:"verifier" yaml:"verifier"`
	Accounts    map[string]string `json:"accounts" yaml:"accounts"`
	DeployedAt  string            `json:"deployed_at" yaml:"deployed_at"`
}

func newDeploymentDoc(n *deploy.Network) deploymentDoc {
	d := n.Deployment
	accounts := make(map[string]string, len(n.Accounts))
	for name, id := range n.Accounts {
		accounts[name] = id.String()
	}
	return deploymentDoc{
		Network:     d.Network,
		Operator:    d.Operator.String(),
		Registry:    d.RegistryID.String(),
		Escrow:      d.EscrowID.String(),
		Marketplace: d.MarketplaceID.String(),
		Token:       d.TokenID.String(),
		Verifier:    d.Verifier.String(),
		Accounts:    accounts,
		DeployedAt:  d.DeployedAt.Format(time.RFC3339),
	}
}

func encodeDeployment(doc deploymentDoc, format string) ([]byte, error) {
	switch format {
	case "json":
		b, err := json.MarshalIndent(doc, "", "  ")
		if err != nil {
			return nil, err
		}
		return append(b, '\n'), nil
	case "yaml":
		return yaml.Marshal(doc)
	default:
		return nil, fmt.Errorf("unknown format %q, expected json or yaml", format)
	}
}

func runDeploy(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	printer.Step("Deploying contracts on %s", cfg.Ledger.Network)
	n, err := deploy.StartNetwork(cmd.Context(), cfg, newLogger())
	if err != nil {
		return printer.Error("Deployment failed", err.Error(), nil,
			"check the escrow verifier and account balances in the config")
	}

	body, err := encodeDeployment(newDeploymentDoc(n), deployFormat)
	if err != nil {
		return printer.Error("Cannot encode deployment", err.Error(), nil)
	}
	printer.Success("Contracts deployed")
	printer.Info("%s", body)

	if deployOutput != "" {
		if err := os.WriteFile(deployOutput, body, 0o644); err != nil {
			return printer.Error("Cannot write deployment file", err.Error(), map[string]string{"path": deployOutput})
		}
		printer.Success("Deployment written to %s", deployOutput)
	}
	return nil
}
