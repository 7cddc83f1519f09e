package commands

import (
	"fmt"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"carbon-scribe/settlement-backend/internal/config"
	"carbon-scribe/settlement-backend/internal/printer"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "settlectl",
	Short: "Operate the carbon credit settlement contracts",
	Long: `settlectl deploys the registry, escrow and marketplace contracts on a local
ledger, runs the full proposer, verifier and buyer scenario against them, and
resolves transaction records through a running settlement API.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute runs the root command
func Execute() error {
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
	return rootCmd.Execute()
}

// SetVersionInfo sets the version shown by --version
func SetVersionInfo(v, c string) {
	rootCmd.Version = fmt.Sprintf("%s (commit: %s)", v, c)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "config.json", "path to the JSON config file")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "log ledger and contract activity")
}

func loadConfig() (*config.Config, error) {
	_ = godotenv.Load()
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, printer.Error("Invalid configuration", err.Error(), map[string]string{"config": configPath})
	}
	return cfg, nil
}

func newLogger() *zap.Logger {
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}
