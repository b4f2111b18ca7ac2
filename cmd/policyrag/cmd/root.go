package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-logr/logr"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/perbu/policyrag/pkg/config"
	"github.com/perbu/policyrag/pkg/logging"
)

var (
	// cfgPath is the YAML config file
	cfgPath string
	// logLevel is one of debug, info, warn, error
	logLevel string
	// outputFormat is text or json
	outputFormat string

	cfg *config.Config
	log logr.Logger
)

var rootCmd = &cobra.Command{
	Use:   "policyrag",
	Short: "Grounded question answering over an insurance policy document",
	Long: `policyrag indexes a policy document and answers questions about it,
citing the pages each answer is grounded in.

Examples:
  # Build the snapshot from the configured source document
  policyrag ingest

  # Build it from a specific file
  policyrag ingest docs/nfip-dwelling-form.pdf

  # Ask a question
  policyrag ask "Is damage to a basement covered?"

  # Show only the retrieved evidence
  policyrag ask --retrieve-only "What is the maximum payout?"

  # Serve the HTTP API
  policyrag serve`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Load .env file if it exists (for API keys)
		_ = godotenv.Load()

		var err error
		log, err = logging.New(logLevel)
		if err != nil {
			return err
		}
		cfg, err = config.Load(cfgPath)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		switch outputFormat {
		case "text", "json":
		default:
			return fmt.Errorf("unknown output format %q", outputFormat)
		}
		return nil
	},
}

// Execute runs the root command. SIGINT and SIGTERM cancel the command's
// context.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", config.DefaultPath, "Path to YAML config file (defaults apply if it does not exist)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVarP(&outputFormat, "output", "o", "text", "Output format: text, json")
}
