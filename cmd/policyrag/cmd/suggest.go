package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perbu/policyrag/pkg/answer"
)

var suggestCmd = &cobra.Command{
	Use:   "suggest",
	Short: "Suggest questions for the configured case record",
	Long: `Ask the suggestion model for up to four questions an agent handling the
configured case might ask. The default questions are printed when suggestions
are disabled or the service fails.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		qs := answer.Suggestions(cmd.Context(), newSuggester(cfg), cfg.Case, log.WithName("suggestions"))
		if outputFormat == "json" {
			return printJSON(qs)
		}
		fmt.Printf("Claim Type: %s\nState: %s\nPolicy: %s\n\n", cfg.Case.ClaimType, cfg.Case.State, cfg.Case.Policy)
		for _, q := range qs {
			fmt.Printf("- %s\n", q)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(suggestCmd)
}
