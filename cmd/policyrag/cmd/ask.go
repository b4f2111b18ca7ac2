package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/perbu/policyrag/pkg/answer"
	"github.com/perbu/policyrag/pkg/policyrag"
	"github.com/perbu/policyrag/pkg/retriever"
)

var (
	askRetrieveOnly bool
	askShowEvidence bool
)

var askCmd = &cobra.Command{
	Use:   "ask <question...>",
	Short: "Answer a question from the policy",
	Long: `Retrieve the policy segments closest to the question, ask the completion
model for a Decision and Explanation grounded in them, and print the answer with
the pages it cites.

Examples:
  policyrag ask "Is damage to a basement covered?"
  policyrag ask --retrieve-only "What is the maximum payout?"
  policyrag ask -o json "Does Coverage D apply to this claim?"`,
	Args: cobra.MinimumNArgs(1),
	RunE: runAsk,
}

func init() {
	askCmd.Flags().BoolVar(&askRetrieveOnly, "retrieve-only", false, "Print the retrieved evidence without calling the completion model")
	askCmd.Flags().BoolVar(&askShowEvidence, "evidence", false, "Also print the retrieved segments")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	question := strings.Join(args, " ")

	emb, err := newEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("initializing embedder: %w", err)
	}
	snap, err := loadSnapshot(emb)
	if err != nil {
		return err
	}
	r := newRetriever(emb, retriever.Fixed(snap))

	if askRetrieveOnly {
		ev, err := r.Retrieve(cmd.Context(), question)
		if err != nil {
			return err
		}
		if outputFormat == "json" {
			return printJSON(ev)
		}
		printEvidence(ev.Hits)
		fmt.Printf("Cited Pages: %s\n", answer.CitedPages(ev.Citations))
		return nil
	}

	comp, err := newCompleter(cfg.Completion, "completion")
	if err != nil {
		return fmt.Errorf("initializing completion client: %w", err)
	}
	ans, err := answer.NewAnswerer(r, comp, log.WithName("answer")).Ask(cmd.Context(), question)
	if err != nil {
		return err
	}
	if outputFormat == "json" {
		return printJSON(ans)
	}

	fmt.Printf("Decision\n%s\n\n", ans.Answer.Decision)
	fmt.Printf("Explanation\n%s\n\n", ans.Answer.Explanation)
	fmt.Printf("Evidence and Provenance\nCited Pages: %s\n\n", answer.CitedPages(ans.Citations))
	fmt.Println("Source Verification (Audit Trail)")
	for _, line := range answer.AuditTrail(ans.Citations) {
		fmt.Printf("  %s\n", line)
	}
	if askShowEvidence {
		fmt.Println()
		printEvidence(ans.Evidence)
	}
	return nil
}

func printEvidence(hits []policyrag.Hit) {
	if len(hits) == 0 {
		fmt.Println("No results found")
		return
	}
	fmt.Printf("Found %d results:\n\n", len(hits))
	for i, h := range hits {
		fmt.Printf("Distance: %.4f | Page %d | Segment %d\n\n%s\n", h.Distance, h.Segment.Page, h.Segment.ID, h.Segment.Text)
		if i < len(hits)-1 {
			fmt.Println("\n" + strings.Repeat("-", 80) + "\n")
		}
	}
	fmt.Println()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
