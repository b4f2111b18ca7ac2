package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/perbu/policyrag/pkg/ingest"
	"github.com/perbu/policyrag/pkg/loader"
	"github.com/perbu/policyrag/pkg/policyrag"
)

var ingestOut string

var ingestCmd = &cobra.Command{
	Use:   "ingest [source]",
	Short: "Build the snapshot from a policy document",
	Long: `Parse a PDF or form-feed separated text document, split every page into
overlapping segments, embed them and publish the index and segment store to the
snapshot directory. An existing snapshot is replaced only when the whole run
succeeds.

Examples:
  policyrag ingest
  policyrag ingest docs/policy.pdf --out /var/lib/policyrag`,
	Args: cobra.MaximumNArgs(1),
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVar(&ingestOut, "out", "", "Snapshot directory (defaults to snapshot.dir from the config)")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	source := cfg.Source
	if len(args) == 1 {
		source = args[0]
	}
	out := cfg.Snapshot.Dir
	if ingestOut != "" {
		out = ingestOut
	}

	chunker, err := loader.NewChunker(cfg.Chunker.Size, cfg.Chunker.Stride)
	if err != nil {
		return err
	}
	emb, err := newEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("initializing embedder: %w", err)
	}

	p := &ingest.Pipeline{
		Parser:   loader.ParserFor(source, log.WithName("parser")),
		Chunker:  chunker,
		Embedder: emb,
		Log:      log.WithName("ingest"),
	}
	hdr, err := p.Run(cmd.Context(), source, out)
	if err != nil {
		if errors.Is(err, policyrag.ErrNoExtractableText) {
			log.Error(err, "nothing to index; is the PDF scanned without a text layer?", "source", source)
		}
		return err
	}

	if outputFormat == "json" {
		return printJSON(hdr)
	}
	fmt.Printf("✓ Indexed %d segments from %s (dim=%d, model=%s)\n", hdr.Count, source, hdr.Dimension, hdr.ModelInfo)
	fmt.Printf("✓ Snapshot %s saved to %s\n", hdr.SnapshotID, out)
	return nil
}
