package cmd

import (
	"errors"
	"fmt"
	"io/fs"

	"github.com/spf13/cobra"

	"github.com/perbu/policyrag/pkg/answer"
	"github.com/perbu/policyrag/pkg/config"
	"github.com/perbu/policyrag/pkg/server"
)

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the question answering HTTP API",
	Long: `Load the snapshot and serve the API below. Without a snapshot the server
starts anyway and answers 503 until one is ingested and reloaded.

  POST /v1/ask          {"question": "..."} → decision, explanation, citations
  POST /v1/retrieve     {"question": "..."} → retrieved evidence only
  GET  /v1/suggestions  suggested questions for the configured case
  POST /v1/reload       load a freshly ingested snapshot without restarting
  GET  /healthz
  GET  /metrics         Prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "Listen address (defaults to server.addr from the config)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	addr := cfg.Server.Addr
	if serveAddr != "" {
		addr = serveAddr
	}

	emb, err := newEmbedder(cfg)
	if err != nil {
		return fmt.Errorf("initializing embedder: %w", err)
	}
	snap, err := loadSnapshot(emb)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		log.Info("no snapshot yet; serving 503 until 'policyrag ingest' and POST /v1/reload", "dir", cfg.Snapshot.Dir)
	case err != nil:
		return err
	}
	comp, err := newCompleter(cfg.Completion, "completion")
	if err != nil {
		return fmt.Errorf("initializing completion client: %w", err)
	}

	holder := server.NewHolder(snap, log.WithName("snapshot"))
	r := newRetriever(emb, holder)
	h := &server.Handler{
		Holder:      holder,
		Asker:       answer.NewAnswerer(r, comp, log.WithName("answer")),
		Retriever:   r,
		Suggester:   newSuggester(cfg),
		Case:        cfg.Case,
		SnapshotDir: cfg.Snapshot.Dir,
		Log:         log.WithName("server"),
	}
	return server.Run(cmd.Context(), addr, h.Routes(), config.Timeout(cfg.Server.ShutdownTimeoutSecs), log.WithName("server"))
}
