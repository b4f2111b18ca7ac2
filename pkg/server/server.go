// Package server exposes question answering over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/go-logr/logr"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/perbu/policyrag/pkg/answer"
	"github.com/perbu/policyrag/pkg/policyrag"
	"github.com/perbu/policyrag/pkg/retriever"
	"github.com/perbu/policyrag/pkg/snapshot"
)

const maxBodyBytes = 1 << 20

// Asker answers a question end to end.
type Asker interface {
	Ask(ctx context.Context, question string) (policyrag.Answer, error)
}

// Handler serves the policyrag API.
type Handler struct {
	Holder      *Holder
	Asker       Asker
	Retriever   answer.Retriever
	Suggester   answer.Suggester // nil always serves the default suggestions
	Case        answer.CaseContext
	SnapshotDir string
	Log         logr.Logger
}

// QuestionRequest is the body of /v1/ask and /v1/retrieve.
type QuestionRequest struct {
	Question string `json:"question"`
}

// AskResponse is an answer plus its provenance lines.
type AskResponse struct {
	policyrag.Answer
	AuditTrail []string `json:"audit_trail"`
}

// ReloadResponse describes the snapshot now being served.
type ReloadResponse struct {
	snapshot.Header
	Pages []int `json:"pages"`
}

// SuggestionsResponse lists suggested questions for the configured case.
type SuggestionsResponse struct {
	Case        answer.CaseContext `json:"case"`
	Suggestions []string           `json:"suggestions"`
}

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

// ErrorDetail carries a message and a stable machine-readable code.
type ErrorDetail struct {
	Message string `json:"message"`
	Code    string `json:"code"`
}

// Routes returns the API mux.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("POST /v1/ask", instrument("ask", h.ask))
	mux.Handle("POST /v1/retrieve", instrument("retrieve", h.retrieve))
	mux.Handle("GET /v1/suggestions", instrument("suggestions", h.suggestions))
	mux.Handle("POST /v1/reload", instrument("reload", h.reloadSnapshot))
	mux.HandleFunc("GET /healthz", h.healthz)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (h *Handler) ask(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuestion(w, r)
	if !ok {
		return
	}
	ans, err := h.Asker.Ask(r.Context(), req.Question)
	if err != nil {
		h.fail(w, "ask", err)
		return
	}
	writeJSON(w, http.StatusOK, AskResponse{Answer: ans, AuditTrail: answer.AuditTrail(ans.Citations)})
}

func (h *Handler) retrieve(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeQuestion(w, r)
	if !ok {
		return
	}
	ev, err := h.Retriever.Retrieve(r.Context(), req.Question)
	if err != nil {
		h.fail(w, "retrieve", err)
		return
	}
	writeJSON(w, http.StatusOK, ev)
}

func (h *Handler) suggestions(w http.ResponseWriter, r *http.Request) {
	qs := answer.Suggestions(r.Context(), h.Suggester, h.Case, h.Log.WithName("suggestions"))
	writeJSON(w, http.StatusOK, SuggestionsResponse{Case: h.Case, Suggestions: qs})
}

func (h *Handler) reloadSnapshot(w http.ResponseWriter, r *http.Request) {
	snap, err := h.Holder.Reload(h.SnapshotDir)
	if err != nil {
		h.fail(w, "reload", err)
		return
	}
	writeJSON(w, http.StatusOK, ReloadResponse{Header: snap.Header, Pages: snap.Store.Pages()})
}

func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	if h.Holder.Current() == nil {
		writeError(w, http.StatusServiceUnavailable, "no snapshot loaded", "no_snapshot")
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprint(w, "ok")
}

func decodeQuestion(w http.ResponseWriter, r *http.Request) (QuestionRequest, bool) {
	var req QuestionRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error(), "invalid_request")
		return req, false
	}
	return req, true
}

// fail maps a query error to a status. The loaded snapshot is never touched.
func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	status, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.Log.Error(err, "request failed", "op", op, "status", status)
	} else {
		h.Log.V(1).Info("request rejected", "op", op, "error", err.Error())
	}
	writeError(w, status, err.Error(), code)
}

func classify(err error) (int, string) {
	switch {
	case errors.Is(err, policyrag.ErrEmptyQuery):
		return http.StatusBadRequest, "empty_query"
	case errors.Is(err, policyrag.ErrEmbedding):
		return http.StatusBadGateway, "embedding_failed"
	case errors.Is(err, policyrag.ErrCompletion):
		return http.StatusBadGateway, "completion_failed"
	case errors.Is(err, retriever.ErrNoSnapshot), errors.Is(err, fs.ErrNotExist):
		return http.StatusServiceUnavailable, "no_snapshot"
	case errors.Is(err, policyrag.ErrCorruptStore):
		return http.StatusInternalServerError, "corrupt_store"
	default:
		return http.StatusInternalServerError, "internal_error"
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg, code string) {
	writeJSON(w, status, ErrorResponse{Error: ErrorDetail{Message: strings.TrimSpace(msg), Code: code}})
}

// Run serves handler on addr until ctx is cancelled, then shuts down
// gracefully within shutdownTimeout.
func Run(ctx context.Context, addr string, handler http.Handler, shutdownTimeout time.Duration, log logr.Logger) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errc := make(chan error, 1)
	go func() {
		log.Info("starting server", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
		close(errc)
	}()

	select {
	case err, ok := <-errc:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-ctx.Done():
	}
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
