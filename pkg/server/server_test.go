package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/go-logr/logr"
	"github.com/google/go-cmp/cmp"

	"github.com/perbu/policyrag/pkg/answer"
	"github.com/perbu/policyrag/pkg/embedder"
	"github.com/perbu/policyrag/pkg/index"
	"github.com/perbu/policyrag/pkg/policyrag"
	"github.com/perbu/policyrag/pkg/retriever"
	"github.com/perbu/policyrag/pkg/snapshot"
)

var emb = embedder.NewHashEmbedder(64)

func buildSnapshot(t *testing.T, texts ...string) *snapshot.Snapshot {
	t.Helper()
	vecs, err := emb.Embed(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	segs := make([]policyrag.Segment, len(texts))
	for i, text := range texts {
		segs[i] = policyrag.Segment{ID: i, Text: text, Page: i + 1}
	}
	ix, err := index.Build(vecs)
	if err != nil {
		t.Fatal(err)
	}
	snap, err := snapshot.New(ix, segs, emb.ModelInfo(), "test")
	if err != nil {
		t.Fatal(err)
	}
	return snap
}

type stubCompleter struct {
	reply string
	err   error
}

func (s stubCompleter) Complete(context.Context, string, string) (string, error) {
	return s.reply, s.err
}

type testEnv struct {
	srv    *httptest.Server
	holder *Holder
	dir    string
}

func newEnv(t *testing.T, c answer.Completer, s answer.Suggester) *testEnv {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "vectorstore")
	snap := buildSnapshot(t,
		"Basement flooding is excluded from coverage under this policy.",
		"The premium is payable annually by bank transfer to the insurer.")
	if err := snapshot.Write(dir, snap); err != nil {
		t.Fatal(err)
	}
	holder := NewHolder(snap, logr.Discard())
	r := retriever.New(emb, holder, logr.Discard(), retriever.WithK(1))
	h := &Handler{
		Holder:      holder,
		Asker:       answer.NewAnswerer(r, c, logr.Discard()),
		Retriever:   r,
		Suggester:   s,
		Case:        answer.CaseContext{ClaimType: "Flood", State: "Florida", Policy: "NFIP"},
		SnapshotDir: dir,
		Log:         logr.Discard(),
	}
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	return &testEnv{srv: srv, holder: holder, dir: dir}
}

func (e *testEnv) post(t *testing.T, path, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(e.srv.URL+path, "application/json", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (e *testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.srv.URL + path)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("decoding response: %v", err)
	}
	return v
}

func TestAsk(t *testing.T) {
	env := newEnv(t, stubCompleter{reply: "Decision:\nNo\nExplanation:\n- basement flooding is excluded"}, nil)
	resp := env.post(t, "/v1/ask", `{"question":"is basement damage covered"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decode[AskResponse](t, resp)
	want := policyrag.StructuredAnswer{Decision: "No", Explanation: "- basement flooding is excluded"}
	if diff := cmp.Diff(want, got.Answer.Answer); diff != "" {
		t.Errorf("answer mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]int{1}, got.Citations); diff != "" {
		t.Errorf("citations mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff([]string{"Policy Document – Page 1"}, got.AuditTrail); diff != "" {
		t.Errorf("audit trail mismatch (-want +got):\n%s", diff)
	}
}

func TestAskErrors(t *testing.T) {
	tests := []struct {
		name       string
		completer  stubCompleter
		body       string
		wantStatus int
		wantCode   string
	}{
		{"empty question", stubCompleter{}, `{"question":"   "}`, http.StatusBadRequest, "empty_query"},
		{"bad json", stubCompleter{}, `{"question":`, http.StatusBadRequest, "invalid_request"},
		{"completion down", stubCompleter{err: errors.New("connection reset")}, `{"question":"is basement damage covered"}`,
			http.StatusBadGateway, "completion_failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, tt.completer, nil)
			before := env.holder.Current()
			resp := env.post(t, "/v1/ask", tt.body)
			if resp.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.wantStatus)
			}
			if got := decode[ErrorResponse](t, resp); got.Error.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", got.Error.Code, tt.wantCode)
			}
			if env.holder.Current() != before {
				t.Error("failed query replaced the loaded snapshot")
			}
		})
	}
}

func TestAskMethodNotAllowed(t *testing.T) {
	env := newEnv(t, stubCompleter{}, nil)
	if resp := env.get(t, "/v1/ask"); resp.StatusCode != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", resp.StatusCode)
	}
}

func TestRetrieve(t *testing.T) {
	env := newEnv(t, stubCompleter{}, nil)
	resp := env.post(t, "/v1/retrieve", `{"question":"is basement damage covered"}`)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	ev := decode[policyrag.EvidenceSet](t, resp)
	if len(ev.Hits) != 1 || ev.Hits[0].Segment.Page != 1 {
		t.Errorf("hits = %+v", ev.Hits)
	}
	if !strings.Contains(ev.Context, "Basement flooding") {
		t.Errorf("context = %q", ev.Context)
	}
}

type stubSuggester struct{ err error }

func (s stubSuggester) Suggest(_ context.Context, caseContext string) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	return []string{"Is a " + strings.Fields(caseContext)[2] + " claim covered?"}, nil
}

func TestSuggestions(t *testing.T) {
	tests := []struct {
		name      string
		suggester answer.Suggester
		want      []string
	}{
		{"service", stubSuggester{}, []string{"Is a Flood claim covered?"}},
		{"service error", stubSuggester{err: errors.New("quota")}, answer.DefaultSuggestions},
		{"no service", nil, answer.DefaultSuggestions},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newEnv(t, stubCompleter{}, tt.suggester)
			resp := env.get(t, "/v1/suggestions")
			if resp.StatusCode != http.StatusOK {
				t.Fatalf("status = %d", resp.StatusCode)
			}
			got := decode[SuggestionsResponse](t, resp)
			if diff := cmp.Diff(tt.want, got.Suggestions); diff != "" {
				t.Errorf("mismatch (-want +got):\n%s", diff)
			}
			if got.Case.ClaimType != "Flood" {
				t.Errorf("case = %+v", got.Case)
			}
		})
	}
}

func TestReload(t *testing.T) {
	env := newEnv(t, stubCompleter{}, nil)
	next := buildSnapshot(t, "Mold damage is covered only if caused by a flood.")
	if err := snapshot.Write(env.dir, next); err != nil {
		t.Fatal(err)
	}

	resp := env.post(t, "/v1/reload", "")
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	got := decode[ReloadResponse](t, resp)
	if got.SnapshotID != next.Header.SnapshotID {
		t.Errorf("reloaded %s, want %s", got.SnapshotID, next.Header.SnapshotID)
	}
	if diff := cmp.Diff([]int{1}, got.Pages); diff != "" {
		t.Errorf("pages mismatch (-want +got):\n%s", diff)
	}
	if env.holder.Current().Header.SnapshotID != next.Header.SnapshotID {
		t.Error("holder still serves the old snapshot")
	}
}

func TestStartWithoutSnapshot(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "vectorstore")
	holder := NewHolder(nil, logr.Discard())
	r := retriever.New(emb, holder, logr.Discard(), retriever.WithK(1))
	h := &Handler{
		Holder:      holder,
		Asker:       answer.NewAnswerer(r, stubCompleter{reply: "Decision: No"}, logr.Discard()),
		Retriever:   r,
		SnapshotDir: dir,
		Log:         logr.Discard(),
	}
	srv := httptest.NewServer(h.Routes())
	t.Cleanup(srv.Close)
	env := &testEnv{srv: srv, holder: holder, dir: dir}

	for _, path := range []string{"/v1/retrieve", "/v1/ask"} {
		resp := env.post(t, path, `{"question":"basement"}`)
		if resp.StatusCode != http.StatusServiceUnavailable {
			t.Errorf("%s without snapshot: status %d, want 503", path, resp.StatusCode)
		}
		if got := decode[ErrorResponse](t, resp); got.Error.Code != "no_snapshot" {
			t.Errorf("%s code = %q, want no_snapshot", path, got.Error.Code)
		}
	}
	if resp := env.post(t, "/v1/reload", ""); resp.StatusCode != http.StatusServiceUnavailable {
		t.Errorf("reload before ingest: status %d, want 503", resp.StatusCode)
	}

	snap := buildSnapshot(t, "Basement flooding is excluded from coverage under this policy.")
	if err := snapshot.Write(dir, snap); err != nil {
		t.Fatal(err)
	}
	if resp := env.post(t, "/v1/reload", ""); resp.StatusCode != http.StatusOK {
		t.Fatalf("first reload: status %d, want 200", resp.StatusCode)
	}
	if resp := env.get(t, "/healthz"); resp.StatusCode != http.StatusOK {
		t.Errorf("healthz after reload: status %d", resp.StatusCode)
	}
	if resp := env.post(t, "/v1/retrieve", `{"question":"basement"}`); resp.StatusCode != http.StatusOK {
		t.Errorf("retrieve after reload: status %d", resp.StatusCode)
	}
}

func TestHolderSwapNil(t *testing.T) {
	h := NewHolder(nil, logr.Discard())
	if old := h.swap(nil); old != nil {
		t.Errorf("swap(nil) returned %v", old)
	}
	if h.Current() != nil {
		t.Error("Current() != nil")
	}
}

func TestReloadCorruptKeepsCurrent(t *testing.T) {
	env := newEnv(t, stubCompleter{}, nil)
	before := env.holder.Current()
	if err := os.WriteFile(filepath.Join(env.dir, snapshot.IndexFile), []byte("garbage"), 0o644); err != nil {
		t.Fatal(err)
	}

	resp := env.post(t, "/v1/reload", "")
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", resp.StatusCode)
	}
	if got := decode[ErrorResponse](t, resp); got.Error.Code != "corrupt_store" {
		t.Errorf("code = %q, want corrupt_store", got.Error.Code)
	}
	if env.holder.Current() != before {
		t.Error("failed reload replaced the snapshot")
	}

	// Queries keep working against the old snapshot.
	if resp := env.post(t, "/v1/retrieve", `{"question":"basement"}`); resp.StatusCode != http.StatusOK {
		t.Errorf("retrieve after failed reload: status %d", resp.StatusCode)
	}
}

func TestHealthz(t *testing.T) {
	env := newEnv(t, stubCompleter{}, nil)
	resp := env.get(t, "/healthz")
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Errorf("healthz = %d %q", resp.StatusCode, body)
	}

	empty := &Handler{Holder: NewHolder(nil, logr.Discard()), Log: logr.Discard()}
	rec := httptest.NewRecorder()
	empty.Routes().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("healthz without snapshot = %d, want 503", rec.Code)
	}
}

func TestMetrics(t *testing.T) {
	env := newEnv(t, stubCompleter{}, nil)
	env.post(t, "/v1/retrieve", `{"question":"basement"}`)

	resp := env.get(t, "/metrics")
	body, _ := io.ReadAll(resp.Body)
	for _, name := range []string{
		"policyrag_retrieve_total",
		"policyrag_http_requests_total",
		"policyrag_snapshot_segments",
	} {
		if !bytes.Contains(body, []byte(name)) {
			t.Errorf("metrics output lacks %s", name)
		}
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{policyrag.ErrEmptyQuery, http.StatusBadRequest},
		{policyrag.ErrEmbedding, http.StatusBadGateway},
		{policyrag.ErrCompletion, http.StatusBadGateway},
		{retriever.ErrNoSnapshot, http.StatusServiceUnavailable},
		{fmt.Errorf("snapshot vectorstore: %w", fs.ErrNotExist), http.StatusServiceUnavailable},
		{fmt.Errorf("index.bin missing: %w", policyrag.ErrCorruptStore), http.StatusInternalServerError},
		{errors.New("boom"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got, _ := classify(tt.err); got != tt.want {
			t.Errorf("classify(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}
