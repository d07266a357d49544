package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/docqa-go/internal/chunker"
	"github.com/54b3r/docqa-go/internal/embedder"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/store"
	"github.com/54b3r/docqa-go/internal/synth"
	"github.com/54b3r/docqa-go/internal/synth/synthtest"
)

// budgetUpdate is a small tax document: one paragraph carries the relief
// figure, the rest is unrelated filler so retrieval has to rank.
const budgetUpdate = `Budget 2025 personal update for households.

Roads and bridges will receive new funding for rural connectivity projects across the northern states over five years.

The national football team will play friendly matches in March and April against regional opponents.

Tax relief for medical expenses of parents is RM10,000 per year.

Rainfall forecasts predict a wetter monsoon season with flooding risks in coastal towns and river valleys.

Public libraries extend opening hours on weekends and public holidays, with new reading rooms for students.

Railway upgrades include electrified lines, signalling improvements, and quieter carriages for commuters.

Fisheries receive support for cold storage facilities and boat engine replacements in eastern ports.
`

type harness struct {
	dir      string
	store    *rag.SQLiteStore
	ingestor *Ingestor
	model    *synthtest.ChatModel
	engine   *Engine
}

func newHarness(t *testing.T, model *synthtest.ChatModel) *harness {
	t.Helper()
	emb := embedder.NewHashingEmbedder(512)
	st, err := rag.NewSQLiteStore(emb, "hashing/fnv@512")
	if err != nil {
		t.Fatalf("store: %v", err)
	}
	sp, err := chunker.New(200, 20)
	if err != nil {
		t.Fatalf("splitter: %v", err)
	}
	dir := t.TempDir()
	in, err := NewIngestor(&IngestorConfig{Splitter: sp, Store: st, Location: filepath.Join(dir, "index")})
	if err != nil {
		t.Fatalf("ingestor: %v", err)
	}
	sy, err := synth.New(context.Background(), &synth.Config{ChatModel: model})
	if err != nil {
		t.Fatalf("synth: %v", err)
	}
	eng, err := NewEngine(&EngineConfig{Synthesizer: sy})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}
	return &harness{dir: dir, store: st, ingestor: in, model: model, engine: eng}
}

func writeDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	p := filepath.Join(dir, name)
	if err := os.WriteFile(p, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return p
}

// ingestAndLoad ingests paths and hands the reloaded index to the engine, as
// the CLI does on a fresh start.
func (h *harness) ingestAndLoad(t *testing.T, paths ...string) *IngestReport {
	t.Helper()
	ctx := context.Background()
	report, err := h.ingestor.Ingest(ctx, paths)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	idx, err := h.store.Load(ctx, h.ingestor.Location())
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	h.engine.SetIndex(idx)
	return report
}

func Test_Pipeline_AnswersFromDocument(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &synthtest.ChatModel{Reply: synthtest.Grounded(synth.FallbackAnswer, "RM10,000")})
	doc := writeDoc(t, h.dir, "budget.md", budgetUpdate)
	report := h.ingestAndLoad(t, doc)
	if report.Chunks <= rag.DefaultTopK {
		t.Fatalf("test document should yield more than %d chunks, got %d", rag.DefaultTopK, report.Chunks)
	}

	ans, err := h.engine.Ask(context.Background(), Query{Question: "How much tax relief for medical expenses of parents?"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if !strings.Contains(ans.Text, "RM10,000") {
		t.Errorf("answer %q does not mention RM10,000", ans.Text)
	}
	if len(ans.Sources) != rag.DefaultTopK {
		t.Errorf("want %d sources, got %d", rag.DefaultTopK, len(ans.Sources))
	}
	for i := 1; i < len(ans.Sources); i++ {
		if ans.Sources[i].Score > ans.Sources[i-1].Score {
			t.Errorf("sources not in rank order at %d", i)
		}
	}
	if !strings.Contains(h.model.LastPrompt(), "RM10,000") {
		t.Error("relief paragraph was not retrieved into the prompt")
	}
}

func Test_Pipeline_AbsentTopicFallsBack(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &synthtest.ChatModel{Reply: synthtest.Grounded(synth.FallbackAnswer, "submarine")})
	h.ingestAndLoad(t, writeDoc(t, h.dir, "budget.md", budgetUpdate))

	ans, err := h.engine.Ask(context.Background(), Query{Question: "What does the budget allocate for submarines?"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if ans.Text != synth.FallbackAnswer {
		t.Errorf("want fallback, got %q", ans.Text)
	}
}

func Test_Engine_EmptyQuestionPrompts(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		question string
	}{
		{name: "empty", question: ""},
		{name: "spaces", question: "   "},
		{name: "mixed whitespace", question: "\t\n "},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			h := newHarness(t, &synthtest.ChatModel{})

			// No index loaded: an empty question must not reach retrieval.
			ans, err := h.engine.Ask(context.Background(), Query{Question: tc.question})
			if err != nil {
				t.Fatalf("ask: %v", err)
			}
			if !ans.Prompted || ans.Text != PromptMessage {
				t.Errorf("want prompt message, got %+v", ans)
			}
			if h.model.Calls() != 0 {
				t.Errorf("model called %d times", h.model.Calls())
			}
		})
	}
}

func Test_Engine_QueryBeforeIngest(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &synthtest.ChatModel{})

	_, err := h.engine.Ask(context.Background(), Query{Question: "anything?"})
	if !errors.Is(err, rag.ErrIndexNotFound) {
		t.Fatalf("want ErrIndexNotFound, got %v", err)
	}

	_, err = h.store.Load(context.Background(), h.ingestor.Location())
	if !errors.Is(err, rag.ErrIndexNotFound) {
		t.Fatalf("load before ingest: want ErrIndexNotFound, got %v", err)
	}
}

func Test_Ingestor_SkipsFailedDocuments(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &synthtest.ChatModel{})
	good := writeDoc(t, h.dir, "budget.md", budgetUpdate)
	corrupt := writeDoc(t, h.dir, "broken.pdf", "not a pdf at all")
	missing := filepath.Join(h.dir, "missing.pdf")

	report := h.ingestAndLoad(t, missing, good, corrupt)
	if report.Documents != 1 {
		t.Errorf("want 1 document, got %d", report.Documents)
	}
	if len(report.Skipped) != 2 {
		t.Errorf("want 2 skipped, got %v", report.Skipped)
	}
	if report.Chunks == 0 {
		t.Error("good document produced no chunks")
	}
}

func Test_Ingestor_NothingExtractedPersistsEmptyIndex(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &synthtest.ChatModel{})

	report := h.ingestAndLoad(t, filepath.Join(h.dir, "missing.pdf"), writeDoc(t, h.dir, "blank.txt", "  \n\n "))
	if report.Chunks != 0 {
		t.Errorf("want empty index, got %d chunks", report.Chunks)
	}

	ans, err := h.engine.Ask(context.Background(), Query{Question: "What is in the document?"})
	if err != nil {
		t.Fatalf("ask: %v", err)
	}
	if ans.Text != synth.FallbackAnswer {
		t.Errorf("want fallback, got %q", ans.Text)
	}
	if h.model.Calls() != 0 {
		t.Errorf("model called %d times for an empty index", h.model.Calls())
	}
}

// failingEmbedder fails every call.
type failingEmbedder struct{}

func (failingEmbedder) Embed(context.Context, []string) ([][]float32, error) {
	return nil, errors.New("embedding service unreachable")
}

func Test_Ingestor_EmbeddingFailureKeepsPreviousIndex(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &synthtest.ChatModel{})
	doc := writeDoc(t, h.dir, "budget.md", budgetUpdate)
	first := h.ingestAndLoad(t, doc)

	bad, err := rag.NewSQLiteStore(failingEmbedder{}, "hashing/fnv@512")
	if err != nil {
		t.Fatal(err)
	}
	sp, _ := chunker.New(200, 20)
	in, err := NewIngestor(&IngestorConfig{Splitter: sp, Store: bad, Location: h.ingestor.Location()})
	if err != nil {
		t.Fatal(err)
	}

	_, err = in.Ingest(context.Background(), []string{doc})
	var embErr *rag.EmbeddingError
	if !errors.As(err, &embErr) {
		t.Fatalf("want *rag.EmbeddingError, got %v", err)
	}

	idx, err := h.store.Load(context.Background(), h.ingestor.Location())
	if err != nil {
		t.Fatalf("previous index should still load: %v", err)
	}
	if idx.Len() != first.Chunks {
		t.Errorf("want %d chunks from previous index, got %d", first.Chunks, idx.Len())
	}
}

func Test_Ingestor_ReingestIsIdempotent(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	h := newHarness(t, &synthtest.ChatModel{})
	docs := []string{
		writeDoc(t, h.dir, "budget.md", budgetUpdate),
		writeDoc(t, h.dir, "notes.txt", strings.Repeat("Parents may claim medical relief with receipts. ", 12)),
	}
	queries := []string{
		"What is the tax relief for medical expenses of parents?",
		"railway upgrades",
		"something the documents never mention",
	}

	searchAll := func() [][]rag.ScoredChunk {
		t.Helper()
		if _, err := h.ingestor.Ingest(ctx, docs); err != nil {
			t.Fatalf("ingest: %v", err)
		}
		idx, err := h.store.Load(ctx, h.ingestor.Location())
		if err != nil {
			t.Fatalf("load: %v", err)
		}
		out := make([][]rag.ScoredChunk, len(queries))
		for i, q := range queries {
			if out[i], err = idx.Search(ctx, q, 4); err != nil {
				t.Fatalf("search %q: %v", q, err)
			}
		}
		return out
	}

	first := searchAll()
	second := searchAll()
	for i, q := range queries {
		if len(first[i]) == 0 {
			t.Fatalf("%q: no results", q)
		}
		if len(first[i]) != len(second[i]) {
			t.Fatalf("%q: %d results then %d", q, len(first[i]), len(second[i]))
		}
		for j := range first[i] {
			a, b := first[i][j], second[i][j]
			if a.Chunk.ID != b.Chunk.ID || a.Chunk.Text != b.Chunk.Text || a.Score != b.Score {
				t.Errorf("%q rank %d: %s (%.6f) then %s (%.6f)", q, j, a.Chunk.ID, a.Score, b.Chunk.ID, b.Score)
			}
		}
	}
}

func Test_Ingestor_ConcurrentIngestsSerialise(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &synthtest.ChatModel{})
	doc := writeDoc(t, h.dir, "budget.md", budgetUpdate)

	var wg sync.WaitGroup
	errs := make(chan error, 4)
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := h.ingestor.Ingest(context.Background(), []string{doc})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("concurrent ingest: %v", err)
		}
	}
	if _, err := h.store.Load(context.Background(), h.ingestor.Location()); err != nil {
		t.Fatalf("load after concurrent ingests: %v", err)
	}
}

func Test_Engine_RecordsTranscript(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &synthtest.ChatModel{Reply: synthtest.Grounded(synth.FallbackAnswer, "RM10,000")})
	h.ingestAndLoad(t, writeDoc(t, h.dir, "budget.md", budgetUpdate))

	ts, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ts.Close() })
	eng, err := NewEngine(&EngineConfig{Index: h.engine.Index(), Synthesizer: mustSynth(t, h.model), Transcripts: ts})
	if err != nil {
		t.Fatal(err)
	}

	q := Query{
		Question:  "Tax relief for parents?",
		SessionID: "session-1",
		History:   []Turn{{Question: "hi", Answer: "hello"}},
	}
	if _, err := eng.Ask(context.Background(), q); err != nil {
		t.Fatalf("ask: %v", err)
	}

	got, err := ts.Recent(context.Background(), "session-1", 10)
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 1 || got[0].Question != q.Question {
		t.Fatalf("want one recorded exchange, got %+v", got)
	}
	if len(got[0].Sources) == 0 || !strings.HasPrefix(got[0].Sources[0], "budget.md p.") {
		t.Errorf("unexpected source labels %v", got[0].Sources)
	}
}

func Test_Engine_HistoryHasNoEffect(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &synthtest.ChatModel{})
	h.ingestAndLoad(t, writeDoc(t, h.dir, "budget.md", budgetUpdate))
	ctx := context.Background()

	plain, err := h.engine.Ask(ctx, Query{Question: "Tax relief for parents?"})
	if err != nil {
		t.Fatal(err)
	}
	promptPlain := h.model.LastPrompt()

	withHistory, err := h.engine.Ask(ctx, Query{
		Question: "Tax relief for parents?",
		History:  []Turn{{Question: "What about football?", Answer: "Friendly matches."}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if h.model.LastPrompt() != promptPlain {
		t.Error("history changed the prompt")
	}
	if len(plain.Sources) != len(withHistory.Sources) || plain.Sources[0] != withHistory.Sources[0] {
		t.Error("history changed retrieval")
	}
}

func Test_Engine_ConcurrentAsk(t *testing.T) {
	t.Parallel()
	h := newHarness(t, &synthtest.ChatModel{Reply: synthtest.Grounded(synth.FallbackAnswer, "RM10,000")})
	h.ingestAndLoad(t, writeDoc(t, h.dir, "budget.md", budgetUpdate))

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ans, err := h.engine.Ask(context.Background(), Query{Question: "Tax relief for parents?"})
			if err != nil {
				t.Errorf("ask: %v", err)
				return
			}
			if !strings.Contains(ans.Text, "RM10,000") {
				t.Errorf("unexpected answer %q", ans.Text)
			}
		}()
	}
	wg.Wait()
}

func Test_Metrics_RecordOutcomes(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	h := newHarness(t, &synthtest.ChatModel{})
	eng, err := NewEngine(&EngineConfig{Synthesizer: mustSynth(t, h.model), Metrics: m})
	if err != nil {
		t.Fatal(err)
	}

	_, _ = eng.Ask(context.Background(), Query{Question: " "})
	_, _ = eng.Ask(context.Background(), Query{Question: "no index yet"})

	if got := counterValue(t, reg, "docqa_query_total", "prompted"); got != 1 {
		t.Errorf("prompted: want 1, got %v", got)
	}
	if got := counterValue(t, reg, "docqa_query_total", "error"); got != 1 {
		t.Errorf("error: want 1, got %v", got)
	}
}

func Test_Source_Label(t *testing.T) {
	t.Parallel()
	tests := []struct {
		src  Source
		want string
	}{
		{Source{Document: "/data/budget.pdf", PageStart: 3, PageEnd: 3}, "budget.pdf p.3"},
		{Source{Document: "budget.pdf", PageStart: 3, PageEnd: 5}, "budget.pdf p.3-5"},
		{Source{Document: "notes.txt"}, "notes.txt"},
	}
	for _, tc := range tests {
		if got := tc.src.Label(); got != tc.want {
			t.Errorf("Label(%+v) = %q, want %q", tc.src, got, tc.want)
		}
	}
}

func mustSynth(t *testing.T, cm *synthtest.ChatModel) *synth.Synthesizer {
	t.Helper()
	s, err := synth.New(context.Background(), &synth.Config{ChatModel: cm})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// counterValue returns the value of the counter family name with the given
// outcome label.
func counterValue(t *testing.T, reg *prometheus.Registry, name, outcome string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, f := range families {
		if f.GetName() != name {
			continue
		}
		for _, m := range f.GetMetric() {
			for _, l := range m.GetLabel() {
				if l.GetName() == "outcome" && l.GetValue() == outcome {
					return m.GetCounter().GetValue()
				}
			}
		}
	}
	return 0
}
