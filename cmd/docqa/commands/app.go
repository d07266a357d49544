package commands

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/qdrant/go-client/qdrant"

	"github.com/54b3r/docqa-go/internal/budget"
	"github.com/54b3r/docqa-go/internal/chunker"
	"github.com/54b3r/docqa-go/internal/config"
	"github.com/54b3r/docqa-go/internal/embedder"
	"github.com/54b3r/docqa-go/internal/pipeline"
	"github.com/54b3r/docqa-go/internal/provider"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/store"
	"github.com/54b3r/docqa-go/internal/synth"
)

// appOptions selects which parts of the pipeline a command needs.
type appOptions struct {
	// withEngine builds the chat model, synthesizer and query engine.
	withEngine bool
	// withTranscripts opens the transcript store.
	withTranscripts bool
	// registry receives pipeline metrics; nil disables them.
	registry prometheus.Registerer
}

// app is the wired pipeline shared by the commands.
type app struct {
	log         *slog.Logger
	settings    *config.Settings
	indexes     rag.Store
	qdrant      *qdrant.Client
	ingestor    *pipeline.Ingestor
	engine      *pipeline.Engine
	transcripts store.TranscriptStore
	closers     []func()
}

// newApp resolves settings from the environment and wires the pipeline.
func newApp(ctx context.Context, log *slog.Logger, opts appOptions) (a *app, err error) {
	settings, err := config.SettingsFromEnv()
	if err != nil {
		return nil, err
	}
	a = &app{log: log, settings: settings}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	var metrics *pipeline.Metrics
	if opts.registry != nil {
		metrics = pipeline.NewMetrics(opts.registry)
	}

	embCfg := embedder.ConfigFromEnv()
	emb, err := embedder.New(ctx, embCfg, log)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedder: %w", err)
	}

	if err := a.openIndexStore(emb, embCfg.Name()); err != nil {
		return nil, err
	}

	splitter, err := chunker.New(settings.ChunkSize, settings.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	a.ingestor, err = pipeline.NewIngestor(&pipeline.IngestorConfig{
		Splitter: splitter,
		Store:    a.indexes,
		Location: settings.IndexLocation(),
		Metrics:  metrics,
	})
	if err != nil {
		return nil, err
	}

	if opts.withTranscripts {
		a.openTranscripts()
	}

	if opts.withEngine {
		if err := a.buildEngine(ctx, metrics); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// openIndexStore connects the configured index backend.
func (a *app) openIndexStore(emb rag.Embedder, embedderName string) error {
	s := a.settings
	switch s.IndexBackend {
	case config.IndexBackendQdrant:
		qs, err := rag.NewQdrantStore(&rag.QdrantConfig{
			Host:   s.QdrantHost,
			Port:   s.QdrantPort,
			APIKey: s.QdrantAPIKey,
			UseTLS: s.QdrantTLS,
		}, emb, embedderName)
		if err != nil {
			return fmt.Errorf("failed to connect to Qdrant at %s:%d: %w", s.QdrantHost, s.QdrantPort, err)
		}
		a.indexes = qs
		a.qdrant = qs.Client()
		a.closers = append(a.closers, func() { _ = qs.Close() })
		a.log.Info("index store: qdrant",
			slog.String("host", s.QdrantHost),
			slog.Int("port", s.QdrantPort),
			slog.String("collection", s.QdrantCollection),
		)
	default:
		ss, err := rag.NewSQLiteStore(emb, embedderName)
		if err != nil {
			return err
		}
		a.indexes = ss
		a.log.Info("index store: sqlite", slog.String("dir", s.IndexDir))
	}
	return nil
}

// openTranscripts opens the transcript store. Failures disable transcripts
// rather than the command.
func (a *app) openTranscripts() {
	if a.settings.HistoryDisabled() {
		a.log.Info("history: disabled via DOCQA_HISTORY_DB=disabled")
		return
	}
	path := a.settings.HistoryDB
	if path == "" {
		p, err := store.DefaultDBPath()
		if err != nil {
			a.log.Warn("history: could not resolve default DB path, disabling", slog.Any("error", err))
			return
		}
		path = p
	}
	ts, err := store.Open(path)
	if err != nil {
		a.log.Warn("history: failed to open store, disabling", slog.Any("error", err))
		return
	}
	a.transcripts = ts
	a.closers = append(a.closers, func() { _ = ts.Close() })
	a.log.Info("history: store opened", slog.String("path", path))
}

// buildEngine constructs the chat model, synthesizer and engine.
func (a *app) buildEngine(ctx context.Context, metrics *pipeline.Metrics) error {
	providerCfg := provider.ConfigFromEnv()
	chatModel, err := provider.New(ctx, providerCfg)
	if err != nil {
		return fmt.Errorf("failed to initialise model provider: %w", err)
	}
	a.log.Info("provider initialised",
		slog.String("provider", string(providerCfg.Backend)),
		slog.String("model", providerCfg.ModelName()),
	)

	maxTokens := a.settings.ContextMaxTokens
	if maxTokens <= 0 {
		maxTokens = budget.DefaultMaxContextTokens
	}
	combiner, err := synth.NewCombiner(ctx, a.settings.SynthStrategy, chatModel, maxTokens)
	if err != nil {
		return err
	}
	synthesizer, err := synth.New(ctx, &synth.Config{
		ChatModel: chatModel,
		Combiner:  combiner,
		Timeout:   a.settings.SynthTimeout,
	})
	if err != nil {
		return err
	}

	a.engine, err = pipeline.NewEngine(&pipeline.EngineConfig{
		Synthesizer: synthesizer,
		TopK:        a.settings.TopK,
		Transcripts: a.transcripts,
		Metrics:     metrics,
	})
	return err
}

// ingest runs the ingest flow over paths, or the configured documents when
// paths is empty, and hands the new index to the engine.
func (a *app) ingest(ctx context.Context, paths []string) (*pipeline.IngestReport, error) {
	if len(paths) == 0 {
		paths = a.settings.Documents
	}
	report, err := a.ingestor.Ingest(ctx, paths)
	if err != nil {
		return nil, err
	}
	if a.engine != nil {
		a.engine.SetIndex(report.Index)
	}
	return report, nil
}

// loadIndex restores the persisted index into the engine. When none exists
// and ingestIfMissing is set, the configured documents are ingested instead.
func (a *app) loadIndex(ctx context.Context, ingestIfMissing bool) error {
	idx, err := a.indexes.Load(ctx, a.settings.IndexLocation())
	switch {
	case err == nil:
		a.engine.SetIndex(idx)
		a.log.Info("index loaded",
			slog.String("location", a.settings.IndexLocation()),
			slog.Int("chunks", idx.Len()),
		)
		return nil
	case errors.Is(err, rag.ErrIndexNotFound) && ingestIfMissing:
		a.log.Info("no index found, ingesting configured documents", slog.Any("documents", a.settings.Documents))
		_, err = a.ingest(ctx, nil)
		return err
	default:
		return err
	}
}

// Close releases every opened resource in reverse order.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
