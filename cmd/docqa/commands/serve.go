package commands

import (
	"errors"
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/54b3r/docqa-go/internal/logging"
	"github.com/54b3r/docqa-go/internal/rag"
	"github.com/54b3r/docqa-go/internal/server"
	"github.com/54b3r/docqa-go/internal/tracing"
)

// NewServeCmd constructs the `docqa serve` command, which starts the HTTP
// API over the query flow.
func NewServeCmd() *cobra.Command {
	var (
		host       string
		port       int
		rateLimit  float64
		skipIngest bool
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the docqa HTTP API",
		Long: `Start the HTTP API on localhost.

At startup the configured documents are ingested, as the index may be stale.
With --skip-ingest the persisted index is loaded instead; if there is none
the server still starts and /api/ready reports not ready until an index
exists.

Endpoints:
  POST /api/ask     {"question": "...", "session_id": "..."}
  GET  /api/health  liveness
  GET  /api/ready   dependency readiness
  GET  /metrics     Prometheus metrics

Examples:
  docqa serve
  docqa serve --port 9090 --skip-ingest
  MODEL_PROVIDER=ollama docqa serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			flush := tracing.Setup(log)
			defer flush()

			// Flags win; otherwise env, which may have come from YAML or .env.
			if !cmd.Flags().Changed("host") {
				host = getEnvOrDefault("DOCQA_HOST", host)
			}
			if !cmd.Flags().Changed("port") {
				port = getEnvInt("DOCQA_PORT", port)
			}
			if !cmd.Flags().Changed("rate-limit") {
				rateLimit = getEnvFloat("DOCQA_RATE_LIMIT", rateLimit)
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

			a, err := newApp(ctx, log, appOptions{withEngine: true, withTranscripts: true, registry: reg})
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer a.Close()

			if skipIngest {
				err := a.loadIndex(ctx, false)
				if errors.Is(err, rag.ErrIndexNotFound) {
					log.Warn("serve: no persisted index; questions fail until one is ingested")
				} else if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
			} else {
				report, err := a.ingest(ctx, nil)
				if err != nil {
					return fmt.Errorf("serve: startup ingestion failed: %w", err)
				}
				log.Info("serve: startup ingestion complete",
					slog.Int("documents", report.Documents),
					slog.Int("chunks", report.Chunks),
					slog.Int("skipped", len(report.Skipped)),
				)
			}

			pingers := []server.Pinger{server.IndexProbe(a.engine.Index)}
			if a.qdrant != nil {
				pingers = append(pingers, server.QdrantProbe(a.qdrant, a.settings.QdrantCollection))
			}

			srv, err := server.New(a.engine, &server.Config{
				Host:            host,
				Port:            port,
				AskTimeout:      a.settings.SynthTimeout * 2,
				Logger:          log,
				Pingers:         pingers,
				RateLimit:       rateLimit,
				MetricsRegistry: reg,
				MetricsGatherer: reg,
			})
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			return srv.Start(ctx) //nolint:wrapcheck // CLI entry point
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to (env: DOCQA_HOST)")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on (env: DOCQA_PORT)")
	cmd.Flags().Float64Var(&rateLimit, "rate-limit", 10, "Requests per second allowed per client IP on /api/ask (env: DOCQA_RATE_LIMIT)")
	cmd.Flags().BoolVar(&skipIngest, "skip-ingest", false, "Load the persisted index instead of re-ingesting at startup")

	return cmd
}
