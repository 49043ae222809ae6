// Command evaluator runs the documentation-review HTTP service: the
// Evaluation and Remediation Orchestrators wired behind the chi-based REST
// surface, with bounded job queues and an SSE progress bus, grounded on the
// teacher's cmd/quorum cobra CLI skeleton.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/evalsvc/docreview/internal/api"
	"github.com/evalsvc/docreview/internal/diagnostics"
	"github.com/evalsvc/docreview/internal/jobs"
	"github.com/evalsvc/docreview/internal/provider"
	"github.com/evalsvc/docreview/internal/sse"
	"github.com/evalsvc/docreview/internal/storage"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	v.SetEnvPrefix("EVALSVC")
	v.AutomaticEnv()

	root := &cobra.Command{
		Use:   "evaluator",
		Short: "AI-agent instruction-file evaluation and remediation service",
	}

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(v)
		},
	}
	serve.Flags().String("addr", ":8080", "listen address")
	serve.Flags().String("db", "evaluator.db", "path to the sqlite database")
	serve.Flags().String("provider", "claude", "default provider name when a request doesn't specify one")
	serve.Flags().Int("curation-threshold", 0, "issue count above which curation runs (0 = default)")
	_ = v.BindPFlag("addr", serve.Flags().Lookup("addr"))
	_ = v.BindPFlag("db", serve.Flags().Lookup("db"))
	_ = v.BindPFlag("provider", serve.Flags().Lookup("provider"))
	_ = v.BindPFlag("curation_threshold", serve.Flags().Lookup("curation-threshold"))

	root.AddCommand(serve)
	return root
}

func runServe(v *viper.Viper) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	store, err := storage.Open(v.GetString("db"))
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer func() { _ = store.Close() }()

	registry := buildProviderRegistry(logger)

	bus := sse.NewBus(logger)
	manager := jobs.NewManager(store, store, store, registry, bus,
		jobs.WithLogger(logger),
		jobs.WithCurationThreshold(v.GetInt("curation_threshold")),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.Recover(ctx); err != nil {
		return fmt.Errorf("recovering jobs: %w", err)
	}
	manager.Start(ctx)

	monitor := diagnostics.NewResourceMonitor(30*time.Second, 80, 5000, 2048, 120, logger)
	monitor.Start(ctx)
	defer monitor.Stop()

	server := api.NewServer(
		api.WithLogger(logger),
		api.WithJobSubmitter(manager),
		api.WithSSEHandler(sse.NewHandler(bus)),
		api.WithResourceMonitor(monitor),
	)

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe(ctx, v.GetString("addr")) }()

	select {
	case <-ctx.Done():
		manager.Wait()
		return nil
	case err := <-errCh:
		return err
	}
}

// buildProviderRegistry registers every CLI-backed provider the spec's
// evaluator/remediator prompts may target, each wrapped in the retry +
// circuit-breaker decorator so a single flaky agent invocation doesn't fail
// a whole evaluation.
func buildProviderRegistry(logger *slog.Logger) *provider.Registry {
	registry := provider.NewRegistry()

	configs := []provider.CLIConfig{
		{Name: "claude", Path: "claude", PromptFlag: "--print", ModelFlag: "--model"},
		{Name: "codex", Path: "codex", ModelFlag: "--model"},
		{Name: "gemini", Path: "gemini", ModelFlag: "--model"},
		{Name: "copilot", Path: "gh copilot"},
	}
	for _, cfg := range configs {
		base := provider.NewCLIProvider(cfg, logger)
		registry.Register(provider.NewResilient(base, provider.DefaultResilientConfig(), nil))
	}
	return registry
}
