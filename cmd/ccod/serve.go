package main

import (
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/ccodaemon/ccod/pkg/api"
	"github.com/ccodaemon/ccod/pkg/auth"
	"github.com/ccodaemon/ccod/pkg/classifier"
	"github.com/ccodaemon/ccod/pkg/config"
	"github.com/ccodaemon/ccod/pkg/credentials"
	"github.com/ccodaemon/ccod/pkg/daemonlock"
	"github.com/ccodaemon/ccod/pkg/identity"
	"github.com/ccodaemon/ccod/pkg/metrics"
	"github.com/ccodaemon/ccod/pkg/modelcache"
	"github.com/ccodaemon/ccod/pkg/orchestration"
	"github.com/ccodaemon/ccod/pkg/permission"
	"github.com/ccodaemon/ccod/pkg/proxy"
	"github.com/ccodaemon/ccod/pkg/store"
)

func runServeCmd(stdout, stderr io.Writer) int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(stderr, "ccod: config: %v\n", err)
		return 1
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	lock, err := daemonlock.Acquire(filepath.Join(cfg.StateDir, "ccod.pid"))
	if err != nil {
		fmt.Fprintf(stderr, "ccod: %v\n", err)
		return 1
	}
	defer lock.Release()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		fmt.Fprintf(stderr, "ccod: data dir: %v\n", err)
		return 1
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := sql.Open("sqlite", filepath.Join(cfg.DataDir, "ccod.db"))
	if err != nil {
		fmt.Fprintf(stderr, "ccod: open db: %v\n", err)
		return 1
	}
	defer db.Close()

	metricsStore, err := store.NewMetricsStore(db)
	if err != nil {
		fmt.Fprintf(stderr, "ccod: metrics store: %v\n", err)
		return 1
	}

	credStore, err := credentials.NewStore(db, credentialKey())
	if err != nil {
		fmt.Fprintf(stderr, "ccod: credential store: %v\n", err)
		return 1
	}

	tokenStore := auth.NewTokenStore(filepath.Join(cfg.StateDir, "tokens.json"))

	machineID, err := os.Hostname()
	if err != nil || machineID == "" {
		machineID = "ccod-unknown-host"
	}
	keys, err := identity.LoadOrCreatePersistentKeySet(
		filepath.Join(cfg.StateDir, "resolution.key"), machineID, credentialKey())
	if err != nil {
		fmt.Fprintf(stderr, "ccod: keyset: %v\n", err)
		return 1
	}
	resolutionIssuer := auth.NewResolutionIssuer(keys)
	resolver := permission.NewPendingResolver()

	wasmEngine := classifier.NewWasmEngine()
	if modelPath := filepath.Join(cfg.DataDir, "models", "classifier.wasm"); fileExists(modelPath) {
		if loadErr := wasmEngine.Load(ctx, modelPath); loadErr != nil {
			logger.Warn("classifier model load failed, falling back to heuristic", "error", loadErr)
		}
	}
	corrections := classifier.NewCorrectionStore(classifier.DefaultCorrectionsPath())
	classifierEngine := classifier.New(wasmEngine, corrections)

	gate, err := permission.NewGate(permission.Policy{
		DangerouslySkipConfirmations: cfg.DangerouslySkipConfirmations,
		AutoApproveRead:              cfg.AutoApproveRead,
		DefaultTimeoutMS:             cfg.DefaultTimeoutMS,
	})
	if err != nil {
		fmt.Fprintf(stderr, "ccod: permission gate: %v\n", err)
		return 1
	}

	evaluateCommand := func(command string) (permission.PermissionResult, error) {
		classification, clsErr := classifierEngine.Classify(command)
		if clsErr != nil {
			return permission.PermissionResult{}, clsErr
		}
		result := gate.Evaluate(command, classification)
		if result.Decision == permission.Pending {
			resolver.Register(result.DecisionID)
			if _, issueErr := resolutionIssuer.IssueFor(ctx, result.DecisionID); issueErr != nil {
				logger.Warn("resolution token issue failed", "decision_id", result.DecisionID, "error", issueErr)
			}
		}
		return result, nil
	}

	if url := os.Getenv("CCO_CLASSIFIER_MODEL_URL"); url != "" {
		modelCache := modelcache.NewCache(func(downloaded, total int64) {
			logger.Debug("model download progress", "downloaded", downloaded, "total", total)
		})
		modelPath := filepath.Join(cfg.DataDir, "models", "classifier.wasm")
		if ensureErr := modelCache.Ensure(modelcache.Config{
			URL:        url,
			TargetPath: modelPath,
			MaxRetries: cfg.ModelDownloadMaxRetries,
		}); ensureErr != nil {
			logger.Warn("classifier model download failed, continuing on heuristic fallback", "error", ensureErr)
		} else if loadErr := wasmEngine.Load(ctx, modelPath); loadErr != nil {
			logger.Warn("classifier model load failed after download", "error", loadErr)
		}
	}

	bus := orchestration.NewBus()
	decisions := api.NewDecisionLog(100)
	metricsCache := metrics.NewCache(metrics.DefaultRingCapacity, metrics.DefaultPendingCapacity)

	watcher, err := metrics.NewWatcher(filepath.Join(cfg.DataDir, "projects"), logger)
	if err != nil {
		fmt.Fprintf(stderr, "ccod: metrics watcher: %v\n", err)
		return 1
	}

	if err := metricsStore.Backfill(ctx, filepath.Join(cfg.DataDir, "projects"), metrics.LookupDefaultPricing); err != nil {
		fmt.Fprintf(stderr, "ccod: metrics backfill: %v\n", err)
		return 1
	}

	stop := make(chan struct{})
	flushSignal := make(chan struct{}, 1)
	go watcher.Run(stop)
	go watchProjectDirs(ctx, watcher, metricsCache, flushSignal, logger)

	go metricsCache.RunFlushLoop(ctx, func(events []metrics.WriteEvent) error {
		return metricsStore.UpsertBatch(ctx, events)
	}, flushSignal, logger)

	go tokenStore.RunSweepLoop(ctx, time.Hour, logger)

	var proxyListener *proxy.Listener
	if cfg.PrimaryUpstreamURL != "" {
		proxyListener, err = proxy.New(proxy.Config{
			ListenAddr:             fmt.Sprintf("%s:%d", cfg.Host, cfg.Port+1),
			PrimaryUpstream:        cfg.PrimaryUpstreamURL,
			AlternateUpstream:      cfg.AlternateUpstreamURL,
			AlternateAPIKey:        os.Getenv(cfg.AlternateAPIKeyEnv),
			RouteSet:               cfg.RouteSet,
			DefaultAlternateModel:  cfg.DefaultAlternateModel,
			AlternateProviderStyle: cfg.AlternateProviderStyle,
			StrictValidation:       cfg.StrictRequestSchema,
		}, logger)
		if err != nil {
			fmt.Fprintf(stderr, "ccod: proxy listener: %v\n", err)
			return 1
		}
		go func() {
			if err := proxyListener.Serve(ctx); err != nil {
				logger.Error("proxy listener stopped", "error", err)
			}
		}()
	}

	srv := &api.Server{
		Config:          cfg,
		MetricsCache:    metricsCache,
		Credentials:     credStore,
		Orchestration:   bus,
		Decisions:       decisions,
		EvaluateCommand: evaluateCommand,
		HealthChecks: map[string]func() error{
			"database": func() error { return db.Ping() },
		},
	}

	mux := http.NewServeMux()
	srv.Routes(mux)
	mux.HandleFunc("POST /api/hooks/decisions/{id}/resolve", auth.ResolveHandler(resolutionIssuer, resolver))

	handler := auth.NewMiddleware(tokenStore)(mux)

	httpSrv := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler: handler,
	}

	go func() {
		fmt.Fprintf(stdout, "ccod: listening on http://%s\n", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server stopped", "error", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh

	fmt.Fprintln(stdout, "ccod: shutting down")
	close(stop)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	if proxyListener != nil {
		_ = proxyListener.Close()
	}
	return 0
}

// watchProjectDirs re-parses a project directory's JSONL logs into the
// metrics cache whenever the watcher reports a change under it. Since
// each notification triggers a full re-parse of the directory rather
// than an incremental read, the per-(date, model) totals are diffed
// against the last parse of that same directory so only the delta
// since the last notification is queued for persistence — UpsertBatch
// sums on conflict, so re-queueing the full totals every time would
// count every prior line again on each append.
func watchProjectDirs(ctx context.Context, watcher *metrics.Watcher, cache *metrics.Cache, flushSignal chan<- struct{}, logger *slog.Logger) {
	seen := make(map[string]map[string]map[string]metrics.ModelBreakdown) // dir -> date -> model -> last cumulative breakdown

	for {
		select {
		case <-ctx.Done():
			return
		case path, ok := <-watcher.Paths():
			if !ok {
				return
			}
			dir := filepath.Dir(path)
			result, err := metrics.ParseProjectDir(dir, metrics.LookupDefaultPricing)
			if err != nil {
				logger.Warn("project parse failed", "dir", dir, "error", err)
				continue
			}
			cache.Update(metrics.Snapshot{Timestamp: time.Now(), Totals: result.Totals})

			if enqueueDeltaWrites(cache, seen, dir, result) {
				select {
				case flushSignal <- struct{}{}:
				default:
				}
			}
		}
	}
}

// enqueueDeltaWrites diffs result.ByDateModel against dir's last known
// cumulative totals and queues a write event for whatever changed,
// reporting whether the flush loop should be signalled.
func enqueueDeltaWrites(cache *metrics.Cache, seen map[string]map[string]map[string]metrics.ModelBreakdown, dir string, result *metrics.ParseResult) bool {
	byDate := seen[dir]
	if byDate == nil {
		byDate = make(map[string]map[string]metrics.ModelBreakdown)
		seen[dir] = byDate
	}

	needsFlush := false
	for date, models := range result.ByDateModel {
		byModel := byDate[date]
		if byModel == nil {
			byModel = make(map[string]metrics.ModelBreakdown)
			byDate[date] = byModel
		}
		for model, current := range models {
			last := byModel[model]
			delta := deltaWriteEvent(date, model, last, *current)
			if !isZeroWriteEvent(delta) && cache.QueueWrite(delta) {
				needsFlush = true
			}
			byModel[model] = *current
		}
	}
	return needsFlush
}

func deltaWriteEvent(date, model string, last, current metrics.ModelBreakdown) metrics.WriteEvent {
	return metrics.WriteEvent{
		Date:  date,
		Model: model,
		Usage: metrics.Usage{
			InputTokens:              current.Usage.InputTokens - last.Usage.InputTokens,
			OutputTokens:             current.Usage.OutputTokens - last.Usage.OutputTokens,
			CacheCreationInputTokens: current.Usage.CacheCreationInputTokens - last.Usage.CacheCreationInputTokens,
			CacheReadInputTokens:     current.Usage.CacheReadInputTokens - last.Usage.CacheReadInputTokens,
		},
		Cost: metrics.Cost{
			InputCost:         current.Cost.InputCost - last.Cost.InputCost,
			OutputCost:        current.Cost.OutputCost - last.Cost.OutputCost,
			CacheCreationCost: current.Cost.CacheCreationCost - last.Cost.CacheCreationCost,
			CacheReadCost:     current.Cost.CacheReadCost - last.Cost.CacheReadCost,
		},
		MessageCount:      current.MessageCount - last.MessageCount,
		ConversationCount: current.ConversationCount - last.ConversationCount,
	}
}

func isZeroWriteEvent(e metrics.WriteEvent) bool {
	return e.Usage == (metrics.Usage{}) && e.Cost == (metrics.Cost{}) &&
		e.MessageCount == 0 && e.ConversationCount == 0
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// credentialKey derives the 32-byte AES-256-GCM key from
// CCO_CREDENTIAL_KEY: the value's bytes are truncated or zero-padded to
// 32 bytes, so an unset variable yields an all-zero key.
func credentialKey() []byte {
	raw := os.Getenv("CCO_CREDENTIAL_KEY")
	key := make([]byte, 32)
	copy(key, raw)
	return key
}
