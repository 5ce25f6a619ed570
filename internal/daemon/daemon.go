package daemon

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/allaspectsdev/mlxd/internal/auth"
	"github.com/allaspectsdev/mlxd/internal/cache"
	"github.com/allaspectsdev/mlxd/internal/config"
	"github.com/allaspectsdev/mlxd/internal/generate"
	"github.com/allaspectsdev/mlxd/internal/httpapi"
	"github.com/allaspectsdev/mlxd/internal/metrics"
	"github.com/allaspectsdev/mlxd/internal/model"
	"github.com/allaspectsdev/mlxd/internal/store"
	"github.com/allaspectsdev/mlxd/internal/tracing"
	"github.com/allaspectsdev/mlxd/internal/version"
)

// Run is the main daemon orchestrator: it initializes the store, the
// metrics collector, the prefix-KV cache, the generation coordinator,
// and both HTTP surfaces (the OpenAI-compatible httpapi.Server and the
// JSON status/metrics metrics.StatusServer), then blocks until a
// shutdown signal is received.
func Run(cfg *config.Config, foreground bool) error {
	// 1. Set up zerolog logger.
	dataDir := expandHome(cfg.Server.DataDir)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("creating data directory %s: %w", dataDir, err)
	}

	logLevel := parseLogLevel(cfg.Server.LogLevel)
	zerolog.SetGlobalLevel(logLevel)

	writers := []io.Writer{}

	logPath := filepath.Join(dataDir, "mlxd.log")
	logFile, err := os.OpenFile(logPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("opening log file %s: %w", logPath, err)
	}
	defer logFile.Close()
	writers = append(writers, logFile)

	if foreground {
		consoleWriter := zerolog.ConsoleWriter{
			Out:        os.Stdout,
			TimeFormat: "15:04:05",
		}
		writers = append(writers, consoleWriter)
	}

	multi := zerolog.MultiLevelWriter(writers...)
	log.Logger = zerolog.New(multi).With().Timestamp().Str("service", "mlxd").Logger()

	log.Info().
		Str("version", version.Version).
		Str("data_dir", dataDir).
		Bool("foreground", foreground).
		Msg("mlxd starting")

	// 2. Check if already running.
	if IsRunning(dataDir) {
		return fmt.Errorf("mlxd is already running (run file exists at %s)", runPath(dataDir))
	}

	// 3. Open store.
	dbPath := filepath.Join(dataDir, "mlxd.db")
	st, err := store.Open(dbPath)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}
	defer st.Close()

	log.Info().Str("db_path", dbPath).Msg("store opened")

	// 4. Create metrics collector.
	collector := metrics.NewCollector()

	// 5. Write PID file.
	if err := WritePID(dataDir); err != nil {
		return fmt.Errorf("writing PID file: %w", err)
	}
	defer func() {
		if err := RemovePID(dataDir); err != nil {
			log.Error().Err(err).Msg("failed to remove PID file")
		}
	}()

	log.Info().Int("pid", os.Getpid()).Msg("PID file written")

	// 6. Start config watcher.
	configFile := config.ConfigFilePath()
	if configFile == "" {
		configFile = filepath.Join(dataDir, config.DefaultConfigFilename)
	}

	var watcher *config.Watcher
	if _, statErr := os.Stat(configFile); statErr == nil {
		w, watchErr := config.Watch(configFile)
		if watchErr != nil {
			log.Warn().Err(watchErr).Msg("failed to start config watcher; continuing without hot-reload")
		} else {
			watcher = w
			defer watcher.Close()
			watcher.OnChange(func(ch config.Change) {
				if ch.Changed("server") {
					zerolog.SetGlobalLevel(parseLogLevel(ch.New.Server.LogLevel))
				}
				if ch.Changed("generation") || ch.Changed("model") || ch.Changed("cache") {
					log.Warn().Msg("generation/model/cache changes require a restart to take effect")
				}
			})
			log.Info().Str("file", configFile).Msg("config watcher started")
		}
	}

	// 7. Start periodic data pruning.
	pruneCtx, pruneCancel := context.WithCancel(context.Background())
	defer pruneCancel()
	prunerDone := make(chan struct{})
	go func() {
		defer close(prunerDone)
		runPruner(pruneCtx, st, cfg.Metrics.RetentionDays)
	}()

	// 8. Optional OpenTelemetry tracing.
	var tracingShutdown func(context.Context) error
	if cfg.Tracing.Enabled {
		shutdown, tErr := tracing.Init(context.Background(), tracing.Config{
			ServiceName: cfg.Tracing.ServiceName,
			Version:     version.Version,
			Exporter:    cfg.Tracing.Exporter,
			Endpoint:    cfg.Tracing.Endpoint,
			SampleRate:  cfg.Tracing.SampleRate,
			Insecure:    cfg.Tracing.Insecure,
			ServedModel: cfg.Model.ID,
		})
		if tErr != nil {
			log.Warn().Err(tErr).Msg("failed to initialize tracing; continuing without it")
		} else {
			tracingShutdown = shutdown
			log.Info().Str("exporter", cfg.Tracing.Exporter).Msg("tracing initialized")
		}
	}

	// ---------------------------------------------------------------
	// 9. Wire up the generation core.
	// ---------------------------------------------------------------

	// 9a. Model/tokenizer handle. The real MLX forward pass and weight
	// loading belong to an external backend; EchoModel is a
	// deterministic stand-in so the server is runnable end to end.
	// Swapping in a real backend means constructing it here instead.
	mdl := model.NewEchoModel()
	tok := model.ByteTokenizer{}

	cacheMgr, err := cache.NewManager(cache.Config{
		MaxTokens:       cfg.Cache.MaxTokens,
		TTL:             time.Duration(cfg.Cache.TTLSeconds) * time.Second,
		GenerationSlots: cfg.Cache.GenerationSlots,
		Store:           st,
	})
	if err != nil {
		return fmt.Errorf("creating cache manager: %w", err)
	}
	defer cacheMgr.Close()

	purgerDone := cacheMgr.StartPurger(pruneCtx)

	coord := &generate.Coordinator{
		Model:          mdl,
		Tokenizer:      tok,
		Cache:          cacheMgr,
		Metrics:        collector,
		Logger:         st,
		ModelID:        cfg.Model.ID,
		Defaults:       cfg.Generation,
		IterConfig:     generate.IteratorConfig{PrefillStepSize: cfg.Model.PrefillStepSize, CompactEvery: cfg.Model.CompactEvery},
		MaxQueueDepth:  cfg.Server.MaxQueueDepth,
		RequestTimeout: cfg.Server.RequestTimeoutDuration(),
	}

	authToken := ""
	if cfg.Auth.Enabled {
		authToken = auth.Resolve(cfg.Auth.Token)
		if authToken == "" {
			log.Warn().Msg("auth enabled but no bearer token is configured; every request will be rejected")
		}
	}

	httpOpts := httpapi.ServerConfigFromApp(cfg, coord, authToken)
	httpSrv := httpapi.NewServer(httpOpts)

	errCh := make(chan error, 2)

	go func() {
		if cfg.Server.TLSEnabled {
			log.Info().Str("addr", httpOpts.Addr).Msg("inference server starting (TLS)")
			if err := httpSrv.StartTLS(cfg.Server.CertFile, cfg.Server.KeyFile); err != nil {
				errCh <- fmt.Errorf("inference server: %w", err)
			}
		} else {
			log.Info().Str("addr", httpOpts.Addr).Msg("inference server starting")
			if err := httpSrv.Start(); err != nil {
				errCh <- fmt.Errorf("inference server: %w", err)
			}
		}
	}()

	// 10. Status/metrics server (separate port; loopback by default).
	statusAddr := fmt.Sprintf("%s:%d", cfg.Server.BindAddress, cfg.Server.Port+1)
	statusSrv := metrics.NewStatusServer(collector, st, cfg, statusAddr)
	go func() {
		log.Info().Str("addr", statusAddr).Msg("status server starting")
		if err := statusSrv.Start(); err != nil {
			errCh <- fmt.Errorf("status server: %w", err)
		}
	}()

	log.Info().
		Str("model", cfg.Model.ID).
		Int("port", cfg.Server.Port).
		Int("status_port", cfg.Server.Port+1).
		Bool("tls", cfg.Server.TLSEnabled).
		Msg("mlxd is ready")

	if foreground {
		scheme := "http"
		if cfg.Server.TLSEnabled {
			scheme = "https"
		}
		fmt.Printf("\n  mlxd is running!\n")
		fmt.Printf("  Inference: %s://localhost:%d\n", scheme, cfg.Server.Port)
		fmt.Printf("  Status:    http://localhost:%d\n\n", cfg.Server.Port+1)
	}

	// 11. Wait for shutdown signal or fatal error.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutdown signal received")
	case err := <-errCh:
		log.Error().Err(err).Msg("fatal server error")
		return err
	}

	// 12. Graceful shutdown with 30-second timeout.
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	log.Info().Msg("shutting down servers...")

	if err := statusSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("status server shutdown error")
	}
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("inference server shutdown error")
	}
	if tracingShutdown != nil {
		if err := tracingShutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("tracing shutdown error")
		}
	}

	// 13. Clean up -- wait for background goroutines before closing the store.
	pruneCancel()
	<-purgerDone
	<-prunerDone
	st.Close()
	if err := RemovePID(dataDir); err != nil {
		log.Error().Err(err).Msg("failed to remove PID file during shutdown")
	}

	log.Info().Msg("mlxd stopped")
	return nil
}

// Stop reads the PID file and sends SIGTERM to the running daemon.
func Stop() error {
	dataDir := expandHome(config.Get().Server.DataDir)

	pid, err := ReadPID(dataDir)
	if err != nil {
		return fmt.Errorf("mlxd does not appear to be running: %w", err)
	}

	if !isProcessAlive(pid) {
		if rmErr := RemovePID(dataDir); rmErr != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to remove stale PID file: %v\n", rmErr)
		}
		return fmt.Errorf("mlxd is not running (stale PID file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("finding process %d: %w", pid, err)
	}

	if err := process.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("sending SIGTERM to process %d: %w", pid, err)
	}

	fmt.Printf("Sent SIGTERM to mlxd (PID %d)\n", pid)

	for i := 0; i < 30; i++ {
		time.Sleep(100 * time.Millisecond)
		if !isProcessAlive(pid) {
			return nil
		}
	}

	return nil
}

// Status checks if the daemon is running and prints a summary fetched
// from the status server's /api/stats.
func Status() error {
	cfg := config.Get()
	dataDir := expandHome(cfg.Server.DataDir)

	if !IsRunning(dataDir) {
		fmt.Println("mlxd is not running")
		return nil
	}

	if info, err := ReadRunInfo(dataDir); err == nil {
		fmt.Printf("mlxd %s is running (PID %d, started %s)\n", info.Version, info.PID, info.StartedAt)
	} else {
		fmt.Println("mlxd is running")
	}

	statsURL := fmt.Sprintf("http://localhost:%d/api/stats", cfg.Server.Port+1)
	client := &http.Client{Timeout: 3 * time.Second}

	resp, err := client.Get(statsURL)
	if err != nil {
		fmt.Println("  (status server unreachable)")
		return nil
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil
	}

	var stats metrics.Stats
	if err := json.Unmarshal(body, &stats); err != nil {
		return nil
	}

	fmt.Printf("\n  Uptime:            %s\n", stats.Uptime)
	fmt.Printf("  Total Requests:    %d\n", stats.TotalRequests)
	fmt.Printf("  Prompt Tokens:     %d\n", stats.PromptTokens)
	fmt.Printf("  Completion Tokens: %d\n", stats.CompletionTokens)
	fmt.Printf("  Cached Tokens:     %d\n", stats.CachedTokens)
	fmt.Printf("  Cache Hits/Misses: %d / %d\n", stats.CacheHits, stats.CacheMisses)
	fmt.Printf("  Active:            %d\n", stats.ActiveRequests)

	return nil
}

// runPruner periodically prunes old data from the store.
func runPruner(ctx context.Context, st *store.Store, retentionDays int) {
	if retentionDays <= 0 {
		return
	}

	ticker := time.NewTicker(1 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			func() {
				defer func() {
					if r := recover(); r != nil {
						log.Error().Interface("panic", r).Msg("data pruner: recovered from panic")
					}
				}()
				n, err := st.Prune(retentionDays)
				if err != nil {
					log.Error().Err(err).Msg("data pruning failed")
				} else if n > 0 {
					log.Info().Int64("rows", n).Int("retention_days", retentionDays).Msg("pruned old data")
				}
			}()
		}
	}
}

// parseLogLevel converts a string log level to a zerolog.Level.
func parseLogLevel(level string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "info":
		return zerolog.InfoLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "fatal":
		return zerolog.FatalLevel
	default:
		return zerolog.InfoLevel
	}
}

// expandHome replaces a leading ~ with the user's home directory.
func expandHome(path string) string {
	if !strings.HasPrefix(path, "~") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, path[1:])
}
