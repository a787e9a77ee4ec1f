package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log"
	"net/http"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"rapidclip/config"
	"rapidclip/httpServer"
	"rapidclip/internal/auth"
	"rapidclip/internal/metrics"
	"rapidclip/internal/probe"
	"rapidclip/internal/snapshotter"
	"rapidclip/internal/sourcemanager"
	"rapidclip/internal/storage"
)

func newServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		Long: `Run the HTTP API. Configuration comes from the environment
(HTTP_ADDR, STORAGE_TYPE, STORAGE_DIR, SQLITE_PATH, GCS_*, SNAPSHOT_MAX_REVISIONS,
SUBSCRIBER_BUFFER, PREPARE_TIMEOUT, MAX_SOURCES, *_TOKEN_EXPIRATION).`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
				cfg.HTTPAddr = addr
			}
			preload, _ := cmd.Flags().GetStringToString("preload")

			var tokenOut io.Writer
			if printTokens, _ := cmd.Flags().GetBool("print-tokens"); printTokens {
				tokenOut = cmd.OutOrStdout()
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			return serve(ctx, cfg, preload, tokenOut)
		},
	}

	serveCmd.Flags().String("addr", "", "HTTP listen address (overrides HTTP_ADDR)")
	serveCmd.Flags().StringToString("preload", nil, "Sources to register from media files, as key=path")
	serveCmd.Flags().Bool("print-tokens", false, "Print the publish tokens of preloaded sources to stdout")

	return serveCmd
}

func serve(ctx context.Context, cfg *config.Config, preload map[string]string, tokenOut io.Writer) error {
	log.Println("Starting RapidClip Server...")
	log.Printf("HTTP Server: %s", cfg.HTTPAddr)

	// Initialize storage
	storageBackend, err := openStorage(ctx, cfg)
	if err != nil {
		return err
	}
	if closer, ok := storageBackend.(io.Closer); ok {
		defer closer.Close()
	}

	// Initialize metrics
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)
	log.Println("Prometheus metrics initialized")

	// Initialize managers
	sourceManager := sourcemanager.New(m, cfg.MaxSources)
	authManager := auth.New(cfg.DefaultTokenExpiration, cfg.MaxTokenExpiration)
	go authManager.RunCleanup(ctx, time.Minute)
	log.Println("Source manager and auth manager initialized")

	// Initialize snapshotter
	snap := snapshotter.New(storageBackend, sourceManager, cfg.SnapshotMaxRevisions, cfg.SubscriberBuffer, m)
	log.Printf("Snapshotter initialized (keeping %d revisions)", cfg.SnapshotMaxRevisions)

	if err := preloadSources(sourceManager, authManager, snap, preload, tokenOut); err != nil {
		return err
	}

	// Initialize HTTP server
	httpSrv := httpServer.New(sourceManager, authManager, snap, m, reg, httpServer.Options{
		SubscriberBuffer: cfg.SubscriberBuffer,
		PrepareTimeout:   cfg.PrepareTimeout,
	})
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           httpSrv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	log.Println("RapidClip server started successfully")
	log.Println("---")
	log.Println("API Endpoints:")
	log.Println("  GET    /api/ping")
	log.Println("  GET    /metrics")
	log.Println("  POST   /api/v1/clip")
	log.Println("  POST   /api/v1/sources")
	log.Println("  GET    /api/v1/sources")
	log.Println("  GET    /api/v1/sources/:key")
	log.Println("  DELETE /api/v1/sources/:key")
	log.Println("  POST   /api/v1/sources/:key/clip")
	log.Println("  GET    /api/v1/sources/:key/timeline")
	log.Println("  PUT    /api/v1/sources/:key/timeline?token=")
	log.Println("  GET    /api/v1/sources/:key/navigation")
	log.Println("  GET    /api/v1/sources/:key/snapshots[/:rev]")
	log.Println("---")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server failed: %w", err)
	case <-ctx.Done():
	}

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("HTTP server shutdown: %w", err)
	}
	return nil
}

// openStorage builds the snapshot backend named by cfg.StorageType
func openStorage(ctx context.Context, cfg *config.Config) (storage.Storage, error) {
	switch cfg.StorageType {
	case config.StorageGCS:
		gcsStorage, err := storage.NewGCSStorage(ctx, cfg.GCSProjectID, cfg.GCSBucketName, cfg.GCSBaseDir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize GCS storage: %w", err)
		}
		log.Printf("Storage initialized: GCS bucket=%s, project=%s, baseDir=%s",
			cfg.GCSBucketName, cfg.GCSProjectID, cfg.GCSBaseDir)
		return gcsStorage, nil

	case config.StorageSQLite:
		sqliteStorage, err := storage.NewSQLiteStorage(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize sqlite storage: %w", err)
		}
		log.Printf("Storage initialized: SQLite database=%s", cfg.SQLitePath)
		return sqliteStorage, nil

	default:
		localStorage, err := storage.NewLocalStorage(cfg.StorageDir)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize local storage: %w", err)
		}
		log.Printf("Storage initialized: Local directory=%s", cfg.StorageDir)
		return localStorage, nil
	}
}

// preloadSources registers one prepared source per media file. Publish tokens
// are written to tokenOut as "key<TAB>token<TAB>expiry" lines when it is set.
func preloadSources(sm *sourcemanager.Manager, am *auth.Manager, snap *snapshotter.Snapshotter, files map[string]string, tokenOut io.Writer) error {
	keys := make([]string, 0, len(files))
	for key := range files {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	for _, key := range keys {
		path := files[key]
		timeline, err := probe.ProbeFile(path)
		if err != nil {
			return fmt.Errorf("failed to preload %s: %w", key, err)
		}

		if _, err := sm.CreateSource(key); err != nil {
			return fmt.Errorf("failed to preload %s: %w", key, err)
		}
		if err := snap.StartTracking(key); err != nil {
			log.Printf("Failed to start snapshots for source %s: %v", key, err)
		}
		if err := sm.PublishTimeline(key, timeline); err != nil {
			return fmt.Errorf("failed to preload %s: %w", key, err)
		}

		token, err := am.GenerateSourceToken(key, 0)
		if err != nil {
			return fmt.Errorf("failed to preload %s: %w", key, err)
		}
		log.Printf("Preloaded source %s from %s (token expires %s)", key, path, token.ExpiresAt.Format(time.RFC3339))
		if tokenOut != nil {
			fmt.Fprintf(tokenOut, "%s\t%s\t%s\n", key, token.Token, token.ExpiresAt.Format(time.RFC3339))
		}
	}
	return nil
}
