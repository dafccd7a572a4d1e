package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"caseload/api/internal/app"
	"caseload/api/internal/config"
	"caseload/api/internal/logging"
	"caseload/api/internal/session"
	"caseload/api/internal/store"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	if err := rootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// cli carries what every subcommand shares once configuration is loaded.
type cli struct {
	cfg config.Config
	log *zap.Logger
}

func rootCommand() *cobra.Command {
	rt := &cli{}

	rootCmd := &cobra.Command{
		Use:           "caseload-api",
		Short:         "Caseload API server",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			logger, err := logging.New(cfg.LogLevel, cfg.LogFormat, "caseload-api")
			if err != nil {
				return err
			}
			rt.cfg = cfg
			rt.log = logger
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if rt.log != nil {
				_ = rt.log.Sync()
			}
		},
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			return rt.serve(cmd.Context())
		},
	}
	rootCmd.RunE = serveCmd.RunE

	migrateCmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations and exit",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := rt.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()
			return nil
		},
	}

	var claimUserID int64
	claimCmd := &cobra.Command{
		Use:   "claim-orphans",
		Short: "Assign every student without an owner to one user",
		RunE: func(cmd *cobra.Command, args []string) error {
			if claimUserID <= 0 {
				return errors.New("--user-id is required")
			}
			db, err := rt.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer db.Close()

			sessions := session.NewMemoryStore(rt.cfg.SessionTTL)
			defer sessions.Close()
			service := app.New(rt.cfg, db, sessions, rt.log)
			claimed, err := service.ClaimOrphans(cmd.Context(), claimUserID)
			if err != nil {
				return err
			}
			rt.log.Info("orphan students claimed", zap.Int64("user_id", claimUserID), zap.Int64("students", claimed))
			return nil
		},
	}
	claimCmd.Flags().Int64Var(&claimUserID, "user-id", 0, "user that receives the unowned students")

	rootCmd.AddCommand(serveCmd, migrateCmd, claimCmd)
	return rootCmd
}

// openStore connects to the configured database and brings its schema up to
// date.
func (rt *cli) openStore(ctx context.Context) (*store.Store, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := prepareDatabase(rt.cfg.DatabaseDriver, rt.cfg.DatabaseURL); err != nil {
		return nil, err
	}

	db, err := store.Open(ctx, store.Options{
		Driver:      rt.cfg.DatabaseDriver,
		URL:         rt.cfg.DatabaseURL,
		BusyTimeout: rt.cfg.BusyTimeout,
		Logger:      rt.log.Named("store"),
	})
	if err != nil {
		return nil, fmt.Errorf("database connection failed: %w", err)
	}
	if err := store.ApplyMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrations failed: %w", err)
	}
	return db, nil
}

func (rt *cli) serve(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	db, err := rt.openStore(ctx)
	if err != nil {
		return err
	}
	defer db.Close()

	var sessions session.Store
	if strings.TrimSpace(rt.cfg.RedisURL) != "" {
		rt.log.Info("using redis for session storage")
		redisStore, err := session.NewRedisStore(rt.cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		sessions = redisStore
	} else {
		rt.log.Info("using in-process session storage")
		sessions = session.NewMemoryStore(rt.cfg.SessionTTL)
	}
	defer sessions.Close()

	service := app.New(rt.cfg, db, sessions, rt.log)
	httpServer := app.NewHTTPServer(service, rt.cfg.CORSOrigin, rt.log.Named("http"))
	server := &http.Server{
		Addr:              rt.cfg.Addr,
		Handler:           httpServer.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		rt.log.Info("caseload api listening", zap.String("addr", rt.cfg.Addr), zap.String("driver", rt.cfg.DatabaseDriver))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	select {
	case err, ok := <-serverErr:
		if ok {
			return fmt.Errorf("server failed: %w", err)
		}
		return nil
	case <-sigCh:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		rt.log.Warn("shutdown error", zap.Error(err))
	}
	return nil
}

// prepareDatabase resolves every driver alias the store accepts, so "sqlite3"
// gets its data directory just like "sqlite".
func prepareDatabase(driver, url string) error {
	dialect, err := store.DialectFor(driver)
	if err != nil {
		return err
	}
	if dialect != store.SQLite {
		return nil
	}
	return ensureSQLiteDir(url)
}

// ensureSQLiteDir creates the directory holding a file: database URL.
func ensureSQLiteDir(url string) error {
	path := strings.TrimPrefix(url, "file:")
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" || path == ":memory:" {
		return nil
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create data dir %s: %w", dir, err)
	}
	return nil
}
