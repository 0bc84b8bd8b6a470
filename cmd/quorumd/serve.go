package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/collapsinghierarchy/quorum/config"
	"github.com/collapsinghierarchy/quorum/handler"
	"github.com/collapsinghierarchy/quorum/routes"
	"github.com/collapsinghierarchy/quorum/service"
	"github.com/collapsinghierarchy/quorum/store"
	"github.com/collapsinghierarchy/quorum/store/gormstore"
	"github.com/collapsinghierarchy/quorum/store/memory"
	"github.com/collapsinghierarchy/quorum/store/postgres"
)

func serveCommand() *cobra.Command {
	var listen, backend string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("listen") {
				cfg.ListenAddr = listen
			}
			if cmd.Flags().Changed("store") {
				cfg.StoreBackend = backend
				if err := cfg.Validate(); err != nil {
					return err
				}
			}
			return serveRun(cmd.Context(), cfg, commonRun(cfg.Debug))
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&backend, "store", "", "store backend: memory, postgres, sqlite or mysql")
	return cmd
}

func openStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.StoreBackend {
	case config.BackendMemory:
		logger.Warn("using the in-memory store; state is lost on exit")
		return memory.New(), nil
	case config.BackendPostgres:
		connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		pool, err := pgxpool.New(connectCtx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("pgxpool.New: %w", err)
		}
		if err := pool.Ping(connectCtx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		if err := postgres.Migrate(connectCtx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("postgres migrate: %w", err)
		}
		return postgres.NewStore(pool, logger), nil
	case config.BackendSQLite:
		return gormstore.OpenSQLite(cfg.DataDir, logger)
	case config.BackendMySQL:
		return gormstore.OpenMySQL(cfg.DatabaseURL, logger)
	}
	return nil, fmt.Errorf("unknown store backend %q", cfg.StoreBackend)
}

func serveRun(parent context.Context, cfg *config.Config, logger *slog.Logger) error {
	if cfg.JWTSecret == "" {
		return errors.New("jwtSecret is required to serve the API")
	}
	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer st.Close()

	escrowKey, err := cfg.EscrowKey()
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	svc := service.New(st, service.Options{
		Roles: service.Roles{
			Owner:       cfg.OwnerAddress(),
			Coordinator: cfg.CoordinatorAddress(),
		},
		VotingWindow:  cfg.VotingWindow,
		MaxSealedSalt: cfg.MaxSealedSalt,
		EscrowKid:     cfg.EscrowKid,
		EscrowKey:     escrowKey,
		Logger:        logger,
		Registerer:    reg,
	})
	opts := routes.Options{
		Logger: logger,
		Auth:   handler.NewAuthenticator([]byte(cfg.JWTSecret)),
	}
	if cfg.MetricsEnabled {
		opts.Metrics = reg
	}

	srv := &http.Server{
		Addr:         cfg.ListenAddr,
		Handler:      routes.SetupRoutes(svc, opts),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logger.Info("listening",
			"addr", cfg.ListenAddr,
			"store", cfg.StoreBackend,
			"voting_window", cfg.VotingWindow.String(),
		)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ListenAndServe: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	return nil
}
