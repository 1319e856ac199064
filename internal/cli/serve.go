package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"docchat/internal/api"
	"docchat/internal/logging"
	"docchat/internal/service/conversation"
	"docchat/internal/service/orphan"
	"docchat/internal/worker"
)

func newServeCmd(root *rootOptions) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				root.cfg.BasicConfig.ServerAddress = addr
			}
			return runServe(cmd.Context(), root)
		},
	}
	cmd.Flags().StringVarP(&addr, "addr", "a", "", "Listen address (overrides config)")
	return cmd
}

func runServe(parent context.Context, root *rootOptions) error {
	cfg := root.cfg
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	prov, err := newProvider(cfg)
	if err != nil {
		return err
	}
	ledger, db, err := openLedger(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	workers := worker.NewManager(worker.Config{
		QueueSize:   cfg.BasicConfig.QueueSize,
		IdleTimeout: cfg.WorkerIdleTimeout(),
	})
	defer workers.Stop()

	store, closeStore, err := openStore(ctx, cfg, workers.Purge)
	if err != nil {
		return err
	}
	defer closeStore()

	svc := conversation.NewService(prov, store, ledger, conversation.OptionsFromConfig(cfg))
	if prov != nil {
		orphan.NewSweeper(ledger, prov).Start(ctx, cfg.SweepInterval())
	}

	router := gin.New()
	router.Use(gin.Recovery(), api.RequestLogger())
	api.NewHandler(svc, workers, cfg.BasicConfig.MaxUploadBytes).RegisterRoutes(router)

	srv := &http.Server{
		Addr:              cfg.BasicConfig.ServerAddress,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", srv.Addr).Str("session_store", cfg.BasicConfig.SessionStore).
			Bool("api_key_set", svc.Configured()).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logging.Info().Msg("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logging.Error().Err(err).Msg("server shutdown")
	}
	logging.Info().Msg("server stopped")
	return nil
}
