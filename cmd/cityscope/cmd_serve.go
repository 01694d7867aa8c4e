package main

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/ajitpratap0/cityscope/internal/api"
	"github.com/ajitpratap0/cityscope/internal/generator"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP/JSON API server and the fresh-content refresher",
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger()
			ctx := cmd.Context()

			st, err := newStore(logger)
			if err != nil {
				return fmt.Errorf("serve: connecting to store: %w", err)
			}
			defer func() { _ = st.Close() }()

			gen, err := newGenerator(ctx, st, logger)
			if err != nil {
				return fmt.Errorf("serve: creating generator: %w", err)
			}
			// Let in-flight runs record their outcome before the store closes.
			defer gen.Wait()

			srv := api.NewServer(st, gen, logger, cfg.API.AuthToken)

			if cfg.API.AuthToken == "" {
				logger.Warn("HTTP API: auth is DISABLED; set CITYSCOPE_API_AUTH_TOKEN or cfg.api.auth_token for production use")
			}

			refresher := generator.NewRefresher(st, gen, logger)
			var refreshWG sync.WaitGroup
			refreshWG.Add(1)
			go func() {
				defer refreshWG.Done()
				refresher.Start(ctx, cfg.Generation.RefreshInterval)
			}()
			// Stop the refresher before the store closes.
			defer refreshWG.Wait()

			httpSrv := &http.Server{
				Addr:              cfg.API.ListenAddr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				ReadTimeout:       30 * time.Second,
				WriteTimeout:      60 * time.Second,
				IdleTimeout:       120 * time.Second,
			}

			errCh := make(chan error, 1)
			go func() {
				logger.Info("HTTP API server starting", "addr", cfg.API.ListenAddr, "store", cfg.Store.Backend, "llm", cfg.LLM.Provider)
				if listenErr := httpSrv.ListenAndServe(); listenErr != nil && listenErr != http.ErrServerClosed {
					errCh <- fmt.Errorf("serve: HTTP server: %w", listenErr)
				}
				close(errCh)
			}()

			select {
			case <-ctx.Done():
				logger.Info("shutting down")
			case startErr := <-errCh:
				if startErr != nil {
					return startErr
				}
				return nil
			}

			const shutdownTimeout = 10 * time.Second
			if shutdownErr := api.Shutdown(httpSrv, shutdownTimeout); shutdownErr != nil {
				return fmt.Errorf("serve: graceful shutdown: %w", shutdownErr)
			}

			// Drain the errCh in case ListenAndServe returned after Shutdown.
			if startErr := <-errCh; startErr != nil {
				return startErr
			}

			return nil
		},
	}
	return cmd
}
