package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/JakeFAU/archive-indexer/internal/api"
	"github.com/JakeFAU/archive-indexer/internal/index"
	"github.com/JakeFAU/archive-indexer/internal/storage/postgres"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serves the JSON search API",
		Long: `Serves ranked chapter search, story lookup and stats over HTTP. A missing
index or an unreachable database disables the routes that need them.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, err := resolveEnv(cmd.Context())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			logger := e.logger

			var (
				searcher api.Searcher
				docs     api.DocumentCounter
				stories  api.StoryReader
			)
			reader, err := index.OpenReader(e.cfg.Index.Path)
			if err != nil {
				logger.Warn("search disabled", zap.Error(err))
			} else {
				defer reader.Close()
				searcher = index.NewSearcher(reader, logger.Named("search"))
				docs = reader
			}
			store, err := postgres.NewStoryStore(ctx, postgres.StoreConfig{
				DSN:      e.cfg.DB.DSN,
				MaxConns: e.cfg.DB.MaxConns,
			})
			if err != nil {
				logger.Warn("story routes disabled", zap.Error(err))
			} else {
				defer store.Close()
				stories = store
			}

			srv := &http.Server{
				Addr:              fmt.Sprintf(":%d", e.cfg.Server.Port),
				Handler:           api.NewServer(searcher, stories, docs, logger.Named("api")).Handler(),
				ReadHeaderTimeout: 5 * time.Second,
			}
			errCh := make(chan error, 1)
			go func() {
				logger.Info("http server listening", zap.String("addr", srv.Addr))
				errCh <- srv.ListenAndServe()
			}()

			select {
			case err := <-errCh:
				if err != nil && !errors.Is(err, http.ErrServerClosed) {
					return fmt.Errorf("http server: %w", err)
				}
				return nil
			case <-ctx.Done():
			}

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				logger.Error("server shutdown error", zap.Error(err))
			}
			return nil
		},
	}
}
