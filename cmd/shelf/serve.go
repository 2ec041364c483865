package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mesh-intelligence/shelf/internal/httpapi"
	"github.com/mesh-intelligence/shelf/pkg/types"
)

// shutdownGrace bounds how long in-flight requests may finish.
const shutdownGrace = 10 * time.Second

var flagListen string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP API",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if cfg.JWTSecret == "" {
			return httpapi.ErrAuthNotEnabled
		}
		if flagListen != "" {
			cfg.ListenAddr = flagListen
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rt, err := openRuntime(ctx, cfg)
		if err != nil {
			return err
		}
		defer rt.Close()

		api := httpapi.NewServer(rt.engine, httpapi.NewAuthenticator(cfg.JWTSecret), rt.logger)
		srv := &http.Server{
			Addr:              cfg.ListenAddr,
			Handler:           api.Router(cfg.AllowedOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}
		return serve(ctx, srv, rt.logger, cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagListen, "listen", "", "listen address (default: listen_addr from config)")
}

// serve runs srv until ctx ends, then drains it.
func serve(ctx context.Context, srv *http.Server, logger *zap.Logger, c types.Config) error {
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening",
			zap.String("addr", srv.Addr),
			zap.String("backend", c.Backend),
			zap.Bool("redis_cache", c.RedisAddr != ""))
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
