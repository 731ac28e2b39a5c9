package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/dunamismax/avatarcrop/internal/api"
	"github.com/dunamismax/avatarcrop/internal/domain"
	"github.com/dunamismax/avatarcrop/internal/pipeline"
	"github.com/dunamismax/avatarcrop/internal/ratelimit"
	"github.com/dunamismax/avatarcrop/internal/store"
	"github.com/dunamismax/avatarcrop/internal/upload"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
)

func newServeCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the loopback control API for the avatar picker UI",
		Example: `  avatarcrop serve
  avatarcrop serve --addr 127.0.0.1:9000`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(cmd.Context(), "api")
			if err != nil {
				return err
			}
			defer a.close()

			if addr == "" {
				addr = a.cfg.API.Addr
			}

			upCfg := a.cfg.UploadConfig()
			filesDir := ""
			if upCfg.Backend == "" || upCfg.Backend == upload.BackendLocal {
				filesDir = upCfg.LocalDir
				if upCfg.LocalBaseURL == "" {
					upCfg.LocalBaseURL = fmt.Sprintf("http://%s/files", addr)
				}
			}
			uploader, err := upload.New(cmd.Context(), upCfg)
			if err != nil {
				return err
			}

			limiter, err := newRateLimiter(cmd.Context(), a)
			if err != nil {
				return err
			}

			strategy, err := pipeline.ParseCropStrategy(a.cfg.Normalize.SuggestCrop)
			if err != nil {
				return err
			}

			srv := api.NewServer(a.logger, a.newSession(uploader), a.avatars, api.Config{
				UserID:         a.cfg.Profile.UserID,
				SpoolDir:       a.cfg.API.SpoolDir,
				FilesDir:       filesDir,
				MaxSourceBytes: a.cfg.API.MaxSourceBytes,
				Cropper:        domain.DefaultCropperConfig(),
				SuggestCrop:    strategy,
				Registry:       a.registry,
				Tracer:         otel.Tracer("avatarcrop/api"),
				RateLimiter:    limiter,
			})

			httpServer := &http.Server{
				Addr:              addr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
				WriteTimeout:      2 * time.Minute,
				IdleTimeout:       60 * time.Second,
			}

			serverErr := make(chan error, 1)
			go func() {
				a.logger.Info("listening", "addr", addr, "upload", upCfg.Backend)
				if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErr <- err
				}
			}()

			select {
			case <-cmd.Context().Done():
				a.logger.Info("shutting down")
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()
				if err := httpServer.Shutdown(ctx); err != nil {
					return fmt.Errorf("graceful shutdown: %w", err)
				}
				return nil
			case err := <-serverErr:
				return err
			}
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "Listen address (default AVATARCROP_ADDR or 127.0.0.1:8787)")
	return cmd
}

// newRateLimiter returns nil when upload throttling is off.
func newRateLimiter(ctx context.Context, a *app) (api.RateLimiter, error) {
	if a.cfg.RateLimit.Uploads <= 0 {
		return nil, nil
	}

	client, err := store.NewRedisClient(ctx, a.cfg.Store.RedisURL)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func(context.Context) error { return client.Close() })

	bucket, err := ratelimit.NewRedisTokenBucket(client, a.cfg.RateLimit.Uploads, a.cfg.RateLimit.Window, "")
	if err != nil {
		return nil, err
	}
	return bucket, nil
}
