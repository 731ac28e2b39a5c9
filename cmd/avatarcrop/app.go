package main

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/charmbracelet/log"
	"github.com/dunamismax/avatarcrop/internal/config"
	"github.com/dunamismax/avatarcrop/internal/domain"
	"github.com/dunamismax/avatarcrop/internal/pipeline"
	"github.com/dunamismax/avatarcrop/internal/session"
	"github.com/dunamismax/avatarcrop/internal/store"
	"github.com/dunamismax/avatarcrop/internal/telemetry"
	"github.com/dunamismax/avatarcrop/internal/webhook"
	"github.com/prometheus/client_golang/prometheus"
)

// app holds the process-wide dependencies shared by the commands.
type app struct {
	cfg        config.Config
	logger     *log.Logger
	registry   *prometheus.Registry
	normalizer *pipeline.Normalizer
	avatars    store.AvatarStore
	webhook    *webhook.Client
	closers    []func(context.Context) error
}

func newApp(ctx context.Context, component string) (*app, error) {
	cfg := config.Load()
	logger := cfg.Log.NewLogger(os.Stderr).WithPrefix(component)

	if err := pipeline.Startup(); err != nil {
		return nil, err
	}
	a := &app{
		cfg:      cfg,
		logger:   logger,
		registry: prometheus.NewRegistry(),
		webhook:  webhook.NewClient(cfg.WebhookConfig()),
		closers: []func(context.Context) error{
			func(context.Context) error { pipeline.Shutdown(); return nil },
		},
	}

	shutdownTracing, err := telemetry.SetupTracing(ctx, cfg.TraceConfig("avatarcrop-"+component, version), logger)
	if err != nil {
		a.close()
		return nil, err
	}
	a.closers = append(a.closers, shutdownTracing)

	avatars, closeStore, err := store.Open(ctx, cfg.StoreConfig())
	if err != nil {
		a.close()
		return nil, err
	}
	a.avatars = avatars
	a.closers = append(a.closers, func(context.Context) error { return closeStore() })

	a.normalizer = pipeline.NewNormalizer(pipeline.WithLogger(logger.WithPrefix("pipeline")))
	logger.Debug("normalizer ready", "encoder", a.normalizer.EncoderName())
	return a, nil
}

// newSession wires the completion hook: the avatar record is replaced and
// the webhook notified once an upload commits.
func (a *app) newSession(uploader session.Uploader) *session.Session {
	return session.New(a.normalizer, uploader,
		session.WithLogger(a.logger.WithPrefix("session")),
		session.WithRegisterer(a.registry),
		session.WithOnComplete(a.recordAvatar),
	)
}

func (a *app) recordAvatar(ctx context.Context, result domain.UploadResult) {
	avatar := domain.Avatar{
		UserID:    a.cfg.Profile.UserID,
		URL:       result.URL,
		UpdatedAt: time.Now().UTC(),
	}
	if err := a.avatars.Set(ctx, avatar); err != nil {
		a.logger.Error("record avatar failed", "user", avatar.UserID, "err", err)
		return
	}
	if err := a.webhook.NotifyUploaded(ctx, avatar); err != nil {
		a.logger.Warn("avatar webhook failed", "err", err)
	}
}

func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i](ctx))
	}
	return errors.Join(errs...)
}
