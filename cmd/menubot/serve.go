package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"

	"github.com/menubot/menubot/internal/channel"
	"github.com/menubot/menubot/internal/config"
	"github.com/menubot/menubot/internal/db"
	"github.com/menubot/menubot/internal/dispatch"
	"github.com/menubot/menubot/internal/handlers"
	"github.com/menubot/menubot/internal/keyboard"
	"github.com/menubot/menubot/internal/logger"
	"github.com/menubot/menubot/internal/mailing"
	"github.com/menubot/menubot/internal/messenger"
	"github.com/menubot/menubot/internal/messenger/telegram"
	"github.com/menubot/menubot/internal/messenger/viber"
	"github.com/menubot/menubot/internal/server"
	"github.com/menubot/menubot/internal/subscriber"
)

func runServe() {
	fx.New(
		fx.Provide(
			provideConfig,
			provideLogger,
			provideDBConn,
			channel.NewStore,
			keyboard.NewStore,
			keyboard.NewFileIDs,
			subscriber.NewStore,
			mailing.NewStore,
			provideResolver,
			provideRegistry,
			provideDispatcher,
			provideProcessor,
			provideFanout,
			mailing.NewScheduler,
			provideServerHandler(providePingHandler),
			provideServerHandler(provideWebhookHandler),
			provideServerHandler(provideMailingHandler),
			provideServerHandler(provideWebhookAdminHandler),
			provideServer,
		),
		fx.Invoke(
			startScheduler,
			startServer,
		),
		fx.WithLogger(func(logger *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: logger.With(slog.String("component", "fx"))}
		}),
	).Run()
}

func provideServerHandler(fn any) any {
	return fx.Annotate(
		fn,
		fx.As(new(server.Handler)),
		fx.ResultTags(`group:"server_handlers"`),
	)
}

func provideConfig() (config.Config, error) {
	return loadConfig()
}

func provideLogger(cfg config.Config) *slog.Logger {
	logger.Init(cfg.Log.Level, cfg.Log.Format)
	return logger.L
}

func provideDBConn(lc fx.Lifecycle, cfg config.Config) (*pgxpool.Pool, error) {
	conn, err := db.Open(context.Background(), cfg.Postgres)
	if err != nil {
		return nil, fmt.Errorf("db connect: %w", err)
	}
	lc.Append(fx.Hook{OnStop: func(ctx context.Context) error { conn.Close(); return nil }})
	return conn, nil
}

func provideResolver(log *slog.Logger, store *keyboard.Store) *keyboard.Resolver {
	return keyboard.NewResolver(log, store)
}

func provideRegistry(log *slog.Logger, fileIDs *keyboard.FileIDs, subscribers *subscriber.Store) *messenger.Registry {
	registry := messenger.NewRegistry()
	registry.MustRegister(telegram.NewGateway(log, fileIDs, subscribers), telegram.NewNormalizer())
	registry.MustRegister(viber.NewGateway(log), viber.NewNormalizer())
	return registry
}

func provideDispatcher(log *slog.Logger, cfg config.Config, store *keyboard.Store) *dispatch.Dispatcher {
	return dispatch.NewDispatcher(log, store, cfg.Media.Root, cfg.Media.PublicBaseURL)
}

func provideProcessor(
	log *slog.Logger,
	cfg config.Config,
	registry *messenger.Registry,
	channels *channel.Store,
	subscribers *subscriber.Store,
	resolver *keyboard.Resolver,
	dispatcher *dispatch.Dispatcher,
) *dispatch.Processor {
	return dispatch.NewProcessor(log, registry, channels, subscribers, resolver, dispatcher, cfg.Archive.SaveMessages)
}

func provideFanout(
	log *slog.Logger,
	store *mailing.Store,
	subscribers *subscriber.Store,
	channels *channel.Store,
	keyboards *keyboard.Store,
	registry *messenger.Registry,
	dispatcher *dispatch.Dispatcher,
) *mailing.Fanout {
	return mailing.NewFanout(log, store, subscribers, channels, keyboards, registry, dispatcher)
}

func providePingHandler(log *slog.Logger) *handlers.PingHandler {
	return handlers.NewPingHandler(log)
}

func provideWebhookHandler(log *slog.Logger, processor *dispatch.Processor) *handlers.WebhookHandler {
	return handlers.NewWebhookHandler(log, processor)
}

func provideMailingHandler(log *slog.Logger, store *mailing.Store, fanout *mailing.Fanout, channels *channel.Store) *handlers.MailingHandler {
	return handlers.NewMailingHandler(log, store, fanout, channels)
}

func provideWebhookAdminHandler(log *slog.Logger, cfg config.Config, channels *channel.Store, registry *messenger.Registry) *handlers.WebhookAdminHandler {
	return handlers.NewWebhookAdminHandler(log, channels, registry, cfg.Webhook.PublicHost)
}

type serverParams struct {
	fx.In
	Logger   *slog.Logger
	Config   config.Config
	Handlers []server.Handler `group:"server_handlers"`
}

func provideServer(params serverParams) *server.Server {
	return server.NewServer(params.Logger, params.Config.Server.Addr, params.Config.Auth.JWTSecret, params.Handlers)
}

func startScheduler(lc fx.Lifecycle, scheduler *mailing.Scheduler) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error { return scheduler.Start() },
		OnStop:  func(ctx context.Context) error { scheduler.Stop(); return nil },
	})
}

func startServer(lc fx.Lifecycle, log *slog.Logger, srv *server.Server, shutdowner fx.Shutdowner) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			go func() {
				if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error("server failed", slog.Any("error", err))
					_ = shutdowner.Shutdown()
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			if err := srv.Stop(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("server stop: %w", err)
			}
			return nil
		},
	})
}
