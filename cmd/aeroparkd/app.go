package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/SherClockHolmes/webpush-go"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"gorm.io/gorm"

	"aeropark-backend/config"
	"aeropark-backend/internal/api"
	"aeropark-backend/internal/clock"
	"aeropark-backend/internal/db"
	"aeropark-backend/internal/identity"
	"aeropark-backend/internal/ledger"
	"aeropark-backend/internal/logging"
	"aeropark-backend/internal/model"
	"aeropark-backend/internal/mw"
	"aeropark-backend/internal/notification"
	"aeropark-backend/internal/occupancy"
	"aeropark-backend/internal/payment"
	"aeropark-backend/internal/registry"
	"aeropark-backend/internal/scanner"
	"aeropark-backend/internal/store"
)

// newApp assembles the service from cfg.
func newApp(cfg *config.Config) *fx.App {
	return fx.New(
		fx.Supply(cfg),
		fx.WithLogger(func(l *slog.Logger) fxevent.Logger {
			return &fxevent.SlogLogger{Logger: l.With("component", "fx")}
		}),
		fx.Provide(
			func(cfg *config.Config) *slog.Logger { return logging.New(cfg.Log) },
			clock.NewRealClock,
			newDB,
			store.NewGormStore,
			newWebPushOptions,
			notification.NewHub,
			registry.New,
			func(logger *slog.Logger) payment.Gateway { return payment.NewStubGateway(logger) },
			newLedger,
			occupancy.NewProcessor,
			newScanner,
			newPushPool,
			func(cfg *config.Config) *mw.ResponseCache {
				return mw.NewResponseCache(time.Duration(cfg.Server.CacheTTLSeconds) * time.Second)
			},
			func(cfg *config.Config, clk clock.Clock) identity.Verifier {
				return identity.NewJWTVerifier(cfg.Auth.JWTSecret, cfg.Auth.Issuer, clk)
			},
			mw.NewAuth,
			newHandler,
			api.NewRouter,
			newServer,
		),
		fx.Invoke(
			wireHub,
			seed,
			runScanner,
			runPushPool,
			runServer,
		),
	)
}

func newDB(lc fx.Lifecycle, cfg *config.Config, logger *slog.Logger) (*gorm.DB, error) {
	gormDB, err := db.Init(&cfg.Database, gin.Mode() == gin.DebugMode, logger)
	if err != nil {
		return nil, err
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			sqlDB, err := gormDB.DB()
			if err != nil {
				return err
			}
			return sqlDB.Close()
		},
	})
	return gormDB, nil
}

func newWebPushOptions(cfg *config.Config) *webpush.Options {
	return &webpush.Options{
		VAPIDPublicKey:  cfg.Push.PublicKey,
		VAPIDPrivateKey: cfg.Push.PrivateKey,
		Subscriber:      cfg.Push.Subject,
		TTL:             cfg.Push.TTL,
	}
}

func newLedger(s store.Store, reg *registry.Registry, gw payment.Gateway, clk clock.Clock, cfg *config.Config, logger *slog.Logger) *ledger.Ledger {
	return ledger.New(s, reg, gw, clk, ledger.Config{
		HourlyRate:       cfg.Parking.HourlyRate,
		MaxDurationHours: cfg.Parking.MaxDurationHours,
	}, logger)
}

func newScanner(l *ledger.Ledger, reg *registry.Registry, hub *notification.Hub, clk clock.Clock, cfg *config.Config, logger *slog.Logger) *scanner.Service {
	return scanner.NewService(l, reg, hub, clk, cfg.Parking.ScanInterval, logger)
}

func newPushPool(cfg *config.Config, s store.Store, opts *webpush.Options, logger *slog.Logger) *notification.PushPool {
	return notification.NewPushPool(cfg.WorkerPool.Size, s, opts, logger)
}

type handlerParams struct {
	fx.In

	Store     store.Store
	Registry  *registry.Registry
	Ledger    *ledger.Ledger
	Processor *occupancy.Processor
	Scanner   *scanner.Service
	Hub       *notification.Hub
	Clock     clock.Clock
	WebPush   *webpush.Options
	Config    *config.Config
	Logger    *slog.Logger
}

func newHandler(p handlerParams) *api.Handler {
	return api.NewHandler(api.Deps{
		Store:     p.Store,
		Registry:  p.Registry,
		Ledger:    p.Ledger,
		Processor: p.Processor,
		Scanner:   p.Scanner,
		Hub:       p.Hub,
		Clock:     p.Clock,
		WebPush:   p.WebPush,
		Parking:   p.Config.Parking,
		Logger:    p.Logger,
	})
}

func newServer(cfg *config.Config, engine *gin.Engine) *http.Server {
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           engine,
		ReadHeaderTimeout: 10 * time.Second,
	}
}

// wireHub connects the hub to the state snapshot and its observers.
func wireHub(cfg *config.Config, hub *notification.Hub, reg *registry.Registry, cache *mw.ResponseCache, pool *notification.PushPool, logger *slog.Logger) {
	hub.SetStateProvider(func(ctx context.Context) (any, error) { return reg.State(ctx) })
	hub.Observe(cache.Observe)
	if cfg.Push.PublicKey == "" || cfg.Push.PrivateKey == "" {
		logger.Warn("VAPID keys are not configured; expiry push notifications are disabled")
		return
	}
	hub.Observe(pool.Observe)
}

func seed(lc fx.Lifecycle, cfg *config.Config, reg *registry.Registry, s store.Store, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if _, err := reg.SeedDefaults(ctx, cfg.Parking.DefaultSpaces); err != nil {
				return err
			}
			for _, sub := range cfg.Auth.AdminSubjects {
				if err := s.SetRole(ctx, sub, model.RoleAdmin); err != nil {
					return err
				}
				logger.Info("admin role granted", "subject", sub)
			}
			return nil
		},
	})
}

func runScanner(lc fx.Lifecycle, svc *scanner.Service) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			svc.Start(context.Background())
			return nil
		},
		OnStop: func(context.Context) error {
			svc.Stop()
			return nil
		},
	})
}

func runPushPool(lc fx.Lifecycle, pool *notification.PushPool) {
	ctx, cancel := context.WithCancel(context.Background())
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			pool.Start(ctx)
			return nil
		},
		OnStop: func(context.Context) error {
			cancel()
			return nil
		},
	})
}

func runServer(lc fx.Lifecycle, cfg *config.Config, srv *http.Server, hub *notification.Hub, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			logger.Info("HTTP server starting", "addr", srv.Addr, "mode", gin.Mode())
			go func() {
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("HTTP server stopped", "error", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			ctx, cancel := context.WithTimeout(ctx, time.Duration(cfg.Server.ShutdownTimeoutSeconds)*time.Second)
			defer cancel()
			hub.CloseAll()
			if err := srv.Shutdown(ctx); err != nil {
				return err
			}
			logger.Info("HTTP server gracefully stopped")
			return nil
		},
	})
}
