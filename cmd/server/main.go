package main // Entry point package

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/iliyamo/membership-downgrades/internal/clients"
	"github.com/iliyamo/membership-downgrades/internal/config"
	"github.com/iliyamo/membership-downgrades/internal/database"
	"github.com/iliyamo/membership-downgrades/internal/handler"
	"github.com/iliyamo/membership-downgrades/internal/metrics"
	"github.com/iliyamo/membership-downgrades/internal/middleware"
	"github.com/iliyamo/membership-downgrades/internal/notify"
	"github.com/iliyamo/membership-downgrades/internal/queue"
	"github.com/iliyamo/membership-downgrades/internal/repository"
	"github.com/iliyamo/membership-downgrades/internal/router"
	"github.com/iliyamo/membership-downgrades/internal/service"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	setupLogging(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	db, err := openDB(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("driver", cfg.DBDriver).Msg("open database")
	}
	defer db.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	platform := clients.NewHostClient(cfg.HostAPIURL, cfg.HostAPIToken)
	publisher := queue.NewPublisher(cfg.AMQPURL)

	rdb := config.NewRedisClient(cfg.Redis)
	var locker service.Locker
	if rdb != nil {
		defer rdb.Close()
		locker = service.NewRedisLocker(rdb)
	} else {
		log.Warn().Msg("redis unavailable: using in-process downgrade locks, rate limiting off")
		locker = service.NewMemoryLocker()
	}

	backend, err := emailBackend(cfg, publisher)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.EmailBackend).Msg("register email templates")
	}
	notifier := notify.NewNotifier(backend, platform, notify.Site{
		Name:       cfg.SiteName,
		AdminEmail: cfg.AdminEmail,
		LoginURL:   cfg.SiteLoginURL,
		AdminURL:   cfg.SiteAdminURL,
	}, m)

	repo := repository.NewDowngradeRepo(db)
	svc := service.NewDowngradeService(repo, platform, notifier, locker, m, service.Options{
		DateLayout: cfg.DateLayout,
		Location:   cfg.Location(),
	})

	if cfg.ConsumerEnabled {
		consumer := queue.NewConsumer(cfg.AMQPURL, svc, platform)
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Error().Err(err).Msg("downgrade consumer stopped")
			}
		}()
	}

	downgrades := handler.NewDowngradeHandler(repo, svc, platform)
	downgrades.Queue = publisher
	templates := handler.NewEmailTemplateHandler(notifier, svc, cfg.SiteName)
	limit := middleware.NewTokenBucket(cfg.RateLimit, rdb)

	e := echo.New()
	e.HideBanner = true
	router.RegisterRoutes(e, handler.Health(db), reg)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg), limit)
	router.RegisterAdmin(e, downgrades, templates, cfg.JWTSecret, limit)

	addr := ":" + cfg.Port
	go func() {
		log.Info().Str("addr", addr).Str("env", cfg.Env).Str("email_backend", backend.Name()).Msg("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal().Err(err).Msg("http server")
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.Warn().Err(err).Msg("http server shutdown")
	}
	log.Info().Msg("stopped")
}

func setupLogging(cfg config.Config) {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.LogLevel))
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	if cfg.Env == "dev" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen})
	}
}

func openDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	var (
		db  *sql.DB
		err error
	)
	if cfg.DBDriver == database.DriverSQLite {
		db, err = database.OpenSQLite(cfg.SQLitePath)
	} else {
		db, err = database.Open(cfg.DBUser, cfg.DBPass, cfg.DBHost, cfg.DBPort, cfg.DBName)
	}
	if err != nil {
		return nil, err
	}
	if err := database.Migrate(ctx, db, cfg.DBDriver); err != nil {
		_ = db.Close()
		return nil, err
	}
	return db, nil
}

// emailBackend builds the configured delivery backend and registers the
// downgrade templates with it.
func emailBackend(cfg config.Config, pub notify.Publisher) (notify.Backend, error) {
	var b notify.Backend
	switch cfg.EmailBackend {
	case config.EmailBackendLegacy:
		b = notify.NewLegacyBackend(pub, cfg.SiteName)
	default:
		b = notify.NewTemplateBackend(notify.NewSMTPSender(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
			StartTLS: cfg.SMTP.StartTLS,
		}), cfg.SiteName)
	}
	if err := b.Register(notify.Templates()); err != nil {
		return nil, err
	}
	return b, nil
}
