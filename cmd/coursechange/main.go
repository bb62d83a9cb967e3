package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	coursechange "github.com/jacobmichels/Course-Change-Notifier"
	"github.com/jacobmichels/Course-Change-Notifier/catalog"
	"github.com/jacobmichels/Course-Change-Notifier/config"
	"github.com/jacobmichels/Course-Change-Notifier/diff"
	"github.com/jacobmichels/Course-Change-Notifier/notifier"
	"github.com/jacobmichels/Course-Change-Notifier/notify"
	"github.com/jacobmichels/Course-Change-Notifier/register"
	"github.com/jacobmichels/Course-Change-Notifier/repository"
	"github.com/jacobmichels/Course-Change-Notifier/scheduler"
	"github.com/jacobmichels/Course-Change-Notifier/server"
	"github.com/jacobmichels/Course-Change-Notifier/trigger"
	"github.com/juju/clock"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.ReadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read config")
	}

	if err := setupLogging(cfg.Log); err != nil {
		log.Fatal().Err(err).Msg("failed to configure logging")
	}

	if err := run(ctx, cfg); err != nil {
		log.Fatal().Err(err).Msg("course change notifier failed")
	}
}

func setupLogging(cfg config.Log) error {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
	}

	return nil
}

func run(ctx context.Context, cfg config.Config) error {
	repo, err := repository.New(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to create repository: %w", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close repository")
		}
	}()

	catalogService := catalog.NewClassScheduleService(cfg.Catalog.BaseURL, cfg.Catalog.Term, cfg.Catalog.Token, cfg.Catalog.Timeout())
	engine := diff.NewEngine(catalogService, repo, cfg.Scan.Concurrency, cfg.Catalog.Timeout())
	aggregator := notify.NewAggregator(repo, newNotifier(ctx, cfg.Notifications), cfg.Scan.Concurrency, cfg.Notifications.Timeout())

	scans := scheduler.NewScheduler(clock.WallClock, cfg.Scan.Interval(), trigger.NewTrigger(repo, engine, aggregator))

	p := pool.New().WithContext(ctx).WithCancelOnError()
	p.Go(scans.Run)

	if cfg.Server.Enabled {
		tracking := register.NewRegister(catalogService, repo, repo)
		srv := server.NewServer(cfg.Server.Addr, tracking, scans)
		p.Go(srv.Start)
	}

	return p.Wait()
}

func newNotifier(ctx context.Context, cfg config.Notifications) coursechange.Notifier {
	if cfg.Type != "smtp" {
		log.Info().Msg("creating noop notifier")
		return notifier.NewNoop()
	}

	smtp := cfg.EmailSmtp
	if smtp.Auth == "xoauth2" {
		log.Info().Str("host", smtp.Host).Msg("creating smtp notifier with xoauth2")
		tokens := notifier.NewGmailTokenSource(ctx, smtp.ClientID, smtp.ClientSecret, smtp.RefreshToken)
		return notifier.NewEmailWithAuth(smtp.Host, smtp.From, smtp.Port, notifier.NewXOAuth2(smtp.Username, tokens))
	}

	log.Info().Str("host", smtp.Host).Msg("creating smtp notifier")
	return notifier.NewEmail(smtp.Host, smtp.Username, smtp.Password, smtp.From, smtp.Port)
}
