package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	_ "modernc.org/sqlite"

	"problembot/internal/bot"
	"problembot/internal/compose"
	"problembot/internal/config"
	"problembot/internal/domain"
	"problembot/internal/importer"
	"problembot/internal/notify"
	"problembot/internal/proxy"
	"problembot/internal/source"
	"problembot/internal/state"
)

func main() {
	envFile := flag.String("env", ".env", "env file to load (ignored if missing)")
	flag.Parse()

	zerolog.TimeFieldFormat = time.RFC3339
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout})

	if err := godotenv.Load(*envFile); err == nil {
		log.Info().Str("file", *envFile).Msg("env file loaded")
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}

	dsn := fmt.Sprintf("file:%s?cache=shared&mode=rwc&_pragma=journal_mode(WAL)", cfg.Database.Path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		log.Fatal().Err(err).Msg("open db")
	}
	defer db.Close()
	db.SetMaxOpenConns(1) // SQLite single writer

	if err := state.EnsureSchema(db); err != nil {
		log.Fatal().Err(err).Msg("ensure schema")
	}

	kv := state.NewSQLiteKV(db)
	watermarks := state.NewWatermarkStore(kv)
	runStates := state.NewRunStateStore(kv)
	dedup := state.NewDedupCache(kv)

	session := source.NewSession(cfg.SourceAPI.BaseURL, cfg.SourceAPI.User, cfg.SourceAPI.Password, cfg.SourceAPI.Timeout)
	client := source.NewClient(cfg.SourceAPI.BaseURL, session, cfg.SourceAPI.Timeout)
	router := notify.NewRouter(client)

	tenants, err := client.ListTenants(context.Background())
	if err != nil {
		log.Fatal().Err(err).Msg("list tenants")
	}
	if len(tenants) == 0 {
		log.Fatal().Msg("no tenants configured upstream")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	scheduler := cron.New()
	var backends []*http.Server
	var importers []*importer.Service

	for i, tn := range tenants {
		if !tn.Enabled {
			log.Info().Str("tenant", tn.Code).Msg("tenant disabled, proxy will absorb its events")
			continue
		}
		if cfg.PublicHost != "" && tn.Host != cfg.PublicHost {
			log.Info().Str("tenant", tn.Code).Str("host", tn.Host).Msg("tenant served elsewhere, skipping backend")
			continue
		}

		composer := compose.Composer{HTML: tn.Kind == domain.TenantTelegram}
		transport := notify.LogTransport{Tenant: tn.Code}
		fetcher := importer.SourceFetcher{Client: client, Path: cfg.Import.GetterPath}
		scope := notify.Scope{BotID: tn.ID, GroupID: tn.GroupID}

		dispatcher := notify.NewDispatcher(transport, composer, cfg.Import.SendPacing)
		svc := importer.NewService(tn.Code, scope, watermarks, runStates, router, fetcher, dispatcher, cfg.ImportInterval())
		importers = append(importers, svc)
		go svc.Start(ctx)

		digest := importer.NewDigestJob(tn.Code, scope, router, client, composer, transport)
		if _, err := digest.Schedule(scheduler, cfg.Import.DigestCron); err != nil {
			log.Fatal().Err(err).Str("tenant", tn.Code).Msg("schedule digest")
		}

		backend := bot.NewService(tn, dedup, client, composer, transport, watermarks, fetcher)
		addr := fmt.Sprintf("127.0.0.1:%d", cfg.Server.Port+1+i)
		srv := &http.Server{Addr: addr, Handler: backend.Routes()}
		backends = append(backends, srv)
		go func(code string) {
			log.Info().Str("tenant", code).Str("addr", addr).Msg("tenant backend starting")
			if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatal().Err(err).Str("tenant", code).Msg("tenant backend")
			}
		}(tn.Code)
	}

	scheduler.Start()

	front := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: proxy.NewHandler(tenants, dedup, cfg.Server.Port).Routes(),
	}
	go func() {
		log.Info().Str("addr", front.Addr).Msg("callback proxy starting")
		if err := front.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("callback proxy")
		}
	}()

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	log.Info().Msg("shutting down")

	cancel()
	for _, svc := range importers {
		svc.Stop()
	}
	<-scheduler.Stop().Done()

	ctxTimeout, cancelTimeout := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelTimeout()
	_ = front.Shutdown(ctxTimeout)
	for _, srv := range backends {
		_ = srv.Shutdown(ctxTimeout)
	}
}
