package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"smartdocs/api/internal/app"
	"smartdocs/api/internal/auth"
	"smartdocs/api/internal/blob"
	"smartdocs/api/internal/config"
	"smartdocs/api/internal/editsession"
	"smartdocs/api/internal/logger"
	"smartdocs/api/internal/metrics"
	"smartdocs/api/internal/search"
	"smartdocs/api/internal/store"

	"github.com/google/uuid"
	_ "github.com/joho/godotenv/autoload"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/urfave/cli/v3"
	"golang.org/x/sync/errgroup"
)

func main() {
	cmd := &cli.Command{
		Name:   "smartdocs-api",
		Usage:  "Document store API with sharing, text editing and version history",
		Action: serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to an optional YAML config file",
				Sources: cli.EnvVars("SMARTDOCS_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "issue-token",
				Usage:  "Print a bearer token for a user id (development only)",
				Action: issueToken,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "sub", Usage: "User id", Required: true},
					&cli.StringFlag{Name: "email", Usage: "User email"},
					&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime", Value: 12 * time.Hour},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "smartdocs-api: %v\n", err)
		os.Exit(1)
	}
}

func issueToken(_ context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	token, err := auth.IssueToken([]byte(cfg.Auth.Secret), auth.Claims{
		Sub:   cmd.String("sub"),
		Email: cmd.String("email"),
		JTI:   uuid.NewString(),
		Exp:   time.Now().Add(cmd.Duration("ttl")).Unix(),
	})
	if err != nil {
		return fmt.Errorf("issue token: %w", err)
	}
	fmt.Println(token)
	return nil
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		return err
	}
	log := logger.New(logger.Config{Level: cfg.App.LogLevel, Pretty: cfg.App.LogPretty})

	db, err := store.Open(ctx, cfg.Database.URL)
	if err != nil {
		return fmt.Errorf("database connection failed: %w", err)
	}
	defer db.Close()
	if err := store.ApplyMigrations(ctx, db, store.Migrations()); err != nil {
		return fmt.Errorf("migrations failed: %w", err)
	}
	records := store.NewPostgresStore(db)

	objects, err := blob.NewMinio(ctx, blob.MinioConfig{
		Endpoint:  cfg.Blob.Endpoint,
		AccessKey: cfg.Blob.AccessKey,
		SecretKey: cfg.Blob.SecretKey,
		Bucket:    cfg.Blob.Bucket,
		UseSSL:    cfg.Blob.UseSSL,
	})
	if err != nil {
		return fmt.Errorf("blob store: %w", err)
	}
	checks := []app.Check{{Name: "blob", Ping: objects.Ping}}

	var blobs blob.Store = objects
	if cfg.Redis.URL != "" {
		cache, err := blob.NewRedisURLCache(cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("redis connection failed: %w", err)
		}
		defer cache.Close()
		blobs = blob.NewCachedSigner(objects, cache, 0, log)
		checks = append(checks, app.Check{Name: "redis", Ping: cache.Ping})
		log.Info().Msg("caching signed URLs in redis")
	}
	reader := blob.NewFetcher(objects, &http.Client{Timeout: 30 * time.Second}, cfg.Blob.SignedURLTTL)

	var index search.Backend
	if cfg.Search.MeiliURL != "" {
		meili := search.NewMeili(cfg.Search.MeiliURL, cfg.Search.MeiliKey, log)
		defer meili.Close()
		index = meili
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	service := app.NewService(app.Deps{
		Store:   records,
		Blobs:   blobs,
		Reader:  reader,
		Index:   index,
		Metrics: m,
		Log:     log,
		Checks:  checks,
	}, app.Options{
		SignedURLTTL:    cfg.Blob.SignedURLTTL,
		MaxUploadBytes:  cfg.HTTP.MaxUploadBytes,
		EagerSharedText: cfg.Editor.EagerShared,
		Editor: editsession.Config{
			Delay:       cfg.Editor.AutosaveDelay,
			SaveTimeout: cfg.Editor.SaveTimeout,
			IdleTimeout: cfg.Editor.IdleTimeout,
		},
	})

	handler := app.NewHTTPServer(service, app.HTTPConfig{
		Secret:         []byte(cfg.Auth.Secret),
		CORSOrigin:     cfg.HTTP.CORSOrigin,
		MaxUploadBytes: cfg.HTTP.MaxUploadBytes,
		Metrics:        m,
		MetricsHandler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}),
		Log:            log,
	}).Handler()

	server := &http.Server{
		Addr:              cfg.HTTP.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	g, gCtx := errgroup.WithContext(ctx)
	sweepCtx, stopSweep := context.WithCancel(gCtx)
	defer stopSweep()

	g.Go(func() error {
		service.SweepSessions(sweepCtx)
		return nil
	})

	if index != nil {
		g.Go(func() error {
			service.Reindex(gCtx)
			return nil
		})
	}

	g.Go(func() error {
		log.Info().Str("addr", cfg.HTTP.Addr).Msg("smartdocs api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			log.Info().Str("signal", sig.String()).Msg("shutdown requested")
		case <-gCtx.Done():
		}
		stopSweep()
		return shutdown(server, service, cfg.Editor.SaveTimeout, log)
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("application error")
		return err
	}
	log.Info().Msg("server stopped")
	return nil
}

// shutdown stops accepting requests, then flushes open edit sessions.
func shutdown(server *http.Server, service *app.Service, saveTimeout time.Duration, log zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("http server shutdown")
	}

	flushCtx, cancelFlush := context.WithTimeout(context.Background(), saveTimeout+5*time.Second)
	defer cancelFlush()
	if err := service.Shutdown(flushCtx); err != nil {
		log.Error().Err(err).Msg("flushing edit sessions")
	}
	return nil
}
