package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"bytovka/config"
	"bytovka/internal/api"
	"bytovka/internal/database"
	"bytovka/internal/feed"
	"bytovka/internal/geocoding"
	"bytovka/internal/geometry"
	"bytovka/internal/ingestion"
	"bytovka/internal/liveness"
	"bytovka/internal/metrics"
	"bytovka/internal/models"
	"bytovka/internal/queue"
	"bytovka/internal/scheduler"
	"bytovka/internal/scraping"
	"bytovka/internal/status"
	"bytovka/internal/telegram"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	if level, err := logrus.ParseLevel(cfg.LogLevel); err == nil {
		logger.SetLevel(level)
	} else {
		logger.WithField("level", cfg.LogLevel).Warn("Unknown log level, using info")
	}
	gin.SetMode(gin.ReleaseMode)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.NewDatabase(cfg.Database.Driver, cfg.Database.DSN, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to initialize database")
	}
	defer db.Close()

	logger.Info("Running database migrations...")
	if err := db.RunMigrations(); err != nil {
		logger.WithError(err).Fatal("Failed to run database migrations")
	}

	seeds := make([]models.District, 0, len(config.DefaultDistricts))
	for _, d := range config.DefaultDistricts {
		seeds = append(seeds, models.District{Name: d.Name, CityPart: d.CityPart, Neighborhood: d.Neighborhood})
	}
	inserted, err := db.SeedDistricts(ctx, seeds)
	if err != nil {
		logger.WithError(err).Fatal("Failed to seed districts")
	}
	logger.WithField("inserted", inserted).Info("District catalog ready")

	bounds := geometry.NewBound(cfg.Geo.MinLat, cfg.Geo.MaxLat, cfg.Geo.MinLng, cfg.Geo.MaxLng)

	geocoder := geocoding.NewNominatim(geocoding.NominatimOptions{
		URL:               cfg.Geocoding.URL,
		UserAgent:         cfg.Geocoding.UserAgent,
		Language:          cfg.Geocoding.Language,
		CountryCodes:      cfg.Geocoding.Country,
		Timeout:           cfg.Geocoding.Timeout,
		RequestsPerSecond: cfg.Geocoding.RequestsPerSecond,
	}, logger)
	resolver := geocoding.NewResolver(db, geocoder, bounds, cfg.Geocoding.Country, logger)

	broker := feed.NewBroker(logger)
	supervisor := status.New()

	// Ingestion workers drain the queue after the root context ends, so they
	// get their own context cancelled only once the queue is closed
	workerCtx, cancelWorkers := context.WithCancel(context.Background())
	defer cancelWorkers()

	recordQueue := queue.NewRecordQueue(cfg.Ingestion.QueueSize, logger)
	pipeline := ingestion.NewPipeline(db, resolver, broker, bounds, logger)
	processor := ingestion.NewProcessor(pipeline, recordQueue, supervisor, ingestion.RetryOptions{
		MaxRetries: cfg.Ingestion.MaxRetries,
		RetryDelay: cfg.Ingestion.RetryDelay,
	}, logger)
	processor.Start(workerCtx, cfg.Ingestion.Workers)

	var sched *scheduler.Scheduler
	if cfg.Scraping.Enabled {
		scrapers, err := cfg.ParseScrapers()
		if err != nil {
			logger.WithError(err).Fatal("Invalid scraper configuration")
		}
		if len(scrapers) == 0 {
			logger.Warn("Scraping is enabled but no scrapers are configured")
		}
		manager := scraping.NewManager(recordQueue, supervisor, logger)
		sched = scheduler.NewScheduler(manager, scrapers, cfg.Scraping.Interval, logger)
		sched.Start(ctx)
	}

	var background sync.WaitGroup
	if cfg.Liveness.Enabled {
		monitor := liveness.NewMonitor(db, liveness.NewHTTPProber(cfg.Liveness.UserAgent), broker, supervisor, liveness.Options{
			PingInterval:     cfg.Liveness.PingInterval,
			SweepInterval:    cfg.Liveness.SweepInterval,
			ProbeTimeout:     cfg.Liveness.ProbeTimeout,
			Workers:          cfg.Liveness.Workers,
			BatchSize:        cfg.Liveness.BatchSize,
			FailureThreshold: cfg.Liveness.FailureThreshold,
		}, logger)
		background.Add(1)
		go func() {
			defer background.Done()
			monitor.Run(ctx)
		}()
	}

	if cfg.TelegramEnabled() {
		notifier := telegram.NewNotifier(models.TelegramConfig{
			BotToken: cfg.Telegram.BotToken,
			ChatID:   cfg.Telegram.ChatID,
			APIURL:   cfg.Telegram.APIURL,
		}, &models.TelegramFilters{
			MinPrice:     cfg.Telegram.MinPrice,
			MaxPrice:     cfg.Telegram.MaxPrice,
			Districts:    cfg.Telegram.Districts,
			Dispositions: cfg.Telegram.Dispositions,
		}, logger)
		background.Add(1)
		go func() {
			defer background.Done()
			notifier.Run(ctx, broker, cfg.Feed.Buffer)
		}()
	}

	handler := api.NewHandler(db, broker, supervisor, api.Options{
		Settings: api.Settings{
			ScrapingEnabled:     cfg.Scraping.Enabled,
			PingEnabled:         cfg.Liveness.Enabled,
			PingIntervalSeconds: int64(cfg.Liveness.PingInterval.Seconds()),
			FailureThreshold:    cfg.Liveness.FailureThreshold,
		},
		FeedBuffer: cfg.Feed.Buffer,
		KeepAlive:  cfg.Feed.KeepAlive,
	}, logger)

	server := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: api.NewRouter(handler, cfg.Server.CORSOrigins),
	}

	go func() {
		logger.Infof("Starting server on port %s", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Error("Server failed")
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("Shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	// Stream handlers only return once their subscriptions close
	broker.Close()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server shutdown failed")
	}

	if sched != nil {
		sched.Stop()
	}
	processor.Stop()
	cancelWorkers()
	background.Wait()

	logger.Info("Shutdown complete")
}
