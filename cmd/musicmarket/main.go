package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"musicmarket/internal/config"
	"musicmarket/internal/events"
	"musicmarket/internal/httpapp"
	applog "musicmarket/internal/log"
	"musicmarket/internal/metrics"
	"musicmarket/internal/payments"
	"musicmarket/internal/pictures"
	"musicmarket/internal/repos"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		zap.NewExample().Fatal("config.load", zap.Error(err))
	}

	logger, err := applog.New(cfg.LogLevel, cfg.LogFile)
	if err != nil {
		zap.NewExample().Fatal("log.init", zap.Error(err))
	}
	defer logger.Sync()
	applog.SetLogger(logger)

	db, err := repos.OpenDB(cfg.DBDSN)
	if err != nil {
		logger.Fatal("db.open", zap.Error(err))
	}
	defer db.Close()
	if cfg.SeedUsers {
		if err := repos.SeedUsers(db); err != nil {
			logger.Fatal("db.seed", zap.Error(err))
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var pics pictures.Store
	if cfg.MinIO.Endpoint != "" {
		pics, err = pictures.NewMinIOStore(ctx, cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, cfg.MinIO.Bucket, cfg.MinIO.UseSSL, logger)
		if err != nil {
			logger.Fatal("pictures.minio", zap.Error(err))
		}
		logger.Info("pictures.store", zap.String("kind", "minio"), zap.String("bucket", cfg.MinIO.Bucket))
	} else {
		pics = pictures.NewDiskStore(cfg.MediaDir, "/media")
		logger.Info("pictures.store", zap.String("kind", "disk"), zap.String("dir", cfg.MediaDir))
	}

	var pub events.Publisher = events.Noop{}
	if cfg.NATS.URL != "" {
		np, err := events.NewNATSPublisher(cfg.NATS.URL, cfg.NATS.SubjectPrefix)
		if err != nil {
			logger.Fatal("events.nats", zap.Error(err))
		}
		defer np.Close()
		pub = np
	}

	var donations *payments.Donations
	if cfg.PaymentsEnabled() {
		donations = &payments.Donations{
			Provider: payments.NewStripeProvider(cfg.Stripe.SecretKey, nil),
			Amount:   cfg.Donation.Amount,
			Currency: cfg.Donation.Currency,
			ItemName: cfg.Donation.Name,
			BaseURL:  cfg.BaseURL,
		}
	} else {
		logger.Warn("payments.disabled", zap.String("reason", "STRIPE_SECRET_KEY not set"))
	}

	app := httpapp.New(httpapp.Options{
		Config:    cfg,
		DB:        db,
		Pictures:  pics,
		Events:    pub,
		Donations: donations,
		Metrics:   metrics.New("musicmarket"),
		Logger:    logger,
		AccessLog: os.Stdout,
	})

	go func() {
		<-ctx.Done()
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.Error("server.shutdown", zap.Error(err))
		}
	}()

	logger.Info("server.start", zap.String("port", cfg.Port))
	if err := app.Listen(":" + cfg.Port); err != nil {
		logger.Fatal("server.listen", zap.Error(err))
	}
}
