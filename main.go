package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/bot"
	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/config"
	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/media"
	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/metrics"
	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/mux"
)

func main() {
	// Load environment variables from .env file
	if err := godotenv.Load(); err != nil {
		logrus.Warn("no .env file found")
	}

	cfg, err := config.FromEnv()
	if err != nil {
		logrus.Fatalf("load config: %s", err)
	}

	if err := setUpLogging(cfg); err != nil {
		logrus.Fatalf("set up logging: %s", err)
	}

	if err := os.MkdirAll(cfg.WorkDir, 0o755); err != nil {
		logrus.Fatalf("create work directory %s: %s", cfg.WorkDir, err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var registry metrics.Metrics = metrics.Dummy
	if cfg.MetricsAddress != "" {
		prom := metrics.NewPrometheus()
		registry = prom.WithPrefix("bot")
		go func() {
			if err := prom.Serve(ctx, cfg.MetricsAddress); err != nil {
				logrus.Errorf("metrics: %s", err)
			}
		}()
	}

	downloader := &media.Router{
		YouTube: media.NewYouTube(),
		Generic: media.NewYTDLP(),
	}

	b, err := bot.New(cfg, downloader, mux.NewFFmpeg(cfg.FFmpegPath), registry)
	if err != nil {
		logrus.Fatalf("create bot: %s", err)
	}

	if err := b.Run(ctx); err != nil {
		logrus.Fatalf("run bot: %s", err)
	}

	logrus.Info("bye")
}

func setUpLogging(cfg *config.Config) error {
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		return err
	}

	logrus.SetLevel(level)
	if cfg.LogFormat == "json" {
		logrus.SetFormatter(new(logrus.JSONFormatter))
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	return nil
}
