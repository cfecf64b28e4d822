// Package bot wires the Telegram long polling loop to the start, clear and
// download handlers.
package bot

import (
	"context"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/config"
	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/media"
	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/metrics"
	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/mux"
)

const pollTimeout = 60

var commands = []tgbotapi.BotCommand{
	{Command: "start", Description: "Show the greeting"},
	{Command: "clear", Description: "Delete recent messages in this chat"},
}

type Bot struct {
	api    *tgbotapi.BotAPI
	router *Router
}

// New authorizes against the Bot API with cfg.Token and registers the handlers.
func New(cfg *config.Config, downloader media.Downloader, muxer mux.Muxer, registry metrics.Metrics) (*Bot, error) {
	if err := tgbotapi.SetLogger(logrus.WithField("component", "tgbotapi")); err != nil {
		return nil, errors.Wrap(err, "set telegram logger")
	}

	api, err := tgbotapi.NewBotAPI(cfg.Token)
	if err != nil {
		return nil, errors.Wrap(err, "create bot api")
	}

	api.Debug = cfg.Debug
	logrus.Infof("authorized as %s", api.Self.UserName)

	handler := NewHandler(api, cfg, downloader, muxer, registry)
	return &Bot{
		api:    api,
		router: handler.Register(NewRouter(registry)),
	}, nil
}

// Run polls for updates until ctx is done, then waits for running handlers.
func (b *Bot) Run(ctx context.Context) error {
	if _, err := b.api.Request(tgbotapi.NewSetMyCommands(commands...)); err != nil {
		logrus.Warnf("set bot commands: %s", err)
	}

	u := tgbotapi.NewUpdate(0)
	u.Timeout = pollTimeout
	updates := b.api.GetUpdatesChan(u)

	defer b.router.Wait()
	for {
		select {
		case <-ctx.Done():
			logrus.Info("stopping updates")
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return errors.New("updates channel closed")
			}

			b.router.Dispatch(ctx, update)
		}
	}
}
