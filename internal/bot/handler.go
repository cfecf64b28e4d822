package bot

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/config"
	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/failure"
	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/media"
	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/metrics"
	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/mux"
	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/scratch"
)

const (
	GreetingText = "Hi! Send me a URL of a video to download."
	StartingText = "Downloading the video..."
	SuccessText  = "Video downloaded and sent!"

	// Telegram rejects captions longer than this.
	maxCaptionLength = 1024

	notFoundMarker = "message to delete not found"
	resultOK       = "ok"
)

// API is the part of *tgbotapi.BotAPI the handlers need.
type API interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
}

type Handler struct {
	api        API
	downloader media.Downloader
	muxer      mux.Muxer
	slots      *semaphore.Weighted

	workDir       string
	timeout       time.Duration
	maxUploadSize int64
	clearWindow   int

	downloads metrics.Metrics
	deletions metrics.Metrics
	inFlight  metrics.Gauge
}

func NewHandler(api API, cfg *config.Config, downloader media.Downloader, muxer mux.Muxer, registry metrics.Metrics) *Handler {
	return &Handler{
		api:           api,
		downloader:    downloader,
		muxer:         muxer,
		slots:         semaphore.NewWeighted(int64(cfg.MaxConcurrentDownloads)),
		workDir:       cfg.WorkDir,
		timeout:       cfg.DownloadTimeout,
		maxUploadSize: cfg.MaxUploadSize,
		clearWindow:   cfg.ClearWindow,
		downloads:     registry.WithPrefix("downloads"),
		deletions:     registry.WithPrefix("deletions"),
		inFlight:      registry.Gauge("downloads_in_flight", nil),
	}
}

func messageLogger(msg *tgbotapi.Message) *logrus.Entry {
	return logrus.WithFields(logrus.Fields{
		"chat_id":    msg.Chat.ID,
		"message_id": msg.MessageID,
	})
}

func (h *Handler) reply(msg *tgbotapi.Message, text string) {
	if _, err := h.api.Send(tgbotapi.NewMessage(msg.Chat.ID, text)); err != nil {
		messageLogger(msg).Errorf("send message: %s", err)
	}
}

func (h *Handler) Start(_ context.Context, msg *tgbotapi.Message) {
	h.reply(msg, GreetingText)
}

// Download treats the whole message text as a URL, fetches the media, muxes
// it into an MP4 and sends it back to the chat.
func (h *Handler) Download(ctx context.Context, msg *tgbotapi.Message) {
	log := messageLogger(msg).WithField("url", msg.Text)
	h.reply(msg, StartingText)

	if err := h.download(ctx, msg, log); err != nil {
		kind := failure.KindOf(err)
		log.WithField("kind", kind).Errorf("download video: %s", err)
		h.downloads.Counter("total", metrics.Labels{"result": kind.String()}).Inc()
		h.reply(msg, kind.Message())
		return
	}

	h.downloads.Counter("total", metrics.Labels{"result": resultOK}).Inc()
	log.Info("video sent")
	h.reply(msg, SuccessText)
}

func (h *Handler) download(ctx context.Context, msg *tgbotapi.Message, log *logrus.Entry) error {
	target, err := media.ParseURL(msg.Text)
	if err != nil {
		return err
	}

	if err := h.slots.Acquire(ctx, 1); err != nil {
		return errors.Wrap(err, "wait for download slot")
	}
	defer h.slots.Release(1)

	h.inFlight.Inc()
	defer h.inFlight.Dec()

	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()

	dir, err := scratch.New(h.workDir, msg.Chat.ID, msg.MessageID)
	if err != nil {
		return failure.Wrap(failure.Environment, err)
	}

	defer func() {
		if err := dir.Remove(); err != nil {
			log.Warnf("cleanup: %s", err)
		}
	}()

	result, err := h.downloader.Download(ctx, target, dir.Path())
	if err != nil {
		return errors.Wrap(err, "download")
	}

	if len(result.Files) == 0 {
		return failure.New(failure.Unavailable, "downloader returned no files")
	}

	log.WithField("files", result.Files).Debug("downloaded")
	output := dir.File(mux.OutputName)
	if err := h.muxer.Mux(ctx, result.Files, output); err != nil {
		return errors.Wrap(err, "mux")
	}

	info, err := os.Stat(output)
	if err != nil {
		return failure.Wrap(failure.MuxFailed, errors.Wrap(err, "stat merged file"))
	}

	if info.Size() > h.maxUploadSize {
		return failure.Wrap(failure.TooLarge, errors.Errorf("merged file is %s, limit is %s",
			humanSize(info.Size()), humanSize(h.maxUploadSize)))
	}

	if _, err := h.api.Request(tgbotapi.NewChatAction(msg.Chat.ID, tgbotapi.ChatUploadVideo)); err != nil {
		log.Debugf("send chat action: %s", err)
	}

	video := tgbotapi.NewVideo(msg.Chat.ID, tgbotapi.FilePath(output))
	video.SupportsStreaming = true
	video.Caption = caption(result.Title)
	if _, err := h.api.Send(video); err != nil {
		return errors.Wrap(err, "send video")
	}

	return nil
}

// Clear requests deletion of the invoking message and the window-1 ids below
// it. Ids are not guaranteed to be dense or to belong to this chat, so most
// failures are expected.
func (h *Handler) Clear(_ context.Context, msg *tgbotapi.Message) {
	log := messageLogger(msg)
	chatID := msg.Chat.ID
	var deleted, missing, failed int
	for i := 0; i < h.clearWindow; i++ {
		id := msg.MessageID - i
		_, err := h.api.Request(tgbotapi.NewDeleteMessage(chatID, id))
		switch {
		case err == nil:
			deleted++
		case strings.Contains(err.Error(), notFoundMarker):
			missing++
		default:
			failed++
			log.WithField("target_id", id).Errorf("delete message: %s", err)
		}
	}

	h.deletions.Counter("total", metrics.Labels{"result": "deleted"}).Add(float64(deleted))
	h.deletions.Counter("total", metrics.Labels{"result": "not_found"}).Add(float64(missing))
	h.deletions.Counter("total", metrics.Labels{"result": "failed"}).Add(float64(failed))
	log.Debugf("clear: %d deleted, %d not found, %d failed", deleted, missing, failed)
}

func caption(title string) string {
	runes := []rune(title)
	if len(runes) > maxCaptionLength {
		return string(runes[:maxCaptionLength-1]) + "…"
	}

	return title
}

func humanSize(size int64) string {
	return fmt.Sprintf("%.1fMB", float64(size)/(1<<20))
}
