package bot

import (
	"context"
	"io"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/config"
	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/failure"
	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/media"
	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/metrics"
	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/mux"
)

type fakeAPI struct {
	mu        sync.Mutex
	texts     []string
	videos    []tgbotapi.VideoConfig
	deletions []int
	actions   int
	deleteErr func(id int) error
	sendErr   error
}

func (a *fakeAPI) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch c := c.(type) {
	case tgbotapi.MessageConfig:
		a.texts = append(a.texts, c.Text)
	case tgbotapi.VideoConfig:
		if a.sendErr != nil {
			return tgbotapi.Message{}, a.sendErr
		}

		a.videos = append(a.videos, c)
	default:
		return tgbotapi.Message{}, errors.Errorf("unexpected send %T", c)
	}

	return tgbotapi.Message{}, nil
}

func (a *fakeAPI) Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	switch c := c.(type) {
	case tgbotapi.DeleteMessageConfig:
		a.deletions = append(a.deletions, c.MessageID)
		if a.deleteErr != nil {
			if err := a.deleteErr(c.MessageID); err != nil {
				return nil, err
			}
		}
	case tgbotapi.ChatActionConfig:
		a.actions++
	default:
		return nil, errors.Errorf("unexpected request %T", c)
	}

	return &tgbotapi.APIResponse{Ok: true}, nil
}

// fakeDownloader writes one empty file per name into the scratch directory.
type fakeDownloader struct {
	mu    sync.Mutex
	names []string
	err   error
	dirs  []string
	urls  []string
}

func (d *fakeDownloader) Download(_ context.Context, target *url.URL, dir string) (*media.Result, error) {
	d.mu.Lock()
	d.dirs = append(d.dirs, dir)
	d.urls = append(d.urls, target.String())
	d.mu.Unlock()
	if d.err != nil {
		return nil, d.err
	}

	result := &media.Result{Title: "Test video"}
	for _, name := range d.names {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(name), 0o644); err != nil {
			return nil, err
		}

		result.Files = append(result.Files, path)
	}

	return result, nil
}

type fakeMuxer struct {
	mu     sync.Mutex
	inputs [][]string
	size   int
	err    error
}

func (m *fakeMuxer) Mux(_ context.Context, inputs []string, output string) error {
	m.mu.Lock()
	m.inputs = append(m.inputs, inputs)
	m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	for _, input := range inputs {
		if _, err := os.Stat(input); err != nil {
			return err
		}
	}

	size := m.size
	if size == 0 {
		size = 16
	}

	return os.WriteFile(output, []byte(strings.Repeat("x", size)), 0o644)
}

type fixture struct {
	api        *fakeAPI
	downloader *fakeDownloader
	muxer      *fakeMuxer
	cfg        *config.Config
	handler    *Handler
	logs       *logtest.Hook
}

func newFixture(t *testing.T, registry metrics.Metrics) *fixture {
	cfg := config.Default()
	cfg.Token = "test"
	cfg.WorkDir = t.TempDir()
	return newFixtureWithConfig(t, &cfg, registry)
}

func newFixtureWithConfig(t *testing.T, cfg *config.Config, registry metrics.Metrics) *fixture {
	f := &fixture{
		api:        new(fakeAPI),
		downloader: &fakeDownloader{names: []string{"video.mp4", "audio.m4a"}},
		muxer:      new(fakeMuxer),
		cfg:        cfg,
		logs:       logtest.NewGlobal(),
	}

	f.handler = NewHandler(f.api, cfg, f.downloader, f.muxer, registry)
	t.Cleanup(func() { logrus.StandardLogger().ReplaceHooks(make(logrus.LevelHooks)) })
	return f
}

func textMessage(chatID int64, id int, text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: id,
		Chat:      &tgbotapi.Chat{ID: chatID},
		Text:      text,
	}
}

func (f *fixture) workDirEntries(t *testing.T) []os.DirEntry {
	entries, err := os.ReadDir(f.cfg.WorkDir)
	require.NoError(t, err)
	return entries
}

func TestStart(t *testing.T) {
	f := newFixture(t, metrics.Dummy)
	f.handler.Start(context.Background(), textMessage(1, 10, "/start"))

	assert.Equal(t, []string{GreetingText}, f.api.texts)
	assert.Empty(t, f.api.videos)
	assert.Empty(t, f.api.deletions)
	assert.Empty(t, f.downloader.urls)
}

func TestDownloadSuccess(t *testing.T) {
	prom := metrics.NewPrometheus()
	f := newFixture(t, prom.WithPrefix("bot"))
	f.handler.Download(context.Background(), textMessage(42, 7, "https://www.youtube.com/watch?v=dQw4w9WgXcQ"))

	assert.Equal(t, []string{StartingText, SuccessText}, f.api.texts)
	require.Len(t, f.api.videos, 1)
	video := f.api.videos[0]
	assert.Equal(t, int64(42), video.ChatID)
	assert.True(t, video.SupportsStreaming)
	assert.Equal(t, "Test video", video.Caption)

	path, ok := video.File.(tgbotapi.FilePath)
	require.True(t, ok)
	assert.Equal(t, mux.OutputName, filepath.Base(string(path)))
	assert.Equal(t, 1, f.api.actions)

	assert.Equal(t, []string{"https://www.youtube.com/watch?v=dQw4w9WgXcQ"}, f.downloader.urls)
	assert.Empty(t, f.workDirEntries(t), "scratch directory must be removed")

	rec := httptest.NewRecorder()
	prom.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, _ := io.ReadAll(rec.Result().Body)
	assert.Contains(t, string(body), `bot_downloads_total{result="ok"} 1`)
}

func TestDownloadMuxesReportedPaths(t *testing.T) {
	f := newFixture(t, metrics.Dummy)
	f.downloader.names = []string{"video.webm", "audio.webm"}
	f.handler.Download(context.Background(), textMessage(1, 2, "https://youtu.be/abc"))

	require.Len(t, f.muxer.inputs, 1)
	require.Len(t, f.downloader.dirs, 1)
	dir := f.downloader.dirs[0]
	assert.Equal(t, []string{filepath.Join(dir, "video.webm"), filepath.Join(dir, "audio.webm")}, f.muxer.inputs[0])
	assert.Len(t, f.api.videos, 1)
}

func TestDownloadSingleMergedFile(t *testing.T) {
	f := newFixture(t, metrics.Dummy)
	f.downloader.names = []string{"video.mkv"}
	f.handler.Download(context.Background(), textMessage(1, 2, "https://vimeo.com/1"))

	require.Len(t, f.muxer.inputs, 1)
	assert.Len(t, f.muxer.inputs[0], 1)
	assert.Equal(t, "video.mkv", filepath.Base(f.muxer.inputs[0][0]))
	assert.Equal(t, []string{StartingText, SuccessText}, f.api.texts)
}

func TestDownloadFailures(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		setup   func(f *fixture)
		kind    failure.Kind
		logPart string
	}{
		{
			name: "downloader",
			text: "https://example.com/nothing",
			setup: func(f *fixture) {
				f.downloader.err = failure.Wrap(failure.Unavailable, errors.New("ERROR: Unsupported URL"))
			},
			kind:    failure.Unavailable,
			logPart: "Unsupported URL",
		},
		{
			name:    "invalid url",
			text:    "just some words",
			setup:   func(*fixture) {},
			kind:    failure.InvalidURL,
			logPart: "just some words",
		},
		{
			name: "unclassified downloader error",
			text: "https://example.com/x",
			setup: func(f *fixture) {
				f.downloader.err = errors.New("something odd")
			},
			kind:    failure.Unknown,
			logPart: "something odd",
		},
		{
			name: "mux",
			text: "https://example.com/x",
			setup: func(f *fixture) {
				f.muxer.err = failure.Wrap(failure.MuxFailed, errors.New("ffmpeg: exit status 1"))
			},
			kind:    failure.MuxFailed,
			logPart: "exit status 1",
		},
		{
			name: "too large",
			text: "https://example.com/x",
			setup: func(f *fixture) {
				f.handler.maxUploadSize = 8
			},
			kind:    failure.TooLarge,
			logPart: "limit is",
		},
		{
			name: "no files",
			text: "https://example.com/x",
			setup: func(f *fixture) {
				f.downloader.names = nil
			},
			kind:    failure.Unavailable,
			logPart: "no files",
		},
		{
			name: "send video",
			text: "https://example.com/x",
			setup: func(f *fixture) {
				f.api.sendErr = errors.New("Request Entity Too Large")
			},
			kind:    failure.Unknown,
			logPart: "Request Entity Too Large",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t, metrics.Dummy)
			tt.setup(f)
			f.handler.Download(context.Background(), textMessage(5, 6, tt.text))

			assert.Empty(t, f.api.videos)
			assert.Equal(t, []string{StartingText, tt.kind.Message()}, f.api.texts)
			assert.Empty(t, f.workDirEntries(t))

			entry := f.logs.LastEntry()
			require.NotNil(t, entry)
			assert.Equal(t, logrus.ErrorLevel, entry.Level)
			assert.Contains(t, entry.Message, tt.logPart)
			assert.Equal(t, tt.kind, entry.Data["kind"])
			assert.Equal(t, int64(5), entry.Data["chat_id"])
		})
	}
}

func TestDownloadConcurrentIsolation(t *testing.T) {
	cfg := config.Default()
	cfg.Token = "test"
	cfg.WorkDir = t.TempDir()
	cfg.MaxConcurrentDownloads = 4
	f := newFixtureWithConfig(t, &cfg, metrics.Dummy)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.handler.Download(context.Background(), textMessage(1, 1, "https://example.com/v"))
		}()
	}

	wg.Wait()

	seen := make(map[string]bool)
	for _, dir := range f.downloader.dirs {
		seen[dir] = true
	}

	assert.Len(t, seen, 8)
	assert.Len(t, f.api.videos, 8)
	assert.Empty(t, f.workDirEntries(t))
}

func TestDownloadCanceledWhileWaitingForSlot(t *testing.T) {
	cfg := config.Default()
	cfg.Token = "test"
	cfg.WorkDir = t.TempDir()
	cfg.MaxConcurrentDownloads = 1
	f := newFixtureWithConfig(t, &cfg, metrics.Dummy)

	require.True(t, f.handler.slots.TryAcquire(1))
	defer f.handler.slots.Release(1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f.handler.Download(ctx, textMessage(1, 1, "https://example.com/v"))

	assert.Empty(t, f.downloader.urls)
	assert.Equal(t, []string{StartingText, failure.GenericMessage}, f.api.texts)
}

func TestClear(t *testing.T) {
	f := newFixture(t, metrics.Dummy)
	f.api.deleteErr = func(id int) error {
		switch {
		case id == 495:
			return errors.New("Bad Request: message can't be deleted")
		case id%2 == 0:
			return &tgbotapi.Error{Code: 400, Message: "Bad Request: message to delete not found"}
		}

		return nil
	}

	f.handler.Clear(context.Background(), textMessage(3, 500, "/clear"))

	expected := make([]int, 0, 100)
	for id := 500; id > 400; id-- {
		expected = append(expected, id)
	}

	assert.Equal(t, expected, f.api.deletions)
	assert.Empty(t, f.api.texts)

	var reported []*logrus.Entry
	for _, entry := range f.logs.AllEntries() {
		assert.NotContains(t, entry.Message, "message to delete not found")
		if entry.Level <= logrus.WarnLevel {
			reported = append(reported, entry)
		}
	}

	require.Len(t, reported, 1)
	assert.Equal(t, logrus.ErrorLevel, reported[0].Level)
	assert.Equal(t, 495, reported[0].Data["target_id"])
}

func TestClearWindow(t *testing.T) {
	cfg := config.Default()
	cfg.Token = "test"
	cfg.WorkDir = t.TempDir()
	cfg.ClearWindow = 3
	f := newFixtureWithConfig(t, &cfg, metrics.Dummy)

	f.handler.Clear(context.Background(), textMessage(3, 10, "/clear"))
	assert.Equal(t, []int{10, 9, 8}, f.api.deletions)
}

func TestCaption(t *testing.T) {
	assert.Equal(t, "short", caption("short"))
	long := caption(strings.Repeat("я", 2000))
	assert.Equal(t, maxCaptionLength, len([]rune(long)))
}
