package media

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kkdai/youtube/v2"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/failure"
)

const (
	videoBaseName = "video"
	audioBaseName = "audio"

	maxRetries = 3
)

type stream struct {
	base   string
	format *youtube.Format
}

// YouTube downloads the best video-only and audio-only streams separately.
type YouTube struct {
	Client youtube.Client
	// Backoff is the delay unit between stream download attempts.
	Backoff time.Duration
}

func NewYouTube() *YouTube {
	return &YouTube{Backoff: time.Second}
}

func (y *YouTube) Download(ctx context.Context, target *url.URL, dir string) (*Result, error) {
	video, err := y.Client.GetVideoContext(ctx, target.String())
	if err != nil {
		if kind := failure.KindOf(err); kind == failure.Network {
			return nil, failure.Wrap(kind, errors.Wrap(err, "get video info"))
		}

		return nil, failure.Wrap(failure.Unavailable, errors.Wrap(err, "get video info"))
	}

	log := logrus.WithFields(logrus.Fields{"video_id": video.ID, "title": video.Title})
	videoFormat, audioFormat := SelectFormats(video.Formats)
	if videoFormat == nil {
		return nil, failure.New(failure.Unavailable, "no video formats available")
	}

	result := &Result{Title: video.Title}
	streams := []stream{{videoBaseName, videoFormat}}
	if audioFormat != nil {
		streams = append(streams, stream{audioBaseName, audioFormat})
	}

	for _, s := range streams {
		path := filepath.Join(dir, s.base+"."+Extension(s.format.MimeType))
		log.WithFields(logrus.Fields{"itag": s.format.ItagNo, "mime": s.format.MimeType}).
			Debugf("downloading %s stream", s.base)
		if err := y.downloadStream(ctx, video, s.format, path); err != nil {
			return nil, errors.Wrapf(err, "download %s stream", s.base)
		}

		result.Files = append(result.Files, path)
	}

	return result, nil
}

func (y *YouTube) downloadStream(ctx context.Context, video *youtube.Video, format *youtube.Format, path string) error {
	var lastErr error
	for attempt := 0; attempt < maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(y.Backoff * time.Duration(attempt)):
			case <-ctx.Done():
				return failure.Wrap(failure.Network, ctx.Err())
			}
		}

		lastErr = y.copyStream(ctx, video, format, path)
		if lastErr == nil {
			return nil
		}

		if failure.KindOf(lastErr) == failure.Environment || ctx.Err() != nil {
			break
		}

		logrus.WithField("attempt", attempt+1).Warnf("stream download failed: %s", lastErr)
	}

	if ctx.Err() != nil {
		return failure.Wrap(failure.Network, ctx.Err())
	}

	if failure.KindOf(lastErr) == failure.Unknown {
		lastErr = failure.Wrap(failure.Network, lastErr)
	}

	return errors.Wrapf(lastErr, "after %d attempts", maxRetries)
}

func (y *YouTube) copyStream(ctx context.Context, video *youtube.Video, format *youtube.Format, path string) error {
	reader, _, err := y.Client.GetStreamContext(ctx, video, format)
	if err != nil {
		return errors.Wrap(err, "get stream")
	}
	defer reader.Close()

	file, err := os.Create(path)
	if err != nil {
		return failure.Wrap(failure.Environment, errors.Wrap(err, "create file"))
	}

	if _, err := io.Copy(file, reader); err != nil {
		file.Close()
		os.Remove(path)
		return errors.Wrap(err, "copy stream")
	}

	if err := file.Close(); err != nil {
		return failure.Wrap(failure.Environment, errors.Wrap(err, "close file"))
	}

	return nil
}

// SelectFormats picks the best video-only and audio-only formats. When no
// video-only format exists the best progressive format is returned with a nil
// audio format.
func SelectFormats(formats youtube.FormatList) (videoFormat, audioFormat *youtube.Format) {
	for i := range formats {
		format := &formats[i]
		switch {
		case isVideo(format) && format.AudioChannels == 0:
			if betterVideo(format, videoFormat) {
				videoFormat = format
			}
		case isAudio(format):
			if betterAudio(format, audioFormat) {
				audioFormat = format
			}
		}
	}

	if videoFormat != nil && audioFormat != nil {
		return videoFormat, audioFormat
	}

	var progressive *youtube.Format
	for i := range formats {
		format := &formats[i]
		if isVideo(format) && format.AudioChannels > 0 && betterVideo(format, progressive) {
			progressive = format
		}
	}

	if progressive != nil {
		return progressive, nil
	}

	// Video without any audio track is still worth sending.
	return videoFormat, nil
}

func isVideo(format *youtube.Format) bool {
	return strings.HasPrefix(format.MimeType, "video/")
}

func isAudio(format *youtube.Format) bool {
	return strings.HasPrefix(format.MimeType, "audio/")
}

// betterVideo orders by MP4 container, then height, then bitrate.
func betterVideo(candidate, current *youtube.Format) bool {
	if current == nil {
		return true
	}

	if cm, mm := isMP4(candidate), isMP4(current); cm != mm {
		return cm
	}

	if candidate.Height != current.Height {
		return candidate.Height > current.Height
	}

	return candidate.Bitrate > current.Bitrate
}

func betterAudio(candidate, current *youtube.Format) bool {
	if current == nil {
		return true
	}

	if cm, mm := isMP4(candidate), isMP4(current); cm != mm {
		return cm
	}

	return candidate.Bitrate > current.Bitrate
}

func isMP4(format *youtube.Format) bool {
	return mimeType(format.MimeType) == "video/mp4" || mimeType(format.MimeType) == "audio/mp4"
}

func mimeType(value string) string {
	if i := strings.Index(value, ";"); i >= 0 {
		value = value[:i]
	}

	return strings.ToLower(strings.TrimSpace(value))
}

var extensions = map[string]string{
	"video/mp4":  "mp4",
	"video/webm": "webm",
	"video/3gpp": "3gp",
	"audio/mp4":  "m4a",
	"audio/webm": "webm",
	"audio/mpeg": "mp3",
}

// Extension maps a stream MIME type to a file extension.
func Extension(mime string) string {
	if ext, ok := extensions[mimeType(mime)]; ok {
		return ext
	}

	return "bin"
}
