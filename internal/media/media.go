// Package media resolves a URL to local media files. YouTube links are fetched
// natively, everything else goes through yt-dlp.
package media

import (
	"context"
	"net/url"
	"strings"

	"github.com/pkg/errors"

	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/failure"
)

// Result lists the files a downloader actually wrote. Files holds either one
// already merged file or a video file followed by an audio file.
type Result struct {
	Title string
	Files []string
}

type Downloader interface {
	Download(ctx context.Context, target *url.URL, dir string) (*Result, error)
}

// ParseURL accepts absolute http and https URLs only.
func ParseURL(text string) (*url.URL, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil, failure.New(failure.InvalidURL, "empty url")
	}

	u, err := url.ParseRequestURI(text)
	if err != nil {
		return nil, failure.Wrap(failure.InvalidURL, errors.Wrapf(err, "parse url %q", text))
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, failure.New(failure.InvalidURL, "unsupported scheme "+u.Scheme)
	}

	if u.Host == "" {
		return nil, failure.New(failure.InvalidURL, "url has no host")
	}

	return u, nil
}

var youTubeHosts = map[string]bool{
	"youtube.com":       true,
	"www.youtube.com":   true,
	"m.youtube.com":     true,
	"music.youtube.com": true,
	"youtu.be":          true,
}

func IsYouTube(u *url.URL) bool {
	return youTubeHosts[strings.ToLower(u.Hostname())]
}

// Router sends YouTube links to YouTube and the rest to Generic.
type Router struct {
	YouTube Downloader
	Generic Downloader
}

func (r *Router) Download(ctx context.Context, target *url.URL, dir string) (*Result, error) {
	if IsYouTube(target) {
		return r.YouTube.Download(ctx, target, dir)
	}

	return r.Generic.Download(ctx, target, dir)
}
