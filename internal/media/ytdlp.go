package media

import (
	"context"
	"net/url"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/lrstanley/go-ytdlp"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/failure"
)

const (
	YTDLPExecutable  = "yt-dlp"
	YTDLPFormat      = "bestvideo+bestaudio/best"
	YTDLPMergeFormat = "mkv"
)

var networkMarkers = []string{
	"unable to download",
	"timed out",
	"connection reset",
	"connection refused",
	"temporary failure in name resolution",
	"http error 5",
}

// YTDLP downloads through the yt-dlp executable, letting it merge the best
// video and audio streams into a single container.
type YTDLP struct {
	// Executable is looked up in PATH when it has no separator.
	Executable string
}

func NewYTDLP() *YTDLP {
	return &YTDLP{Executable: YTDLPExecutable}
}

func (y *YTDLP) Download(ctx context.Context, target *url.URL, dir string) (*Result, error) {
	executable, err := exec.LookPath(y.Executable)
	if err != nil {
		return nil, failure.Wrap(failure.Environment, errors.Wrap(err, "yt-dlp is not available"))
	}

	dl := ytdlp.New().
		SetExecutable(executable).
		Format(YTDLPFormat).
		MergeOutputFormat(YTDLPMergeFormat).
		NoPlaylist().
		RestrictFilenames().
		ForceOverwrites().
		PrintJSON().
		Output(filepath.Join(dir, videoBaseName+".%(ext)s"))

	result, err := dl.Run(ctx, target.String())
	if err != nil {
		if ctx.Err() != nil {
			return nil, failure.Wrap(failure.Network, errors.Wrap(ctx.Err(), "yt-dlp interrupted"))
		}

		return nil, failure.Wrap(classifyYTDLP(err), errors.Wrap(err, "yt-dlp"))
	}

	var reported, title string
	if info, err := result.GetExtractedInfo(); err != nil {
		logrus.WithField("url", target.String()).Warnf("read yt-dlp info: %s", err)
	} else if len(info) > 0 {
		if info[0].Filename != nil {
			reported = *info[0].Filename
		}

		if info[0].Title != nil {
			title = *info[0].Title
		}
	}

	path, err := ResolveOutput(dir, reported)
	if err != nil {
		return nil, err
	}

	return &Result{Title: title, Files: []string{path}}, nil
}

func classifyYTDLP(err error) failure.Kind {
	text := strings.ToLower(err.Error())
	for _, marker := range networkMarkers {
		if strings.Contains(text, marker) {
			return failure.Network
		}
	}

	return failure.Unavailable
}

// ResolveOutput returns the reported path when it exists in dir, otherwise the
// single finished video file found there.
func ResolveOutput(dir, reported string) (string, error) {
	if reported != "" {
		if !filepath.IsAbs(reported) {
			reported = filepath.Join(dir, filepath.Base(reported))
		}

		if _, err := os.Stat(reported); err == nil {
			return reported, nil
		}
	}

	matches, err := filepath.Glob(filepath.Join(dir, videoBaseName+".*"))
	if err != nil {
		return "", failure.Wrap(failure.Environment, errors.Wrap(err, "list downloaded files"))
	}

	for _, match := range matches {
		// video.f137.mp4 and the like are per-format leftovers of a merge
		if strings.Count(filepath.Base(match), ".") > 1 {
			continue
		}

		switch filepath.Ext(match) {
		case ".part", ".ytdl", ".json", ".temp":
			continue
		}

		return match, nil
	}

	return "", failure.New(failure.Unavailable, "yt-dlp produced no video file")
}
