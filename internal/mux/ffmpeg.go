// Package mux combines separately downloaded video and audio streams into a
// single streamable MP4 using the ffmpeg executable.
package mux

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"strings"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	ffmpeg "github.com/u2takey/ffmpeg-go"

	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/failure"
)

const (
	VideoCodec    = "libx264"
	AudioCodec    = "aac"
	Strict        = "experimental"
	FastStartFlag = "+faststart"

	// OutputName is the merged file name inside a scratch directory.
	OutputName = "merged.mp4"

	stderrTail = 2048
)

type Muxer interface {
	Mux(ctx context.Context, inputs []string, output string) error
}

type FFmpeg struct {
	// Path is the ffmpeg executable, looked up in PATH when it has no separator.
	Path string
}

func NewFFmpeg(path string) *FFmpeg {
	return &FFmpeg{Path: path}
}

// Args builds the ffmpeg arguments re-encoding inputs into output.
func (f *FFmpeg) Args(inputs []string, output string) ([]string, error) {
	if len(inputs) == 0 {
		return nil, errors.New("no inputs to mux")
	}

	streams := make([]*ffmpeg.Stream, len(inputs))
	for i, input := range inputs {
		streams[i] = ffmpeg.Input(input)
	}

	return ffmpeg.Output(streams, output, ffmpeg.KwArgs{
		"c:v":      VideoCodec,
		"c:a":      AudioCodec,
		"strict":   Strict,
		"movflags": FastStartFlag,
	}).OverWriteOutput().GetArgs(), nil
}

func (f *FFmpeg) Mux(ctx context.Context, inputs []string, output string) error {
	args, err := f.Args(inputs, output)
	if err != nil {
		return failure.Wrap(failure.MuxFailed, err)
	}

	log := logrus.WithField("output", output)
	log.Debugf("running %s %s", f.Path, strings.Join(args, " "))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, f.Path, args...)
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		switch {
		case errors.Is(err, exec.ErrNotFound), errors.Is(err, os.ErrNotExist):
			return failure.Wrap(failure.Environment, errors.Wrap(err, "ffmpeg is not available"))
		case ctx.Err() != nil:
			return failure.Wrap(failure.MuxFailed, errors.Wrap(ctx.Err(), "ffmpeg interrupted"))
		}

		return failure.Wrap(failure.MuxFailed, errors.Wrapf(err, "ffmpeg: %s", tail(stderr.String())))
	}

	if _, err := os.Stat(output); err != nil {
		return failure.Wrap(failure.MuxFailed, errors.Wrap(err, "ffmpeg produced no output"))
	}

	return nil
}

func tail(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > stderrTail {
		s = s[len(s)-stderrTail:]
	}

	return s
}
