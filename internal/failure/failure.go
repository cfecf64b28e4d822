// Package failure classifies download pipeline errors into a small closed set
// of kinds so that user-facing replies can differ while logs keep full detail.
package failure

import (
	"context"
	"net"
	"os"
	"os/exec"

	"github.com/pkg/errors"
)

type Kind string

const (
	Unknown     Kind = "unknown"
	InvalidURL  Kind = "invalid_url"
	Unavailable Kind = "unavailable"
	Network     Kind = "network"
	MuxFailed   Kind = "mux_failed"
	TooLarge    Kind = "too_large"
	Environment Kind = "environment"
)

var Kinds = []Kind{Unknown, InvalidURL, Unavailable, Network, MuxFailed, TooLarge, Environment}

var messages = map[Kind]string{
	InvalidURL:  "That does not look like a video URL.",
	Unavailable: "Could not find a downloadable video at that URL.",
	Network:     "The download failed due to a network problem. Please try again later.",
	MuxFailed:   "The video could not be processed.",
	TooLarge:    "The video is too large to send.",
	Environment: "The bot is not able to process videos right now.",
}

// GenericMessage is used for errors that could not be classified.
const GenericMessage = "An error occurred while downloading the video."

// Message returns the short reply shown to the user for this kind.
func (k Kind) Message() string {
	if msg, ok := messages[k]; ok {
		return msg
	}

	return GenericMessage
}

func (k Kind) String() string {
	return string(k)
}

type Error struct {
	Kind Kind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}

	return e.Err.Error()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Wrap attaches kind to err. A nil err stays nil.
func Wrap(kind Kind, err error) error {
	if err == nil {
		return nil
	}

	return &Error{Kind: kind, Err: err}
}

// New creates a classified error with a plain message.
func New(kind Kind, message string) error {
	return &Error{Kind: kind, Err: errors.New(message)}
}

// KindOf returns the first explicit kind found in the chain of err.
// Errors without one are guessed from well-known standard library types.
func KindOf(err error) Kind {
	if err == nil {
		return Unknown
	}

	var classified *Error
	if errors.As(err, &classified) {
		return classified.Kind
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return Network
	case errors.Is(err, exec.ErrNotFound):
		return Environment
	case errors.Is(err, os.ErrPermission), errors.Is(err, os.ErrNotExist):
		return Environment
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return Network
	}

	return Unknown
}
