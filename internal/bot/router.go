package bot

import (
	"context"
	"runtime/debug"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"github.com/RafaelPil/Go-Telegram-Video-Bot/internal/metrics"
)

type HandlerFunc func(ctx context.Context, msg *tgbotapi.Message)

// Router maps commands to handlers and hands every other text message to the
// text handler. Each matched update runs in its own goroutine.
type Router struct {
	commands map[string]HandlerFunc
	text     HandlerFunc
	updates  metrics.Metrics
	work     sync.WaitGroup
}

func NewRouter(registry metrics.Metrics) *Router {
	return &Router{
		commands: make(map[string]HandlerFunc),
		updates:  registry.WithPrefix("updates"),
	}
}

func (r *Router) Command(name string, handler HandlerFunc) *Router {
	r.commands[name] = handler
	return r
}

func (r *Router) Text(handler HandlerFunc) *Router {
	r.text = handler
	return r
}

// Match returns the handler for msg and its name, or nil when the message is
// ignored (non-text messages and unknown commands).
func (r *Router) Match(msg *tgbotapi.Message) (HandlerFunc, string) {
	if msg == nil || msg.Chat == nil {
		return nil, ""
	}

	if msg.IsCommand() {
		name := msg.Command()
		return r.commands[name], name
	}

	if msg.Text == "" || r.text == nil {
		return nil, ""
	}

	return r.text, "text"
}

// Dispatch starts the matching handler in the background.
func (r *Router) Dispatch(ctx context.Context, update tgbotapi.Update) {
	msg := update.Message
	handler, name := r.Match(msg)
	if handler == nil {
		return
	}

	r.updates.Counter("total", metrics.Labels{"handler": name}).Inc()
	r.work.Add(1)
	go func() {
		defer r.work.Done()
		defer func() {
			if err := recover(); err != nil {
				messageLogger(msg).WithField("handler", name).
					Errorf("handler panic: %v\n%s", err, debug.Stack())
			}
		}()

		handler(ctx, msg)
	}()
}

// Wait blocks until all dispatched handlers return.
func (r *Router) Wait() {
	r.work.Wait()
}

// Register wires the handler methods into r.
func (h *Handler) Register(r *Router) *Router {
	return r.
		Command("start", h.Start).
		Command("clear", h.Clear).
		Text(h.Download)
}
