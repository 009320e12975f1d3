package listctl

import (
	"context"
	"errors"
	"log/slog"

	"github.com/phillip-england/distconsole/internal/export"
	"github.com/phillip-england/distconsole/internal/remote"
	"github.com/phillip-england/distconsole/internal/session"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelWarn    Level = "warn"
	LevelError   Level = "error"
)

// Notice is a short message for the operator about the last fetch or change.
type Notice struct {
	Screen  string            `json:"screen"`
	Level   Level             `json:"level"`
	Message string            `json:"message"`
	Fields  map[string]string `json:"fields,omitempty"`
	Login   bool              `json:"login,omitempty"`
}

type Notifier interface {
	Notify(ctx context.Context, n Notice)
}

type NotifierFunc func(ctx context.Context, n Notice)

func (f NotifierFunc) Notify(ctx context.Context, n Notice) { f(ctx, n) }

type logNotifier struct {
	log *slog.Logger
}

// NewLogNotifier writes notices to a structured logger.
func NewLogNotifier(logger *slog.Logger) Notifier {
	if logger == nil {
		logger = slog.Default()
	}
	return logNotifier{log: logger.With("module", "listctl")}
}

func (l logNotifier) Notify(ctx context.Context, n Notice) {
	level := slog.LevelInfo
	switch n.Level {
	case LevelWarn:
		level = slog.LevelWarn
	case LevelError:
		level = slog.LevelError
	}
	l.log.Log(ctx, level, n.Message, "screen", n.Screen, "login", n.Login)
}

// NoticeFromError turns an error from the taxonomy into operator text.
func NoticeFromError(screen string, err error) Notice {
	n := Notice{Screen: screen, Level: LevelError}
	var ve *ValidationError
	var fe *remote.FetchError
	switch {
	case errors.As(err, &ve):
		n.Message = "Please correct the highlighted fields."
		n.Fields = ve.Fields
	case errors.Is(err, session.ErrUnauthenticated):
		n.Message = "Your session has expired. Please sign in again."
		n.Login = true
	case errors.As(err, &fe):
		n.Message = fe.Message
	case errors.Is(err, ErrBusy):
		n.Level = LevelWarn
		n.Message = "That change is already being saved."
	case errors.Is(err, export.ErrNothingToExport):
		n.Level = LevelWarn
		n.Message = "Nothing to export."
	default:
		n.Message = remote.GenericMessage
	}
	return n
}
