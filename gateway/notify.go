package gateway

import (
	"context"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// Level is the severity of a user-facing notification.
type Level uint8

const (
	LevelInfo Level = iota
	LevelSuccess
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelSuccess:
		return "success"
	case LevelError:
		return "error"
	default:
		return "info"
	}
}

// Notification is a message meant for the person using the application (a toast in a
// UI, a line on stderr in a CLI).
type Notification struct {
	Level     Level
	Kind      Kind
	Message   string
	RequestID string
}

// Notifier surfaces notifications. Notify must not block for long; it runs on the
// calling goroutine of the request that produced it.
type Notifier interface {
	Notify(ctx context.Context, n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, n Notification)

func (f NotifierFunc) Notify(ctx context.Context, n Notification) {
	f(ctx, n)
}

// NoOpNotifier discards notifications.
type NoOpNotifier struct{}

func (NoOpNotifier) Notify(context.Context, Notification) {}

// ChannelNotifier delivers notifications on a buffered channel. When the buffer is full
// the notification is dropped and counted.
type ChannelNotifier struct {
	ch      chan Notification
	dropped atomic.Uint64
}

// NewChannelNotifier returns a notifier with the given buffer size (minimum 1).
func NewChannelNotifier(buffer int) *ChannelNotifier {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelNotifier{ch: make(chan Notification, buffer)}
}

func (c *ChannelNotifier) Notify(_ context.Context, n Notification) {
	select {
	case c.ch <- n:
	default:
		c.dropped.Add(1)
	}
}

// Notifications returns the delivery channel.
func (c *ChannelNotifier) Notifications() <-chan Notification {
	return c.ch
}

// Dropped returns the number of notifications lost to a full buffer.
func (c *ChannelNotifier) Dropped() uint64 {
	return c.dropped.Load()
}

// LogNotifier writes notifications to a zerolog logger.
type LogNotifier struct {
	logger zerolog.Logger
}

// NewLogNotifier returns a notifier logging through logger.
func NewLogNotifier(logger zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (l *LogNotifier) Notify(_ context.Context, n Notification) {
	lvl := zerolog.InfoLevel
	if n.Level == LevelError {
		lvl = zerolog.WarnLevel
	}
	ev := l.logger.WithLevel(lvl).Str("kind", n.Kind.String())
	if n.RequestID != "" {
		ev = ev.Str("request_id", n.RequestID)
	}
	ev.Msg(n.Message)
}
