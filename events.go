package authclient

import (
	"context"
	"io"

	"github.com/MrEthical07/authclient/internal/events"
)

// Session event types.
const (
	EventSessionRestored      = "session_restored"
	EventSessionRestoreFailed = "session_restore_failed"
	EventLogin                = "login"
	EventRegister             = "register"
	EventLogout               = "logout"
	EventForcedLogout         = "forced_logout"
	EventProfileUpdated       = "profile_updated"
)

// Event is one session transition delivered to an EventSink.
type Event = events.Event

// EventSink receives session events on the dispatcher goroutine.
type EventSink = events.Sink

// EventSinkFunc adapts a function to EventSink.
type EventSinkFunc = events.SinkFunc

// NoOpSink discards events.
type NoOpSink = events.NoOpSink

// ChannelSink delivers events on a buffered channel.
type ChannelSink = events.ChannelSink

// JSONWriterSink writes one JSON object per event.
type JSONWriterSink = events.JSONWriterSink

// EventStats counts delivered, dropped and lost events.
type EventStats = events.Stats

func NewChannelSink(buffer int) *ChannelSink {
	return events.NewChannelSink(buffer)
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return events.NewJSONWriterSink(w)
}

func (c *Client) emit(ctx context.Context, typ string, user *User, err error, meta map[string]string) {
	if c.events == nil {
		return
	}
	ev := Event{
		Timestamp: c.now().UTC(),
		Type:      typ,
		Success:   err == nil,
		Metadata:  meta,
	}
	if user != nil {
		ev.UserID = user.ID
		ev.Email = user.Email
	}
	if err != nil {
		ev.Error = err.Error()
	}
	c.events.Emit(context.WithoutCancel(ctx), ev)
}
