package events

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

type countingSink struct {
	count atomic.Int64
}

func (s *countingSink) Emit(context.Context, Event) {
	s.count.Add(1)
}

type gateSink struct {
	gate chan struct{}
}

func (s *gateSink) Emit(context.Context, Event) {
	<-s.gate
}

func TestDisabledDispatcherIsNil(t *testing.T) {
	d := NewDispatcher(Config{Enabled: false}, &countingSink{})
	if d != nil {
		t.Fatal("expected nil dispatcher when disabled")
	}
	d.Emit(context.Background(), Event{Type: "login"})
	d.Close()
	if d.Dropped() != 0 || d.Stats() != (Stats{}) {
		t.Fatal("nil dispatcher must report zero stats")
	}
}

func TestCloseDrainsQueuedEvents(t *testing.T) {
	sink := &countingSink{}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 64}, sink)
	for i := 0; i < 50; i++ {
		d.Emit(context.Background(), Event{Type: "login"})
	}
	d.Close()

	if got := sink.count.Load(); got != 50 {
		t.Fatalf("expected 50 delivered events, got %d", got)
	}
	if got := d.Stats().Delivered; got != 50 {
		t.Fatalf("expected Delivered=50, got %d", got)
	}

	d.Emit(context.Background(), Event{Type: "logout"})
	if got := sink.count.Load(); got != 50 {
		t.Fatalf("emit after close must be ignored, got %d", got)
	}
}

func TestDropIfFullNeverBlocks(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1, DropIfFull: true}, sink)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 20; i++ {
			d.Emit(context.Background(), Event{Type: "login"})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Emit blocked with DropIfFull")
	}

	if d.Dropped() == 0 {
		t.Fatal("expected dropped events with a stalled sink")
	}
	close(sink.gate)
	d.Close()
}

func TestBlockingEmitHonoursContext(t *testing.T) {
	sink := &gateSink{gate: make(chan struct{})}
	d := NewDispatcher(Config{Enabled: true, BufferSize: 1}, sink)

	// First event occupies the worker, second fills the buffer.
	d.Emit(context.Background(), Event{Type: "a"})
	d.Emit(context.Background(), Event{Type: "b"})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	d.Emit(ctx, Event{Type: "c"})

	if d.Dropped() < 1 {
		t.Fatal("expected the timed-out emit to be counted as dropped")
	}
	close(sink.gate)
	d.Close()
}

func TestEmitRacingCloseIsAccounted(t *testing.T) {
	for round := 0; round < 100; round++ {
		sink := &countingSink{}
		d := NewDispatcher(Config{Enabled: true, BufferSize: 4, DropIfFull: true}, sink)

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for j := 0; j < 10; j++ {
					d.Emit(context.Background(), Event{Type: "login"})
				}
			}()
		}
		d.Close()
		wg.Wait()

		if n := len(d.ch); n != 0 {
			t.Fatalf("round %d: %d events queued after close", round, n)
		}
		st := d.Stats()
		if st.Delivered != uint64(sink.count.Load()) {
			t.Fatalf("round %d: Delivered=%d but sink saw %d", round, st.Delivered, sink.count.Load())
		}
		if st.Delivered+st.Dropped > 80 {
			t.Fatalf("round %d: accounted for more events than emitted: %+v", round, st)
		}
	}
}

func TestPanickingSinkDoesNotStopDelivery(t *testing.T) {
	var calls atomic.Int64
	sink := SinkFunc(func(_ context.Context, e Event) {
		calls.Add(1)
		if e.Type == "boom" {
			panic("sink failure")
		}
	})
	d := NewDispatcher(Config{Enabled: true, BufferSize: 8}, sink)
	d.Emit(context.Background(), Event{Type: "boom"})
	d.Emit(context.Background(), Event{Type: "login"})
	d.Close()

	st := d.Stats()
	if calls.Load() != 2 || st.Panicked != 1 || st.Delivered != 1 {
		t.Fatalf("unexpected stats %+v after %d calls", st, calls.Load())
	}
}

func TestJSONWriterSinkWritesLines(t *testing.T) {
	var buf bytes.Buffer
	sink := NewJSONWriterSink(&buf)
	sink.Emit(context.Background(), Event{Type: "login", UserID: 1, Success: true})
	sink.Emit(context.Background(), Event{Type: "logout", UserID: 1, Success: true})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}
	var e Event
	if err := json.Unmarshal([]byte(lines[1]), &e); err != nil {
		t.Fatalf("invalid json line: %v", err)
	}
	if e.Type != "logout" || e.UserID != 1 || !e.Success {
		t.Fatalf("unexpected event %+v", e)
	}
}

func TestChannelSink(t *testing.T) {
	sink := NewChannelSink(0)
	sink.Emit(context.Background(), Event{Type: "login"})
	if got := (<-sink.Events()).Type; got != "login" {
		t.Fatalf("unexpected event type %q", got)
	}
}
