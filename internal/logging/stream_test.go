package logging

import (
	"context"
	"log/slog"
	"testing"
	"time"
)

func TestStreamHubFetchAdvancesCursor(t *testing.T) {
	hub := NewStreamHub(16)
	hub.Publish(LogEvent{Message: "one"})
	hub.Publish(LogEvent{Message: "two"})

	events, cursor, err := hub.Fetch(context.Background(), 0, 10, 0)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 2 {
		t.Fatalf("expected 2 events, got %d", len(events))
	}
	if events[0].Message != "one" || events[1].Message != "two" {
		t.Fatalf("unexpected order: %+v", events)
	}
	if cursor != events[1].Sequence {
		t.Fatalf("cursor %d should match last sequence %d", cursor, events[1].Sequence)
	}

	events, cursor2, err := hub.Fetch(context.Background(), cursor, 10, 0)
	if err != nil {
		t.Fatalf("Fetch after cursor: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("expected no new events, got %d", len(events))
	}
	if cursor2 != cursor {
		t.Fatalf("cursor should be stable when empty: %d vs %d", cursor2, cursor)
	}
}

func TestStreamHubBoundedWindow(t *testing.T) {
	hub := NewStreamHub(3)
	for i := 0; i < 10; i++ {
		hub.Publish(LogEvent{Message: "m"})
	}
	if got := len(hub.Tail(100)); got != 3 {
		t.Fatalf("window should cap retained events at 3, got %d", got)
	}
	if first := hub.FirstSequence(); first != 8 {
		t.Fatalf("expected first retained sequence 8, got %d", first)
	}
}

func TestStreamHubFetchWaitsForPublish(t *testing.T) {
	hub := NewStreamHub(8)

	go func() {
		time.Sleep(20 * time.Millisecond)
		hub.Publish(LogEvent{Message: "late"})
	}()

	start := time.Now()
	events, _, err := hub.Fetch(context.Background(), 0, 10, 2*time.Second)
	if err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	if len(events) != 1 || events[0].Message != "late" {
		t.Fatalf("expected the late event, got %+v", events)
	}
	if time.Since(start) >= 2*time.Second {
		t.Fatal("Fetch should return as soon as an event arrives")
	}
}

func TestStreamHubFetchHonorsContextCancel(t *testing.T) {
	hub := NewStreamHub(8)
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()

	_, _, err := hub.Fetch(ctx, 0, 10, 5*time.Second)
	if err == nil {
		t.Fatal("expected context cancellation error")
	}
}

func TestFilterByComponent(t *testing.T) {
	events := []LogEvent{
		{Message: "a", Component: "engine"},
		{Message: "b", Component: "ipc"},
		{Message: "c", Component: "Engine"},
	}
	kept := FilterByComponent(events, "engine")
	if len(kept) != 2 || kept[0].Message != "a" || kept[1].Message != "c" {
		t.Fatalf("unexpected filter result: %+v", kept)
	}
	if got := FilterByComponent(events, ""); len(got) != 3 {
		t.Fatalf("empty name should keep everything, got %d", len(got))
	}
}

type captureSink struct {
	events chan LogEvent
}

func (s *captureSink) ConsumeLogEvent(event LogEvent) {
	s.events <- event
}

func TestStreamHubDeliversToSinks(t *testing.T) {
	hub := NewStreamHub(8)
	sink := &captureSink{events: make(chan LogEvent, 1)}
	hub.AddSink(sink)

	hub.Publish(LogEvent{Message: "sunk"})

	select {
	case event := <-sink.events:
		if event.Message != "sunk" || event.Sequence == 0 {
			t.Fatalf("unexpected sink event: %+v", event)
		}
	case <-time.After(time.Second):
		t.Fatal("sink did not receive the event")
	}
}

func TestStreamHandlerPublishesRecords(t *testing.T) {
	hub := NewStreamHub(8)
	logger := slog.New(NewStreamHandler(hub, nil))
	logger = logger.With(
		String(FieldComponent, "session"),
		String(FieldChannel, "engine"),
	)

	logger.Info("notification dropped", String(FieldMethod, "redraw"), Int("count", 2))

	events := hub.Tail(1)
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	event := events[0]
	if event.Component != "session" || event.Channel != "engine" || event.Method != "redraw" {
		t.Fatalf("header fields not extracted: %+v", event)
	}
	if len(event.Fields) != 1 || event.Fields[0].Label != "Count" || event.Fields[0].Value != "2" {
		t.Fatalf("detail fields not rendered: %+v", event.Fields)
	}
}
