package logging

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"
)

// LogEvent is a structured snapshot of one log record for streaming consumers.
type LogEvent struct {
	Sequence  uint64        `json:"sequence"`
	Timestamp time.Time     `json:"timestamp"`
	Level     string        `json:"level"`
	Message   string        `json:"message"`
	Component string        `json:"component,omitempty"`
	Channel   string        `json:"channel,omitempty"`
	SessionID string        `json:"session_id,omitempty"`
	Method    string        `json:"method,omitempty"`
	Fields    []DetailField `json:"fields,omitempty"`
}

// DetailField is one rendered key/value pair attached to a LogEvent.
type DetailField struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// LogEventSink observes every event published to a StreamHub.
type LogEventSink interface {
	ConsumeLogEvent(LogEvent)
}

// StreamHub retains a bounded window of recent log events and serves
// cursor-based reads for streaming clients.
type StreamHub struct {
	mu       sync.Mutex
	cond     *sync.Cond
	capacity int
	events   []LogEvent
	nextSeq  uint64
	sinks    []LogEventSink
}

func NewStreamHub(capacity int) *StreamHub {
	if capacity < 1 {
		capacity = 1
	}
	hub := &StreamHub{capacity: capacity, nextSeq: 1}
	hub.cond = sync.NewCond(&hub.mu)
	return hub
}

// AddSink registers an observer invoked for every published event.
func (h *StreamHub) AddSink(sink LogEventSink) {
	if sink == nil {
		return
	}
	h.mu.Lock()
	h.sinks = append(h.sinks, sink)
	h.mu.Unlock()
}

func (h *StreamHub) Publish(event LogEvent) {
	h.mu.Lock()
	event.Sequence = h.nextSeq
	h.nextSeq++
	h.events = append(h.events, event)
	if overflow := len(h.events) - h.capacity; overflow > 0 {
		h.events = append(h.events[:0], h.events[overflow:]...)
	}
	sinks := make([]LogEventSink, len(h.sinks))
	copy(sinks, h.sinks)
	h.cond.Broadcast()
	h.mu.Unlock()

	for _, sink := range sinks {
		sink.ConsumeLogEvent(event)
	}
}

// Fetch returns events with sequence greater than since, up to limit. When no
// events are available and wait is positive it blocks until an event arrives,
// the wait elapses, or ctx is cancelled.
func (h *StreamHub) Fetch(ctx context.Context, since uint64, limit int, wait time.Duration) ([]LogEvent, uint64, error) {
	if limit <= 0 {
		limit = 100
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	events := h.snapshotLocked(since, limit)
	if len(events) > 0 || wait <= 0 {
		return events, nextCursor(events, since), nil
	}

	deadline := time.Now().Add(wait)
	timer := time.AfterFunc(wait, func() {
		h.cond.Broadcast()
	})
	defer timer.Stop()

	if ctx != nil {
		waitCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			<-waitCtx.Done()
			h.cond.Broadcast()
		}()
	}

	for {
		if ctx != nil && ctx.Err() != nil {
			return nil, since, ctx.Err()
		}
		events = h.snapshotLocked(since, limit)
		if len(events) > 0 {
			return events, nextCursor(events, since), nil
		}
		if !time.Now().Before(deadline) {
			return nil, since, nil
		}
		h.cond.Wait()
	}
}

// Tail returns up to limit of the most recent events.
func (h *StreamHub) Tail(limit int) []LogEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	if limit <= 0 || limit > len(h.events) {
		limit = len(h.events)
	}
	out := make([]LogEvent, limit)
	copy(out, h.events[len(h.events)-limit:])
	return out
}

// FirstSequence reports the oldest retained sequence, letting clients detect
// gaps after buffer overruns.
func (h *StreamHub) FirstSequence() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.events) == 0 {
		return h.nextSeq
	}
	return h.events[0].Sequence
}

// FilterByComponent keeps events whose component matches name, case
// insensitively. An empty name keeps everything.
func FilterByComponent(events []LogEvent, name string) []LogEvent {
	if name == "" {
		return events
	}
	kept := make([]LogEvent, 0, len(events))
	for _, event := range events {
		if strings.EqualFold(event.Component, name) {
			kept = append(kept, event)
		}
	}
	return kept
}

func (h *StreamHub) snapshotLocked(since uint64, limit int) []LogEvent {
	var out []LogEvent
	for _, event := range h.events {
		if event.Sequence <= since {
			continue
		}
		out = append(out, event)
		if len(out) >= limit {
			break
		}
	}
	return out
}

func nextCursor(events []LogEvent, since uint64) uint64 {
	if len(events) == 0 {
		return since
	}
	return events[len(events)-1].Sequence
}

// streamHandler converts records into LogEvents and publishes them to a hub.
type streamHandler struct {
	hub    *StreamHub
	level  *slog.LevelVar
	attrs  []slog.Attr
	prefix string
}

// NewStreamHandler returns a handler publishing every record at or above lvl
// to hub.
func NewStreamHandler(hub *StreamHub, lvl *slog.LevelVar) slog.Handler {
	if hub == nil {
		return noopHandler{}
	}
	return &streamHandler{hub: hub, level: lvl}
}

func (h *streamHandler) Enabled(_ context.Context, level slog.Level) bool {
	if h.level == nil {
		return true
	}
	return level >= h.level.Level()
}

func (h *streamHandler) Handle(_ context.Context, record slog.Record) error {
	h.hub.Publish(eventFromRecord(record, h.prefix, h.attrs))
	return nil
}

func (h *streamHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clone := h.clone()
	clone.attrs = append(clone.attrs, attrs...)
	return clone
}

func (h *streamHandler) WithGroup(name string) slog.Handler {
	clone := h.clone()
	clone.prefix = joinKey(clone.prefix, name)
	return clone
}

func (h *streamHandler) clone() *streamHandler {
	return &streamHandler{
		hub:    h.hub,
		level:  h.level,
		attrs:  append([]slog.Attr(nil), h.attrs...),
		prefix: h.prefix,
	}
}

func eventFromRecord(record slog.Record, prefix string, handlerAttrs []slog.Attr) LogEvent {
	timestamp := record.Time
	if timestamp.IsZero() {
		timestamp = time.Now()
	}

	kvs := make([]kv, 0, record.NumAttrs()+len(handlerAttrs))
	for _, attr := range handlerAttrs {
		flattenAttr(&kvs, prefix, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(&kvs, prefix, attr)
		return true
	})
	kvs = collapseDuplicateKeys(kvs)

	event := LogEvent{
		Timestamp: timestamp.UTC(),
		Level:     levelLabel(record.Level),
		Message:   record.Message,
	}
	for _, attr := range kvs {
		switch attr.key {
		case FieldComponent:
			event.Component = attrString(attr.value)
		case FieldChannel:
			event.Channel = attrString(attr.value)
		case FieldSessionID:
			event.SessionID = attrString(attr.value)
		case FieldMethod:
			event.Method = attrString(attr.value)
		default:
			event.Fields = append(event.Fields, DetailField{
				Label: displayLabel(attr.key),
				Value: formatValue(attr.value),
			})
		}
	}
	return event
}
