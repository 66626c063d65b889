package logging

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// kv is one flattened attribute, group nesting collapsed into a dotted key.
type kv struct {
	key   string
	value slog.Value
}

// consoleSink is the write side shared by every prettyHandler clone. The
// suppression cache lives here so derived loggers feed one view of what was
// already printed.
type consoleSink struct {
	mu   sync.Mutex
	w    io.Writer
	seen map[string]map[string]string
}

// prettyHandler renders records as a header line plus an indented field tail.
// INFO and above shows a curated subset of fields; DEBUG shows every
// attribute verbatim.
type prettyHandler struct {
	out       *consoleSink
	level     *slog.LevelVar
	attrs     []slog.Attr
	prefix    string
	addSource bool
}

func newPrettyHandler(w io.Writer, lvl *slog.LevelVar, addSource bool) slog.Handler {
	return &prettyHandler{
		out:       &consoleSink{w: w, seen: make(map[string]map[string]string)},
		level:     lvl,
		addSource: addSource,
	}
}

func (h *prettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// headerFields are the attrs the header line renders. They stay in the
// flattened attr list; the info tail filters them out by key.
type headerFields struct {
	component string
	channel   string
	sessionID string
	method    string
}

type consoleRecord struct {
	ts      time.Time
	level   slog.Level
	message string
	src     *slog.Source
	header  headerFields
	attrs   []kv
}

func (h *prettyHandler) Handle(_ context.Context, record slog.Record) error {
	if record.Level < h.level.Level() {
		return nil
	}
	rec := h.collect(record)

	var buf bytes.Buffer
	buf.Grow(192 + 32*len(rec.attrs))
	h.appendHeader(&buf, rec)

	h.out.mu.Lock()
	defer h.out.mu.Unlock()
	if rec.level < slog.LevelInfo {
		appendRawAttrs(&buf, rec.attrs)
	} else {
		h.appendInfoTail(&buf, rec)
	}
	_, err := h.out.w.Write(buf.Bytes())
	return err
}

// collect flattens handler and record attrs into one deduplicated list and
// pulls out the header fields. First occurrence wins for the header so
// handler-level attrs beat per-record ones.
func (h *prettyHandler) collect(record slog.Record) consoleRecord {
	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	message := strings.TrimSpace(record.Message)
	if message == "" {
		message = "(no message)"
	}

	flat := make([]kv, 0, record.NumAttrs()+len(h.attrs))
	for _, attr := range h.attrs {
		flattenAttr(&flat, h.prefix, attr)
	}
	record.Attrs(func(attr slog.Attr) bool {
		flattenAttr(&flat, h.prefix, attr)
		return true
	})

	var hdr headerFields
	for _, attr := range flat {
		switch attr.key {
		case FieldComponent:
			if hdr.component == "" {
				hdr.component = attrString(attr.value)
			}
		case FieldChannel:
			if hdr.channel == "" {
				hdr.channel = attrString(attr.value)
			}
		case FieldSessionID:
			if hdr.sessionID == "" {
				hdr.sessionID = attrString(attr.value)
			}
		case FieldMethod:
			if hdr.method == "" {
				hdr.method = attrString(attr.value)
			}
		}
	}

	return consoleRecord{
		ts:      ts,
		level:   record.Level,
		message: message,
		src:     record.Source(),
		header:  hdr,
		attrs:   collapseDuplicateKeys(flat),
	}
}

func (h *prettyHandler) appendHeader(buf *bytes.Buffer, rec consoleRecord) {
	buf.WriteString(formatTimestamp(rec.ts))
	buf.WriteByte(' ')
	buf.WriteString(levelLabel(rec.level))
	if rec.header.component != "" {
		buf.WriteString(" [")
		buf.WriteString(rec.header.component)
		buf.WriteByte(']')
	}
	if subject := FormatSubject(rec.header.channel, rec.header.sessionID, rec.header.method); subject != "" {
		buf.WriteByte(' ')
		buf.WriteString(subject)
	}
	buf.WriteString(" – ")
	buf.WriteString(rec.message)
	if h.addSource && rec.src != nil {
		buf.WriteString(" [")
		buf.WriteString(filepath.Base(rec.src.File))
		buf.WriteByte(':')
		buf.WriteString(strconv.Itoa(rec.src.Line))
		buf.WriteByte(']')
	}
	buf.WriteByte('\n')
}

func appendRawAttrs(buf *bytes.Buffer, attrs []kv) {
	for _, attr := range attrs {
		buf.WriteString("    ")
		buf.WriteString(attr.key)
		buf.WriteString(": ")
		buf.WriteString(formatValue(attr.value))
		buf.WriteByte('\n')
	}
}

// appendInfoTail renders the curated field list. Callers hold out.mu: the
// suppression cache is consulted and updated here.
func (h *prettyHandler) appendInfoTail(buf *bytes.Buffer, rec consoleRecord) {
	fields, hidden := selectInfoFields(rec.attrs, 0)
	fields = h.suppressUnchanged(rec.header, fields, rec.level)
	for _, field := range fields {
		buf.WriteString("    - ")
		buf.WriteString(field.label)
		buf.WriteString(": ")
		buf.WriteString(field.value)
		buf.WriteByte('\n')
	}
	if hidden > 0 {
		buf.WriteString("    + ")
		buf.WriteString(strconv.Itoa(hidden))
		if hidden == 1 {
			buf.WriteString(" more field hidden\n")
		} else {
			buf.WriteString(" more fields hidden\n")
		}
	}
}

// suppressUnchanged drops fields whose value matched the previous record for
// the same subject, keeping steady-state output quiet. WARN and above always
// render in full but still refresh the cache.
func (h *prettyHandler) suppressUnchanged(hdr headerFields, fields []infoField, level slog.Level) []infoField {
	if len(fields) == 0 {
		return fields
	}
	key := hdr.component + "|" + hdr.channel + "|" + hdr.sessionID
	if key == "||" {
		return fields
	}
	cache := h.out.seen[key]
	if cache == nil {
		cache = make(map[string]string)
		h.out.seen[key] = cache
	}
	if level > slog.LevelInfo {
		for _, field := range fields {
			cache[field.label] = field.value
		}
		return fields
	}
	kept := fields[:0]
	for _, field := range fields {
		if cache[field.label] == field.value {
			continue
		}
		cache[field.label] = field.value
		kept = append(kept, field)
	}
	return kept
}

func (h *prettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}
	clone := h.clone()
	clone.attrs = append(clone.attrs, attrs...)
	return clone
}

func (h *prettyHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	clone := h.clone()
	clone.prefix = joinKey(clone.prefix, name)
	return clone
}

func (h *prettyHandler) clone() *prettyHandler {
	return &prettyHandler{
		out:       h.out,
		level:     h.level,
		attrs:     append([]slog.Attr(nil), h.attrs...),
		prefix:    h.prefix,
		addSource: h.addSource,
	}
}

// collapseDuplicateKeys keeps each key at its first position with its last
// value, so repeated With calls update rather than repeat a field.
func collapseDuplicateKeys(attrs []kv) []kv {
	if len(attrs) < 2 {
		return attrs
	}
	index := make(map[string]int, len(attrs))
	out := make([]kv, 0, len(attrs))
	for _, attr := range attrs {
		if attr.key == "" {
			continue
		}
		if at, ok := index[attr.key]; ok {
			out[at].value = attr.value
			continue
		}
		index[attr.key] = len(out)
		out = append(out, attr)
	}
	return out
}

func flattenAttr(dst *[]kv, prefix string, attr slog.Attr) {
	if attr.Equal(slog.Attr{}) {
		return
	}
	attr.Value = attr.Value.Resolve()
	if attr.Value.Kind() == slog.KindGroup {
		next := prefix
		if attr.Key != "" {
			next = joinKey(prefix, attr.Key)
		}
		for _, member := range attr.Value.Group() {
			flattenAttr(dst, next, member)
		}
		return
	}
	*dst = append(*dst, kv{key: joinKey(prefix, attr.Key), value: attr.Value})
}

func joinKey(prefix, key string) string {
	switch {
	case prefix == "":
		return key
	case key == "":
		return prefix
	}
	return prefix + "." + key
}

func levelLabel(level slog.Level) string {
	if level >= slog.LevelError {
		return "ERROR"
	}
	if level >= slog.LevelWarn {
		return "WARN"
	}
	if level >= slog.LevelInfo {
		return "INFO"
	}
	return "DEBUG"
}
