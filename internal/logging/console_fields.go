package logging

import (
	"log/slog"
	"strconv"
	"strings"
)

type infoField struct {
	label string
	value string
}

const (
	infoAttrLimit       = 8
	infoValueDisplayCap = 120
	errorValueCap       = 200
)

// infoHighlightKeys are surfaced first in console info output, in this order.
var infoHighlightKeys = []string{
	FieldMsgID,
	FieldDirection,
	"state",
	"reason",
	"socket",
	"pid",
	"exit_code",
	"width",
	"height",
	"bytes",
	"count",
	"error",
	FieldErrorHint,
	FieldImpact,
	FieldEventType,
	FieldAlert,
}

func selectInfoFields(attrs []kv, limit int) ([]infoField, int) {
	if limit <= 0 {
		limit = infoAttrLimit
	}
	byKey := make(map[string]kv, len(attrs))
	order := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		if attr.key == "" || skipInfoKey(attr.key) {
			continue
		}
		if _, ok := byKey[attr.key]; !ok {
			order = append(order, attr.key)
		}
		byKey[attr.key] = attr
	}

	used := make(map[string]bool, len(byKey))
	fields := make([]infoField, 0, limit)
	hidden := 0
	add := func(key string) {
		attr, ok := byKey[key]
		if !ok || used[key] {
			return
		}
		used[key] = true
		value := formatValueForKey(key, attr.value)
		if value == "" {
			return
		}
		if len(fields) >= limit || shouldHideInfoValue(key, value) {
			hidden++
			return
		}
		fields = append(fields, infoField{label: displayLabel(key), value: value})
	}
	for _, key := range infoHighlightKeys {
		add(key)
	}
	for _, key := range order {
		add(key)
	}
	return fields, hidden
}

// skipInfoKey drops keys the log header already renders.
func skipInfoKey(key string) bool {
	switch key {
	case FieldComponent, FieldChannel, FieldSessionID, FieldMethod:
		return true
	case FieldRunID:
		// Stamped on every record of a run; debug output still shows it.
		return true
	}
	return false
}

func formatValueForKey(key string, v slog.Value) string {
	if key == "error" || key == FieldErrorHint {
		return truncateErrorValue(attrString(v))
	}
	if isByteSizeKey(key) {
		if n, ok := valueAsInt(v); ok && n >= 0 {
			return formatByteSize(n)
		}
	}
	return formatValue(v)
}

func isByteSizeKey(key string) bool {
	return key == "bytes" || key == "size" || strings.HasSuffix(key, "_bytes") || strings.HasSuffix(key, "_size")
}

func valueAsInt(v slog.Value) (int64, bool) {
	v = v.Resolve()
	switch v.Kind() {
	case slog.KindInt64:
		return v.Int64(), true
	case slog.KindUint64:
		u := v.Uint64()
		if u > 1<<62 {
			return 0, false
		}
		return int64(u), true
	default:
		return 0, false
	}
}

func formatByteSize(n int64) string {
	const unit = 1024
	if n < unit {
		return strconv.FormatInt(n, 10) + " B"
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	units := []string{"KiB", "MiB", "GiB", "TiB"}
	if exp >= len(units) {
		exp = len(units) - 1
	}
	return strconv.FormatFloat(float64(n)/float64(div), 'f', 1, 64) + " " + units[exp]
}

func truncateErrorValue(s string) string {
	s = strings.TrimSpace(s)
	if len(s) <= errorValueCap {
		return s
	}
	return s[:errorValueCap] + "…"
}

func shouldHideInfoValue(key, value string) bool {
	if key == "error" || key == FieldErrorHint {
		return false
	}
	return len(value) > infoValueDisplayCap
}

func displayLabel(key string) string {
	switch key {
	case FieldMsgID:
		return "Msg id"
	case FieldDirection:
		return "Direction"
	case FieldEventType:
		return "Event"
	case FieldErrorHint:
		return "Hint"
	case FieldImpact:
		return "Impact"
	case FieldAlert:
		return "Alert"
	case "exit_code":
		return "Exit code"
	case "error":
		return "Error"
	}
	return titleizeKey(key)
}

func titleizeKey(key string) string {
	cleaned := strings.ReplaceAll(key, "_", " ")
	cleaned = strings.ReplaceAll(cleaned, ".", " ")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return key
	}
	return capitalizeASCII(cleaned)
}

func capitalizeASCII(s string) string {
	if s == "" {
		return s
	}
	c := s[0]
	if c >= 'a' && c <= 'z' {
		return string(c-'a'+'A') + s[1:]
	}
	return s
}
