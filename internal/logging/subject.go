package logging

import "strings"

// FormatSubject builds the channel/session/method subject string used in console output.
func FormatSubject(channel, sessionID, method string) string {
	channel = strings.TrimSpace(channel)
	sessionID = ShortSessionID(strings.TrimSpace(sessionID))
	method = strings.TrimSpace(method)
	parts := make([]string, 0, 3)
	if channel != "" {
		var formatted string
		if len(channel) > 1 {
			formatted = strings.ToUpper(channel[:1]) + strings.ToLower(channel[1:])
		} else {
			formatted = strings.ToUpper(channel)
		}
		parts = append(parts, formatted)
	}
	switch {
	case sessionID != "" && method != "":
		parts = append(parts, "Session "+sessionID+" ("+method+")")
	case sessionID != "":
		parts = append(parts, "Session "+sessionID)
	case method != "":
		parts = append(parts, method)
	}
	return strings.Join(parts, " · ")
}

// ShortSessionID trims a UUID-style session identifier to its leading segment
// for console display. Full ids stay in structured output.
func ShortSessionID(id string) string {
	if i := strings.IndexByte(id, '-'); i > 0 {
		return id[:i]
	}
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
