package logging

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// EventArchive persists log events as JSON lines for post-run inspection.
type EventArchive struct {
	mu   sync.Mutex
	file *os.File
	enc  *json.Encoder
	path string
}

func NewEventArchive(path string) (*EventArchive, error) {
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o664)
	if err != nil {
		return nil, fmt.Errorf("open event archive: %w", err)
	}
	return &EventArchive{file: file, enc: json.NewEncoder(file), path: path}, nil
}

func (a *EventArchive) Path() string {
	return a.path
}

// ConsumeLogEvent implements LogEventSink; encode failures are swallowed so a
// full disk never breaks logging itself.
func (a *EventArchive) ConsumeLogEvent(event LogEvent) {
	_ = a.Append(event)
}

func (a *EventArchive) Append(event LogEvent) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return fmt.Errorf("event archive closed")
	}
	if err := a.enc.Encode(event); err != nil {
		return fmt.Errorf("append event: %w", err)
	}
	return nil
}

// ReadSince returns up to limit archived events with sequence greater than seq.
func (a *EventArchive) ReadSince(seq uint64, limit int) ([]LogEvent, error) {
	a.mu.Lock()
	path := a.path
	a.mu.Unlock()
	return ReadArchivedEvents(path, seq, limit)
}

// ReadArchivedEvents reads an archive file without opening it for writing,
// returning up to limit events with sequence greater than seq. A missing file
// reads as empty.
func ReadArchivedEvents(path string, seq uint64, limit int) ([]LogEvent, error) {
	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open event archive: %w", err)
	}
	defer file.Close()

	var events []LogEvent
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event LogEvent
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		if event.Sequence <= seq {
			continue
		}
		events = append(events, event)
		if limit > 0 && len(events) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return events, fmt.Errorf("read event archive: %w", err)
	}
	return events, nil
}

func (a *EventArchive) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.file == nil {
		return nil
	}
	err := a.file.Close()
	a.file = nil
	return err
}
