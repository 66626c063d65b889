package logs

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

const (
	readBufferSize = 64 * 1024
	pollInterval   = 250 * time.Millisecond
)

// TailOptions controls a Tail call. A negative Offset means "the last Limit
// lines"; a non-negative Offset reads forward from that byte position.
type TailOptions struct {
	Offset int64
	Limit  int
	Follow bool
	Wait   time.Duration
}

// TailResult carries the lines read and the offset to resume from.
type TailResult struct {
	Lines  []string
	Offset int64
}

// Tail reads log lines from path per the options. A missing file is not an
// error; it reports no lines and offset zero so pollers keep working while
// the host has not written anything yet.
func Tail(ctx context.Context, path string, opts TailOptions) (TailResult, error) {
	switch info, err := os.Stat(path); {
	case errors.Is(err, os.ErrNotExist):
		return TailResult{}, nil
	case err != nil:
		return TailResult{Offset: opts.Offset}, fmt.Errorf("stat log file: %w", err)
	case info.IsDir():
		return TailResult{Offset: opts.Offset}, fmt.Errorf("log path %q is a directory", path)
	}
	if opts.Wait < 0 {
		opts.Wait = 0
	}

	var (
		lines  []string
		offset int64
		err    error
	)
	if opts.Offset < 0 {
		lines, offset, err = readTailWindow(path, opts.Limit)
	} else {
		lines, offset, err = readSince(path, opts.Offset)
	}
	if err != nil {
		return TailResult{Offset: opts.Offset}, err
	}
	if len(lines) == 0 && opts.Follow && opts.Wait > 0 {
		return followUntil(ctx, path, offset, opts.Wait)
	}
	return TailResult{Lines: lines, Offset: offset}, nil
}

// readTailWindow returns the newest limit complete lines and the offset just
// past the last one. Memory stays bounded by limit, not file size.
func readTailWindow(path string, limit int) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	if limit <= 0 {
		end, err := file.Seek(0, io.SeekEnd)
		if err != nil {
			return nil, 0, fmt.Errorf("determine log offset: %w", err)
		}
		return nil, end, nil
	}

	window := newLineWindow(limit)
	offset, err := scanLines(file, 0, window.push)
	if err != nil {
		return nil, 0, err
	}
	return window.lines(), offset, nil
}

// readSince returns complete lines starting at offset and the offset to
// resume from. An offset beyond the current size, left over from a rotated
// or truncated file, restarts at the end.
func readSince(path string, offset int64) ([]string, int64, error) {
	file, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return nil, 0, fmt.Errorf("stat log file: %w", err)
	}
	if offset > info.Size() {
		offset = info.Size()
	}
	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return nil, 0, fmt.Errorf("seek log file: %w", err)
	}

	var lines []string
	end, err := scanLines(file, offset, func(line string) {
		lines = append(lines, line)
	})
	if err != nil {
		return nil, 0, err
	}
	return lines, end, nil
}

// scanLines feeds each complete line to push and returns the offset just
// past the last one. A trailing line with no newline yet is mid-write; it
// stays unread so the next poll delivers it whole.
func scanLines(file *os.File, start int64, push func(string)) (int64, error) {
	reader := bufio.NewReaderSize(file, readBufferSize)
	pos := start
	for {
		line, err := reader.ReadString('\n')
		switch {
		case err == nil:
			pos += int64(len(line))
			push(strings.TrimRight(line, "\r\n"))
		case errors.Is(err, io.EOF):
			return pos, nil
		default:
			return 0, fmt.Errorf("read log file: %w", err)
		}
	}
}

// followUntil polls for new content until something arrives, the wait
// elapses, or ctx ends. The returned offset is always current so callers can
// resume even after cancellation.
func followUntil(ctx context.Context, path string, offset int64, wait time.Duration) (TailResult, error) {
	deadline := time.NewTimer(wait)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		lines, next, err := readSince(path, offset)
		if err != nil {
			return TailResult{Offset: offset}, err
		}
		offset = next
		if len(lines) > 0 {
			return TailResult{Lines: lines, Offset: offset}, nil
		}

		select {
		case <-ctx.Done():
			return TailResult{Offset: offset}, ctx.Err()
		case <-deadline.C:
			return TailResult{Offset: offset}, nil
		case <-ticker.C:
		}
	}
}

// lineWindow keeps the newest n lines without holding the whole file.
type lineWindow struct {
	buf  []string
	next int
	full bool
}

func newLineWindow(n int) *lineWindow {
	return &lineWindow{buf: make([]string, n)}
}

func (w *lineWindow) push(line string) {
	w.buf[w.next] = line
	w.next++
	if w.next == len(w.buf) {
		w.next = 0
		w.full = true
	}
}

func (w *lineWindow) lines() []string {
	if !w.full {
		return append([]string(nil), w.buf[:w.next]...)
	}
	out := make([]string, 0, len(w.buf))
	out = append(out, w.buf[w.next:]...)
	return append(out, w.buf[:w.next]...)
}
