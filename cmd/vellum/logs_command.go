package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vellum/internal/ipc"
	"vellum/internal/logging"
	"vellum/internal/logs"
)

// tailFetch returns the next batch of log lines starting at offset, plus the
// offset to resume from. limit applies to the first batch only.
type tailFetch func(offset int64, limit int) ([]string, int64, error)

func newLogsCommand(ctx *commandContext) *cobra.Command {
	var follow bool
	var lines int
	var asJSON bool
	var component string

	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Display host logs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}

			socket := ctx.socketPath()
			client, err := ipc.Dial(socket)
			var fetch tailFetch
			switch {
			case err == nil:
				defer client.Close()
				fetch = hostTail(client, follow)
				if asJSON {
					fetch = hostEvents(client, follow, component)
				}
			case hostUnreachable(err):
				// Host is down; read the on-disk artifacts directly.
				if asJSON {
					fetch = archiveEvents(cmd.Context(), cfg.Paths.LogDir, follow, component)
				} else {
					pointer := filepath.Join(cfg.Paths.LogDir, "vellum.log")
					fetch = fileTail(cmd.Context(), pointer, follow)
				}
			default:
				return wrapDialError(err, socket)
			}
			return streamLogs(cmd, fetch, lines, follow)
		},
	}

	cmd.Flags().BoolVarP(&follow, "follow", "f", false, "Follow log output")
	cmd.Flags().IntVarP(&lines, "lines", "n", 10, "Number of lines to show (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit structured log events as JSON lines")
	cmd.Flags().StringVar(&component, "component", "", "Only show events from one component (with --json)")
	return cmd
}

func hostUnreachable(err error) bool {
	return errors.Is(err, syscall.ENOENT) || errors.Is(err, syscall.ECONNREFUSED) || os.IsNotExist(err)
}

// streamLogs prints one batch, then keeps polling in follow mode until the
// command context ends.
func streamLogs(cmd *cobra.Command, fetch tailFetch, lastN int, follow bool) error {
	offset, limit := tailWindow(lastN)
	for {
		batch, next, err := fetch(offset, limit)
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return nil
			}
			return fmt.Errorf("tail logs: %w", err)
		}
		for _, line := range batch {
			fmt.Fprintln(cmd.OutOrStdout(), line)
		}
		if !follow {
			if len(batch) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No log entries available")
			}
			return nil
		}
		offset, limit = next, 0
		if cmd.Context().Err() != nil {
			return nil
		}
	}
}

// tailWindow maps the --lines flag onto a starting offset and batch limit.
// lastN <= 0 asks for the whole file from the beginning.
func tailWindow(lastN int) (offset int64, limit int) {
	if lastN <= 0 {
		return 0, 0
	}
	return -1, lastN
}

func hostTail(client *ipc.Client, follow bool) tailFetch {
	return func(offset int64, limit int) ([]string, int64, error) {
		resp, err := client.LogTail(ipc.LogTailRequest{
			Offset:     offset,
			Limit:      limit,
			Follow:     follow,
			WaitMillis: 1000,
		})
		if err != nil {
			return nil, 0, err
		}
		if resp == nil {
			return nil, 0, errors.New("empty log tail response")
		}
		return resp.Lines, resp.Offset, nil
	}
}

func fileTail(ctx context.Context, path string, follow bool) tailFetch {
	return func(offset int64, limit int) ([]string, int64, error) {
		result, err := logs.Tail(ctx, path, logs.TailOptions{
			Offset: offset,
			Limit:  limit,
			Follow: follow,
			Wait:   time.Second,
		})
		if err != nil {
			return nil, 0, err
		}
		return result.Lines, result.Offset, nil
	}
}

// hostEvents adapts the structured event feed to the tail loop: events render
// as JSON lines and the sequence cursor rides in the offset slot. A negative
// offset asks for the newest events first.
func hostEvents(client *ipc.Client, follow bool, component string) tailFetch {
	return func(offset int64, limit int) ([]string, int64, error) {
		req := ipc.EventsRequest{Limit: limit, Component: component}
		if offset < 0 {
			req.Tail = true
		} else {
			req.Since = uint64(offset)
		}
		if follow {
			req.WaitMillis = 1000
		}
		resp, err := client.Events(req)
		if err != nil {
			return nil, 0, err
		}
		if resp == nil {
			return nil, 0, errors.New("empty events response")
		}
		lines, err := renderEventLines(resp.Events)
		if err != nil {
			return nil, 0, err
		}
		return lines, int64(resp.Next), nil
	}
}

// archiveEvents reads the newest on-disk event archive, polling for appended
// events in follow mode.
func archiveEvents(ctx context.Context, logDir string, follow bool, component string) tailFetch {
	first := true
	return func(offset int64, limit int) ([]string, int64, error) {
		path, err := newestEventArchive(logDir)
		if err != nil {
			return nil, 0, err
		}
		if path == "" {
			return nil, 0, errors.New("no event archive found; start the host to create one")
		}
		if follow && !first {
			// Pace re-reads of the growing file.
			select {
			case <-ctx.Done():
				return nil, offset, context.Canceled
			case <-time.After(time.Second):
			}
		}
		first = false
		since := uint64(0)
		if offset > 0 {
			since = uint64(offset)
		}
		events, err := logging.ReadArchivedEvents(path, since, 0)
		if err != nil {
			return nil, 0, err
		}
		events = logging.FilterByComponent(events, component)
		if offset < 0 && limit > 0 && len(events) > limit {
			events = events[len(events)-limit:]
		}
		next := offset
		if next < 0 {
			next = 0
		}
		if len(events) > 0 {
			next = int64(events[len(events)-1].Sequence)
		}
		lines, err := renderEventLines(events)
		if err != nil {
			return nil, 0, err
		}
		return lines, next, nil
	}
}

func newestEventArchive(logDir string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(logDir, "vellum-*.events"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}
	// Archive names embed the run timestamp, so lexical order is age order.
	sort.Strings(matches)
	return matches[len(matches)-1], nil
}

func renderEventLines(events []logging.LogEvent) ([]string, error) {
	lines := make([]string, 0, len(events))
	for _, event := range events {
		data, err := json.Marshal(event)
		if err != nil {
			return nil, fmt.Errorf("encode event: %w", err)
		}
		lines = append(lines, string(data))
	}
	return lines, nil
}
