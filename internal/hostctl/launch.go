// Package hostctl drives a vellum host process from the outside: launching
// it, waiting for its control socket, stopping it, and assembling status
// snapshots that work whether or not a host is up.
package hostctl

import (
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"vellum/internal/ipc"
)

// LaunchOptions controls host process launch behavior.
type LaunchOptions struct {
	ConfigPath string
	LogLevel   string
}

func (opts LaunchOptions) args() []string {
	args := []string{"serve"}
	if cfg := strings.TrimSpace(opts.ConfigPath); cfg != "" {
		args = append(args, "--config", cfg)
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		args = append(args, "--log-level", level)
	}
	return args
}

type StartState string

const (
	StartStateStarted        StartState = "started"
	StartStateAlreadyRunning StartState = "already_running"
	StartStateRequested      StartState = "start_requested"
)

// StartResult captures host start orchestration state.
type StartResult struct {
	State    StartState
	Launched bool
	Message  string
}

// Launch starts a detached vellum host process.
func Launch(executablePath string, opts LaunchOptions) error {
	if strings.TrimSpace(executablePath) == "" {
		return errors.New("launch host: executable path is empty")
	}
	proc := exec.Command(executablePath, opts.args()...)
	if err := proc.Start(); err != nil {
		return fmt.Errorf("launch host: %w", err)
	}
	return proc.Process.Release()
}

const probeInterval = 200 * time.Millisecond

// pollUntil retries fn every probeInterval until it reports done or the
// timeout passes, returning the last error fn produced.
func pollUntil(timeout time.Duration, fn func() (bool, error)) error {
	deadline := time.Now().Add(timeout)
	var lastErr error
	for {
		done, err := fn()
		if done {
			return nil
		}
		if err != nil {
			lastErr = err
		}
		if !time.Now().Before(deadline) {
			if lastErr == nil {
				lastErr = fmt.Errorf("timed out after %s", timeout)
			}
			return lastErr
		}
		time.Sleep(probeInterval)
	}
}

// WaitForClient waits for control socket availability and returns a connected client.
func WaitForClient(socketPath string, timeout time.Duration) (*ipc.Client, error) {
	var client *ipc.Client
	err := pollUntil(timeout, func() (bool, error) {
		c, dialErr := ipc.Dial(socketPath)
		if dialErr != nil {
			return false, dialErr
		}
		client = c
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("host failed to start: %w", err)
	}
	return client, nil
}

// EnsureStarted launches the host if needed, starts an engine session, and
// returns the resulting state.
func EnsureStarted(socketPath, executablePath string, opts LaunchOptions, waitTimeout time.Duration) (StartResult, error) {
	launched := false
	client, err := ipc.Dial(socketPath)
	if err != nil {
		if err := Launch(executablePath, opts); err != nil {
			return StartResult{}, err
		}
		if client, err = WaitForClient(socketPath, waitTimeout); err != nil {
			return StartResult{}, err
		}
		launched = true
	}
	defer client.Close()

	if status, err := client.Status(); err == nil && status != nil && status.Running {
		if launched {
			return StartResult{State: StartStateStarted, Launched: true}, nil
		}
		return StartResult{State: StartStateAlreadyRunning}, nil
	}

	resp, err := client.Start()
	if err != nil {
		return StartResult{}, err
	}
	return classifyStart(resp, launched), nil
}

// classifyStart maps the host's start response onto a StartResult. A session
// that was "already running" on a host we just launched still counts as a
// fresh start from the caller's point of view.
func classifyStart(resp *ipc.StartResponse, launched bool) StartResult {
	if resp == nil {
		return StartResult{State: StartStateRequested, Launched: launched, Message: "Start requested"}
	}
	message := strings.TrimSpace(resp.Message)
	result := StartResult{Launched: launched, Message: message}
	switch {
	case resp.Started:
		result.State = StartStateStarted
	case strings.Contains(message, "already running") && launched:
		result.State = StartStateStarted
	case strings.Contains(message, "already running"):
		result.State = StartStateAlreadyRunning
	default:
		result.State = StartStateRequested
		if message == "" {
			result.Message = "Start requested"
		}
	}
	return result
}
