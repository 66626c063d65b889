package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"syscall"

	"github.com/spf13/cobra"

	"vellum/internal/config"
	"vellum/internal/ipc"
)

// commandContext carries the lazily loaded configuration shared by every
// subcommand in one invocation.
type commandContext struct {
	configFlag *string

	once       sync.Once
	config     *config.Config
	configPath string
	configErr  error
}

func newCommandContext(configFlag *string) *commandContext {
	return &commandContext{configFlag: configFlag}
}

func (c *commandContext) ensureConfig() (*config.Config, error) {
	c.once.Do(c.loadConfig)
	return c.config, c.configErr
}

func (c *commandContext) loadConfig() {
	var path string
	if c.configFlag != nil {
		path = strings.TrimSpace(*c.configFlag)
	}
	cfg, resolved, err := config.Load(path)
	if err == nil {
		err = cfg.EnsureDirectories()
	}
	if err != nil {
		c.configErr = err
		return
	}
	c.config = cfg
	c.configPath = resolved
}

// loadConfigWithPath exposes the resolved config file path alongside the
// loaded configuration. The path is empty when defaults were used.
func (c *commandContext) loadConfigWithPath() (*config.Config, string, error) {
	cfg, err := c.ensureConfig()
	return cfg, c.configPath, err
}

func (c *commandContext) configValue() *config.Config {
	cfg, _ := c.ensureConfig()
	return cfg
}

// socketPath resolves the control socket from the loaded configuration so
// every subcommand talks to the same host the serve loop binds.
func (c *commandContext) socketPath() string {
	if cfg := c.configValue(); cfg != nil {
		return cfg.ControlSocketPath()
	}
	return config.Default().ControlSocketPath()
}

func (c *commandContext) withClient(fn func(*ipc.Client) error) error {
	socket := c.socketPath()
	client, err := ipc.Dial(socket)
	if err != nil {
		return wrapDialError(err, socket)
	}
	defer client.Close()
	return fn(client)
}

func wrapDialError(err error, socket string) error {
	if errors.Is(err, syscall.ENOENT) || os.IsNotExist(err) {
		return fmt.Errorf("connect to host: socket %s not found; start the host with `vellum start`", socket)
	}
	if errors.Is(err, syscall.ECONNREFUSED) {
		return fmt.Errorf("connect to host: socket %s refused the connection; verify the host is running", socket)
	}
	return fmt.Errorf("connect to host: %w", err)
}

func shouldSkipConfig(cmd *cobra.Command) bool {
	for cur := cmd; cur != nil; cur = cur.Parent() {
		if cur.Annotations["skipConfigLoad"] == "true" {
			return true
		}
	}
	return false
}
