package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"vellum/internal/ipc"
)

func newEngineCommands(ctx *commandContext) []*cobra.Command {
	var infoJSON bool
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show engine version and API metadata",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Info()
				if err != nil {
					return err
				}
				if resp == nil {
					return errors.New("empty response from host")
				}
				if infoJSON {
					return writeJSON(cmd, resp)
				}

				stdout := cmd.OutOrStdout()
				colorize := shouldColorize(stdout)
				version := resp.Version
				if resp.Build != "" {
					version = fmt.Sprintf("%s (%s)", version, resp.Build)
				}
				lines := []string{
					renderStatusLine("Version", statusOK, version, colorize),
					renderStatusLine("API level", statusInfo, fmt.Sprintf("%d", resp.APILevel), colorize),
					renderStatusLine("Channel", statusInfo, fmt.Sprintf("%d", resp.ChannelID), colorize),
					renderStatusLine("Functions", statusInfo, fmt.Sprintf("%d", resp.Functions), colorize),
					renderStatusLine("UI events", statusInfo, fmt.Sprintf("%d", resp.UIEvents), colorize),
				}
				if len(resp.UIOptions) > 0 {
					lines = append(lines, renderStatusLine("UI options", statusInfo, strings.Join(resp.UIOptions, ", "), colorize))
				}
				for _, line := range lines {
					fmt.Fprintln(stdout, line)
				}
				return nil
			})
		},
	}
	infoCmd.Flags().BoolVar(&infoJSON, "json", false, "Emit engine metadata as JSON")

	callCmd := &cobra.Command{
		Use:   "call <method> [arg...]",
		Short: "Invoke an engine API method and print the result",
		Long: "Invoke an engine API method and print the result as JSON.\n" +
			"Arguments are parsed as JSON values; anything that does not parse\n" +
			"is passed through as a string, so `vellum call nvim_get_var shada`\n" +
			"and `vellum call nvim_eval '2 + 2'` both work.",
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			method := strings.TrimSpace(args[0])
			if method == "" {
				return errors.New("method name is required")
			}
			callArgs := parseCallArgs(args[1:])
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.Call(method, callArgs)
				if err != nil {
					return err
				}
				if resp == nil {
					return errors.New("empty response from host")
				}
				return writeJSON(cmd, resp.Result)
			})
		},
	}

	cmdCmd := &cobra.Command{
		Use:   "cmd <ex-command>",
		Short: "Run an ex command in the engine",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			command := strings.TrimSpace(strings.Join(args, " "))
			if command == "" {
				return errors.New("command text is required")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				return client.Command(command)
			})
		},
	}

	inputCmd := &cobra.Command{
		Use:   "input <keys>",
		Short: "Send raw key input to the engine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if args[0] == "" {
				return errors.New("key input is required")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				return client.Input(args[0])
			})
		},
	}

	var quitForce bool
	quitCmd := &cobra.Command{
		Use:   "quit",
		Short: "Ask the engine to quit",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.Quit(quitForce); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "Quit requested")
				return nil
			})
		},
	}
	quitCmd.Flags().BoolVar(&quitForce, "force", false, "Discard unsaved changes")

	return []*cobra.Command{infoCmd, callCmd, cmdCmd, inputCmd, newUICommand(ctx), quitCmd}
}

func newUICommand(ctx *commandContext) *cobra.Command {
	uiCmd := &cobra.Command{
		Use:   "ui",
		Short: "Manage the remote UI attachment",
	}

	var attachWidth, attachHeight int
	attachCmd := &cobra.Command{
		Use:   "attach",
		Short: "Attach the remote UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				resp, err := client.AttachUI(attachWidth, attachHeight)
				if err != nil {
					return err
				}
				if resp == nil {
					return errors.New("empty response from host")
				}
				fmt.Fprintf(cmd.OutOrStdout(), "UI attached (%dx%d)\n", resp.Width, resp.Height)
				return nil
			})
		},
	}
	attachCmd.Flags().IntVar(&attachWidth, "width", 0, "Grid width in cells (0 uses the configured default)")
	attachCmd.Flags().IntVar(&attachHeight, "height", 0, "Grid height in cells (0 uses the configured default)")

	detachCmd := &cobra.Command{
		Use:   "detach",
		Short: "Detach the remote UI",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.DetachUI(); err != nil {
					return err
				}
				fmt.Fprintln(cmd.OutOrStdout(), "UI detached")
				return nil
			})
		},
	}

	var resizeWidth, resizeHeight int
	resizeCmd := &cobra.Command{
		Use:   "resize",
		Short: "Resize the attached UI grid",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if resizeWidth <= 0 || resizeHeight <= 0 {
				return errors.New("--width and --height must be positive")
			}
			return ctx.withClient(func(client *ipc.Client) error {
				if err := client.ResizeUI(resizeWidth, resizeHeight); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "UI resized to %dx%d\n", resizeWidth, resizeHeight)
				return nil
			})
		},
	}
	resizeCmd.Flags().IntVar(&resizeWidth, "width", 0, "Grid width in cells")
	resizeCmd.Flags().IntVar(&resizeHeight, "height", 0, "Grid height in cells")

	uiCmd.AddCommand(attachCmd)
	uiCmd.AddCommand(detachCmd)
	uiCmd.AddCommand(resizeCmd)
	return uiCmd
}

// parseCallArgs decodes each CLI argument as JSON, falling back to the raw
// string for bare words.
func parseCallArgs(raw []string) []any {
	args := make([]any, 0, len(raw))
	for _, item := range raw {
		var value any
		if err := json.Unmarshal([]byte(item), &value); err != nil {
			args = append(args, item)
			continue
		}
		args = append(args, value)
	}
	return args
}
