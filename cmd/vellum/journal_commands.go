package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"vellum/internal/ipc"
)

func newJournalCommand(ctx *commandContext) *cobra.Command {
	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect recorded engine sessions and traffic",
	}

	journalCmd.AddCommand(newJournalSessionsCommand(ctx))
	journalCmd.AddCommand(newJournalShowCommand(ctx))
	journalCmd.AddCommand(newJournalClearCommand(ctx))

	return journalCmd
}

func newJournalSessionsCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "List recorded sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJournal(func(api journalAPI) error {
				sessions, err := api.Sessions(cmd.Context(), limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, sessions)
				}
				stdout := cmd.OutOrStdout()
				if len(sessions) == 0 {
					fmt.Fprintln(stdout, "No sessions recorded")
					return nil
				}
				rows := make([][]string, 0, len(sessions))
				for _, sess := range sessions {
					rows = append(rows, []string{
						sess.ID,
						sess.Transport,
						sess.EngineVersion,
						formatSessionTime(sess.StartedAt),
						sessionEndCell(sess),
					})
				}
				table := renderTable(
					[]string{"Session", "Transport", "Engine", "Started", "Ended"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignLeft},
				)
				fmt.Fprintln(stdout, table)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Maximum number of sessions to list (0 for all)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit session records as JSON")
	return cmd
}

func newJournalShowCommand(ctx *commandContext) *cobra.Command {
	var limit int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "show [session-id]",
		Short: "Show recorded traffic for a session",
		Long: "Show recorded traffic for a session. Without a session id the live\n" +
			"session is used, falling back to the newest recorded one.",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sessionID := ""
			if len(args) == 1 {
				sessionID = strings.TrimSpace(args[0])
			}
			return ctx.withJournal(func(api journalAPI) error {
				resp, err := api.Messages(cmd.Context(), sessionID, limit)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, resp)
				}

				stdout := cmd.OutOrStdout()
				fmt.Fprintf(stdout, "Session %s\n", resp.SessionID)
				fmt.Fprintf(stdout, "Requests %d, responses %d, notifications %d, drops %d\n",
					resp.Stats.Requests, resp.Stats.Responses, resp.Stats.Notifications, resp.Stats.Drops)
				if len(resp.Messages) == 0 {
					fmt.Fprintln(stdout, "No traffic recorded")
					return nil
				}

				rows := make([][]string, 0, len(resp.Messages))
				for _, msg := range resp.Messages {
					msgID := ""
					if msg.MsgID != nil {
						msgID = strconv.FormatInt(*msg.MsgID, 10)
					}
					rows = append(rows, []string{
						msg.CreatedAt.Local().Format("15:04:05.000"),
						msg.Direction,
						msg.Kind,
						msg.Method,
						msgID,
						msg.Detail,
					})
				}
				table := renderTable(
					[]string{"Time", "Direction", "Kind", "Method", "ID", "Detail"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight, alignLeft},
				)
				fmt.Fprintln(stdout, table)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "Maximum number of messages to show")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit traffic records as JSON")
	return cmd
}

func newJournalClearCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete all recorded sessions and traffic",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJournal(func(api journalAPI) error {
				removed, err := api.Clear(cmd.Context())
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d recorded session(s)\n", removed)
				return nil
			})
		},
	}
}

func formatSessionTime(value time.Time) string {
	return value.Local().Format("2006-01-02 15:04:05")
}

func sessionEndCell(sess ipc.SessionRecord) string {
	if sess.EndedAt == nil {
		return "active"
	}
	cell := formatSessionTime(*sess.EndedAt)
	if sess.EndReason != "" {
		cell = fmt.Sprintf("%s (%s)", cell, sess.EndReason)
	}
	return cell
}
