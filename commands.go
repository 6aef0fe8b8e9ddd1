package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/minesight/analyst/analytics"
	"github.com/minesight/analyst/chart"
	"github.com/minesight/analyst/mcp"
	"github.com/minesight/analyst/session"
	"github.com/spf13/cobra"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func sessionsCmd(configPath *string) *cobra.Command {
	var asJSON bool

	withApp := func(fn func(cmd *cobra.Command, a *app, args []string) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			initLogger(cfg, true)
			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()
			return fn(cmd, a, args)
		}
	}

	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage stored chat sessions",
	}
	cmd.PersistentFlags().BoolVar(&asJSON, "json", false, "Print JSON")

	list := &cobra.Command{
		Use:   "list",
		Short: "List sessions, most recently updated first",
		Args:  cobra.NoArgs,
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			sessions, err := a.sessions.List()
			if err != nil {
				return err
			}
			if asJSON {
				metas := make([]session.Session, len(sessions))
				for i, s := range sessions {
					metas[i] = s.Meta()
				}
				return writeJSON(cmd.OutOrStdout(), metas)
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tMESSAGES\tUPDATED")
			for _, s := range sessions {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", s.ID, s.Title, len(s.Messages), s.UpdatedAt.Local().Format(time.DateTime))
			}
			return tw.Flush()
		}),
	}

	show := &cobra.Command{
		Use:   "show <id>",
		Short: "Print a session's messages",
		Args:  cobra.ExactArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			sess, found, err := a.sessions.Load(args[0])
			if err != nil {
				return err
			}
			if !found {
				return fmt.Errorf("%w: %s", session.ErrSessionNotFound, args[0])
			}
			if asJSON {
				return writeJSON(cmd.OutOrStdout(), sess)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s (%s)\n\n", sess.Title, sess.ID)
			for _, msg := range sess.Messages {
				printMessage(cmd.OutOrStdout(), msg)
			}
			return nil
		}),
	}

	rename := &cobra.Command{
		Use:   "rename <id> <title>",
		Short: "Rename a session",
		Args:  cobra.ExactArgs(2),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			return a.sessions.Rename(args[0], args[1])
		}),
	}

	remove := &cobra.Command{
		Use:     "rm <id>...",
		Aliases: []string{"delete"},
		Short:   "Delete sessions",
		Args:    cobra.MinimumNArgs(1),
		RunE: withApp(func(cmd *cobra.Command, a *app, args []string) error {
			for _, id := range args {
				if err := a.sessions.Remove(id); err != nil {
					return err
				}
			}
			return nil
		}),
	}

	cmd.AddCommand(list, show, rename, remove)
	return cmd
}

func statusCmd(configPath *string) *cobra.Command {
	var dashboard bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Check the analytics service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			initLogger(cfg, true)
			client := analytics.NewClient(cfg.BackendURL, analytics.WithTimeout(cfg.Timeout))

			ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
			defer cancel()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "backend: %s\n", cfg.BackendURL)

			health, err := client.HealthCheck(ctx)
			if err != nil {
				if analytics.IsTransport(err) {
					return fmt.Errorf("analytics service unreachable: %w", err)
				}
				return err
			}
			fmt.Fprintf(out, "status: %s (rag engine ready: %v)\n", health.Status, health.RAGEngineReady)

			status, err := client.SystemStatus(ctx)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintf(tw, "database\t%v\n", status.Database)
			fmt.Fprintf(tw, "vector store\t%v\n", status.ChromaDB)
			fmt.Fprintf(tw, "language model\t%v\n", status.MistralAI)
			fmt.Fprintf(tw, "services ready\t%v\n", status.ServicesReady)
			if err := tw.Flush(); err != nil {
				return err
			}
			if !status.ServicesReady {
				return errors.New("analytics services not ready")
			}
			if dashboard {
				return printDashboard(ctx, out, client)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&dashboard, "dashboard", false, "Also print KPIs, recent incidents and maintenance alerts")
	return cmd
}

func printDashboard(ctx context.Context, out io.Writer, client *analytics.Client) error {
	kpis, err := client.KPIs(ctx)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(kpis))
	for name := range kpis {
		names = append(names, name)
	}
	slices.Sort(names)

	fmt.Fprintln(out, "\nKPIs")
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	for _, name := range names {
		fmt.Fprintf(tw, "  %s\t%.2f\n", name, kpis[name])
	}
	if err := tw.Flush(); err != nil {
		return err
	}

	incidents, err := client.Incidents(ctx, 5)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nRecent incidents")
	printRecords(out, incidents)

	alerts, err := client.MaintenanceAlerts(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintln(out, "\nMaintenance alerts")
	printRecords(out, alerts)
	return nil
}

// printRecords prints one line per record with fields in source order.
func printRecords(out io.Writer, records []*chart.Record) {
	if len(records) == 0 {
		fmt.Fprintln(out, "  none")
		return
	}
	for _, rec := range records {
		if rec == nil {
			continue
		}
		var fields []string
		for pair := rec.Oldest(); pair != nil; pair = pair.Next() {
			fields = append(fields, fmt.Sprintf("%s=%v", pair.Key, pair.Value))
		}
		fmt.Fprintf(out, "  %s\n", strings.Join(fields, " "))
	}
}

func mcpCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mcp",
		Short: "Run an MCP server on stdio for AI agents",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(*configPath)
			if err != nil {
				return err
			}
			// stdout carries the protocol
			initLogger(cfg, true)

			a, err := openApp(cfg)
			if err != nil {
				return err
			}
			defer a.Close()

			srv := mcp.NewServer(a.sessions, a.client, version,
				mcp.WithLanguage(cfg.Language),
				mcp.WithMetrics(a.metrics),
			)
			return srv.Run(cmd.Context(), os.Stdin, os.Stdout)
		},
	}
}
