package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"worktime/internal/app"
	"worktime/internal/domain"
	"worktime/internal/engine"
	"worktime/internal/upload"
)

func reportCmd() *cobra.Command {
	var (
		itemsPath, workspaceID, status, openInterval, order, out string
		periods                                                   []string
		printTables                                               bool
	)
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Generate a time-in-status workbook",
		Example: `  wt report --items items.json --period 2024-03-04:2024-03-08 --period 2024-03-11:2024-03-15
  wt report --workspace-id ws-1 --period 2024-03-01:2024-03-31 --status "in review" --print`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (itemsPath == "") == (workspaceID == "") {
				return fmt.Errorf("exactly one of --items or --workspace-id is required")
			}
			inputs := parsePeriods(periods)
			policy, err := engine.ParseOpenIntervalPolicy(openInterval)
			if err != nil {
				return err
			}
			rowOrder, err := engine.ParseRowOrder(order)
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if status == "" {
				status = cfg.Report.Status
			}
			if openInterval == "" {
				policy = ""
			}
			if order == "" {
				rowOrder = ""
			}
			if out == "" {
				out = cfg.Report.Filename
			}
			return withService(cmd.Context(), cfg, func(ctx context.Context, svc *app.Service, log *logrus.Logger) error {
				items, err := loadItems(ctx, svc, itemsPath, workspaceID)
				if err != nil {
					return err
				}
				res, err := svc.Generate(ctx, app.Request{
					Items:         items,
					Periods:       inputs,
					Status:        status,
					SessionCookie: strings.TrimSpace(viper.GetString("session-cookie")),
					OpenInterval:  policy,
					Order:         rowOrder,
				})
				if err != nil {
					return err
				}
				if err := os.WriteFile(out, res.Content, 0o644); err != nil {
					return err
				}
				// The workbook is on disk now; drop the stored copy.
				if _, _, err := svc.Download(ctx, res.Run.ID); err != nil {
					log.WithError(err).Debug("purge stored workbook")
				}
				for _, w := range res.Report.Warnings {
					fmt.Fprintln(os.Stderr, "warning:", w)
				}
				if viper.GetBool("json") {
					return printJSON(res.Report)
				}
				if printTables {
					printReport(res.Report)
				}
				fmt.Printf("Wrote %s (%d sheet(s), run %s)\n", out, len(res.Report.Tables), res.Run.ID)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&itemsPath, "items", "", "JSON file with {\"items\": [...]}")
	cmd.Flags().StringVar(&workspaceID, "workspace-id", "", "report on every work item of a tracker workspace")
	cmd.Flags().StringArrayVar(&periods, "period", nil, "period START:END (YYYY-MM-DD, inclusive); repeatable")
	cmd.Flags().StringVar(&status, "status", "", "target status (default report.status)")
	cmd.Flags().StringVar(&openInterval, "open-interval", "", "period_end or now (default report.open_interval)")
	cmd.Flags().StringVar(&order, "order", "", "row order: key, assignee or name (default report.row_order)")
	cmd.Flags().StringVarP(&out, "out", "o", "", "output workbook (default report.filename)")
	cmd.Flags().BoolVar(&printTables, "print", false, "print the tables")
	_ = cmd.MarkFlagRequired("period")
	return cmd
}

func loadItems(ctx context.Context, svc *app.Service, itemsPath, workspaceID string) ([]upload.Item, error) {
	if itemsPath != "" {
		f, err := os.Open(filepath.Clean(itemsPath))
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return upload.Parse(f)
	}
	session, err := sessionCookie()
	if err != nil {
		return nil, err
	}
	work, err := svc.WorkItems(ctx, session, workspaceID)
	if err != nil {
		return nil, err
	}
	items := make([]upload.Item, 0, len(work))
	for _, it := range work {
		items = append(items, upload.Item{
			Key:         it.Key,
			Name:        it.Name,
			WorkspaceID: it.WorkspaceID,
			WorkItemID:  it.WorkItemID,
			Assignee:    it.Assignee,
		})
	}
	return items, nil
}

// parsePeriods reads START:END pairs; a single date stands for a one-day
// period. Incomplete pairs are kept so the engine can drop them with a warning.
func parsePeriods(values []string) []domain.PeriodInput {
	out := make([]domain.PeriodInput, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		start, end, ok := strings.Cut(v, ":")
		if !ok {
			start, end, ok = strings.Cut(v, "..")
		}
		if !ok {
			end = start
		}
		out = append(out, domain.PeriodInput{Start: strings.TrimSpace(start), End: strings.TrimSpace(end)})
	}
	return out
}

func printReport(r domain.Report) {
	for _, t := range r.Tables {
		tw := table.NewWriter()
		tw.SetOutputMirror(os.Stdout)
		tw.SetTitle(t.Sheet)
		tw.AppendHeader(table.Row{"Key", "Name", "Assignee", "Minutes", "Hours"})
		for _, row := range t.Rows {
			tw.AppendRow(table.Row{row.Key, row.Name, row.Assignee, row.Minutes, row.Hours})
		}
		tw.AppendFooter(table.Row{"Total", "", "", t.TotalMinutes, t.TotalHours})
		tw.Render()

		sw := table.NewWriter()
		sw.SetOutputMirror(os.Stdout)
		sw.AppendHeader(table.Row{"Assignee", "Hours", "Days", "Tasks"})
		for _, s := range t.Assignees {
			sw.AppendRow(table.Row{s.Assignee, s.Hours, s.Days, s.Tasks})
		}
		sw.Render()
		fmt.Println()
	}
}

func workspacesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "workspaces",
		Short: "List tracker workspaces",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := sessionCookie()
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return withService(cmd.Context(), cfg, func(ctx context.Context, svc *app.Service, _ *logrus.Logger) error {
				items, err := svc.Workspaces(ctx, session)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Name", "Key"})
				for _, ws := range items {
					tw.AppendRow(table.Row{ws.ID, ws.Name, ws.Key})
				}
				tw.Render()
				return nil
			})
		},
	}
}

func workItemsCmd() *cobra.Command {
	var workspaceID string
	cmd := &cobra.Command{
		Use:   "workitems",
		Short: "List work items of a tracker workspace",
		RunE: func(cmd *cobra.Command, args []string) error {
			session, err := sessionCookie()
			if err != nil {
				return err
			}
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return withService(cmd.Context(), cfg, func(ctx context.Context, svc *app.Service, _ *logrus.Logger) error {
				items, err := svc.WorkItems(ctx, session, workspaceID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"Key", "Name", "Assignee", "ID"})
				for _, it := range items {
					tw.AppendRow(table.Row{it.Key, it.Name, it.Assignee, it.WorkItemID})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&workspaceID, "workspace-id", "", "tracker workspace id")
	_ = cmd.MarkFlagRequired("workspace-id")
	return cmd
}

func runsCmd() *cobra.Command {
	runs := &cobra.Command{Use: "runs", Short: "Inspect stored report runs"}
	runs.AddCommand(runsListCmd())
	runs.AddCommand(runsDownloadCmd())
	return runs
}

func runsListCmd() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List report runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return withService(cmd.Context(), cfg, func(ctx context.Context, svc *app.Service, _ *logrus.Logger) error {
				items, err := svc.ListRuns(ctx, limit)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Created", "Status", "Items", "Sheets", "Downloaded"})
				for _, r := range items {
					downloaded := ""
					if r.DownloadedAt != nil {
						downloaded = *r.DownloadedAt
					}
					tw.AppendRow(table.Row{r.ID, r.CreatedAt, r.Status, r.ItemCount, strings.Join(r.Sheets, ", "), downloaded})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of runs")
	return cmd
}

func runsDownloadCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "download <run-id>",
		Short: "Save the workbook of a run that was generated through the API",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return withService(cmd.Context(), cfg, func(ctx context.Context, svc *app.Service, _ *logrus.Logger) error {
				run, content, err := svc.Download(ctx, args[0])
				if err != nil {
					return err
				}
				if out == "" {
					out = run.Filename
				}
				if err := os.WriteFile(out, content, 0o644); err != nil {
					return err
				}
				fmt.Printf("Wrote %s\n", out)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "output file (default the run filename)")
	return cmd
}

func logCmd() *cobra.Command {
	log := &cobra.Command{Use: "log", Short: "Inspect the event log"}
	log.AddCommand(logTailCmd())
	return log
}

func logTailCmd() *cobra.Command {
	var n int
	var evtType string
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			return withService(cmd.Context(), cfg, func(ctx context.Context, svc *app.Service, _ *logrus.Logger) error {
				items, err := svc.Repo.LatestEvents(ctx, n, evtType)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "TS", "Type", "Entity", "Payload"})
				for _, e := range items {
					tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, fmt.Sprint(e.Payload)})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&n, "n", 20, "number of events")
	cmd.Flags().StringVar(&evtType, "type", "", "event type filter")
	return cmd
}
