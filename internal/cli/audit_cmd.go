package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/pithecene-io/lakecat/internal/scheduler"
	"github.com/pithecene-io/lakecat/lakecat"
)

func (a *app) newAuditCmd() *cobra.Command {
	var (
		checkFiles bool
		snapshot   uint64
		schedule   string
		watch      bool
	)
	cmd := &cobra.Command{
		Use:   "audit [table]",
		Short: "Check that stored paths are relative and match their partitions",
		Long: "Re-validate every manifest of the current snapshot of one table, or of\n" +
			"all tables. Exits with status 2 when a violation is found.\n\n" +
			"With --schedule (or --watch and audit.schedule in the config) the audit\n" +
			"runs once, then on the cron schedule until interrupted.",
		Example: "  lakecat audit\n" +
			"  lakecat audit oil --check-files\n" +
			"  lakecat audit --schedule '@every 1h'",
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var table lakecat.TableName
			if len(args) == 1 {
				table = lakecat.TableName(args[0])
			}
			var opts []lakecat.AuditOption
			if checkFiles || a.cfg.Audit.CheckFiles {
				opts = append(opts, lakecat.WithFileCheck())
			}
			if snapshot != 0 {
				if table == "" {
					return errors.New("--snapshot needs a table")
				}
				opts = append(opts, lakecat.AuditSnapshot(lakecat.SnapshotID(snapshot)))
			}

			spec := schedule
			if spec == "" && watch {
				if spec = a.cfg.Audit.Schedule; spec == "" {
					return errors.New("--watch needs audit.schedule in the config or --schedule")
				}
			}
			if spec == "" {
				return a.withCatalog(cmd.Context(), func(cat *lakecat.Catalog) error {
					reports, err := runAudit(cmd.Context(), cat, table, opts)
					if reports != nil {
						if rerr := renderAudit(cmd, reports); rerr != nil {
							return rerr
						}
					}
					return err
				})
			}
			return a.watchAudit(cmd, table, spec, opts)
		},
	}
	cmd.Flags().BoolVar(&checkFiles, "check-files", false, "Also check that every file exists under the lake root")
	cmd.Flags().Uint64Var(&snapshot, "snapshot", 0, "Audit a historical version of the table")
	cmd.Flags().StringVar(&schedule, "schedule", "", "Cron schedule, e.g. '@every 1h' or '0 3 * * *'")
	cmd.Flags().BoolVar(&watch, "watch", false, "Run on audit.schedule from the config")
	return cmd
}

// runAudit audits one table, or every table when name is empty. Integrity
// errors come back together with the reports.
func runAudit(ctx context.Context, cat *lakecat.Catalog, name lakecat.TableName, opts []lakecat.AuditOption) ([]*lakecat.AuditReport, error) {
	if name == "" {
		return cat.AuditAll(ctx, opts...)
	}
	report, err := cat.Audit(ctx, name, opts...)
	if report == nil {
		return nil, err
	}
	return []*lakecat.AuditReport{report}, err
}

// watchAudit audits now and then on spec until SIGINT or SIGTERM. Findings
// are printed and logged; only setup errors end the command.
func (a *app) watchAudit(cmd *cobra.Command, name lakecat.TableName, spec string, opts []lakecat.AuditOption) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cat, err := a.openCatalog(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = cat.Close() }()

	job := func(ctx context.Context) error {
		if err := cat.Refresh(ctx); err != nil {
			return fmt.Errorf("refresh: %w", err)
		}
		reports, err := runAudit(ctx, cat, name, opts)
		if reports != nil {
			_ = renderAudit(cmd, reports)
		}
		return err
	}

	s := scheduler.New(a.logger)
	if err := s.Add("audit", spec, job); err != nil {
		return err
	}
	if err := job(ctx); err != nil {
		a.logger.Warn("audit failed", "error", err)
	}
	s.Run(ctx)
	return nil
}

func renderAudit(cmd *cobra.Command, reports []*lakecat.AuditReport) error {
	return render(cmd, reports, func(w io.Writer) error {
		rows := make([][]string, len(reports))
		for i, r := range reports {
			status := "ok"
			if !r.Healthy() {
				status = "VIOLATION"
			}
			rows[i] = []string{
				string(r.Table), itoa(r.Snapshot), itoa(r.TotalFiles), percent(r.RelativePercent()),
				itoa(r.AbsoluteCount), itoa(len(r.PartitionMismatches)), itoa(len(r.MissingFiles)), status,
			}
		}
		if err := printTable(w, []string{"TABLE", "SNAPSHOT", "FILES", "RELATIVE", "ABSOLUTE", "MISMATCHES", "MISSING", "STATUS"}, rows); err != nil {
			return err
		}
		for _, r := range reports {
			if r.Healthy() {
				continue
			}
			fmt.Fprintf(w, "\n%s v%d:\n", r.Table, r.Snapshot)
			for _, p := range r.AbsolutePaths {
				fmt.Fprintf(w, "  absolute path: %s\n", p)
			}
			for _, m := range r.PartitionMismatches {
				fmt.Fprintf(w, "  partition mismatch: file %d %s: %s\n", m.FileID, m.Path, m.Reason)
			}
			for _, p := range r.MissingFiles {
				fmt.Fprintf(w, "  missing file: %s\n", p)
			}
		}
		return nil
	})
}
