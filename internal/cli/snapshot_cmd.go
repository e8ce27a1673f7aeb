package cli

import (
	"io"
	"slices"

	"github.com/spf13/cobra"

	"github.com/pithecene-io/lakecat/lakecat"
)

func (a *app) newSnapshotsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "snapshots <table>",
		Short: "List a table's snapshot history",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withCatalog(cmd.Context(), func(cat *lakecat.Catalog) error {
				snaps, err := cat.Snapshots(cmd.Context(), lakecat.TableName(args[0]))
				if err != nil {
					return err
				}
				views := make([]snapshotView, len(snaps))
				for i, s := range snaps {
					views[i] = viewOf(s)
				}
				return render(cmd, views, func(w io.Writer) error {
					rows := make([][]string, len(views))
					for i, v := range views {
						rows[i] = []string{
							itoa(v.Version), itoa(v.Parent), v.CreatedAt, itoa(v.SchemaVersion),
							itoa(v.Files), itoa(v.Rows), humanBytes(v.SizeBytes), v.CommitID,
						}
					}
					return printTable(w, []string{"VERSION", "PARENT", "CREATED", "SCHEMA", "FILES", "ROWS", "SIZE", "COMMIT"}, rows)
				})
			})
		},
	}
}

func (a *app) newFilesCmd() *cobra.Command {
	var (
		snapshot uint64
		where    string
		summary  bool
		resolve  bool
	)
	cmd := &cobra.Command{
		Use:   "files <table>",
		Short: "List the files of a snapshot",
		Long: "List the files of the current snapshot, or of --snapshot N. --where\n" +
			"prunes by partition values; --summary reports counts and bytes per\n" +
			"file extension instead.",
		Example: "  lakecat files sales --where 'year=2013,store_nbr=1|2'\n" +
			"  lakecat files oil --snapshot 3 --summary",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := lakecat.TableName(args[0])
			pred, err := lakecat.ParsePredicate(where)
			if err != nil {
				return err
			}
			opts := []lakecat.QueryOption{lakecat.AtSnapshot(lakecat.SnapshotID(snapshot)), lakecat.Where(pred)}

			return a.withCatalog(cmd.Context(), func(cat *lakecat.Catalog) error {
				if summary {
					sum, err := cat.StorageSummary(cmd.Context(), name, opts...)
					if err != nil {
						return err
					}
					return renderStorageSummary(cmd, sum)
				}

				files, err := cat.ListFiles(cmd.Context(), name, opts...)
				if err != nil {
					return err
				}
				views := make([]fileView, len(files))
				for i, f := range files {
					views[i] = fileView{FileListing: f}
					if resolve && f.Relative {
						if views[i].Location, err = cat.ResolveFile(f.Path); err != nil {
							return err
						}
					}
				}
				return render(cmd, views, func(w io.Writer) error {
					header := []string{"ID", "PATH", "PARTITION", "ROWS", "SIZE", "RELATIVE"}
					if resolve {
						header = append(header, "LOCATION")
					}
					rows := make([][]string, len(views))
					for i, v := range views {
						rel := "yes"
						if !v.Relative {
							rel = "NO"
						}
						rows[i] = []string{itoa(v.ID), v.Path, orDash(v.Partition.String()), itoa(v.RowCount), humanBytes(v.SizeBytes), rel}
						if resolve {
							rows[i] = append(rows[i], orDash(v.Location))
						}
					}
					return printTable(w, header, rows)
				})
			})
		},
	}
	cmd.Flags().Uint64Var(&snapshot, "snapshot", 0, "Snapshot version (default current)")
	cmd.Flags().StringVar(&where, "where", "", "Partition predicate, e.g. 'year=2013,month>=6'")
	cmd.Flags().BoolVar(&summary, "summary", false, "Summarize by file extension")
	cmd.Flags().BoolVar(&resolve, "resolve", false, "Show each file's location under the lake root")
	return cmd
}

// fileView is one printed file.
type fileView struct {
	lakecat.FileListing
	Location string `json:"location,omitempty"`
}

func renderStorageSummary(cmd *cobra.Command, sum *lakecat.StorageSummary) error {
	return render(cmd, sum, func(w io.Writer) error {
		exts := make([]string, 0, len(sum.ByExtension))
		for ext := range sum.ByExtension {
			exts = append(exts, ext)
		}
		slices.Sort(exts)
		rows := make([][]string, 0, len(exts)+1)
		for _, ext := range exts {
			rows = append(rows, []string{ext, itoa(sum.ByExtension[ext]), humanBytes(sum.BytesByExt[ext])})
		}
		rows = append(rows, []string{"total", itoa(sum.Files), humanBytes(sum.SizeBytes)})
		return printTable(w, []string{"EXTENSION", "FILES", "SIZE"}, rows)
	})
}
