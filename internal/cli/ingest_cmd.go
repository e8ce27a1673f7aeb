package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/pithecene-io/lakecat/lakecat"
)

// footerConcurrency bounds parallel parquet footer reads.
const footerConcurrency = 8

func (a *app) newIngestCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "ingest <table> <file.parquet|dir>...",
		Short: "Commit parquet files using statistics from their footers",
		Long: "Read the footer of each parquet file, build its manifest, and commit\n" +
			"all of them as one snapshot against the table's current version.\n" +
			"Directories are searched for *.parquet files. Every file must be under\n" +
			"the lake root.",
		Example: "  lakecat ingest oil data/oil/year=2013/part-0.parquet\n" +
			"  lakecat ingest sales data/sales",
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := lakecat.TableName(args[0])
			paths, err := expandParquetPaths(args[1:])
			if err != nil {
				return err
			}
			if len(paths) == 0 {
				return fmt.Errorf("ingest %s: no parquet files found", name)
			}
			return a.withCatalog(cmd.Context(), func(cat *lakecat.Catalog) error {
				schema, err := cat.Schemas().Latest(name)
				if err != nil {
					if errors.Is(err, lakecat.ErrTableNotFound) {
						return fmt.Errorf("%w (define it first with 'lakecat define %s')", err, name)
					}
					return err
				}
				files, err := readManifests(cmd.Context(), cat.Resolver(), schema, paths)
				if err != nil {
					return err
				}
				snap, err := cat.Append(cmd.Context(), name, files...)
				if err != nil {
					return err
				}
				return renderSnapshot(cmd, snap)
			})
		},
	}
}

// expandParquetPaths makes args absolute and replaces directories by the
// parquet files below them.
func expandParquetPaths(args []string) ([]string, error) {
	var out []string
	for _, arg := range args {
		abs, err := filepath.Abs(arg)
		if err != nil {
			return nil, err
		}
		info, err := os.Stat(abs)
		if err != nil {
			return nil, err
		}
		if !info.IsDir() {
			out = append(out, abs)
			continue
		}
		err = filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && strings.EqualFold(filepath.Ext(p), ".parquet") {
				out = append(out, p)
			}
			return nil
		})
		if err != nil {
			return nil, err
		}
	}
	slices.Sort(out)
	return slices.Compact(out), nil
}

// readManifests reads the footers of paths concurrently. Manifests keep the
// order of paths.
func readManifests(ctx context.Context, resolver *lakecat.PathResolver, schema *lakecat.Schema, paths []string) ([]lakecat.FileManifest, error) {
	out := make([]lakecat.FileManifest, len(paths))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(footerConcurrency)
	for i, p := range paths {
		g.Go(func() error {
			fm, err := lakecat.ReadParquetManifest(gctx, resolver, p, schema)
			if err != nil {
				return err
			}
			out[i] = *fm
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// snapshotView is the printed form of a snapshot.
type snapshotView struct {
	Table         lakecat.TableName  `json:"table"`
	Version       lakecat.SnapshotID `json:"version"`
	Parent        lakecat.SnapshotID `json:"parent"`
	CommitID      string             `json:"commit_id"`
	CreatedAt     string             `json:"created_at"`
	SchemaVersion int                `json:"schema_version"`
	Files         int                `json:"files"`
	Rows          int64              `json:"rows"`
	SizeBytes     int64              `json:"size_bytes"`
	Metadata      lakecat.Metadata   `json:"metadata,omitempty"`
}

func viewOf(s *lakecat.Snapshot) snapshotView {
	return snapshotView{
		Table:         s.Table,
		Version:       s.Version,
		Parent:        s.Parent,
		CommitID:      s.CommitID,
		CreatedAt:     s.CreatedAt.UTC().Format("2006-01-02T15:04:05Z"),
		SchemaVersion: s.SchemaVersion,
		Files:         s.FileCount,
		Rows:          s.RowCount,
		SizeBytes:     s.SizeBytes,
		Metadata:      s.Metadata,
	}
}

func renderSnapshot(cmd *cobra.Command, s *lakecat.Snapshot) error {
	view := viewOf(s)
	return render(cmd, view, func(w io.Writer) error {
		return printDetail(w,
			[2]string{"table", string(view.Table)},
			[2]string{"version", itoa(view.Version)},
			[2]string{"parent", itoa(view.Parent)},
			[2]string{"commit", view.CommitID},
			[2]string{"files", itoa(view.Files)},
			[2]string{"rows", itoa(view.Rows)},
			[2]string{"size", humanBytes(view.SizeBytes)},
		)
	})
}
