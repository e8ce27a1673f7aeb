package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	jsoniter "github.com/json-iterator/go"
	"github.com/spf13/cobra"

	"github.com/pithecene-io/lakecat/lakecat"
)

// batchFile is the JSON form of an ingestion batch.
//
//	{
//	  "base": 3,
//	  "added": [{"path": "oil/year=2013/part-0.parquet", "row_count": 100, ...}],
//	  "removed": [4, "oil/year=2012/part-9.parquet"],
//	  "metadata": {"source": "nightly"}
//	}
//
// A missing base commits against the current version. Removed entries are
// file IDs or stored paths. Columns and partitioning define the table on its
// first commit.
type batchFile struct {
	Base         *lakecat.SnapshotID    `json:"base"`
	Added        []lakecat.FileManifest `json:"added"`
	Removed      []jsoniter.RawMessage  `json:"removed"`
	Columns      []lakecat.Column       `json:"columns"`
	Partitioning []string               `json:"partitioning"`
	Metadata     lakecat.Metadata       `json:"metadata"`
}

func (a *app) newCommitCmd() *cobra.Command {
	var batchPath string
	cmd := &cobra.Command{
		Use:   "commit <table> --batch <batch.json|->",
		Short: "Commit a JSON ingestion batch",
		Long: "Commit added and removed files described by a JSON batch. The batch\n" +
			"is rejected as a whole if any file fails validation, or with a\n" +
			"concurrent modification error if its base is no longer current.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := lakecat.TableName(args[0])
			batch, err := readBatch(cmd.InOrStdin(), batchPath)
			if err != nil {
				return err
			}
			return a.withCatalog(cmd.Context(), func(cat *lakecat.Catalog) error {
				req, err := batch.request(cmd.Context(), cat, name)
				if err != nil {
					return err
				}
				snap, err := cat.Commit(cmd.Context(), req)
				if err != nil {
					return err
				}
				return renderSnapshot(cmd, snap)
			})
		},
	}
	cmd.Flags().StringVar(&batchPath, "batch", "", "Batch file, or - for stdin")
	_ = cmd.MarkFlagRequired("batch")
	return cmd
}

func readBatch(stdin io.Reader, path string) (*batchFile, error) {
	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("read batch: %w", err)
		}
		defer func() { _ = f.Close() }()
		r = f
	}
	var b batchFile
	if err := json.NewDecoder(r).Decode(&b); err != nil {
		return nil, fmt.Errorf("parse batch %s: %w", path, err)
	}
	return &b, nil
}

// request resolves the batch against the catalog: the default base and
// removed paths become concrete.
func (b *batchFile) request(ctx context.Context, cat *lakecat.Catalog, name lakecat.TableName) (lakecat.CommitRequest, error) {
	req := lakecat.CommitRequest{
		Table:    name,
		Added:    b.Added,
		Columns:  b.Columns,
		Metadata: b.Metadata,
	}
	spec, err := lakecat.ParsePartitionSpec(b.Partitioning...)
	if err != nil {
		return req, err
	}
	if len(spec) > 0 {
		req.Partitioning = spec
	}

	if b.Base != nil {
		req.Base = *b.Base
	} else if cur, err := cat.Current(ctx, name); err == nil {
		req.Base = cur.Version
	} else if !errors.Is(err, lakecat.ErrSnapshotNotFound) && !errors.Is(err, lakecat.ErrTableNotFound) {
		return req, err
	}

	if len(b.Removed) == 0 {
		return req, nil
	}
	var byPath map[string]lakecat.FileID
	for _, raw := range b.Removed {
		var id lakecat.FileID
		if err := json.Unmarshal(raw, &id); err == nil {
			req.Removed = append(req.Removed, id)
			continue
		}
		var p string
		if err := json.Unmarshal(raw, &p); err != nil {
			return req, fmt.Errorf("removed entry %s: want a file id or a path", string(raw))
		}
		if byPath == nil {
			if byPath, err = activePaths(ctx, cat, name, req.Base); err != nil {
				return req, err
			}
		}
		id, ok := byPath[p]
		if !ok {
			return req, fmt.Errorf("removed path %q is not active in %s v%d", p, name, req.Base)
		}
		req.Removed = append(req.Removed, id)
	}
	return req, nil
}

// activePaths maps the stored paths of a snapshot to their file IDs.
func activePaths(ctx context.Context, cat *lakecat.Catalog, name lakecat.TableName, version lakecat.SnapshotID) (map[string]lakecat.FileID, error) {
	if version == 0 {
		return map[string]lakecat.FileID{}, nil
	}
	files, err := cat.TimeTravel(ctx, name, version)
	if err != nil {
		return nil, err
	}
	out := make(map[string]lakecat.FileID, len(files))
	for _, fm := range files {
		out[fm.Path] = fm.ID
	}
	return out, nil
}
