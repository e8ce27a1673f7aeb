package lakecat

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"golang.org/x/sync/errgroup"
)

// auditConcurrency bounds the tables audited at once by AuditAll.
const auditConcurrency = 8

// AuditReport is the result of re-validating a snapshot's manifests.
type AuditReport struct {
	Table      TableName  `json:"table"`
	Snapshot   SnapshotID `json:"snapshot"`
	CheckedAt  time.Time  `json:"checked_at"`
	TotalFiles int        `json:"total_files"`

	RelativeCount int      `json:"relative_count"`
	AbsoluteCount int      `json:"absolute_count"`
	AbsolutePaths []string `json:"absolute_paths,omitempty"`

	PartitionMismatches []PartitionMismatch `json:"partition_mismatches,omitempty"`

	// MissingFiles is only populated when the audit checks the lake root.
	MissingFiles []string `json:"missing_files,omitempty"`
}

// PartitionMismatch describes one file whose stored key disagrees with its
// path.
type PartitionMismatch struct {
	FileID   FileID       `json:"file_id"`
	Path     string       `json:"path"`
	Stored   PartitionKey `json:"stored"`
	FromPath PartitionKey `json:"from_path"`
	Reason   string       `json:"reason"`
}

// RelativePercent returns the share of relative paths, 100 for an empty
// snapshot.
func (r *AuditReport) RelativePercent() float64 {
	if r.TotalFiles == 0 {
		return 100
	}
	return 100 * float64(r.RelativeCount) / float64(r.TotalFiles)
}

// Healthy reports whether the audit found nothing to repair.
func (r *AuditReport) Healthy() bool {
	return r.AbsoluteCount == 0 && len(r.PartitionMismatches) == 0 && len(r.MissingFiles) == 0
}

// Err returns a *CatalogIntegrityError for an unhealthy report, else nil.
func (r *AuditReport) Err() error {
	if r.Healthy() {
		return nil
	}
	return &CatalogIntegrityError{Table: r.Table, Report: r}
}

type auditConfig struct {
	version    SnapshotID
	checkFiles bool
}

// AuditOption configures an audit.
type AuditOption func(*auditConfig)

// WithFileCheck also verifies that every relative path exists under the
// lake root. The catalog must have been opened with WithLakeRoot.
func WithFileCheck() AuditOption {
	return func(cfg *auditConfig) { cfg.checkFiles = true }
}

// AuditSnapshot audits a historical version instead of the current one.
func AuditSnapshot(v SnapshotID) AuditOption {
	return func(cfg *auditConfig) { cfg.version = v }
}

// Audit re-validates every manifest of a table's snapshot: each path must be
// relative, and the key recomputed from its path must equal the stored key.
//
// Findings are reported, never repaired. An unhealthy report is returned
// together with a *CatalogIntegrityError that carries it.
func (c *Catalog) Audit(ctx context.Context, name TableName, opts ...AuditOption) (*AuditReport, error) {
	var cfg auditConfig
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.checkFiles && c.resolver == nil {
		return nil, errors.New("lakecat: file check requires a lake root")
	}
	snap, t, err := c.resolveSnapshot(ctx, name, cfg.version)
	if err != nil {
		return nil, err
	}
	spec := t.index.Spec()

	report := &AuditReport{Table: name, Snapshot: snap.Version, CheckedAt: c.now().UTC()}
	for fm := range t.index.FilesFor(snap, nil) {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		report.TotalFiles++

		if err := c.checkPath(fm.Path); err != nil {
			report.AbsoluteCount++
			report.AbsolutePaths = append(report.AbsolutePaths, fm.Path)
		} else {
			report.RelativeCount++
			if cfg.checkFiles {
				missing, err := c.fileMissing(fm.Path)
				if err != nil {
					return nil, err
				}
				if missing {
					report.MissingFiles = append(report.MissingFiles, fm.Path)
				}
			}
		}

		fromPath, err := DecodePartitionPath(fm.Path)
		if err == nil {
			err = checkPathKey(spec, fm.Partition, fromPath)
		}
		if err != nil {
			report.PartitionMismatches = append(report.PartitionMismatches, PartitionMismatch{
				FileID: fm.ID, Path: fm.Path, Stored: fm.Partition, FromPath: fromPath, Reason: err.Error(),
			})
		}
	}

	if !report.Healthy() {
		c.logger.Warn("audit found integrity violations", "table", name, "version", snap.Version,
			"files", report.TotalFiles, "absolute", report.AbsoluteCount,
			"partition_mismatches", len(report.PartitionMismatches), "missing", len(report.MissingFiles))
		return report, report.Err()
	}
	c.logger.Info("audit passed", "table", name, "version", snap.Version, "files", report.TotalFiles)
	return report, nil
}

func (c *Catalog) fileMissing(rel string) (bool, error) {
	abs, err := c.resolver.ToAbsolute(rel)
	if err != nil {
		return false, err
	}
	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return true, nil
		}
		return false, fmt.Errorf("lakecat: stat %q: %w", abs, err)
	}
	return false, nil
}

// AuditAll audits every table concurrently. Reports are returned in table
// order; integrity errors from all tables are joined.
func (c *Catalog) AuditAll(ctx context.Context, opts ...AuditOption) ([]*AuditReport, error) {
	tables := c.Tables()
	reports := make([]*AuditReport, len(tables))
	findings := make([]error, len(tables))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(auditConcurrency)
	for i, name := range tables {
		g.Go(func() error {
			report, err := c.Audit(gctx, name, opts...)
			if err != nil && !errors.Is(err, ErrCatalogIntegrity) {
				return fmt.Errorf("audit %q: %w", name, err)
			}
			reports[i], findings[i] = report, err
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return reports, errors.Join(findings...)
}
