package cli

import (
	"context"
	"fmt"

	"github.com/pithecene-io/lakecat/internal/config"
	s3client "github.com/pithecene-io/lakecat/internal/s3"
	"github.com/pithecene-io/lakecat/lakecat"
	"github.com/pithecene-io/lakecat/lakecat/gcs"
	s3store "github.com/pithecene-io/lakecat/lakecat/s3"
	"github.com/pithecene-io/lakecat/lakecat/sqlite"
)

// openMetaStore builds the metadata store selected by cfg.Meta.Kind.
func openMetaStore(ctx context.Context, cfg *config.Config) (lakecat.MetaStore, error) {
	comp, err := lakecat.NewCompressor(cfg.Meta.Compression)
	if err != nil {
		return nil, err
	}
	withComp := lakecat.WithCompressor(comp)

	switch cfg.Meta.Kind {
	case config.KindMemory:
		return lakecat.NewObjectMetaStore(lakecat.NewMemoryFactory(), withComp)

	case config.KindFS:
		return lakecat.NewObjectMetaStore(lakecat.NewFSFactory(cfg.MetaDir()), withComp)

	case config.KindSQLite:
		return sqlite.Open(ctx, cfg.SQLitePath())

	case config.KindS3:
		s3c := cfg.Meta.S3
		client, err := s3client.NewClient(ctx, s3client.ClientConfig{
			Region:          s3c.Region,
			Endpoint:        s3c.Endpoint,
			UsePathStyle:    s3c.PathStyle,
			AccessKeyID:     s3c.AccessKeyID,
			SecretAccessKey: s3c.SecretAccessKey,
		})
		if err != nil {
			return nil, err
		}
		return lakecat.NewObjectMetaStore(s3store.Factory(client, s3store.Config{
			Bucket: s3c.Bucket,
			Prefix: s3c.Prefix,
		}), withComp)

	case config.KindGCS:
		gc := gcs.Config{
			Bucket:          cfg.Meta.GCS.Bucket,
			Prefix:          cfg.Meta.GCS.Prefix,
			CredentialsFile: cfg.Meta.GCS.CredentialsFile,
			Endpoint:        cfg.Meta.GCS.Endpoint,
		}
		client, err := gcs.NewClient(ctx, gc)
		if err != nil {
			return nil, err
		}
		return lakecat.NewObjectMetaStore(gcs.Factory(client, gc), withComp)

	default:
		return nil, fmt.Errorf("unknown metadata store kind %q", cfg.Meta.Kind)
	}
}

// openCatalog opens the catalog described by the loaded configuration. The
// caller closes it.
func (a *app) openCatalog(ctx context.Context) (*lakecat.Catalog, error) {
	meta, err := openMetaStore(ctx, a.cfg)
	if err != nil {
		return nil, fmt.Errorf("open %s metadata store: %w", a.cfg.Meta.Kind, err)
	}
	cat, err := lakecat.Open(ctx,
		lakecat.WithLakeRoot(a.cfg.LakeRoot),
		lakecat.WithMetaStore(meta),
		lakecat.WithLogger(a.logger),
	)
	if err != nil {
		_ = meta.Close()
		return nil, err
	}
	a.logger.Debug("catalog opened", "lake_root", a.cfg.LakeRoot, "meta", a.cfg.Meta.Kind, "tables", len(cat.Tables()))
	return cat, nil
}

// withCatalog opens the catalog, runs fn, and closes the catalog.
func (a *app) withCatalog(ctx context.Context, fn func(*lakecat.Catalog) error) (err error) {
	cat, err := a.openCatalog(ctx)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := cat.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return fn(cat)
}
