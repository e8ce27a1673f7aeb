package lakecat

import (
	"fmt"
	"net/url"
	"path"
	"strconv"
	"strings"
)

// Object layout of the metadata store:
//
//	tables/<table>/schemas/<version>.json[.gz|.zst]
//	tables/<table>/snapshots/<version>.json[.gz|.zst]
//	tables/<table>/HEAD
//
// Versions are zero-padded so that lexical listing order is version order.
// Table names are path-escaped.
const (
	tablesDir    = "tables"
	schemasDir   = "schemas"
	snapshotsDir = "snapshots"
	headFile     = "HEAD"
	recordExt    = ".json"
)

func schemaKey(table TableName, version int, c Compressor) string {
	return path.Join(tablesDir, url.PathEscape(string(table)), schemasDir,
		fmt.Sprintf("%06d%s%s", version, recordExt, c.Extension()))
}

func snapshotKey(table TableName, version SnapshotID, c Compressor) string {
	return path.Join(tablesDir, url.PathEscape(string(table)), snapshotsDir,
		fmt.Sprintf("%020d%s%s", version, recordExt, c.Extension()))
}

func headKey(table TableName) string {
	return path.Join(tablesDir, url.PathEscape(string(table)), headFile)
}

// recordRef is a parsed metadata object key.
type recordRef struct {
	table   TableName
	kind    string // schemasDir or snapshotsDir
	version uint64
}

// parseRecordKey parses a schema or snapshot key. Other keys, including
// HEAD pointers, report false.
func parseRecordKey(key string) (recordRef, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 4 || parts[0] != tablesDir {
		return recordRef{}, false
	}
	if parts[2] != schemasDir && parts[2] != snapshotsDir {
		return recordRef{}, false
	}
	table, err := url.PathUnescape(parts[1])
	if err != nil || table == "" {
		return recordRef{}, false
	}
	name := parts[3]
	dot := strings.Index(name, recordExt)
	if dot <= 0 {
		return recordRef{}, false
	}
	version, err := strconv.ParseUint(name[:dot], 10, 64)
	if err != nil || version == 0 {
		return recordRef{}, false
	}
	return recordRef{table: TableName(table), kind: parts[2], version: version}, true
}

// parseHeadKey returns the table of a HEAD pointer key.
func parseHeadKey(key string) (TableName, bool) {
	parts := strings.Split(key, "/")
	if len(parts) != 3 || parts[0] != tablesDir || parts[2] != headFile {
		return "", false
	}
	table, err := url.PathUnescape(parts[1])
	if err != nil || table == "" {
		return "", false
	}
	return TableName(table), true
}
