package lakecat

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// -----------------------------------------------------------------------------
// Partition spec
// -----------------------------------------------------------------------------

// Transform derives a partition value from a source column value.
type Transform string

// Supported transforms.
const (
	TransformIdentity Transform = "identity"
	TransformYear     Transform = "year"
	TransformMonth    Transform = "month"
	TransformDay      Transform = "day"
)

// PartitionField is one component of a table's partition key.
//
// The textual form is either a bare column name (identity) or
// transform(column), e.g. "year(date)". The field name is the transform name
// for date transforms and the column name for identity.
type PartitionField struct {
	Name      string    `json:"name"`
	Source    string    `json:"source"`
	Transform Transform `json:"transform"`
}

func (f PartitionField) String() string {
	if f.Transform == TransformIdentity {
		return f.Source
	}
	return fmt.Sprintf("%s(%s)", f.Transform, f.Source)
}

// ParsePartitionField parses "column" or "transform(column)".
func ParsePartitionField(s string) (PartitionField, error) {
	s = strings.TrimSpace(s)
	open := strings.IndexByte(s, '(')
	if open < 0 {
		if !isKeyName(s) {
			return PartitionField{}, fmt.Errorf("invalid partition field %q", s)
		}
		return PartitionField{Name: s, Source: s, Transform: TransformIdentity}, nil
	}
	if !strings.HasSuffix(s, ")") {
		return PartitionField{}, fmt.Errorf("invalid partition field %q: missing ')'", s)
	}
	tr := Transform(strings.ToLower(strings.TrimSpace(s[:open])))
	src := strings.TrimSpace(s[open+1 : len(s)-1])
	switch tr {
	case TransformYear, TransformMonth, TransformDay:
	case TransformIdentity:
		return PartitionField{Name: src, Source: src, Transform: TransformIdentity}, nil
	default:
		return PartitionField{}, fmt.Errorf("invalid partition field %q: unknown transform %q", s, tr)
	}
	if !isKeyName(src) {
		return PartitionField{}, fmt.Errorf("invalid partition field %q: bad source column", s)
	}
	return PartitionField{Name: string(tr), Source: src, Transform: tr}, nil
}

// PartitionSpec is the ordered list of partition fields of a table. An empty
// spec means the table is unpartitioned.
type PartitionSpec []PartitionField

// ParsePartitionSpec parses a list of partition field expressions.
func ParsePartitionSpec(fields ...string) (PartitionSpec, error) {
	spec := make(PartitionSpec, 0, len(fields))
	for _, f := range fields {
		pf, err := ParsePartitionField(f)
		if err != nil {
			return nil, err
		}
		spec = append(spec, pf)
	}
	return spec, nil
}

func (s PartitionSpec) String() string {
	parts := make([]string, len(s))
	for i, f := range s {
		parts[i] = f.String()
	}
	return strings.Join(parts, ", ")
}

// Field returns the partition field with the given name.
func (s PartitionSpec) Field(name string) (PartitionField, bool) {
	for _, f := range s {
		if f.Name == name {
			return f, true
		}
	}
	return PartitionField{}, false
}

// apply evaluates the transform on a source value. The second result is
// false if the value has no bucket under this transform.
func (f PartitionField) apply(v Value) (string, bool) {
	switch f.Transform {
	case TransformIdentity:
		if v.IsZero() {
			return "", false
		}
		return v.String(), true
	case TransformYear, TransformMonth, TransformDay:
		if v.Type() != TypeDate {
			return "", false
		}
		t := v.Time()
		switch f.Transform {
		case TransformYear:
			return strconv.Itoa(t.Year()), true
		case TransformMonth:
			return strconv.Itoa(int(t.Month())), true
		default:
			return strconv.Itoa(t.Day()), true
		}
	}
	return "", false
}

// bucketOf returns the partition value shared by every value in [lo, hi],
// or false if the range spans more than one bucket.
func (f PartitionField) bucketOf(lo, hi Value) (string, bool) {
	switch f.Transform {
	case TransformIdentity:
		if !lo.Equal(hi) {
			return "", false
		}
		return f.apply(lo)
	case TransformYear, TransformMonth, TransformDay:
		if lo.Type() != TypeDate || hi.Type() != TypeDate {
			return "", false
		}
		a, b := lo.Time(), hi.Time()
		same := a.Year() == b.Year()
		if f.Transform != TransformYear {
			same = same && a.Month() == b.Month()
		}
		if f.Transform == TransformDay {
			same = same && a.Day() == b.Day()
		}
		if !same {
			return "", false
		}
		return f.apply(lo)
	}
	return "", false
}

// -----------------------------------------------------------------------------
// Partition key
// -----------------------------------------------------------------------------

// PartitionValue is one named component of a partition key.
type PartitionValue struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// PartitionKey is an ordered tuple of partition values.
type PartitionKey []PartitionValue

// Get returns the value of the named component.
func (k PartitionKey) Get(name string) (string, bool) {
	for _, pv := range k {
		if pv.Name == name {
			return pv.Value, true
		}
	}
	return "", false
}

// String returns the hive path form of the key, e.g. "year=2013/month=1".
func (k PartitionKey) String() string {
	return EncodePartitionPath(k)
}

// Equal reports whether both keys name the same fields in the same order
// with equal values. Integer-looking values compare numerically.
func (k PartitionKey) Equal(other PartitionKey) bool {
	if len(k) != len(other) {
		return false
	}
	for i := range k {
		if k[i].Name != other[i].Name || ComparePartitionValues(k[i].Value, other[i].Value) != 0 {
			return false
		}
	}
	return true
}

// canonical returns the index form of the key: integer-looking values are
// normalized so that month=01 and month=1 land in one partition.
func (k PartitionKey) canonical() string {
	norm := make(PartitionKey, len(k))
	for i, pv := range k {
		norm[i] = PartitionValue{Name: pv.Name, Value: canonicalValue(pv.Value)}
	}
	return EncodePartitionPath(norm)
}

func canonicalValue(s string) string {
	if n, ok := partitionInt(s); ok {
		return strconv.FormatInt(n, 10)
	}
	return s
}

// ComparePartitionValues orders two partition values. If both parse as
// integers they compare numerically; otherwise lexicographically.
func ComparePartitionValues(a, b string) int {
	x, okA := partitionInt(a)
	y, okB := partitionInt(b)
	if okA && okB {
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	return strings.Compare(a, b)
}

func partitionInt(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(s, 10, 64)
	return n, err == nil
}

// formatPartitionValue converts a predicate operand to its partition form.
func formatPartitionValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case time.Time:
		return val.Format(dateLayout)
	case Value:
		return val.String()
	case fmt.Stringer:
		return val.String()
	default:
		return fmt.Sprintf("%v", val)
	}
}

// -----------------------------------------------------------------------------
// Path decoding
// -----------------------------------------------------------------------------

// DecodePartitionPath extracts the partition key encoded in a relative path.
//
// Grammar:
//
//	path    = *(segment "/") file
//	segment = hive / plain
//	hive    = key "=" value
//	key     = 1*(ALPHA / DIGIT / "_")
//	value   = *pchar            ; percent-decoded
//
// Only directory segments are examined; the final file name never
// contributes. Plain segments are skipped. A hive segment with an invalid
// key, a repeated key or a bad escape fails with ErrMalformedPartitionPath.
func DecodePartitionPath(relPath string) (PartitionKey, error) {
	segments := strings.Split(relPath, "/")
	if len(segments) <= 1 {
		return nil, nil
	}
	var key PartitionKey
	seen := make(map[string]struct{})
	for _, seg := range segments[:len(segments)-1] {
		eq := strings.IndexByte(seg, '=')
		if eq < 0 {
			continue
		}
		name, raw := seg[:eq], seg[eq+1:]
		if !isKeyName(name) {
			return nil, fmt.Errorf("%w: segment %q in %q: invalid key", ErrMalformedPartitionPath, seg, relPath)
		}
		if _, dup := seen[name]; dup {
			return nil, fmt.Errorf("%w: segment %q in %q: duplicate key", ErrMalformedPartitionPath, seg, relPath)
		}
		value, err := url.PathUnescape(raw)
		if err != nil {
			return nil, fmt.Errorf("%w: segment %q in %q: %v", ErrMalformedPartitionPath, seg, relPath, err)
		}
		seen[name] = struct{}{}
		key = append(key, PartitionValue{Name: name, Value: value})
	}
	return key, nil
}

// EncodePartitionPath renders a key as hive directory segments. It is the
// inverse of DecodePartitionPath for the directory part of a path.
func EncodePartitionPath(key PartitionKey) string {
	parts := make([]string, len(key))
	for i, pv := range key {
		parts[i] = pv.Name + "=" + url.PathEscape(pv.Value)
	}
	return strings.Join(parts, "/")
}

func isKeyName(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !(c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			return false
		}
	}
	return true
}

// -----------------------------------------------------------------------------
// Key derivation
// -----------------------------------------------------------------------------

// deriveKey computes the partition key of a manifest under spec and checks
// it against the hive segments of the manifest's path.
//
// Declared values come from fm.Partition. A field with no declared value
// takes the value encoded in the path. Whenever the source column's bounds
// fall into a single bucket, that bucket must agree with the result.
func deriveKey(table TableName, spec PartitionSpec, fm *FileManifest) (PartitionKey, error) {
	fromPath, err := DecodePartitionPath(fm.Path)
	if err != nil {
		return nil, &PartitionMismatchError{Table: table, Path: fm.Path, Declared: fm.Partition, Reason: err.Error()}
	}
	mismatch := func(format string, args ...any) error {
		return &PartitionMismatchError{
			Table: table, Path: fm.Path, Declared: fm.Partition, FromPath: fromPath,
			Reason: fmt.Sprintf(format, args...),
		}
	}

	for _, pv := range fm.Partition {
		if _, ok := spec.Field(pv.Name); !ok {
			return nil, mismatch("field %q is not part of the partition spec", pv.Name)
		}
	}

	key := make(PartitionKey, 0, len(spec))
	for _, f := range spec {
		pathVal, inPath := fromPath.Get(f.Name)
		if !inPath {
			return nil, mismatch("path does not encode partition field %q", f.Name)
		}
		value := pathVal
		if declared, ok := fm.Partition.Get(f.Name); ok {
			if ComparePartitionValues(declared, pathVal) != 0 {
				return nil, mismatch("field %q declared as %q but path encodes %q", f.Name, declared, pathVal)
			}
			value = declared
		}
		if stats, ok := fm.Columns[f.Source]; ok && stats.Min != nil && stats.Max != nil {
			if bucket, ok := f.bucketOf(*stats.Min, *stats.Max); ok && ComparePartitionValues(bucket, value) != 0 {
				return nil, mismatch("statistics of column %q place the file in %s=%s, not %s=%s",
					f.Source, f.Name, bucket, f.Name, value)
			}
		}
		key = append(key, PartitionValue{Name: f.Name, Value: value})
	}

	if err := checkPathKey(spec, key, fromPath); err != nil {
		return nil, mismatch("%s", err)
	}
	return key, nil
}

// checkPathKey compares a stored key with the key decoded from a path. The
// path must encode exactly the partition spec's fields with equal values.
func checkPathKey(spec PartitionSpec, stored, fromPath PartitionKey) error {
	for _, pv := range fromPath {
		if _, ok := spec.Field(pv.Name); !ok {
			return fmt.Errorf("path encodes %q which is not a partition field", pv.Name)
		}
	}
	for _, f := range spec {
		pathVal, inPath := fromPath.Get(f.Name)
		storedVal, inKey := stored.Get(f.Name)
		switch {
		case !inPath:
			return fmt.Errorf("path does not encode partition field %q", f.Name)
		case !inKey:
			return fmt.Errorf("stored key lacks partition field %q", f.Name)
		case ComparePartitionValues(pathVal, storedVal) != 0:
			return fmt.Errorf("stored %s=%s but path encodes %s=%s", f.Name, storedVal, f.Name, pathVal)
		}
	}
	if len(stored) != len(spec) {
		return errors.New("stored key has fields outside the partition spec")
	}
	return nil
}
