package lakecat

import (
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"
)

// Schema is one immutable version of a table's column definitions.
type Schema struct {
	Table        TableName
	Version      int
	Columns      []Column
	Partitioning PartitionSpec
	CreatedAt    time.Time
}

// Column returns the named column.
func (s *Schema) Column(name string) (Column, bool) {
	for _, c := range s.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// ColumnNames returns the column names in definition order.
func (s *Schema) ColumnNames() []string {
	names := make([]string, len(s.Columns))
	for i, c := range s.Columns {
		names[i] = c.Name
	}
	return names
}

func (s *Schema) record() SchemaRecord {
	return SchemaRecord{
		Table:        s.Table,
		Version:      s.Version,
		Columns:      slices.Clone(s.Columns),
		Partitioning: slices.Clone(s.Partitioning),
		CreatedAt:    s.CreatedAt,
	}
}

func schemaFromRecord(r SchemaRecord) *Schema {
	return &Schema{
		Table:        r.Table,
		Version:      r.Version,
		Columns:      slices.Clone(r.Columns),
		Partitioning: slices.Clone(r.Partitioning),
		CreatedAt:    r.CreatedAt,
	}
}

// SchemaRegistry holds the append-only schema history of every table.
//
// Versions start at 1. A version is never modified once added; evolution
// only appends nullable columns, so every historical snapshot can still be
// read with the version that was current when it was committed.
type SchemaRegistry struct {
	mu       sync.RWMutex
	versions map[TableName][]*Schema
	now      func() time.Time
}

// NewSchemaRegistry creates an empty registry.
func NewSchemaRegistry() *SchemaRegistry {
	return &SchemaRegistry{
		versions: make(map[TableName][]*Schema),
		now:      time.Now,
	}
}

// Define registers version 1 of a new table.
func (r *SchemaRegistry) Define(table TableName, columns []Column, spec PartitionSpec) (int, error) {
	s, err := r.prepareDefine(table, columns, spec)
	if err != nil {
		return 0, err
	}
	if err := r.apply(s); err != nil {
		return 0, err
	}
	return s.Version, nil
}

// Evolve appends nullable columns, producing the next schema version.
func (r *SchemaRegistry) Evolve(table TableName, added []Column) (int, error) {
	s, err := r.prepareEvolve(table, added)
	if err != nil {
		return 0, err
	}
	if err := r.apply(s); err != nil {
		return 0, err
	}
	return s.Version, nil
}

// Replace rejects a wholesale redefinition of a table's columns. Removing or
// retyping columns is not an additive change; create a new table instead.
func (r *SchemaRegistry) Replace(table TableName, columns []Column) (int, error) {
	latest, err := r.Latest(table)
	if err != nil {
		return 0, err
	}
	for _, old := range latest.Columns {
		idx := slices.IndexFunc(columns, func(c Column) bool { return c.Name == old.Name })
		if idx < 0 {
			return 0, &SchemaConflictError{Table: table, Column: old.Name, Reason: "column removal is not an additive change"}
		}
		if columns[idx].Type != old.Type {
			return 0, &SchemaConflictError{Table: table, Column: old.Name,
				Reason: fmt.Sprintf("type change from %s to %s is not an additive change", old.Type, columns[idx].Type)}
		}
	}
	return 0, &SchemaConflictError{Table: table, Reason: "schemas cannot be replaced; use Evolve to add nullable columns"}
}

// Resolve returns the given schema version of a table.
func (r *SchemaRegistry) Resolve(table TableName, version int) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	history, ok := r.versions[table]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, table)
	}
	if version < 1 || version > len(history) {
		return nil, fmt.Errorf("lakecat: table %q has no schema version %d", table, version)
	}
	return history[version-1], nil
}

// Latest returns the newest schema version of a table.
func (r *SchemaRegistry) Latest(table TableName) (*Schema, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	history, ok := r.versions[table]
	if !ok || len(history) == 0 {
		return nil, fmt.Errorf("%w: %q", ErrTableNotFound, table)
	}
	return history[len(history)-1], nil
}

// Tables returns every defined table in name order.
func (r *SchemaRegistry) Tables() []TableName {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]TableName, 0, len(r.versions))
	for name := range r.versions {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

func (r *SchemaRegistry) prepareDefine(table TableName, columns []Column, spec PartitionSpec) (*Schema, error) {
	if reason := tableNameViolation(table); reason != "" {
		return nil, &SchemaConflictError{Table: table, Reason: reason}
	}
	r.mu.RLock()
	_, exists := r.versions[table]
	r.mu.RUnlock()
	if exists {
		return nil, fmt.Errorf("%w: %q", ErrTableExists, table)
	}
	if len(columns) == 0 {
		return nil, &SchemaConflictError{Table: table, Reason: "at least one column is required"}
	}
	if err := validateColumns(table, nil, columns); err != nil {
		return nil, err
	}
	s := &Schema{Table: table, Version: 1, Columns: slices.Clone(columns), Partitioning: slices.Clone(spec), CreatedAt: r.now().UTC()}
	if err := validatePartitioning(s); err != nil {
		return nil, err
	}
	return s, nil
}

func (r *SchemaRegistry) prepareEvolve(table TableName, added []Column) (*Schema, error) {
	latest, err := r.Latest(table)
	if err != nil {
		return nil, err
	}
	if len(added) == 0 {
		return nil, &SchemaConflictError{Table: table, Reason: "evolve requires at least one added column"}
	}
	if err := validateColumns(table, latest.Columns, added); err != nil {
		return nil, err
	}
	for _, c := range added {
		if !c.Nullable {
			return nil, &SchemaConflictError{Table: table, Column: c.Name, Reason: "added columns must be nullable"}
		}
	}
	return &Schema{
		Table:        table,
		Version:      latest.Version + 1,
		Columns:      append(slices.Clone(latest.Columns), added...),
		Partitioning: latest.Partitioning,
		CreatedAt:    r.now().UTC(),
	}, nil
}

// apply appends a prepared or loaded schema version.
func (r *SchemaRegistry) apply(s *Schema) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	history := r.versions[s.Table]
	if s.Version != len(history)+1 {
		return fmt.Errorf("lakecat: table %q: schema version %d out of order (have %d)", s.Table, s.Version, len(history))
	}
	r.versions[s.Table] = append(history, s)
	return nil
}

func validateColumns(table TableName, existing, added []Column) error {
	seen := make(map[string]LogicalType, len(existing)+len(added))
	for _, c := range existing {
		seen[c.Name] = c.Type
	}
	for _, c := range added {
		if strings.TrimSpace(c.Name) == "" {
			return &SchemaConflictError{Table: table, Reason: "column name is required"}
		}
		if c.Type == TypeUnknown || c.Type > TypeBoolean {
			return &SchemaConflictError{Table: table, Column: c.Name, Reason: fmt.Sprintf("unsupported type %s", c.Type)}
		}
		if prev, dup := seen[c.Name]; dup {
			if prev != c.Type {
				return &SchemaConflictError{Table: table, Column: c.Name,
					Reason: fmt.Sprintf("type change from %s to %s is not an additive change", prev, c.Type)}
			}
			return &SchemaConflictError{Table: table, Column: c.Name, Reason: "column already exists"}
		}
		seen[c.Name] = c.Type
	}
	return nil
}

func validatePartitioning(s *Schema) error {
	names := make(map[string]struct{}, len(s.Partitioning))
	for _, f := range s.Partitioning {
		if _, dup := names[f.Name]; dup {
			return &SchemaConflictError{Table: s.Table, Column: f.Source, Reason: fmt.Sprintf("duplicate partition field %q", f.Name)}
		}
		names[f.Name] = struct{}{}
		col, ok := s.Column(f.Source)
		if !ok {
			return &SchemaConflictError{Table: s.Table, Column: f.Source, Reason: "partition source is not a column"}
		}
		if f.Transform != TransformIdentity && col.Type != TypeDate {
			return &SchemaConflictError{Table: s.Table, Column: f.Source,
				Reason: fmt.Sprintf("%s transform requires a DATE column, got %s", f.Transform, col.Type)}
		}
	}
	return nil
}

// tableNameViolation returns why name cannot be a table name, or "". Names
// become one segment of a metadata key.
func tableNameViolation(name TableName) string {
	switch n := string(name); {
	case strings.TrimSpace(n) == "":
		return "table name is required"
	case n == "." || n == "..":
		return fmt.Sprintf("table name %q is reserved", n)
	case strings.ContainsAny(n, `/\`):
		return fmt.Sprintf("table name %q contains a path separator", n)
	}
	return ""
}
