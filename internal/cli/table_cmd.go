package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pithecene-io/lakecat/lakecat"
)

func (a *app) newTablesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tables",
		Short: "List tables with their current version, files and rows",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withCatalog(cmd.Context(), func(cat *lakecat.Catalog) error {
				inv, err := cat.Inventory(cmd.Context())
				if err != nil {
					return err
				}
				return render(cmd, inv, func(w io.Writer) error {
					rows := make([][]string, len(inv))
					for i, t := range inv {
						rows[i] = []string{
							string(t.Table), itoa(t.Version), itoa(t.SchemaVersion), itoa(t.Columns),
							orDash(t.Partitioning), itoa(t.Files), itoa(t.Rows), humanBytes(t.SizeBytes),
						}
					}
					return printTable(w, []string{"TABLE", "VERSION", "SCHEMA", "COLUMNS", "PARTITIONING", "FILES", "ROWS", "SIZE"}, rows)
				})
			})
		},
	}
}

func (a *app) newDefineCmd() *cobra.Command {
	var (
		columns    []string
		partitions []string
	)
	cmd := &cobra.Command{
		Use:   "define <table>",
		Short: "Define a table's columns and partitioning",
		Example: "  lakecat define oil --column date:DATE --column dcoilwtico:DOUBLE:null --partition 'year(date)'\n" +
			"  lakecat define sales --column date:DATE --column store_nbr:INTEGER --partition store_nbr",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cols, err := parseColumns(columns)
			if err != nil {
				return err
			}
			if len(cols) == 0 {
				return fmt.Errorf("define %s: at least one --column is required", args[0])
			}
			spec, err := lakecat.ParsePartitionSpec(partitions...)
			if err != nil {
				return err
			}
			return a.withCatalog(cmd.Context(), func(cat *lakecat.Catalog) error {
				schema, err := cat.DefineTable(cmd.Context(), lakecat.TableName(args[0]), cols, spec)
				if err != nil {
					return err
				}
				return renderSchema(cmd, schema)
			})
		},
	}
	cmd.Flags().StringArrayVar(&columns, "column", nil, "Column as name:TYPE[:null] (repeatable)")
	cmd.Flags().StringArrayVar(&partitions, "partition", nil, "Partition field such as year(date) or store_nbr (repeatable)")
	return cmd
}

func (a *app) newEvolveCmd() *cobra.Command {
	var columns []string
	cmd := &cobra.Command{
		Use:     "evolve <table>",
		Short:   "Add nullable columns to a table",
		Example: "  lakecat evolve oil --column source:TEXT:null",
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cols, err := parseColumns(columns)
			if err != nil {
				return err
			}
			if len(cols) == 0 {
				return fmt.Errorf("evolve %s: at least one --column is required", args[0])
			}
			return a.withCatalog(cmd.Context(), func(cat *lakecat.Catalog) error {
				schema, err := cat.EvolveTable(cmd.Context(), lakecat.TableName(args[0]), cols)
				if err != nil {
					return err
				}
				return renderSchema(cmd, schema)
			})
		},
	}
	cmd.Flags().StringArrayVar(&columns, "column", nil, "Column as name:TYPE:null (repeatable)")
	return cmd
}

// schemaView is the printed form of a schema version.
type schemaView struct {
	Table        lakecat.TableName `json:"table"`
	Version      int               `json:"version"`
	Columns      []lakecat.Column  `json:"columns"`
	Partitioning []string          `json:"partitioning,omitempty"`
}

func renderSchema(cmd *cobra.Command, s *lakecat.Schema) error {
	view := schemaView{Table: s.Table, Version: s.Version, Columns: s.Columns}
	for _, f := range s.Partitioning {
		view.Partitioning = append(view.Partitioning, f.String())
	}
	return render(cmd, view, func(w io.Writer) error {
		fmt.Fprintf(w, "table %s schema v%d\n", s.Table, s.Version)
		rows := make([][]string, len(s.Columns))
		for i, c := range s.Columns {
			null := "NOT NULL"
			if c.Nullable {
				null = "NULL"
			}
			rows[i] = []string{c.Name, c.Type.String(), null}
		}
		if err := printTable(w, []string{"COLUMN", "TYPE", "NULLABLE"}, rows); err != nil {
			return err
		}
		if len(view.Partitioning) > 0 {
			fmt.Fprintf(w, "partitioned by %s\n", strings.Join(view.Partitioning, ", "))
		}
		return nil
	})
}

// parseColumns parses name:TYPE[:null] column flags.
func parseColumns(specs []string) ([]lakecat.Column, error) {
	cols := make([]lakecat.Column, 0, len(specs))
	for _, s := range specs {
		parts := strings.Split(s, ":")
		if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
			return nil, fmt.Errorf("invalid column %q: want name:TYPE[:null]", s)
		}
		typ, err := lakecat.ParseLogicalType(parts[1])
		if err != nil {
			return nil, fmt.Errorf("invalid column %q: %w", s, err)
		}
		col := lakecat.Column{Name: parts[0], Type: typ}
		if len(parts) == 3 {
			if !strings.EqualFold(parts[2], "null") {
				return nil, fmt.Errorf("invalid column %q: third part must be \"null\"", s)
			}
			col.Nullable = true
		}
		cols = append(cols, col)
	}
	return cols, nil
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
