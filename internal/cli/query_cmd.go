package cli

import (
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/pithecene-io/lakecat/lakecat"
)

func (a *app) newQueryCmd() *cobra.Command {
	var (
		column   string
		snapshot uint64
		where    string
	)
	cmd := &cobra.Command{
		Use:   "query <table> <metric>",
		Short: "Answer an aggregate from file statistics",
		Long: "Answer an aggregate without reading row data. Metrics: " + strings.Join(lakecat.Metrics, ", ") + ".\n" +
			"distinct_count always fails: file statistics cannot support it.",
		Example: "  lakecat query oil row_count --where 'year=2013'\n" +
			"  lakecat query oil null_ratio --column dcoilwtico\n" +
			"  lakecat query transactions time_range --snapshot 2",
		Args: cobra.ExactArgs(2),
		ValidArgsFunction: func(_ *cobra.Command, args []string, _ string) ([]string, cobra.ShellCompDirective) {
			if len(args) == 1 {
				return lakecat.Metrics, cobra.ShellCompDirectiveNoFileComp
			}
			return nil, cobra.ShellCompDirectiveNoFileComp
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			pred, err := lakecat.ParsePredicate(where)
			if err != nil {
				return err
			}
			req := lakecat.QueryRequest{
				Table:     lakecat.TableName(args[0]),
				Snapshot:  lakecat.SnapshotID(snapshot),
				Predicate: pred,
				Metric:    args[1],
				Column:    column,
			}
			return a.withCatalog(cmd.Context(), func(cat *lakecat.Catalog) error {
				res, err := cat.Execute(cmd.Context(), req)
				if err != nil {
					return err
				}
				return render(cmd, res, func(w io.Writer) error {
					pairs := [][2]string{
						{"table", string(res.Table)},
						{"snapshot", itoa(res.Snapshot)},
						{"metric", res.Metric},
					}
					if res.Column != "" {
						pairs = append(pairs, [2]string{"column", res.Column})
					}
					if res.Count != nil {
						pairs = append(pairs, [2]string{"value", itoa(*res.Count)})
					}
					if res.Ratio != nil {
						pairs = append(pairs, [2]string{"value", strconv.FormatFloat(*res.Ratio, 'f', 6, 64)})
					}
					if res.Min != nil && res.Max != nil {
						pairs = append(pairs, [2]string{"min", res.Min.String()}, [2]string{"max", res.Max.String()})
					}
					return printDetail(w, pairs...)
				})
			})
		},
	}
	cmd.Flags().StringVar(&column, "column", "", "Column for null_ratio, min_max and time_range")
	cmd.Flags().Uint64Var(&snapshot, "snapshot", 0, "Snapshot version (default current)")
	cmd.Flags().StringVar(&where, "where", "", "Partition predicate, e.g. 'year=2013'")
	return cmd
}

func (a *app) newDistributionCmd() *cobra.Command {
	var (
		snapshot uint64
		where    string
	)
	cmd := &cobra.Command{
		Use:     "distribution <table> <partition-field>",
		Short:   "Show rows per partition value",
		Example: "  lakecat distribution oil year",
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			pred, err := lakecat.ParsePredicate(where)
			if err != nil {
				return err
			}
			return a.withCatalog(cmd.Context(), func(cat *lakecat.Catalog) error {
				shares, err := cat.Distribution(cmd.Context(), lakecat.TableName(args[0]), args[1],
					lakecat.AtSnapshot(lakecat.SnapshotID(snapshot)), lakecat.Where(pred))
				if err != nil {
					return err
				}
				return render(cmd, shares, func(w io.Writer) error {
					rows := make([][]string, len(shares))
					for i, s := range shares {
						rows[i] = []string{s.Value, itoa(s.Files), itoa(s.Rows), percent(s.Percent)}
					}
					return printTable(w, []string{strings.ToUpper(args[1]), "FILES", "ROWS", "PERCENT"}, rows)
				})
			})
		},
	}
	cmd.Flags().Uint64Var(&snapshot, "snapshot", 0, "Snapshot version (default current)")
	cmd.Flags().StringVar(&where, "where", "", "Partition predicate")
	return cmd
}
