package cli

import (
	"encoding/base64"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/cockroachdb/apd/v3"
	"github.com/spf13/cobra"
)

// QueryResult is the JSON payload of the query command.
type QueryResult struct {
	Object  string           `json:"object"`
	Columns []string         `json:"columns"`
	Rows    []map[string]any `json:"rows"`
}

// NewQueryCommand creates the query command.
func NewQueryCommand(rootOpts *RootOptions) *cobra.Command {
	var where string
	var limit int

	cmd := &cobra.Command{
		Use:   "query <object>",
		Short: "Query an object and print its rows",
		Long: `Requery a business object and print the rows of its root context.

--where adds a condition to the object's SELECT; --limit caps the row count.
Neither applies to objects configured with fixed SQL.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runQuery(rootOpts, cmd, args[0], where, limit)
		},
	}

	cmd.Flags().StringVar(&where, "where", "", "extra SQL condition")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of rows (0 = no limit)")

	return cmd
}

func runQuery(opts *RootOptions, cmd *cobra.Command, object, where string, limit int) error {
	s, err := openSession(opts, cmd, object)
	if err != nil {
		return err
	}
	defer s.Close()

	if where != "" || limit > 0 {
		b := s.obj.Cursor().Builder()
		if b == nil {
			return s.out.Fail(ExitCommandError, ErrCodeBadArgument,
				fmt.Sprintf("object %s uses fixed SQL; --where and --limit do not apply", object), nil)
		}
		if where != "" {
			b.AddWhere(where)
		}
		if limit > 0 {
			b.SetLimit(limit)
		}
	}

	if err := s.obj.Requery(cmd.Context()); err != nil {
		return s.fail("query failed", err)
	}
	c := s.obj.Cursor()
	columns := c.Schema().Aliases()
	s.out.VerboseLog("%d row(s)", c.RowCount())

	if s.out.Format == "json" {
		return s.out.Success(QueryResult{Object: object, Columns: columns, Rows: c.DataSet()})
	}

	rows := make([][]string, 0, c.RowCount())
	for _, rec := range c.DataSet() {
		row := make([]string, len(columns))
		for i, name := range columns {
			row[i] = formatCell(rec[name])
		}
		rows = append(rows, row)
	}
	if err := s.out.Table(columns, rows); err != nil {
		return err
	}
	_, err = fmt.Fprintf(s.out.Writer, "(%d rows)\n", len(rows))
	return err
}

func formatCell(v any) string {
	switch x := v.(type) {
	case nil:
		return "NULL"
	case *apd.Decimal:
		return x.Text('f')
	case time.Time:
		if x.IsZero() {
			return ""
		}
		return x.Format(time.RFC3339)
	case []byte:
		if utf8.Valid(x) {
			return string(x)
		}
		return base64.StdEncoding.EncodeToString(x)
	}
	return fmt.Sprint(v)
}
