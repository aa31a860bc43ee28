package cli

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/bizcursor/internal/wire"
)

// DiffResult is the JSON payload of the diff command.
type DiffResult struct {
	Object string          `json:"object"`
	Hash   string          `json:"hash"`
	Diff   json.RawMessage `json:"diff"`
}

// NewDiffCommand creates the diff command.
func NewDiffCommand(rootOpts *RootOptions) *cobra.Command {
	var sets []string
	var row int
	var newRow bool

	cmd := &cobra.Command{
		Use:   "diff <object>",
		Short: "Preview the change set of edits without saving",
		Long: `Apply field edits to one row of a business object and print the
resulting change set as canonical JSON, with its content hash. Field
validators run as they would in an application. Nothing is written.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDiff(rootOpts, cmd, args[0], sets, row, newRow)
		},
	}

	cmd.Flags().StringArrayVar(&sets, "set", nil, "field=value edit (repeatable)")
	cmd.Flags().IntVar(&row, "row", 0, "row to edit")
	cmd.Flags().BoolVar(&newRow, "new", false, "edit a new row instead of an existing one")

	return cmd
}

func runDiff(opts *RootOptions, cmd *cobra.Command, object string, sets []string, row int, newRow bool) error {
	s, err := openSession(opts, cmd, object)
	if err != nil {
		return err
	}
	defer s.Close()

	type edit struct{ field, value string }
	edits := make([]edit, 0, len(sets))
	for _, kv := range sets {
		field, value, ok := strings.Cut(kv, "=")
		if !ok || field == "" {
			return s.out.Fail(ExitCommandError, ErrCodeBadArgument,
				fmt.Sprintf("--set %q: want field=value", kv), nil)
		}
		edits = append(edits, edit{field, value})
	}

	ctx := cmd.Context()
	if err := s.obj.Requery(ctx); err != nil {
		return s.fail("query failed", err)
	}
	if newRow {
		err = s.obj.New(ctx)
	} else {
		err = s.obj.SetRowNumber(ctx, row)
	}
	if err != nil {
		return s.fail("positioning failed", err)
	}
	for _, e := range edits {
		if err := s.obj.SetFieldValue(e.field, e.value); err != nil {
			return s.fail("edit rejected", err)
		}
	}

	d := s.obj.DataDiff(false)
	data, err := wire.MarshalCanonical(d)
	if err != nil {
		return s.fail("encode diff", err)
	}
	hash, err := wire.Hash(d)
	if err != nil {
		return s.fail("hash diff", err)
	}

	if s.out.Format == "json" {
		return s.out.Success(DiffResult{Object: object, Hash: hash, Diff: data})
	}
	_, err = fmt.Fprintf(s.out.Writer, "%s\nhash: %s\n", data, hash)
	return err
}
