package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// NewSchemaCommand creates the schema command.
func NewSchemaCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schema <object>",
		Short: "Print an object's field descriptor",
		Long: `Print the field descriptor of a business object as a list of
(alias, type, primary key, table, field, scale) tuples. Objects without
configured fields are queried once to derive it.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSchema(rootOpts, cmd, args[0])
		},
	}

	return cmd
}

func runSchema(opts *RootOptions, cmd *cobra.Command, object string) error {
	s, err := openSession(opts, cmd, object)
	if err != nil {
		return err
	}
	defer s.Close()

	c := s.obj.Cursor()
	if c.Schema() == nil {
		if b := c.Builder(); b != nil {
			b.SetLimit(1)
		}
		s.out.VerboseLog("No fields configured for %s; deriving from a query", object)
		if err := c.Requery(cmd.Context()); err != nil {
			return s.fail("query failed", err)
		}
	}
	desc := c.Schema()
	if desc == nil {
		return s.out.Fail(ExitFailure, ErrCodeGeneric, "no schema for "+object, nil)
	}

	if s.out.Format == "json" {
		return s.out.Success(desc)
	}
	data, err := yaml.Marshal(desc)
	if err != nil {
		return fmt.Errorf("encode schema: %w", err)
	}
	_, err = s.out.Writer.Write(data)
	return err
}
