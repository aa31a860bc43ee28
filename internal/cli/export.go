package cli

import (
	"bytes"
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/bizcursor/internal/bizobj"
)

// ExportResult is the JSON payload of the export command.
type ExportResult struct {
	Object string `json:"object"`
	Rows   int    `json:"rows"`
	Output string `json:"output,omitempty"`
	XML    string `json:"xml,omitempty"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	var output string

	cmd := &cobra.Command{
		Use:   "export <object>",
		Short: "Export an object and its children as XML",
		Long: `Requery a business object, load the child rows of every row, and write
the whole tree as an XML document.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(rootOpts, cmd, args[0], output)
		},
	}

	cmd.Flags().StringVarP(&output, "output", "o", "", "write XML to this file instead of stdout")

	return cmd
}

func runExport(opts *RootOptions, cmd *cobra.Command, object, output string) error {
	s, err := openSession(opts, cmd, object)
	if err != nil {
		return err
	}
	defer s.Close()

	ctx := cmd.Context()
	if err := s.obj.Requery(ctx); err != nil {
		return s.fail("query failed", err)
	}
	if err := loadTree(ctx, s.obj); err != nil {
		return s.fail("loading children failed", err)
	}

	var buf bytes.Buffer
	if err := s.obj.WriteXML(&buf); err != nil {
		return s.fail("export failed", err)
	}

	result := ExportResult{Object: object, Rows: s.obj.RowCount()}
	if output != "" {
		if err := os.WriteFile(output, buf.Bytes(), 0o644); err != nil {
			return s.out.Fail(ExitCommandError, ErrCodeGeneric, "write failed", err)
		}
		result.Output = output
		s.out.VerboseLog("Wrote %d bytes to %s", buf.Len(), output)
		if s.out.Format == "json" {
			return s.out.Success(result)
		}
		return nil
	}
	if s.out.Format == "json" {
		result.XML = buf.String()
		return s.out.Success(result)
	}
	_, err = s.out.Writer.Write(buf.Bytes())
	return err
}

// loadTree visits every row of bo's current context and loads the child
// contexts of each, recursively.
func loadTree(ctx context.Context, bo *bizobj.BizObj) error {
	if len(bo.Children()) == 0 {
		return nil
	}
	return bo.Scan(ctx, func(b *bizobj.BizObj) error {
		for _, ch := range b.Children() {
			if err := loadTree(ctx, ch); err != nil {
				return err
			}
		}
		return nil
	}, bizobj.ScanOptions{RequeryChildren: true})
}
