package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/shelf/internal/docstore"
	"github.com/mesh-intelligence/shelf/internal/engine"
)

var (
	flagExportOut string
	flagImportIn  string
)

var exportCmd = &cobra.Command{
	Use:   "export <space>",
	Short: "Export a space and its records as JSON lines",
	Long: `Export writes the space document followed by its canonical records.
With --out the file is replaced atomically.

Example:
  shelf export -p acme users --out users.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			var n int
			export := func(w io.Writer) (err error) {
				n, err = e.ExportSpace(ctx, trace(args[0]), w)
				return err
			}
			if flagExportOut == "" || flagExportOut == "-" {
				return export(cmd.OutOrStdout())
			}
			if err := docstore.WriteFileAtomic(flagExportOut, export); err != nil {
				return err
			}
			return confirm(cmd.ErrOrStderr(), fmt.Sprintf("Exported %d records to %s", n, flagExportOut),
				map[string]any{"exported": n, "file": flagExportOut})
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import <space>",
	Short: "Import an export into a space",
	Long: `Import reads an export into the space, creating it from the exported
structure when missing. Records already present are skipped. Importing into
a different space copies the records under new ids.

Example:
  shelf import -p acme users_copy --in users.jsonl`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		in, err := openInput(flagImportIn)
		if err != nil {
			return err
		}
		defer in.Close()
		return withEngine(cmd, func(ctx context.Context, e *engine.Engine) error {
			res, err := e.ImportSpace(ctx, trace(args[0]), in)
			if err != nil {
				return err
			}
			return confirm(cmd.OutOrStdout(),
				fmt.Sprintf("Imported %d records (%d skipped, %d malformed lines)", res.Imported, res.Skipped, res.Malformed),
				map[string]any{"imported": res.Imported, "skipped": res.Skipped, "malformed": res.Malformed})
		})
	},
}

func init() {
	exportCmd.Flags().StringVar(&flagExportOut, "out", "", "output file (default: stdout)")
	importCmd.Flags().StringVar(&flagImportIn, "in", "-", "input file (default: stdin)")
}
