package cli

import (
	"bufio"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/larder/pkg/bo"
	"github.com/mesh-intelligence/larder/pkg/criteria"
	"github.com/mesh-intelligence/larder/pkg/larder"
)

func newExportCmd(flags *rootFlags) *cobra.Command {
	var (
		classes []string
		format  string
		output  string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export objects as an XML document or a JSONL snapshot",
		Long: `Export writes stored objects as XML, ordered by class and primary key,
to standard output or the file given by -o. --class limits the document to
the named classes.

The jsonl format writes a snapshot of the whole sqlite store, including
auto-increment counters, and requires -o.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := formatFor(format, output)
			if err != nil {
				return err
			}
			if f == formatJSONL {
				if output == "" {
					return usageErrorf("--format jsonl requires -o")
				}
				if len(classes) > 0 {
					return usageErrorf("--class cannot be used with --format jsonl")
				}
			}
			return withRuntime(cmd, flags, func(rt *larder.Runtime, s *settings) error {
				if f == formatJSONL {
					if err := rt.ExportJSONL(output); err != nil {
						return fmt.Errorf("export %s: %w", output, err)
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "Exported snapshot to %s\n", output)
					return nil
				}
				return exportXML(cmd.OutOrStdout(), rt, classes, output)
			})
		},
	}
	cmd.Flags().StringArrayVar(&classes, "class", nil, "class to export (repeatable; default all)")
	cmd.Flags().StringVar(&format, "format", "", "output format: xml or jsonl")
	cmd.Flags().StringVarP(&output, "output", "o", "", "output file (default stdout)")
	return cmd
}

func exportXML(stdout io.Writer, rt *larder.Runtime, classes []string, output string) error {
	if len(classes) == 0 {
		for _, def := range rt.Catalog().Classes() {
			classes = append(classes, def.Class)
		}
	}
	var objs []*bo.Object
	for _, class := range classes {
		def, err := rt.Catalog().Class(class)
		if err != nil {
			return err
		}
		found, err := rt.FindAll(def.Class, nil, criteria.Asc(def.PrimaryKey...))
		if err != nil {
			return err
		}
		objs = append(objs, found...)
	}

	if output == "" {
		return rt.WriteXML(stdout, objs)
	}
	file, err := os.Create(output)
	if err != nil {
		return fmt.Errorf("create %s: %w", output, err)
	}
	w := bufio.NewWriter(file)
	if err := rt.WriteXML(w, objs); err != nil {
		file.Close()
		return err
	}
	if err := w.Flush(); err != nil {
		file.Close()
		return err
	}
	return file.Close()
}
