package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/larder/pkg/larder"
	"github.com/mesh-intelligence/larder/pkg/types"
)

// Transfer formats for import and export.
const (
	formatXML   = "xml"
	formatJSONL = "jsonl"
)

// formatFor returns the explicit format, or the one the file extension names.
func formatFor(explicit, path string) (string, error) {
	f := strings.ToLower(explicit)
	if f == "" {
		f = formatXML
		if strings.EqualFold(filepath.Ext(path), "."+formatJSONL) {
			f = formatJSONL
		}
	}
	if f != formatXML && f != formatJSONL {
		return "", usageErrorf("unknown format %q (valid: xml, jsonl)", explicit)
	}
	return f, nil
}

// importResult is the JSON output of import.
type importResult struct {
	Format   string   `json:"format"`
	Objects  int      `json:"objects"`
	Inserted int      `json:"inserted"`
	Updated  int      `json:"updated"`
	Warnings []string `json:"warnings,omitempty"`
}

func newImportCmd(flags *rootFlags) *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "import <file>",
		Short: "Import objects from an XML document or a JSONL snapshot",
		Long: `Import reads objects from a file and commits them as one unit of work.

XML documents are matched against stored objects by primary key: matching
objects are updated, the rest are inserted. A JSONL snapshot written by
"larder export --format jsonl" is loaded into the sqlite backend directly.

The format follows the file extension unless --format is given.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := formatFor(format, args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, flags, func(rt *larder.Runtime, s *settings) error {
				var res importResult
				if f == formatJSONL {
					res, err = importJSONL(rt, args[0])
				} else {
					res, err = importXML(cmd, rt, args[0])
				}
				if err != nil {
					return err
				}
				if s.jsonMode {
					return printJSON(cmd.OutOrStdout(), res)
				}
				if f == formatJSONL {
					fmt.Fprintf(cmd.OutOrStdout(), "Imported %d records\n", res.Objects)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d objects (%d inserted, %d updated)\n",
					res.Objects, res.Inserted, res.Updated)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "input format: xml or jsonl")
	return cmd
}

func importXML(cmd *cobra.Command, rt *larder.Runtime, path string) (importResult, error) {
	res := importResult{Format: formatXML}
	file, err := os.Open(path)
	if err != nil {
		return res, usageErrorf("open %s: %v", path, err)
	}
	defer file.Close()

	objs, warnings, err := rt.ReadXML(file)
	res.Warnings = warnings
	for _, w := range warnings {
		fmt.Fprintln(cmd.ErrOrStderr(), "warning:", w)
	}
	if err != nil {
		return res, fmt.Errorf("read %s: %w", path, err)
	}

	var result types.CommitResult
	if len(objs) > 0 {
		result, err = rt.Commit(objs...)
		if err != nil {
			return res, err
		}
	}
	res.Objects = len(objs)
	res.Inserted = result.Inserted
	res.Updated = result.Updated
	return res, nil
}

func importJSONL(rt *larder.Runtime, path string) (importResult, error) {
	if _, err := os.Stat(path); err != nil {
		return importResult{}, usageErrorf("open %s: %v", path, err)
	}
	n, err := rt.ImportJSONL(path)
	if err != nil {
		return importResult{}, fmt.Errorf("import %s: %w", path, err)
	}
	return importResult{Format: formatJSONL, Objects: n}, nil
}
