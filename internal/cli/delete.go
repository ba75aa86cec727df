package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/larder/pkg/larder"
)

// deleteResult is the JSON output of delete.
type deleteResult struct {
	Key       string   `json:"key"`
	Deletable bool     `json:"deletable"`
	Reasons   []string `json:"reasons,omitempty"`
	Deleted   int      `json:"deleted"`
}

func newDeleteCmd(flags *rootFlags) *cobra.Command {
	var check bool
	cmd := &cobra.Command{
		Use:   "delete <class> <key>...",
		Short: "Delete an object and the objects it owns",
		Long: `Delete removes the object with the given primary key. Relationships
marked delete_related remove the related objects too; relationships marked
prevent stop the delete while related objects exist.

--check reports whether the object could be deleted without deleting it.`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, flags, func(rt *larder.Runtime, s *settings) error {
				o, err := findByKey(rt, args[0], args[1:])
				if err != nil {
					return err
				}
				key := o.Key()

				if check {
					ok, reasons, err := rt.CanDelete(o)
					if err != nil {
						return err
					}
					if s.jsonMode {
						return printJSON(cmd.OutOrStdout(), deleteResult{Key: key, Deletable: ok, Reasons: reasons})
					}
					if ok {
						fmt.Fprintf(cmd.OutOrStdout(), "%s can be deleted\n", key)
						return nil
					}
					fmt.Fprintf(cmd.OutOrStdout(), "%s cannot be deleted:\n", key)
					for _, r := range reasons {
						fmt.Fprintf(cmd.OutOrStdout(), "  %s\n", r)
					}
					return nil
				}

				if err := o.MarkForDelete(); err != nil {
					return err
				}
				result, err := rt.Commit(o)
				if err != nil {
					o.CancelEdits()
					return err
				}
				if s.jsonMode {
					return printJSON(cmd.OutOrStdout(), deleteResult{Key: key, Deletable: true, Deleted: result.Deleted})
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s (%d objects)\n", key, result.Deleted)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&check, "check", false, "report whether the object can be deleted")
	return cmd
}
