package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/larder/pkg/bo"
	"github.com/mesh-intelligence/larder/pkg/larder"
)

// setResult is the JSON output of set.
type setResult struct {
	Created bool       `json:"created"`
	Changed []string   `json:"changed"`
	Object  objectView `json:"object"`
}

func newSetCmd(flags *rootFlags) *cobra.Command {
	var (
		props  []string
		unset  []string
		create bool
	)
	cmd := &cobra.Command{
		Use:   "set <class> <key>...",
		Short: "Create or update an object",
		Long: `Set assigns property values on the object with the given primary key and
commits the change. With --new a new object is created; key values given on
the command line are assigned to the key properties, and auto-increment or
uuid keys left out are generated.

Example:
  larder set Customer 12 --prop name=Acme --prop tier=Gold
  larder set Customer --new --prop name=Initech
  larder set Order 0190c5d8-5b7a-7cc1-8f6e-1a2b3c4d5e6f --unset total`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !create && len(args) < 2 {
				return usageErrorf("set needs key values unless --new is given")
			}
			if len(props) == 0 && len(unset) == 0 && !create {
				return usageErrorf("nothing to set (use --prop name=value or --unset name)")
			}
			return withRuntime(cmd, flags, func(rt *larder.Runtime, s *settings) error {
				o, err := targetObject(rt, args[0], args[1:], create)
				if err != nil {
					return err
				}
				for _, arg := range props {
					name, value, err := parseAssignment(arg)
					if err != nil {
						return err
					}
					if err := o.Set(name, value); err != nil {
						return err
					}
				}
				for _, name := range unset {
					if err := o.Set(name, nil); err != nil {
						return err
					}
				}

				changed := o.Props().DirtyNames()
				if !o.IsDirty() {
					fmt.Fprintf(cmd.OutOrStdout(), "No changes to %s\n", o.Key())
					return nil
				}
				if _, err := rt.Commit(o); err != nil {
					return err
				}

				if s.jsonMode {
					return printJSON(cmd.OutOrStdout(), setResult{Created: create, Changed: changed, Object: viewOf(o)})
				}
				verb := "Updated"
				if create {
					verb = "Created"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", verb, o.Key())
				return nil
			})
		},
	}
	cmd.Flags().StringArrayVar(&props, "prop", nil, "property assignment name=value (repeatable)")
	cmd.Flags().StringArrayVar(&unset, "unset", nil, "property to clear (repeatable)")
	cmd.Flags().BoolVar(&create, "new", false, "create a new object")
	return cmd
}

// targetObject returns the stored object with the key values in keys, or a
// new object with those key values assigned when create is set.
func targetObject(rt *larder.Runtime, class string, keys []string, create bool) (*bo.Object, error) {
	if !create {
		return findByKey(rt, class, keys)
	}
	o, err := rt.New(class)
	if err != nil {
		return nil, err
	}
	pk := o.Def().PrimaryKey
	if len(keys) > len(pk) {
		return nil, usageErrorf("%s has %d key properties, got %d values", o.Class(), len(pk), len(keys))
	}
	for i, v := range keys {
		if err := o.Set(pk[i], v); err != nil {
			return nil, err
		}
	}
	return o, nil
}
