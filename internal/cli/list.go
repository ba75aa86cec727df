package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/larder/pkg/criteria"
	"github.com/mesh-intelligence/larder/pkg/larder"
)

func newListCmd(flags *rootFlags) *cobra.Command {
	var (
		where string
		order string
		first int
		limit int
		count bool
	)
	cmd := &cobra.Command{
		Use:   "list <class>",
		Short: "List objects with optional criteria, ordering, and paging",
		Long: `List prints the objects of a class that match --where, sorted by --order.
--first skips that many objects and --limit caps how many are shown.

Example:
  larder list Customer
  larder list Customer --where "tier = 'G' AND name LIKE 'A%'" --order "name DESC"
  larder list Order --order placed --first 20 --limit 10`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := criteria.Parse(where)
			if err != nil {
				return classify(fmt.Errorf("--where: %w", err))
			}
			o, err := criteria.ParseOrderBy(order)
			if err != nil {
				return classify(fmt.Errorf("--order: %w", err))
			}
			if first < 0 || limit < 0 {
				return usageErrorf("--first and --limit must not be negative")
			}
			return withRuntime(cmd, flags, func(rt *larder.Runtime, s *settings) error {
				def, err := rt.Catalog().Class(args[0])
				if err != nil {
					return err
				}
				if count {
					n, err := rt.Count(def.Class, c)
					if err != nil {
						return err
					}
					if s.jsonMode {
						return printJSON(cmd.OutOrStdout(), map[string]int{"count": n})
					}
					fmt.Fprintln(cmd.OutOrStdout(), n)
					return nil
				}

				objs, err := rt.GetAll(def.Class, larder.Query{Criteria: c, OrderBy: o, First: first, Limit: limit})
				if err != nil {
					return err
				}
				if s.jsonMode {
					views := make([]objectView, len(objs))
					for i, obj := range objs {
						views[i] = viewOf(obj)
					}
					return printJSON(cmd.OutOrStdout(), views)
				}
				return printTable(cmd.OutOrStdout(), def, objs)
			})
		},
	}
	cmd.Flags().StringVar(&where, "where", "", "criteria expression")
	cmd.Flags().StringVar(&order, "order", "", `order clause, e.g. "name DESC, id"`)
	cmd.Flags().IntVar(&first, "first", 0, "index of the first object to show")
	cmd.Flags().IntVar(&limit, "limit", 0, "maximum number of objects (0 for all)")
	cmd.Flags().BoolVar(&count, "count", false, "print the number of matching objects only")
	return cmd
}
