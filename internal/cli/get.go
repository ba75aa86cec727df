package cli

import (
	"github.com/spf13/cobra"

	"github.com/mesh-intelligence/larder/pkg/larder"
)

func newGetCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "get <class> <key>...",
		Short: "Show one object by primary key",
		Long: `Get prints the object of the class whose primary key matches the given
values, one value per key property in definition order.

Example:
  larder get Customer 12
  larder get OrderLine 0190c5d8-5b7a-7cc1-8f6e-1a2b3c4d5e6f 3`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, flags, func(rt *larder.Runtime, s *settings) error {
				o, err := findByKey(rt, args[0], args[1:])
				if err != nil {
					return err
				}
				if s.jsonMode {
					return printJSON(cmd.OutOrStdout(), viewOf(o))
				}
				return printObject(cmd.OutOrStdout(), o)
			})
		},
	}
}
