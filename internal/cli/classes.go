package cli

import (
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newClassesCmd(flags *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "classes",
		Short: "List the loaded class definitions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadSettings(cmd, flags)
			if err != nil {
				return classify(err)
			}
			cat, err := openCatalog(s)
			if err != nil {
				return err
			}
			defs := cat.Classes()
			if s.jsonMode {
				return printJSON(cmd.OutOrStdout(), defs)
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "CLASS\tKEY\tPROPERTIES\tRELATIONSHIPS")
			for _, def := range defs {
				props := make([]string, len(def.Properties))
				for i, p := range def.Properties {
					props[i] = p.Name + ":" + p.ValueType()
				}
				rels := make([]string, len(def.Relationships))
				for i, r := range def.Relationships {
					rels[i] = fmt.Sprintf("%s->%s(%s)", r.Name, r.RelatedClass, r.Action())
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", def.Class,
					strings.Join(def.PrimaryKey, ","), strings.Join(props, " "), strings.Join(rels, " "))
			}
			return tw.Flush()
		},
	}
}
