package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/sqlwatch/sqlwatch/internal/graph"
	"github.com/sqlwatch/sqlwatch/internal/ui"
)

var depsCmd = &cobra.Command{
	Use:     "deps <object>",
	GroupID: "inspect",
	Short:   "Show what would be dropped and recreated when an object changes",
	Long: `Print the transitive dependents of an object in the order a change to it
would drop them, followed by the order they would be recreated in.

Example usage:
  sqlwatch deps Orders
  sqlwatch deps Orders --order create`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		order, _ := cmd.Flags().GetString("order")

		p, _, err := loadProject(cmd.Context())
		if err != nil {
			return err
		}

		e, ok := p.Graph.ByName(args[0])
		if !ok {
			return fmt.Errorf("unknown object %q", args[0])
		}
		fmt.Printf("%s %s (%s)\n", ui.RenderBold(e.Name), e.Kind, ui.RenderMuted(e.Path))

		var orders []graph.Order
		switch strings.ToLower(order) {
		case "", "both":
			orders = []graph.Order{graph.DropOrder, graph.CreateOrder}
		case "drop":
			orders = []graph.Order{graph.DropOrder}
		case "create":
			orders = []graph.Order{graph.CreateOrder}
		default:
			return fmt.Errorf("--order must be drop, create or both")
		}

		for _, o := range orders {
			deps, cycles := p.Graph.DependentsOf(e.Name, o)
			fmt.Printf("\n%s order:\n", ui.RenderAccent(o.String()))
			if len(deps) == 0 {
				fmt.Println(ui.RenderMuted("  (no dependents)"))
			}
			for i, d := range deps {
				fmt.Printf("  %2d. %s %s\n", i+1, d.Name, ui.RenderMuted(d.Kind.String()))
			}
			for _, c := range cycles {
				fmt.Printf("  %s cycle not followed: %s\n", ui.RenderWarn("!"), c)
			}
		}
		return nil
	},
}

func init() {
	depsCmd.Flags().String("order", "both", "which order to print: drop, create or both")
	rootCmd.AddCommand(depsCmd)
}
