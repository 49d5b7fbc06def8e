package commands

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/noah-isme/fuua/internal/menu"
	"github.com/noah-isme/fuua/internal/pricing"
)

// menu [catalog]: print the menu or a single catalog.
func menuCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "menu [catalog]",
		Short: "List menu catalogs and prices",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			if len(args) == 1 {
				c, ok := opts.menu.Catalog(args[0])
				if !ok {
					return fmt.Errorf("unknown catalog %q (have %v)", args[0], menu.Names())
				}
				printCatalog(out, c)
				return nil
			}
			for i, c := range opts.menu.Catalogs() {
				if i > 0 {
					fmt.Fprintln(out)
				}
				printCatalog(out, c)
			}
			return nil
		},
	}
}

func printCatalog(w io.Writer, c *menu.Catalog) {
	fmt.Fprintf(w, "%s (%s)\n", c.Title, c.Name)
	for _, it := range c.Items() {
		fmt.Fprintf(w, "  %-16s %-20s %s\n", it.ID, it.Name, pricing.Format(it.Price))
	}
}
