package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/noah-isme/fuua/internal/order"
	"github.com/noah-isme/fuua/internal/pricing"
	"github.com/noah-isme/fuua/internal/submit"
)

const orderHelp = `commands:
  type <id>               choose the base wrap
  toggle <catalog> <id>   add or remove an item
  add                     put the current wrap in the cart
  remove <wrap-id>        drop a wrap from the cart
  show                    print the current wrap and cart
  submit                  send the cart to the kitchen
  quit                    leave`

// orderCmd runs an interactive ordering session on the command streams.
func orderCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "order",
		Short: "Build wraps interactively and submit the order",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := cmd.OutOrStdout()
			c := order.New(opts.menu, submit.Log{Out: out, Logger: &opts.logger})
			c.Logger = &opts.logger
			return runOrder(cmd.Context(), c, cmd.InOrStdin(), out)
		},
	}
}

func runOrder(ctx context.Context, c *order.Configurator, in io.Reader, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}
	fmt.Fprintln(out, orderHelp)
	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		fields := strings.Fields(scanner.Text())
		if len(fields) == 0 {
			continue
		}
		switch cmd, args := strings.ToLower(fields[0]), fields[1:]; cmd {
		case "quit", "exit":
			return nil
		case "help", "?":
			fmt.Fprintln(out, orderHelp)
		case "type":
			if len(args) != 1 {
				fmt.Fprintln(out, "usage: type <id>")
				continue
			}
			c.SetWrapType(args[0])
			if wt, ok := c.Selection().WrapType(); ok {
				fmt.Fprintf(out, "wrap: %s %s\n", wt.Name, pricing.Format(wt.Price))
			} else {
				fmt.Fprintf(out, "no wrap type %q, choice cleared\n", args[0])
			}
		case "toggle":
			if len(args) != 2 {
				fmt.Fprintln(out, "usage: toggle <catalog> <id>")
				continue
			}
			res, ok := c.ToggleByID(args[0], args[1])
			switch {
			case !ok:
				fmt.Fprintf(out, "no %q in %s\n", args[1], args[0])
			case res == order.ToggleRejected:
				fmt.Fprintf(out, "rejected %s: at most %d toppings\n", args[1], order.MaxToppings)
			default:
				fmt.Fprintf(out, "%s %s, current %s\n", res, args[1], pricing.Format(c.CurrentTotal()))
			}
		case "add":
			wrap, ok := c.AddToCart()
			if !ok {
				fmt.Fprintln(out, "pick a wrap type and at least one item first")
				continue
			}
			fmt.Fprintf(out, "added %s %s %s, cart %s\n", wrap.ID, wrap.Type.Name, pricing.Format(wrap.Total), pricing.Format(c.CartTotal()))
		case "remove":
			if len(args) != 1 {
				fmt.Fprintln(out, "usage: remove <wrap-id>")
				continue
			}
			if c.RemoveFromCart(args[0]) {
				fmt.Fprintf(out, "removed %s, cart %s\n", args[0], pricing.Format(c.CartTotal()))
			} else {
				fmt.Fprintf(out, "no wrap %s in cart\n", args[0])
			}
		case "show":
			printSnapshot(out, c.Snapshot())
		case "submit":
			sent := c.SubmitOrder(ctx)
			fmt.Fprintf(out, "order sent: %d wraps\n", len(sent))
		default:
			fmt.Fprintf(out, "unknown command %q, try help\n", cmd)
		}
	}
}

func printSnapshot(w io.Writer, snap order.Snapshot) {
	wrap := "(none)"
	if snap.WrapType != nil {
		wrap = snap.WrapType.Name
	}
	names := make([]string, 0, len(snap.Items))
	for _, it := range snap.Items {
		names = append(names, it.Name)
	}
	fmt.Fprintf(w, "wrap: %s [%s] %s\n", wrap, strings.Join(names, ", "), pricing.Format(snap.CurrentTotal))
	if snap.ToppingLimitReached {
		fmt.Fprintln(w, "topping limit reached")
	}
	fmt.Fprintf(w, "cart: %d wraps, %s\n", len(snap.Cart), pricing.Format(snap.CartTotal))
	for _, cw := range snap.Cart {
		fmt.Fprintf(w, "  %s %s\n", cw.ID, submit.Summary([]order.ConfirmedWrap{cw}))
	}
}
