// Package commands implements the fuuactl terminal client.
package commands

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/fuua/internal/app"
	"github.com/noah-isme/fuua/internal/menu"
	"github.com/noah-isme/fuua/internal/obs"
)

type options struct {
	menuFile string
	logLevel string

	menu   *menu.Menu
	logger zerolog.Logger
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRoot().Execute()
}

// NewRoot builds the command tree.
func NewRoot() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "fuuactl",
		Short:         "Build wraps and send orders from the terminal",
		SilenceUsage:  true,
		SilenceErrors: false,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			m, err := app.LoadMenu(opts.menuFile)
			if err != nil {
				return err
			}
			opts.menu = m
			opts.logger = obs.NewLoggerTo(cmd.ErrOrStderr(), "console", opts.logLevel)
			return nil
		},
	}

	root.PersistentFlags().StringVar(&opts.menuFile, "menu", os.Getenv("MENU_FILE"), "menu yaml file (default built-in menu)")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level")

	root.AddCommand(menuCmd(opts), orderCmd(opts))
	return root
}
