package main

import (
	"os"

	"github.com/noah-isme/fuua/cmd/fuuactl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
