package main

import (
	"os"

	"fleettrackr/cmd/fleettrackr/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		commands.PrintError(os.Stderr, err)
		os.Exit(1)
	}
}
