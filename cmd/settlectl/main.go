package main

import (
	"os"

	"carbon-scribe/settlement-backend/cmd/settlectl/commands"
)

// Version information - set during build
var (
	version = "dev"
	commit  = "none"
)

func main() {
	commands.SetVersionInfo(version, commit)

	// errors are printed by the printer package
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
