package main

import (
	"os"

	"github.com/alloybuild/orchestrator/internal/buildctl"
)

// Build-time variable, set via ldflags.
var version = "dev"

func main() {
	app := buildctl.New()
	app.SetVersion(version)

	if err := app.Execute(); err != nil {
		os.Exit(1)
	}
}
