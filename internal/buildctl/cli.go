package buildctl

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

// App is the buildctl CLI application with its wired configuration.
type App struct {
	rootCmd *cobra.Command
	cfg     *Config

	version string
}

// New builds the buildctl CLI, loading local config eagerly so every
// subcommand can assume cfg is populated.
func New() *App {
	cfg, err := LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "buildctl: %v\n", err)
		cfg = &Config{ServerURL: "http://localhost:8080"}
	}

	app := &App{cfg: cfg}
	app.setupRootCmd()
	return app
}

// Execute runs the CLI, returning the error from whichever subcommand
// ran (cobra has already printed it via the failure banner by then).
func (a *App) Execute() error {
	return a.rootCmd.Execute()
}

// SetVersion sets the version string reported by `buildctl --version`.
func (a *App) SetVersion(version string) {
	a.version = version
	a.rootCmd.Version = version
}

func (a *App) client() *Client {
	return NewClient(a.cfg.ServerURL, a.cfg.Token)
}

func (a *App) setupRootCmd() {
	a.rootCmd = &cobra.Command{
		Use:           "buildctl",
		Short:         "Thin client for the macOS remote build service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	a.rootCmd.AddCommand(
		newRunCmd(a),
		newStatusCmd(a),
		newArtifactsCmd(a),
		newCancelCmd(a),
		newLogsCmd(a),
		newJobsCmd(a),
		newRetryCmd(a),
		newConfigCmd(a),
	)
}

// failBanner prints the server-supplied error message in red, matching
// the external interface's "red failure banner" requirement.
func failBanner(err error) {
	color.New(color.FgRed, color.Bold).Fprintf(os.Stderr, "✗ %v\n", err)
}
