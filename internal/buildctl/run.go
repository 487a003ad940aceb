package buildctl

import (
	"context"
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/alloybuild/orchestrator/internal/logstream"
)

func newRunCmd(app *App) *cobra.Command {
	var command, script string

	cmd := &cobra.Command{
		Use:   "run <git-url>",
		Short: "Submit a build and stream its logs until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			client := app.client()

			scriptBody := script
			if script != "" {
				data, err := os.ReadFile(script)
				if err != nil {
					return fmt.Errorf("read script: %w", err)
				}
				scriptBody = string(data)
			}

			result, err := client.CreateGitJob(ctx, args[0], command, scriptBody)
			if err != nil {
				failBanner(err)
				return err
			}
			fmt.Printf("job %s submitted\n", result.JobID)

			exitCode, err := streamUntilComplete(ctx, client, result.JobID)
			if err != nil {
				failBanner(err)
				return err
			}
			if exitCode != 0 {
				color.New(color.FgRed, color.Bold).Printf("✗ build failed (exit %d)\n", exitCode)
				os.Exit(exitCode)
			}
			color.New(color.FgGreen, color.Bold).Println("✓ build succeeded")
			return nil
		},
	}

	cmd.Flags().StringVar(&command, "command", "", "shell command to run (mutually exclusive with --script)")
	cmd.Flags().StringVar(&script, "script", "", "path to a build script, read and sent as the job's script")
	return cmd
}

// streamUntilComplete prints every log line it receives and returns the
// job's exit code once the stream's completion frame arrives.
func streamUntilComplete(ctx context.Context, client *Client, jobID string) (int, error) {
	var exitCode int
	err := client.StreamLogs(ctx, jobID, func(frame logstream.Frame) {
		switch {
		case frame.Entry != nil:
			fmt.Print(frame.Entry.Content)
		case frame.Complete != nil:
			if frame.Complete.ExitCode != nil {
				exitCode = *frame.Complete.ExitCode
			}
		case frame.Error != "":
			failBanner(fmt.Errorf("%s", frame.Error))
		}
	})
	return exitCode, err
}
