package buildctl

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/alloybuild/orchestrator/internal/logstream"
)

func newLogsCmd(app *App) *cobra.Command {
	var follow bool

	cmd := &cobra.Command{
		Use:   "logs <job-id>",
		Short: "Show a job's logs, live by default",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := app.client()
			if !follow {
				lines, err := client.GetStoredLogs(cmd.Context(), args[0])
				if err != nil {
					failBanner(err)
					return err
				}
				for _, l := range lines {
					fmt.Print(l.Content)
				}
				return nil
			}

			err := client.StreamLogs(cmd.Context(), args[0], func(frame logstream.Frame) {
				if frame.Entry != nil {
					fmt.Print(frame.Entry.Content)
				}
			})
			if err != nil {
				failBanner(err)
				return err
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&follow, "follow", true, "stream live logs instead of fetching the stored transcript")
	return cmd
}
