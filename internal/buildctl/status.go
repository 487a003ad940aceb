package buildctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show a job's current status",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := app.client().GetJob(cmd.Context(), args[0])
			if err != nil {
				failBanner(err)
				return err
			}

			fmt.Printf("id:       %s\n", job.ID)
			fmt.Printf("status:   %s\n", job.Status)
			fmt.Printf("worker:   %s\n", job.WorkerID)
			fmt.Printf("created:  %s\n", job.CreatedAt)
			if job.ExitCode != nil {
				fmt.Printf("exit:     %d\n", *job.ExitCode)
			}
			if job.BuildMinutes > 0 {
				fmt.Printf("minutes:  %.1f\n", job.BuildMinutes)
			}
			return nil
		},
	}
}
