package buildctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRetryCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <job-id>",
		Short: "Clone a failed or cancelled job into a fresh pending one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			result, err := app.client().RetryJob(cmd.Context(), args[0])
			if err != nil {
				failBanner(err)
				return err
			}
			fmt.Printf("job %s resubmitted as %s\n", result.OriginalJobID, result.NewJobID)
			return nil
		},
	}
}
