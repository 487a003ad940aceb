package buildctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newCancelCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <job-id>",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := app.client().CancelJob(cmd.Context(), args[0]); err != nil {
				failBanner(err)
				return err
			}
			fmt.Printf("job %s cancelled\n", args[0])
			return nil
		},
	}
}
