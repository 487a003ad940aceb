package buildctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newJobsCmd(app *App) *cobra.Command {
	var status string
	var limit int

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List recent jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := app.client().ListJobs(cmd.Context(), status, limit)
			if err != nil {
				failBanner(err)
				return err
			}
			if len(jobs) == 0 {
				fmt.Println("no jobs")
				return nil
			}
			for _, j := range jobs {
				fmt.Printf("%s\t%s\t%s\n", j.ID, j.Status, j.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&status, "status", "", "filter by job status")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum jobs to list")
	return cmd
}
