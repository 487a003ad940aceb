package buildctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newArtifactsCmd(app *App) *cobra.Command {
	return &cobra.Command{
		Use:   "artifacts <job-id>",
		Short: "List artifacts collected for a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			artifacts, err := app.client().GetArtifacts(cmd.Context(), args[0])
			if err != nil {
				failBanner(err)
				return err
			}
			if len(artifacts) == 0 {
				fmt.Println("no artifacts")
				return nil
			}
			for _, a := range artifacts {
				fmt.Printf("%s\t%s\t%d bytes\t%s\n", a.Name, a.Path, a.SizeBytes, a.DownloadURL)
			}
			return nil
		},
	}
}
