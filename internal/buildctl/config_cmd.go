package buildctl

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newConfigCmd(app *App) *cobra.Command {
	root := &cobra.Command{
		Use:   "config",
		Short: "View or change buildctl's local settings",
	}

	root.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the local server URL and whether a credential is saved",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Printf("server_url: %s\n", app.cfg.ServerURL)
			if app.cfg.Token == "" {
				fmt.Println("token:      (none)")
			} else {
				fmt.Println("token:      (set)")
			}
			return nil
		},
	})

	root.AddCommand(&cobra.Command{
		Use:   "set-url <url>",
		Short: "Point buildctl at a different orchestrator",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			app.cfg.ServerURL = args[0]
			return app.cfg.Save()
		},
	})

	var email, password string
	loginCmd := &cobra.Command{
		Use:   "login",
		Short: "Authenticate and save a bearer token locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := app.client().Login(cmd.Context(), email, password)
			if err != nil {
				failBanner(err)
				return err
			}
			app.cfg.Token = token
			return app.cfg.Save()
		},
	}
	loginCmd.Flags().StringVar(&email, "email", "", "account email")
	loginCmd.Flags().StringVar(&password, "password", "", "account password")
	root.AddCommand(loginCmd)

	registerCmd := &cobra.Command{
		Use:   "register",
		Short: "Create an account and save a bearer token locally",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := app.client().Register(cmd.Context(), email, password)
			if err != nil {
				failBanner(err)
				return err
			}
			app.cfg.Token = token
			return app.cfg.Save()
		},
	}
	registerCmd.Flags().StringVar(&email, "email", "", "account email")
	registerCmd.Flags().StringVar(&password, "password", "", "account password")
	root.AddCommand(registerCmd)

	return root
}
