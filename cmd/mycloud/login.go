package main

import (
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"mycloud/internal/api"
	"mycloud/internal/config"
)

func newLoginCmd(cfg *config.Config, jsonOutput *bool) *cobra.Command {
	var passwordStdin bool

	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Log in and print an access token",
		Long:  "Log in and print an access token. Export it as MYCLOUD_TOKEN for the files commands.",
		Args:  requireExactlyArgs(1, "username is required"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !passwordStdin {
				return errPasswordStdinRequired
			}
			password, err := readPassword(passwordInput)
			if err != nil {
				return err
			}

			return withClient(cfg, func(client *api.Client) error {
				resp, err := client.Login(cmd.Context(), api.LoginRequest{Username: strings.TrimSpace(args[0]), Password: password})
				if err != nil {
					return err
				}
				if *jsonOutput {
					return writeJSON(resp)
				}
				if err := writePlain("export MYCLOUD_TOKEN=%s\n", resp.Token); err != nil {
					return err
				}
				return writePlain("# logged in as %s (%s), token expires %s\n", resp.Account.Username, resp.Account.Role, humanize.Time(resp.ExpiresAt))
			})
		},
	}

	cmd.Flags().BoolVar(&passwordStdin, "password-stdin", false, "read password from stdin")
	return cmd
}
