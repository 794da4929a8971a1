package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

func newLoginCommand(opts *rootOptions) *cobra.Command {
	var password string
	cmd := &cobra.Command{
		Use:   "login <username>",
		Short: "Log in to the remote store and keep the session",
		Long: `Log in to the remote store. The password is taken from --password,
then $SHELFSYNC_PASSWORD, then the first line of standard input.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("SHELFSYNC_PASSWORD")
			}
			if password == "" {
				line, err := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
				if err != nil && line == "" {
					return fmt.Errorf("no password given")
				}
				password = strings.TrimRight(line, "\r\n")
			}
			lib, err := opts.open()
			if err != nil {
				return err
			}
			defer lib.Close()
			ctx, cancel := signalContext()
			defer cancel()
			if err := lib.Login(ctx, args[0], password); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "logged in as", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&password, "password", "", "password")
	return cmd
}

func newCheckCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "check",
		Short: "Check the session is still good",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := opts.open()
			if err != nil {
				return err
			}
			defer lib.Close()
			ctx, cancel := signalContext()
			defer cancel()
			if err := lib.CheckAuth(ctx); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "session ok")
			return nil
		},
	}
}
