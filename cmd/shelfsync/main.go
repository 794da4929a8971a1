// Command shelfsync keeps a local copy of a personal game library in step
// with the remote content store.
//
//	shelfsync login <username>
//	shelfsync update
//	shelfsync download --dir /srv/games
//	shelfsync manifest --format yaml
//
// Settings are read from the file given by --config, which defaults to
// $SHELFSYNC_CONFIG.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/getsentry/raven-go"
	"github.com/spf13/cobra"

	"github.com/ndlib/shelfsync/config"
	"github.com/ndlib/shelfsync/shelf"
)

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	ConfigFile string
	Format     string // text, json, or yaml
	Verbose    bool
	SentryDSN  string
}

var validFormats = []string{"text", "json", "yaml"}

func main() {
	cmd := newRootCommand()
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "shelfsync:", err)
		raven.Wait()
		os.Exit(1)
	}
	raven.Wait()
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:           "shelfsync",
		Short:         "Synchronize a personal game library",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !contains(validFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, validFormats)
			}
			log.SetFlags(log.LstdFlags)
			log.SetOutput(cmd.ErrOrStderr())
			if !opts.Verbose {
				log.SetOutput(io.Discard)
			}
			return nil
		},
	}
	cmd.PersistentFlags().StringVarP(&opts.ConfigFile, "config", "c", os.Getenv("SHELFSYNC_CONFIG"), "configuration file")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (text|json|yaml)")
	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "log progress to stderr")
	cmd.PersistentFlags().StringVar(&opts.SentryDSN, "sentry-dsn", "", "report errors to this Sentry DSN")

	cmd.AddCommand(
		newLoginCommand(opts),
		newCheckCommand(opts),
		newUpdateCommand(opts),
		newDownloadCommand(opts),
		newManifestCommand(opts),
		newLedgerCommand(opts),
		newAvailableCommand(opts),
		newMarkCommand(opts),
		newHistoryCommand(opts),
	)
	return cmd
}

// open reads the configuration and opens the library. The caller closes it.
func (opts *rootOptions) open() (*shelf.Library, error) {
	c, err := config.Load(opts.ConfigFile)
	if err != nil {
		return nil, err
	}
	dsn := opts.SentryDSN
	if dsn == "" {
		dsn = c.SentryDSN
	}
	if dsn != "" {
		if err := raven.SetDSN(dsn); err != nil {
			log.Println("sentry:", err)
		}
	}
	return shelf.Open(c)
}

// signalContext is canceled on an interrupt, so runs stop cleanly and leave
// their partial files to be resumed.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func contains(list []string, s string) bool {
	for _, x := range list {
		if x == s {
			return true
		}
	}
	return false
}
