package main

import (
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newManifestCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "manifest",
		Short: "List the titles in the manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := opts.open()
			if err != nil {
				return err
			}
			defer lib.Close()
			items, err := lib.ReadManifest()
			if items == nil {
				return err
			}
			perr := newPrinter(opts, cmd).print(items, func(tw *tabwriter.Writer) {
				for _, item := range items {
					n := 0
					for _, f := range item.Files {
						if f.Downloaded {
							n++
						}
					}
					fmt.Fprintf(tw, "%s\t%s\t%d/%d files\n", item.ID, item.Title, n, len(item.Files))
				}
			})
			if perr != nil {
				return perr
			}
			return err
		},
	}
}

func newAvailableCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "available",
		Short: "List the manifest titles not yet downloaded",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := opts.open()
			if err != nil {
				return err
			}
			defer lib.Close()
			items, err := lib.Available()
			if items == nil {
				return err
			}
			perr := newPrinter(opts, cmd).print(items, func(tw *tabwriter.Writer) {
				for _, item := range items {
					fmt.Fprintf(tw, "%s\t%s\n", item.ID, item.Title)
				}
			})
			if perr != nil {
				return perr
			}
			return err
		},
	}
}

func newLedgerCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ledger",
		Short: "List the titles in the downloaded ledger",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := opts.open()
			if err != nil {
				return err
			}
			defer lib.Close()
			items, err := lib.ReadDownloadedLedger()
			if err != nil {
				return err
			}
			return newPrinter(opts, cmd).print(items, func(tw *tabwriter.Writer) {
				for _, item := range items {
					fmt.Fprintf(tw, "%s\t%s\t%s\n", item.ID, item.Title, strings.Join(item.Checksums, ","))
				}
			})
		},
	}
}

func newMarkCommand(opts *rootOptions) *cobra.Command {
	var title string
	var checksums []string
	cmd := &cobra.Command{
		Use:   "mark <id>",
		Short: "Record a title as downloaded",
		Long: `Record a title as downloaded, for titles obtained some other way.
Updates and downloads leave titles in the ledger alone.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := opts.open()
			if err != nil {
				return err
			}
			defer lib.Close()
			if err := lib.MarkDownloaded(args[0], title, checksums); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "marked", args[0])
			return nil
		},
	}
	cmd.Flags().StringVar(&title, "title", "", "title name")
	cmd.Flags().StringSliceVar(&checksums, "md5", nil, "checksums of the title's files")
	return cmd
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var limit int
	var tasks bool
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			lib, err := opts.open()
			if err != nil {
				return err
			}
			defer lib.Close()
			p := newPrinter(opts, cmd)
			if tasks {
				list, err := lib.TaskHistory(limit)
				if err != nil {
					return err
				}
				return p.print(list, func(tw *tabwriter.Writer) {
					for _, t := range list {
						fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%s\n",
							t.When.Format("2006-01-02 15:04:05"), t.TitleID, t.File, t.Status, t.Bytes, t.Error)
					}
				})
			}
			list, err := lib.History(limit)
			if err != nil {
				return err
			}
			return p.print(list, func(tw *tabwriter.Writer) {
				for _, r := range list {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d items\t%d failed\t%d bytes\t%s\n",
						r.Started.Format("2006-01-02 15:04:05"), r.Kind, r.Finished.Sub(r.Started).Round(time.Second),
						r.Items, r.Failed, r.Bytes, r.Error)
				}
			})
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "how many to show")
	cmd.Flags().BoolVar(&tasks, "tasks", false, "show download tasks instead of runs")
	return cmd
}
