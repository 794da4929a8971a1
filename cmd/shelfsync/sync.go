package main

import (
	"fmt"
	"log"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/ndlib/shelfsync/download"
	"github.com/ndlib/shelfsync/shelf"
	"github.com/ndlib/shelfsync/update"
)

// overrides copies flag values onto a request, but only for the flags given
// on the command line, so the configured defaults stay otherwise. The
// destinations are fields of a request variable which is reset to the
// defaults before set is called.
type overrides struct {
	cmd   *cobra.Command
	apply []func()
}

func (o *overrides) bools(name, usage string, dst *bool) {
	var v bool
	o.cmd.Flags().BoolVar(&v, name, false, usage)
	o.apply = append(o.apply, func() {
		if o.cmd.Flags().Changed(name) {
			*dst = v
		}
	})
}

// optBool is bools for a field which is nil until chosen.
func (o *overrides) optBool(name, usage string, dst **bool) {
	var v bool
	o.cmd.Flags().BoolVar(&v, name, false, usage)
	o.apply = append(o.apply, func() {
		if o.cmd.Flags().Changed(name) {
			*dst = shelf.Bool(v)
		}
	})
}

func (o *overrides) strings(name, usage string, dst *[]string) {
	var v []string
	o.cmd.Flags().StringSliceVar(&v, name, nil, usage)
	o.apply = append(o.apply, func() {
		if o.cmd.Flags().Changed(name) {
			*dst = v
		}
	})
}

func (o *overrides) str(name, usage string, dst *string) {
	var v string
	o.cmd.Flags().StringVar(&v, name, "", usage)
	o.apply = append(o.apply, func() {
		if o.cmd.Flags().Changed(name) {
			*dst = v
		}
	})
}

func (o *overrides) float(name, usage string, dst **float64) {
	var v float64
	o.cmd.Flags().Float64Var(&v, name, 0, usage)
	o.apply = append(o.apply, func() {
		if o.cmd.Flags().Changed(name) {
			x := v
			*dst = &x
		}
	})
}

func (o *overrides) set() {
	for _, fn := range o.apply {
		fn()
	}
}

type workLine struct {
	TitleID string `json:"id" yaml:"id"`
	Title   string `json:"title" yaml:"title"`
	File    string `json:"file" yaml:"file"`
	Size    int64  `json:"size" yaml:"size"`
	Reason  string `json:"reason" yaml:"reason"`
}

type updateSummary struct {
	Added     []string   `json:"added" yaml:"added"`
	Updated   []string   `json:"updated" yaml:"updated"`
	Unchanged []string   `json:"unchanged" yaml:"unchanged"`
	Skipped   []string   `json:"skipped" yaml:"skipped"`
	Worklist  []workLine `json:"worklist" yaml:"worklist"`
	Failures  []string   `json:"failures,omitempty" yaml:"failures,omitempty"`
	Warnings  []string   `json:"warnings,omitempty" yaml:"warnings,omitempty"`
}

func summarizeUpdate(r *update.Result) updateSummary {
	s := updateSummary{
		Added:     r.Added,
		Updated:   r.Updated,
		Unchanged: r.Unchanged,
		Skipped:   r.Skipped,
		Worklist:  []workLine{},
		Warnings:  errorStrings(r.Warnings),
	}
	for _, w := range r.Worklist {
		s.Worklist = append(s.Worklist, workLine{
			TitleID: w.TitleID,
			Title:   w.Title,
			File:    w.File.Name,
			Size:    w.File.Size,
			Reason:  w.Reason,
		})
	}
	for _, f := range r.Failures {
		s.Failures = append(s.Failures, fmt.Sprintf("%s: %v", f.TitleID, f.Err))
	}
	return s
}

func newUpdateCommand(opts *rootOptions) *cobra.Command {
	var req shelf.UpdateRequest
	cmd := &cobra.Command{
		Use:   "update",
		Short: "Reconcile the manifest with the remote catalog",
		Args:  cobra.NoArgs,
	}
	o := &overrides{cmd: cmd}
	o.strings("os", "platforms to keep, e.g. windows,linux", &req.Platforms)
	o.strings("lang", "languages to keep, e.g. en,de", &req.Languages)
	o.bools("skip-known", "do not refresh titles already in the manifest", &req.SkipKnown)
	o.bools("update-only", "only refresh titles already in the manifest", &req.UpdateOnly)
	o.bools("skip-unknown", "only refresh new titles and titles flagged as updated", &req.SkipUnknown)
	o.bools("force", "refresh known titles even with --skip-known or --skip-unknown", &req.ForceRefresh)
	o.strings("id", "only these titles, by id or name", &req.IDs)
	o.strings("skip-id", "never these titles, by id or name", &req.SkipIDs)
	o.optBool("skip-hidden", "leave out titles hidden in the remote library", &req.SkipHidden)
	o.str("installers", "installer mode, e.g. standalone, galaxy, both, all", &req.Installers)
	o.str("resume", "resume mode: noresume, resume, or onlyresume", &req.ResumeMode)
	o.bools("strict-verify", "check downloaded files again on the next download", &req.StrictVerify)
	o.optBool("strict-dupe", "reject files duplicating another file's content", &req.StrictDupe)
	o.optBool("lenient-downloads", "installers only change when their checksum does", &req.LenientDownloadsUpdate)
	o.optBool("strict-extras", "extras change with size or version and are pruned", &req.StrictExtrasUpdate)
	o.optBool("checksums", "fetch checksum documents for files without one", &req.EmitChecksumFiles)
	o.optBool("no-changelogs", "do not keep changelogs in the manifest", &req.NoChangelogs)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		lib, err := opts.open()
		if err != nil {
			return err
		}
		defer lib.Close()
		req = lib.UpdateDefaults()
		o.set()
		ctx, cancel := signalContext()
		defer cancel()
		result, err := lib.RunUpdate(ctx, req)
		if result != nil {
			perr := newPrinter(opts, cmd).print(summarizeUpdate(result), func(tw *tabwriter.Writer) {
				fmt.Fprintf(tw, "added %d, updated %d, unchanged %d, skipped %d\n",
					len(result.Added), len(result.Updated), len(result.Unchanged), len(result.Skipped))
				for _, w := range result.Worklist {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", w.Title, w.File.Name, w.Reason, w.File.Size)
				}
				for _, warn := range result.Warnings {
					fmt.Fprintf(tw, "warning: %v\n", warn)
				}
			})
			if perr != nil {
				return perr
			}
		}
		if opts.Verbose {
			logCounters(lib)
		}
		return err
	}
	return cmd
}

type taskLine struct {
	TitleID  string `json:"id" yaml:"id"`
	File     string `json:"file" yaml:"file"`
	Dest     string `json:"dest" yaml:"dest"`
	Status   string `json:"status" yaml:"status"`
	Bytes    int64  `json:"bytes" yaml:"bytes"`
	Attempts int    `json:"attempts" yaml:"attempts"`
	Error    string `json:"error,omitempty" yaml:"error,omitempty"`
}

type downloadSummary struct {
	RunID   string     `json:"run_id" yaml:"run_id"`
	Tasks   []taskLine `json:"tasks" yaml:"tasks"`
	Bytes   int64      `json:"bytes" yaml:"bytes"`
	Images  []string   `json:"images,omitempty" yaml:"images,omitempty"`
	Removed []string   `json:"removed,omitempty" yaml:"removed,omitempty"`
	Errors  []string   `json:"errors,omitempty" yaml:"errors,omitempty"`
}

func summarizeDownload(r *download.Report) downloadSummary {
	s := downloadSummary{
		RunID:   r.RunID,
		Tasks:   []taskLine{},
		Bytes:   r.Bytes(),
		Images:  r.Images,
		Removed: r.Removed,
		Errors:  errorStrings(r.Errors),
	}
	for _, tr := range r.Results {
		line := taskLine{
			TitleID:  tr.Task.TitleID,
			File:     tr.Task.File.Name,
			Dest:     tr.Task.Dest,
			Status:   tr.Status,
			Bytes:    tr.Bytes,
			Attempts: tr.Attempts,
		}
		if tr.Err != nil {
			line.Error = tr.Err.Error()
		}
		s.Tasks = append(s.Tasks, line)
	}
	return s
}

func newDownloadCommand(opts *rootOptions) *cobra.Command {
	var req shelf.DownloadRequest
	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the files in the manifest",
		Args:  cobra.NoArgs,
	}
	o := &overrides{cmd: cmd}
	o.str("dir", "target directory", &req.TargetDir)
	o.strings("id", "only these titles, by id or name", &req.IDs)
	o.strings("skip-id", "never these titles, by id or name", &req.SkipIDs)
	o.strings("os", "platforms to get", &req.Platforms)
	o.strings("lang", "languages to get", &req.Languages)
	o.bools("skip-extras", "leave out extras", &req.SkipExtras)
	o.bools("skip-galaxy", "leave out galaxy installers", &req.SkipGalaxy)
	o.bools("skip-standalone", "leave out standalone installers", &req.SkipStandalone)
	o.bools("skip-shared", "leave out shared installers", &req.SkipShared)
	o.strings("skip-files", "leave out files matching these patterns", &req.SkipFiles)
	o.bools("dry-run", "only show what would be done", &req.DryRun)
	o.optBool("covers", "fetch cover images", &req.Covers)
	o.optBool("backgrounds", "fetch background images", &req.Backgrounds)
	o.optBool("skip-prealloc", "do not reserve disk space before transfers", &req.SkipPreallocation)
	o.optBool("clean-old-images", "remove images no title refers to", &req.CleanOldImages)
	o.float("limit", "bandwidth limit in bytes per second, 0 for none", &req.Limit)
	o.str("resume", "resume mode: noresume or resume", &req.ResumeMode)

	cmd.RunE = func(cmd *cobra.Command, args []string) error {
		lib, err := opts.open()
		if err != nil {
			return err
		}
		defer lib.Close()
		req = lib.DownloadDefaults()
		o.set()
		ctx, cancel := signalContext()
		defer cancel()
		report, err := lib.RunDownload(ctx, req)
		if report != nil {
			perr := newPrinter(opts, cmd).print(summarizeDownload(report), func(tw *tabwriter.Writer) {
				for _, tr := range report.Results {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\n", tr.Task.Title, tr.Task.File.Name, tr.Status, tr.Bytes)
				}
				fmt.Fprintf(tw, "%d done, %d adopted, %d verified, %d failed, %d bytes\n",
					report.Count(download.StatusDone), report.Count(download.StatusAdopted),
					report.Count(download.StatusVerified), report.Count(download.StatusFailed),
					report.Bytes())
			})
			if perr != nil {
				return perr
			}
		}
		if opts.Verbose {
			logCounters(lib)
		}
		return err
	}
	return cmd
}

func logCounters(lib *shelf.Library) {
	for _, k := range lib.Counters.Keys() {
		log.Printf("%s = %g", k, lib.Counters.Get(k))
	}
}
