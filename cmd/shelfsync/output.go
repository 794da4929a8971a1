package main

import (
	"encoding/json"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// printer writes command output in the chosen format. For text, table is
// called with a tabwriter which is flushed afterwards.
type printer struct {
	format string
	w      io.Writer
}

func newPrinter(opts *rootOptions, cmd *cobra.Command) printer {
	return printer{format: opts.Format, w: cmd.OutOrStdout()}
}

func (p printer) print(v interface{}, table func(tw *tabwriter.Writer)) error {
	switch p.format {
	case "json":
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	tw := tabwriter.NewWriter(p.w, 0, 4, 2, ' ', 0)
	table(tw)
	return tw.Flush()
}

func errorStrings(errs []error) []string {
	var result []string
	for _, err := range errs {
		result = append(result, err.Error())
	}
	return result
}
