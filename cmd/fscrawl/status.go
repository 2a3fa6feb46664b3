package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/fscrawl/fscrawl/internal/domain/crawl"
)

func newStatusCommand(v *viper.Viper) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "status [job...]",
		Short: "Show the persisted crawl status of jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, v, appOptions{jobs: args})
			if err != nil {
				return err
			}
			defer a.close(ctx)

			statuses := make([]crawl.Status, 0, len(a.cfg.Jobs))
			for _, j := range a.cfg.Jobs {
				cp, err := a.store.Load(ctx, j.Name)
				switch {
				case errors.Is(err, crawl.ErrCheckpointNotFound):
					cp = crawl.NewCheckpoint(j.Name)
				case err != nil:
					return fmt.Errorf("loading checkpoint of %s: %w", j.Name, err)
				}
				statuses = append(statuses, crawl.StatusFromCheckpoint(cp))
			}

			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(statuses)
			}
			return writeStatusTable(cmd.OutOrStdout(), statuses)
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	return cmd
}

func writeStatusTable(w io.Writer, statuses []crawl.Status) error {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "JOB\tSTATE\tPROCESSED\tDELETED\tERRORS\tLAST SCAN\tNEXT CHECK")
	for _, s := range statuses {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			s.Job,
			s.State,
			humanize.Comma(s.FilesProcessed),
			humanize.Comma(s.FilesDeleted),
			humanize.Comma(s.Errors),
			relative(s.LastScanEnd),
			relative(s.NextCheck),
		)
	}
	return tw.Flush()
}

func relative(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return humanize.Time(*t)
}
