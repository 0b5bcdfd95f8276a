package main

import (
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"tileview/internal/cache"
	"tileview/internal/tile"
)

func init() {
	var verbose bool
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Summarize the persisted cache state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rec, err := cache.ReadState(filepath.Join(flags.cacheDir, "state"))
			if err != nil {
				return err
			}
			return printState(cmd.OutOrStdout(), rec, verbose)
		},
	}
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list every tile")
	subcommands = append(subcommands, cmd)
}

type sourceSummary struct {
	tiles     int
	onDisk    int
	diskBytes uint64
}

func printState(out io.Writer, rec *cache.StateRecord, verbose bool) error {
	summaries := map[string]*sourceSummary{}
	summary := func(slug string) *sourceSummary {
		s := summaries[slug]
		if s == nil {
			s = &sourceSummary{}
			summaries[slug] = s
		}
		return s
	}
	for _, r := range rec.Requests {
		summary(r.Source).tiles++
	}

	var total uint64
	for name, n := range rec.DiskUsage {
		key, err := tile.ParseKey(name)
		if err != nil {
			return fmt.Errorf("corrupt disk usage entry: %w", err)
		}
		s := summary(key.Source)
		s.onDisk++
		s.diskBytes += n
		total += n
	}

	fmt.Fprintf(out, "session:  %s\n", rec.Session)
	fmt.Fprintf(out, "saved at: %s\n", rec.SavedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(out, "tiles:    %d\n", len(rec.Requests))
	fmt.Fprintf(out, "disk:     %d bytes\n\n", total)

	slugs := make([]string, 0, len(summaries))
	for slug := range summaries {
		slugs = append(slugs, slug)
	}
	sort.Strings(slugs)

	table := tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintf(table, "SOURCE\tTILES\tON DISK\tBYTES\n")
	for _, slug := range slugs {
		s := summaries[slug]
		fmt.Fprintf(table, "%s\t%d\t%d\t%d\n", slug, s.tiles, s.onDisk, s.diskBytes)
	}
	if err := table.Flush(); err != nil {
		return err
	}

	if !verbose {
		return nil
	}
	fmt.Fprintln(out)
	table = tabwriter.NewWriter(out, 0, 8, 2, ' ', 0)
	fmt.Fprintf(table, "KEY\tGENERATION\tPRIORITY\tBYTES\n")
	for _, r := range rec.Requests {
		key := r.Key().String()
		fmt.Fprintf(table, "%s\t%d\t%d\t%d\n", key, r.Generation, r.Priority, rec.DiskUsage[key])
	}
	return table.Flush()
}
