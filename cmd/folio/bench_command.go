package main

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"folio/internal/render"
	"folio/internal/renderservice"
	"folio/internal/termcaps"
)

type pageTiming struct {
	Page     int
	Duration time.Duration
	Cached   bool
}

func newBenchCommand(ctx *commandContext) *cobra.Command {
	var pages string
	var passes, cols, rows int
	var zoom float64

	cmd := &cobra.Command{
		Use:   "bench <file.pdf>",
		Short: "Render a page range and report timings and cache statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if passes < 1 {
				return fmt.Errorf("passes must be at least 1")
			}
			eng, err := startEngine(cmd.Context(), ctx, args[0])
			if err != nil {
				return err
			}
			defer eng.close()

			first, last, err := parsePageRange(pages, eng.info.Pages)
			if err != nil {
				return err
			}
			vp := render.Viewport{Cols: cols, Rows: rows, CellWidth: termcaps.DefaultCellWidth, CellHeight: termcaps.DefaultCellHeight}

			out := cmd.OutOrStdout()
			for pass := 1; pass <= passes; pass++ {
				timings := make([]pageTiming, 0, last-first+1)
				started := time.Now()
				for page := first; page <= last; page++ {
					key := eng.key(page, zoom, 0)
					cached := eng.service.State(key) == render.StateReady
					begin := time.Now()
					if _, err := eng.renderPage(cmd.Context(), key, vp); err != nil {
						return fmt.Errorf("page %d: %w", page+1, err)
					}
					timings = append(timings, pageTiming{Page: page + 1, Duration: time.Since(begin), Cached: cached})
				}
				fmt.Fprintf(out, "Pass %d: %d pages in %s\n", pass, len(timings), time.Since(started).Round(time.Millisecond))
				fmt.Fprintln(out, renderTable(
					[]string{"", "Min", "Median", "P95", "Max"},
					[][]string{timingRow(timings)},
					[]columnAlignment{alignLeft, alignRight, alignRight, alignRight, alignRight},
				))
			}
			printServiceStats(out, eng.service.Stats())
			return nil
		},
	}

	cmd.Flags().StringVar(&pages, "pages", "", "Page range a-b (1-based, default all pages)")
	cmd.Flags().IntVar(&passes, "passes", 1, "Number of passes over the range")
	cmd.Flags().IntVar(&cols, "cols", 80, "Viewport width in cells")
	cmd.Flags().IntVar(&rows, "rows", 24, "Viewport height in cells")
	cmd.Flags().Float64Var(&zoom, "zoom", 1, "Zoom factor")
	return cmd
}

// parsePageRange turns "a-b", "a" or "" into zero-based inclusive bounds.
func parsePageRange(value string, pages int) (int, int, error) {
	if pages <= 0 {
		return 0, 0, fmt.Errorf("document has no pages")
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return 0, pages - 1, nil
	}
	lo, hi, isRange := strings.Cut(value, "-")
	first, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, fmt.Errorf("page range %q: %w", value, err)
	}
	last := first
	if isRange {
		if last, err = strconv.Atoi(strings.TrimSpace(hi)); err != nil {
			return 0, 0, fmt.Errorf("page range %q: %w", value, err)
		}
	}
	if first < 1 || last < first || last > pages {
		return 0, 0, fmt.Errorf("page range %q outside 1-%d", value, pages)
	}
	return first - 1, last - 1, nil
}

func timingRow(timings []pageTiming) []string {
	label := fmt.Sprintf("%d pages", len(timings))
	if len(timings) == 0 {
		return []string{label, "-", "-", "-", "-"}
	}
	durations := make([]time.Duration, len(timings))
	cached := 0
	for i, t := range timings {
		durations[i] = t.Duration
		if t.Cached {
			cached++
		}
	}
	if cached > 0 {
		label = fmt.Sprintf("%s (%d cached)", label, cached)
	}
	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	pick := func(q float64) string {
		idx := int(q * float64(len(durations)-1))
		return durations[idx].Round(time.Microsecond).String()
	}
	return []string{label, pick(0), pick(0.5), pick(0.95), pick(1)}
}

func printServiceStats(out io.Writer, stats renderservice.Stats) {
	rows := [][]string{
		{"Requests", strconv.FormatUint(stats.Requests, 10)},
		{"Cache hits", strconv.FormatUint(stats.CacheHits, 10)},
		{"Deduplicated", strconv.FormatUint(stats.Deduplicated, 10)},
		{"Rendered", strconv.FormatUint(stats.Rendered, 10)},
		{"Prefetch enqueued", strconv.FormatUint(stats.PrefetchEnqueued, 10)},
		{"Prefetch dropped", strconv.FormatUint(stats.PrefetchDropped, 10)},
		{"Stale discarded", strconv.FormatUint(stats.StaleDiscarded, 10)},
		{"Faults", strconv.FormatUint(stats.Faults, 10)},
		{"Cache", fmt.Sprintf("%d pages, %s / %s (%.0f%% hit)",
			stats.Cache.Entries, humanBytes(stats.Cache.Bytes), humanBytes(stats.Cache.Budget), stats.Cache.HitRate()*100)},
	}
	fmt.Fprintln(out, renderTable([]string{"Service", "Value"}, rows, []columnAlignment{alignLeft, alignRight}))

	workers := make([][]string, 0, len(stats.Pool.Workers))
	for _, w := range stats.Pool.Workers {
		workers = append(workers, []string{
			strconv.Itoa(w.ID),
			string(w.State),
			strconv.FormatUint(w.Rendered, 10),
			strconv.FormatUint(w.Faults, 10),
			strconv.FormatUint(w.Restarts, 10),
		})
	}
	fmt.Fprintln(out, renderTable(
		[]string{"Worker", "State", "Rendered", "Faults", "Restarts"},
		workers,
		[]columnAlignment{alignRight, alignLeft, alignRight, alignRight, alignRight},
	))
}
