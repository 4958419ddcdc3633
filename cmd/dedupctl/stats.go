package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/timmy/storydedup/internal/domain"
)

var (
	statsSince time.Duration
	statsLimit int
)

type signalRow struct {
	Signal string `json:"signal" yaml:"signal"`
	Count  int64  `json:"count" yaml:"count"`
}

type statsReport struct {
	Records    int64                `json:"records" yaml:"records"`
	Indexed    int64                `json:"indexed" yaml:"indexed"`
	IndexSize  int                  `json:"index_size" yaml:"index_size"`
	IndexDim   int                  `json:"index_dim" yaml:"index_dim"`
	Backend    string               `json:"backend" yaml:"backend"`
	BySignal   []signalRow          `json:"by_signal" yaml:"by_signal"`
	Recent     []domain.DedupRecord `json:"recent,omitempty" yaml:"recent,omitempty"`
	RecentFrom *time.Time           `json:"recent_from,omitempty" yaml:"recent_from,omitempty"`
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show registry and index statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{})
		if err != nil {
			return err
		}
		defer a.Close()

		report := statsReport{
			Backend:   cfg.VectorIndex.Backend,
			IndexSize: a.index.Size(ctx),
			IndexDim:  a.index.Dimension(),
		}
		if report.Records, err = a.records.Count(ctx); err != nil {
			return err
		}
		if report.Indexed, err = a.records.CountIndexed(ctx); err != nil {
			return err
		}
		rows, err := a.records.CountBySignal(ctx)
		if err != nil {
			return err
		}
		for _, r := range rows {
			report.BySignal = append(report.BySignal, signalRow{Signal: r.Label(), Count: r.Count})
		}
		if statsSince > 0 {
			from := time.Now().Add(-statsSince).UTC()
			report.RecentFrom = &from
			if report.Recent, err = a.records.ListSince(ctx, from, statsLimit, 0); err != nil {
				return err
			}
		}

		if ok, err := emit(os.Stdout, report); ok || err != nil {
			return err
		}
		printStats(report)
		return nil
	},
}

func printStats(r statsReport) {
	printHeader("Dedup Registry")
	fmt.Printf("  Records:  %d\n", r.Records)
	fmt.Printf("  Indexed:  %d\n", r.Indexed)
	if r.Records != r.Indexed {
		fmt.Printf("  %s %d records have no vector in the index\n", gray("Note:"), r.Records-r.Indexed)
	}

	fmt.Printf("\n%s\n", yellow("By signal:"))
	if len(r.BySignal) == 0 {
		fmt.Printf("  %s\n", gray("No records"))
	}
	for _, row := range r.BySignal {
		fmt.Printf("  %-9s %d\n", signalColor(domain.Signal(row.Signal))(row.Signal), row.Count)
	}

	fmt.Printf("\n%s\n", yellow("Vector index:"))
	fmt.Printf("  Backend:  %s\n", r.Backend)
	fmt.Printf("  Vectors:  %d (dim %d)\n", r.IndexSize, r.IndexDim)
	if int64(r.IndexSize) != r.Indexed {
		fmt.Printf("  %s index size differs from indexed records, consider 'dedupctl rebuild'\n", yellow("⚠"))
	}

	if r.RecentFrom != nil {
		fmt.Printf("\n%s\n", yellow("Recent records since "+r.RecentFrom.Format("2006-01-02 15:04")+":"))
		if len(r.Recent) == 0 {
			fmt.Printf("  %s\n", gray("None"))
		}
		for _, rec := range r.Recent {
			signal := "UNSCORED"
			if rec.Signal != nil {
				signal = string(*rec.Signal)
			}
			fmt.Printf("  %s  %s  %s  %s\n",
				rec.CreatedAt.Format("01-02 15:04:05"), rec.Signature.Short(), signal, rec.ArtifactID)
		}
	}
	fmt.Println()
}

func init() {
	statsCmd.Flags().DurationVar(&statsSince, "since", 0, "Also list records created within this window (e.g. 24h)")
	statsCmd.Flags().IntVar(&statsLimit, "limit", 50, "Maximum recent records to list")
	rootCmd.AddCommand(statsCmd)
}
