package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/timmy/storydedup/internal/service"
)

var (
	rebuildFile       string
	rebuildWorkers    int
	rebuildReannotate bool
)

var rebuildCmd = &cobra.Command{
	Use:   "rebuild",
	Short: "Rebuild the vector index from accepted artifacts",
	Long: `Rebuild clears the vector index and re-embeds every artifact in the file that
the registry has already accepted. Artifacts the registry does not know are
skipped. Use it after changing the embedding model or when stats reports a
mismatch between the registry and the index. List artifacts in acceptance order
when using --reannotate.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := readDocs(rebuildFile)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{embedder: true})
		if err != nil {
			return err
		}
		defer a.Close()

		items := make([]service.RebuildItem, 0, len(docs))
		for _, d := range docs {
			if d.ArtifactID == "" {
				return fmt.Errorf("rebuild needs artifact_id on every artifact")
			}
			items = append(items, service.RebuildItem{ArtifactID: d.ArtifactID, Text: d.text(), Vector: d.Vector})
		}

		workers := cfg.Batch.Workers
		if rebuildWorkers > 0 {
			workers = rebuildWorkers
		}
		rebuilder := service.NewIndexRebuilder(a.index, a.records, a.embedder, workers, appLogger)
		if rebuildReannotate {
			rebuilder.WithReannotation(service.Thresholds{
				Medium: cfg.Dedup.SimilarityThresholdMedium,
				High:   cfg.Dedup.SimilarityThresholdHigh,
			})
		}
		stats, err := rebuilder.Rebuild(ctx, items)
		if err != nil {
			return err
		}

		if ok, err := emit(os.Stdout, stats); ok || err != nil {
			return err
		}
		printHeader("Index Rebuild")
		fmt.Printf("  Indexed:   %s of %d\n", green(stats.Indexed), stats.Total)
		if stats.Unknown > 0 {
			fmt.Printf("  Unknown:   %s (not in registry)\n", yellow(stats.Unknown))
		}
		if stats.NoVector > 0 {
			fmt.Printf("  No vector: %s\n", yellow(stats.NoVector))
		}
		if stats.Dropped > 0 {
			fmt.Printf("  Dropped:   %s (were indexed, not in this file)\n", yellow(stats.Dropped))
		}
		if stats.Reannotated > 0 {
			fmt.Printf("  Rescored:  %d\n", stats.Reannotated)
		}
		if stats.Rejected > 0 {
			fmt.Printf("  Rejected:  %s\n", red(stats.Rejected))
		}
		fmt.Printf("  Took:      %v\n\n", stats.Duration.Round(time.Millisecond))
		return nil
	},
}

func init() {
	rebuildCmd.Flags().StringVarP(&rebuildFile, "file", "f", "", "File with the accepted artifacts (YAML or JSON, - for stdin)")
	rebuildCmd.Flags().IntVar(&rebuildWorkers, "workers", 0, "Concurrent embedding requests (default: batch.workers)")
	rebuildCmd.Flags().BoolVar(&rebuildReannotate, "reannotate", false, "Refresh each record's similarity score against the artifacts listed before it")
	_ = rebuildCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(rebuildCmd)
}
