package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/timmy/storydedup/internal/service"
)

var (
	batchFile    string
	batchWorkers int
)

var batchCmd = &cobra.Command{
	Use:   "batch",
	Short: "Check a list of artifacts in order",
	Long: `Batch embeds every artifact in the file concurrently, then checks them one by
one in file order, so an earlier artifact wins over a later duplicate of it.
A failing artifact does not stop the batch.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		docs, err := readDocs(batchFile)
		if err != nil {
			return err
		}

		ctx := cmd.Context()
		a, err := openApp(ctx, appOptions{embedder: true})
		if err != nil {
			return err
		}
		defer a.Close()

		session, err := a.session()
		if err != nil {
			return err
		}

		items := make([]service.BatchItem, len(docs))
		for i, d := range docs {
			items[i] = service.BatchItem{Candidate: d.candidate(), Text: d.text()}
		}

		workers := cfg.Batch.Workers
		if batchWorkers > 0 {
			workers = batchWorkers
		}
		report, err := service.NewBatchChecker(session, a.embedder, workers, appLogger).Run(ctx, items)
		if err != nil {
			return err
		}

		if ok, err := emit(os.Stdout, report); ok || err != nil {
			return err
		}
		printBatch(report)
		return nil
	},
}

func printBatch(report *service.BatchReport) {
	printHeader("Batch " + report.BatchID)
	for _, item := range report.Items {
		if item.Result != nil {
			printResult(item.Result)
		}
		if item.Error != "" {
			fmt.Printf("    %s %s\n", red("Error:"), item.Error)
		}
	}

	s := report.Stats
	fmt.Printf("\n  Total: %d  %s unique  %s warned  %s aborted  %s failed  (%d degraded, %d embedded, %v)\n",
		s.Total,
		green(s.Unique), yellow(s.Warned), red(s.Aborted), red(s.Failed),
		s.Degraded, s.Embedded, s.EndTime.Sub(s.StartTime).Round(time.Millisecond))
}

func init() {
	batchCmd.Flags().StringVarP(&batchFile, "file", "f", "", "File with a list of artifacts (YAML or JSON, - for stdin)")
	batchCmd.Flags().IntVar(&batchWorkers, "workers", 0, "Concurrent embedding requests (default: batch.workers)")
	_ = batchCmd.MarkFlagRequired("file")
	rootCmd.AddCommand(batchCmd)
}
