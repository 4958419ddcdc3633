package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/timmy/storydedup/internal/service"
	"github.com/timmy/storydedup/internal/storage"
)

type snapshotOp func(*service.SnapshotService, context.Context, service.SnapshotIndex) (*service.SnapshotInfo, error)

var snapshotCmd = &cobra.Command{
	Use:   "snapshot",
	Short: "Copy the local vector index to or from object storage",
	Long: `Snapshots move the local index file pair (vectors.f32 and index_meta.json)
to an S3-compatible bucket as one unit. Only the local backend has snapshots;
a Qdrant collection is already shared.`,
}

var snapshotPushCmd = &cobra.Command{
	Use:   "push",
	Short: "Save the local index and upload it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSnapshot(cmd, (*service.SnapshotService).Push, "Pushed")
	},
}

var snapshotPullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Download a snapshot and replace the local index with it",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSnapshot(cmd, (*service.SnapshotService).Pull, "Pulled")
	},
}

func runSnapshot(cmd *cobra.Command, op snapshotOp, verb string) error {
	ctx := cmd.Context()
	a, err := openApp(ctx, appOptions{})
	if err != nil {
		return err
	}
	defer a.Close()

	if a.local == nil || a.local.Dir() == "" {
		return errors.New("snapshots need the local vector index backend with a directory")
	}

	store, err := storage.NewStorage(&cfg.Snapshot)
	if err != nil {
		return err
	}
	if s3store, ok := store.(*storage.S3Storage); ok {
		if err := s3store.EnsureBucket(ctx); err != nil {
			return err
		}
	}

	info, err := op(service.NewSnapshotService(store, cfg.Snapshot.Prefix, appLogger), ctx, a.local)
	if err != nil {
		return err
	}

	if ok, err := emit(os.Stdout, info); ok || err != nil {
		return err
	}
	fmt.Printf("%s %s %d vectors (dim %d, saved %s)\n", green("✓"), verb, info.Count, info.Dim, info.SavedAt)
	fmt.Printf("    %s\n    %s\n", info.MetaKey, info.VectorsKey)
	return nil
}

func init() {
	snapshotCmd.AddCommand(snapshotPushCmd, snapshotPullCmd)
	rootCmd.AddCommand(snapshotCmd)
}
