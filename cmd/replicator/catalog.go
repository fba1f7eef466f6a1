package main

import (
	"fmt"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/cuemby/replicator/pkg/metrics"
	"github.com/cuemby/replicator/pkg/storage"
	"github.com/cuemby/replicator/pkg/types"
	"github.com/spf13/cobra"
)

// Replica commands
var replicaCmd = &cobra.Command{
	Use:   "replica",
	Short: "Manage the replica catalog",
}

var replicaAddCmd = &cobra.Command{
	Use:   "add LFN SE URL",
	Short: "Register a replica of a file",
	Long: `Register a replica of a file at a storage element.

Examples:
  replicator replica add /vo/data/f1 CERN-disk srm://srm.cern.ch/castor/vo/data/f1 --size 1048576`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		lfn, se, url := args[0], args[1], args[2]
		size, _ := cmd.Flags().GetInt64("size")
		checksum, _ := cmd.Flags().GetString("checksum")

		return withStore(cmd, func(store *storage.BoltStore) error {
			ctx := cmd.Context()
			if err := store.RegisterReplica(ctx, lfn, se, url); err != nil {
				return fmt.Errorf("failed to register replica: %w", err)
			}
			if cmd.Flags().Changed("size") || checksum != "" {
				if err := store.SetFileMetadata(ctx, lfn, types.FileMetadata{Size: size, Checksum: checksum}); err != nil {
					return fmt.Errorf("failed to set file metadata: %w", err)
				}
			}
			fmt.Printf("✓ Replica of %s registered at %s\n", lfn, se)
			return nil
		})
	},
}

var replicaListCmd = &cobra.Command{
	Use:   "list LFN...",
	Short: "List the replicas of files",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store *storage.BoltStore) error {
			res, err := store.GetReplicas(cmd.Context(), args)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "LFN\tSE\tURL")
			for _, lfn := range args {
				if reason, failed := res.Failed[lfn]; failed {
					fmt.Fprintf(w, "%s\t-\t%s\n", lfn, reason)
					continue
				}
				for _, se := range sortedKeys(res.Successful[lfn]) {
					fmt.Fprintf(w, "%s\t%s\t%s\n", lfn, se, res.Successful[lfn][se])
				}
			}
			return w.Flush()
		})
	},
}

// Transfer commands
var transferCmd = &cobra.Command{
	Use:   "transfer",
	Short: "Report transfer outcomes",
}

var transferReportCmd = &cobra.Command{
	Use:   "report CHANNEL_ID FILE_ID success|failure",
	Short: "Record the outcome of a queued transfer",
	Long: `Record the outcome of a queued transfer.

Successful transfers register the new replica and, with failures, feed the
throughput and success rate used by the next scheduling cycles.`,
	Args: cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		var success bool
		switch args[2] {
		case "success":
			success = true
		case "failure":
		default:
			return fmt.Errorf("outcome must be success or failure")
		}
		bytes, _ := cmd.Flags().GetInt64("bytes")

		return withStore(cmd, func(store *storage.BoltStore) error {
			err := store.RecordTransfer(cmd.Context(), types.TransferRecord{
				ChannelID:   args[0],
				FileID:      args[1],
				Bytes:       bytes,
				Success:     success,
				CompletedAt: time.Now(),
			})
			if err != nil {
				return fmt.Errorf("failed to record transfer: %w", err)
			}
			metrics.TransfersReported.WithLabelValues(args[2]).Inc()
			fmt.Printf("✓ Transfer of %s on channel %s recorded as %s\n", args[1], args[0], args[2])
			return nil
		})
	},
}

// Tree commands
var treeCmd = &cobra.Command{
	Use:   "tree",
	Short: "Inspect replication trees",
}

var treeShowCmd = &cobra.Command{
	Use:   "show FILE_ID",
	Short: "Show the replication tree chosen for a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store *storage.BoltStore) error {
			tree, err := store.GetReplicationTree(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "CHANNEL\tSOURCE\tDESTINATION\tANCESTOR\tSTRATEGY")
			for _, id := range tree.ChannelIDs() {
				edge := tree[id]
				ancestor := "-"
				if edge.HasAncestor() {
					ancestor = edge.Ancestor
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", id, edge.SourceSE, edge.DestSE, ancestor, edge.Strategy)
			}
			return w.Flush()
		})
	},
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func init() {
	replicaCmd.AddCommand(replicaAddCmd)
	replicaCmd.AddCommand(replicaListCmd)
	replicaAddCmd.Flags().Int64("size", 0, "File size in bytes")
	replicaAddCmd.Flags().String("checksum", "", "File checksum")

	transferCmd.AddCommand(transferReportCmd)
	transferReportCmd.Flags().Int64("bytes", 0, "Bytes transferred (defaults to the queued size on success)")

	treeCmd.AddCommand(treeShowCmd)

	rootCmd.AddCommand(replicaCmd)
	rootCmd.AddCommand(transferCmd)
	rootCmd.AddCommand(treeCmd)
}
