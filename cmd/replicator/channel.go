package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/cuemby/replicator/pkg/storage"
	"github.com/cuemby/replicator/pkg/types"
	"github.com/spf13/cobra"
)

// withStore opens the store for the duration of fn
func withStore(cmd *cobra.Command, fn func(store *storage.BoltStore) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()
	return fn(store)
}

// Channel commands
var channelCmd = &cobra.Command{
	Use:   "channel",
	Short: "Manage transfer channels",
}

var channelAddCmd = &cobra.Command{
	Use:   "add SOURCE_SITE DEST_SITE",
	Short: "Add a channel between two sites",
	Long: `Add a directed channel between two channel sites.

Sites are the short names used in channel keys, e.g. CERN for LCG.CERN.ch.

Examples:
  replicator channel add CERN RAL
  replicator channel add CERN RAL --id 7 --inactive`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, _ := cmd.Flags().GetString("id")
		inactive, _ := cmd.Flags().GetBool("inactive")

		ch := &types.Channel{ID: id, SourceSite: args[0], DestSite: args[1], Status: types.ChannelStatusActive}
		if inactive {
			ch.Status = types.ChannelStatusInactive
		}
		return withStore(cmd, func(store *storage.BoltStore) error {
			if err := store.CreateChannel(cmd.Context(), ch); err != nil {
				return fmt.Errorf("failed to add channel: %w", err)
			}
			fmt.Printf("✓ Channel %s added (%s)\n", ch.ID, ch.Name())
			return nil
		})
	},
}

var channelListCmd = &cobra.Command{
	Use:   "list",
	Short: "List channels with their queue state",
	RunE: func(cmd *cobra.Command, args []string) error {
		window, _ := cmd.Flags().GetDuration("window")
		return withStore(cmd, func(store *storage.BoltStore) error {
			channels, err := store.ListChannelsWithQueueState(cmd.Context())
			if err != nil {
				return err
			}
			samples, err := store.GetObservedThroughput(cmd.Context(), window)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tCHANNEL\tSTATUS\tQUEUED FILES\tQUEUED BYTES\tTHROUGHPUT (B/s)\tSUCCESS %")
			for _, ch := range channels {
				sample := samples[ch.ID]
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%.1f\t%.0f\n",
					ch.ID, ch.Name(), ch.Status, ch.QueuedFiles, ch.QueuedSize, sample.Throughput, sample.SuccessRate())
			}
			return w.Flush()
		})
	},
}

var channelStatusCmd = &cobra.Command{
	Use:   "status ID Active|Inactive",
	Short: "Activate or deactivate a channel",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		status := types.ChannelStatus(args[1])
		if status != types.ChannelStatusActive && status != types.ChannelStatusInactive {
			return fmt.Errorf("status must be %s or %s", types.ChannelStatusActive, types.ChannelStatusInactive)
		}
		return withStore(cmd, func(store *storage.BoltStore) error {
			if err := store.SetChannelStatus(cmd.Context(), args[0], status); err != nil {
				return err
			}
			fmt.Printf("✓ Channel %s is %s\n", args[0], status)
			return nil
		})
	},
}

var channelFilesCmd = &cobra.Command{
	Use:   "files ID",
	Short: "List the files queued on a channel",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store *storage.BoltStore) error {
			files, err := store.ListChannelFiles(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "FILE ID\tSTATUS\tSIZE\tSOURCE\tDESTINATION")
			for _, f := range files {
				fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n", f.FileID, f.Status, f.Size, f.SourceURL, f.DestURL)
			}
			return w.Flush()
		})
	},
}

func init() {
	channelCmd.AddCommand(channelAddCmd)
	channelCmd.AddCommand(channelListCmd)
	channelCmd.AddCommand(channelStatusCmd)
	channelCmd.AddCommand(channelFilesCmd)

	channelAddCmd.Flags().String("id", "", "Channel ID (assigned when empty)")
	channelAddCmd.Flags().Bool("inactive", false, "Create the channel inactive")
	channelListCmd.Flags().Duration("window", time.Hour, "Throughput observation window")

	rootCmd.AddCommand(channelCmd)
}
