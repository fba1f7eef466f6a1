package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/cuemby/replicator/pkg/storage"
	"github.com/cuemby/replicator/pkg/strategy"
	"github.com/cuemby/replicator/pkg/types"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// Request commands
var requestCmd = &cobra.Command{
	Use:   "request",
	Short: "Manage replication requests",
}

var requestSubmitCmd = &cobra.Command{
	Use:   "submit -f FILE",
	Short: "Submit a replication request from a YAML file",
	Long: `Submit a replication request described in YAML.

Example request:
  sub_requests:
    - source_se: CERN-disk        # or None to use any replica
      target_se: RAL-disk,PIC-disk
      operation: MinimiseTotalWait_2.5
      files:
        - lfn: /vo/data/run1/f1

The request ID and file IDs are generated when omitted.`,
	RunE: runRequestSubmit,
}

func runRequestSubmit(cmd *cobra.Command, args []string) error {
	filename, _ := cmd.Flags().GetString("file")

	// Read YAML file
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read file: %w", err)
	}

	// Parse YAML
	var req types.ReplicationRequest
	if err := yaml.Unmarshal(data, &req); err != nil {
		return fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := prepareRequest(&req); err != nil {
		return err
	}

	return withStore(cmd, func(store *storage.BoltStore) error {
		if err := store.SubmitRequest(cmd.Context(), &req); err != nil {
			return fmt.Errorf("failed to submit request: %w", err)
		}
		files := 0
		for _, sub := range req.SubRequests {
			files += len(sub.Files)
		}
		fmt.Printf("✓ Request %s submitted (%d sub-requests, %d files)\n", req.ID, len(req.SubRequests), files)
		return nil
	})
}

// prepareRequest checks a submitted request and fills in generated IDs
func prepareRequest(req *types.ReplicationRequest) error {
	if req.ID == "" {
		req.ID = uuid.New().String()
	}
	if len(req.SubRequests) == 0 {
		return fmt.Errorf("request has no sub-requests")
	}
	for i, sub := range req.SubRequests {
		if len(sub.TargetSEs()) == 0 {
			return fmt.Errorf("sub-request %d: target_se is required", i)
		}
		if len(sub.Files) == 0 {
			return fmt.Errorf("sub-request %d: no files", i)
		}
		if sub.SourceSE == "" {
			sub.SourceSE = types.NoSourceSE
		}
		if sub.Operation != "" {
			if _, err := strategy.Parse(sub.Operation); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: sub-request %d: %v; a strategy will be selected automatically\n", i, err)
			}
		}
		for j, f := range sub.Files {
			if f.LFN == "" {
				return fmt.Errorf("sub-request %d file %d: lfn is required", i, j)
			}
			if f.FileID == "" {
				f.FileID = uuid.New().String()
			}
		}
	}
	return nil
}

var requestListCmd = &cobra.Command{
	Use:   "list",
	Short: "List replication requests",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store *storage.BoltStore) error {
			reqs, err := store.ListRequests(cmd.Context())
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tSUB-REQUESTS\tWAITING FILES\tCREATED")
			for _, req := range reqs {
				waiting := 0
				for _, sub := range req.SubRequests {
					waiting += len(sub.WaitingFiles())
				}
				fmt.Fprintf(w, "%s\t%s\t%d\t%d\t%s\n",
					req.ID, req.Status, len(req.SubRequests), waiting, req.CreatedAt.Format("2006-01-02 15:04:05"))
			}
			return w.Flush()
		})
	},
}

var requestShowCmd = &cobra.Command{
	Use:   "show ID",
	Short: "Show a replication request",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(store *storage.BoltStore) error {
			req, err := store.GetRequest(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(os.Stdout)
			enc.SetIndent(2)
			defer enc.Close()
			return enc.Encode(req)
		})
	},
}

func init() {
	requestCmd.AddCommand(requestSubmitCmd)
	requestCmd.AddCommand(requestListCmd)
	requestCmd.AddCommand(requestShowCmd)

	requestSubmitCmd.Flags().StringP("file", "f", "", "YAML file describing the request (required)")
	_ = requestSubmitCmd.MarkFlagRequired("file")

	rootCmd.AddCommand(requestCmd)
}
