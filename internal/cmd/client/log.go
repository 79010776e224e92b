package client

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rzbill/logstreams/internal/cmd/client/transports"
	"github.com/rzbill/logstreams/internal/entry"
)

func newAppendCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "append",
		Short: "Append entries to a partition as one batch",
		RunE: func(cmd *cobra.Command, _ []string) error {
			partition, _ := cmd.Flags().GetInt("partition")
			data, _ := cmd.Flags().GetStringArray("data")
			meta, _ := cmd.Flags().GetString("metadata")
			key, _ := cmd.Flags().GetInt64("key")
			source, _ := cmd.Flags().GetInt64("source")
			chain, _ := cmd.Flags().GetBool("chain")
			if len(data) == 0 {
				return fmt.Errorf("at least one --data is required")
			}
			entries := make([]entry.Entry, len(data))
			for i, d := range data {
				entries[i] = entry.Entry{Key: key, SourceIndex: entry.NoSourceIndex, Metadata: []byte(meta), Value: []byte(d)}
				if chain && i > 0 {
					entries[i].SourceIndex = i - 1
				}
			}
			last, err := getTransport().Append(cmd.Context(), transports.AppendRequest{
				Partition:      partition,
				Entries:        entries,
				SourcePosition: source,
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "position: %d\n", last)
			return nil
		},
	}
	cmd.Flags().Int("partition", 0, "Partition")
	cmd.Flags().StringArray("data", nil, "Entry value; repeat for a multi-entry batch")
	cmd.Flags().String("metadata", "cli", "Metadata attached to every entry")
	cmd.Flags().Int64("key", entry.KeyUnset, "Correlation key")
	cmd.Flags().Int64("source", entry.NoPosition, "Source event position of the batch")
	cmd.Flags().Bool("chain", false, "Make every entry the causal source of the next")
	return cmd
}

func newTailCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Stream committed entries of a partition as JSON lines",
		RunE: func(cmd *cobra.Command, _ []string) error {
			partition, _ := cmd.Flags().GetInt("partition")
			after, _ := cmd.Flags().GetInt64("after")
			filter, _ := cmd.Flags().GetString("filter")
			limit, _ := cmd.Flags().GetInt("limit")
			enc := json.NewEncoder(cmd.OutOrStdout())
			return getTransport().Tail(cmd.Context(), transports.TailRequest{
				Partition: partition,
				After:     after,
				Filter:    filter,
				Limit:     limit,
			}, func(l entry.Logged) error {
				return enc.Encode(decodedEntry(l))
			})
		},
	}
	cmd.Flags().Int("partition", 0, "Partition")
	cmd.Flags().Int64("after", 0, "Start after this position (0 = from the first entry)")
	cmd.Flags().String("filter", "", "CEL filter, e.g. json.kind == 'order'")
	cmd.Flags().Int("limit", 0, "Stop after N entries (0 = follow)")
	return cmd
}
