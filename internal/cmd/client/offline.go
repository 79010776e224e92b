package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	cfgpkg "github.com/rzbill/logstreams/internal/config"
	"github.com/rzbill/logstreams/internal/entry"
	"github.com/rzbill/logstreams/internal/filter"
	"github.com/rzbill/logstreams/internal/runtime"
	"github.com/rzbill/logstreams/internal/sequencer"
)

// openRuntime opens the data directory in-process. The server must not be
// running against the same directory.
func openRuntime(cmd *cobra.Command) (*runtime.Runtime, error) {
	path, _ := cmd.Flags().GetString("config")
	dataDir, _ := cmd.Flags().GetString("data-dir")
	cfg, err := cfgpkg.Load(path)
	if err != nil {
		return nil, err
	}
	cfgpkg.FromEnv(&cfg)
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	return runtime.Open(runtime.Options{Config: cfg})
}

func addOfflineFlags(cmd *cobra.Command) {
	cmd.Flags().String("config", "", "Config file (JSON or YAML)")
	cmd.Flags().String("data-dir", "", "Data directory (default from config)")
	cmd.Flags().Int("partition", 0, "Partition")
}

func newReadCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "read",
		Short: "Read a partition directly from the data directory",
		RunE: func(cmd *cobra.Command, _ []string) error {
			partition, _ := cmd.Flags().GetInt("partition")
			from, _ := cmd.Flags().GetInt64("from")
			batch, _ := cmd.Flags().GetBool("batch")
			expr, _ := cmd.Flags().GetString("filter")
			limit, _ := cmd.Flags().GetInt("limit")
			f, err := filter.New(expr)
			if err != nil {
				return err
			}
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			st, err := rt.Stream(partition)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			n := 0
			if batch {
				br, err := st.NewBatchReader()
				if err != nil {
					return err
				}
				defer br.Close()
				if from > 1 {
					br.Seek(from)
				}
				for br.HasNext() && (limit == 0 || n < limit) {
					b := br.Next()
					if !f.MatchAny(b.Entries()) {
						continue
					}
					items := make([]map[string]any, 0, b.Len())
					for _, l := range b.Entries() {
						items = append(items, decodedEntry(l))
					}
					if err := enc.Encode(map[string]any{"source_position": b.SourceEventPosition(), "entries": items}); err != nil {
						return err
					}
					n++
				}
				return br.Err()
			}
			r, err := st.NewReader()
			if err != nil {
				return err
			}
			defer r.Close()
			if from > 1 {
				r.Seek(from)
			}
			for r.HasNext() && (limit == 0 || n < limit) {
				l := r.Next()
				if !f.Match(l) {
					continue
				}
				if err := enc.Encode(decodedEntry(l)); err != nil {
					return err
				}
				n++
			}
			return r.Err()
		},
	}
	addOfflineFlags(cmd)
	cmd.Flags().Int64("from", 1, "First position to read")
	cmd.Flags().Bool("batch", false, "Group entries into causal batches")
	cmd.Flags().String("filter", "", "CEL filter")
	cmd.Flags().Int("limit", 0, "Stop after N entries or batches (0 = all)")
	return cmd
}

func newBenchCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Run concurrent in-process producers against a partition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			partition, _ := cmd.Flags().GetInt("partition")
			producers, _ := cmd.Flags().GetInt("producers")
			count, _ := cmd.Flags().GetInt("entries")
			size, _ := cmd.Flags().GetInt("size")
			batchSize, _ := cmd.Flags().GetInt("batch")
			if producers <= 0 || count <= 0 || size <= 0 || batchSize <= 0 {
				return fmt.Errorf("--producers, --entries, --size and --batch must be positive")
			}
			rt, err := openRuntime(cmd)
			if err != nil {
				return err
			}
			defer rt.Close()
			st, err := rt.Stream(partition)
			if err != nil {
				return err
			}
			value := make([]byte, size)
			for i := range value {
				value[i] = 'x'
			}

			start := time.Now()
			var (
				mu   sync.Mutex
				last int64
			)
			g, ctx := errgroup.WithContext(cmd.Context())
			for p := 0; p < producers; p++ {
				g.Go(func() error {
					w, err := st.NewSequencedWriter()
					if err != nil {
						return err
					}
					batch := make([]entry.Entry, batchSize)
					for i := range batch {
						batch[i] = entry.New([]byte("bench"), value)
					}
					for written := 0; written < count; written += batchSize {
						for {
							pos, err := w.TryWrite(batch, entry.NoPosition)
							if err == nil {
								mu.Lock()
								last = max(last, pos)
								mu.Unlock()
								break
							}
							if !sequencer.IsRetryable(err) {
								return err
							}
							if ctx.Err() != nil {
								return ctx.Err()
							}
							time.Sleep(100 * time.Microsecond)
						}
					}
					return nil
				})
			}
			if err := g.Wait(); err != nil {
				return err
			}
			if err := waitCommitted(cmd.Context(), st.CommitPosition, st.RecordAvailable, last); err != nil {
				return err
			}
			elapsed := time.Since(start)
			total := producers * ((count + batchSize - 1) / batchSize) * batchSize
			fmt.Fprintf(cmd.OutOrStdout(), "entries: %d\nelapsed: %s\nentries/s: %.0f\nMB/s: %.2f\ncommit position: %d\n",
				total, elapsed.Round(time.Millisecond),
				float64(total)/elapsed.Seconds(),
				float64(total*size)/elapsed.Seconds()/(1<<20),
				st.CommitPosition())
			return nil
		},
	}
	addOfflineFlags(cmd)
	cmd.Flags().Int("producers", 4, "Concurrent producers")
	cmd.Flags().Int("entries", 10000, "Entries per producer")
	cmd.Flags().Int("size", 128, "Value size in bytes")
	cmd.Flags().Int("batch", 1, "Entries per write")
	return cmd
}

func waitCommitted(ctx context.Context, commit func() int64, ready func() <-chan struct{}, position int64) error {
	for {
		ch := ready()
		if commit() >= position {
			return nil
		}
		select {
		case <-ctx.Done():
			return errors.New("interrupted before all entries committed")
		case <-ch:
		case <-time.After(time.Second):
		}
	}
}
