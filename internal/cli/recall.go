package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/engramhq/engram/pkg/index"
	"github.com/engramhq/engram/pkg/memory"
	"github.com/engramhq/engram/pkg/recall"
)

var recallFlags struct {
	namespace string
	spec      string
	since     string
	until     string
	tags      []string
	limit     int
	hydrate   string
	noExpand  bool
}

var recallCmd = &cobra.Command{
	Use:   "recall <query>",
	Short: "Search memories by semantic similarity",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		filters, err := buildFilters()
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		var results []*memory.MemoryResult
		if recallFlags.noExpand {
			results, err = a.recall.Search(cmd.Context(), args[0], filters, recallFlags.limit)
		} else {
			results, err = a.optimizer.Search(cmd.Context(), args[0], filters, recallFlags.tags, recallFlags.limit)
		}
		if err != nil {
			return err
		}

		level, err := parseHydrationLevel(recallFlags.hydrate)
		if err != nil {
			return err
		}
		if level > recall.LevelSummary {
			for _, r := range results {
				if err := a.recall.Hydrate(cmd.Context(), r, level); err != nil {
					a.logger.Warn().Err(err).Str("id", r.Memory.ID).Msg("Hydration failed")
				}
			}
		}
		return printJSON(results)
	},
}

var similarCmd = &cobra.Command{
	Use:   "similar <memory-id>",
	Short: "Find memories similar to an existing one",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, err := cmd.Flags().GetInt("limit")
		if err != nil {
			return err
		}

		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		mem, err := a.idx.Get(args[0])
		if err != nil {
			return err
		}
		if mem == nil {
			return memory.NewIndexError("cli.similar",
				"the memory is not indexed; run 'engram sync reindex' and retry", memory.ErrNotFound)
		}
		results, err := a.recall.Similar(cmd.Context(), mem, limit)
		if err != nil {
			return err
		}
		return printJSON(results)
	},
}

var contextCmd = &cobra.Command{
	Use:   "context <spec>",
	Short: "Aggregate every memory captured under a spec",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp()
		if err != nil {
			return err
		}
		defer a.Close()

		sc, err := a.recall.Context(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		return printJSON(sc)
	},
}

func buildFilters() (index.Filters, error) {
	filters := index.Filters{
		Namespace: memory.Namespace(recallFlags.namespace),
		Spec:      recallFlags.spec,
	}
	if recallFlags.since != "" {
		t, err := time.Parse(time.RFC3339, recallFlags.since)
		if err != nil {
			return filters, err
		}
		filters.Since = t
	}
	if recallFlags.until != "" {
		t, err := time.Parse(time.RFC3339, recallFlags.until)
		if err != nil {
			return filters, err
		}
		filters.Until = t
	}
	return filters, nil
}

func parseHydrationLevel(s string) (recall.HydrationLevel, error) {
	switch s {
	case "", "summary":
		return recall.LevelSummary, nil
	case "full":
		return recall.LevelFull, nil
	case "snapshot":
		return recall.LevelSnapshot, nil
	}
	return recall.LevelSummary, &unknownLevelError{s}
}

type unknownLevelError struct{ level string }

func (e *unknownLevelError) Error() string {
	return "unknown hydration level " + e.level + " (must be summary, full or snapshot)"
}

func init() {
	recallCmd.Flags().StringVarP(&recallFlags.namespace, "namespace", "n", "", "restrict to one namespace")
	recallCmd.Flags().StringVar(&recallFlags.spec, "spec", "", "restrict to one spec")
	recallCmd.Flags().StringVar(&recallFlags.since, "since", "", "only memories at or after this RFC3339 time")
	recallCmd.Flags().StringVar(&recallFlags.until, "until", "", "only memories at or before this RFC3339 time")
	recallCmd.Flags().StringSliceVar(&recallFlags.tags, "tags", nil, "tags biasing the re-rank")
	recallCmd.Flags().IntVarP(&recallFlags.limit, "limit", "l", recall.DefaultLimit, "maximum results")
	recallCmd.Flags().StringVar(&recallFlags.hydrate, "hydrate", "summary", "detail level: summary, full or snapshot")
	recallCmd.Flags().BoolVar(&recallFlags.noExpand, "no-expand", false, "skip query expansion, re-ranking and the cache")

	similarCmd.Flags().IntP("limit", "l", recall.DefaultLimit, "maximum results")

	rootCmd.AddCommand(recallCmd)
	rootCmd.AddCommand(similarCmd)
	rootCmd.AddCommand(contextCmd)
}
