package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var statsLimit int

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache activity recorded in the ledger",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if DC.Ledger == nil {
			return errors.New("ledger is disabled (set meta.enabled: true)")
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		s, err := DC.Ledger.Stats(ctx)
		if err != nil {
			return fmt.Errorf("failed to read stats: %w", err)
		}

		fmt.Fprintf(out, "📊 %d entries, %s\n", s.Entries, humanize.Bytes(uint64(s.TotalBytes)))
		fmt.Fprintf(out, "   hits %d / misses %d / errors %d (hit ratio %.1f%%)\n",
			s.Hits, s.Misses, s.Errors, s.HitRatio()*100)
		fmt.Fprintf(out, "   stores %d\n", s.Stores)

		events, err := DC.Ledger.RecentEvents(ctx, statsLimit)
		if err != nil {
			return fmt.Errorf("failed to read events: %w", err)
		}
		if len(events) == 0 {
			return nil
		}

		fmt.Fprintln(out, "\nRecent activity:")
		for _, e := range events {
			fmt.Fprintf(out, "  %s  %-10s %s (%s)\n",
				humanize.Time(e.CreatedAt), e.Kind, e.Hash,
				(time.Duration(e.DurationMS) * time.Millisecond).String())
		}
		return nil
	},
}

func init() {
	statsCmd.Flags().IntVarP(&statsLimit, "limit", "n", 10, "number of recent events to show")
	rootCmd.AddCommand(statsCmd)
}
