package commands

import (
	"errors"
	"fmt"

	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/storage"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var lsCmd = &cobra.Command{
	Use:   "ls [hash]",
	Short: "List the remote objects of a cache entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := parseHash(args[0])
		if err != nil {
			return err
		}
		ctx := cmd.Context()
		out := cmd.OutOrStdout()

		// 1. 提交标记
		committed := true
		if _, err := DC.Store.Get(ctx, hash.CommitKey()); err != nil {
			if !errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("probe commit marker: %w", err)
			}
			committed = false
		}

		// 2. 内容
		objects, err := DC.Store.List(ctx, hash.ContentPrefix())
		if err != nil {
			return fmt.Errorf("list %s: %w", hash, err)
		}

		for _, o := range objects {
			fmt.Fprintf(out, "%10s  %s\n", humanize.Bytes(uint64(o.Size)), o.Key)
		}

		status := "✅ committed"
		if !committed {
			status = "⚠️  no commit marker (entry is invisible to readers)"
		}
		fmt.Fprintf(out, "\n%d objects, %s, %s\n",
			len(objects), humanize.Bytes(uint64(storage.TotalSize(objects))), status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(lsCmd)
}
