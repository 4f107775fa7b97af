package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var retrieveCmd = &cobra.Command{
	Use:   "retrieve [hash]",
	Short: "Restore a cache entry into the cache directory",
	Long: `Looks up the commit marker for the hash and, if present, downloads the entry into
<cache-dir>/<hash>. A miss exits 0; only transport or configuration problems fail.`,
	Args: cobra.ExactArgs(1), // 必须提供 Hash
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := parseHash(args[0])
		if err != nil {
			return err
		}

		hit, err := DC.Coordinator.Retrieve(cmd.Context(), hash, DC.Settings.Cache.Dir)
		if err != nil {
			return fmt.Errorf("retrieve %s: %w", hash, err)
		}

		out := cmd.OutOrStdout()
		if hit {
			fmt.Fprintf(out, "✅ HIT %s\n", hash)
		} else {
			fmt.Fprintf(out, "💨 MISS %s\n", hash)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(retrieveCmd)
}
