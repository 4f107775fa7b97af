package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var storeCmd = &cobra.Command{
	Use:   "store [hash]",
	Short: "Upload <cache-dir>/<hash> and commit it",
	Long: `Uploads every file under <cache-dir>/<hash>, waits for all of them, then writes the
commit marker. The local marker <cache-dir>/<hash>.commit must already exist.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := parseHash(args[0])
		if err != nil {
			return err
		}

		if _, err := DC.Coordinator.Store(cmd.Context(), hash, DC.Settings.Cache.Dir); err != nil {
			return fmt.Errorf("store %s: %w", hash, err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "📦 Stored %s\n", hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(storeCmd)
}
