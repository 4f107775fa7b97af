package commands

import (
	"fmt"

	"github.com/martin-mueller-solutions/nx-distributed-cache/pkg/runner"

	"github.com/spf13/cobra"
)

var execCmd = &cobra.Command{
	Use:   "exec [hash] -- [command...]",
	Short: "Run a command unless its outputs are already cached",
	Long: `Retrieves the hash first. On a miss the command runs with DCACHE_OUTPUT_DIR and
DCACHE_HASH set; its outputs must be written to DCACHE_OUTPUT_DIR. Successful outputs
are stored. A failed store does not fail the command.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := parseHash(args[0])
		if err != nil {
			return err
		}

		r, err := runner.New(DC.Coordinator, runner.Options{
			CacheDir: DC.Settings.Cache.Dir,
			Stdout:   cmd.OutOrStdout(),
			Stderr:   cmd.ErrOrStderr(),
			Logger:   DC.Logger,
		})
		if err != nil {
			return err
		}

		// "--" 之后的参数由 cobra 原样保留
		report, err := r.Run(cmd.Context(), hash, args[1:])
		if err != nil {
			return err
		}

		out := cmd.ErrOrStderr()
		switch {
		case report.Hit:
			fmt.Fprintf(out, "✅ Restored %s from cache, command skipped\n", hash)
		case report.Stored:
			fmt.Fprintf(out, "📦 Stored %s\n", hash)
		default:
			fmt.Fprintf(out, "⚠️  Command succeeded but %s was not stored: %v\n", hash, report.StoreErr)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(execCmd)
}
