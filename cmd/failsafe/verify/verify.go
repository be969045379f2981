// Package verify implements the `failsafe verify` command: check a backup
// artifact's integrity without touching anything.
package verify

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/failsafe-dev/failsafe/cmd/failsafe/cmdutil"
	"github.com/failsafe-dev/failsafe/internal/backup"
)

var verbose bool

// Cmd is the `failsafe verify` command.
var Cmd = &cobra.Command{
	Use:   "verify <backup-artifact>",
	Short: "Verify a backup artifact's checksum",
	Args:  cobra.ExactArgs(1),
	RunE:  run,
}

func init() {
	Cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}

func run(cmd *cobra.Command, args []string) error {
	logger, err := cmdutil.NewLogger(verbose)
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer logger.Sync()

	artifact, err := backup.LoadArtifact(args[0])
	if err != nil {
		return cmdutil.Exit(cmdutil.CodeAborted, err)
	}

	result, err := backup.NewVerifier(logger).Verify(artifact)
	if err != nil {
		return cmdutil.Exit(cmdutil.CodeAborted, err)
	}
	if !result.OK {
		fmt.Printf("FAILED: %s\n", result.Reason)
		return cmdutil.Exit(cmdutil.CodeAborted, fmt.Errorf("verification failed: %s", result.Reason))
	}

	fmt.Printf("OK: %s\n", result.Reason)
	return nil
}
