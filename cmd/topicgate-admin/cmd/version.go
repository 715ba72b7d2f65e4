// =============================================================================
// VERSION COMMAND - SHOW VERSION INFORMATION
// =============================================================================
//
// USAGE:
//   topicgate-admin version
//
// OUTPUT:
//   Client Version: dev
//   Server Version: dev (abc1234)   (if reachable)
//
// =============================================================================

package cmd

import (
	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Long: `Show CLI and server version information. An unreachable server is
not an error; only the client version is printed.

Examples:
  topicgate-admin version
  topicgate-admin version -o json`,
	RunE: runVersion,
}

func runVersion(cmd *cobra.Command, args []string) error {
	ctx, cancel := getContext()
	defer cancel()

	info, err := client.GetVersion(ctx)
	if err != nil {
		return handleError(err)
	}
	return formatter.FormatVersion(info)
}
