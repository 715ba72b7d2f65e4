// =============================================================================
// TOPICGATE-ADMIN - OPERATOR CLI
// =============================================================================
//
// WHAT IS THIS?
// The command-line interface over a topicgate broker's admin API.
//
// USAGE:
//   topicgate-admin [command] [subcommand] [flags]
//
// EXAMPLES:
//   topicgate-admin topics get acme/orders/created
//   topicgate-admin policies set acme/orders/created -f created.yaml
//   topicgate-admin resourcegroups set billing --msg-rate 5000
//   topicgate-admin broker publish-rate --byte-rate 104857600
//
// CONFIGURATION:
//   Config file: ~/.topicgate/config.yaml
//   Env vars: TOPICGATE_SERVER, TOPICGATE_CONTEXT, TOPICGATE_TIMEOUT
//
// =============================================================================

package main

import (
	"os"

	"topicgate/cmd/topicgate-admin/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
