// =============================================================================
// TOPIC COMMANDS - LOAD, INSPECT AND CONTROL TOPICS
// =============================================================================
//
// COMMANDS:
//   topicgate-admin topics list                 List loaded topics
//   topicgate-admin topics get <topic>          Producers, epoch, rate state
//   topicgate-admin topics load <topic>         Load a topic
//   topicgate-admin topics delete <topic>       Unload a topic
//   topicgate-admin topics fence <topic>        Refuse new producers
//   topicgate-admin topics unfence <topic>      Lift a fence
//   topicgate-admin topics terminate <topic>    Close for good
//
// Topic names are tenant/namespace/topic, optionally prefixed with
// persistent:// or non-persistent://. A bare name resolves against
// --namespace or the context's namespace.
//
// =============================================================================

package cmd

import (
	"github.com/spf13/cobra"
)

// =============================================================================
// TOPICS COMMAND (PARENT)
// =============================================================================

var topicsCmd = &cobra.Command{
	Use:     "topics",
	Aliases: []string{"topic"},
	Short:   "Manage topics",
	Long: `Manage topics loaded on the broker.

Examples:
  topicgate-admin topics list
  topicgate-admin topics get acme/orders/created
  topicgate-admin topics fence persistent://acme/orders/created
  topicgate-admin topics delete acme/orders/created --force
  topicgate-admin -n acme/orders topics get created`,
}

func init() {
	topicsCmd.AddCommand(topicsListCmd)
	topicsCmd.AddCommand(topicsGetCmd)
	topicsCmd.AddCommand(topicsLoadCmd)
	topicsCmd.AddCommand(topicsDeleteCmd)
	topicsCmd.AddCommand(topicsFenceCmd)
	topicsCmd.AddCommand(topicsUnfenceCmd)
	topicsCmd.AddCommand(topicsTerminateCmd)
}

// =============================================================================
// TOPICS LIST / GET / LOAD
// =============================================================================

var topicsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List loaded topics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()

		resp, err := client.ListTopics(ctx)
		if err != nil {
			return handleError(err)
		}
		return formatter.FormatTopics(resp.Topics)
	},
}

var topicsGetCmd = &cobra.Command{
	Use:   "get <topic>",
	Short: "Show a topic's producers, epoch and rate state",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()

		stats, err := client.DescribeTopic(ctx, args[0])
		if err != nil {
			return handleError(err)
		}
		return formatter.FormatTopicStats(stats)
	},
}

var topicsLoadCmd = &cobra.Command{
	Use:   "load <topic>",
	Short: "Load a topic on the broker",
	Long: `Load a topic, creating its in-memory state and applying its policies.
Loading an already loaded topic is a no-op.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()

		stats, err := client.LoadTopic(ctx, args[0])
		if err != nil {
			return handleError(err)
		}
		if !formatter.Machine() {
			formatter.PrintSuccess("Topic %q loaded", stats.Name)
			return nil
		}
		return formatter.FormatTopicStats(stats)
	},
}

// =============================================================================
// TOPICS DELETE
// =============================================================================

var topicsDeleteForce bool

var topicsDeleteCmd = &cobra.Command{
	Use:   "delete <topic>",
	Short: "Unload a topic",
	Long: `Unload a topic from the broker.

A topic with attached producers or subscriptions is refused unless --force
is given, in which case every producer is disconnected first.

Examples:
  topicgate-admin topics delete acme/orders/created
  topicgate-admin topics delete acme/orders/created --force
  topicgate-admin -n acme/orders topics get created`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()

		resp, err := client.DeleteTopic(ctx, args[0], topicsDeleteForce)
		if err != nil {
			return handleError(err)
		}
		if !formatter.Machine() {
			formatter.PrintSuccess("Topic %q deleted", resp.Topic)
			return nil
		}
		return formatter.Format(resp)
	},
}

func init() {
	topicsDeleteCmd.Flags().BoolVarP(&topicsDeleteForce, "force", "f", false,
		"Disconnect producers and delete even if in use")
}

// =============================================================================
// TOPICS FENCE / UNFENCE / TERMINATE
// =============================================================================

var topicsFenceCmd = &cobra.Command{
	Use:   "fence <topic>",
	Short: "Fence a topic so new producers are refused",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()

		resp, err := client.FenceTopic(ctx, args[0])
		if err != nil {
			return handleError(err)
		}
		if !formatter.Machine() {
			formatter.PrintSuccess("Topic %q fenced", resp.Topic)
			return nil
		}
		return formatter.Format(resp)
	},
}

var topicsUnfenceCmd = &cobra.Command{
	Use:   "unfence <topic>",
	Short: "Lift a topic fence",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()

		resp, err := client.UnfenceTopic(ctx, args[0])
		if err != nil {
			return handleError(err)
		}
		if !formatter.Machine() {
			formatter.PrintSuccess("Topic %q unfenced", resp.Topic)
			return nil
		}
		return formatter.Format(resp)
	},
}

var topicsTerminateCmd = &cobra.Command{
	Use:   "terminate <topic>",
	Short: "Terminate a topic",
	Long: `Terminate a topic. A terminated topic refuses every new producer and
cannot be reopened.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()

		resp, err := client.TerminateTopic(ctx, args[0])
		if err != nil {
			return handleError(err)
		}
		if !formatter.Machine() {
			formatter.PrintSuccess("Topic %q terminated", resp.Topic)
			return nil
		}
		return formatter.Format(resp)
	},
}
