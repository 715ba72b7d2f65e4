// =============================================================================
// RATE LIMIT & BROKER COMMANDS
// =============================================================================
//
// COMMANDS:
//   topicgate-admin resourcegroups list
//   topicgate-admin resourcegroups set <name> --msg-rate N --byte-rate N
//   topicgate-admin resourcegroups delete <name>
//   topicgate-admin broker stats
//   topicgate-admin broker health
//   topicgate-admin broker publish-rate --msg-rate N --byte-rate N
//
// A rate of 0 leaves that dimension unlimited.
//
// =============================================================================

package cmd

import (
	"errors"

	"github.com/spf13/cobra"

	"topicgate/internal/policy"
)

var (
	rateMsgFlag  int
	rateByteFlag int64
)

func rateFromFlags() (policy.PublishRate, error) {
	if rateMsgFlag < 0 || rateByteFlag < 0 {
		return policy.PublishRate{}, errors.New("rates must not be negative")
	}
	return policy.PublishRate{
		MessagesPerSecond: rateMsgFlag,
		BytesPerSecond:    rateByteFlag,
	}, nil
}

func addRateFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&rateMsgFlag, "msg-rate", 0, "Messages per second (0 = unlimited)")
	cmd.Flags().Int64Var(&rateByteFlag, "byte-rate", 0, "Bytes per second (0 = unlimited)")
}

// =============================================================================
// RESOURCE GROUPS
// =============================================================================

var resourceGroupsCmd = &cobra.Command{
	Use:     "resourcegroups",
	Aliases: []string{"resourcegroup", "rg"},
	Short:   "Manage resource groups",
	Long: `Manage resource groups: named publish rate limiters shared by every
topic whose resource_group policy names them.

Examples:
  topicgate-admin resourcegroups set billing --msg-rate 5000
  topicgate-admin resourcegroups list
  topicgate-admin resourcegroups delete billing`,
}

var resourceGroupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resource groups",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()

		resp, err := client.ListResourceGroups(ctx)
		if err != nil {
			return handleError(err)
		}
		return formatter.FormatResourceGroups(resp.ResourceGroups)
	},
}

var resourceGroupsSetCmd = &cobra.Command{
	Use:   "set <name>",
	Short: "Create a resource group or change its rate",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		rate, err := rateFromFlags()
		if err != nil {
			return handleError(err)
		}

		ctx, cancel := getContext()
		defer cancel()

		if err := client.SetResourceGroup(ctx, args[0], rate); err != nil {
			return handleError(err)
		}
		formatter.PrintSuccess("Resource group %q set", args[0])
		return nil
	},
}

var resourceGroupsDeleteCmd = &cobra.Command{
	Use:   "delete <name>",
	Short: "Delete a resource group no topic uses",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()

		if err := client.DeleteResourceGroup(ctx, args[0]); err != nil {
			return handleError(err)
		}
		formatter.PrintSuccess("Resource group %q deleted", args[0])
		return nil
	},
}

func init() {
	addRateFlags(resourceGroupsSetCmd)

	resourceGroupsCmd.AddCommand(resourceGroupsListCmd)
	resourceGroupsCmd.AddCommand(resourceGroupsSetCmd)
	resourceGroupsCmd.AddCommand(resourceGroupsDeleteCmd)
}

// =============================================================================
// BROKER
// =============================================================================

var brokerCmd = &cobra.Command{
	Use:   "broker",
	Short: "Broker-wide operations",
}

var brokerStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show broker statistics",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()

		stats, err := client.GetStats(ctx)
		if err != nil {
			return handleError(err)
		}
		return formatter.FormatBrokerStats(stats)
	},
}

var brokerHealthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check broker health",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()

		health, err := client.Health(ctx)
		if err != nil {
			return handleError(err)
		}
		return formatter.FormatHealth(health)
	},
}

var brokerPublishRateCmd = &cobra.Command{
	Use:   "publish-rate",
	Short: "Set the broker-wide publish ceiling",
	Long: `Set the publish ceiling shared by every topic on the broker. When
it is exceeded, every topic's producers are throttled together.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		rate, err := rateFromFlags()
		if err != nil {
			return handleError(err)
		}

		ctx, cancel := getContext()
		defer cancel()

		if err := client.SetBrokerPublishRate(ctx, rate); err != nil {
			return handleError(err)
		}
		formatter.PrintSuccess("Broker publish rate updated")
		return nil
	},
}

func init() {
	addRateFlags(brokerPublishRateCmd)

	brokerCmd.AddCommand(brokerStatsCmd)
	brokerCmd.AddCommand(brokerHealthCmd)
	brokerCmd.AddCommand(brokerPublishRateCmd)
}
