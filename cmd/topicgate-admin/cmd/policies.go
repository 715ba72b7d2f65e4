// =============================================================================
// POLICY COMMANDS - TOPIC AND NAMESPACE TIERS
// =============================================================================
//
// COMMANDS:
//   topicgate-admin policies get <topic> [item]    Stored tier or one value
//   topicgate-admin policies set <topic> -f FILE   Replace the topic tier
//   topicgate-admin policies clear <topic>         Drop the topic tier
//   topicgate-admin namespaces get <tenant/ns>
//   topicgate-admin namespaces set <tenant/ns> -f FILE
//
// Documents are JSON or YAML; "-f -" reads standard input.
//
// =============================================================================

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"topicgate/internal/policy"
)

// readDocument reads a policy document from a file or, for "-", stdin.
func readDocument(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "" {
		return nil, errors.New("a policy document is required (-f FILE or -f -)")
	}
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(cmd.InOrStdin())
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read policy document: %w", err)
	}
	return data, nil
}

// =============================================================================
// TOPIC POLICIES
// =============================================================================

var policiesCmd = &cobra.Command{
	Use:     "policies",
	Aliases: []string{"policy"},
	Short:   "Manage topic policies",
	Long: `Manage the topic tier of a topic's policies.

A value set here overrides the namespace tier, which overrides the broker
defaults. "get" with an item shows the value in force and the tier it
came from.

Examples:
  topicgate-admin policies get acme/orders/created
  topicgate-admin policies get acme/orders/created max_producers_per_topic
  topicgate-admin policies set acme/orders/created -f created.yaml
  topicgate-admin policies clear acme/orders/created`,
}

var policiesFile string

var policiesGetCmd = &cobra.Command{
	Use:   "get <topic> [item]",
	Short: "Show stored topic policies or one effective item",
	Args:  cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()

		if len(args) == 2 {
			resp, err := client.GetEffectivePolicy(ctx, args[0], policy.Item(args[1]))
			if err != nil {
				return handleError(err)
			}
			return formatter.FormatEffectivePolicy(resp)
		}

		resp, err := client.GetTopicPolicies(ctx, args[0])
		if err != nil {
			return handleError(err)
		}
		return formatter.FormatTopicPolicies(resp)
	},
}

var policiesSetCmd = &cobra.Command{
	Use:   "set <topic>",
	Short: "Replace the topic tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := readDocument(cmd, policiesFile)
		if err != nil {
			return handleError(err)
		}

		ctx, cancel := getContext()
		defer cancel()

		if err := client.SetTopicPolicies(ctx, args[0], doc); err != nil {
			return handleError(err)
		}
		formatter.PrintSuccess("Policies for %q updated", args[0])
		return nil
	},
}

var policiesClearCmd = &cobra.Command{
	Use:   "clear <topic>",
	Short: "Remove the topic tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()

		if err := client.DeleteTopicPolicies(ctx, args[0]); err != nil {
			return handleError(err)
		}
		formatter.PrintSuccess("Policies for %q cleared", args[0])
		return nil
	},
}

func init() {
	policiesSetCmd.Flags().StringVarP(&policiesFile, "file", "f", "",
		"Policy document (JSON or YAML), - for stdin")

	policiesCmd.AddCommand(policiesGetCmd)
	policiesCmd.AddCommand(policiesSetCmd)
	policiesCmd.AddCommand(policiesClearCmd)
}

// =============================================================================
// NAMESPACE POLICIES
// =============================================================================

var namespacesCmd = &cobra.Command{
	Use:     "namespaces",
	Aliases: []string{"namespace", "ns"},
	Short:   "Manage namespace policies",
	Long: `Manage the namespace tier. Every loaded topic in the namespace picks
up a change immediately.

Examples:
  topicgate-admin namespaces get acme/orders
  topicgate-admin namespaces set acme/orders -f orders-ns.yaml`,
}

var namespacesFile string

var namespacesGetCmd = &cobra.Command{
	Use:   "get <tenant/namespace>",
	Short: "Show stored namespace policies",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := getContext()
		defer cancel()

		doc, err := client.GetNamespacePolicies(ctx, args[0])
		if err != nil {
			return handleError(err)
		}
		return formatter.FormatNamespacePolicies(doc)
	},
}

var namespacesSetCmd = &cobra.Command{
	Use:   "set <tenant/namespace>",
	Short: "Replace the namespace tier",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		doc, err := readDocument(cmd, namespacesFile)
		if err != nil {
			return handleError(err)
		}

		ctx, cancel := getContext()
		defer cancel()

		if err := client.SetNamespacePolicies(ctx, args[0], doc); err != nil {
			return handleError(err)
		}
		formatter.PrintSuccess("Policies for namespace %q updated", args[0])
		return nil
	},
}

func init() {
	namespacesSetCmd.Flags().StringVarP(&namespacesFile, "file", "f", "",
		"Policy document (JSON or YAML), - for stdin")

	namespacesCmd.AddCommand(namespacesGetCmd)
	namespacesCmd.AddCommand(namespacesSetCmd)
}
