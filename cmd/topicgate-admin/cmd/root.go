// =============================================================================
// ROOT COMMAND - CLI ENTRY POINT AND GLOBAL FLAGS
// =============================================================================
//
// WHAT IS THIS?
// The root command that initializes the admin CLI and defines global flags.
// All subcommands inherit these flags and share the client configuration.
//
// GLOBAL FLAGS:
//   --server, -s    Admin API URL (default: http://localhost:8080)
//   --context, -c   Config context to use
//   --config        Config file (default: ~/.topicgate/config.yaml)
//   --namespace, -n Namespace for bare topic names (tenant/namespace)
//   --output, -o    Output format: table, json, yaml (default: table)
//   --timeout       Request timeout in seconds (default: 30)
//
// SUBCOMMANDS:
//   topics          Load, inspect, fence and terminate topics
//   policies        Topic policy tier and effective values
//   namespaces      Namespace policy tier
//   resourcegroups  Shared publish rate limiters
//   broker          Broker stats, health and publish ceiling
//   config          Manage CLI configuration
//   version         Show version information
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"topicgate/internal/cli"
)

// =============================================================================
// GLOBAL STATE
// =============================================================================

var (
	// Global flags
	serverFlag    string
	contextFlag   string
	configFlag    string
	namespaceFlag string
	outputFlag    string
	timeoutFlag   int

	// Shared instances
	config    *cli.Config
	client    *cli.Client
	formatter *cli.Formatter
)

// =============================================================================
// ROOT COMMAND
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "topicgate-admin",
	Short: "Administer a topicgate broker",
	Long: `topicgate-admin - Manage topic admission from the command line.

topicgate decides, per topic, which producers may attach:
  • Shared, Exclusive and WaitForExclusive access modes with epoch fencing
  • Policies resolved across topic, namespace and broker tiers
  • Publish rate limits per topic, per resource group and per broker

Use "topicgate-admin [command] --help" for more information about a command.`,
	PersistentPreRunE: initializeClient,
	SilenceUsage:      true,
	SilenceErrors:     true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&serverFlag, "server", "s", "",
		"Admin API URL (env: TOPICGATE_SERVER)")
	rootCmd.PersistentFlags().StringVarP(&contextFlag, "context", "c", "",
		"Config context to use (env: TOPICGATE_CONTEXT)")
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "",
		"Config file (env: TOPICGATE_CONFIG)")
	rootCmd.PersistentFlags().StringVarP(&namespaceFlag, "namespace", "n", "",
		"Namespace for bare topic names (env: TOPICGATE_NAMESPACE)")
	rootCmd.PersistentFlags().StringVarP(&outputFlag, "output", "o", "table",
		"Output format: table, json, yaml")
	rootCmd.PersistentFlags().IntVar(&timeoutFlag, "timeout", cli.DefaultTimeout,
		"Request timeout in seconds")

	rootCmd.AddCommand(topicsCmd)
	rootCmd.AddCommand(policiesCmd)
	rootCmd.AddCommand(namespacesCmd)
	rootCmd.AddCommand(resourceGroupsCmd)
	rootCmd.AddCommand(brokerCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(versionCmd)
}

// =============================================================================
// CLIENT INITIALIZATION
// =============================================================================

// initializeClient sets up the HTTP client and formatter before each command.
func initializeClient(cmd *cobra.Command, args []string) error {
	format, err := cli.ParseOutputFormat(outputFlag)
	if err != nil {
		return err
	}
	formatter = cli.NewFormatter(format)
	formatter.SetWriter(cmd.OutOrStdout())

	// Config commands manage the file themselves
	if cmd.Name() == "config" || cmd.Parent() != nil && cmd.Parent().Name() == "config" {
		return nil
	}

	config, err = cli.LoadConfig(cli.ConfigPath(configFlag))
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Handle context override
	if contextFlag != "" {
		if err := config.UseContext(contextFlag); err != nil {
			return err
		}
	} else if envCtx := os.Getenv(cli.EnvContext); envCtx != "" {
		if err := config.UseContext(envCtx); err != nil {
			return err
		}
	}

	overrides := cli.Overrides{Server: serverFlag, Namespace: namespaceFlag}
	if cmd.Flags().Changed("timeout") {
		overrides.Timeout = timeoutFlag
	}
	resolved, err := cli.Resolve(overrides, config)
	if err != nil {
		return err
	}
	timeoutFlag = int(resolved.Timeout / time.Second)
	client = cli.NewClient(resolved)

	return nil
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

// getContext returns a context with timeout.
func getContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), time.Duration(timeoutFlag)*time.Second)
}

// handleError prints an error and returns it.
func handleError(err error) error {
	cli.PrintError("%v", err)
	return err
}
