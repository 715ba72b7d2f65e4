// =============================================================================
// CONFIG COMMANDS - ADMIN CONTEXTS
// =============================================================================
//
// COMMANDS:
//   topicgate-admin config view              Show the file and every context
//   topicgate-admin config get-contexts      List contexts
//   topicgate-admin config use-context       Switch the current context
//   topicgate-admin config set-context       Create or update a context
//   topicgate-admin config delete-context    Delete a context
//
// EXAMPLES:
//   topicgate-admin config set-context prod \
//     --server https://topicgate.prod.example.com:8443 \
//     --ca-file /etc/topicgate/ca.pem -n acme/orders
//   topicgate-admin config use-context prod
//   topicgate-admin topics describe created     # persistent://acme/orders/created
//
// =============================================================================

package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"topicgate/internal/cli"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage admin contexts",
	Long: `Manage topicgate-admin contexts.

A context records a broker's admin URL, how to trust it over https and the
namespace that bare topic names resolve against. Contexts live in
~/.topicgate/config.yaml unless --config or TOPICGATE_CONFIG says otherwise.

Examples:
  topicgate-admin config view
  topicgate-admin config use-context production
  topicgate-admin config set-context staging \
    --server https://staging.example.com:8443 --insecure-skip-verify`,
}

func init() {
	configCmd.AddCommand(configViewCmd)
	configCmd.AddCommand(configGetContextsCmd)
	configCmd.AddCommand(configUseContextCmd)
	configCmd.AddCommand(configSetContextCmd)
	configCmd.AddCommand(configDeleteContextCmd)
}

// loadConfig opens the file named by --config, TOPICGATE_CONFIG or the
// default path.
func loadConfig() (*cli.Config, error) {
	return cli.LoadConfig(cli.ConfigPath(configFlag))
}

// =============================================================================
// CONFIG VIEW / GET-CONTEXTS
// =============================================================================

var configViewCmd = &cobra.Command{
	Use:   "view",
	Short: "Show the config file and its contexts",
	Long: `Show the config file location, the current context and every context.

Examples:
  topicgate-admin config view
  topicgate-admin config view -o yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return handleError(err)
		}
		if formatter.Machine() {
			return formatter.Format(cfg)
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Config file:     %s\n", cfg.Path())
		fmt.Fprintf(out, "Current context: %s\n\n", cfg.CurrentContext)
		return writeContexts(cfg)
	},
}

var configGetContextsCmd = &cobra.Command{
	Use:   "get-contexts",
	Short: "List contexts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return handleError(err)
		}
		if formatter.Machine() {
			return formatter.Format(cfg.Contexts)
		}
		return writeContexts(cfg)
	},
}

// writeContexts prints one row per context, marking the current one.
func writeContexts(cfg *cli.Config) error {
	table := formatter.Table()
	table.SetHeaders("CURRENT", "NAME", "SERVER", "NAMESPACE", "TLS", "TIMEOUT")
	table.WriteHeaders()

	for _, name := range cfg.ListContexts() {
		ctx := cfg.Contexts[name]
		current := ""
		if name == cfg.CurrentContext {
			current = "*"
		}
		namespace := ctx.Namespace
		if namespace == "" {
			namespace = "-"
		}
		table.WriteRow(current, name, ctx.Server, namespace, trustLabel(ctx), ctx.Timeout)
	}
	return table.Flush()
}

// trustLabel summarises how an https server is verified.
func trustLabel(ctx *cli.ContextConfig) string {
	switch {
	case ctx.InsecureSkipVerify:
		return "insecure"
	case ctx.CAFile != "":
		return "ca:" + ctx.CAFile
	default:
		return "-"
	}
}

// =============================================================================
// CONFIG USE-CONTEXT / DELETE-CONTEXT
// =============================================================================

var configUseContextCmd = &cobra.Command{
	Use:   "use-context <name>",
	Short: "Switch the current context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editConfig(func(cfg *cli.Config) error {
			return cfg.UseContext(args[0])
		}, "Switched to context %q", args[0])
	},
}

var configDeleteContextCmd = &cobra.Command{
	Use:   "delete-context <name>",
	Short: "Delete a context",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editConfig(func(cfg *cli.Config) error {
			return cfg.DeleteContext(args[0])
		}, "Context %q deleted", args[0])
	},
}

// editConfig loads the file, applies edit and saves it.
func editConfig(edit func(*cli.Config) error, format string, args ...interface{}) error {
	cfg, err := loadConfig()
	if err != nil {
		return handleError(err)
	}
	if err := edit(cfg); err != nil {
		return handleError(err)
	}
	if err := cfg.Save(); err != nil {
		return handleError(err)
	}
	formatter.PrintSuccess(format, args...)
	return nil
}

// =============================================================================
// CONFIG SET-CONTEXT
// =============================================================================

var (
	setContextServer   string
	setContextTimeout  int
	setContextCAFile   string
	setContextInsecure bool
)

var configSetContextCmd = &cobra.Command{
	Use:   "set-context <name>",
	Short: "Create or update a context",
	Long: `Create a context or update the fields named by flags.

Flags:
  --server                 Admin API URL (required for new contexts)
  --timeout                Request timeout in seconds
  -n, --namespace          Namespace for bare topic names ("" clears it)
  --ca-file                CA bundle that signs an https server's certificate
  --insecure-skip-verify   Skip certificate verification (testing only)

--ca-file and --insecure-skip-verify replace each other.

Examples:
  topicgate-admin config set-context prod --server https://gate.example.com:8443 \
    --ca-file ./ca.pem
  topicgate-admin config set-context prod -n acme/orders`,
	Args: cobra.ExactArgs(1),
	RunE: runConfigSetContext,
}

func init() {
	flags := configSetContextCmd.Flags()
	flags.StringVar(&setContextServer, "server", "", "Admin API URL")
	flags.IntVar(&setContextTimeout, "timeout", cli.DefaultTimeout, "Request timeout in seconds")
	flags.StringVar(&setContextCAFile, "ca-file", "", "CA bundle for https servers")
	flags.BoolVar(&setContextInsecure, "insecure-skip-verify", false, "Skip TLS certificate verification")
}

func runConfigSetContext(cmd *cobra.Command, args []string) error {
	name := args[0]
	flags := cmd.Flags()

	return editConfig(func(cfg *cli.Config) error {
		var ctx cli.ContextConfig
		if existing, err := cfg.GetContext(name); err == nil {
			ctx = *existing
		} else if setContextServer == "" {
			return fmt.Errorf("--server is required for new context %q", name)
		} else {
			ctx.Timeout = cli.DefaultTimeout
		}

		if setContextServer != "" {
			ctx.Server = setContextServer
		}
		if flags.Changed("timeout") {
			ctx.Timeout = setContextTimeout
		}
		if flags.Changed("namespace") {
			ctx.Namespace = namespaceFlag
		}
		if flags.Changed("ca-file") {
			ctx.CAFile = ""
			if setContextCAFile != "" {
				abs, err := filepath.Abs(setContextCAFile)
				if err != nil {
					return fmt.Errorf("invalid --ca-file: %w", err)
				}
				ctx.CAFile = abs
				ctx.InsecureSkipVerify = false
			}
		}
		if flags.Changed("insecure-skip-verify") {
			ctx.InsecureSkipVerify = setContextInsecure
			if setContextInsecure {
				ctx.CAFile = ""
			}
		}

		return cfg.SetContext(name, &ctx)
	}, "Context %q saved", name)
}
