// =============================================================================
// TOPICGATE MAIN ENTRY POINT
// =============================================================================
//
// The broker process. It wires:
//   - Configuration: YAML file + TOPICGATE_* environment overrides
//   - Structured logging (slog, text or JSON)
//   - Prometheus metrics
//   - The broker: topics, producer admission, policies, rate limiters
//   - HTTP admin API (chi) and gRPC health (google.golang.org/grpc)
//   - Optional TLS shared by both listeners
//   - Graceful shutdown on SIGINT/SIGTERM
//
// USAGE:
//   topicgate --config /etc/topicgate/broker.yaml
//   topicgate validate --config broker.yaml
//   topicgate version
//
// =============================================================================

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"topicgate/internal/api"
	"topicgate/internal/broker"
	"topicgate/internal/config"
	"topicgate/internal/grpc"
	"topicgate/internal/metrics"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "topicgate",
	Short: "Per-topic producer admission broker",
	Long: `topicgate runs the broker: it loads topics on demand, resolves their
policies across topic, namespace and broker tiers, admits producers under
Shared, Exclusive and WaitForExclusive access, and throttles publishing.

Configuration comes from --config (YAML) and TOPICGATE_* environment
variables; the environment wins.`,
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return run(ctx, cfg, cmd.ErrOrStderr())
	},
}

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a configuration file and exit",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), "configuration OK")
		return nil
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "topicgate %s (commit %s, built %s)\n",
			api.Version, api.GitCommit, api.BuildTime)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "f", "",
		"Path to the broker configuration file (YAML)")
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads the file (defaults when absent), applies the
// environment and validates the result.
func loadConfig() (*config.BrokerConfig, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// run starts every component and blocks until ctx is done or a listener
// fails, then shuts down in reverse order.
func run(ctx context.Context, cfg *config.BrokerConfig, logOut io.Writer) error {
	// -------------------------------------------------------------------------
	// STEP 1: Logging & metrics
	// -------------------------------------------------------------------------
	logger := cfg.NewLogger(logOut).With("node", cfg.NodeID)
	metrics.Init(cfg.MetricsConfig())

	// -------------------------------------------------------------------------
	// STEP 2: Broker
	// -------------------------------------------------------------------------
	// ┌─────────────────────────────────────────────────────────────────────────┐
	// │ The broker owns the epoch store (bolt, under data_dir), the policy      │
	// │ store, the broker-wide and resource group rate limiters, and the        │
	// │ monitor that resets rate windows and sweeps inactive topics.            │
	// └─────────────────────────────────────────────────────────────────────────┘
	b, err := broker.NewBroker(cfg.BrokerOptions(logger))
	if err != nil {
		return fmt.Errorf("failed to create broker: %w", err)
	}
	// The listeners share one TLS config; nil when tls.enabled is false.
	serverTLS, err := cfg.TLS.ServerConfig(logger)
	if err != nil {
		b.Close()
		return fmt.Errorf("failed to configure TLS: %w", err)
	}

	b.Start()
	logger.Info("broker started",
		"cluster", cfg.Cluster,
		"data_dir", cfg.DataDir,
		"precise_rate_limiting", cfg.PreciseRateLimiting,
	)

	// -------------------------------------------------------------------------
	// STEP 3: HTTP admin API
	// -------------------------------------------------------------------------
	apiConfig := api.DefaultServerConfig()
	apiConfig.Addr = cfg.HTTPAddr
	apiConfig.TLS = serverTLS
	httpServer := api.NewServer(b, apiConfig)
	httpErr := httpServer.Start()

	// -------------------------------------------------------------------------
	// STEP 4: gRPC health (optional)
	// -------------------------------------------------------------------------
	var grpcServer *grpc.Server
	grpcErr := make(chan error, 1)
	if cfg.GRPCAddr != "" {
		grpcConfig := grpc.DefaultServerConfig()
		grpcConfig.Address = cfg.GRPCAddr
		grpcConfig.EnableReflection = cfg.GRPCReflection
		grpcConfig.TLS = serverTLS
		grpcServer = grpc.NewServer(b, grpcConfig, logger)
		go func() {
			if err := grpcServer.Start(); err != nil {
				grpcErr <- err
			}
		}()
	}

	// -------------------------------------------------------------------------
	// STEP 5: Wait
	// -------------------------------------------------------------------------
	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err, ok := <-httpErr:
		if ok && err != nil {
			runErr = fmt.Errorf("http server: %w", err)
		}
	case err := <-grpcErr:
		runErr = fmt.Errorf("grpc server: %w", err)
	}

	// -------------------------------------------------------------------------
	// STEP 6: Graceful shutdown
	// -------------------------------------------------------------------------
	// gRPC first so health probes see NOT_SERVING, then HTTP, then the broker
	// (which disconnects producers and closes the epoch store).
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if grpcServer != nil {
		grpcServer.Stop()
	}
	if err := httpServer.Stop(shutdownCtx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("HTTP server shutdown error", "error", err)
	}
	if err := b.Close(); err != nil {
		logger.Warn("broker close error", "error", err)
		if runErr == nil {
			runErr = err
		}
	}

	logger.Info("shutdown complete")
	return runErr
}
