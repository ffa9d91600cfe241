// Command nexusd is the data-plane agent binary: it owns one node's nexuses,
// rebuild jobs and persistent nexus-info records, and serves the
// node-agent RPC surface to the control plane.
package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"

	"github.com/nexusfleet/nexuscore/internal/config"
	"github.com/nexusfleet/nexuscore/internal/logger"
	"github.com/nexusfleet/nexuscore/internal/telemetry"
	"github.com/nexusfleet/nexuscore/pkg/ids"
	"github.com/nexusfleet/nexuscore/pkg/metrics"

	// Registers the Prometheus NexusMetrics/RebuildMetrics/RegistryMetrics
	// constructors via init().
	_ "github.com/nexusfleet/nexuscore/pkg/metrics/prometheus"
	"github.com/nexusfleet/nexuscore/pkg/nexusinfo"
	"github.com/nexusfleet/nexuscore/pkg/nodeagent"
	"github.com/nexusfleet/nexuscore/pkg/transport/nodegrpc"
)

var (
	version = "dev"

	cfgFile  string
	nodeName string
	listen   string
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "nexusd",
		Short: "Data-plane node agent for nexuscore",
	}
	root.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")
	root.AddCommand(serveCmd())
	root.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(version)
			return nil
		},
	})
	return root
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the node agent's gRPC server until interrupted",
		RunE:  runServe,
	}
	cmd.Flags().StringVar(&nodeName, "node", "", "this node's identifier (default: hostname)")
	cmd.Flags().StringVar(&listen, "listen", ":9443", "address to serve the node-agent gRPC service on")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	v := viper.New()
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}

	node := ids.NodeId(nodeName)
	if node == "" {
		host, err := os.Hostname()
		if err != nil {
			return fmt.Errorf("resolve node identity: %w", err)
		}
		node = ids.NodeId(host)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	telemetryShutdown, err := telemetry.Init(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		Endpoint:       cfg.Telemetry.Endpoint,
		Insecure:       cfg.Telemetry.Insecure,
		ServiceName:    "nexusd",
		ServiceVersion: version,
		SampleRate:     cfg.Telemetry.SampleRate,
	})
	if err != nil {
		return fmt.Errorf("init telemetry: %w", err)
	}
	defer func() {
		if err := telemetryShutdown(ctx); err != nil {
			logger.Error("telemetry shutdown error", "error", err)
		}
	}()

	if cfg.Metrics.Enabled {
		reg := metrics.InitRegistry()
		metricsAddr := fmt.Sprintf(":%d", cfg.Metrics.Port)
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: promhttp.HandlerFor(reg, promhttp.HandlerOpts{})}
		go func() {
			if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Error("metrics server error", "error", err)
			}
		}()
		defer metricsSrv.Close()
		logger.Info("metrics enabled", "port", cfg.Metrics.Port)
	}

	info, err := nexusinfo.Open(cfg.NexusInfo.Dir)
	if err != nil {
		return fmt.Errorf("open nexus-info store: %w", err)
	}
	defer info.Close()

	agent := nodeagent.New(node, info, cfg.Rebuild.ToOptions())

	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", listen, err)
	}
	grpcServer := grpc.NewServer()
	nodegrpc.RegisterServer(grpcServer, agent)

	logger.Info("nexusd starting", "node", node.String(), "listen", listen)

	serveErr := make(chan error, 1)
	go func() { serveErr <- grpcServer.Serve(lis) }()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		logger.Info("shutdown signal received")
		stopped := make(chan struct{})
		go func() {
			grpcServer.GracefulStop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(cfg.ShutdownTimeout):
			logger.Warn("graceful shutdown timed out, forcing stop", "timeout", cfg.ShutdownTimeout)
			grpcServer.Stop()
		}
		return <-serveErr
	case err := <-serveErr:
		return err
	}
}
