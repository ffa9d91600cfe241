// Package commands implements the nexusctl command tree: the control-plane
// admin CLI opens the same durable store and registry a running control
// plane would, dials node agents directly, and dispatches through
// pkg/controlplane.Service — there is no separate long-running control-plane
// daemon to talk to.
package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nexusfleet/nexuscore/internal/config"
	"github.com/nexusfleet/nexuscore/internal/logger"
	"github.com/nexusfleet/nexuscore/pkg/controlplane"
	"github.com/nexusfleet/nexuscore/pkg/controlplane/api"
	"github.com/nexusfleet/nexuscore/pkg/controlplane/store"
	"github.com/nexusfleet/nexuscore/pkg/controlplane/store/migrations"
	"github.com/nexusfleet/nexuscore/pkg/lock"
	"github.com/nexusfleet/nexuscore/pkg/registry"
)

var (
	// Version is injected at build time.
	Version = "dev"

	cfgFile string
)

var rootCmd = &cobra.Command{
	Use:           "nexusctl",
	Short:         "Administer a nexuscore control plane",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the nexusctl command tree. Called once by cmd/nexusctl/main.go.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to config file")

	rootCmd.AddCommand(newGetCmd())
	rootCmd.AddCommand(newPoolCmd())
	rootCmd.AddCommand(newReplicaCmd())
	rootCmd.AddCommand(newNexusCmd())
	rootCmd.AddCommand(newRebuildCmd())
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version",
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Println(Version)
			return nil
		},
	})
}

// svc bundles the constructed Service with the registry it dispatches
// through and the durable store, so commands can register node endpoints
// and read stored records directly.
type svc struct {
	service  *controlplane.Service
	registry *registry.Registry
	store    *store.GORMStore
}

// newService opens the control-plane database and registry exactly as a
// running control plane would, and wires a Service over them.
func newService() (*svc, error) {
	v := viper.New()
	cfg, err := config.Load(v, cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if err := logger.Init(logger.Config{Level: cfg.Logging.Level, Format: cfg.Logging.Format, Output: cfg.Logging.Output}); err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	if cfg.Database.Driver == "postgres" {
		if err := migrations.Run(cfg.Database.DSN); err != nil {
			return nil, fmt.Errorf("run schema migrations: %w", err)
		}
	}

	st, err := store.New(store.Config{Type: store.DatabaseType(cfg.Database.Driver), DSN: cfg.Database.DSN})
	if err != nil {
		return nil, fmt.Errorf("open control-plane store: %w", err)
	}

	reg := registry.New(cfg.Registry.CachePeriod, cfg.Registry.HeartbeatTimeout)
	dialer := api.GRPCDialer{}
	locks := lock.NewManager()
	service := controlplane.New(reg, st, locks, dialer)

	return &svc{service: service, registry: reg, store: st}, nil
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}
