package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/cassinyio/swarmspawner/pkg/cluster"
	"github.com/cassinyio/swarmspawner/pkg/config"
	"github.com/cassinyio/swarmspawner/pkg/log"
	"github.com/cassinyio/swarmspawner/pkg/state"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "swarmspawner",
	Short: "SwarmSpawner - per-user service lifecycle manager for Docker Swarm",
	Long: `SwarmSpawner manages one long-running containerized service per user
inside a Docker Swarm cluster: it starts services on demand, monitors
their single task, and tears them down on request.

Service names follow <prefix>-<hash(username)>-<session>, so raw user
names never reach the cluster.`,
	Version: Version,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		level, _ := cmd.Flags().GetString("log-level")
		jsonOut, _ := cmd.Flags().GetBool("log-json")
		log.Init(log.Config{Level: log.Level(level), JSONOutput: jsonOut})
	},
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"SwarmSpawner version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.PersistentFlags().StringP("config", "c", "spawner.yaml", "Path to the spawner config file")
	rootCmd.PersistentFlags().String("data-dir", "/var/lib/swarmspawner", "Directory for persisted spawner state")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().Bool("log-json", false, "Emit JSON logs instead of console output")

	rootCmd.AddCommand(upCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(downCmd)
	rootCmd.AddCommand(serveCmd)
}

// loadConfig reads the YAML config named by the persistent flag.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}

// newCluster builds the (still unconnected) cluster client facade.
func newCluster(cfg *config.Config) *cluster.Client {
	return cluster.New(cluster.Config{
		Host:      cfg.DockerHost,
		TLSCACert: cfg.TLS.CACert,
		TLSCert:   cfg.TLS.Cert,
		TLSKey:    cfg.TLS.Key,
		Workers:   cfg.Workers,
	})
}

// openStore opens the BoltDB state store under the data dir.
func openStore(cmd *cobra.Command) (*state.BoltStore, error) {
	dataDir, _ := cmd.Flags().GetString("data-dir")
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	store, err := state.NewBoltStore(dataDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return store, nil
}
