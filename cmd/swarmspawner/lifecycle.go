package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/cassinyio/swarmspawner/pkg/config"
	"github.com/cassinyio/swarmspawner/pkg/hub"
	"github.com/cassinyio/swarmspawner/pkg/spawner"
)

var upCmd = &cobra.Command{
	Use:   "up",
	Short: "Start (or attach to) a user's service",
	Long: `Start the service for a user, creating it when absent and attaching
to it when already running. Prints the service-discovery hostname and
port the service is reachable at inside the cluster.

Examples:
  swarmspawner up --user alice
  swarmspawner up --user alice --server gpu --timeout 10m`,
	RunE: runUp,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report whether a user's service task is running",
	RunE:  runStatus,
}

var downCmd = &cobra.Command{
	Use:   "down",
	Short: "Stop and remove a user's service",
	RunE:  runDown,
}

func init() {
	for _, cmd := range []*cobra.Command{upCmd, statusCmd, downCmd} {
		cmd.Flags().String("user", "", "User the service belongs to (required)")
		cmd.Flags().String("server", "", "Session name (default session when empty)")
		_ = cmd.MarkFlagRequired("user")
	}
	upCmd.Flags().String("api-token", "", "API token for the service (issued when empty)")
	upCmd.Flags().String("notebook-dir", "", "Notebook directory exported to the service")
	upCmd.Flags().Duration("timeout", 5*time.Minute, "Overall deadline for start (image pulls can be slow)")
}

// buildSpawner assembles a controller for one user from the shared flags.
func buildSpawner(cmd *cobra.Command) (*spawner.Spawner, *config.Config, func(), error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, nil, err
	}

	store, err := openStore(cmd)
	if err != nil {
		return nil, nil, nil, err
	}

	client := newCluster(cfg)
	user, _ := cmd.Flags().GetString("user")
	serverName, _ := cmd.Flags().GetString("server")

	sp := spawner.New(cfg, client, store, user, spawner.WithServerName(serverName))
	cleanup := func() {
		_ = client.Close()
		_ = store.Close()
	}
	return sp, cfg, cleanup, nil
}

func runUp(cmd *cobra.Command, args []string) error {
	sp, cfg, cleanup, err := buildSpawner(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	user, _ := cmd.Flags().GetString("user")
	token, _ := cmd.Flags().GetString("api-token")
	notebookDir, _ := cmd.Flags().GetString("notebook-dir")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	if token == "" {
		token = hub.UUIDIssuer{}.Issue()
	}

	sess := &hub.Session{
		User:        user,
		CookieName:  cfg.Hub.CookieName,
		BaseURL:     "/user/" + user + "/",
		HubPrefix:   "/hub/",
		HubAPIURL:   cfg.Hub.APIURL,
		APIToken:    token,
		NotebookDir: notebookDir,
	}

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	host, port, err := sp.Start(ctx, sess, nil)
	if err != nil {
		return fmt.Errorf("failed to start service: %w", err)
	}

	fmt.Printf("%s:%d\n", host, port)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	sp, _, cleanup, err := buildSpawner(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	status, err := sp.Poll(ctx)
	if err != nil {
		return err
	}

	if status == nil {
		fmt.Println("running")
		return nil
	}
	if status.Err != "" {
		fmt.Printf("not running: %s (exit code %d)\n", status.Err, status.ExitCode)
	} else {
		fmt.Printf("not running (exit code %d)\n", status.ExitCode)
	}
	return nil
}

func runDown(cmd *cobra.Command, args []string) error {
	sp, _, cleanup, err := buildSpawner(cmd)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	if err := sp.Stop(ctx); err != nil {
		return fmt.Errorf("failed to stop service: %w", err)
	}
	fmt.Println("removed")
	return nil
}
