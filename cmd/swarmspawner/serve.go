package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cassinyio/swarmspawner/pkg/api"
	"github.com/cassinyio/swarmspawner/pkg/hub"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the spawner API over HTTP",
	Long: `Serve the spawner lifecycle as an HTTP API for the hosting hub:

  POST   /users/{user}/server   start (or attach to) the user's service
  GET    /users/{user}/server   poll the service's task
  DELETE /users/{user}/server   stop and remove the service
  GET    /healthz               liveness
  GET    /metrics               Prometheus metrics`,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().String("listen", ":8080", "Address to serve the API on")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	store, err := openStore(cmd)
	if err != nil {
		return err
	}
	defer store.Close()

	client := newCluster(cfg)
	defer client.Close()

	listen, _ := cmd.Flags().GetString("listen")
	server := api.NewServer(cfg, client, store, hub.UUIDIssuer{})

	if err := server.ListenAndServe(listen); err != nil {
		return fmt.Errorf("api server failed: %w", err)
	}
	return nil
}
