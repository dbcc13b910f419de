package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "spawner.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)

	assert.Equal(t, 8888, cfg.ServicePort)
	assert.Equal(t, "jupyter", cfg.ServicePrefix)
	assert.Equal(t, 1, cfg.Workers)
	assert.True(t, cfg.TreatServerErrorAsAbsent)
	assert.Nil(t, cfg.Container)
}

func TestLoad_FullFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, `
service_port: 8000
service_prefix: lab
networks:
  - jupyter-net
hub:
  service_name: hub
  api_url: http://127.0.0.1:8081/hub/api
  cookie_name: jupyter-hub-token
container:
  image: jupyterhub/singleuser:latest
  env:
    LANG: C.UTF-8
  mounts:
    - type: volume
      source: "jupyterhub-user-{username}"
      target: /home/jovyan/work
resources:
  cpu_limit: 2
  memory_limit: 512m
allow_user_options: true
treat_server_error_as_absent: false
`))
	require.NoError(t, err)

	assert.Equal(t, 8000, cfg.ServicePort)
	assert.Equal(t, "lab", cfg.ServicePrefix)
	assert.Equal(t, []string{"jupyter-net"}, cfg.Networks)
	assert.Equal(t, "hub", cfg.Hub.ServiceName)
	assert.True(t, cfg.AllowUserOptions)
	assert.False(t, cfg.TreatServerErrorAsAbsent)

	require.NotNil(t, cfg.Container)
	require.Len(t, cfg.Container.Mounts, 1)
	assert.Equal(t, "jupyterhub-user-{username}", cfg.Container.Mounts[0].Source)

	limit, err := cfg.Resources.MemoryLimitBytes()
	require.NoError(t, err)
	assert.Equal(t, int64(512*1024*1024), limit)
}

func TestLoad_InvalidMemorySize(t *testing.T) {
	_, err := Load(writeConfig(t, "resources:\n  memory_limit: lots\n"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}},
		{name: "port too low", mutate: func(c *Config) { c.ServicePort = 0 }, wantErr: true},
		{name: "port too high", mutate: func(c *Config) { c.ServicePort = 70000 }, wantErr: true},
		{name: "empty prefix", mutate: func(c *Config) { c.ServicePrefix = "" }, wantErr: true},
		{name: "zero workers", mutate: func(c *Config) { c.Workers = 0 }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestContainerTemplateClone(t *testing.T) {
	orig := &ContainerTemplate{
		Image: "a",
		Env:   map[string]string{"K": "V"},
		Mounts: []Mount{{
			Source:        "vol-{username}",
			DriverOptions: map[string]string{"device": "/exports/{username}"},
		}},
	}

	clone := orig.Clone()
	clone.Env["K"] = "changed"
	clone.Mounts[0].Source = "changed"
	clone.Mounts[0].DriverOptions["device"] = "changed"

	assert.Equal(t, "V", orig.Env["K"])
	assert.Equal(t, "vol-{username}", orig.Mounts[0].Source)
	assert.Equal(t, "/exports/{username}", orig.Mounts[0].DriverOptions["device"])
}
