package config

import (
	"fmt"
	"os"

	units "github.com/docker/go-units"
	"gopkg.in/yaml.v3"
)

// Config is the static spawner configuration, loaded once at process start.
// Every field has a defined default so callers never probe for presence.
type Config struct {
	// ServicePort is the port the spawned service listens on.
	ServicePort int `yaml:"service_port"`

	// ServiceImage is the fallback image when the container template does
	// not name one. Empty means a cold start without a template fails.
	ServiceImage string `yaml:"service_image"`

	// ServicePrefix is the first segment of generated service names:
	// {prefix}-{owner hash}-{session suffix}.
	ServicePrefix string `yaml:"service_prefix"`

	// DockerHost is the cluster control-plane endpoint. Empty defers to
	// the standard DOCKER_HOST environment handling.
	DockerHost string `yaml:"docker_host"`

	// TLS holds client certificate paths for the cluster connection.
	TLS TLS `yaml:"tls"`

	// Container is the static container template used on the create path.
	Container *ContainerTemplate `yaml:"container"`

	// Resources is the static resource-limit template.
	Resources Resources `yaml:"resources"`

	// Networks are attached to every created service.
	Networks []string `yaml:"networks"`

	// Hub describes the hosting hub the spawned service reports back to.
	Hub Hub `yaml:"hub"`

	// AllowUserOptions enables per-session override dictionaries supplied
	// by the caller. When false, overrides are ignored entirely.
	AllowUserOptions bool `yaml:"allow_user_options"`

	// TreatServerErrorAsAbsent keeps the historical discovery policy:
	// a 5xx from the control plane clears cached state and reports the
	// service absent so a transient fault never blocks re-creation. The
	// documented risk is orphaning a healthy service. Set false to surface
	// server errors instead.
	TreatServerErrorAsAbsent bool `yaml:"treat_server_error_as_absent"`

	// Workers bounds the cluster client worker pool. The default of 1
	// serializes all control-plane calls.
	Workers int `yaml:"workers"`
}

// TLS holds PEM file paths for the cluster client connection.
type TLS struct {
	CACert string `yaml:"ca_cert"`
	Cert   string `yaml:"cert"`
	Key    string `yaml:"key"`
}

// Hub describes the external session/auth collaborator.
type Hub struct {
	// ServiceName is the cluster service name the hub itself runs under.
	// It is substituted as the host of the hub API URL handed to spawned
	// services, so they can reach the hub over the cluster network.
	ServiceName string `yaml:"service_name"`

	// APIURL is the hub API endpoint as seen from the hub process.
	APIURL string `yaml:"api_url"`

	// CookieName is the session cookie name passed to spawned services.
	CookieName string `yaml:"cookie_name"`
}

// ContainerTemplate describes the container part of a service spec.
type ContainerTemplate struct {
	Image       string            `yaml:"image"`
	Command     []string          `yaml:"command"`
	Args        []string          `yaml:"args"`
	Dir         string            `yaml:"dir"`
	User        string            `yaml:"user"`
	Env         map[string]string `yaml:"env"`
	Labels      map[string]string `yaml:"labels"`
	Mounts      []Mount           `yaml:"mounts"`
	Constraints []string          `yaml:"constraints"`
}

// Mount describes one mount in the container template. Source and the
// driver "device" option may carry the {username} placeholder, resolved
// with the owner hash at build time.
type Mount struct {
	Type          string            `yaml:"type"`
	Source        string            `yaml:"source"`
	Target        string            `yaml:"target"`
	ReadOnly      bool              `yaml:"read_only"`
	Driver        string            `yaml:"driver"`
	DriverOptions map[string]string `yaml:"driver_options"`
}

// Resources holds resource limits and reservations. Memory values accept
// human-readable sizes ("512m", "2g").
type Resources struct {
	CPULimit          float64 `yaml:"cpu_limit"`
	MemoryLimit       string  `yaml:"memory_limit"`
	CPUReservation    float64 `yaml:"cpu_reservation"`
	MemoryReservation string  `yaml:"memory_reservation"`
}

// MemoryLimitBytes parses the memory limit. Zero when unset.
func (r Resources) MemoryLimitBytes() (int64, error) {
	return parseMemory(r.MemoryLimit)
}

// MemoryReservationBytes parses the memory reservation. Zero when unset.
func (r Resources) MemoryReservationBytes() (int64, error) {
	return parseMemory(r.MemoryReservation)
}

func parseMemory(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := units.RAMInBytes(v)
	if err != nil {
		return 0, fmt.Errorf("invalid memory size %q: %w", v, err)
	}
	return n, nil
}

// Default returns a Config with every default applied.
func Default() *Config {
	return &Config{
		ServicePort:              8888,
		ServicePrefix:            "jupyter",
		TreatServerErrorAsAbsent: true,
		Workers:                  1,
	}
}

// Load reads a YAML config file, applying defaults for anything the file
// does not set. An empty file yields a usable (if image-less) config; a
// missing image only fails later, at cold start.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field ranges and parseable sizes.
func (c *Config) Validate() error {
	if c.ServicePort < 1 || c.ServicePort > 65535 {
		return fmt.Errorf("service_port %d out of range", c.ServicePort)
	}
	if c.ServicePrefix == "" {
		return fmt.Errorf("service_prefix must not be empty")
	}
	if c.Workers < 1 {
		return fmt.Errorf("workers must be at least 1")
	}
	if _, err := c.Resources.MemoryLimitBytes(); err != nil {
		return err
	}
	if _, err := c.Resources.MemoryReservationBytes(); err != nil {
		return err
	}
	return nil
}
