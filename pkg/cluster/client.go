package cluster

import (
	"context"
	"fmt"
	"sync"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/filters"
	"github.com/docker/docker/api/types/swarm"
	dockerclient "github.com/docker/docker/client"
	"github.com/rs/zerolog"

	"github.com/cassinyio/swarmspawner/pkg/log"
)

// Config holds the connection parameters for the cluster control plane.
// They are supplied once at construction; the connection itself is created
// lazily on first use and reused for the client's lifetime.
type Config struct {
	// Host is the Docker Engine endpoint (e.g. "tcp://manager:2376").
	// Empty defers to DOCKER_HOST / the platform default socket.
	Host string

	// TLSCACert, TLSCert and TLSKey are PEM file paths. All three must be
	// set for TLS to be configured.
	TLSCACert string
	TLSCert   string
	TLSKey    string

	// APIVersion pins the engine API version. Empty negotiates.
	APIVersion string

	// Workers bounds the pool executing control-plane calls. Zero means 1:
	// calls are fully serialized, which avoids connection races at the
	// cost of throughput.
	Workers int
}

// Client serializes all orchestrator calls through a bounded worker pool
// so blocking network I/O never stalls the caller beyond its own context.
type Client struct {
	cfg Config
	lg  zerolog.Logger

	startOnce sync.Once
	jobs      chan func()

	// connMu guards api and connErr: an abandoned submission can leave a
	// worker inside connect while the caller has already moved on to Close.
	connMu   sync.Mutex
	connOnce sync.Once
	api      *dockerclient.Client
	connErr  error
}

// New returns an unconnected client. No network activity happens until the
// first call.
func New(cfg Config) *Client {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	return &Client{
		cfg: cfg,
		lg:  log.WithComponent("cluster"),
	}
}

// start launches the worker pool on first submission.
func (c *Client) start() {
	c.jobs = make(chan func(), c.cfg.Workers)
	for i := 0; i < c.cfg.Workers; i++ {
		go func() {
			for job := range c.jobs {
				job()
			}
		}()
	}
}

// connect builds the underlying engine client exactly once.
func (c *Client) connect() (*dockerclient.Client, error) {
	c.connOnce.Do(func() {
		opts := []dockerclient.Opt{dockerclient.FromEnv}
		if c.cfg.Host != "" {
			opts = append(opts, dockerclient.WithHost(c.cfg.Host))
		}
		if c.cfg.TLSCACert != "" && c.cfg.TLSCert != "" && c.cfg.TLSKey != "" {
			opts = append(opts, dockerclient.WithTLSClientConfig(c.cfg.TLSCACert, c.cfg.TLSCert, c.cfg.TLSKey))
		}
		if c.cfg.APIVersion != "" {
			opts = append(opts, dockerclient.WithVersion(c.cfg.APIVersion))
		} else {
			opts = append(opts, dockerclient.WithAPIVersionNegotiation())
		}

		api, err := dockerclient.NewClientWithOpts(opts...)
		if err != nil {
			err = fmt.Errorf("failed to create cluster client: %w", err)
		} else {
			c.lg.Debug().Str("host", c.cfg.Host).Int("workers", c.cfg.Workers).Msg("cluster client created")
		}

		c.connMu.Lock()
		c.api, c.connErr = api, err
		c.connMu.Unlock()
	})

	c.connMu.Lock()
	defer c.connMu.Unlock()
	return c.api, c.connErr
}

// do submits fn to the worker pool and waits for it, honoring ctx while
// queued and while waiting. A call already running on a worker runs to
// completion; fn receives ctx and is expected to respect it.
func (c *Client) do(ctx context.Context, fn func(api *dockerclient.Client) error) error {
	c.startOnce.Do(c.start)

	done := make(chan error, 1)
	job := func() {
		api, err := c.connect()
		if err != nil {
			done <- err
			return
		}
		done <- fn(api)
	}

	select {
	case c.jobs <- job:
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// InspectService fetches a service by name or full ID. Transport and
// protocol errors are propagated unchanged; callers classify them with
// IsNotFound / IsServerError / IsConflict.
func (c *Client) InspectService(ctx context.Context, nameOrID string) (swarm.Service, error) {
	var svc swarm.Service
	err := c.do(ctx, func(api *dockerclient.Client) error {
		s, _, err := api.ServiceInspectWithRaw(ctx, nameOrID, types.ServiceInspectOptions{})
		if err != nil {
			return err
		}
		svc = s
		return nil
	})
	return svc, err
}

// ListTasks returns the tasks belonging to the named service.
func (c *Client) ListTasks(ctx context.Context, serviceName string) ([]swarm.Task, error) {
	var tasks []swarm.Task
	err := c.do(ctx, func(api *dockerclient.Client) error {
		list, err := api.TaskList(ctx, types.TaskListOptions{
			Filters: filters.NewArgs(filters.Arg("service", serviceName)),
		})
		if err != nil {
			return err
		}
		tasks = list
		return nil
	})
	return tasks, err
}

// CreateService submits a service creation request and returns the
// cluster-assigned identifier.
func (c *Client) CreateService(ctx context.Context, s swarm.ServiceSpec) (string, error) {
	var id string
	err := c.do(ctx, func(api *dockerclient.Client) error {
		resp, err := api.ServiceCreate(ctx, s, types.ServiceCreateOptions{})
		if err != nil {
			return err
		}
		for _, w := range resp.Warnings {
			c.lg.Warn().Str("service_name", s.Name).Msg(w)
		}
		id = resp.ID
		return nil
	})
	return id, err
}

// RemoveService removes a service by its full identifier.
func (c *Client) RemoveService(ctx context.Context, id string) error {
	return c.do(ctx, func(api *dockerclient.Client) error {
		return api.ServiceRemove(ctx, id)
	})
}

// Close releases the underlying connection. Only for tests and controlled
// shutdown; the client is otherwise process-lived.
func (c *Client) Close() error {
	c.connMu.Lock()
	api := c.api
	c.connMu.Unlock()
	if api != nil {
		return api.Close()
	}
	return nil
}
