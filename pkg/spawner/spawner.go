package spawner

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/swarm"
	"github.com/im7mortal/kmutex"
	"github.com/rs/zerolog"

	"github.com/cassinyio/swarmspawner/pkg/cluster"
	"github.com/cassinyio/swarmspawner/pkg/config"
	"github.com/cassinyio/swarmspawner/pkg/hub"
	"github.com/cassinyio/swarmspawner/pkg/identity"
	"github.com/cassinyio/swarmspawner/pkg/log"
	"github.com/cassinyio/swarmspawner/pkg/metrics"
	"github.com/cassinyio/swarmspawner/pkg/spec"
	"github.com/cassinyio/swarmspawner/pkg/state"
)

// LabelOwner marks every created service with the owner hash, never the
// raw user name.
const LabelOwner = "swarmspawner.owner"

// ClusterAPI is the narrow control-plane surface the spawner consumes.
// *cluster.Client satisfies it; tests substitute fakes.
type ClusterAPI interface {
	InspectService(ctx context.Context, nameOrID string) (swarm.Service, error)
	ListTasks(ctx context.Context, serviceName string) ([]swarm.Task, error)
	CreateService(ctx context.Context, s swarm.ServiceSpec) (string, error)
	RemoveService(ctx context.Context, id string) error
}

// ExitStatus is the "not running" signal returned by Poll. A nil
// *ExitStatus from Poll means the task is running.
type ExitStatus struct {
	ExitCode   int
	Err        string
	FinishedAt time.Time
}

// Spawner is the lifecycle controller for one user's service: it discovers
// existing state, creates the service when absent, recovers credentials
// when present, and exposes poll/stop. All collaborators are injected; a
// Spawner owns no global state.
type Spawner struct {
	cfg     *config.Config
	cluster ClusterAPI
	store   state.Store
	builder *spec.Builder
	locks   *kmutex.Kmutex
	lg      zerolog.Logger

	user       string
	serverName string

	ownerOnce sync.Once
	owner     string

	mu        sync.Mutex
	serviceID string
	loaded    bool
}

// Option configures a Spawner at construction.
type Option func(*Spawner)

// WithServerName sets the session suffix of the service name, allowing one
// user to run multiple named sessions.
func WithServerName(name string) Option {
	return func(s *Spawner) { s.serverName = name }
}

// WithLocks shares a keyed mutex across spawner instances so concurrent
// start/stop for the same service name serialize even when issued through
// different controllers.
func WithLocks(k *kmutex.Kmutex) Option {
	return func(s *Spawner) { s.locks = k }
}

// New creates a controller for the given user over an injected cluster
// client and state store.
func New(cfg *config.Config, api ClusterAPI, store state.Store, user string, opts ...Option) *Spawner {
	s := &Spawner{
		cfg:     cfg,
		cluster: api,
		store:   store,
		builder: spec.NewBuilder(cfg),
		user:    user,
		lg:      log.WithComponent("spawner"),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.locks == nil {
		s.locks = kmutex.New()
	}
	return s
}

// ServiceOwner returns the owner hash for the spawner's user, computed
// lazily and cached for the controller's lifetime.
func (s *Spawner) ServiceOwner() string {
	s.ownerOnce.Do(func() {
		s.owner = identity.Hash(s.user)
	})
	return s.owner
}

// ServiceName returns {prefix}-{owner hash}-{session suffix}. The name is
// also the hostname the cluster's service discovery resolves, so it is
// what Start hands back to the caller. The session suffix can move when a
// start carries a ServerName override, so it is read under the state lock.
func (s *Spawner) ServiceName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.serviceNameLocked()
}

// ServiceID returns the cached cluster identifier, loading persisted state
// on first access. Empty when the service is not known to exist.
func (s *Spawner) ServiceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ensureLoadedLocked(s.serviceNameLocked())
	return s.serviceID
}

// serviceNameLocked mirrors ServiceName without re-entering s.mu.
func (s *Spawner) serviceNameLocked() string {
	return identity.ServiceName(s.cfg.ServicePrefix, s.ServiceOwner(), s.serverName)
}

func (s *Spawner) ensureLoadedLocked(name string) {
	if s.loaded {
		return
	}
	s.loaded = true
	rec, err := s.store.Load(name)
	if err != nil {
		s.lg.Warn().Err(err).Str("service_name", name).Msg("failed to load persisted state")
		return
	}
	if rec != nil {
		s.serviceID = rec.ServiceID
	}
}

func (s *Spawner) cacheServiceID(name, id string) {
	s.mu.Lock()
	s.serviceID = id
	s.loaded = true
	s.mu.Unlock()
	if err := s.store.Save(name, &state.Record{ServiceID: id}); err != nil {
		s.lg.Warn().Err(err).Str("service_name", name).Msg("failed to persist state")
	}
}

func (s *Spawner) clearState(name string) {
	s.mu.Lock()
	s.serviceID = ""
	s.loaded = true
	s.mu.Unlock()
	if err := s.store.Clear(name); err != nil {
		s.lg.Warn().Err(err).Str("service_name", name).Msg("failed to clear persisted state")
	}
}

// discover resolves the current cluster state for the service name. It
// returns nil without error when the service is absent. A server-side
// fault is treated like absence when the configured policy says so, which
// keeps a transient control-plane error from permanently blocking
// re-creation at the documented risk of orphaning a healthy service.
func (s *Spawner) discover(ctx context.Context) (*swarm.Service, error) {
	name := s.ServiceName()
	s.lg.Debug().Str("service_name", name).Msg("getting service")

	svc, err := s.cluster.InspectService(ctx, name)
	switch {
	case err == nil:
		s.cacheServiceID(name, svc.ID)
		return &svc, nil

	case cluster.IsNotFound(err):
		s.lg.Info().Str("service_name", name).Msg("service is gone")
		s.clearState(name)
		return nil, nil

	case cluster.IsServerError(err) && s.cfg.TreatServerErrorAsAbsent:
		s.lg.Warn().Err(err).Str("service_name", name).
			Msg("control-plane server error, treating service as absent")
		metrics.ServerErrorsTreatedAbsent.Inc()
		s.clearState(name)
		return nil, nil

	default:
		return nil, err
	}
}

// Start ensures the user's service exists and returns the (host, port)
// pair it is reachable at. The host is the service name; the cluster's
// service discovery resolves it, so no IP lookup happens here. The session
// is consumed for environment injection on the create path and updated
// with the recovered API token on the already-present path.
func (s *Spawner) Start(ctx context.Context, sess *hub.Session, opts *spec.Overrides) (string, int, error) {
	started := time.Now()
	host, port, err := s.start(ctx, sess, opts)
	metrics.StartDuration.Observe(time.Since(started).Seconds())
	if err != nil {
		metrics.StartsTotal.WithLabelValues(metrics.OutcomeError).Inc()
	}
	return host, port, err
}

func (s *Spawner) start(ctx context.Context, sess *hub.Session, opts *spec.Overrides) (string, int, error) {
	if !s.cfg.AllowUserOptions {
		opts = nil
	}
	if opts != nil && opts.ServerName != "" {
		s.mu.Lock()
		if opts.ServerName != s.serverName {
			s.serverName = opts.ServerName
			s.loaded = false
		}
		s.mu.Unlock()
	}

	name := s.ServiceName()
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	svc, err := s.discover(ctx)
	if err != nil {
		return "", 0, err
	}

	if svc == nil {
		if err := s.create(ctx, sess, opts, name); err != nil {
			if !cluster.IsConflict(err) {
				return "", 0, err
			}
			// Lost a create race: the orchestrator's name-uniqueness
			// constraint is the backstop. Re-discover once and attach to
			// the winner; anything else surfaces the conflict.
			svc, derr := s.discover(ctx)
			if derr != nil || svc == nil {
				return "", 0, fmt.Errorf("service name %s conflicts with an existing service: %w", name, err)
			}
			s.attach(svc, sess)
		}
	} else {
		s.attach(svc, sess)
	}

	return name, s.cfg.ServicePort, nil
}

// create builds the spec and submits the service.
func (s *Spawner) create(ctx context.Context, sess *hub.Session, opts *spec.Overrides, name string) error {
	env, err := sess.Environ(s.cfg.Hub.ServiceName)
	if err != nil {
		return err
	}

	serviceSpec, image, err := s.builder.Build(opts, env, s.ServiceOwner())
	if err != nil {
		return err
	}
	serviceSpec.Name = name
	if serviceSpec.Labels == nil {
		serviceSpec.Labels = make(map[string]string, 1)
	}
	serviceSpec.Labels[LabelOwner] = s.ServiceOwner()

	id, err := s.cluster.CreateService(ctx, serviceSpec)
	if err != nil {
		return err
	}
	s.cacheServiceID(name, id)

	s.lg.Info().
		Str("service_name", name).
		Str("service_id", log.ShortID(id)).
		Str("image", image).
		Msg("created service")
	metrics.StartsTotal.WithLabelValues(metrics.OutcomeCreated).Inc()
	return nil
}

// attach handles the already-present path: the existing service keeps its
// credential, so the previously issued API token is recovered from its
// recorded environment into the caller's session.
func (s *Spawner) attach(svc *swarm.Service, sess *hub.Session) {
	s.lg.Info().
		Str("service_name", svc.Spec.Name).
		Str("service_id", log.ShortID(svc.ID)).
		Msg("found existing service")

	if token, ok := recordedAPIToken(svc); ok {
		sess.APIToken = token
	}
	metrics.StartsTotal.WithLabelValues(metrics.OutcomeExisting).Inc()
}

func recordedAPIToken(svc *swarm.Service) (string, bool) {
	if svc.Spec.TaskTemplate.ContainerSpec == nil {
		return "", false
	}
	prefix := hub.EnvAPIToken + "="
	for _, kv := range svc.Spec.TaskTemplate.ContainerSpec.Env {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):], true
		}
	}
	return "", false
}

// Poll reports whether the service's single task is running. A nil
// ExitStatus means running; otherwise the signal carries the exit code,
// error message and finish timestamp. Exactly one task is expected:
// replicated services with more than one task are out of contract and
// fail loudly rather than silently inspecting the first.
func (s *Spawner) Poll(ctx context.Context) (*ExitStatus, error) {
	name := s.ServiceName()

	svc, err := s.discover(ctx)
	if err != nil {
		metrics.PollsTotal.WithLabelValues(metrics.ResultError).Inc()
		return nil, err
	}
	if svc == nil {
		s.lg.Warn().Str("service_name", name).Msg("service not found")
		metrics.PollsTotal.WithLabelValues(metrics.ResultNotRunning).Inc()
		return &ExitStatus{Err: "service not found"}, nil
	}

	tasks, err := s.cluster.ListTasks(ctx, svc.Spec.Name)
	if err != nil {
		metrics.PollsTotal.WithLabelValues(metrics.ResultError).Inc()
		return nil, err
	}
	if len(tasks) > 1 {
		metrics.PollsTotal.WithLabelValues(metrics.ResultError).Inc()
		return nil, fmt.Errorf("service %s has %d tasks, exactly one replica is supported", name, len(tasks))
	}
	if len(tasks) == 0 {
		metrics.PollsTotal.WithLabelValues(metrics.ResultNotRunning).Inc()
		return &ExitStatus{Err: "no task scheduled for service"}, nil
	}

	task := tasks[0]
	s.lg.Debug().
		Str("task_id", log.ShortID(task.ID)).
		Str("service_id", log.ShortID(svc.ID)).
		Str("state", string(task.Status.State)).
		Msg("task status")

	if task.Status.State == swarm.TaskStateRunning {
		metrics.PollsTotal.WithLabelValues(metrics.ResultRunning).Inc()
		return nil, nil
	}

	status := &ExitStatus{
		Err:        task.Status.Err,
		FinishedAt: task.Status.Timestamp,
	}
	if task.Status.ContainerStatus != nil {
		status.ExitCode = task.Status.ContainerStatus.ExitCode
	}
	metrics.PollsTotal.WithLabelValues(metrics.ResultNotRunning).Inc()
	return status, nil
}

// Stop removes the service. It is best-effort and idempotent: cached and
// persisted state are cleared unconditionally, a missing service is not an
// error, and calling Stop twice is safe.
func (s *Spawner) Stop(ctx context.Context) error {
	name := s.ServiceName()
	s.locks.Lock(name)
	defer s.locks.Unlock(name)

	s.mu.Lock()
	s.ensureLoadedLocked(name)
	id := s.serviceID
	s.mu.Unlock()

	if id == "" {
		s.clearState(name)
		metrics.StopsTotal.WithLabelValues(metrics.OutcomeNoop).Inc()
		return nil
	}

	s.lg.Info().
		Str("service_name", name).
		Str("service_id", log.ShortID(id)).
		Msg("stopping and removing service")

	// Removal uses the full identifier; state is cleared even when the
	// call fails so a retried stop never reuses a dead ID.
	err := s.cluster.RemoveService(ctx, id)
	s.clearState(name)

	if err != nil && !cluster.IsNotFound(err) {
		metrics.StopsTotal.WithLabelValues(metrics.OutcomeError).Inc()
		return fmt.Errorf("failed to remove service %s: %w", name, err)
	}

	s.lg.Info().
		Str("service_name", name).
		Str("service_id", log.ShortID(id)).
		Msg("service removed")
	metrics.StopsTotal.WithLabelValues(metrics.OutcomeRemoved).Inc()
	return nil
}
