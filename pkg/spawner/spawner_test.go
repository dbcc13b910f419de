package spawner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/docker/docker/api/types/swarm"
	"github.com/docker/docker/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cassinyio/swarmspawner/pkg/config"
	"github.com/cassinyio/swarmspawner/pkg/hub"
	"github.com/cassinyio/swarmspawner/pkg/log"
	"github.com/cassinyio/swarmspawner/pkg/spec"
	"github.com/cassinyio/swarmspawner/pkg/state"
)

func TestMain(m *testing.M) {
	log.Init(log.Config{Level: log.ErrorLevel, JSONOutput: true, Output: io.Discard})
	os.Exit(m.Run())
}

// fakeCluster is an in-memory control plane with forcible failures.
type fakeCluster struct {
	mu       sync.Mutex
	services map[string]swarm.Service // keyed by name
	tasks    map[string][]swarm.Task  // keyed by service name

	inspectErr     error
	inspectErrOnce error // consumed by the next inspect only
	removeErr      error

	creates int
	nextID  int
}

func newFakeCluster() *fakeCluster {
	return &fakeCluster{
		services: make(map[string]swarm.Service),
		tasks:    make(map[string][]swarm.Task),
	}
}

func notFoundErr(what string) error {
	return errdefs.NotFound(fmt.Errorf("%s not found", what))
}

func (f *fakeCluster) InspectService(ctx context.Context, nameOrID string) (swarm.Service, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.inspectErrOnce != nil {
		err := f.inspectErrOnce
		f.inspectErrOnce = nil
		return swarm.Service{}, err
	}
	if f.inspectErr != nil {
		return swarm.Service{}, f.inspectErr
	}
	if svc, ok := f.services[nameOrID]; ok {
		return svc, nil
	}
	for _, svc := range f.services {
		if svc.ID == nameOrID {
			return svc, nil
		}
	}
	return swarm.Service{}, notFoundErr("service " + nameOrID)
}

func (f *fakeCluster) ListTasks(ctx context.Context, serviceName string) ([]swarm.Task, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[serviceName], nil
}

func (f *fakeCluster) CreateService(ctx context.Context, s swarm.ServiceSpec) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, exists := f.services[s.Name]; exists {
		return "", errdefs.Conflict(fmt.Errorf("name %s conflicts with an existing object", s.Name))
	}
	f.creates++
	f.nextID++
	id := fmt.Sprintf("sid-%d", f.nextID)
	f.services[s.Name] = swarm.Service{ID: id, Spec: s}
	return id, nil
}

func (f *fakeCluster) RemoveService(ctx context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.removeErr != nil {
		return f.removeErr
	}
	for name, svc := range f.services {
		if svc.ID == id {
			delete(f.services, name)
			return nil
		}
	}
	return notFoundErr("service " + id)
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Networks = []string{"jupyter-net"}
	cfg.Hub = config.Hub{
		ServiceName: "jupyterhub",
		APIURL:      "http://10.0.0.5:8081/hub/api",
		CookieName:  "jupyter-hub-token",
	}
	cfg.Container = &config.ContainerTemplate{
		Image: "jupyterhub/singleuser:latest",
		Mounts: []config.Mount{{
			Source: "jupyterhub-user-{username}",
			Target: "/home/jovyan/work",
		}},
	}
	return cfg
}

func testSession() *hub.Session {
	return &hub.Session{
		User:       "alice",
		CookieName: "jupyter-hub-token",
		BaseURL:    "/user/alice/",
		HubPrefix:  "/hub/",
		HubAPIURL:  "http://10.0.0.5:8081/hub/api",
		APIToken:   "fresh-token",
	}
}

func TestStart_CreatesService(t *testing.T) {
	cfg := testConfig()
	fc := newFakeCluster()
	s := New(cfg, fc, state.NewMemoryStore(), "alice")

	host, port, err := s.Start(context.Background(), testSession(), nil)
	require.NoError(t, err)

	assert.Equal(t, s.ServiceName(), host)
	assert.Equal(t, 8888, port)
	assert.Equal(t, 1, fc.creates)

	svc := fc.services[host]
	container := svc.Spec.TaskTemplate.ContainerSpec
	require.NotNil(t, container)
	assert.Contains(t, container.Env, "JPY_USER=alice")
	assert.Contains(t, container.Env, "JPY_API_TOKEN=fresh-token")
	assert.Contains(t, container.Env, "JPY_HUB_API_URL=http://jupyterhub:8081/hub/api")
	assert.Equal(t, "jupyterhub-user-"+s.ServiceOwner(), container.Mounts[0].Source)
	assert.Equal(t, s.ServiceOwner(), svc.Spec.Labels[LabelOwner])
	assert.NotContains(t, host, "alice", "raw identity must not leak into names")
}

func TestStart_Idempotent(t *testing.T) {
	cfg := testConfig()
	fc := newFakeCluster()
	s := New(cfg, fc, state.NewMemoryStore(), "alice")
	ctx := context.Background()

	host1, port1, err := s.Start(ctx, testSession(), nil)
	require.NoError(t, err)
	host2, port2, err := s.Start(ctx, testSession(), nil)
	require.NoError(t, err)

	assert.Equal(t, host1, host2)
	assert.Equal(t, port1, port2)
	assert.Equal(t, 1, fc.creates, "second start must not create another service")
}

func TestStart_NoTemplateFails(t *testing.T) {
	cfg := testConfig()
	cfg.Container = nil
	s := New(cfg, newFakeCluster(), state.NewMemoryStore(), "alice")

	_, _, err := s.Start(context.Background(), testSession(), nil)
	assert.ErrorIs(t, err, spec.ErrNoContainerSpec)
}

func TestStart_RecoversAPIToken(t *testing.T) {
	cfg := testConfig()
	fc := newFakeCluster()
	s := New(cfg, fc, state.NewMemoryStore(), "alice")
	ctx := context.Background()

	name := s.ServiceName()
	fc.services[name] = swarm.Service{
		ID: "sid-existing",
		Spec: swarm.ServiceSpec{
			Annotations: swarm.Annotations{Name: name},
			TaskTemplate: swarm.TaskSpec{
				ContainerSpec: &swarm.ContainerSpec{
					Env: []string{"LANG=C.UTF-8", "JPY_API_TOKEN=xyz"},
				},
			},
		},
	}

	sess := testSession()
	sess.APIToken = "newly-issued"
	_, _, err := s.Start(ctx, sess, nil)
	require.NoError(t, err)

	assert.Equal(t, "xyz", sess.APIToken, "token must be recovered from the running service")
	assert.Equal(t, 0, fc.creates)
}

func TestStart_ServerErrorTreatedAsAbsent(t *testing.T) {
	cfg := testConfig()
	fc := newFakeCluster()
	s := New(cfg, fc, state.NewMemoryStore(), "alice")
	ctx := context.Background()

	// seed cached state, then make discovery fail server-side
	_, _, err := s.Start(ctx, testSession(), nil)
	require.NoError(t, err)

	fc.mu.Lock()
	delete(fc.services, s.ServiceName())
	fc.inspectErr = errdefs.System(errors.New("cluster server error"))
	fc.mu.Unlock()

	status, err := s.Poll(ctx)
	require.NoError(t, err)
	require.NotNil(t, status, "poll must report not running")
	assert.Empty(t, s.ServiceID(), "cached id must be cleared")

	// subsequent start attempts creation instead of raising
	fc.mu.Lock()
	fc.inspectErr = nil
	fc.mu.Unlock()

	_, _, err = s.Start(ctx, testSession(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, fc.creates)
}

func TestStart_ServerErrorSurfacedWhenPolicyDisabled(t *testing.T) {
	cfg := testConfig()
	cfg.TreatServerErrorAsAbsent = false
	fc := newFakeCluster()
	fc.inspectErr = errdefs.System(errors.New("cluster server error"))
	s := New(cfg, fc, state.NewMemoryStore(), "alice")

	_, _, err := s.Start(context.Background(), testSession(), nil)
	assert.Error(t, err)
	assert.Equal(t, 0, fc.creates)
}

func TestStart_ConflictAttachesToWinner(t *testing.T) {
	cfg := testConfig()
	fc := newFakeCluster()
	s := New(cfg, fc, state.NewMemoryStore(), "alice")
	ctx := context.Background()

	name := s.ServiceName()

	// The first inspect reports absent while another controller wins the
	// create race: our create hits the name-uniqueness conflict, and the
	// follow-up discovery must attach to the winner.
	fc.inspectErrOnce = notFoundErr("service " + name)
	fc.services[name] = swarm.Service{
		ID: "sid-winner",
		Spec: swarm.ServiceSpec{
			Annotations: swarm.Annotations{Name: name},
			TaskTemplate: swarm.TaskSpec{
				ContainerSpec: &swarm.ContainerSpec{Env: []string{"JPY_API_TOKEN=winner-token"}},
			},
		},
	}

	sess := testSession()
	host, port, err := s.Start(ctx, sess, nil)
	require.NoError(t, err)
	assert.Equal(t, name, host)
	assert.Equal(t, 8888, port)
	assert.Equal(t, "winner-token", sess.APIToken)
}

func TestStart_UserOptions(t *testing.T) {
	cfg := testConfig()
	cfg.AllowUserOptions = true
	fc := newFakeCluster()
	s := New(cfg, fc, state.NewMemoryStore(), "alice")

	opts := &spec.Overrides{
		ServerName: "gpu",
		Container:  &config.ContainerTemplate{Image: "custom/gpu-image:1"},
	}
	host, _, err := s.Start(context.Background(), testSession(), opts)
	require.NoError(t, err)

	assert.Equal(t, "jupyter-"+s.ServiceOwner()+"-gpu", host)
	svc := fc.services[host]
	assert.Equal(t, "custom/gpu-image:1", svc.Spec.TaskTemplate.ContainerSpec.Image)
}

func TestStart_UserOptionsIgnoredWhenDisabled(t *testing.T) {
	cfg := testConfig()
	fc := newFakeCluster()
	s := New(cfg, fc, state.NewMemoryStore(), "alice")

	opts := &spec.Overrides{
		ServerName: "gpu",
		Container:  &config.ContainerTemplate{Image: "custom/gpu-image:1"},
	}
	host, _, err := s.Start(context.Background(), testSession(), opts)
	require.NoError(t, err)

	assert.Equal(t, "jupyter-"+s.ServiceOwner()+"-1", host)
	svc := fc.services[host]
	assert.Equal(t, "jupyterhub/singleuser:latest", svc.Spec.TaskTemplate.ContainerSpec.Image)
}

func TestPoll(t *testing.T) {
	cfg := testConfig()
	fc := newFakeCluster()
	s := New(cfg, fc, state.NewMemoryStore(), "alice")
	ctx := context.Background()

	_, _, err := s.Start(ctx, testSession(), nil)
	require.NoError(t, err)
	name := s.ServiceName()

	t.Run("no task scheduled", func(t *testing.T) {
		status, err := s.Poll(ctx)
		require.NoError(t, err)
		require.NotNil(t, status)
	})

	t.Run("running task", func(t *testing.T) {
		fc.tasks[name] = []swarm.Task{{
			ID:     "task-1",
			Status: swarm.TaskStatus{State: swarm.TaskStateRunning},
		}}
		status, err := s.Poll(ctx)
		require.NoError(t, err)
		assert.Nil(t, status, "running task yields the no-alarm signal")
	})

	t.Run("failed task", func(t *testing.T) {
		finished := time.Now().Add(-time.Minute)
		fc.tasks[name] = []swarm.Task{{
			ID: "task-1",
			Status: swarm.TaskStatus{
				State:           swarm.TaskStateFailed,
				Err:             "task: non-zero exit (137)",
				Timestamp:       finished,
				ContainerStatus: &swarm.ContainerStatus{ExitCode: 137},
			},
		}}
		status, err := s.Poll(ctx)
		require.NoError(t, err)
		require.NotNil(t, status)
		assert.Equal(t, 137, status.ExitCode)
		assert.Equal(t, "task: non-zero exit (137)", status.Err)
		assert.Equal(t, finished, status.FinishedAt)
	})

	t.Run("multiple tasks fail loudly", func(t *testing.T) {
		fc.tasks[name] = []swarm.Task{{ID: "task-1"}, {ID: "task-2"}}
		_, err := s.Poll(ctx)
		assert.Error(t, err)
	})
}

func TestPoll_AbsentService(t *testing.T) {
	cfg := testConfig()
	s := New(cfg, newFakeCluster(), state.NewMemoryStore(), "alice")

	status, err := s.Poll(context.Background())
	require.NoError(t, err, "a 404 from discovery is not a poll error")
	require.NotNil(t, status, "absent service is the not-running signal")
}

func TestStop_Idempotent(t *testing.T) {
	cfg := testConfig()
	fc := newFakeCluster()
	s := New(cfg, fc, state.NewMemoryStore(), "alice")
	ctx := context.Background()

	_, _, err := s.Start(ctx, testSession(), nil)
	require.NoError(t, err)
	require.NotEmpty(t, s.ServiceID())

	require.NoError(t, s.Stop(ctx))
	assert.Empty(t, s.ServiceID())
	assert.Empty(t, fc.services)

	require.NoError(t, s.Stop(ctx), "second stop must not raise")
	assert.Empty(t, s.ServiceID())
}

func TestStop_ClearsStateWhenRemovalFails(t *testing.T) {
	cfg := testConfig()
	fc := newFakeCluster()
	s := New(cfg, fc, state.NewMemoryStore(), "alice")
	ctx := context.Background()

	_, _, err := s.Start(ctx, testSession(), nil)
	require.NoError(t, err)

	fc.removeErr = errdefs.System(errors.New("cluster server error"))
	err = s.Stop(ctx)
	assert.Error(t, err)
	assert.Empty(t, s.ServiceID(), "state must be cleared even when removal fails")
}

func TestStateRoundTrip(t *testing.T) {
	cfg := testConfig()
	fc := newFakeCluster()
	store := state.NewMemoryStore()
	ctx := context.Background()

	first := New(cfg, fc, store, "alice")
	_, _, err := first.Start(ctx, testSession(), nil)
	require.NoError(t, err)
	id := first.ServiceID()
	require.NotEmpty(t, id)

	// a fresh controller over the same store restores the cached id
	second := New(cfg, fc, store, "alice")
	assert.Equal(t, id, second.ServiceID())

	// and no others
	other := New(cfg, fc, store, "bob")
	assert.Empty(t, other.ServiceID())
}

func TestConcurrentStarts_SingleCreate(t *testing.T) {
	cfg := testConfig()
	fc := newFakeCluster()
	s := New(cfg, fc, state.NewMemoryStore(), "alice")

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.Start(context.Background(), testSession(), nil)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fc.creates, "keyed lock must serialize the check-then-act sequence")
}

func TestConcurrentStarts_NamedSession(t *testing.T) {
	// A ServerName override moves the session suffix; concurrent starts on
	// one controller must synchronize that move with every name read.
	cfg := testConfig()
	cfg.AllowUserOptions = true
	fc := newFakeCluster()
	s := New(cfg, fc, state.NewMemoryStore(), "alice")

	opts := &spec.Overrides{ServerName: "gpu"}
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := s.Start(context.Background(), testSession(), opts)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, fc.creates)
	assert.Equal(t, "jupyter-"+s.ServiceOwner()+"-gpu", s.ServiceName())
}
