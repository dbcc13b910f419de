package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/im7mortal/kmutex"
	"github.com/rs/zerolog"

	"github.com/cassinyio/swarmspawner/pkg/cluster"
	"github.com/cassinyio/swarmspawner/pkg/config"
	"github.com/cassinyio/swarmspawner/pkg/hub"
	"github.com/cassinyio/swarmspawner/pkg/log"
	"github.com/cassinyio/swarmspawner/pkg/metrics"
	"github.com/cassinyio/swarmspawner/pkg/spawner"
	"github.com/cassinyio/swarmspawner/pkg/spec"
	"github.com/cassinyio/swarmspawner/pkg/state"
)

// Server exposes the spawner lifecycle over HTTP for the hosting hub:
// one spawn/status/stop resource per user, plus liveness and metrics.
type Server struct {
	cfg     *config.Config
	cluster spawner.ClusterAPI
	store   state.Store
	issuer  hub.TokenIssuer
	locks   *kmutex.Kmutex
	router  chi.Router
	lg      zerolog.Logger
}

// NewServer wires the lifecycle dependencies into a router. The keyed
// mutex is shared by every spawner the server creates, so concurrent
// requests for the same user serialize.
func NewServer(cfg *config.Config, clusterAPI spawner.ClusterAPI, store state.Store, issuer hub.TokenIssuer) *Server {
	s := &Server{
		cfg:     cfg,
		cluster: clusterAPI,
		store:   store,
		issuer:  issuer,
		locks:   kmutex.New(),
		lg:      log.WithComponent("api"),
	}

	r := chi.NewRouter()
	r.Get("/healthz", s.healthzHandler)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())
	r.Route("/users/{user}/server", func(r chi.Router) {
		r.Post("/", s.spawnHandler)
		r.Get("/", s.statusHandler)
		r.Delete("/", s.stopHandler)
	})
	s.router = r
	return s
}

// Handler returns the HTTP handler, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves the API on addr until the listener fails.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.router,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	s.lg.Info().Str("addr", addr).Msg("serving spawner API")
	return srv.ListenAndServe()
}

func (s *Server) spawnerFor(user, serverName string) *spawner.Spawner {
	return spawner.New(s.cfg, s.cluster, s.store, user,
		spawner.WithServerName(serverName),
		spawner.WithLocks(s.locks),
	)
}

// SpawnResponse reports where the spawned service is reachable and the
// credential it authenticates with.
type SpawnResponse struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	APIToken string `json:"api_token"`
}

// StatusResponse is the poll result for a user's service.
type StatusResponse struct {
	Running    bool       `json:"running"`
	ExitCode   int        `json:"exit_code,omitempty"`
	Error      string     `json:"error,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (s *Server) spawnHandler(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")

	var opts *spec.Overrides
	if r.Body != nil && r.ContentLength != 0 {
		opts = &spec.Overrides{}
		if err := json.NewDecoder(r.Body).Decode(opts); err != nil {
			writeError(w, http.StatusBadRequest, "invalid options payload")
			return
		}
	}

	sess := &hub.Session{
		User:       user,
		CookieName: s.cfg.Hub.CookieName,
		BaseURL:    "/user/" + user + "/",
		HubPrefix:  "/hub/",
		HubAPIURL:  s.cfg.Hub.APIURL,
		APIToken:   s.issuer.Issue(),
	}

	sp := s.spawnerFor(user, r.URL.Query().Get("server"))
	host, port, err := sp.Start(r.Context(), sess, opts)
	if err != nil {
		lg := log.WithOwner(s.lg, sp.ServiceOwner())
		lg.Error().Err(err).Msg("start failed")
		switch {
		case errors.Is(err, spec.ErrNoContainerSpec):
			writeError(w, http.StatusBadRequest, err.Error())
		case cluster.IsConflict(err):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadGateway, err.Error())
		}
		return
	}

	writeJSON(w, http.StatusCreated, SpawnResponse{
		Host:     host,
		Port:     port,
		APIToken: sess.APIToken,
	})
}

func (s *Server) statusHandler(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	sp := s.spawnerFor(user, r.URL.Query().Get("server"))

	status, err := sp.Poll(r.Context())
	if err != nil {
		lg := log.WithOwner(s.lg, sp.ServiceOwner())
		lg.Error().Err(err).Msg("poll failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	if status == nil {
		writeJSON(w, http.StatusOK, StatusResponse{Running: true})
		return
	}
	resp := StatusResponse{
		ExitCode: status.ExitCode,
		Error:    status.Err,
	}
	if !status.FinishedAt.IsZero() {
		t := status.FinishedAt
		resp.FinishedAt = &t
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) stopHandler(w http.ResponseWriter, r *http.Request) {
	user := chi.URLParam(r, "user")
	sp := s.spawnerFor(user, r.URL.Query().Get("server"))

	if err := sp.Stop(r.Context()); err != nil {
		lg := log.WithOwner(s.lg, sp.ServiceOwner())
		lg.Error().Err(err).Msg("stop failed")
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) healthzHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "healthy",
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"message": msg})
}
