package hub

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/google/uuid"
)

// Environment variable names consumed by the single-user image. These are
// part of the contract with the spawned service and must not change.
const (
	EnvUser        = "JPY_USER"
	EnvCookieName  = "JPY_COOKIE_NAME"
	EnvBaseURL     = "JPY_BASE_URL"
	EnvHubPrefix   = "JPY_HUB_PREFIX"
	EnvHubAPIURL   = "JPY_HUB_API_URL"
	EnvAPIToken    = "JPY_API_TOKEN"
	EnvNotebookDir = "NOTEBOOK_DIR"
)

// Session carries the per-start facts owned by the hosting session/auth
// layer: who the user is, how the spawned service reports back, and the
// freshly issued credential it authenticates with.
type Session struct {
	User        string
	CookieName  string
	BaseURL     string
	HubPrefix   string
	HubAPIURL   string
	APIToken    string
	NotebookDir string
}

// Environ computes the environment injected into every spawned service.
// hubServiceName replaces the host of the hub API URL so the service can
// reach the hub through cluster service discovery rather than a raw IP.
func (s *Session) Environ(hubServiceName string) (map[string]string, error) {
	apiURL, err := PublicAPIURL(s.HubAPIURL, hubServiceName)
	if err != nil {
		return nil, err
	}

	env := map[string]string{
		EnvUser:       s.User,
		EnvCookieName: s.CookieName,
		EnvBaseURL:    s.BaseURL,
		EnvHubPrefix:  s.HubPrefix,
		EnvHubAPIURL:  apiURL,
		EnvAPIToken:   s.APIToken,
	}
	if s.NotebookDir != "" {
		env[EnvNotebookDir] = s.NotebookDir
	}
	return env, nil
}

// PublicAPIURL rewrites the hub API URL for consumption from inside the
// cluster: the host becomes the hub's service name while scheme, port and
// path are preserved.
func PublicAPIURL(apiURL, serviceName string) (string, error) {
	if serviceName == "" {
		return apiURL, nil
	}

	u, err := url.Parse(apiURL)
	if err != nil {
		return "", fmt.Errorf("invalid hub api url %q: %w", apiURL, err)
	}
	if port := u.Port(); port != "" {
		u.Host = serviceName + ":" + port
	} else {
		u.Host = serviceName
	}
	return u.String(), nil
}

// TokenIssuer mints private API tokens for spawned services.
type TokenIssuer interface {
	Issue() string
}

// UUIDIssuer issues random hex tokens.
type UUIDIssuer struct{}

func (UUIDIssuer) Issue() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
