package cluster

import (
	"github.com/docker/docker/errdefs"
)

// The control plane's failure surface collapses into four classes the
// lifecycle controller cares about. Everything else is a transport error
// and propagates unchanged.

// IsNotFound reports whether the error is the control plane's not-found
// response (the service is absent).
func IsNotFound(err error) bool {
	return errdefs.IsNotFound(err)
}

// IsConflict reports whether the error is a name-uniqueness conflict on
// create. This is the orchestrator's backstop against duplicate services.
func IsConflict(err error) bool {
	return errdefs.IsConflict(err)
}

// IsServerError reports whether the error is a server-side control-plane
// fault (5xx). Discovery may treat these as "absent" by policy.
func IsServerError(err error) bool {
	return errdefs.IsSystem(err) || errdefs.IsUnavailable(err)
}
