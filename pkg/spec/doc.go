/*
Package spec builds immutable service-creation requests.

The builder merges three layers, later overriding earlier:

 1. the static container/resource/network templates from configuration
    (deep-copied; the stored config is never mutated),
 2. per-session overrides, when the spawner is configured to honor them
    (each non-empty field replaces its template counterpart wholesale),
 3. the required environment computed from the hub session, which wins
    over any template- or override-supplied value with the same key.

Mount sources and driver device paths substitute the {username}
placeholder with the owner hash before submission, so per-user volumes
are namespaced without exposing the raw identity. The image is resolved
from override, template, then the configured fallback; a cold start
without any of the three fails with ErrNoContainerSpec.

Naming is deliberately out of scope: a session's custom server name
changes the service name computed by the lifecycle controller, not the
spec.
*/
package spec
