/*
Package spawner implements the per-user service lifecycle controller.

Given a user identity, the spawner ensures exactly one long-running
containerized service exists for that (user, session) pair inside the
Swarm cluster: it discovers existing state, creates the service when
absent, recovers credentials when present, and exposes poll/stop.

# Architecture

	┌─────────────────────── LIFECYCLE ───────────────────────┐
	│                                                          │
	│   Start(session, overrides)                              │
	│        │                                                 │
	│        ▼                                                 │
	│   ┌─────────┐   absent   ┌──────────────┐                │
	│   │discover ├───────────▶│ spec.Builder │                │
	│   └────┬────┘            └──────┬───────┘                │
	│        │ present                │ create                 │
	│        ▼                        ▼                        │
	│   recover JPY_API_TOKEN    cluster.Client ──▶ Swarm      │
	│        │                        │                        │
	│        └────────┬───────────────┘                        │
	│                 ▼                                        │
	│        (service name, port)                              │
	│                                                          │
	└──────────────────────────────────────────────────────────┘

Every collaborator is injected: the cluster client facade, the state
store and the spec builder have no package-level state, so independent
controllers (and test runs) never share hidden mutable state.

# Naming

Services are named {prefix}-{owner hash}-{session suffix}. The owner
hash is an irreversible digest of the user name, so raw identities never
reach cluster resource names, mount paths or logs. The service name is
also the hostname returned by Start: the cluster's own service discovery
resolves it, so no IP lookup happens here.

# Concurrency

Start and Stop serialize per service name through a keyed mutex, closing
the check-then-act window between discovery and creation within one
process. Across processes the orchestrator's name-uniqueness constraint
is the backstop: a lost create race surfaces as a conflict, which Start
resolves by re-discovering once and attaching to the winner.

# Discovery policy

A not-found from the control plane clears cached state and reports the
service absent. A server-side fault (5xx) is, by default, treated the
same way so a transient control-plane error cannot permanently block
re-creation; the documented risk is orphaning a healthy service. The
TreatServerErrorAsAbsent configuration flag disables the leniency.

# Replica contract

Each service runs with replica count fixed at 1. Poll inspects the
single task and fails loudly if the cluster ever reports more than one,
rather than silently picking the first.
*/
package spawner
