/*
Package cluster is the facade over the Docker Swarm control plane.

All orchestrator calls (inspect, task listing, create, remove) execute
on a bounded worker pool so blocking network I/O never stalls the
caller's goroutine beyond its own context. One authenticated connection
is created lazily on the first call and reused for the client's
lifetime; TLS parameters are supplied once at construction.

	caller ──▶ do(ctx, fn) ──▶ jobs channel ──▶ worker ──▶ engine API
	   ▲                                          │
	   └────────────── result (or ctx expiry) ◀───┘

The pool defaults to a single worker, fully serializing control-plane
calls. That trades throughput for simplicity and avoids connection
races; callers may widen it through Config.Workers.

Failure surface: transport and protocol errors propagate unchanged.
The IsNotFound, IsConflict and IsServerError predicates classify the
three response classes the lifecycle controller interprets; everything
else is opaque.
*/
package cluster
