/*
Package api serves the spawner lifecycle over HTTP.

The hosting hub drives one resource per user:

	POST   /users/{user}/server   start (or attach); body carries optional overrides
	GET    /users/{user}/server   poll the single task
	DELETE /users/{user}/server   stop and remove (idempotent)
	GET    /healthz               liveness
	GET    /metrics               Prometheus metrics

Spawn responses return the in-cluster hostname, port and the API token
the service authenticates with: recovered from the running service
when one already exists, freshly issued otherwise. All spawners created
by one server share a keyed mutex, so concurrent requests for the same
user serialize instead of racing the create path.
*/
package api
