/*
Package metrics provides Prometheus instrumentation for the spawner.

Lifecycle operations are counted by outcome (created, existing, error,
removed, noop) and start latency is observed as a histogram, since
cold starts include image pulls and are the slow path worth watching.
A dedicated counter tracks control-plane server errors reinterpreted
as "service absent" by the discovery policy, because that leniency can
orphan services and deserves visibility.

Metrics are exposed through Handler, mounted at /metrics by the API
server.
*/
package metrics
