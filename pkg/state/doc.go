/*
Package state persists the spawner's only durable fact: the opaque
cluster-assigned service identifier, keyed by service name.

The Store interface is the caller-provided load/save hook; BoltStore
keeps records in a local BoltDB file so state survives process
restarts, and MemoryStore serves embedding and tests. Everything else
the spawner knows (task status, specs) is recomputed or re-fetched.
*/
package state
