// Package identity maps user-visible names to cluster-safe service
// names. The owner hash is deterministic and one-way: the same user
// always gets the same fragment, and the fragment never reveals the
// user.
package identity
