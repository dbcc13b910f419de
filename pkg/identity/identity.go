package identity

import (
	"crypto/md5"
	"encoding/hex"
)

// Hash maps a user-visible name to a cluster-safe owner hash: a fixed-length
// hex digest that is stable across process restarts and never exposes the
// raw identity. MD5 is used for naming compatibility with services deployed
// by earlier versions of the spawner, not for cryptographic strength.
func Hash(identity string) string {
	sum := md5.Sum([]byte(identity))
	return hex.EncodeToString(sum[:])
}

// ServiceName composes the cluster service name for an owner hash and
// session suffix. The result doubles as the network-reachable hostname
// inside the cluster, so it must stay unique per (owner, suffix).
func ServiceName(prefix, ownerHash, suffix string) string {
	if suffix == "" {
		suffix = DefaultSuffix
	}
	return prefix + "-" + ownerHash + "-" + suffix
}

// DefaultSuffix is the session suffix used when the caller does not name
// the session.
const DefaultSuffix = "1"
