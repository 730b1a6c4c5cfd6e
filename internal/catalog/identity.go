package catalog

import "strings"

const (
	fnvOffsetBasis uint64 = 14695981039346656037
	fnvPrime       uint64 = 1099511628211
)

// DeriveID hashes the "@"-joined parts into a stable 63-bit identity.
// The result is masked to fit a signed sqlite INTEGER column; the hash
// function is frozen so ids stay compatible with existing catalogs.
func DeriveID(parts ...string) int64 {
	key := strings.Join(parts, "@")

	hash := fnvOffsetBasis
	for i := 0; i < len(key); i++ {
		hash ^= uint64(key[i])
		hash *= fnvPrime
	}

	return int64(hash & 0x7FFFFFFFFFFFFFFF)
}
