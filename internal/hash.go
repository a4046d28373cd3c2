package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"

	"github.com/cespare/xxhash/v2"
)

// SHA256sum computes a cryptographic hash. Used by proof-of-work puzzles
// where the client has to find a preimage with a given prefix.
func SHA256sum(text string) string {
	hash := sha256.New()
	hash.Write([]byte(text))
	return hex.EncodeToString(hash.Sum(nil))
}

// FastHash is a non-cryptographic hash for cache keys, config versions and
// other places where collisions only cost a cache miss.
func FastHash(text string) string {
	h := xxhash.Sum64String(text)
	return strconv.FormatUint(h, 16)
}

// Shard maps key onto one of n buckets.
func Shard(key string, n int) int {
	return int(xxhash.Sum64String(key) % uint64(n))
}
