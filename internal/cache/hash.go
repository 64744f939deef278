package cache

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Hash returns the storage key for an input key: the 64-bit xxHash of the
// key rendered as 16 lowercase hex characters. Distinct keys that collide
// share one entry.
func Hash(key string) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(key))
}
