package cache

import (
	"encoding/binary"
	"fmt"

	"github.com/go-crypt/x/blake2b"
)

// Key prefix for cached responses
const responsePrefix = "resp"

// hashRequestKey reduces a request identity to a stable 64-bit value using
// BLAKE2b hashing. Identical identities always produce identical hashes.
func hashRequestKey(key string) uint64 {
	h, _ := blake2b.New(8, nil) // 8 bytes = 64 bits
	h.Write([]byte(key))
	sum := h.Sum(nil)
	return binary.LittleEndian.Uint64(sum)
}

// makeResponseKey generates the store key for a cached response.
func makeResponseKey(key string) []byte {
	return []byte(fmt.Sprintf("%s:%d", responsePrefix, hashRequestKey(key)))
}
