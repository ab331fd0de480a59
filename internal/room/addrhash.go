package room

import (
	"crypto/rand"
	"encoding/binary"
	"hash/fnv"
)

// salt makes AddressHash non-reversible without pinning the hash
// algorithm used — any 64-bit keyed hash suffices.
var salt = randomSalt()

func randomSalt() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0x9e3779b97f4a7c15 // fallback constant, still keeps the hash non-trivial
	}
	return binary.BigEndian.Uint64(b[:])
}

// AddressHash returns a stable, non-reversible digest of addr, used in
// ConnectionJoin{addressHash}. Host-side duplicate
// hashes must not break forwarding — this is advisory metadata only.
func AddressHash(addr string) uint64 {
	h := fnv.New64a()
	var saltBytes [8]byte
	binary.BigEndian.PutUint64(saltBytes[:], salt)
	h.Write(saltBytes[:])
	h.Write([]byte(addr))
	return h.Sum64()
}
