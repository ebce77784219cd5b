package aresgo

import (
	"math/rand/v2"
	"sync"
)

// RandSource is the random-bytes collaborator spec.md §6 calls
// rand_bytes(state, out, n): owned by the channel, consumed mutably on
// every server-selection and jitter draw. Grounded on the teacher's
// random.go, which seeds and draws from math/rand on every Resolve() call
// of its Random resolver group for the same purpose (picking among peers).
type RandSource interface {
	// Byte returns a single uniformly-distributed random byte, used by
	// the rotate policy to pick a server index.
	Byte() byte

	// Uint16 returns a uniformly-distributed random 16-bit value, used by
	// the failover-retry coin flip and by timeout jitter.
	Uint16() uint16
}

// lockedRandSource is the default RandSource: math/rand/v2's generator is
// not safe for concurrent use by multiple goroutines for sequences of
// calls, so access is serialized the same way the teacher's random.go
// serializes list mutation with a mutex around the shared resolver list.
type lockedRandSource struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewRandSource returns the default RandSource implementation, seeded from
// a non-deterministic source.
func NewRandSource() RandSource {
	return &lockedRandSource{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

func (r *lockedRandSource) Byte() byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	return byte(r.rng.IntN(256))
}

func (r *lockedRandSource) Uint16() uint16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return uint16(r.rng.IntN(65536))
}
