package sim

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/google/uuid"
)

// RandomAlgorithmSHA256 is the only supported generator algorithm.
const RandomAlgorithmSHA256 = "sha256"

// maxRandomBound is the largest bound accepted by NextInt (2^32).
const maxRandomBound = 1 << 32

// ErrRandomCounterExhausted is raised (as a panic) when the generator counter
// would leave its representable range. Unreachable in practice.
var ErrRandomCounterExhausted = errors.New("random generator counter exhausted")

// RandomState is the persisted state of an exercise's generator.
// It lives inside the snapshot so every participant draws the same values.
type RandomState struct {
	Algorithm string `json:"algorithm"`
	Counter   uint64 `json:"counter"`
}

// NewRandomState returns a fresh state for the default algorithm.
func NewRandomState() RandomState {
	return RandomState{Algorithm: RandomAlgorithmSHA256}
}

// Generator produces reproducible pseudo-random values from a RandomState.
//
// Every draw hashes the exercise's stable identifier concatenated with the
// current counter, then increments the counter. The output is reproducible,
// NOT unpredictable: never use it for secrets.
//
// Thread-safety: NOT thread-safe. Must be called from single goroutine.
type Generator struct {
	seed  string
	state *RandomState
}

// NewGenerator binds a generator to seed and the state it advances.
// Panics if state is nil or names an unknown algorithm.
func NewGenerator(seed string, state *RandomState) *Generator {
	if state == nil {
		panic("NewGenerator: state must not be nil")
	}
	if state.Algorithm == "" {
		state.Algorithm = RandomAlgorithmSHA256
	}
	if state.Algorithm != RandomAlgorithmSHA256 {
		panic(fmt.Sprintf("NewGenerator: unknown algorithm %q", state.Algorithm))
	}
	return &Generator{seed: seed, state: state}
}

// Advance returns the digest for the current counter and increments it.
func (g *Generator) Advance() [sha256.Size]byte {
	if g.state.Counter == math.MaxUint64 {
		panic(fmt.Errorf("%w: seed %q", ErrRandomCounterExhausted, g.seed))
	}
	digest := sha256.Sum256([]byte(g.seed + strconv.FormatUint(g.state.Counter, 10)))
	g.state.Counter++
	return digest
}

// NextInt returns a value in [0, bound). Bound must be in [1, 2^32].
func (g *Generator) NextInt(bound uint64) uint64 {
	if bound == 0 || bound > maxRandomBound {
		panic(fmt.Sprintf("NextInt: bound must be in [1, 2^32], got %d", bound))
	}
	digest := g.Advance()
	return uint64(binary.LittleEndian.Uint32(digest[:4])) % bound
}

// NextFloat returns a value in [0, 1) with 32 bits of resolution.
func (g *Generator) NextFloat() float64 {
	return float64(g.NextInt(maxRandomBound)) / maxRandomBound
}

// NextBool returns true with probability p.
func (g *Generator) NextBool(p float64) bool {
	return g.NextFloat() < p
}

// NextUUID formats 16 digest bytes as a version-4 shaped identifier.
func (g *Generator) NextUUID() string {
	digest := g.Advance()
	var id uuid.UUID
	copy(id[:], digest[:16])
	id[6] = (id[6] & 0x0f) | 0x40 // version 4
	id[8] = (id[8] & 0x3f) | 0x80 // RFC 4122 variant
	return id.String()
}

// Pick returns a uniformly chosen index into a collection of size n.
func (g *Generator) Pick(n int) int {
	if n <= 0 {
		panic(fmt.Sprintf("Pick: n must be > 0, got %d", n))
	}
	return int(g.NextInt(uint64(n)))
}
