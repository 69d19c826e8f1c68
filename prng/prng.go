// Package prng implements the two independent, per-plugin seeded random
// streams required by the runtime: a downstream-synchronous stream
// (consumed inside allocate/free/gate/advance/upstream_arb) and an
// upstream-synchronous stream (consumed inside modify_measurement). The
// two streams must never share state, because the callbacks that consume
// them race with respect to downstream traffic and their relative
// scheduling is not deterministic — only the per-stream sequence is.
//
// Seeds are derived with FNV-1a, the same hash the retained rate limiter
// uses to shard its per-domain state, mixed over the simulation seed, the
// plugin's pipeline index, and a stream discriminator so that two plugins
// in the same simulation never draw from correlated sequences.
package prng

import (
	"encoding/binary"
	"hash/fnv"
	"math/rand"
)

// Discriminator names which of a plugin's two streams a seed is for.
type Discriminator string

const (
	Downstream Discriminator = "downstream"
	Upstream   Discriminator = "upstream"
)

// DeriveSeed mixes the simulation seed, a plugin's pipeline index, and a
// stream discriminator into a single 64-bit seed.
func DeriveSeed(simSeed uint64, pluginIndex int, disc Discriminator) uint64 {
	h := fnv.New64a()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], simSeed)
	_, _ = h.Write(buf[:])
	binary.BigEndian.PutUint64(buf[:], uint64(pluginIndex))
	_, _ = h.Write(buf[:])
	_, _ = h.Write([]byte(disc))
	return h.Sum64()
}

// Stream is one deterministic sequence of pseudo-random values.
type Stream struct {
	rnd *rand.Rand
}

// NewStream builds a Stream seeded deterministically by seed: the same
// seed always produces the same sequence of Uint64/Float64 results.
func NewStream(seed uint64) *Stream {
	return &Stream{rnd: rand.New(rand.NewSource(int64(seed)))}
}

// Uint64 returns a uniformly distributed 64-bit integer.
func (s *Stream) Uint64() uint64 { return s.rnd.Uint64() }

// Float64 returns a uniformly distributed double in [0, 1).
func (s *Stream) Float64() float64 { return s.rnd.Float64() }

// PluginStreams holds the two streams owned by one plugin runtime.
type PluginStreams struct {
	DownstreamSync *Stream
	UpstreamSync   *Stream
}

// NewPluginStreams derives and constructs both streams for the plugin at
// pluginIndex within a simulation seeded by simSeed.
func NewPluginStreams(simSeed uint64, pluginIndex int) *PluginStreams {
	return &PluginStreams{
		DownstreamSync: NewStream(DeriveSeed(simSeed, pluginIndex, Downstream)),
		UpstreamSync:   NewStream(DeriveSeed(simSeed, pluginIndex, Upstream)),
	}
}
