package receiver

import "math/rand"

// lossChannel implements spec.md §4.6: a Bernoulli(flp) drop of every
// inbound DATA/SYN/FIN segment and a Bernoulli(rlp) drop of every
// outbound ACK. RESET is never subject to either draw. It wraps
// math/rand (not math/rand/v2's unseedable global source, and not
// crypto/rand) because the spec calls for a reproducible PRNG:
// "determinism given the seed is desirable for testability", grounded
// on the teacher's segmentManipulator.DropOnce test double generalized
// from a fixed drop-list to a probability.
type lossChannel struct {
	rng *rand.Rand
	flp float64
	rlp float64
}

func newLossChannel(seed int64, flp, rlp float64) *lossChannel {
	return &lossChannel{rng: rand.New(rand.NewSource(seed)), flp: flp, rlp: rlp}
}

// dropInbound reports whether the next inbound DATA/SYN/FIN segment
// should be dropped.
func (l *lossChannel) dropInbound() bool {
	return l.rng.Float64() < l.flp
}

// dropOutboundAck reports whether the next outbound ACK should be
// dropped.
func (l *lossChannel) dropOutboundAck() bool {
	return l.rng.Float64() < l.rlp
}
