package attack

import (
	"math/bits"

	"github.com/dene67/canhack/internal/can"
)

// AttackParams is derived from frame 1 and shared by every targeted
// primitive (spoof, spoof-error-passive, error-attack): the template the
// bit engine's rolling sampled register must match before it starts
// interpreting the bus as "our target frame is on the wire".
type AttackParams struct {
	BitstreamMask  uint64
	BitstreamMatch uint64

	// NFrameMatchBits is last_arbitration_bit+2: the number of frame bits
	// (SOF through the bit after the final arbitration bit) the template
	// covers.
	NFrameMatchBits int
}

// DeriveAttackParams builds the 64-bit (mask, match) template from frame 1
// (spec.md ss3): the register's oldest ten sampled bits must be recessive
// idle, immediately followed by frame 1's SOF-through-arbitration prefix.
// The rolling register in engine.Engine shifts newest sample into bit 0, so
// the oldest-in-window bits land at the top of the template.
func DeriveAttackParams(f *can.Frame) AttackParams {
	n := f.LastArbitrationBit + 2
	width := n + 10

	match := uint64(0x3FF) << uint(n)
	for i := 0; i < n; i++ {
		bit := uint64(f.TxBitstream[i])
		match |= bit << uint(n-1-i)
	}

	var mask uint64
	if width >= 64 {
		mask = ^uint64(0)
	} else {
		mask = uint64(1)<<uint(width) - 1
	}

	return AttackParams{BitstreamMask: mask, BitstreamMatch: match, NFrameMatchBits: n}
}

// ExpandEOFMaskBRS re-derives the BRS EOF-mask expansion the source gets
// wrong (spec.md ss9): each arbitration-phase bit in the caller-supplied
// (mask, match) pair corresponds to four data-phase samples once BRS has
// switched to the faster bit-time, so it must expand to four bits in the
// 32-bit sampling register — all-ones in the mask, four copies of the
// original bit's value in match. The source instead overwrites the
// accumulator with -1, destroying the derivation entirely; this rebuilds
// it with `|=` in spirit (here, by construction, since each output nibble
// is built fresh rather than OR'd into a stale value).
func ExpandEOFMaskBRS(mask, match uint32) (outMask, outMatch uint32) {
	nbits := bits.Len32(mask)
	for i := nbits - 1; i >= 0; i-- {
		bit := (match >> uint(i)) & 1
		outMask = outMask<<4 | 0xF
		if bit == 1 {
			outMatch = outMatch<<4 | 0xF
		} else {
			outMatch = outMatch << 4
		}
	}
	return outMask, outMatch
}
