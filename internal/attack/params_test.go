package attack

import (
	"testing"

	"github.com/dene67/canhack/internal/can"
	"github.com/dene67/canhack/internal/encoder"
)

func TestDeriveAttackParamsMatchesIdentifierPrefix(t *testing.T) {
	spec := can.FrameSpec{IDA: 0x123, DLC: 1}
	spec.Data[0] = 0xA5
	f, err := encoder.Encode(spec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}

	params := DeriveAttackParams(&f)
	n := f.LastArbitrationBit + 2
	if params.NFrameMatchBits != n {
		t.Fatalf("NFrameMatchBits = %d, want %d", params.NFrameMatchBits, n)
	}

	// Top ten bits of the match template must be the 0x3FF recessive-idle
	// prefix, per spec.md ss3.
	top10 := (params.BitstreamMatch >> uint(n)) & 0x3FF
	if top10 != 0x3FF {
		t.Fatalf("top 10 match bits = %#x, want 0x3FF", top10)
	}

	// Build a rolling register exactly as the engine would after the idle
	// prefix and frame 1's arbitration prefix have all been sampled, and
	// confirm it satisfies (mask, match).
	var reg uint64
	for i := 0; i < 10; i++ {
		reg = reg<<1 | 1 // ten recessive idle bits
	}
	for i := 0; i < n; i++ {
		reg = reg<<1 | uint64(f.TxBitstream[i])
	}
	if reg&params.BitstreamMask != params.BitstreamMatch {
		t.Fatalf("constructed register does not satisfy derived template:\n reg  =%#x\n mask =%#x\n match=%#x",
			reg, params.BitstreamMask, params.BitstreamMatch)
	}
}

func TestDeriveAttackParamsIdempotentAndFrameOnly(t *testing.T) {
	spec := can.FrameSpec{IDA: 0x7FF, IDE: true, IDB: 0x3FFFF, RTR: true}
	f, err := encoder.Encode(spec)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	p1 := DeriveAttackParams(&f)
	p2 := DeriveAttackParams(&f)
	if p1 != p2 {
		t.Fatalf("DeriveAttackParams is not idempotent: %+v vs %+v", p1, p2)
	}
}

func TestExpandEOFMaskBRSReplicatesEachBitFourfold(t *testing.T) {
	// A 2-bit arbitration mask/match (0b10, matching a recessive-then-
	// dominant pair) should expand to 8 bits: 0xF0 in match (first original
	// bit=1 -> 0xF nibble, second bit=0 -> 0x0 nibble), and all-ones mask
	// across those 8 bits.
	mask := uint32(0b11)
	match := uint32(0b10)
	outMask, outMatch := ExpandEOFMaskBRS(mask, match)

	if outMask != 0xFF {
		t.Fatalf("outMask = %#x, want 0xFF", outMask)
	}
	wantMatch := uint32(0xF0)
	if outMatch != wantMatch {
		t.Fatalf("outMatch = %#x, want %#x", outMatch, wantMatch)
	}
}

func TestExpandEOFMaskBRSAllOnesMatch(t *testing.T) {
	mask := uint32(0b111)
	match := uint32(0b111)
	outMask, outMatch := ExpandEOFMaskBRS(mask, match)
	if outMask != 0xFFF {
		t.Fatalf("outMask = %#x, want 0xFFF", outMask)
	}
	if outMatch != 0xFFF {
		t.Fatalf("outMatch = %#x, want 0xFFF (all bits were 1)", outMatch)
	}
}
