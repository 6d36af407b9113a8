// Package decoder implements a reference bit-level CAN 2.0 / CAN-FD decoder.
// It exists purely as a test oracle: decoding the encoder's own output must
// reproduce the FrameSpec it was built from. It destuffs and parses the raw
// transmitted bit sequence independently of the encoder's internal state.
package decoder

import (
	"errors"

	"github.com/dene67/canhack/internal/can"
)

// ErrTruncated is returned when the bitstream ends before a structurally
// required field has been fully read.
var ErrTruncated = errors.New("decoder: bitstream truncated")

// ErrBadSOF is returned when bit 0 is not dominant.
var ErrBadSOF = errors.New("decoder: missing dominant SOF")

// reader walks a raw transmitted bitstream, transparently skipping ordinary
// dynamic stuff bits — the mirror image of encoder.builder.addBit.
type reader struct {
	bits     []uint8
	pos      int
	runBit   int
	runLen   int
	stuffing bool
}

func (r *reader) next() (uint8, error) {
	if r.pos >= len(r.bits) {
		return 0, ErrTruncated
	}
	bit := r.bits[r.pos]
	r.pos++

	if int(bit) == r.runBit {
		r.runLen++
	} else {
		r.runBit = int(bit)
		r.runLen = 1
	}

	if r.stuffing && r.runLen == 5 {
		if r.pos >= len(r.bits) {
			return 0, ErrTruncated
		}
		r.pos++ // skip the stuff bit itself
		r.runBit = int(bit ^ 1)
		r.runLen = 1
	}
	return bit, nil
}

func grayDecode(g uint8) uint8 {
	g &= 7
	b2 := (g >> 2) & 1
	b1 := ((g >> 1) & 1) ^ b2
	b0 := (g & 1) ^ b1
	return b2<<2 | b1<<1 | b0
}

// Decode reconstructs the FrameSpec that produced bits, reading the fields
// in spec.md ss4.2's emission order. It trusts field boundaries derived from
// the fields already decoded (ide, fd) rather than re-deriving landmarks.
func Decode(bits []uint8) (can.FrameSpec, error) {
	var spec can.FrameSpec
	r := &reader{bits: bits, runBit: -1, stuffing: true}

	sof, err := r.next()
	if err != nil {
		return spec, err
	}
	if sof != can.Dominant {
		return spec, ErrBadSOF
	}

	var ida uint16
	for i := 0; i < 11; i++ {
		bit, err := r.next()
		if err != nil {
			return spec, err
		}
		ida = ida<<1 | uint16(bit)
	}
	spec.IDA = ida

	srrOrR1, err := r.next()
	if err != nil {
		return spec, err
	}
	ideBit, err := r.next()
	if err != nil {
		return spec, err
	}
	spec.IDE = ideBit == can.Recessive

	var rtrFromExtended uint8
	if spec.IDE {
		var idb uint32
		for i := 0; i < 18; i++ {
			bit, err := r.next()
			if err != nil {
				return spec, err
			}
			idb = idb<<1 | uint32(bit)
		}
		spec.IDB = idb
		rtrFromExtended, err = r.next()
		if err != nil {
			return spec, err
		}
	}

	// r1/FDF: present whenever ide is set, or when the first bit read here
	// is recessive (FDF=1). Absent only for the base-classical case, where
	// the bit just read IS r0 itself.
	var fd bool
	var r0 uint8
	if spec.IDE {
		fdf, err := r.next()
		if err != nil {
			return spec, err
		}
		fd = fdf == can.Recessive
		r0, err = r.next()
		if err != nil {
			return spec, err
		}
	} else {
		x, err := r.next()
		if err != nil {
			return spec, err
		}
		if x == can.Recessive {
			fd = true
			r0, err = r.next()
			if err != nil {
				return spec, err
			}
		} else {
			r0 = x
		}
	}
	_ = r0
	spec.FD = fd

	if spec.IDE {
		spec.RTR = rtrFromExtended == can.Recessive && !fd
	} else {
		spec.RTR = srrOrR1 == can.Recessive && !fd
	}

	if fd {
		brsBit, err := r.next()
		if err != nil {
			return spec, err
		}
		spec.BRS = brsBit == can.Recessive
		esiBit, err := r.next()
		if err != nil {
			return spec, err
		}
		spec.ESI = esiBit == can.Dominant // inverted encoding
	}

	var dlc uint8
	for i := 0; i < 4; i++ {
		bit, err := r.next()
		if err != nil {
			return spec, err
		}
		dlc = dlc<<1 | bit
	}
	spec.DLC = dlc

	length := spec.DataLen()
	for byteIdx := 0; byteIdx < length; byteIdx++ {
		var v uint8
		for bitIdx := 0; bitIdx < 8; bitIdx++ {
			if fd && byteIdx == length-1 && bitIdx == 7 {
				r.stuffing = false
			}
			bit, err := r.next()
			if err != nil {
				return spec, err
			}
			v = v<<1 | bit
		}
		spec.Data[byteIdx] = v
	}

	if fd {
		r.stuffing = false
		if _, err := r.next(); err != nil { // first FSB
			return spec, err
		}

		var grayVal uint8
		for i := 0; i < 3; i++ {
			bit, err := r.next()
			if err != nil {
				return spec, err
			}
			grayVal = grayVal<<1 | bit
		}
		_ = grayDecode(grayVal)

		if _, err := r.next(); err != nil { // parity
			return spec, err
		}
		if _, err := r.next(); err != nil { // second FSB
			return spec, err
		}

		width := 17
		if spec.DLC > 10 {
			width = 21
		}
		count := 0
		for i := 0; i < width; i++ {
			if _, err := r.next(); err != nil {
				return spec, err
			}
			count++
			if count%4 == 0 && i+1 < width {
				if _, err := r.next(); err != nil { // FSB
					return spec, err
				}
			}
		}
	} else {
		for i := 0; i < 15; i++ {
			if _, err := r.next(); err != nil {
				return spec, err
			}
		}
		r.stuffing = false
	}

	return spec, nil
}
