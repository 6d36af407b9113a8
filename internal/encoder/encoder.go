// Package encoder builds bit-accurate CAN 2.0 and CAN-FD wire bitstreams
// from a can.FrameSpec: arbitration, control, data, CRC (with ordinary and
// FD fixed stuff bits), ACK, EOF and IFS, plus the landmark indices the bit
// engine needs to drive and sample the stream.
package encoder

import (
	"errors"
	"fmt"

	"github.com/dene67/canhack/internal/can"
)

// MaxBits bounds the longest bitstream Encode will produce (comfortably
// above the 700-bit CAN-FD floor from spec.md ss2).
const MaxBits = 1024

// ErrFrameTooLong is returned when a FrameSpec would encode past MaxBits.
var ErrFrameTooLong = errors.New("encoder: frame exceeds max bit capacity")

// builder accumulates a frame's bitstream, tracking CRC and bit-stuffing
// state as each bit is appended. It implements the shared add_bit procedure
// from spec.md ss4.2: a bit is appended, CRC is stepped if crcing, and — if
// stuffing is active — a complementary stuff bit follows a run of five.
type builder struct {
	bits  []uint8
	stuff []bool

	crcReg   uint32
	crcWidth uint
	crcPoly  uint32
	crcing   bool
	stuffing bool
	fd       bool

	runBit int8 // -1 until the first bit is added
	runLen int

	stuffCount int
}

func (b *builder) idx() int { return len(b.bits) - 1 }

// addBit appends a logical frame bit: arbitration, control, DLC, data, or
// (for CAN 2.0 only) the CRC field itself, which still participates in
// ordinary dynamic stuffing.
func (b *builder) addBit(bit uint8) {
	b.bits = append(b.bits, bit)
	b.stuff = append(b.stuff, false)
	if b.crcing {
		b.crcReg = stepCRC(b.crcReg, bit, b.crcWidth, b.crcPoly)
	}
	if int8(bit) == b.runBit {
		b.runLen++
	} else {
		b.runBit = int8(bit)
		b.runLen = 1
	}
	if b.stuffing && b.runLen == 5 {
		b.insertStuffBit(bit ^ 1)
	}
}

// insertStuffBit appends an ordinary (run-triggered) stuff bit. In FD this
// also steps the CRC (ss3 invariant); in CAN 2.0 it never does, since
// classic CRC is computed over the unstuffed logical bit sequence.
func (b *builder) insertStuffBit(bit uint8) {
	b.bits = append(b.bits, bit)
	b.stuff = append(b.stuff, true)
	b.stuffCount++
	if b.fd && b.crcing {
		b.crcReg = stepCRC(b.crcReg, bit, b.crcWidth, b.crcPoly)
	}
	b.runBit = int8(bit)
	b.runLen = 1
}

// addFixedStuffBit appends an FD fixed stuff bit (FSB): never subject to
// run-length detection, never steps CRC (it only ever occurs once ordinary
// CRC accumulation has stopped).
func (b *builder) addFixedStuffBit(bit uint8) {
	b.bits = append(b.bits, bit)
	b.stuff = append(b.stuff, true)
	b.stuffCount++
	b.runBit = int8(bit)
	b.runLen = 1
}

// appendPlain appends wire content that is neither a logical CRC-stepped
// bit nor subject to stuffing: the FD stuff-count field, its parity bit,
// the frozen CRC value, and everything from the CRC delimiter onward.
func (b *builder) appendPlain(bit uint8) {
	b.bits = append(b.bits, bit)
	b.stuff = append(b.stuff, false)
}

func boolBit(v bool) uint8 {
	if v {
		return 1
	}
	return 0
}

// Encode builds the full transmitted bitstream for spec, per spec.md ss4.2.
func Encode(spec can.FrameSpec) (can.Frame, error) {
	b := &builder{runBit: -1, fd: spec.FD, crcing: true, stuffing: true}
	if spec.FD {
		if spec.DLC <= 10 {
			b.crcWidth, b.crcPoly, b.crcReg = crc17Width, crc17Poly, crc17Init
		} else {
			b.crcWidth, b.crcPoly, b.crcReg = crc21Width, crc21Poly, crc21Init
		}
	} else {
		b.crcWidth, b.crcPoly, b.crcReg = crc15Width, crc15Poly, 0
	}

	var f can.Frame
	f.BRSBit = can.NoBit

	// 1. SOF
	b.addBit(can.Dominant)

	// 2. ID-A, 11 bits MSB first
	for i := 10; i >= 0; i-- {
		b.addBit(uint8((spec.IDA >> uint(i)) & 1))
	}

	// 3. RTR/SRR bit
	b.addBit(boolBit(spec.IDE || (spec.RTR && !spec.FD)))

	// 4. IDE
	b.addBit(boolBit(spec.IDE))
	f.LastArbitrationBit = b.idx()

	// 5. Extended: ID-B, then RTR/RRS
	if spec.IDE {
		for i := 17; i >= 0; i-- {
			b.addBit(uint8((spec.IDB >> uint(i)) & 1))
		}
		b.addBit(boolBit(spec.RTR && !spec.FD))
		f.LastArbitrationBit = b.idx()
	}

	// 6. r1 / FDF
	switch {
	case spec.FD:
		b.addBit(can.Recessive) // FDF = 1
	case spec.IDE:
		b.addBit(can.Dominant) // r1 = 0
	}

	// 7. r0
	b.addBit(can.Dominant)

	// 8. FD only: BRS, ESI
	if spec.FD {
		b.addBit(boolBit(spec.BRS))
		if spec.BRS {
			f.BRSBit = b.idx()
		}
		// Inverted encoding (spec.md ss9): esi=true transmits ESI dominant.
		if spec.ESI {
			b.addBit(can.Dominant)
		} else {
			b.addBit(can.Recessive)
		}
	}

	// 9. DLC, 4 bits MSB first
	for i := 3; i >= 0; i-- {
		b.addBit(uint8((spec.DLC >> uint(i)) & 1))
	}
	f.LastDLCBit = b.idx()

	// 10. Data
	length := spec.DataLen()
	if length > 0 {
		for byteIdx := 0; byteIdx < length; byteIdx++ {
			bv := spec.Data[byteIdx]
			for bitIdx := 7; bitIdx >= 0; bitIdx-- {
				if spec.FD && byteIdx == length-1 && bitIdx == 0 {
					// Disable stuffing for the final payload bit so the
					// first FSB can immediately follow (ss4.2 step 10).
					b.stuffing = false
				}
				b.addBit((bv >> uint(bitIdx)) & 1)
			}
		}
		f.LastDataBit = b.idx()
	} else {
		f.LastDataBit = f.LastDLCBit
	}

	if spec.FD {
		// CRC is computed over SOF..data (including ordinary dynamic stuff
		// bits); everything from here on is structural wire content, not
		// folded back into the register.
		b.crcing = false
		b.stuffing = false
		crcFinal := b.crcReg

		lastDataVal := b.bits[f.LastDataBit]
		b.addFixedStuffBit(lastDataVal ^ 1) // first FSB
		b.stuffCount--                      // the first FSB is not counted (step 12.b)
		f.StuffCount = b.stuffCount          // D, before the second FSB and per-4-bit CRC FSBs add to b.stuffCount

		grayVal := grayEncode(uint8(b.stuffCount % 8))
		for i := 2; i >= 0; i-- {
			b.appendPlain((grayVal >> uint(i)) & 1)
		}
		parity := uint8(b.stuffCount & 1)
		b.appendPlain(parity)
		b.addFixedStuffBit(parity ^ 1) // second FSB

		width := int(b.crcWidth)
		for i := 0; i < width; i++ {
			bit := uint8((crcFinal >> uint(width-1-i)) & 1)
			b.appendPlain(bit)
			if (i+1)%4 == 0 && i+1 < width {
				b.addFixedStuffBit(bit ^ 1)
			}
		}
		f.LastCRCBit = b.idx()
	} else {
		// CAN 2.0: stop CRC accumulation, emit the register MSB-first.
		// Ordinary dynamic stuffing remains active through this field.
		b.crcing = false
		for i := 0; i < crc15Width; i++ {
			b.addBit(uint8((b.crcReg >> uint(crc15Width-1-i)) & 1))
		}
		f.LastCRCBit = b.idx()
		f.StuffCount = b.stuffCount
	}
	b.stuffing = false // stuffing ends at last_crc_bit inclusive

	// 14. CRC delimiter, ACK, ACK delimiter, EOF x7, IFS x3
	b.appendPlain(can.Recessive) // CRC delimiter
	b.appendPlain(can.Dominant)  // ACK, self-driven dominant
	b.appendPlain(can.Recessive) // ACK delimiter
	for i := 0; i < 7; i++ {
		b.appendPlain(can.Recessive)
		if i == 6 {
			f.LastEOFBit = b.idx()
		}
	}
	for i := 0; i < 3; i++ {
		b.appendPlain(can.Recessive) // IFS
	}

	if len(b.bits) > MaxBits {
		return can.Frame{}, fmt.Errorf("%w: %d bits", ErrFrameTooLong, len(b.bits))
	}

	f.TxBitstream = b.bits
	f.StuffBit = b.stuff
	f.TxBits = len(b.bits)
	f.TxArbitrationBits = f.LastArbitrationBit + 1
	f.FD = spec.FD
	f.BRS = spec.FD && spec.BRS
	f.FrameSet = true
	return f, nil
}
