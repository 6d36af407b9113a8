// Package platform defines the abstract hardware boundary the bit engine
// drives: a free-running cycle counter, two GPIOs (TX driven, RX read) and
// the timing constants that calibrate bit boundaries and sample points.
// Concrete implementations live alongside this file: Loopback (software,
// for tests and standalone demos) and SerialBridge (a real TX/RX pin pair
// exposed across a UART link).
package platform

// Timing bundles the calibrated constants from spec.md ss4.1/ss6. All
// values are expressed in platform clock ticks.
type Timing struct {
	BitTime     uint32 // arbitration-phase cycles per bit
	BitTimeFD   uint32 // data-phase cycles per bit when BRS=1
	SamplePoint uint32 // offset from bit start to the sample point, arbitration phase

	// SamplePointFD mirrors the data-phase sample point from spec.md's
	// calibrated-constant list (ss4.1/ss6) for callers that report or
	// validate the full timing set (e.g. cmd/canhackd's -sample-point-fd
	// flag). The engine's hot loop never reads it: it re-arms off
	// SampleToBitEndFD below, precomputed so the per-bit loop doesn't have
	// to subtract on every iteration.
	SamplePointFD uint32

	// SampleToBitEnd = BitTime - SamplePoint, precomputed since the hot
	// loop needs it every bit to re-arm the sample point after driving.
	SampleToBitEnd   uint32
	SampleToBitEndFD uint32

	// FallingEdgeRecalibrate is carried with the other calibrated constants
	// but the engine does not read it: the SOF and bitstream-match waits
	// always re-arm the clock and sample point on a recessive-to-dominant
	// RX edge, and the transmit loops never do.
	FallingEdgeRecalibrate bool
}

// Port is the platform boundary: all operations must be non-blocking with
// deterministic latency, since the bit engine calls them from a hard
// real-time busy loop with interrupts assumed masked.
type Port interface {
	// Now returns the free-running cycle counter. It wraps modulo 2^32;
	// callers must compare with Reached, never with <, >, or subtraction.
	Now() uint32

	// ResetClock resets the counter so that the current instant reads as
	// offset (normally 0), used to resynchronise to a bus edge.
	ResetClock(offset uint32)

	SetTX(bit int)
	SetTXDominant()
	SetTXRecessive()

	// GetRX samples the receive pin: 0 (dominant) or 1 (recessive).
	GetRX() int

	Timing() Timing
}

// Reached reports whether now has reached or passed deadline, tolerant of
// counter wraparound (spec.md ss9): equivalent to int32(now-deadline) >= 0.
func Reached(now, deadline uint32) bool {
	return int32(now-deadline) >= 0
}
