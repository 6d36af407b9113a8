package platform

// Loopback is a software Port: TX is mirrored back onto RX through an
// optional Disturb hook, and the clock is a counter that advances one tick
// per Now() call. That makes BitTime/SamplePoint count engine loop
// iterations rather than wall-clock cycles — deterministic and fast enough
// to drive the bit engine's busy loops from tests without real delays.
//
// Grounded on the in-memory bus pattern from the pack's CAN library
// (a single-process stand-in for a bus with no real transceiver), adapted
// from frame-level channels down to a single-bit, single-instance,
// call-driven clock since the bit engine owns TX/RX exclusively and must
// never see goroutines or channels inside a primitive.
type Loopback struct {
	timing Timing
	now    uint32
	tx     int

	// Disturb, if set, is consulted on every GetRX to compute the sampled
	// RX level from the currently driven TX level and the current clock —
	// the hook tests use to simulate arbitration loss, bit errors, or a
	// rival frame appearing on the bus.
	Disturb func(tx int, now uint32) int
}

// NewLoopback builds a Loopback with the given timing and TX idle
// (recessive).
func NewLoopback(timing Timing) *Loopback {
	return &Loopback{timing: timing, tx: Recessive}
}

func (l *Loopback) Now() uint32             { n := l.now; l.now++; return n }
func (l *Loopback) ResetClock(offset uint32) { l.now = offset }
func (l *Loopback) Timing() Timing          { return l.timing }

func (l *Loopback) SetTX(bit int)    { l.tx = bit }
func (l *Loopback) SetTXDominant()   { l.tx = Dominant }
func (l *Loopback) SetTXRecessive()  { l.tx = Recessive }

func (l *Loopback) GetRX() int {
	if l.Disturb != nil {
		return l.Disturb(l.tx, l.now)
	}
	return l.tx
}

// Dominant and Recessive mirror can.Dominant/can.Recessive so platform
// tests and implementations don't need to import the can package just for
// these two constants.
const (
	Dominant  = 0
	Recessive = 1
)
