package engine

import "errors"

// Sentinel errors surfaced by engine primitives, classified per spec.md
// ss7: every primitive returns one of these (wrapped in a bool false at
// the attack.Controller facade) rather than succeeding.
var (
	// ErrTimeout is returned when the watchdog counter reaches zero inside
	// a primitive: in the SOF wait, while transmitting, while waiting for
	// the EOF/IFS window or holding a dominant burst, and in the square-wave
	// and loopback helpers. The identifier-match wait reports ErrNoMatch
	// instead.
	ErrTimeout = errors.New("engine: watchdog timeout waiting for bus activity")

	// ErrArbitrationLost is returned when a sampled RX bit disagrees with
	// the bit we are driving during transmission — the bus wins.
	ErrArbitrationLost = errors.New("engine: arbitration lost or bit error during transmit")

	// ErrNoMatch is returned by spoof/error-attack primitives when the
	// target identifier pattern never appeared before the watchdog expired.
	ErrNoMatch = errors.New("engine: no bitstream match before timeout")
)
