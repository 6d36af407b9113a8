package attack

import "sync/atomic"

// Stats is a cheap, lock-free snapshot of a Controller's lifetime counters,
// mirroring the shape of metrics.Snapshot (internal/metrics/metrics.go) but
// scoped to one Controller instance rather than process-wide.
type Stats struct {
	framesSent         uint64
	retries            uint64
	arbitrationLosses  uint64
	spoofMatches       uint64
	errorCycles        uint64
	timeouts           uint64
	malformedRejected  uint64
}

func (s *Stats) incFramesSent()        { atomic.AddUint64(&s.framesSent, 1) }
func (s *Stats) addRetries(n int)      { atomic.AddUint64(&s.retries, uint64(n)) }
func (s *Stats) incArbitrationLoss()   { atomic.AddUint64(&s.arbitrationLosses, 1) }
func (s *Stats) incSpoofMatch()        { atomic.AddUint64(&s.spoofMatches, 1) }
func (s *Stats) incErrorCycle()        { atomic.AddUint64(&s.errorCycles, 1) }
func (s *Stats) incTimeout()           { atomic.AddUint64(&s.timeouts, 1) }
func (s *Stats) incMalformed()         { atomic.AddUint64(&s.malformedRejected, 1) }

// StatsSnapshot is the value copy returned to callers.
type StatsSnapshot struct {
	FramesSent        uint64
	Retries           uint64
	ArbitrationLosses uint64
	SpoofMatches      uint64
	ErrorCycles       uint64
	Timeouts          uint64
	MalformedRejected uint64
}

// Snap returns a consistent-enough snapshot of the controller's counters.
func (s *Stats) Snap() StatsSnapshot {
	return StatsSnapshot{
		FramesSent:        atomic.LoadUint64(&s.framesSent),
		Retries:           atomic.LoadUint64(&s.retries),
		ArbitrationLosses: atomic.LoadUint64(&s.arbitrationLosses),
		SpoofMatches:      atomic.LoadUint64(&s.spoofMatches),
		ErrorCycles:       atomic.LoadUint64(&s.errorCycles),
		Timeouts:          atomic.LoadUint64(&s.timeouts),
		MalformedRejected: atomic.LoadUint64(&s.malformedRejected),
	}
}
