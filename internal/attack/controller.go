// Package attack is the thin facade over internal/engine: it owns the two
// frame slots and the derived AttackParams, and exposes the five attack
// primitives plus the calibration helpers as a single object constructed
// with functional options — the same ServerOption idiom the teacher uses
// for internal/server.Server.
package attack

import (
	"errors"
	"log/slog"

	"github.com/dene67/canhack/internal/can"
	"github.com/dene67/canhack/internal/encoder"
	"github.com/dene67/canhack/internal/engine"
	"github.com/dene67/canhack/internal/logging"
	"github.com/dene67/canhack/internal/metrics"
	"github.com/dene67/canhack/internal/platform"
)

// ErrBadFrameIndex is returned by SetFrame/GetFrame for any index other
// than 0 or 1 (frame 1, frame 2 — Janus's two slots).
var ErrBadFrameIndex = errors.New("attack: frame index must be 0 or 1")

// Controller wraps one engine.Engine, owning the frame slots, the derived
// AttackParams and its own lifetime counters. It is not safe for
// concurrent use by multiple goroutines while a primitive is in flight,
// mirroring engine.Engine's own constraint.
type Controller struct {
	eng    *engine.Engine
	frames [2]can.Frame
	params AttackParams

	logger         *slog.Logger
	metricsEnabled bool
	stats          Stats
}

// Option configures a Controller at construction time.
type Option func(*Controller)

// WithLogger overrides the controller's logger (defaults to logging.L()).
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics enables or disables Prometheus counter updates; logging
// still happens regardless, same as the teacher's server always logs but
// only increments metrics when a registry is wired.
func WithMetrics(enabled bool) Option {
	return func(c *Controller) { c.metricsEnabled = enabled }
}

// NewController binds a Controller to port, applying opts in order.
func NewController(port platform.Port, opts ...Option) *Controller {
	c := &Controller{
		eng:            engine.New(port),
		logger:         logging.L(),
		metricsEnabled: true,
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Init clears both frame slots and the derived attack masks, per
// spec.md ss4.4's init().
func (c *Controller) Init() {
	c.frames[0] = can.Frame{}
	c.frames[1] = can.Frame{}
	c.params = AttackParams{}
}

// SetTimeout arms the watchdog consumed by every subsequent primitive.
func (c *Controller) SetTimeout(t uint32) { c.eng.SetTimeout(t) }

// Stop requests cooperative cancellation of whatever primitive is running.
func (c *Controller) Stop() {
	c.eng.Stop()
	c.logger.Info("attack_stop")
}

// SetFrame encodes spec into frame slot frameIndex (0 or 1).
func (c *Controller) SetFrame(spec can.FrameSpec, frameIndex int) error {
	if frameIndex != 0 && frameIndex != 1 {
		c.incMalformed()
		return ErrBadFrameIndex
	}
	f, err := encoder.Encode(spec)
	if err != nil {
		c.incMalformed()
		c.logger.Warn("set_frame_failed", "index", frameIndex, "error", err)
		return err
	}
	c.frames[frameIndex] = f
	c.logger.Info("set_frame", "index", frameIndex, "bits", f.TxBits, "fd", f.FD, "brs", f.BRS)
	return nil
}

// GetFrame returns a defensive copy of frame 1 (second=false) or frame 2
// (second=true): the caller can inspect or mutate it freely without
// disturbing the frame slot a subsequent Send/Spoof call will use.
func (c *Controller) GetFrame(second bool) *can.Frame {
	f := c.frames[0]
	if second {
		f = c.frames[1]
	}
	g := f.CopyShallow()
	return &g
}

// SetAttackMasks derives AttackParams from frame 1. Idempotent: calling it
// twice without an intervening SetFrame(..., 0) produces identical masks.
func (c *Controller) SetAttackMasks() {
	c.params = DeriveAttackParams(&c.frames[0])
	c.logger.Info("set_attack_masks", "n_frame_match_bits", c.params.NFrameMatchBits)
}

// Stats returns a snapshot of this controller's lifetime counters.
func (c *Controller) Stats() StatsSnapshot { return c.stats.Snap() }

// SendFrame drives frame 1 onto the bus, retrying the SOF wait up to
// retries+1 times on arbitration loss.
func (c *Controller) SendFrame(retries int) (bool, error) {
	ok, err := c.eng.SendFrame(&c.frames[0], retries)
	c.reportOutcome("send_frame", retries, ok, err)
	return ok, err
}

// SendJanusFrame drives the three-phase Janus bit pattern from frame 1 and
// frame 2 simultaneously.
func (c *Controller) SendJanusFrame(jt engine.JanusTiming, retries int) (bool, error) {
	ok, err := c.eng.SendJanusFrame(&c.frames[0], &c.frames[1], jt, retries)
	c.reportOutcome("send_janus_frame", retries, ok, err)
	return ok, err
}

// SpoofFrame waits for frame 1's identifier template to appear on the bus,
// then immediately transmits frame 1 (plain) or frame 1+2 (Janus, when
// janus is true).
func (c *Controller) SpoofFrame(jt engine.JanusTiming, retries int, janus bool) (bool, error) {
	f2 := &c.frames[1]
	if !janus {
		f2 = nil
	}
	ok, err := c.eng.SpoofFrame(c.params.BitstreamMask, c.params.BitstreamMatch, &c.frames[0], f2, jt, retries)
	if ok {
		c.stats.incSpoofMatch()
		if c.metricsEnabled {
			metrics.IncSpoofMatch()
		}
	}
	c.reportOutcome("spoof_frame", retries, ok, err)
	return ok, err
}

// SpoofFrameErrorPassive waits for frame 1's identifier template, then
// overwrites the post-identifier region of the live frame in place.
func (c *Controller) SpoofFrameErrorPassive(loopbackOffset uint32) (bool, error) {
	ok, err := c.eng.SpoofFrameErrorPassive(c.params.BitstreamMask, c.params.BitstreamMatch, &c.frames[0], c.params.NFrameMatchBits, loopbackOffset)
	if ok {
		c.stats.incSpoofMatch()
		if c.metricsEnabled {
			metrics.IncSpoofMatch()
		}
	}
	c.reportOutcome("spoof_frame_error_passive", 0, ok, err)
	return ok, err
}

// ErrorAttack waits for frame 1's identifier template, optionally injects
// an active-error flag, then destroys the EOF/IFS window `repeat` times.
// If frame 1 is a BRS frame, eofMask/eofMatch are expanded from
// arbitration-phase bit width to data-phase bit width first (spec.md ss9).
func (c *Controller) ErrorAttack(repeat int, injectError bool, eofMask, eofMatch uint32) (bool, error) {
	if c.frames[0].BRS {
		eofMask, eofMatch = ExpandEOFMaskBRS(eofMask, eofMatch)
	}
	ok, err := c.eng.ErrorAttack(c.params.BitstreamMask, c.params.BitstreamMatch, injectError, repeat, eofMask, eofMatch)
	if ok {
		c.stats.incErrorCycle()
		if c.metricsEnabled {
			metrics.IncErrorAttackCycle()
		}
	}
	c.reportOutcome("error_attack", 0, ok, err)
	return ok, err
}

// SendSquareWave toggles TX at BIT_TIME for 160 bit-periods, for bit-time
// calibration (spec.md ss4.4).
func (c *Controller) SendSquareWave() (bool, error) {
	const periods = 160
	ok, err := c.eng.SendSquareWave(periods)
	if c.metricsEnabled {
		metrics.IncSquareWave()
	}
	c.reportOutcome("send_square_wave", 0, ok, err)
	return ok, err
}

// Loopback mirrors RX onto TX for 160 (fd=false) or 700 (fd=true)
// bit-periods, for debug-pin observation of the live bus.
func (c *Controller) Loopback(fd bool) (bool, error) {
	periods := 160
	if fd {
		periods = 700
	}
	ok, err := c.eng.Loopback(periods)
	if c.metricsEnabled {
		metrics.IncLoopbackRun()
	}
	c.reportOutcome("loopback", 0, ok, err)
	return ok, err
}

// reportOutcome logs and accounts for the outcome of one primitive
// invocation, the way the teacher's server logs and counts around each
// unit of client work.
func (c *Controller) reportOutcome(op string, retries int, ok bool, err error) {
	if ok {
		switch op {
		case "send_frame", "send_janus_frame", "spoof_frame", "spoof_frame_error_passive":
			c.stats.incFramesSent()
			if c.metricsEnabled {
				metrics.IncFramesSent()
			}
		}
		c.logger.Info(op+"_ok", "retries_allowed", retries)
		return
	}

	switch {
	case errors.Is(err, engine.ErrTimeout):
		c.stats.incTimeout()
		if c.metricsEnabled {
			metrics.IncTimeout()
			metrics.IncError(metrics.ErrTimeout)
		}
	case errors.Is(err, engine.ErrArbitrationLost):
		c.stats.incArbitrationLoss()
		c.stats.addRetries(retries)
		if c.metricsEnabled {
			metrics.IncArbitrationLoss()
			metrics.AddRetries(retries)
			metrics.IncError(metrics.ErrArbitrationLost)
		}
	case errors.Is(err, engine.ErrNoMatch):
		if c.metricsEnabled {
			metrics.IncError(metrics.ErrNoMatch)
		}
	}
	c.logger.Warn(op+"_failed", "retries_allowed", retries, "error", err)
}

func (c *Controller) incMalformed() {
	c.stats.incMalformed()
	if c.metricsEnabled {
		metrics.IncMalformed()
		metrics.IncError(metrics.ErrEncode)
	}
}
