package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"

	"github.com/dene67/canhack/internal/attack"
	"github.com/dene67/canhack/internal/can"
	"github.com/dene67/canhack/internal/engine"
)

// buildFrameSpec turns one set of -id-a/-dlc/-data/... flags into a
// can.FrameSpec. Shared between frame 1 and frame 2's flag sets.
func buildFrameSpec(idA, idB uint, ide, rtr bool, dlc uint, dataHex string, fd, brs, esi bool) (can.FrameSpec, error) {
	var spec can.FrameSpec
	spec.IDA = uint16(idA)
	spec.IDB = uint32(idB)
	spec.IDE = ide
	spec.RTR = rtr
	spec.DLC = uint8(dlc)
	spec.FD = fd
	spec.BRS = brs
	spec.ESI = esi

	data, err := hex.DecodeString(dataHex)
	if err != nil {
		return spec, fmt.Errorf("bad payload hex: %w", err)
	}
	if len(data) > can.MaxDataLen {
		return spec, fmt.Errorf("payload too long: %d bytes (max %d)", len(data), can.MaxDataLen)
	}
	copy(spec.Data[:], data)
	return spec, nil
}

// runOp arms the controller from cfg and dispatches the requested
// operation, returning an error for both setup failures and an
// unsuccessful (false, nil-error) primitive outcome.
func runOp(ctl *attack.Controller, cfg *appConfig, l *slog.Logger) error {
	ctl.Init()

	spec1, err := buildFrameSpec(cfg.idA, cfg.idB, cfg.ide, cfg.rtr, cfg.dlc, cfg.data, cfg.fd, cfg.brs, cfg.esi)
	if err != nil {
		return fmt.Errorf("frame 1: %w", err)
	}
	if err := ctl.SetFrame(spec1, 0); err != nil {
		return fmt.Errorf("set_frame(1): %w", err)
	}

	if cfg.janus {
		spec2, err := buildFrameSpec(cfg.idA2, cfg.idB2, cfg.ide2, cfg.rtr2, cfg.dlc2, cfg.data2, cfg.fd2, cfg.brs2, cfg.esi2)
		if err != nil {
			return fmt.Errorf("frame 2: %w", err)
		}
		if err := ctl.SetFrame(spec2, 1); err != nil {
			return fmt.Errorf("set_frame(2): %w", err)
		}
	}

	ctl.SetAttackMasks()
	ctl.SetTimeout(uint32(cfg.timeout))

	jt := engine.JanusTiming{
		SyncTime:   uint32(cfg.janusSync),
		SplitTime:  uint32(cfg.janusSplit),
		SyncTimeFD: uint32(cfg.janusSyncFD),
		SplitTimeFD: uint32(cfg.janusSplitFD),
	}

	var ok bool
	switch cfg.op {
	case "send":
		ok, err = ctl.SendFrame(cfg.retries)
	case "janus":
		ok, err = ctl.SendJanusFrame(jt, cfg.retries)
	case "spoof":
		ok, err = ctl.SpoofFrame(jt, cfg.retries, cfg.janus)
	case "spoof-ep":
		ok, err = ctl.SpoofFrameErrorPassive(uint32(cfg.loopbackOffset))
	case "error":
		ok, err = ctl.ErrorAttack(cfg.repeat, cfg.injectError, uint32(cfg.eofMask), uint32(cfg.eofMatch))
	case "square":
		ok, err = ctl.SendSquareWave()
	case "loopback":
		ok, err = ctl.Loopback(cfg.loopbackFD)
	default:
		return fmt.Errorf("unknown op %q", cfg.op)
	}

	l.Info("op_result", "op", cfg.op, "ok", ok)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("operation %q did not complete successfully", cfg.op)
	}
	return nil
}
