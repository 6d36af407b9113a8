package main

import (
	"fmt"
	"log/slog"

	"github.com/dene67/canhack/internal/metrics"
	"github.com/dene67/canhack/internal/platform"
	"github.com/tarm/serial"
)

// initPlatform opens the Platform Port this run will drive: an in-process
// Loopback for -platform=sim (the default, and what every test in this
// repo uses), or a SerialBridge to a companion pin-bridge device for
// -platform=serial.
func initPlatform(cfg *appConfig, l *slog.Logger) (platform.Port, func(), error) {
	timing := platform.Timing{
		BitTime:          uint32(cfg.bitTime),
		BitTimeFD:        uint32(cfg.bitTimeFD),
		SamplePoint:      uint32(cfg.samplePoint),
		SamplePointFD:    uint32(cfg.samplePointFD),
		SampleToBitEnd:   uint32(cfg.sampleToBitEnd),
		SampleToBitEndFD: uint32(cfg.sampleToBitEndFD),
	}

	if cfg.platform != "serial" {
		return platform.NewLoopback(timing), func() {}, nil
	}

	sp, err := serial.OpenPort(&serial.Config{
		Name:        cfg.serialDev,
		Baud:        cfg.serialBaud,
		ReadTimeout: cfg.serialReadTimeout,
	})
	if err != nil {
		metrics.IncError(metrics.ErrPlatformSerial)
		return nil, func() {}, fmt.Errorf("open serial: %w", err)
	}
	l.Info("serial_open", "device", cfg.serialDev, "baud", cfg.serialBaud)
	bridge := platform.NewSerialBridge(sp, timing, cfg.clockShift)
	return bridge, func() { _ = sp.Close() }, nil
}
