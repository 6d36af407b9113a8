package main

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/dene67/canhack/internal/attack"
	"github.com/dene67/canhack/internal/platform"
)

func TestBuildFrameSpecDecodesHexPayload(t *testing.T) {
	spec, err := buildFrameSpec(0x123, 0, false, false, 2, "a5b6", false, false, false)
	if err != nil {
		t.Fatalf("buildFrameSpec: %v", err)
	}
	if spec.Data[0] != 0xA5 || spec.Data[1] != 0xB6 {
		t.Fatalf("payload = %x %x, want a5 b6", spec.Data[0], spec.Data[1])
	}
}

func TestBuildFrameSpecRejectsBadHex(t *testing.T) {
	if _, err := buildFrameSpec(0x123, 0, false, false, 1, "zz", false, false, false); err == nil {
		t.Fatalf("expected error for invalid hex payload")
	}
}

func TestRunOpSendSucceedsOnSimPlatform(t *testing.T) {
	cfg := baseConfig()
	cfg.bitTime, cfg.bitTimeFD = 20, 5
	cfg.samplePoint, cfg.samplePointFD = 15, 3
	cfg.sampleToBitEnd, cfg.sampleToBitEndFD = 5, 2
	cfg.timeout = 1_000_000

	timing := platform.Timing{
		BitTime: uint32(cfg.bitTime), BitTimeFD: uint32(cfg.bitTimeFD),
		SamplePoint: uint32(cfg.samplePoint), SamplePointFD: uint32(cfg.samplePointFD),
		SampleToBitEnd: uint32(cfg.sampleToBitEnd), SampleToBitEndFD: uint32(cfg.sampleToBitEndFD),
	}
	port := platform.NewLoopback(timing)

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ctl := attack.NewController(port, attack.WithLogger(logger), attack.WithMetrics(false))

	if err := runOp(ctl, cfg, logger); err != nil {
		t.Fatalf("runOp: %v", err)
	}
	if ctl.Stats().FramesSent != 1 {
		t.Fatalf("FramesSent = %d, want 1", ctl.Stats().FramesSent)
	}
}

func TestRunOpRejectsUnknownOp(t *testing.T) {
	cfg := baseConfig()
	cfg.op = "send" // valid per validate(), but we bypass validate() here
	cfg.timeout = 1000
	port := platform.NewLoopback(platform.Timing{BitTime: 1, SamplePoint: 0, SampleToBitEnd: 1, BitTimeFD: 1, SamplePointFD: 0, SampleToBitEndFD: 1})
	ctl := attack.NewController(port, attack.WithMetrics(false))
	cfg.op = "bogus"
	if err := runOp(ctl, cfg, slog.Default()); err == nil {
		t.Fatalf("expected error for unknown op")
	}
}
