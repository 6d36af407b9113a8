package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// appConfig holds every flag/env-derived setting for one canhackd run. A
// run performs exactly one attack-controller operation against one frame
// (plus, for Janus variants, a second) and exits.
type appConfig struct {
	platform          string
	serialDev         string
	serialBaud        int
	serialReadTimeout time.Duration
	clockShift        uint

	logFormat       string
	logLevel        string
	metricsAddr     string
	logMetricsEvery time.Duration
	mdnsEnable      bool
	mdnsName        string

	bitTime          uint
	bitTimeFD        uint
	samplePoint      uint
	samplePointFD    uint
	sampleToBitEnd   uint
	sampleToBitEndFD uint

	timeout uint
	op      string
	retries int

	idA, idB       uint
	ide, rtr       bool
	dlc            uint
	data           string
	fd, brs, esi   bool

	janus            bool
	idA2, idB2       uint
	ide2, rtr2       bool
	dlc2             uint
	data2            string
	fd2, brs2, esi2  bool

	janusSync, janusSplit     uint
	janusSyncFD, janusSplitFD uint

	loopbackOffset uint
	loopbackFD     bool

	repeat      int
	injectError bool
	eofMask     uint
	eofMatch    uint
}

func parseFlags() (*appConfig, bool) {
	cfg := &appConfig{}

	platform := flag.String("platform", "sim", "Bit engine port: sim|serial")
	serialDev := flag.String("serial-dev", "/dev/ttyUSB0", "Serial device path (platform=serial)")
	serialBaud := flag.Int("serial-baud", 115200, "Serial baud rate (platform=serial)")
	serialReadTO := flag.Duration("serial-read-timeout", 50*time.Millisecond, "Serial read timeout (platform=serial)")
	clockShift := flag.Uint("clock-shift", 0, "Host clock tick granularity: 1<<n nanoseconds per Now() unit (platform=serial)")

	logFormat := flag.String("log-format", "text", "Log format: text|json")
	logLevel := flag.String("log-level", "info", "Log level: debug|info|warn|error")
	metricsAddr := flag.String("metrics-addr", "", "Metrics HTTP listen address (e.g., :9100); empty disables")
	logMetricsEvery := flag.Duration("log-metrics-interval", 0, "If >0, periodically log counters")
	mdnsEnable := flag.Bool("mdns-enable", false, "Advertise this rig over mDNS (requires -metrics-addr)")
	mdnsName := flag.String("mdns-name", "", "mDNS instance name (default canhackd-<hostname>)")

	bitTime := flag.Uint("bit-time", 1000, "Arbitration-phase cycles per bit")
	bitTimeFD := flag.Uint("bit-time-fd", 250, "Data-phase cycles per bit (BRS)")
	samplePoint := flag.Uint("sample-point", 800, "Arbitration-phase sample-point offset")
	samplePointFD := flag.Uint("sample-point-fd", 200, "Data-phase sample-point offset (BRS)")
	sampleToBitEnd := flag.Uint("sample-to-bit-end", 200, "Arbitration-phase cycles from sample point to bit end")
	sampleToBitEndFD := flag.Uint("sample-to-bit-end-fd", 50, "Data-phase cycles from sample point to bit end (BRS)")

	timeout := flag.Uint("timeout", 10_000_000, "Watchdog iteration budget")
	op := flag.String("op", "send", "Operation: send|janus|spoof|spoof-ep|error|square|loopback")
	retries := flag.Int("retries", 0, "Extra SOF-wait retries after arbitration loss")

	idA := flag.Uint("id-a", 0, "Frame 1: 11-bit base identifier")
	idB := flag.Uint("id-b", 0, "Frame 1: 18-bit extended identifier")
	ide := flag.Bool("ide", false, "Frame 1: extended-identifier flag")
	rtr := flag.Bool("rtr", false, "Frame 1: remote-frame flag")
	dlc := flag.Uint("dlc", 0, "Frame 1: DLC (0..15)")
	data := flag.String("data", "", "Frame 1: payload as hex (e.g. a5b6)")
	fd := flag.Bool("fd", false, "Frame 1: CAN-FD format")
	brs := flag.Bool("brs", false, "Frame 1: bit-rate switch (FD)")
	esi := flag.Bool("esi", false, "Frame 1: error-state indicator (FD); true => ESI bit transmitted dominant")

	janus := flag.Bool("janus", false, "Use frame 2 alongside frame 1 (send_janus_frame, or Janus spoof)")
	idA2 := flag.Uint("id-a2", 0, "Frame 2: 11-bit base identifier")
	idB2 := flag.Uint("id-b2", 0, "Frame 2: 18-bit extended identifier")
	ide2 := flag.Bool("ide2", false, "Frame 2: extended-identifier flag")
	rtr2 := flag.Bool("rtr2", false, "Frame 2: remote-frame flag")
	dlc2 := flag.Uint("dlc2", 0, "Frame 2: DLC (0..15)")
	data2 := flag.String("data2", "", "Frame 2: payload as hex")
	fd2 := flag.Bool("fd2", false, "Frame 2: CAN-FD format")
	brs2 := flag.Bool("brs2", false, "Frame 2: bit-rate switch (FD)")
	esi2 := flag.Bool("esi2", false, "Frame 2: error-state indicator (FD)")

	janusSync := flag.Uint("janus-sync", 0, "Janus sync_time (arbitration phase)")
	janusSplit := flag.Uint("janus-split", 0, "Janus split_time (arbitration phase)")
	janusSyncFD := flag.Uint("janus-sync-fd", 0, "Janus sync_time (data phase, BRS)")
	janusSplitFD := flag.Uint("janus-split-fd", 0, "Janus split_time (data phase, BRS)")

	loopbackOffset := flag.Uint("loopback-offset", 0, "RX loopback delay in clock ticks (spoof-ep); the engine restarts its clock before driving, so this does not shift bit timing")
	loopbackFD := flag.Bool("loopback-fd", false, "op=loopback: mirror for 700 bit-periods instead of 160")

	repeat := flag.Int("repeat", 1, "op=error: number of EOF/IFS destruction cycles")
	injectError := flag.Bool("inject-error", false, "op=error: drive a 6-bit-time active-error flag before the first cycle")
	eofMask := flag.Uint("eof-mask", 0x7F, "op=error: 32-bit EOF/IFS match mask (arbitration-phase bit width)")
	eofMatch := flag.Uint("eof-match", 0x7F, "op=error: 32-bit EOF/IFS match value (arbitration-phase bit width)")

	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	setFlags := map[string]struct{}{}
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = struct{}{} })

	cfg.platform = *platform
	cfg.serialDev = *serialDev
	cfg.serialBaud = *serialBaud
	cfg.serialReadTimeout = *serialReadTO
	cfg.clockShift = *clockShift
	cfg.logFormat = *logFormat
	cfg.logLevel = *logLevel
	cfg.metricsAddr = *metricsAddr
	cfg.logMetricsEvery = *logMetricsEvery
	cfg.mdnsEnable = *mdnsEnable
	cfg.mdnsName = *mdnsName
	cfg.bitTime = *bitTime
	cfg.bitTimeFD = *bitTimeFD
	cfg.samplePoint = *samplePoint
	cfg.samplePointFD = *samplePointFD
	cfg.sampleToBitEnd = *sampleToBitEnd
	cfg.sampleToBitEndFD = *sampleToBitEndFD
	cfg.timeout = *timeout
	cfg.op = *op
	cfg.retries = *retries
	cfg.idA, cfg.idB, cfg.ide, cfg.rtr, cfg.dlc, cfg.data = *idA, *idB, *ide, *rtr, *dlc, *data
	cfg.fd, cfg.brs, cfg.esi = *fd, *brs, *esi
	cfg.janus = *janus
	cfg.idA2, cfg.idB2, cfg.ide2, cfg.rtr2, cfg.dlc2, cfg.data2 = *idA2, *idB2, *ide2, *rtr2, *dlc2, *data2
	cfg.fd2, cfg.brs2, cfg.esi2 = *fd2, *brs2, *esi2
	cfg.janusSync, cfg.janusSplit, cfg.janusSyncFD, cfg.janusSplitFD = *janusSync, *janusSplit, *janusSyncFD, *janusSplitFD
	cfg.loopbackOffset = *loopbackOffset
	cfg.loopbackFD = *loopbackFD
	cfg.repeat = *repeat
	cfg.injectError = *injectError
	cfg.eofMask, cfg.eofMatch = *eofMask, *eofMatch

	if err := applyEnvOverrides(cfg, setFlags); err != nil {
		fmt.Printf("environment override error: %v\n", err)
		return nil, *showVersion
	}
	if err := cfg.validate(); err != nil {
		fmt.Printf("configuration error: %v\n", err)
		return nil, *showVersion
	}
	return cfg, *showVersion
}

// validate performs semantic validation only; it never opens devices.
func (c *appConfig) validate() error {
	if c == nil {
		return errors.New("nil config")
	}
	switch c.platform {
	case "sim", "serial":
	default:
		return fmt.Errorf("invalid platform: %s", c.platform)
	}
	switch c.logFormat {
	case "text", "json":
	default:
		return fmt.Errorf("invalid log-format: %s", c.logFormat)
	}
	switch c.logLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("invalid log-level: %s", c.logLevel)
	}
	switch c.op {
	case "send", "janus", "spoof", "spoof-ep", "error", "square", "loopback":
	default:
		return fmt.Errorf("invalid op: %s", c.op)
	}
	if c.dlc > 15 || c.dlc2 > 15 {
		return errors.New("dlc must be 0..15")
	}
	if c.idA > 0x7FF || c.idA2 > 0x7FF {
		return errors.New("id-a must fit 11 bits")
	}
	if c.idB > 0x3FFFF || c.idB2 > 0x3FFFF {
		return errors.New("id-b must fit 18 bits")
	}
	if c.serialBaud <= 0 {
		return fmt.Errorf("serial-baud must be > 0 (got %d)", c.serialBaud)
	}
	if c.serialReadTimeout <= 0 {
		return errors.New("serial-read-timeout must be > 0")
	}
	if c.repeat < 0 {
		return errors.New("repeat must be >= 0")
	}
	if c.op == "janus" {
		c.janus = true
	}
	return nil
}

// applyEnvOverrides maps CANHACK_* environment variables to the ambient
// deployment settings (platform wiring, logging, discovery) unless the
// corresponding flag was explicitly set; per-call attack parameters (id,
// data, timing) are flag-only, same split the teacher's CAN_SERVER_* env
// surface draws around backend wiring vs. per-connection behaviour.
func applyEnvOverrides(c *appConfig, set map[string]struct{}) error {
	var firstErr error
	get := func(k string) (string, bool) { v, ok := os.LookupEnv(k); return strings.TrimSpace(v), ok }
	setInt := func(flagName, env string, dst *int, min int) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if n, err := strconv.Atoi(v); err == nil && n >= min {
				*dst = n
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	setDur := func(flagName, env string, dst *time.Duration, min time.Duration) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			if d, err := time.ParseDuration(v); err == nil && d >= min {
				*dst = d
			} else if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("invalid %s: %w", env, err)
			}
		}
	}
	setStr := func(flagName, env string, dst *string) {
		if _, ok := set[flagName]; ok {
			return
		}
		if v, ok := get(env); ok && v != "" {
			*dst = v
		}
	}

	setStr("platform", "CANHACK_PLATFORM", &c.platform)
	setStr("serial-dev", "CANHACK_SERIAL_DEV", &c.serialDev)
	setInt("serial-baud", "CANHACK_SERIAL_BAUD", &c.serialBaud, 1)
	setDur("serial-read-timeout", "CANHACK_SERIAL_READ_TIMEOUT", &c.serialReadTimeout, time.Microsecond)
	setStr("log-format", "CANHACK_LOG_FORMAT", &c.logFormat)
	setStr("log-level", "CANHACK_LOG_LEVEL", &c.logLevel)
	if _, ok := set["metrics-addr"]; !ok {
		if v, ok := get("CANHACK_METRICS_ADDR"); ok {
			c.metricsAddr = v
		}
	}
	setDur("log-metrics-interval", "CANHACK_LOG_METRICS_INTERVAL", &c.logMetricsEvery, 0)
	if _, ok := set["mdns-enable"]; !ok {
		if v, ok := get("CANHACK_MDNS_ENABLE"); ok && v != "" {
			switch strings.ToLower(v) {
			case "1", "true", "yes", "on":
				c.mdnsEnable = true
			case "0", "false", "no", "off":
				c.mdnsEnable = false
			}
		}
	}
	setStr("mdns-name", "CANHACK_MDNS_NAME", &c.mdnsName)

	return firstErr
}
