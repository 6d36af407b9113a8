package main

import (
	"context"
	"fmt"
	"os"
	"sync"

	"github.com/dene67/canhack/internal/attack"
	"github.com/dene67/canhack/internal/logging"
	"github.com/dene67/canhack/internal/metrics"
)

// Helper implementations moved to dedicated files: config.go, logger.go,
// platform_init.go, run.go, mdns.go, metrics_logger.go, version.go.

func main() {
	cfg, showVersion := parseFlags()
	if showVersion {
		fmt.Printf("canhackd %s (commit %s, built %s)\n", version, commit, date)
		return
	}
	if cfg == nil {
		os.Exit(2)
	}

	l := setupLogger(cfg.logFormat, cfg.logLevel)

	port, cleanupPort, err := initPlatform(cfg, l)
	if err != nil {
		l.Error("platform_init_error", "error", err)
		os.Exit(1)
	}
	defer cleanupPort()

	ctl := attack.NewController(port, attack.WithLogger(logging.ForPort(cfg.platform)), attack.WithMetrics(cfg.metricsAddr != ""))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	var wg sync.WaitGroup
	startMetricsLogger(ctx, cfg.logMetricsEvery, l, &wg)

	metrics.SetReadinessFunc(func() bool { return ctx.Err() == nil })
	if cfg.metricsAddr != "" {
		metrics.InitBuildInfo(version, commit, date)
		srvHTTP := metrics.StartHTTP(cfg.metricsAddr)
		defer func() { _ = srvHTTP.Shutdown(context.Background()) }()
	}

	cleanupMDNS, err := startMDNS(ctx, cfg, cfg.metricsAddr)
	if err != nil {
		l.Warn("mdns_start_failed", "error", err)
	} else {
		defer cleanupMDNS()
	}

	opErr := runOp(ctl, cfg, l)
	cancel()
	wg.Wait()
	if opErr != nil {
		l.Error("op_failed", "op", cfg.op, "error", opErr)
		os.Exit(1)
	}
}
