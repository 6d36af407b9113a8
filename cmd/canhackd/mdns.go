package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"
)

// mdnsServiceType lets other rigs and a controlling workstation discover a
// running canhackd over the LAN while its metrics endpoint is up.
const mdnsServiceType = "_canhackd._tcp"

// startMDNS registers the service via mDNS and returns a cleanup function.
// It is a no-op if mDNS is disabled. It requires -metrics-addr since that
// HTTP listener's port is the only externally reachable thing a one-shot
// CLI run exposes.
func startMDNS(ctx context.Context, cfg *appConfig, metricsAddr string) (func(), error) {
	if !cfg.mdnsEnable {
		return func() {}, nil
	}
	port := portFromAddr(metricsAddr)
	if port == 0 {
		return nil, fmt.Errorf("mdns-enable requires -metrics-addr to expose a port")
	}

	instance := cfg.mdnsName
	if instance == "" {
		host, _ := os.Hostname()
		instance = fmt.Sprintf("canhackd-%s", host)
	}
	meta := []string{
		"platform=" + cfg.platform,
		"op=" + cfg.op,
		"version=" + version,
	}
	svc, err := zeroconf.Register(instance, mdnsServiceType, "local.", port, meta, nil)
	if err != nil {
		return nil, fmt.Errorf("mdns register: %w", err)
	}
	done := make(chan struct{})
	go func() {
		select {
		case <-ctx.Done():
		case <-done:
		}
		svc.Shutdown()
	}()
	return func() { close(done); svc.Shutdown(); time.Sleep(50 * time.Millisecond) }, nil
}

// portFromAddr extracts the numeric port from a "host:port" or ":port"
// listen address, returning 0 if it cannot be parsed.
func portFromAddr(addr string) int {
	if _, p, err := net.SplitHostPort(addr); err == nil {
		if pn, err := strconv.Atoi(p); err == nil {
			return pn
		}
	}
	if i := strings.LastIndex(addr, ":"); i >= 0 {
		if pn, err := strconv.Atoi(addr[i+1:]); err == nil {
			return pn
		}
	}
	return 0
}
