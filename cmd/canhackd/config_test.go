package main

import (
	"testing"
	"time"
)

func baseConfig() *appConfig {
	return &appConfig{
		platform:          "sim",
		serialDev:         "/dev/null",
		serialBaud:        115200,
		serialReadTimeout: 10 * time.Millisecond,
		logFormat:         "text",
		logLevel:          "info",
		op:                "send",
		idA:               0x123,
		dlc:               1,
		data:              "a5",
		repeat:            1,
	}
}

func TestConfigValidateOK(t *testing.T) {
	c := baseConfig()
	if err := c.validate(); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	tests := []struct {
		name string
		mod  func(*appConfig)
	}{
		{"badPlatform", func(c *appConfig) { c.platform = "x" }},
		{"badLogFormat", func(c *appConfig) { c.logFormat = "xx" }},
		{"badLogLevel", func(c *appConfig) { c.logLevel = "nope" }},
		{"badOp", func(c *appConfig) { c.op = "nope" }},
		{"badDLC", func(c *appConfig) { c.dlc = 16 }},
		{"badDLC2", func(c *appConfig) { c.dlc2 = 16 }},
		{"badIDA", func(c *appConfig) { c.idA = 0x800 }},
		{"badIDA2", func(c *appConfig) { c.idA2 = 0x800 }},
		{"badIDB", func(c *appConfig) { c.idB = 1 << 18 }},
		{"badSerialBaud", func(c *appConfig) { c.serialBaud = 0 }},
		{"badSerialReadTO", func(c *appConfig) { c.serialReadTimeout = 0 }},
		{"badRepeat", func(c *appConfig) { c.repeat = -1 }},
	}
	for _, tc := range tests {
		c := baseConfig()
		tc.mod(c)
		if err := c.validate(); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestConfigValidateJanusOpImpliesJanusFlag(t *testing.T) {
	c := baseConfig()
	c.op = "janus"
	if err := c.validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !c.janus {
		t.Fatalf("op=janus should force janus=true")
	}
}
