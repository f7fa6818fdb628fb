package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := baseValidConfig()

	os.Setenv("SERIAL_BAUD", "9600")
	os.Setenv("MDNS_ENABLE", "true")
	os.Setenv("SERIAL_BAUD", "9600")
	os.Setenv("STATE_REQUEST_TIMEOUT_MS", "5000")
	os.Setenv("LOG_METRICS_INTERVAL", "5s")
	t.Cleanup(func() {
		os.Unsetenv("SERIAL_BAUD")
		os.Unsetenv("MDNS_ENABLE")
		os.Unsetenv("STATE_REQUEST_TIMEOUT_MS")
		os.Unsetenv("LOG_METRICS_INTERVAL")
	})
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.baud != 9600 {
		t.Fatalf("expected baud override, got %d", base.baud)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.stateTimeout != 5*time.Second {
		t.Fatalf("expected stateTimeout 5s got %v", base.stateTimeout)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &appConfig{baud: 19200}
	os.Setenv("SERIAL_BAUD", "9600")
	t.Cleanup(func() { os.Unsetenv("SERIAL_BAUD") })
	if err := applyEnvOverrides(base, map[string]struct{}{"serial-baud": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.baud != 19200 {
		t.Fatalf("expected baud unchanged 19200 got %d", base.baud)
	}
}

func TestApplyEnvOverrides_BadInt(t *testing.T) {
	base := &appConfig{hubBuffer: 64}
	os.Setenv("HUB_BUFFER", "notint")
	t.Cleanup(func() { os.Unsetenv("HUB_BUFFER") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}

func TestApplyEnvOverrides_SerialDeviceMock(t *testing.T) {
	base := &appConfig{serialDev: "/dev/ttyACM0"}
	os.Setenv("SERIAL_DEVICE", "mock")
	t.Cleanup(func() { os.Unsetenv("SERIAL_DEVICE") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.serialDev != "mock" {
		t.Fatalf("expected serialDev mock, got %q", base.serialDev)
	}
}
