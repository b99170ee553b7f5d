package main

import (
	"os"
	"testing"
	"time"
)

func TestApplyEnvOverrides_Basic(t *testing.T) {
	base := baseConfig()

	os.Setenv("DRONECAN_SERVER_BAUD", "230400")
	os.Setenv("DRONECAN_SERVER_MDNS_ENABLE", "true")
	os.Setenv("DRONECAN_SERVER_SERIAL_READ_TIMEOUT", "100ms")
	os.Setenv("DRONECAN_SERVER_LOG_METRICS_INTERVAL", "5s")
	os.Setenv("DRONECAN_SERVER_ALLOW_INJECT", "yes")
	os.Setenv("DRONECAN_SERVER_MQTT_BROKER", "tcp://broker:1883")
	os.Setenv("DRONECAN_SERVER_SESSION_TIMEOUT", "5s")
	t.Cleanup(func() {
		os.Unsetenv("DRONECAN_SERVER_BAUD")
		os.Unsetenv("DRONECAN_SERVER_MDNS_ENABLE")
		os.Unsetenv("DRONECAN_SERVER_SERIAL_READ_TIMEOUT")
		os.Unsetenv("DRONECAN_SERVER_LOG_METRICS_INTERVAL")
		os.Unsetenv("DRONECAN_SERVER_ALLOW_INJECT")
		os.Unsetenv("DRONECAN_SERVER_MQTT_BROKER")
		os.Unsetenv("DRONECAN_SERVER_SESSION_TIMEOUT")
	})
	if err := applyEnvOverrides(base, map[string]struct{}{}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if base.baud != 230400 {
		t.Fatalf("expected baud override, got %d", base.baud)
	}
	if !base.mdnsEnable {
		t.Fatalf("expected mdnsEnable true")
	}
	if base.serialReadTO != 100*time.Millisecond {
		t.Fatalf("expected serialReadTO 100ms got %v", base.serialReadTO)
	}
	if base.logMetricsEvery != 5*time.Second {
		t.Fatalf("expected logMetricsEvery 5s got %v", base.logMetricsEvery)
	}
	if !base.allowInject {
		t.Fatalf("expected allowInject true")
	}
	if base.mqttBroker != "tcp://broker:1883" {
		t.Fatalf("expected mqtt broker override, got %q", base.mqttBroker)
	}
	if base.sessionTO != 5*time.Second {
		t.Fatalf("expected sessionTO 5s got %v", base.sessionTO)
	}
}

func TestApplyEnvOverrides_FlagPrecedence(t *testing.T) {
	base := &appConfig{baud: 1000000}
	os.Setenv("DRONECAN_SERVER_BAUD", "230400")
	t.Cleanup(func() { os.Unsetenv("DRONECAN_SERVER_BAUD") })
	// Simulate user passed -baud flag (so env should be ignored)
	if err := applyEnvOverrides(base, map[string]struct{}{"baud": {}}); err != nil {
		t.Fatalf("err: %v", err)
	}
	if base.baud != 1000000 {
		t.Fatalf("expected baud unchanged 1000000 got %d", base.baud)
	}
}

func TestApplyEnvOverrides_BadInt(t *testing.T) {
	base := &appConfig{hubBuffer: 512}
	os.Setenv("DRONECAN_SERVER_HUB_BUFFER", "notint")
	t.Cleanup(func() { os.Unsetenv("DRONECAN_SERVER_HUB_BUFFER") })
	if err := applyEnvOverrides(base, map[string]struct{}{}); err == nil {
		t.Fatalf("expected error for bad integer")
	}
}
