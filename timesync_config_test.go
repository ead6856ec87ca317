package main

import (
	"strings"
	"testing"
	"time"

	tsync "example.com/sensor-timesync/core/sync"
)

const testConfigTOML = `
local_metrics_address = "127.0.0.1:8080"
tsync_dir = "/tmp/tsync"
duration = "1m"

[[freq_counter_devices]]
name = "ephys"
frequency_hz = 30000.0
block_size = 300
latency = "2ms"
tolerance = "1ms"
strategies = ["shift-fwd"]

[[secondary_clock_devices]]
name = "cam0"
frequency_hz = 60.0
offset = "1h"
`

const testConfigYAML = `
tsync_dir: /tmp/tsync
freq_counter_devices:
  - name: ephys
    frequency_hz: 30000
    check_interval: 2s
secondary_clock_devices:
  - name: cam0
    frequency_hz: 60
    strategies: [shift, write-tsync]
phc_devices: ["/dev/ptp0,10"]
`

func TestDecodeConfigTOML(t *testing.T) {
	cfg, err := decodeConfig("timesync.toml", []byte(testConfigTOML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Duration.Duration != time.Minute || cfg.NotificationQueueSize != defaultNotificationQueueSize {
		t.Errorf("cfg = %+v", cfg)
	}
	if len(cfg.FreqCounterDevices) != 1 || len(cfg.SecondaryClockDevices) != 1 {
		t.Fatalf("cfg = %+v", cfg)
	}
	dc := cfg.FreqCounterDevices[0].deviceConfig(1)
	if dc.Latency != 2*time.Millisecond || dc.Tolerance != time.Millisecond ||
		dc.Strategies != tsync.ShiftTimestampsFwd || dc.BlockSize != 300 {
		t.Errorf("counter device config = %+v", dc)
	}
	if cc := cfg.SecondaryClockDevices[0].deviceConfig(2); cc.Offset != time.Hour || cc.Strategies != 0 {
		t.Errorf("clock device config = %+v", cc)
	}
}

func TestDecodeConfigYAML(t *testing.T) {
	cfg, err := decodeConfig("timesync.yaml", []byte(testConfigYAML))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.FreqCounterDevices[0].CheckInterval.Duration != 2*time.Second {
		t.Errorf("check interval = %v", cfg.FreqCounterDevices[0].CheckInterval)
	}
	s := cfg.SecondaryClockDevices[0].deviceConfig(1).Strategies
	if s != tsync.ShiftTimestamps|tsync.WriteTSyncFile {
		t.Errorf("strategies = %v", s)
	}
	if len(cfg.PHCDevices) != 1 || cfg.PHCDevices[0] != "/dev/ptp0,10" {
		t.Errorf("PHC devices = %q", cfg.PHCDevices)
	}
}

func TestDecodeConfigInvalid(t *testing.T) {
	for _, tc := range []struct {
		name, file, raw string
	}{
		{"unknown field", "c.toml", `bogus = 1`},
		{"unknown yaml field", "c.yml", `bogus: 1`},
		{"bad duration", "c.toml", `duration = "soon"`},
		{"missing frequency", "c.toml", "[[freq_counter_devices]]\nname = \"a\""},
		{"missing name", "c.toml", "[[secondary_clock_devices]]\nfrequency_hz = 10"},
		{"duplicate name", "c.toml",
			"[[freq_counter_devices]]\nname = \"a\"\nfrequency_hz = 1.0\n" +
				"[[secondary_clock_devices]]\nname = \"a\"\nfrequency_hz = 1.0"},
		{"unknown strategy", "c.toml",
			"[[freq_counter_devices]]\nname = \"a\"\nfrequency_hz = 1.0\nstrategies = [\"warp\"]"},
		{"negative queue", "c.toml", `notification_queue_size = -1`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := decodeConfig(tc.file, []byte(strings.TrimSpace(tc.raw))); err == nil {
				t.Error("decodeConfig() succeeded")
			}
		})
	}
}
