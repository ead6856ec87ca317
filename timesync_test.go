package main

import (
	"bytes"
	"log/slog"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"example.com/sensor-timesync/core/tsyncfile"
)

func TestPrintFile(t *testing.T) {
	w := tsyncfile.NewWriter()
	w.SetFileName(filepath.Join(t.TempDir(), "ephys"))
	w.SetTimeNames("ephys-time", "master-time")
	if err := w.Open(4*time.Second, 600*time.Microsecond, "ephys"); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteTimes(1000, 1250); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	f, err := tsyncfile.ReadFile(slog.New(slog.DiscardHandler), w.FileName())
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	printFile(&buf, f)
	out := buf.String()
	for _, want := range []string{"Module: ephys\n", "Tolerance: 600µs\n", "DeviceTime;Offset\n1000;250\n"} {
		if !strings.Contains(out, want) {
			t.Errorf("output does not contain %q:\n%s", want, out)
		}
	}
}
