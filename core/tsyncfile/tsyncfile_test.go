package tsyncfile_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"example.com/sensor-timesync/core/tsyncfile"
)

func discardLog() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func TestWriteReadScenario(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "cam0")
	w := tsyncfile.NewWriter()
	w.SetFileName(fname)
	if w.FileName() != fname+".tsync" {
		t.Fatalf("FileName() = %q", w.FileName())
	}
	w.SetTimeNames("device-time", "master-time")
	w.SetTimeUnits(tsyncfile.UnitMicroseconds, tsyncfile.UnitMicroseconds)
	err := w.Open(4*time.Second, 600*time.Microsecond, "cam0")
	if err != nil {
		t.Fatal(err)
	}
	if err := w.WriteTimes(1000, 1000); err != nil {
		t.Fatal(err)
	}
	if err := w.WriteTimes(2000, 2050); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	raw, err := os.ReadFile(w.FileName())
	if err != nil {
		t.Fatal(err)
	}
	if binary.LittleEndian.Uint32(raw) != 0xC6BBDFBC {
		t.Errorf("magic = %#x", binary.LittleEndian.Uint32(raw))
	}
	if binary.LittleEndian.Uint32(raw[4:]) != 1 {
		t.Errorf("version = %d", binary.LittleEndian.Uint32(raw[4:]))
	}

	f, err := tsyncfile.ReadFile(discardLog(), w.FileName())
	if err != nil {
		t.Fatal(err)
	}
	if f.ModuleName != "cam0" {
		t.Errorf("ModuleName = %q, want cam0", f.ModuleName)
	}
	if f.TimeNames != [2]string{"device-time", "master-time"} {
		t.Errorf("TimeNames = %q", f.TimeNames)
	}
	if f.TimeUnits != [2]tsyncfile.TimeUnit{tsyncfile.UnitMicroseconds, tsyncfile.UnitMicroseconds} {
		t.Errorf("TimeUnits = %v", f.TimeUnits)
	}
	if f.CheckInterval != 4*time.Second || f.Tolerance != 600*time.Microsecond {
		t.Errorf("CheckInterval = %v, Tolerance = %v", f.CheckInterval, f.Tolerance)
	}
	want := []tsyncfile.TimePair{{A: 1000, B: 1000}, {A: 2000, B: 2050}}
	if !slices.Equal(f.Times(), want) {
		t.Errorf("Times() = %v, want %v", f.Times(), want)
	}
	offsets := []tsyncfile.TimePair{{A: 1000, B: 0}, {A: 2000, B: 50}}
	if !slices.Equal(f.Offsets(), offsets) {
		t.Errorf("Offsets() = %v, want %v", f.Offsets(), offsets)
	}
}

func TestHeaderRoundTrip(t *testing.T) {
	names := []string{"", "cam0", "Kamera ü", "深度カメラ", strings.Repeat("x", 300)}
	units := []tsyncfile.TimeUnit{tsyncfile.UnitIndex, tsyncfile.UnitMicroseconds,
		tsyncfile.UnitMilliseconds, tsyncfile.UnitSeconds}
	for i, name := range names {
		h0 := tsyncfile.Header{
			CreationTime:  time.Unix(1700000000+int64(i), 0),
			CheckInterval: time.Duration(i) * time.Second,
			Tolerance:     time.Duration(i*100) * time.Microsecond,
			ModuleName:    name,
			TimeNames:     [2]string{name + "-a", "b-" + name},
			TimeUnits:     [2]tsyncfile.TimeUnit{units[i%len(units)], units[(i+1)%len(units)]},
		}
		b, err := tsyncfile.AppendHeader(nil, &h0)
		if err != nil {
			t.Fatal(err)
		}
		var h1 tsyncfile.Header
		err = tsyncfile.DecodeHeader(&h1, bytes.NewReader(b))
		if err != nil {
			t.Fatal(err)
		}
		if !h1.CreationTime.Equal(h0.CreationTime) {
			t.Errorf("CreationTime = %v, want %v", h1.CreationTime, h0.CreationTime)
		}
		h1.CreationTime = h0.CreationTime
		if h1 != h0 {
			t.Errorf("header mismatch: got %+v, want %+v", h1, h0)
		}
	}
}

func TestRecordsRoundTrip(t *testing.T) {
	var w bytes.Buffer
	b, err := tsyncfile.AppendHeader(nil, &tsyncfile.Header{ModuleName: "ephys"})
	if err != nil {
		t.Fatal(err)
	}
	want := []tsyncfile.TimePair{{A: 0, B: -5}, {A: -1 << 62, B: 1 << 62}, {A: 33, B: 34}}
	for i, p := range want {
		b = tsyncfile.AppendRecord(b, tsyncfile.Record{Index: uint32(i), TimeA: p.A, TimeB: p.B})
	}
	w.Write(b)
	f, err := tsyncfile.Read(discardLog(), &w)
	if err != nil {
		t.Fatal(err)
	}
	if !slices.Equal(f.Times(), want) {
		t.Errorf("Times() = %v, want %v", f.Times(), want)
	}
}

func TestRejectInvalidMagic(t *testing.T) {
	b, _ := tsyncfile.AppendHeader(nil, &tsyncfile.Header{ModuleName: "x"})
	binary.LittleEndian.PutUint32(b, 0xDEADBEEF)
	_, err := tsyncfile.Read(discardLog(), bytes.NewReader(b))
	if !errors.Is(err, tsyncfile.ErrInvalidMagic) {
		t.Fatalf("Read() error = %v, want ErrInvalidMagic", err)
	}
}

func TestRejectUnknownVersion(t *testing.T) {
	b, _ := tsyncfile.AppendHeader(nil, &tsyncfile.Header{ModuleName: "x"})
	binary.LittleEndian.PutUint32(b[4:], 2)
	_, err := tsyncfile.Read(discardLog(), bytes.NewReader(b))
	if !errors.Is(err, tsyncfile.ErrUnsupportedVersion) {
		t.Fatalf("Read() error = %v, want ErrUnsupportedVersion", err)
	}
}

func TestRejectTruncatedHeader(t *testing.T) {
	b, _ := tsyncfile.AppendHeader(nil, &tsyncfile.Header{ModuleName: "module"})
	_, err := tsyncfile.Read(discardLog(), bytes.NewReader(b[:len(b)-3]))
	if !errors.Is(err, tsyncfile.ErrCorruptHeader) {
		t.Fatalf("Read() error = %v, want ErrCorruptHeader", err)
	}
}

func TestGapsAreWarnings(t *testing.T) {
	var logBuf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logBuf, nil))

	b, _ := tsyncfile.AppendHeader(nil, &tsyncfile.Header{ModuleName: "x"})
	for _, idx := range []uint32{0, 1, 3, 4} {
		b = tsyncfile.AppendRecord(b, tsyncfile.Record{Index: idx, TimeA: int64(idx), TimeB: int64(idx)})
	}
	f, err := tsyncfile.Read(log, bytes.NewReader(b))
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Records) != 4 {
		t.Fatalf("len(Records) = %d, want 4", len(f.Records))
	}
	if f.Records[2].Index != 3 {
		t.Errorf("Records[2].Index = %d, want 3", f.Records[2].Index)
	}
	if n := strings.Count(logBuf.String(), "time-sync file has gaps"); n != 1 {
		t.Errorf("logged %d gap warnings, want 1:\n%s", n, logBuf.String())
	}
}

func TestTruncatedRecordIsDropped(t *testing.T) {
	b, _ := tsyncfile.AppendHeader(nil, &tsyncfile.Header{ModuleName: "x"})
	b = tsyncfile.AppendRecord(b, tsyncfile.Record{Index: 0, TimeA: 1, TimeB: 2})
	b = tsyncfile.AppendRecord(b, tsyncfile.Record{Index: 1, TimeA: 3, TimeB: 4})
	f, err := tsyncfile.Read(discardLog(), bytes.NewReader(b[:len(b)-5]))
	if err != nil {
		t.Fatal(err)
	}
	if len(f.Records) != 1 {
		t.Fatalf("len(Records) = %d, want 1", len(f.Records))
	}
}

func TestWriterRequiresOpen(t *testing.T) {
	w := tsyncfile.NewWriter()
	if err := w.WriteTimes(1, 2); !errors.Is(err, tsyncfile.ErrNotOpen) {
		t.Errorf("WriteTimes() error = %v, want ErrNotOpen", err)
	}
	if err := w.Flush(); err != nil {
		t.Errorf("Flush() on closed writer: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Errorf("Close() on closed writer: %v", err)
	}
	if err := w.Open(time.Second, time.Millisecond, "x"); err == nil {
		t.Error("Open() without file name succeeded")
	}
}

func TestWriterOpenFailure(t *testing.T) {
	w := tsyncfile.NewWriter()
	w.SetFileName(filepath.Join(t.TempDir(), "missing", "dir", "x"))
	if err := w.Open(time.Second, time.Millisecond, "x"); err == nil {
		t.Fatal("Open() in missing directory succeeded")
	}
	if w.IsOpen() {
		t.Error("writer reports open after failed Open()")
	}
}

func TestWriterRestartsSequence(t *testing.T) {
	fname := filepath.Join(t.TempDir(), "seq.tsync")
	w := tsyncfile.NewWriter()
	w.SetFileName(fname)
	for range 2 {
		if err := w.Open(time.Second, time.Millisecond, "x"); err != nil {
			t.Fatal(err)
		}
		for i := range 3 {
			if err := w.WriteTimes(int64(i), int64(i)); err != nil {
				t.Fatal(err)
			}
		}
		if w.Count() != 3 {
			t.Errorf("Count() = %d, want 3", w.Count())
		}
		if err := w.Close(); err != nil {
			t.Fatal(err)
		}
	}
	f, err := tsyncfile.ReadFile(discardLog(), fname)
	if err != nil {
		t.Fatal(err)
	}
	for i, r := range f.Records {
		if r.Index != uint32(i) {
			t.Errorf("Records[%d].Index = %d", i, r.Index)
		}
	}
}

func TestTimeUnitString(t *testing.T) {
	if tsyncfile.UnitIndex.String() != "index" || tsyncfile.UnitMicroseconds.String() != "µs" ||
		tsyncfile.UnitMilliseconds.String() != "ms" || tsyncfile.UnitSeconds.String() != "sec" ||
		tsyncfile.TimeUnit(42).String() != "?" {
		t.Fail()
	}
}
