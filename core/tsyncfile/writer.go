package tsyncfile

import (
	"bufio"
	"errors"
	"os"
	"strings"
	"time"
)

var ErrNotOpen = errors.New("time-sync file is not open")

// Writer appends time pairs to a time-sync file. Records are numbered in the
// order they are written, starting at 0 for every Open.
type Writer struct {
	fname     string
	f         *os.File
	bw        *bufio.Writer
	index     uint32
	timeNames [2]string
	timeUnits [2]TimeUnit
	buf       []byte
	now       func() time.Time
}

func NewWriter() *Writer {
	return &Writer{
		timeNames: [2]string{"device-time", "master-time"},
		timeUnits: [2]TimeUnit{UnitMicroseconds, UnitMicroseconds},
		buf:       make([]byte, 0, RecordLen),
		now:       time.Now,
	}
}

// SetFileName sets the file to write, appending the .tsync extension if it
// is missing. An open file is closed first.
func (w *Writer) SetFileName(fname string) {
	if w.f != nil {
		_ = w.Close()
	}
	if fname != "" && !strings.HasSuffix(fname, FileExt) {
		fname += FileExt
	}
	w.fname = fname
}

func (w *Writer) FileName() string {
	return w.fname
}

func (w *Writer) SetTimeNames(a, b string) {
	w.timeNames = [2]string{a, b}
}

func (w *Writer) SetTimeUnits(a, b TimeUnit) {
	w.timeUnits = [2]TimeUnit{a, b}
}

func (w *Writer) IsOpen() bool {
	return w.f != nil
}

// Open creates (or truncates) the file and writes its header. On failure no
// file handle is retained.
func (w *Writer) Open(checkInterval, tolerance time.Duration, modName string) error {
	if w.f != nil {
		_ = w.Close()
	}
	if w.fname == "" {
		return errors.New("no time-sync file name set")
	}

	h := Header{
		CreationTime:  w.now(),
		CheckInterval: checkInterval,
		Tolerance:     tolerance,
		ModuleName:    modName,
		TimeNames:     w.timeNames,
		TimeUnits:     w.timeUnits,
	}
	b, err := AppendHeader(nil, &h)
	if err != nil {
		return err
	}

	f, err := os.Create(w.fname)
	if err != nil {
		return err
	}
	bw := bufio.NewWriter(f)
	_, err = bw.Write(b)
	if err == nil {
		err = bw.Flush()
	}
	if err != nil {
		_ = f.Close()
		return err
	}

	w.f = f
	w.bw = bw
	w.index = 0
	return nil
}

func (w *Writer) WriteTimes(timeA, timeB int64) error {
	if w.f == nil {
		return ErrNotOpen
	}
	w.buf = AppendRecord(w.buf[:0], Record{Index: w.index, TimeA: timeA, TimeB: timeB})
	_, err := w.bw.Write(w.buf)
	if err != nil {
		return err
	}
	w.index++
	return nil
}

func (w *Writer) WriteDurations(timeA, timeB time.Duration) error {
	return w.WriteTimes(timeA.Microseconds(), timeB.Microseconds())
}

// Count returns the number of records written since Open.
func (w *Writer) Count() uint32 {
	return w.index
}

func (w *Writer) Flush() error {
	if w.f == nil {
		return nil
	}
	return w.bw.Flush()
}

func (w *Writer) Close() error {
	if w.f == nil {
		return nil
	}
	err := w.bw.Flush()
	cerr := w.f.Close()
	w.f = nil
	w.bw = nil
	return errors.Join(err, cerr)
}
