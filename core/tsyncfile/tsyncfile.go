// Package tsyncfile reads and writes time-sync files: a binary, little-endian
// append log of (device time, master time) pairs recorded by a synchronizer.
package tsyncfile

import (
	"encoding/binary"
	"errors"
	"io"
	"math"
	"time"
)

const (
	Magic         uint32 = 0xC6BBDFBC
	FormatVersion uint32 = 1

	FileExt = ".tsync"

	// RecordLen is the encoded size of a record: index, time A, time B.
	RecordLen = 4 + 8 + 8

	maxStringLen = 1 << 16
)

var (
	ErrInvalidMagic       = errors.New("not a valid time-sync file")
	ErrUnsupportedVersion = errors.New("unsupported time-sync file format version")
	ErrCorruptHeader      = errors.New("corrupt time-sync file header")
)

type TimeUnit uint16

const (
	UnitIndex TimeUnit = iota
	UnitMicroseconds
	UnitMilliseconds
	UnitSeconds
)

func (u TimeUnit) String() string {
	switch u {
	case UnitIndex:
		return "index"
	case UnitMicroseconds:
		return "µs"
	case UnitMilliseconds:
		return "ms"
	case UnitSeconds:
		return "sec"
	default:
		return "?"
	}
}

type Header struct {
	CreationTime  time.Time
	CheckInterval time.Duration
	Tolerance     time.Duration
	ModuleName    string
	TimeNames     [2]string
	TimeUnits     [2]TimeUnit
}

type Record struct {
	Index uint32
	TimeA int64
	TimeB int64
}

// TimePair is a (time A, time B) value, usually (device time, master time).
type TimePair struct {
	A, B int64
}

func durationUsec32(d time.Duration) (uint32, bool) {
	us := d.Microseconds()
	if us < 0 || us > math.MaxUint32 {
		return 0, false
	}
	return uint32(us), true
}

func appendString(b []byte, s string) []byte {
	b = binary.LittleEndian.AppendUint32(b, uint32(len(s)))
	return append(b, s...)
}

// AppendHeader appends the encoded header h to b. It fails if the check
// interval or tolerance do not fit the on-disk microsecond fields.
func AppendHeader(b []byte, h *Header) ([]byte, error) {
	checkInterval, ok := durationUsec32(h.CheckInterval)
	if !ok {
		return b, errors.New("check interval out of range")
	}
	tolerance, ok := durationUsec32(h.Tolerance)
	if !ok {
		return b, errors.New("tolerance out of range")
	}
	for _, s := range []string{h.ModuleName, h.TimeNames[0], h.TimeNames[1]} {
		if len(s) > maxStringLen {
			return b, errors.New("header string too long")
		}
	}
	b = binary.LittleEndian.AppendUint32(b, Magic)
	b = binary.LittleEndian.AppendUint32(b, FormatVersion)
	b = binary.LittleEndian.AppendUint64(b, uint64(h.CreationTime.Unix()))
	b = binary.LittleEndian.AppendUint32(b, checkInterval)
	b = binary.LittleEndian.AppendUint32(b, tolerance)
	b = appendString(b, h.ModuleName)
	b = appendString(b, h.TimeNames[0])
	b = appendString(b, h.TimeNames[1])
	b = binary.LittleEndian.AppendUint16(b, uint16(h.TimeUnits[0]))
	b = binary.LittleEndian.AppendUint16(b, uint16(h.TimeUnits[1]))
	return b, nil
}

func AppendRecord(b []byte, r Record) []byte {
	b = binary.LittleEndian.AppendUint32(b, r.Index)
	b = binary.LittleEndian.AppendUint64(b, uint64(r.TimeA))
	b = binary.LittleEndian.AppendUint64(b, uint64(r.TimeB))
	return b
}

func DecodeRecord(r *Record, b []byte) {
	_ = b[RecordLen-1]
	r.Index = binary.LittleEndian.Uint32(b[0:])
	r.TimeA = int64(binary.LittleEndian.Uint64(b[4:]))
	r.TimeB = int64(binary.LittleEndian.Uint64(b[12:]))
}

func readString(r io.Reader) (string, error) {
	var n uint32
	err := binary.Read(r, binary.LittleEndian, &n)
	if err != nil {
		return "", err
	}
	if n > maxStringLen {
		return "", ErrCorruptHeader
	}
	b := make([]byte, n)
	_, err = io.ReadFull(r, b)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// DecodeHeader reads a header from r. Magic and format version are checked
// before anything else is decoded.
func DecodeHeader(h *Header, r io.Reader) error {
	var id struct {
		Magic   uint32
		Version uint32
	}
	err := binary.Read(r, binary.LittleEndian, &id)
	if err != nil {
		return headerError(err)
	}
	if id.Magic != Magic {
		return ErrInvalidMagic
	}
	if id.Version != FormatVersion {
		return ErrUnsupportedVersion
	}

	var fixed struct {
		CreationTime  int64
		CheckInterval uint32
		Tolerance     uint32
	}
	err = binary.Read(r, binary.LittleEndian, &fixed)
	if err != nil {
		return headerError(err)
	}
	h.CreationTime = time.Unix(fixed.CreationTime, 0)
	h.CheckInterval = time.Duration(fixed.CheckInterval) * time.Microsecond
	h.Tolerance = time.Duration(fixed.Tolerance) * time.Microsecond

	h.ModuleName, err = readString(r)
	if err != nil {
		return headerError(err)
	}
	h.TimeNames[0], err = readString(r)
	if err != nil {
		return headerError(err)
	}
	h.TimeNames[1], err = readString(r)
	if err != nil {
		return headerError(err)
	}

	var units [2]uint16
	err = binary.Read(r, binary.LittleEndian, &units)
	if err != nil {
		return headerError(err)
	}
	h.TimeUnits[0] = TimeUnit(units[0])
	h.TimeUnits[1] = TimeUnit(units[1])
	return nil
}

func headerError(err error) error {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return ErrCorruptHeader
	}
	return err
}
