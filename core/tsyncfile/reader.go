package tsyncfile

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

type File struct {
	Header
	Records []Record
}

func (f *File) Times() []TimePair {
	ts := make([]TimePair, len(f.Records))
	for i, r := range f.Records {
		ts[i] = TimePair{A: r.TimeA, B: r.TimeB}
	}
	return ts
}

// Offsets returns (time A, time B - time A) for every record.
func (f *File) Offsets() []TimePair {
	ts := make([]TimePair, len(f.Records))
	for i, r := range f.Records {
		ts[i] = TimePair{A: r.TimeA, B: r.TimeB - r.TimeA}
	}
	return ts
}

// Read decodes a time-sync file. An unknown magic or format version is a hard
// error. Gaps in the record sequence are only logged, and a truncated final
// record is dropped with a warning, since files written during abnormal
// termination may be incomplete.
func Read(log *slog.Logger, r io.Reader) (*File, error) {
	ctx := context.Background()
	br := bufio.NewReader(r)

	f := &File{}
	err := DecodeHeader(&f.Header, br)
	if err != nil {
		return nil, fmt.Errorf("unable to read time-sync header: %w", err)
	}

	var (
		rec      Record
		expected uint32
		b        = make([]byte, RecordLen)
	)
	for {
		n, err := io.ReadFull(br, b)
		if err == io.EOF {
			break
		}
		if err == io.ErrUnexpectedEOF {
			log.LogAttrs(ctx, slog.LevelWarn, "time-sync file ends with an incomplete record",
				slog.Int("bytes", n))
			break
		}
		if err != nil {
			return nil, err
		}
		DecodeRecord(&rec, b)
		if rec.Index != expected {
			log.LogAttrs(ctx, slog.LevelWarn, "time-sync file has gaps",
				slog.Uint64("expected", uint64(expected)),
				slog.Uint64("index", uint64(rec.Index)))
		}
		expected = rec.Index + 1
		f.Records = append(f.Records, rec)
	}
	return f, nil
}

func ReadFile(log *slog.Logger, name string) (*File, error) {
	fd, err := os.Open(name)
	if err != nil {
		return nil, err
	}
	defer fd.Close()
	f, err := Read(log, fd)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return f, nil
}
