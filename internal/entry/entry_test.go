package entry

import (
	"bytes"
	"errors"
	"testing"
)

func TestFrameRoundtrip(t *testing.T) {
	f := Frame{
		Position:            42,
		SourceEventPosition: 7,
		Key:                 1234,
		Timestamp:           1700000000000,
		Metadata:            []byte("meta"),
		Value:               []byte("payload"),
	}
	buf := make([]byte, f.FramedLength())
	n, err := Write(buf, 0, f)
	if err != nil {
		t.Fatalf("write: %v", err)
	}
	if n != len(buf) || n%FrameAlignment != 0 {
		t.Fatalf("unexpected framed length %d", n)
	}

	l, err := ReadFrame(buf, 0)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if l.Kind() != KindEvent {
		t.Fatalf("kind %s", l.Kind())
	}
	if l.Position() != 42 || l.SourceEventPosition() != 7 || l.Key() != 1234 || l.Timestamp() != 1700000000000 {
		t.Fatalf("header mismatch: %s", l)
	}
	if !bytes.Equal(l.Metadata(), f.Metadata) || !bytes.Equal(l.Value(), f.Value) {
		t.Fatalf("body mismatch: meta=%q value=%q", l.Metadata(), l.Value())
	}
}

func TestWriteRejectsInvalidFrames(t *testing.T) {
	valid := Frame{Position: 1, Timestamp: 1, Metadata: []byte("m"), Value: []byte("v")}
	tests := []struct {
		name   string
		mutate func(*Frame)
		offset int
		want   error
	}{
		{name: "empty value", mutate: func(f *Frame) { f.Value = nil }, want: ErrEmptyValue},
		{name: "negative position", mutate: func(f *Frame) { f.Position = -1 }, want: ErrNegativePosition},
		{name: "negative timestamp", mutate: func(f *Frame) { f.Timestamp = -5 }, want: ErrNegativeTimestamp},
		{name: "negative offset", mutate: func(*Frame) {}, offset: -1, want: ErrNegativeOffset},
		{name: "metadata too large", mutate: func(f *Frame) { f.Metadata = make([]byte, MaxMetadataLength+1) }, want: ErrMetadataTooLarge},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := valid
			tt.mutate(&f)
			buf := make([]byte, 1<<17)
			_, err := Write(buf, tt.offset, f)
			if !errors.Is(err, tt.want) {
				t.Fatalf("want %v, got %v", tt.want, err)
			}
			if !errors.Is(err, ErrInvalidEntry) {
				t.Fatalf("expected invalid entry class, got %v", err)
			}
			if !bytes.Equal(buf[:16], make([]byte, 16)) {
				t.Fatalf("buffer touched on rejected write")
			}
		})
	}
}

func TestWriteBufferTooSmall(t *testing.T) {
	f := Frame{Position: 1, Metadata: []byte("m"), Value: []byte("value")}
	buf := make([]byte, f.FramedLength()-1)
	if _, err := Write(buf, 0, f); !errors.Is(err, ErrBufferTooSmall) {
		t.Fatalf("want ErrBufferTooSmall, got %v", err)
	}
}

func TestWriteBatchAssignsPositionsAndSources(t *testing.T) {
	entries := []Entry{
		New([]byte("m0"), []byte("v0")),
		{Key: 9, SourceIndex: NoSourceIndex, Metadata: []byte("m1"), Value: []byte("v1")},
		{Key: 10, SourceIndex: 0, Metadata: []byte("m2"), Value: []byte("v2")},
		{Key: 11, SourceIndex: 3, Metadata: []byte("m3"), Value: []byte("v3")}, // forward reference ignored
	}
	buf := make([]byte, BatchLength(entries))
	n, err := WriteBatch(buf, 0, 100, 55, 1, entries)
	if err != nil {
		t.Fatalf("write batch: %v", err)
	}
	if n != len(buf) {
		t.Fatalf("wrote %d of %d", n, len(buf))
	}

	wantSources := []int64{55, 55, 100, 55}
	sc := NewScanner(buf)
	i := 0
	for sc.Scan() {
		e := sc.Entry()
		if e.Position() != 100+int64(i) {
			t.Fatalf("entry %d position %d", i, e.Position())
		}
		if e.SourceEventPosition() != wantSources[i] {
			t.Fatalf("entry %d source %d want %d", i, e.SourceEventPosition(), wantSources[i])
		}
		if string(e.Value()) != string(entries[i].Value) {
			t.Fatalf("entry %d value %q", i, e.Value())
		}
		i++
	}
	if sc.Err() != nil {
		t.Fatalf("scan: %v", sc.Err())
	}
	if i != len(entries) {
		t.Fatalf("scanned %d entries", i)
	}
}

func TestScannerDetectsTruncation(t *testing.T) {
	entries := []Entry{New([]byte("m"), []byte("first")), New([]byte("m"), []byte("second"))}
	buf := make([]byte, BatchLength(entries))
	if _, err := WriteBatch(buf, 0, 1, -1, 0, entries); err != nil {
		t.Fatalf("write batch: %v", err)
	}
	sc := NewScanner(buf[:len(buf)-12])
	count := 0
	for sc.Scan() {
		count++
	}
	if count != 1 {
		t.Fatalf("want 1 intact frame, got %d", count)
	}
	if !errors.Is(sc.Err(), ErrCorruptFrame) {
		t.Fatalf("want ErrCorruptFrame, got %v", sc.Err())
	}
}

func TestValidateForSequencing(t *testing.T) {
	if err := ValidateForSequencing(nil); !errors.Is(err, ErrEmptyBatch) {
		t.Fatalf("empty batch: %v", err)
	}
	if err := ValidateForSequencing([]Entry{New(nil, []byte("v"))}); !errors.Is(err, ErrEmptyMetadata) {
		t.Fatalf("empty metadata: %v", err)
	}
	if err := ValidateForSequencing([]Entry{New([]byte("m"), nil)}); !errors.Is(err, ErrEmptyValue) {
		t.Fatalf("empty value: %v", err)
	}
	if err := ValidateForSequencing([]Entry{New([]byte("m"), []byte("v"))}); err != nil {
		t.Fatalf("valid batch: %v", err)
	}
}

func TestRebaseResolvesRelativeSource(t *testing.T) {
	f := Frame{Flags: FlagRelativeSource, Position: 1, SourceEventPosition: 0, Metadata: []byte("m"), Value: []byte("v")}
	buf := make([]byte, f.FramedLength())
	if _, err := Write(buf, 0, f); err != nil {
		t.Fatalf("write: %v", err)
	}
	l, _ := ReadFrame(buf, 0)
	l.Rebase(500, 2)
	if l.Position() != 502 {
		t.Fatalf("position %d", l.Position())
	}
	if l.SourceEventPosition() != 500 {
		t.Fatalf("source %d", l.SourceEventPosition())
	}
	if l.Flags()&FlagRelativeSource != 0 {
		t.Fatalf("relative flag not cleared")
	}
}

func TestRelativeEncodingRoundTrip(t *testing.T) {
	entries := []Entry{
		New([]byte("m0"), []byte("v0")),
		{Key: 4, SourceIndex: 0, Metadata: []byte("m1"), Value: []byte("v1")},
		{Key: 5, SourceIndex: 7, Metadata: []byte("m2"), Value: []byte("v2")},
	}
	buf, err := EncodeRelative(entries, 30, 9)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	back, err := DecodeRelative(buf)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(back) != 3 {
		t.Fatalf("decoded %d entries", len(back))
	}
	if back[1].SourceIndex != 0 || back[1].Key != 4 {
		t.Fatalf("entry 1 %+v", back[1])
	}
	if back[2].SourceIndex != NoSourceIndex || string(back[2].Value) != "v2" {
		t.Fatalf("entry 2 %+v", back[2])
	}

	l, _ := ReadFrame(buf, 0)
	l.Rebase(100, 0)
	next, _ := ReadFrame(buf, l.FramedLength())
	next.Rebase(100, 1)
	if l.SourceEventPosition() != 30 || next.SourceEventPosition() != 100 || next.Position() != 101 {
		t.Fatalf("rebased %s %s", l, next)
	}
}
