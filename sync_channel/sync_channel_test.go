package sync_channel

import (
	"bytes"
	"errors"
	"io"
	"testing"
)

var testMarker = []byte("0123456789abcdef")

type memSource struct {
	*bytes.Reader
	closed int
}

func (m *memSource) SizeBytes() int64 {
	return m.Size()
}

func (m *memSource) Close() error {
	m.closed++
	return nil
}

type failingSource struct {
	size    int64
	failAt  int64
	data    []byte
	failErr error
}

func (f *failingSource) SizeBytes() int64 {
	return f.size
}

func (f *failingSource) ReadAt(p []byte, off int64) (int, error) {
	if off+int64(len(p)) > f.failAt {
		return 0, f.failErr
	}
	return copy(p, f.data[off:]), nil
}

// layout: header(10) marker block(20) marker block(5) marker
func testFile() ([]byte, []int64) {
	var b bytes.Buffer
	b.Write(bytes.Repeat([]byte{'h'}, 10))
	b.Write(testMarker)
	first := int64(b.Len())
	b.Write(bytes.Repeat([]byte{'x'}, 20))
	b.Write(testMarker)
	second := int64(b.Len())
	b.Write(bytes.Repeat([]byte{'y'}, 5))
	b.Write(testMarker)
	return b.Bytes(), []int64{first, second, int64(b.Len())}
}

func newTestChannel(data []byte) (*Channel, *memSource) {
	src := &memSource{Reader: bytes.NewReader(data)}
	c := New(src)
	c.SetMarker(testMarker)
	return c, src
}

func TestAdvanceToNextMarker(t *testing.T) {
	data, starts := testFile()
	c, _ := newTestChannel(data)

	cases := []struct {
		from int64
		want int64
	}{
		{0, starts[0]},
		{10, starts[0]},
		{11, starts[1]},   // mid marker
		{starts[0], starts[1]},
		{starts[0] + 7, starts[1]}, // mid block
		{starts[1] - 16, starts[1]},
		{starts[1] - 15, starts[2]},
		{starts[2] - 16, starts[2]},
		{starts[2] - 3, starts[2]}, // no marker left, end of stream
		{starts[2] + 100, starts[2]},
		{-5, starts[0]},
	}
	for _, tc := range cases {
		got, err := c.AdvanceToNextMarker(tc.from)
		if err != nil {
			t.Fatalf("from %d: %s", tc.from, err)
		}
		if got != tc.want {
			t.Fatalf("from %d: got %d want %d", tc.from, got, tc.want)
		}
		if c.Tell() != got {
			t.Fatalf("cursor %d not at %d", c.Tell(), got)
		}
	}
}

func TestAdvanceAcrossScanChunks(t *testing.T) {
	var b bytes.Buffer
	b.Write(bytes.Repeat([]byte{'z'}, scanChunkSize-5)) // marker straddles the first scan window
	b.Write(testMarker)
	want := int64(b.Len())
	b.Write(bytes.Repeat([]byte{'z'}, 3*scanChunkSize))
	b.Write(testMarker)

	c, _ := newTestChannel(b.Bytes())
	got, err := c.AdvanceToNextMarker(0)
	if err != nil {
		t.Fatal(err)
	}
	if got != want {
		t.Fatalf("got %d want %d", got, want)
	}
	got, err = c.AdvanceToNextMarker(want)
	if err != nil {
		t.Fatal(err)
	}
	if got != int64(b.Len()) {
		t.Fatalf("got %d want %d", got, b.Len())
	}
}

func TestAdvanceTruncated(t *testing.T) {
	data, starts := testFile()
	c, _ := newTestChannel(data[:starts[2]-4]) // last marker cut off
	_, err := c.AdvanceToNextMarker(starts[1])
	var corrupt *CorruptContainerError
	if !errors.As(err, &corrupt) {
		t.Fatalf("expected CorruptContainerError, got %v", err)
	}
}

func TestHasMarkerBefore(t *testing.T) {
	data, starts := testFile()
	c, _ := newTestChannel(data)
	if err := c.SeekTo(starts[0]); err != nil {
		t.Fatal(err)
	}
	markerAt := starts[1] - 16
	ok, err := c.HasMarkerBefore(markerAt - 1)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("no marker should start before the end of the first block")
	}
	ok, err = c.HasMarkerBefore(markerAt)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("marker starting exactly at pos should count")
	}
	if c.Tell() != starts[0] {
		t.Fatal("HasMarkerBefore moved the cursor")
	}
}

func TestSequentialRead(t *testing.T) {
	data, starts := testFile()
	c, _ := newTestChannel(data)
	if err := c.SeekTo(starts[1]); err != nil {
		t.Fatal(err)
	}
	p := make([]byte, 5)
	if err := c.ReadFull(p); err != nil {
		t.Fatal(err)
	}
	if string(p) != "yyyyy" {
		t.Fatalf("got %q", p)
	}
	b, err := c.ReadByte()
	if err != nil {
		t.Fatal(err)
	}
	if b != '0' {
		t.Fatalf("got %q", b)
	}

	if err := c.SeekTo(c.Size() - 2); err != nil {
		t.Fatal(err)
	}
	var corrupt *CorruptContainerError
	if err := c.ReadFull(make([]byte, 4)); !errors.As(err, &corrupt) {
		t.Fatalf("expected corrupt error on short read, got %v", err)
	}
	if _, err := c.Read(make([]byte, 1)); err != io.EOF {
		t.Fatalf("expected EOF, got %v", err)
	}
}

func TestReadFailure(t *testing.T) {
	data, starts := testFile()
	boom := errors.New("connection reset")
	src := &failingSource{size: int64(len(data)), failAt: starts[1], data: data, failErr: boom}
	c := New(src)
	c.SetMarker(testMarker)
	_, err := c.AdvanceToNextMarker(0)
	if !errors.Is(err, boom) {
		t.Fatalf("expected source error, got %v", err)
	}
	var ioErr *IOError
	if !errors.As(err, &ioErr) {
		t.Fatalf("expected IOError, got %T", err)
	}
}

func TestClose(t *testing.T) {
	data, _ := testFile()
	c, src := newTestChannel(data)
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if err := c.Close(); err != nil {
		t.Fatal(err)
	}
	if src.closed != 1 {
		t.Fatalf("source closed %d times", src.closed)
	}
	if !c.Closed() {
		t.Fatal("channel should report closed")
	}
	if _, err := c.AdvanceToNextMarker(0); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}
