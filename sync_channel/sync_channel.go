package sync_channel

import (
	"bytes"
	"errors"
	"io"
)

const (
	defaultBufferSize = 64 * 1024
	scanChunkSize     = 64 * 1024
)

type (
	// ByteSource is a random-access view of one container file.
	ByteSource interface {
		io.ReaderAt
		SizeBytes() int64
	}

	// Channel is a buffered, seekable cursor over a ByteSource that can locate sync markers
	// from arbitrary offsets. It is not safe for concurrent use.
	Channel struct {
		src    ByteSource
		size   int64
		marker []byte

		pos      int64
		buf      []byte
		bufStart int64
		bufLen   int

		closed bool
	}
)

func New(src ByteSource) *Channel {
	size := src.SizeBytes()
	bufSize := defaultBufferSize
	if size < int64(bufSize) {
		bufSize = int(size) + 1
	}
	return &Channel{
		src:  src,
		size: size,
		buf:  make([]byte, bufSize),
	}
}

// SetMarker sets the sync marker searched for by AdvanceToNextMarker and HasMarkerBefore.
func (c *Channel) SetMarker(marker []byte) {
	c.marker = append([]byte(nil), marker...)
}

func (c *Channel) MarkerSize() int {
	return len(c.marker)
}

func (c *Channel) Size() int64 {
	return c.size
}

func (c *Channel) Tell() int64 {
	return c.pos
}

// SeekTo moves the cursor. Positions past the end are clamped to the end.
func (c *Channel) SeekTo(pos int64) error {
	if c.closed {
		return ErrClosed
	}
	if pos < 0 {
		pos = 0
	}
	if pos > c.size {
		pos = c.size
	}
	c.pos = pos
	return nil
}

// AdvanceToNextMarker positions the cursor right after the first complete marker starting at or after from,
// and returns that offset. from may land anywhere, including mid-block. When no marker remains it returns
// the end of the stream, unless a marker had to exist, in which case the file is truncated.
func (c *Channel) AdvanceToNextMarker(from int64) (int64, error) {
	if c.closed {
		return 0, ErrClosed
	}
	if len(c.marker) == 0 {
		return 0, ErrMarkerUnknown
	}
	if from < 0 {
		from = 0
	}
	if from > c.size {
		from = c.size
	}
	at, err := c.findMarker(from, c.size)
	if err != nil {
		return 0, err
	}
	if at < 0 {
		// every well formed container ends with a marker
		if from <= c.size-int64(len(c.marker)) {
			return 0, &CorruptContainerError{Offset: from, Reason: "no sync marker before end of stream"}
		}
		c.pos = c.size
		return c.size, nil
	}
	c.pos = at + int64(len(c.marker))
	return c.pos, nil
}

// HasMarkerBefore reports whether a complete marker starts within [cursor, pos]. The cursor does not move.
func (c *Channel) HasMarkerBefore(pos int64) (bool, error) {
	if c.closed {
		return false, ErrClosed
	}
	if len(c.marker) == 0 {
		return false, ErrMarkerUnknown
	}
	if pos < c.pos {
		return false, nil
	}
	at, err := c.findMarker(c.pos, pos+1)
	if err != nil {
		return false, err
	}
	return at >= 0, nil
}

// findMarker returns the offset of the first marker starting in [from, limit), or -1.
func (c *Channel) findMarker(from, limit int64) (int64, error) {
	if from >= limit {
		return -1, nil
	}
	m := len(c.marker)
	span := limit - from
	if span > scanChunkSize {
		span = scanChunkSize
	}
	window := make([]byte, int(span)+m-1)
	for off := from; off < limit; off += scanChunkSize {
		n, err := c.readAt(window, off)
		if err != nil {
			return -1, err
		}
		if i := bytes.Index(window[:n], c.marker); i >= 0 {
			if at := off + int64(i); at < limit {
				return at, nil
			}
			return -1, nil
		}
		if n < len(window) {
			break
		}
	}
	return -1, nil
}

// readAt fills p from off, returning fewer bytes only at end of stream.
func (c *Channel) readAt(p []byte, off int64) (int, error) {
	if off >= c.size {
		return 0, nil
	}
	if rem := c.size - off; int64(len(p)) > rem {
		p = p[:rem]
	}
	n, err := c.src.ReadAt(p, off)
	if err == nil && n < len(p) {
		err = io.ErrUnexpectedEOF
	}
	if err != nil && !(errors.Is(err, io.EOF) && n == len(p)) {
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return n, &CorruptContainerError{Offset: off + int64(n), Reason: "source shorter than reported size", Err: err}
		}
		return n, &IOError{Op: "ReadAt", Offset: off, Err: err}
	}
	return n, nil
}

func (c *Channel) fill() error {
	n, err := c.readAt(c.buf, c.pos)
	if err != nil {
		return err
	}
	c.bufStart = c.pos
	c.bufLen = n
	return nil
}

func (c *Channel) buffered() bool {
	return c.pos >= c.bufStart && c.pos < c.bufStart+int64(c.bufLen)
}

// Read reads sequentially from the cursor.
func (c *Channel) Read(p []byte) (int, error) {
	if c.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	if c.pos >= c.size {
		return 0, io.EOF
	}
	if !c.buffered() {
		if len(p) >= len(c.buf) {
			n, err := c.readAt(p, c.pos)
			c.pos += int64(n)
			return n, err
		}
		if err := c.fill(); err != nil {
			return 0, err
		}
	}
	i := int(c.pos - c.bufStart)
	n := copy(p, c.buf[i:c.bufLen])
	c.pos += int64(n)
	return n, nil
}

func (c *Channel) ReadByte() (byte, error) {
	var b [1]byte
	if _, err := c.Read(b[:]); err != nil {
		return 0, err
	}
	return b[0], nil
}

// ReadFull reads exactly len(p) bytes. Running out of stream is reported as corruption since callers only
// ask for lengths the container structure promised.
func (c *Channel) ReadFull(p []byte) error {
	start := c.pos
	_, err := io.ReadFull(c, p)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return &CorruptContainerError{Offset: start, Reason: "unexpected end of stream", Err: err}
	}
	return err
}

// Close closes the underlying source if it is an io.Closer. Safe to call more than once.
func (c *Channel) Close() error {
	if c.closed {
		return nil
	}
	c.closed = true
	if closer, ok := c.src.(io.Closer); ok {
		return closer.Close()
	}
	return nil
}

func (c *Channel) Closed() bool {
	return c.closed
}
