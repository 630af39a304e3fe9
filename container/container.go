package container

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/danthegoodman1/avrosplit/sync_channel"
	"github.com/danthegoodman1/avrosplit/table"
	"github.com/hamba/avro/v2"
)

// Reader reads records block by block from an object container through a sync aligned channel.
// It is not safe for concurrent use.
type Reader struct {
	ch         *sync_channel.Channel
	header     Header
	avroSchema *avro.RecordSchema
	schema     table.Schema
	codec      Codec

	// blockStart is the start of the block whose records Next returns. It moves to the following block once
	// the last record of the current one has been returned.
	blockStart int64
	nextBlock  int64
	remaining  int64
	dec        *avro.Decoder
	// bound, when set, stops HasNext from loading blocks that start at or after it
	bound int64

	closed bool
}

// Open reads and validates the header. The reader takes ownership of the channel only on success.
func Open(ch *sync_channel.Channel) (*Reader, error) {
	h, err := readHeader(ch)
	if err != nil {
		return nil, err
	}

	parsed, err := avro.Parse(h.SchemaJSON())
	if err != nil {
		return nil, &SchemaParseError{Reason: "invalid writer schema", Err: err}
	}
	rs, ok := parsed.(*avro.RecordSchema)
	if !ok {
		return nil, &SchemaParseError{Reason: fmt.Sprintf("writer schema is a %s, not a record", parsed.Type())}
	}

	codec, err := codecFor(h.Codec())
	if err != nil {
		return nil, &SchemaParseError{Reason: "invalid codec", Err: err}
	}

	ch.SetMarker(h.Sync[:])
	return &Reader{
		ch:         ch,
		header:     h,
		avroSchema: rs,
		schema:     rowSchema(rs),
		codec:      codec,
		blockStart: h.Size,
		nextBlock:  h.Size,
		bound:      -1,
	}, nil
}

func (r *Reader) Schema() table.Schema {
	return r.schema
}

func (r *Reader) AvroSchema() *avro.RecordSchema {
	return r.avroSchema
}

func (r *Reader) Header() Header {
	return r.header
}

func (r *Reader) MarkerSize() int {
	return MarkerSize
}

func (r *Reader) Size() int64 {
	return r.ch.Size()
}

// Align finds the first block starting after a marker that begins at or after pos and positions the reader
// there.
func (r *Reader) Align(pos int64) (int64, error) {
	start, err := r.ch.AdvanceToNextMarker(pos)
	if err != nil {
		return 0, err
	}
	r.reset(start)
	return start, nil
}

// SeekTo positions the reader at a block boundary previously returned by Align.
func (r *Reader) SeekTo(blockStart int64) error {
	if err := r.ch.SeekTo(blockStart); err != nil {
		return err
	}
	r.reset(r.ch.Tell())
	return nil
}

func (r *Reader) reset(pos int64) {
	r.blockStart = pos
	r.nextBlock = pos
	r.remaining = 0
	r.dec = nil
}

// Bound keeps HasNext from loading any block starting at or after end. Without it, a run of empty blocks
// could make HasNext cross into the next window before PastMarkerAt gets a chance to stop the scan.
func (r *Reader) Bound(end int64) {
	r.bound = end
}

// PastMarkerAt reports whether the reader has moved beyond the marker starting at pos, meaning the
// current block starts after it or the stream is exhausted.
func (r *Reader) PastMarkerAt(pos int64) bool {
	return r.blockStart >= pos+MarkerSize || r.blockStart >= r.ch.Size()
}

// HasNext reports whether a record remains, loading the next block when the current one is exhausted.
func (r *Reader) HasNext() (bool, error) {
	if r.closed {
		return false, sync_channel.ErrClosed
	}
	for r.remaining == 0 {
		if r.nextBlock >= r.ch.Size() || (r.bound >= 0 && r.nextBlock >= r.bound) {
			r.blockStart = r.nextBlock
			return false, nil
		}
		if err := r.loadBlock(); err != nil {
			return false, err
		}
	}
	return true, nil
}

func (r *Reader) loadBlock() error {
	if err := r.ch.SeekTo(r.nextBlock); err != nil {
		return err
	}
	start := r.ch.Tell()
	r.blockStart = start

	ar := newAvroReader(r.ch)
	count := ar.ReadLong()
	size := ar.ReadLong()
	if ar.Error != nil {
		return blockErr(start, "reading block header", ar.Error)
	}
	if count < 0 {
		return &sync_channel.CorruptContainerError{Offset: start, Reason: fmt.Sprintf("negative block count %d", count)}
	}
	if size < 0 || size > r.ch.Size()-r.ch.Tell()-MarkerSize {
		return &sync_channel.CorruptContainerError{Offset: start, Reason: fmt.Sprintf("block size %d out of bounds", size)}
	}

	payload := make([]byte, size)
	if err := r.ch.ReadFull(payload); err != nil {
		return blockErr(start, "reading block payload", err)
	}
	var sync [MarkerSize]byte
	if err := r.ch.ReadFull(sync[:]); err != nil {
		return blockErr(start, "reading block marker", err)
	}
	if sync != r.header.Sync {
		return &sync_channel.CorruptContainerError{Offset: r.ch.Tell() - MarkerSize, Reason: "invalid sync marker"}
	}

	data, err := r.codec.Decode(payload)
	if err != nil {
		return &sync_channel.CorruptContainerError{Offset: start, Reason: "decompressing block", Err: err}
	}

	r.nextBlock = r.ch.Tell()
	r.remaining = count
	r.dec = avro.NewDecoderForSchema(r.avroSchema, bytes.NewReader(data))
	if count == 0 {
		r.blockStart = r.nextBlock
	}
	return nil
}

func blockErr(offset int64, reason string, err error) error {
	var ioErr *sync_channel.IOError
	if errors.As(err, &ioErr) {
		return ioErr
	}
	var corrupt *sync_channel.CorruptContainerError
	if errors.As(err, &corrupt) {
		return corrupt
	}
	if errors.Is(err, sync_channel.ErrClosed) {
		return sync_channel.ErrClosed
	}
	return &sync_channel.CorruptContainerError{Offset: offset, Reason: reason, Err: err}
}

// Next decodes the next record.
func (r *Reader) Next() (table.Record, error) {
	ok, err := r.HasNext()
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNoMoreRecords
	}

	var m map[string]any
	if err := r.dec.Decode(&m); err != nil {
		return nil, &sync_channel.CorruptContainerError{Offset: r.blockStart, Reason: "decoding record", Err: err}
	}
	r.remaining--
	if r.remaining == 0 {
		r.blockStart = r.nextBlock
	}
	return toRecord(r.avroSchema, m), nil
}

// Close releases the channel and the source under it. Safe to call more than once.
func (r *Reader) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	r.codec.Close()
	r.dec = nil
	return r.ch.Close()
}
