package container

import (
	"bytes"
	"errors"
	"fmt"

	"github.com/danthegoodman1/avrosplit/sync_channel"
	"github.com/hamba/avro/v2"
	"github.com/hamba/avro/v2/ocf"
)

const (
	// MarkerSize is the length of the sync marker between blocks
	MarkerSize = 16

	metaSchema = "avro.schema"
	metaCodec  = "avro.codec"
)

var magic = []byte{'O', 'b', 'j', 1}

type Header struct {
	Meta map[string][]byte
	Sync [MarkerSize]byte
	// Size is the header length in bytes, which is also the offset of the first block
	Size int64
}

func (h Header) Codec() string {
	return string(h.Meta[metaCodec])
}

func (h Header) SchemaJSON() string {
	return string(h.Meta[metaSchema])
}

// newAvroReader reads avro primitives straight off the channel. The one byte buffer keeps it from
// consuming anything past what it decodes, so the channel cursor stays exact.
func newAvroReader(ch *sync_channel.Channel) *avro.Reader {
	return avro.NewReader(ch, 1)
}

// readHeader reads the container header from the start of the channel. Source failures are returned as-is,
// anything malformed is a SchemaParseError.
func readHeader(ch *sync_channel.Channel) (Header, error) {
	h := Header{Meta: make(map[string][]byte)}
	if err := ch.SeekTo(0); err != nil {
		return h, err
	}

	m := make([]byte, len(magic))
	if err := ch.ReadFull(m); err != nil {
		return h, headerErr("reading magic", err)
	}
	if !bytes.Equal(m, magic) {
		return h, &SchemaParseError{Reason: fmt.Sprintf("bad magic %q", m)}
	}
	if err := ch.SeekTo(0); err != nil {
		return h, err
	}

	var raw ocf.Header
	ar := newAvroReader(ch)
	ar.ReadVal(ocf.HeaderSchema, &raw)
	if ar.Error != nil {
		return h, headerErr("reading header", ar.Error)
	}
	for k, v := range raw.Meta {
		h.Meta[k] = v
	}
	h.Sync = raw.Sync
	h.Size = ch.Tell()

	if _, ok := h.Meta[metaSchema]; !ok {
		return h, &SchemaParseError{Reason: "missing " + metaSchema}
	}
	return h, nil
}

func headerErr(reason string, err error) error {
	var ioErr *sync_channel.IOError
	if errors.As(err, &ioErr) {
		return ioErr
	}
	if errors.Is(err, sync_channel.ErrClosed) {
		return sync_channel.ErrClosed
	}
	return &SchemaParseError{Reason: reason, Err: err}
}
