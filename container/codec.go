package container

import (
	"bytes"
	"compress/flate"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
)

const (
	CodecNull      = "null"
	CodecDeflate   = "deflate"
	CodecSnappy    = "snappy"
	CodecZstandard = "zstandard"
)

var ErrChecksumMismatch = errors.New("block checksum mismatch")

// Codec decompresses one block payload.
type Codec interface {
	Decode(block []byte) ([]byte, error)
	Close()
}

func codecFor(name string) (Codec, error) {
	switch name {
	case "", CodecNull:
		return nullCodec{}, nil
	case CodecDeflate:
		return deflateCodec{}, nil
	case CodecSnappy:
		return snappyCodec{}, nil
	case CodecZstandard:
		dec, err := zstd.NewReader(nil, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, fmt.Errorf("error in zstd.NewReader: %w", err)
		}
		return &zstdCodec{dec: dec}, nil
	default:
		return nil, fmt.Errorf("unsupported codec %q", name)
	}
}

type nullCodec struct{}

func (nullCodec) Decode(block []byte) ([]byte, error) { return block, nil }
func (nullCodec) Close()                             {}

type deflateCodec struct{}

func (deflateCodec) Decode(block []byte) ([]byte, error) {
	r := flate.NewReader(bytes.NewReader(block))
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("error inflating block: %w", err)
	}
	return out, nil
}

func (deflateCodec) Close() {}

// snappy blocks carry a big endian CRC32 of the uncompressed data after the compressed bytes
type snappyCodec struct{}

func (snappyCodec) Decode(block []byte) ([]byte, error) {
	if len(block) < 4 {
		return nil, fmt.Errorf("snappy block of %d bytes has no checksum", len(block))
	}
	out, err := snappy.Decode(nil, block[:len(block)-4])
	if err != nil {
		return nil, fmt.Errorf("error in snappy.Decode: %w", err)
	}
	if crc32.ChecksumIEEE(out) != binary.BigEndian.Uint32(block[len(block)-4:]) {
		return nil, ErrChecksumMismatch
	}
	return out, nil
}

func (snappyCodec) Close() {}

type zstdCodec struct {
	dec *zstd.Decoder
}

func (z *zstdCodec) Decode(block []byte) ([]byte, error) {
	out, err := z.dec.DecodeAll(block, nil)
	if err != nil {
		return nil, fmt.Errorf("error in zstd DecodeAll: %w", err)
	}
	return out, nil
}

func (z *zstdCodec) Close() {
	z.dec.Close()
}
