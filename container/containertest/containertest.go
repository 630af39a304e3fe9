// Package containertest builds object container fixtures for tests.
package containertest

import (
	"bytes"
	"errors"
	"io"
	"sync/atomic"
	"testing"

	"github.com/hamba/avro/v2/ocf"
)

const markerSize = 16

// UserSchema is a small record schema with a nullable field, used across package tests.
const UserSchema = `{
	"type": "record",
	"name": "User",
	"namespace": "test",
	"fields": [
		{"name": "id", "type": "long"},
		{"name": "name", "type": "string"},
		{"name": "email", "type": ["null", "string"], "default": null}
	]
}`

// Write encodes records into a container with blockLen records per block.
func Write(t testing.TB, schema string, codec ocf.CodecName, blockLen int, records []map[string]any) []byte {
	t.Helper()
	var buf bytes.Buffer
	enc, err := ocf.NewEncoder(schema, &buf, ocf.WithBlockLength(blockLen), ocf.WithCodec(codec))
	if err != nil {
		t.Fatal(err)
	}
	for _, rec := range records {
		if err := enc.Encode(rec); err != nil {
			t.Fatal(err)
		}
	}
	if err := enc.Close(); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

// Users returns n records for UserSchema. Every third record has a null email.
func Users(n int) []map[string]any {
	out := make([]map[string]any, n)
	for i := range out {
		rec := map[string]any{
			"id":    int64(i),
			"name":  "user-" + string(rune('a'+i%26)),
			"email": nil,
		}
		if i%3 != 0 {
			rec["email"] = rec["name"].(string) + "@example.com"
		}
		out[i] = rec
	}
	return out
}

// Marker returns the sync marker of a container, which is always its last 16 bytes.
func Marker(data []byte) []byte {
	if len(data) < markerSize {
		return nil
	}
	return data[len(data)-markerSize:]
}

// BlockStarts returns the offset of every data block in the container.
func BlockStarts(data []byte) []int64 {
	marker := Marker(data)
	if marker == nil {
		return nil
	}
	var starts []int64
	for off := 0; ; {
		i := bytes.Index(data[off:], marker)
		if i < 0 {
			break
		}
		end := off + i + markerSize
		if end < len(data) {
			starts = append(starts, int64(end))
		}
		off = end
	}
	return starts
}

// Source is an in-memory ByteSource that counts Close calls. OnRead, when set, can fail individual reads.
type Source struct {
	data   []byte
	OnRead func(off int64, n int) error
	closes atomic.Int32
}

var ErrInjected = errors.New("injected read failure")

func NewSource(data []byte) *Source {
	return &Source{data: data}
}

// FailRange fails every read overlapping [from, to) with ErrInjected.
func FailRange(from, to int64) func(off int64, n int) error {
	return func(off int64, n int) error {
		if off < to && off+int64(n) > from {
			return ErrInjected
		}
		return nil
	}
}

func (s *Source) SizeBytes() int64 {
	return int64(len(s.data))
}

func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if s.OnRead != nil {
		if err := s.OnRead(off, len(p)); err != nil {
			return 0, err
		}
	}
	if off >= int64(len(s.data)) {
		return 0, io.EOF
	}
	n := copy(p, s.data[off:])
	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

func (s *Source) Close() error {
	s.closes.Add(1)
	return nil
}

func (s *Source) Closes() int {
	return int(s.closes.Load())
}
