package restriction

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	ErrInvalidChunkSize = errors.New("chunk size must be greater than 0")
	ErrInvalidSize      = errors.New("size must not be negative")
	ErrInvalidWorkKey   = errors.New("invalid work key")
)

// ByteRange is a half open byte interval [From, To) of one file.
type ByteRange struct {
	From int64
	To   int64
}

func (r ByteRange) Len() int64 {
	return r.To - r.From
}

func (r ByteRange) Contains(pos int64) bool {
	return pos >= r.From && pos < r.To
}

// Overlaps reports whether the two ranges share at least one byte.
func (r ByteRange) Overlaps(o ByteRange) bool {
	return r.From < o.To && o.From < r.To
}

func (r ByteRange) String() string {
	return fmt.Sprintf("[%d, %d)", r.From, r.To)
}

// WorkKey renders the range as a "file~from~to" work unit key.
func (r ByteRange) WorkKey(file string) string {
	return fmt.Sprintf("%s~%d~%d", file, r.From, r.To)
}

// ParseWorkKey is the inverse of WorkKey. The file part may itself contain '~'.
func ParseWorkKey(key string) (string, ByteRange, error) {
	i := strings.LastIndexByte(key, '~')
	if i < 0 {
		return "", ByteRange{}, fmt.Errorf("%w: %q", ErrInvalidWorkKey, key)
	}
	j := strings.LastIndexByte(key[:i], '~')
	if j <= 0 {
		return "", ByteRange{}, fmt.Errorf("%w: %q", ErrInvalidWorkKey, key)
	}
	from, err := strconv.ParseInt(key[j+1:i], 10, 64)
	if err != nil {
		return "", ByteRange{}, fmt.Errorf("%w: %q: %s", ErrInvalidWorkKey, key, err)
	}
	to, err := strconv.ParseInt(key[i+1:], 10, 64)
	if err != nil {
		return "", ByteRange{}, fmt.Errorf("%w: %q: %s", ErrInvalidWorkKey, key, err)
	}
	if from < 0 || from >= to {
		return "", ByteRange{}, fmt.Errorf("%w: %q: empty range", ErrInvalidWorkKey, key)
	}
	return key[:j], ByteRange{From: from, To: to}, nil
}

// InitialExtent is the range spanning a whole file.
func InitialExtent(size int64) ByteRange {
	return ByteRange{From: 0, To: size}
}

// Split cuts [0, totalSize) into consecutive chunks of chunkSize bytes, the last one possibly shorter.
func Split(totalSize, chunkSize int64) ([]ByteRange, error) {
	return SplitExtent(InitialExtent(totalSize), chunkSize)
}

// SplitExtent cuts r into consecutive chunks of chunkSize bytes starting at r.From.
// An empty range yields no chunks.
func SplitExtent(r ByteRange, chunkSize int64) ([]ByteRange, error) {
	if chunkSize <= 0 {
		return nil, ErrInvalidChunkSize
	}
	if r.From < 0 || r.To < r.From {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSize, r)
	}
	out := make([]ByteRange, 0, r.Len()/chunkSize+1)
	for from, to := r.From, r.From; from < r.To; from = to {
		to = from + chunkSize
		if to > r.To || to < from {
			to = r.To
		}
		out = append(out, ByteRange{From: from, To: to})
	}
	return out, nil
}
