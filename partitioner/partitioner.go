package partitioner

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
)

type (
	// ShardKey spreads output of one file over a bounded number of downstream keys. It carries no ordering
	// or grouping guarantee.
	ShardKey struct {
		File  string
		Index int
	}

	// IntnFunc returns a uniformly random int in [0, n).
	IntnFunc func(n int) int

	// Assigner picks shard keys. It holds no state between calls apart from its random source.
	Assigner struct {
		Intn IntnFunc
	}
)

var (
	ErrInvalidKeyRange = errors.New("key range must be at least 1")
	ErrInvalidShardKey = errors.New("invalid shard key")
)

// NewAssigner uses the global math/rand source, which is safe for concurrent use.
func NewAssigner() *Assigner {
	return &Assigner{Intn: rand.Intn}
}

func (a *Assigner) Assign(file string, keyRange int) (ShardKey, error) {
	if keyRange < 1 {
		return ShardKey{}, fmt.Errorf("%w: %d", ErrInvalidKeyRange, keyRange)
	}
	intn := a.Intn
	if intn == nil {
		intn = rand.Intn
	}
	i := intn(keyRange)
	if i < 0 || i >= keyRange {
		return ShardKey{}, fmt.Errorf("random source returned %d outside [0, %d)", i, keyRange)
	}
	return ShardKey{File: file, Index: i}, nil
}

// String renders "<file>~<index>".
func (k ShardKey) String() string {
	return k.File + "~" + strconv.Itoa(k.Index)
}

// PartitionPath is the hive style directory of the shard below its file.
func (k ShardKey) PartitionPath() string {
	return fmt.Sprintf("shard=%d", k.Index)
}

func ParseShardKey(s string) (ShardKey, error) {
	i := strings.LastIndexByte(s, '~')
	if i < 0 {
		return ShardKey{}, fmt.Errorf("%w: %q", ErrInvalidShardKey, s)
	}
	n, err := strconv.Atoi(s[i+1:])
	if err != nil || n < 0 {
		return ShardKey{}, fmt.Errorf("%w: %q", ErrInvalidShardKey, s)
	}
	return ShardKey{File: s[:i], Index: n}, nil
}

// Sequence returns an IntnFunc that cycles through vals, for deterministic assignment.
func Sequence(vals ...int) IntnFunc {
	i := 0
	return func(n int) int {
		v := vals[i%len(vals)] % n
		i++
		return v
	}
}
