package datastore

import (
	"context"
	"errors"
	"io"

	"github.com/danthegoodman1/avrosplit/gologger"
)

var (
	logger = gologger.NewLogger()

	ErrNotFound   = errors.New("file not found")
	ErrInvalidKey = errors.New("invalid file key")
)

type (
	// File is a random access handle on one stored object. Every split opens its own.
	File interface {
		io.ReaderAt
		io.Closer
		SizeBytes() int64
	}

	DataStore interface {
		// OpenFile opens a container for ranged reads
		OpenFile(ctx context.Context, key string) (File, error)
		// ListFiles lists the keys starting with prefix, sorted
		ListFiles(ctx context.Context, prefix string) ([]string, error)
		// WriteFile stores the whole content of r under key
		WriteFile(ctx context.Context, key string, r io.Reader) error

		Shutdown(ctx context.Context) error
	}
)
