package parquet_accumulator

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/danthegoodman1/avrosplit/datastore"
	"github.com/danthegoodman1/avrosplit/gologger"
	"github.com/danthegoodman1/avrosplit/part"
	"github.com/danthegoodman1/avrosplit/partitioner"
	"github.com/danthegoodman1/avrosplit/table"
	"github.com/danthegoodman1/avrosplit/utils"
	"github.com/rs/zerolog"
	"github.com/xitongsys/parquet-go/writer"
)

var (
	logger = gologger.NewLogger()

	ErrSinkClosed = errors.New("sink closed")
)

type (
	// Sink buffers emitted rows per shard key and writes them as parquet parts to a data store.
	// It is safe for concurrent use.
	Sink struct {
		store   datastore.DataStore
		prefix  string
		maxRows int

		mu      sync.Mutex
		buffers map[partitioner.ShardKey]*shardBuffer
		written []part.Part
		closed  bool
	}

	shardBuffer struct {
		accumulator  ParquetSchemaAccumulator
		rows         []table.Row
		minTimestamp time.Time
		maxTimestamp time.Time
	}
)

func NewSink(store datastore.DataStore, prefix string, maxRowsPerFile int) *Sink {
	if maxRowsPerFile < 1 {
		maxRowsPerFile = 1
	}
	return &Sink{
		store:   store,
		prefix:  prefix,
		maxRows: maxRowsPerFile,
		buffers: make(map[partitioner.ShardKey]*shardBuffer),
	}
}

func (s *Sink) Emit(ctx context.Context, key partitioner.ShardKey, row table.Row, ts time.Time) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSinkClosed
	}
	buf, exists := s.buffers[key]
	if !exists {
		buf = &shardBuffer{accumulator: NewParquetAccumulator(), minTimestamp: ts, maxTimestamp: ts}
		s.buffers[key] = buf
	}
	buf.accumulator.WriteRow(row)
	buf.rows = append(buf.rows, row)
	if ts.Before(buf.minTimestamp) {
		buf.minTimestamp = ts
	}
	if ts.After(buf.maxTimestamp) {
		buf.maxTimestamp = ts
	}

	var full *shardBuffer
	if len(buf.rows) >= s.maxRows {
		full = buf
		delete(s.buffers, key)
	}
	s.mu.Unlock()

	if full == nil {
		return nil
	}
	p, err := s.writePart(ctx, key, full)
	if err != nil {
		s.restore(key, full)
		return err
	}
	s.mu.Lock()
	s.written = append(s.written, p)
	s.mu.Unlock()
	return nil
}

// Flush writes every buffered shard and returns all parts written since the previous Flush.
func (s *Sink) Flush(ctx context.Context) ([]part.Part, error) {
	s.mu.Lock()
	pending := s.buffers
	s.buffers = make(map[partitioner.ShardKey]*shardBuffer)
	s.mu.Unlock()

	var parts []part.Part
	var firstErr error
	for key, buf := range pending {
		p, err := s.writePart(ctx, key, buf)
		if err != nil {
			logger.Error().Err(err).Str("shard", key.String()).Int("rows", len(buf.rows)).Msg("error flushing shard")
			s.restore(key, buf)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		parts = append(parts, p)
	}

	s.mu.Lock()
	parts = append(s.written, parts...)
	s.written = nil
	s.mu.Unlock()
	return parts, firstErr
}

// restore puts back a buffer whose write failed so its rows go out with the next write of the shard.
// Rows emitted to the shard in the meantime are appended after it.
func (s *Sink) restore(key partitioner.ShardKey, failed *shardBuffer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if newer, exists := s.buffers[key]; exists {
		for _, row := range newer.rows {
			failed.accumulator.WriteRow(row)
		}
		failed.rows = append(failed.rows, newer.rows...)
		if newer.minTimestamp.Before(failed.minTimestamp) {
			failed.minTimestamp = newer.minTimestamp
		}
		if newer.maxTimestamp.After(failed.maxTimestamp) {
			failed.maxTimestamp = newer.maxTimestamp
		}
	}
	s.buffers[key] = failed
}

// Close flushes and rejects later emits.
func (s *Sink) Close(ctx context.Context) ([]part.Part, error) {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return s.Flush(ctx)
}

func (s *Sink) partKey(key partitioner.ShardKey, id string) string {
	return path.Join(s.prefix, key.File, key.PartitionPath(), id+".parquet")
}

func (s *Sink) writePart(ctx context.Context, key partitioner.ShardKey, buf *shardBuffer) (part.Part, error) {
	logger := zerolog.Ctx(ctx)
	parquetSchema, err := buf.accumulator.GetSchemaString()
	if err != nil {
		return part.Part{}, fmt.Errorf("error in GetSchemaString: %w", err)
	}

	var b bytes.Buffer
	pw, err := writer.NewJSONWriterFromWriter(parquetSchema, &b, 4)
	if err != nil {
		return part.Part{}, fmt.Errorf("error in NewJSONWriterFromWriter: %w", err)
	}
	for _, row := range buf.rows {
		obj := make(map[string]string, len(row.ColNames))
		for i, col := range row.ColNames {
			obj[col] = row.ColVals[i]
		}
		rowBytes, err := json.Marshal(obj)
		if err != nil {
			return part.Part{}, fmt.Errorf("error in json.Marshal of row: %w", err)
		}
		if err := pw.Write(string(rowBytes)); err != nil {
			return part.Part{}, fmt.Errorf("error in pw.Write for row %s: %w", string(rowBytes), err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return part.Part{}, fmt.Errorf("error in pw.WriteStop: %w", err)
	}

	id := utils.GenKSortedID("")
	p := part.Part{
		ID:           id,
		Key:          s.partKey(key, id),
		File:         key.File,
		Shard:        key.Index,
		RowCount:     int64(len(buf.rows)),
		Bytes:        int64(b.Len()),
		Columns:      buf.accumulator.GetColumnNames(),
		CreatedAt:    time.Now(),
		MinTimestamp: buf.minTimestamp,
		MaxTimestamp: buf.maxTimestamp,
	}
	if err := s.store.WriteFile(ctx, p.Key, &b); err != nil {
		return part.Part{}, fmt.Errorf("error writing part %s: %w", p.Key, err)
	}
	logger.Debug().Str("key", p.Key).Int64("rows", p.RowCount).Int64("bytes", p.Bytes).Msg("wrote part")
	return p, nil
}
