package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/danthegoodman1/avrosplit/datastore"
	"github.com/danthegoodman1/avrosplit/metastore"
	"github.com/danthegoodman1/avrosplit/parquet_accumulator"
)

type (
	// AvroSplit holds the collaborators shared by every request, so they can be shut down in order.
	AvroSplit struct {
		ClaimStore metastore.ClaimStore
		DataStore  datastore.DataStore
		Sink       *parquet_accumulator.Sink
	}
)

func NewAvroSplit(cs metastore.ClaimStore, ds datastore.DataStore, sink *parquet_accumulator.Sink) *AvroSplit {
	return &AvroSplit{
		ClaimStore: cs,
		DataStore:  ds,
		Sink:       sink,
	}
}

// Shutdown flushes buffered rows into parts before closing the stores they depend on.
func (a *AvroSplit) Shutdown(ctx context.Context) error {
	var errs []error
	parts, err := a.Sink.Close(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("error in Sink.Close: %w", err))
	}
	logger.Info().Int("parts", len(parts)).Msg("flushed sink")
	if err := a.ClaimStore.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("error shutting down claim store: %w", err))
	}
	if err := a.DataStore.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("error shutting down data store: %w", err))
	}
	return errors.Join(errs...)
}
