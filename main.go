package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danthegoodman1/avrosplit/crdb"
	"github.com/danthegoodman1/avrosplit/datastore"
	"github.com/danthegoodman1/avrosplit/gologger"
	"github.com/danthegoodman1/avrosplit/http_server"
	"github.com/danthegoodman1/avrosplit/metastore"
	"github.com/danthegoodman1/avrosplit/migrations"
	"github.com/danthegoodman1/avrosplit/parquet_accumulator"
	"github.com/danthegoodman1/avrosplit/pipeline"
	"github.com/danthegoodman1/avrosplit/s3_helper"
	"github.com/danthegoodman1/avrosplit/utils"
)

var logger = gologger.NewLogger()

func main() {
	logger.Debug().Msg("starting avrosplit")
	ctx := logger.WithContext(context.Background())

	cfg := pipeline.ConfigFromEnv()
	if err := cfg.Validate(); err != nil {
		logger.Error().Err(err).Msg("invalid config")
		os.Exit(1)
	}

	store, err := newDataStore()
	if err != nil {
		logger.Error().Err(err).Msg("error creating data store")
		os.Exit(1)
	}

	claims, err := newClaimStore(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("error creating claim store")
		os.Exit(1)
	}

	sink := parquet_accumulator.NewSink(store, utils.OUTPUT_PREFIX, int(utils.GetEnvOrDefaultInt("MAX_ROWS_PER_FILE", 100_000)))
	app := NewAvroSplit(claims, store, sink)

	httpServer := http_server.StartHTTPServer(http_server.Deps{
		Store:  app.DataStore,
		Claims: app.ClaimStore,
		Sink:   app.Sink,
		Config: cfg,
	})

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)
	<-c
	logger.Warn().Msg("received shutdown signal!")

	// For AWS ALB needing some time to de-register pod
	sleepTime := utils.GetEnvOrDefaultInt("SHUTDOWN_SLEEP_SEC", 0)
	logger.Info().Msg(fmt.Sprintf("sleeping for %ds before exiting", sleepTime))

	time.Sleep(time.Second * time.Duration(sleepTime))
	logger.Info().Msg(fmt.Sprintf("slept for %ds, exiting", sleepTime))

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()
	if err := httpServer.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown HTTP server")
	} else {
		logger.Info().Msg("successfully shutdown HTTP server")
	}

	if err := app.Shutdown(ctx); err != nil {
		logger.Error().Err(err).Msg("failed to shutdown cleanly")
	} else {
		logger.Info().Msg("successfully shutdown")
	}
}

func newDataStore() (datastore.DataStore, error) {
	switch utils.DATA_STORE {
	case "disk":
		return datastore.NewDiskDataStore(utils.DISK_ROOT)
	case "s3":
		return datastore.NewS3DataStore(s3_helper.ConfigFromEnv())
	default:
		return nil, fmt.Errorf("unknown DATA_STORE %q", utils.DATA_STORE)
	}
}

func newClaimStore(ctx context.Context) (metastore.ClaimStore, error) {
	switch utils.CLAIM_STORE {
	case "memory":
		return metastore.NewMemoryClaimStore(), nil
	case "redis":
		return metastore.NewRedisClaimStore(ctx, utils.REDIS_ADDR, utils.REDIS_PASSWORD)
	case "crdb":
		applied, err := migrations.RunMigrations(utils.CRDB_DSN)
		if err != nil {
			return nil, fmt.Errorf("error running migrations: %w", err)
		}
		logger.Debug().Int("applied", applied).Msg("ran migrations")
		if err := migrations.CheckMigrations(utils.CRDB_DSN); err != nil {
			return nil, fmt.Errorf("error checking migrations: %w", err)
		}
		pool, err := crdb.ConnectToDB(ctx, utils.CRDB_DSN)
		if err != nil {
			return nil, fmt.Errorf("error connecting to CRDB: %w", err)
		}
		return metastore.NewCRDBClaimStore(pool), nil
	default:
		return nil, fmt.Errorf("unknown CLAIM_STORE %q", utils.CLAIM_STORE)
	}
}
