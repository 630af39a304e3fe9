package http_server

import (
	"context"
	"net/http"
	"time"

	"github.com/danthegoodman1/avrosplit/part"
	"github.com/danthegoodman1/avrosplit/pipeline"
	"github.com/danthegoodman1/avrosplit/utils"
	"github.com/rs/zerolog"
)

type (
	IngestReqBody struct {
		// Keys of the containers to ingest
		Files []string `validate:"required_without=Prefix,dive,required"`
		// Ingest every stored key under Prefix instead of listing Files
		Prefix string
		// Override the configured split size
		ChunkSize *int64 `validate:"omitempty,gt=0"`
		// Override the configured shard count per file
		KeyRange *int `validate:"omitempty,gte=1"`
		// Default `300`
		MaxRuntimeSec *int64 `validate:"omitempty,gt=0"`
	}

	IngestStats struct {
		Files        []pipeline.FileResult
		Parts        []part.Part
		NumRecords   int64
		NumRows      int64
		NumParts     int64
		BytesWritten int64
		FailedFiles  int64
		TimeMS       int64
	}
)

func (s *HTTPServer) IngestHandler(c *CustomContext) error {
	var reqBody IngestReqBody
	if err := ValidateRequest(c, &reqBody); err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), time.Second*time.Duration(utils.Deref(reqBody.MaxRuntimeSec, 300)))
	defer cancel()
	logger := zerolog.Ctx(ctx)
	start := time.Now()

	cfg := s.deps.Config
	cfg.ChunkSize = utils.Deref(reqBody.ChunkSize, cfg.ChunkSize)
	cfg.KeyRange = utils.Deref(reqBody.KeyRange, cfg.KeyRange)
	runner, err := pipeline.NewRunner(s.deps.Store, s.deps.Claims, s.deps.Sink, cfg)
	if err != nil {
		return c.String(http.StatusBadRequest, err.Error())
	}

	files := reqBody.Files
	if len(files) == 0 {
		files, err = s.deps.Store.ListFiles(ctx, reqBody.Prefix)
		if err != nil {
			return c.InternalError(err, "error listing files")
		}
	}
	logger.Debug().Int("files", len(files)).Str("owner", runner.Owner()).Msg("ingesting")

	results, err := runner.Ingest(ctx, files)
	if err != nil {
		return c.InternalError(err, "error ingesting files")
	}

	parts, err := s.deps.Sink.Flush(ctx)
	if err != nil {
		return c.InternalError(err, "error flushing sink")
	}

	stats := IngestStats{
		Files:    results,
		Parts:    utils.ArrayOrEmpty(parts),
		NumParts: int64(len(parts)),
	}
	stats.NumRows, stats.BytesWritten = part.Summary(parts)
	for _, res := range results {
		stats.NumRecords += res.Records
		if res.Err != nil {
			stats.FailedFiles++
		}
	}
	stats.TimeMS = time.Since(start).Milliseconds()

	return c.JSON(http.StatusOK, stats)
}
