package pipeline

import (
	"fmt"

	"github.com/danthegoodman1/avrosplit/utils"
	"github.com/go-playground/validator/v10"
)

type Config struct {
	// ChunkSize is the target byte length of a split
	ChunkSize int64 `validate:"gt=0"`
	KeyRange  int   `validate:"gte=1"`
	Workers   int   `validate:"gte=1"`
	// MaxAttempts counts the first attempt, 1 disables retries
	MaxAttempts int   `validate:"gte=1"`
	Lookback    int64 `validate:"gte=0"`
}

var validate = validator.New()

func ConfigFromEnv() Config {
	return Config{
		ChunkSize:   utils.GetEnvOrDefaultInt("CHUNK_SIZE", 64*1024*1024),
		KeyRange:    int(utils.GetEnvOrDefaultInt("KEY_RANGE", 100)),
		Workers:     int(utils.GetEnvOrDefaultInt("WORKERS", 8)),
		MaxAttempts: int(utils.GetEnvOrDefaultInt("MAX_ATTEMPTS", 3)),
		Lookback:    utils.GetEnvOrDefaultInt("LOOKBACK", 0),
	}
}

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid pipeline config: %w", err)
	}
	return nil
}
