package utils

import "os"

var (
	CRDB_DSN = os.Getenv("CRDB_DSN")

	AWS_ACCESS_KEY_ID     = os.Getenv("AWS_ACCESS_KEY_ID")
	AWS_SECRET_ACCESS_KEY = os.Getenv("AWS_SECRET_ACCESS_KEY")
	AWS_DEFAULT_REGION    = GetEnvOrDefault("AWS_DEFAULT_REGION", "us-east-1")

	S3_BUCKET_NAME = os.Getenv("S3_BUCKET_NAME")
	S3_ENDPOINT    = os.Getenv("S3_ENDPOINT")

	REDIS_ADDR     = GetEnvOrDefault("REDIS_ADDR", "localhost:6379")
	REDIS_PASSWORD = os.Getenv("REDIS_PASSWORD")

	// DATA_STORE is where containers are read from and parts are written to: disk or s3
	DATA_STORE    = GetEnvOrDefault("DATA_STORE", "disk")
	DISK_ROOT     = GetEnvOrDefault("DISK_ROOT", ".")
	OUTPUT_PREFIX = GetEnvOrDefault("OUTPUT_PREFIX", "out")

	// CLAIM_STORE is memory, redis, or crdb
	CLAIM_STORE = GetEnvOrDefault("CLAIM_STORE", "memory")
)
