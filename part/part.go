package part

import "time"

type (
	// Part is one parquet file written for a shard of a source file.
	Part struct {
		ID string
		// Key is where the part was stored in the data store
		Key       string
		File      string
		Shard     int
		RowCount  int64
		Bytes     int64
		Columns   []string
		CreatedAt time.Time
		// MinTimestamp and MaxTimestamp bound the processing timestamps of the rows
		MinTimestamp time.Time
		MaxTimestamp time.Time
	}
)

// Summary adds up parts, for reporting.
func Summary(parts []Part) (rows, bytes int64) {
	for _, p := range parts {
		rows += p.RowCount
		bytes += p.Bytes
	}
	return
}
