package container

import (
	"errors"
	"fmt"
)

var ErrNoMoreRecords = errors.New("no more records")

// SchemaParseError means the container header cannot be used. It is fatal for the whole file.
type SchemaParseError struct {
	Reason string
	Err    error
}

func (e *SchemaParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("schema parse error: %s: %s", e.Reason, e.Err)
	}
	return "schema parse error: " + e.Reason
}

func (e *SchemaParseError) Unwrap() error {
	return e.Err
}

func (e *SchemaParseError) IsPermanent() bool {
	return true
}
