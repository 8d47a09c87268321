package mapfile

import (
	"errors"
	"fmt"
)

var (
	// ErrFormatViolation marks malformed block content. It aborts the current block only.
	ErrFormatViolation = errors.New("format violation")

	// ErrIndexCorruption marks a block pointer outside the sub-file. It aborts the whole query.
	ErrIndexCorruption = errors.New("index corruption")

	// ErrIOFailure marks a failed or truncated read of block data.
	ErrIOFailure = errors.New("i/o failure")

	// ErrNoSubFile is returned when the file holds no sub-file for the query zoom level.
	ErrNoSubFile = errors.New("no sub-file for zoom level")

	// ErrInvalidHeader is returned when the file header cannot be parsed.
	ErrInvalidHeader = errors.New("invalid map file header")
)

// formatError wraps ErrFormatViolation with a message.
func formatError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrFormatViolation, fmt.Sprintf(format, args...))
}

// BlockError reports a failure confined to one block of the query grid
type BlockError struct {
	Row, Column int64
	Err         error
}

func (e *BlockError) Error() string {
	return fmt.Sprintf("block row=%d col=%d: %v", e.Row, e.Column, e.Err)
}

func (e *BlockError) Unwrap() error {
	return e.Err
}
