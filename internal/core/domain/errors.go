package domain

import (
	"errors"
	"fmt"
)

var (
	ErrExtraction         = errors.New("extraction failed")
	ErrCorpusCorruption   = errors.New("corpus shard corrupt")
	ErrShardNameCollision = errors.New("shard name collision")
	ErrSourceNotFound     = errors.New("source document not found")
	ErrInvalidInput       = errors.New("invalid input")
	ErrTemporary          = errors.New("temporary failure")
)

// WrapError preserves typed semantic errors with operation context.
func WrapError(kind error, operation string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", operation, kind, err)
}

func IsKind(err error, kind error) bool {
	return errors.Is(err, kind)
}
