package rope

import "errors"

var (
	ErrInvalidConfig      = errors.New("rope: invalid config")
	ErrPositionOutOfRange = errors.New("rope: position out of range")
	ErrCacheInvariant     = errors.New("rope: cache does not cover requested position")
	ErrShapeMismatch      = errors.New("rope: shape mismatch")
)
