package engine

import "errors"

// The engine reports failures through this closed set of error kinds.
// Callers branch with errors.Is; the wrapped message and fields carry
// the detail.
var (
	ErrClosed             = errors.New("engine is not open")
	ErrInvalidOrder       = errors.New("invalid order")
	ErrInsufficientMargin = errors.New("insufficient margin")
	ErrPositionNotFound   = errors.New("position not found")
	ErrOrderNotFound      = errors.New("order not found")
	ErrSymbolUnavailable  = errors.New("symbol unavailable")
)
