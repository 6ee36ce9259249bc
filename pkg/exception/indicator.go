package exception

import "github.com/yanun0323/errors"

// Indicator errors are fatal for a run.
var (
	ErrIndicatorComputation = errors.New("indicator: computation failed")
	ErrIndicatorUnknown     = errors.New("indicator: unknown indicator")
	ErrIndicatorParams      = errors.New("indicator: invalid params")
)
