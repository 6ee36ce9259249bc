package exception

import "github.com/yanun0323/errors"

// Position ledger errors
var (
	ErrDuplicatePosition = errors.New("gps: duplicate position")
	ErrUnknownPosition   = errors.New("gps: unknown position")
	ErrInvalidQuantity   = errors.New("gps: invalid quantity")
	ErrExitOutOfOrder    = errors.New("gps: exit out of order")
	ErrMissingPrice      = errors.New("gps: missing price")
)
