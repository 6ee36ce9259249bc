package exception

import "github.com/yanun0323/errors"

// Candle errors
var (
	ErrOutOfOrderTick       = errors.New("candle: out of order tick")
	ErrHistoryAfterLive     = errors.New("candle: history after live tick")
	ErrLTPOnlySymbol        = errors.New("candle: symbol is ltp only")
	ErrUnknownSeries        = errors.New("candle: unknown series")
	ErrInvalidHistoryRow    = errors.New("candle: invalid history row")
	ErrUnsupportedTimeframe = errors.New("candle: unsupported timeframe")
)
