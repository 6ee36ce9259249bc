package exception

import "github.com/yanun0323/errors"

// Feed errors
var (
	ErrFeedDecode = errors.New("feed: decode tick")
)
