package exception

import "github.com/yanun0323/errors"

var (
	ErrOrderInvalidRequest = errors.New("order: invalid request")
	ErrOrderNoPrice        = errors.New("order: no price for fill")
)
