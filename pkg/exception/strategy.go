package exception

import "github.com/yanun0323/errors"

// Strategy graph errors
var (
	ErrInvalidGraph     = errors.New("strategy: invalid graph")
	ErrUnknownNodeType  = errors.New("strategy: unknown node type")
	ErrInvalidCondition = errors.New("strategy: invalid condition")
	ErrUnknownParent    = errors.New("diagnostics: unknown parent execution")
	ErrParentAfterChild = errors.New("diagnostics: parent recorded after child")
)
