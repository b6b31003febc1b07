package exception

import "github.com/yanun0323/errors"

// Protocol errors
var (
	ErrParse       = errors.New("malformed envelope payload")
	ErrMissingType = errors.New("envelope type is empty")
	ErrSend        = errors.New("write on non-open socket")
)
