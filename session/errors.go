package session

import (
	"errors"
	"fmt"
)

var (
	ErrClosed           = errors.New("session closed")
	ErrEvicted          = errors.New("position already evicted from buffer")
	ErrIntegrity        = errors.New("integrity error")
	ErrRangeIgnored     = fmt.Errorf("%w: server did not honor range request", ErrIntegrity)
	ErrLengthMismatch   = fmt.Errorf("%w: byte count does not match content length", ErrIntegrity)
	ErrStalled          = errors.New("no data received within stall timeout")
	ErrStatus           = errors.New("unexpected response status")
	ErrSeekEnd          = errors.New("seek from end is not supported while streaming")
	ErrNegativePosition = errors.New("negative position")
	ErrWhence           = errors.New("invalid whence")
)
