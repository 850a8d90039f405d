package mango

import (
	"errors"

	"github.com/coldbell/mango/backend/internal/wire"
)

var (
	ErrSizeMismatch           = wire.ErrSizeMismatch
	ErrTypeMismatch           = errors.New("type mismatch")
	ErrNotFound               = errors.New("not found")
	ErrUnsupportedInstruction = errors.New("unsupported instruction")
)
