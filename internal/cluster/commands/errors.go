package commands

import (
	"errors"
)

var (
	ErrNotMember     = errors.New("instance does not belong to the cluster")
	ErrAlreadyMember = errors.New("instance is already a member of the cluster")
	ErrNotSupported  = errors.New("operation not supported for this topology type")
)
