package option

import (
	"fmt"

	"github.com/pkg/errors"
)

// ArgumentError reports malformed operator input. It is never retried.
type ArgumentError struct {
	Msg string
}

func (e *ArgumentError) Error() string {
	return e.Msg
}

func Errorf(format string, a ...interface{}) error {
	return &ArgumentError{Msg: fmt.Sprintf(format, a...)}
}

func IsArgumentError(err error) bool {
	var ae *ArgumentError
	return errors.As(err, &ae)
}
