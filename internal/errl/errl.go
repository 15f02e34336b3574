// Package errl builds errors that remember where they were created.
package errl

import (
	"fmt"

	"github.com/pkg/errors"
)

// Errorf formats like fmt.Errorf, including %w wrapping, and records the
// caller's stack so that "%+v" prints the origin of the error.
func Errorf(format string, args ...any) error {
	return errors.WithStack(fmt.Errorf(format, args...))
}

// Wrap annotates err with msg and the caller's stack. It returns nil when err is nil.
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}
	return errors.Wrap(err, msg)
}
