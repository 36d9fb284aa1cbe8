package errors

import (
	"errors"
)

// IsMinor reports whether the batch should continue past err with a nil
// result for the offending command.
func IsMinor(err error) bool {
	var minor *MinorError
	return errors.As(err, &minor)
}

// AsNodeCreationError extracts a NodeCreationError from err's chain, or nil.
// A non-nil return means the strategy owes a compensating DropNode for the
// embedded instance data.
func AsNodeCreationError(err error) *NodeCreationError {
	var nce *NodeCreationError
	if errors.As(err, &nce) {
		return nce
	}
	return nil
}

// IsCritical reports whether err aborts the remaining batch. Everything that
// is not minor is critical; node creation errors are the critical subclass
// that additionally carries a compensation target.
func IsCritical(err error) bool {
	return err != nil && !IsMinor(err)
}
