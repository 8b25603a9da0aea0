// Package kernel contains the types shared by every kernel subsystem.
package kernel

// Error describes a kernel error. Kernel errors are defined as package-level
// pointers to Error so callers can compare them by identity.
type Error struct {
	// The module where the error occurred.
	Module string

	// The error message
	Message string
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Message
}
