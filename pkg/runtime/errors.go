package runtime

// The thrown-error kinds a running program can raise. Each is a distinct
// Go type so callers (the VM's trap machinery) can classify an error with
// a type switch without parsing its message.

// NameError signals an undefined or duplicate variable/scope name.
type NameError struct{ Msg string }

func (e *NameError) Error() string { return e.Msg }

// TypeError signals a numeric op applied to a scope value, or element
// access on a scalar.
type TypeError struct{ Msg string }

func (e *TypeError) Error() string { return e.Msg }

// BoundsError signals an array index out of range or a dimension-count
// mismatch.
type BoundsError struct{ Msg string }

func (e *BoundsError) Error() string { return e.Msg }

// ValueError signals an invalid numeric literal, or a division or modulo by
// zero. Identifier lexemes are not checked for it: an unknown name is a
// NameError.
type ValueError struct{ Msg string }

func (e *ValueError) Error() string { return e.Msg }
