// Package handle wraps raw OS descriptors with exclusive ownership.
//
// A Handle has exactly one owner. Move transfers ownership and leaves the
// source inert; Close is the single close-and-invalidate operation. The
// standard streams (0, 1, 2) are never closed.
//
// Close never fails the caller. Errors from close(2) are reported to the
// hook installed with SetCloseErrorHook, which tests and the server's
// debug logging use to observe them.
package handle
