package gateway

import (
	"errors"
	"fmt"
)

// ErrUnsupportedMethod is returned by ParseMethod for methods outside the
// closed set.
var ErrUnsupportedMethod = errors.New("unsupported method")

// Method is an HTTP request method.
type Method uint8

const (
	MethodGet Method = iota + 1
	MethodHead
	MethodOptions
	MethodPost
	MethodPut
	MethodDelete
	MethodConnect
	MethodTrace
	MethodPatch
)

var methodNames = [...]string{
	MethodGet:     "GET",
	MethodHead:    "HEAD",
	MethodOptions: "OPTIONS",
	MethodPost:    "POST",
	MethodPut:     "PUT",
	MethodDelete:  "DELETE",
	MethodConnect: "CONNECT",
	MethodTrace:   "TRACE",
	MethodPatch:   "PATCH",
}

// ParseMethod maps a method token to a Method. Matching is case-sensitive,
// as method tokens are.
func ParseMethod(s string) (Method, error) {
	for m := MethodGet; m <= MethodPatch; m++ {
		if methodNames[m] == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnsupportedMethod, s)
}

func (m Method) String() string {
	if m >= MethodGet && m <= MethodPatch {
		return methodNames[m]
	}
	return fmt.Sprintf("Method(%d)", uint8(m))
}
