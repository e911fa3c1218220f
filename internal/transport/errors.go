package transport

import "fmt"

// TransportError wraps a failed exchange with a device: timeouts, refused
// connections, unexpected status codes, or an unparseable state document.
type TransportError struct {
	Address string
	Op      string
	Err     error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Address, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
