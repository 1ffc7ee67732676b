package dispatch

// ErrNoCapacity is returned when a transport refuses an assignment
// due to capacity exhaustion on its side.
type ErrNoCapacity struct{}

func (e ErrNoCapacity) Error() string {
	return "insufficient capacity"
}

// ErrUnknownTransport is returned when a transport factory is
// requested that has not been registered.
type ErrUnknownTransport struct {
	attempted string
}

// NewErrUnknownTransport returns a new error specialized to the
// attempted transport.
func NewErrUnknownTransport(s string) ErrUnknownTransport {
	return ErrUnknownTransport{s}
}

func (e ErrUnknownTransport) Error() string {
	return "no transport factory with name " + e.attempted + " exists"
}
