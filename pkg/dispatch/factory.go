package dispatch

import (
	"github.com/hashicorp/go-hclog"
)

var (
	log hclog.Logger

	initcallbacks []func()

	factories map[string]TransportFactory
)

// A TransportFactory is a constructor of a transport plugin.  It
// takes a single logger which should be used to write out early init
// issues.  Additional configuration values should be derived from the
// environment.
type TransportFactory func(l hclog.Logger) (Transport, error)

func init() {
	factories = make(map[string]TransportFactory)
	log = hclog.L()
}

// SetLogger injects a logger into this package to allow setting up a
// logger tree.
func SetLogger(l hclog.Logger) {
	log = l.Named("dispatch")
}

// RegisterInitCallback allows a sub pkg to defer initialization until
// after certain very early init has happened such as loading config
// files and configuring loggers.
func RegisterInitCallback(f func()) {
	initcallbacks = append(initcallbacks, f)
}

// DoCallbacks is used to invoke all callbacks and perform phase one
// setup which will register the handlers to the map of factories.
func DoCallbacks() {
	for _, cb := range initcallbacks {
		cb()
	}
}

// RegisterTransportFactory blindly stores the factory at the given
// name.  This is relatively safe since all the factories are enabled
// at build time.
func RegisterTransportFactory(name string, f TransportFactory) {
	factories[name] = f
	log.Info("Registered transport", "transport", name)
}

// ConstructTransport attempts to initialize the requested transport
// using the package logger.
func ConstructTransport(name string) (Transport, error) {
	f, ok := factories[name]
	if !ok {
		log.Warn("Tried to initialize with bogus transport name", "name", name)
		return nil, NewErrUnknownTransport(name)
	}
	return f(log)
}
