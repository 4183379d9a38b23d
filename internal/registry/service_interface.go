package registry

// Service is a long running agent component. The service registry starts
// services in configuration order and stops them in reverse.
type Service interface {
	Start() error
	Stop() error
}

// ReconnectHandler is implemented by services that republish their state
// once the broker connection is re-established.
type ReconnectHandler interface {
	HandleReconnect()
}
