// Package fleet owns the drone registry: registration, connection
// lifecycle, command dispatch, and the owner/uin indexes that the
// command surface and subscriber hub both resolve against.
package fleet

import "fmt"

// Kind enumerates the error vocabulary the core raises, shared by the
// command surface (HTTP status mapping) and the subscriber hub (error
// frame text).
type Kind string

const (
	KindFramingError           Kind = "FramingError"
	KindUnsupportedProtocol    Kind = "UnsupportedProtocol"
	KindBindFailed             Kind = "BindFailed"
	KindHeartbeatTimeout       Kind = "HeartbeatTimeout"
	KindPeerUnknown            Kind = "PeerUnknown"
	KindNotConnected           Kind = "NotConnected"
	KindNotAuthenticated       Kind = "NotAuthenticated"
	KindUinConflict            Kind = "UinConflict"
	KindUnknownMode            Kind = "UnknownMode"
	KindInvalidConnectionString Kind = "InvalidConnectionString"
	KindStorageTransient       Kind = "StorageTransient"
	KindStoragePermanent       Kind = "StoragePermanent"
	KindSubscriberBackpressure Kind = "SubscriberBackpressure"
	KindDroneNotFound          Kind = "DroneNotFound"
)

// Error is the core's typed error: a stable Kind plus a human message,
// mapped to both an HTTP status and an outbound error-frame text by
// the command surface and the hub respectively.
type Error struct {
	Kind    Kind
	Message string
}

func (e *Error) Error() string {
	if e.Message == "" {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// NewError constructs an Error of the given kind.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// HTTPStatus maps an error Kind to the request-surface status code,
// per the propagation policy's user-visible-failures table.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidConnectionString, KindUnknownMode:
		return 400
	case KindNotAuthenticated:
		return 401
	case KindDroneNotFound:
		return 404
	case KindUinConflict:
		return 409
	default:
		return 500
	}
}
