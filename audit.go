package rotauth

import (
	"io"

	"github.com/mvellekoop/rotauth/internal/audit"
)

// AuditEvent defines a public type used by rotauth APIs.
//
// AuditEvent instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditEvent = audit.Event

// AuditSink defines a public type used by rotauth APIs.
//
// AuditSink instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type AuditSink = audit.Sink

// NoOpAuditSink defines a public type used by rotauth APIs.
//
// NoOpAuditSink instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type NoOpAuditSink = audit.NoOpSink

// ChannelAuditSink defines a public type used by rotauth APIs.
//
// ChannelAuditSink instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type ChannelAuditSink = audit.ChannelSink

// JSONWriterAuditSink defines a public type used by rotauth APIs.
//
// JSONWriterAuditSink instances are intended to be configured during initialization and then treated as immutable unless documented otherwise.
type JSONWriterAuditSink = audit.JSONWriterSink

// NewChannelAuditSink describes the newchannelauditsink operation and its observable behavior.
//
// NewChannelAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewChannelAuditSink(buffer int) *ChannelAuditSink {
	return audit.NewChannelSink(buffer)
}

// NewJSONWriterAuditSink describes the newjsonwriterauditsink operation and its observable behavior.
//
// NewJSONWriterAuditSink does not mutate shared global state and can be used concurrently when the receiver and dependencies are concurrently safe.
func NewJSONWriterAuditSink(w io.Writer) *JSONWriterAuditSink {
	return audit.NewJSONWriterSink(w)
}
