package events

import (
	"strings"
	"time"
)

// Kind names an event as "<namespace>.<name>", e.g. "session.started".
type Kind string

// Namespace is the part of the kind before the first dot.
func (k Kind) Namespace() string {
	namespace, _, _ := strings.Cut(string(k), ".")
	return namespace
}

// Event is implemented by every conversation event. Timestamp is the moment
// the client observed the event, not when the agent produced it.
type Event interface {
	Kind() Kind
	Timestamp() time.Time
}

// Base holds what all events share. Concrete events embed it and build it
// with [NewBase].
type Base struct {
	kind Kind
	at   time.Time
}

func NewBase(kind Kind) Base {
	return Base{kind: kind, at: time.Now()}
}

func (b Base) Kind() Kind           { return b.kind }
func (b Base) Timestamp() time.Time { return b.at }
