package events

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"
)

type EventType string

const (
	// EventTypeSnapshot carries the text of a streaming node at a tick.
	EventTypeSnapshot EventType = "snapshot"
	// EventTypeFinal is sent once when a stream session ends, whatever the reason.
	EventTypeFinal EventType = "final"
	EventTypeError EventType = "error"
	// EventTypeTreeChanged is sent after nodes were added to the conversation tree.
	EventTypeTreeChanged EventType = "tree-changed"
)

type Event interface {
	Type() EventType
	Metadata() EventMetadata
	Payload() []byte
}

type EventMetadata struct {
	ID             uuid.UUID `json:"message_id" yaml:"message_id"`
	ConversationID string    `json:"conversation_id,omitempty" yaml:"conversation_id,omitempty"`
	NodeID         string    `json:"node_id,omitempty" yaml:"node_id,omitempty"`
	Revision       uint64    `json:"revision" yaml:"revision"`
}

func NewEventMetadata() EventMetadata {
	return EventMetadata{ID: uuid.New()}
}

func (em EventMetadata) MarshalZerologObject(e *zerolog.Event) {
	e.Str("message_id", em.ID.String())
	if em.ConversationID != "" {
		e.Str("conversation_id", em.ConversationID)
	}
	if em.NodeID != "" {
		e.Str("node_id", em.NodeID)
	}
	e.Uint64("revision", em.Revision)
}

type EventImpl struct {
	Type_     EventType     `json:"type"`
	Metadata_ EventMetadata `json:"meta"`

	// set when the event was decoded by NewEventFromJson
	payload []byte
}

func (e *EventImpl) MarshalZerologObject(ev *zerolog.Event) {
	ev.Str("type", string(e.Type_))
	ev.Object("meta", e.Metadata_)
}

func (e *EventImpl) Type() EventType {
	return e.Type_
}

func (e *EventImpl) Metadata() EventMetadata {
	return e.Metadata_
}

func (e *EventImpl) Payload() []byte {
	return e.payload
}

var _ Event = &EventImpl{}

type EventSnapshot struct {
	EventImpl
	Text string `json:"text"`
}

func NewSnapshotEvent(metadata EventMetadata, text string) *EventSnapshot {
	return &EventSnapshot{
		EventImpl: EventImpl{
			Type_:     EventTypeSnapshot,
			Metadata_: metadata,
		},
		Text: text,
	}
}

type EventFinal struct {
	EventImpl
	Text string `json:"text"`
}

func NewFinalEvent(metadata EventMetadata, text string) *EventFinal {
	return &EventFinal{
		EventImpl: EventImpl{
			Type_:     EventTypeFinal,
			Metadata_: metadata,
		},
		Text: text,
	}
}

type EventError struct {
	EventImpl
	ErrorString string `json:"error_string"`
}

func NewErrorEvent(metadata EventMetadata, err error) *EventError {
	return &EventError{
		EventImpl: EventImpl{
			Type_:     EventTypeError,
			Metadata_: metadata,
		},
		ErrorString: err.Error(),
	}
}

type EventTreeChanged struct {
	EventImpl
}

func NewTreeChangedEvent(metadata EventMetadata) *EventTreeChanged {
	return &EventTreeChanged{
		EventImpl: EventImpl{
			Type_:     EventTypeTreeChanged,
			Metadata_: metadata,
		},
	}
}

var (
	_ Event = &EventSnapshot{}
	_ Event = &EventFinal{}
	_ Event = &EventError{}
	_ Event = &EventTreeChanged{}
)

func NewEventFromJson(b []byte) (Event, error) {
	var hdr struct {
		Type EventType `json:"type"`
	}
	if err := json.Unmarshal(b, &hdr); err != nil {
		return nil, errors.Wrap(err, "could not decode event")
	}

	var (
		ret  Event
		impl *EventImpl
	)
	switch hdr.Type {
	case EventTypeSnapshot:
		e := &EventSnapshot{}
		ret, impl = e, &e.EventImpl
	case EventTypeFinal:
		e := &EventFinal{}
		ret, impl = e, &e.EventImpl
	case EventTypeError:
		e := &EventError{}
		ret, impl = e, &e.EventImpl
	case EventTypeTreeChanged:
		e := &EventTreeChanged{}
		ret, impl = e, &e.EventImpl
	default:
		return nil, errors.Errorf("unknown event type %q", hdr.Type)
	}

	if err := json.Unmarshal(b, ret); err != nil {
		return nil, errors.Wrapf(err, "could not decode %s event", hdr.Type)
	}
	impl.payload = b
	return ret, nil
}
