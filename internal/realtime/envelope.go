package realtime

import (
	"encoding/json"
	"fmt"

	"github.com/nestlinghq/nestling/backend/internal/activity"
)

// Wire envelope type and action tags.
const (
	envelopeTypeSync     = "sync"
	envelopeTypeActivity = "activity"
)

// Action enumerates activity change notifications.
type Action string

const (
	ActionCreate Action = "create"
	ActionUpdate Action = "update"
	ActionDelete Action = "delete"
)

// EventKind identifies the decoded form of an inbound envelope.
type EventKind int

const (
	// EventUnknown covers unrecognized envelope types; reconcilers ignore
	// them so newer servers can add message types without breaking old
	// clients.
	EventUnknown EventKind = iota
	// EventSync carries a full-replace snapshot.
	EventSync
	// EventCreate carries a newly created activity.
	EventCreate
	// EventUpdate carries a replacement for an existing activity.
	EventUpdate
	// EventDelete names an activity to remove.
	EventDelete
)

// Envelope is the raw wire form of every message on the persistent
// connection.
type Envelope struct {
	Type     string          `json:"type"`
	Action   string          `json:"action,omitempty"`
	Data     json.RawMessage `json:"data,omitempty"`
	SenderID string          `json:"senderId,omitempty"`
}

// Event is the decoded, tagged form of an inbound envelope. Decoding happens
// once at the boundary; consumers switch on Kind.
type Event struct {
	Kind     EventKind
	SenderID string
	// Activity is set for create/update/delete events.
	Activity *activity.Record
	// Snapshot is set for sync events.
	Snapshot []activity.Record
}

// ParseEvent decodes a wire payload into a tagged Event. Malformed JSON is an
// error; a structurally valid envelope with an unrecognized type decodes to
// EventUnknown.
func ParseEvent(payload []byte) (Event, error) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return Event{}, fmt.Errorf("realtime: decode envelope: %w", err)
	}

	event := Event{Kind: EventUnknown, SenderID: envelope.SenderID}
	switch envelope.Type {
	case envelopeTypeSync:
		var records []activity.Record
		if err := json.Unmarshal(envelope.Data, &records); err != nil {
			return Event{}, fmt.Errorf("realtime: decode sync data: %w", err)
		}
		event.Kind = EventSync
		event.Snapshot = records
	case envelopeTypeActivity:
		var record activity.Record
		if err := json.Unmarshal(envelope.Data, &record); err != nil {
			return Event{}, fmt.Errorf("realtime: decode activity data: %w", err)
		}
		switch Action(envelope.Action) {
		case ActionCreate:
			event.Kind = EventCreate
		case ActionUpdate:
			event.Kind = EventUpdate
		case ActionDelete:
			event.Kind = EventDelete
		default:
			return event, nil
		}
		event.Activity = &record
	}
	return event, nil
}

// MarshalSync encodes the one-shot snapshot envelope sent after join.
func MarshalSync(records []activity.Record) ([]byte, error) {
	if records == nil {
		records = []activity.Record{}
	}
	data, err := json.Marshal(records)
	if err != nil {
		return nil, fmt.Errorf("realtime: encode sync data: %w", err)
	}
	return json.Marshal(Envelope{Type: envelopeTypeSync, Data: data})
}

// MarshalActivity encodes an activity change envelope.
func MarshalActivity(action Action, record activity.Record, senderID string) ([]byte, error) {
	data, err := json.Marshal(record)
	if err != nil {
		return nil, fmt.Errorf("realtime: encode activity data: %w", err)
	}
	return json.Marshal(Envelope{
		Type:     envelopeTypeActivity,
		Action:   string(action),
		Data:     data,
		SenderID: senderID,
	})
}
