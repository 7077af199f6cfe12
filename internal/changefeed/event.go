// Package changefeed subscribes to row-level change events published by the
// backing store and fans them out to handler sets keyed by logical channel.
package changefeed

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/mitchellh/mapstructure"
)

// EventType is the kind of row change
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

var (
	ErrUnknownEventType = errors.New("changefeed: unknown event type")
	ErrMissingTable     = errors.New("changefeed: event without table")
	ErrEmptyRow         = errors.New("changefeed: row is empty")
)

// Event is a single row change. New is nil for deletes, Old may be nil for
// inserts and for updates on tables without full replica identity.
type Event struct {
	Type            EventType      `json:"type"`
	Table           string         `json:"table"`
	New             map[string]any `json:"record,omitempty"`
	Old             map[string]any `json:"old_record,omitempty"`
	CommitTimestamp int64          `json:"commit_timestamp"`
}

// ParseEvent decodes a JSON payload received from a transport
func ParseEvent(payload []byte) (Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return Event{}, fmt.Errorf("changefeed: decode event: %w", err)
	}
	switch ev.Type {
	case EventInsert, EventUpdate, EventDelete:
	default:
		return Event{}, fmt.Errorf("%w: %q", ErrUnknownEventType, ev.Type)
	}
	if ev.Table == "" {
		return Event{}, ErrMissingTable
	}
	return ev, nil
}

// Marshal encodes the event in its wire form
func (e Event) Marshal() ([]byte, error) {
	return json.Marshal(e)
}

// Row returns the row a filter is evaluated against: the new row, or the old
// row for deletes.
func (e Event) Row() map[string]any {
	if e.Type == EventDelete {
		return e.Old
	}
	return e.New
}

// DecodeRow decodes a raw row into a typed struct using its json tags.
// Numbers arriving as float64 or strings are coerced into integer fields.
func DecodeRow[T any](row map[string]any) (*T, error) {
	if len(row) == 0 {
		return nil, ErrEmptyRow
	}

	var out T
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		Result:           &out,
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, fmt.Errorf("changefeed: new decoder: %w", err)
	}
	if err := dec.Decode(row); err != nil {
		return nil, fmt.Errorf("changefeed: decode row: %w", err)
	}
	return &out, nil
}

// NewRow decodes the event's new row into T
func NewRow[T any](e Event) (*T, error) {
	return DecodeRow[T](e.New)
}

// OldRow decodes the event's old row into T
func OldRow[T any](e Event) (*T, error) {
	return DecodeRow[T](e.Old)
}
