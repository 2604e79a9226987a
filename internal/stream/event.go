// Package stream defines the typed delta events of the document streaming
// protocol and their encoding onto a single ordered SSE response.
//
// Each event is one JSON object {"type": ..., "content": ...} carried on a
// `data:` line. Events are immutable once emitted and are applied by
// consumers in emission order. Decoding is total: unrecognized types decode
// to Unknown, which downstream consumers skip, so new event kinds can be
// added without breaking old clients.
package stream

import (
	"encoding/json"
	"fmt"

	"github.com/promptloom/loom/model"
)

// Type tags a delta event on the wire.
type Type string

const (
	TypeID            Type = "id"
	TypeTitle         Type = "title"
	TypeClear         Type = "clear"
	TypeTextDelta     Type = "text-delta"
	TypeCodeDelta     Type = "code-delta"
	TypeMessageDelta  Type = "message-delta"
	TypeFinish        Type = "finish"
	TypeSuggestion    Type = "suggestion"
	TypeUserMessageID Type = "user-message-id"
	TypeError         Type = "error"
)

// Event is the sealed set of delta events. Adding a kind here makes every
// type switch over Event incomplete until each consumer handles it.
type Event interface {
	EventType() Type
	isEvent()
}

// ID announces the document id a stream is producing.
type ID struct {
	Content string
}

// Title announces the document title.
type Title struct {
	Content string
}

// Clear tells the client to discard accumulated content before a rewrite.
// Content carries the document title (may be empty on create flows).
type Clear struct {
	Content string
}

// TextDelta appends a prose fragment to the document content.
type TextDelta struct {
	Content string
}

// CodeDelta replaces the document content wholesale. Unlike TextDelta it is
// not cumulative: each payload is the full content so far.
type CodeDelta struct {
	Content string
}

// MessageDelta appends a fragment of the assistant's conversational reply.
// It is never document content; the document reducer ignores it.
type MessageDelta struct {
	Content string
}

// Finish signals that generation completed and the produced artifact is
// durable. It is emitted at most once per stream, after persistence.
type Finish struct{}

// SuggestionEvent carries one generated suggestion.
type SuggestionEvent struct {
	Suggestion model.Suggestion
}

// UserMessageID is a side channel identifying the persisted id the server
// assigned to the user's message. It is never applied to the document draft.
type UserMessageID struct {
	Content string
}

// Error reports a mid-stream failure. No Finish follows; the client should
// leave streaming state and surface the message.
type Error struct {
	Content string
}

// Unknown is the decode result for event types this build does not know.
type Unknown struct {
	Type    Type
	Content json.RawMessage
}

func (ID) EventType() Type              { return TypeID }
func (Title) EventType() Type           { return TypeTitle }
func (Clear) EventType() Type           { return TypeClear }
func (TextDelta) EventType() Type       { return TypeTextDelta }
func (CodeDelta) EventType() Type       { return TypeCodeDelta }
func (MessageDelta) EventType() Type    { return TypeMessageDelta }
func (Finish) EventType() Type          { return TypeFinish }
func (SuggestionEvent) EventType() Type { return TypeSuggestion }
func (UserMessageID) EventType() Type   { return TypeUserMessageID }
func (Error) EventType() Type           { return TypeError }
func (u Unknown) EventType() Type       { return u.Type }

func (ID) isEvent()              {}
func (Title) isEvent()           {}
func (Clear) isEvent()           {}
func (TextDelta) isEvent()       {}
func (CodeDelta) isEvent()       {}
func (MessageDelta) isEvent()    {}
func (Finish) isEvent()          {}
func (SuggestionEvent) isEvent() {}
func (UserMessageID) isEvent()   {}
func (Error) isEvent()           {}
func (Unknown) isEvent()         {}

type envelope struct {
	Type    Type            `json:"type"`
	Content json.RawMessage `json:"content"`
}

// Encode serializes an event to its wire envelope.
func Encode(ev Event) ([]byte, error) {
	var content any
	switch e := ev.(type) {
	case ID:
		content = e.Content
	case Title:
		content = e.Content
	case Clear:
		content = e.Content
	case TextDelta:
		content = e.Content
	case CodeDelta:
		content = e.Content
	case MessageDelta:
		content = e.Content
	case Finish:
		content = ""
	case SuggestionEvent:
		content = e.Suggestion
	case UserMessageID:
		content = e.Content
	case Error:
		content = e.Content
	case Unknown:
		content = e.Content
	default:
		return nil, fmt.Errorf("unencodable event type %T", ev)
	}

	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: ev.EventType(), Content: raw})
}

// Decode parses a wire envelope into a typed event. It never fails on an
// unrecognized type; those come back as Unknown.
func Decode(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding event envelope: %w", err)
	}

	switch env.Type {
	case TypeID:
		var s string
		if err := json.Unmarshal(env.Content, &s); err != nil {
			return nil, fmt.Errorf("decoding id content: %w", err)
		}
		return ID{Content: s}, nil
	case TypeTitle:
		var s string
		if err := json.Unmarshal(env.Content, &s); err != nil {
			return nil, fmt.Errorf("decoding title content: %w", err)
		}
		return Title{Content: s}, nil
	case TypeClear:
		var s string
		if err := json.Unmarshal(env.Content, &s); err != nil {
			return nil, fmt.Errorf("decoding clear content: %w", err)
		}
		return Clear{Content: s}, nil
	case TypeTextDelta:
		var s string
		if err := json.Unmarshal(env.Content, &s); err != nil {
			return nil, fmt.Errorf("decoding text-delta content: %w", err)
		}
		return TextDelta{Content: s}, nil
	case TypeCodeDelta:
		var s string
		if err := json.Unmarshal(env.Content, &s); err != nil {
			return nil, fmt.Errorf("decoding code-delta content: %w", err)
		}
		return CodeDelta{Content: s}, nil
	case TypeMessageDelta:
		var s string
		if err := json.Unmarshal(env.Content, &s); err != nil {
			return nil, fmt.Errorf("decoding message-delta content: %w", err)
		}
		return MessageDelta{Content: s}, nil
	case TypeFinish:
		return Finish{}, nil
	case TypeSuggestion:
		var sg model.Suggestion
		if err := json.Unmarshal(env.Content, &sg); err != nil {
			return nil, fmt.Errorf("decoding suggestion content: %w", err)
		}
		return SuggestionEvent{Suggestion: sg}, nil
	case TypeUserMessageID:
		var s string
		if err := json.Unmarshal(env.Content, &s); err != nil {
			return nil, fmt.Errorf("decoding user-message-id content: %w", err)
		}
		return UserMessageID{Content: s}, nil
	case TypeError:
		var s string
		if err := json.Unmarshal(env.Content, &s); err != nil {
			return nil, fmt.Errorf("decoding error content: %w", err)
		}
		return Error{Content: s}, nil
	default:
		return Unknown{Type: env.Type, Content: env.Content}, nil
	}
}
