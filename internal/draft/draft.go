// Package draft builds a document draft from a stream of delta events.
//
// Apply is a pure function: it never mutates its input and the resulting
// draft depends only on the prior draft and the event. Replaying the same
// event sequence always yields the same draft.
package draft

import (
	"unicode/utf8"

	"github.com/promptloom/loom/internal/stream"
	"github.com/promptloom/loom/model"
)

// Status is the generation state of a draft.
type Status string

const (
	StatusStreaming Status = "streaming"
	StatusIdle      Status = "idle"
)

// Reveal thresholds: the document pane opens once enough content has
// accumulated to be worth showing, measured in characters after the
// event is applied. Code replaces wholesale and settles faster, so it
// uses a lower window.
const (
	textRevealMin = 400
	textRevealMax = 450
	codeRevealMin = 300
	codeRevealMax = 310
)

// Draft is the client-side projection of a document under generation.
type Draft struct {
	ID        string
	Title     string
	Content   string
	Kind      model.Kind
	Status    Status
	IsVisible bool
	Err       string
}

// New returns the draft state for a turn that has just started.
func New() Draft {
	return Draft{Kind: model.KindText, Status: StatusStreaming}
}

// Apply folds one event into the draft and returns the updated draft.
// Events that carry no draft state (message-delta, user-message-id,
// suggestions, unrecognized types) leave it unchanged.
func Apply(d Draft, ev stream.Event) Draft {
	switch e := ev.(type) {
	case stream.ID:
		d.ID = e.Content

	case stream.Title:
		d.Title = e.Content

	case stream.Clear:
		d.Content = ""
		d.Status = StatusStreaming

	case stream.TextDelta:
		d.Kind = model.KindText
		d.Content += e.Content
		if !d.IsVisible && d.Status == StatusStreaming {
			n := utf8.RuneCountInString(d.Content)
			d.IsVisible = n > textRevealMin && n < textRevealMax
		}

	case stream.CodeDelta:
		d.Kind = model.KindCode
		d.Content = e.Content
		if !d.IsVisible && d.Status == StatusStreaming {
			n := utf8.RuneCountInString(d.Content)
			d.IsVisible = n > codeRevealMin && n < codeRevealMax
		}

	case stream.Finish:
		d.Status = StatusIdle

	case stream.Error:
		d.Status = StatusIdle
		d.Err = e.Content
	}

	return d
}
