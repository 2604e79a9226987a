// Package panel derives the document pane's presentation state from the
// generation draft and the version history view.
package panel

import (
	"strings"
	"sync"

	"github.com/promptloom/loom/internal/draft"
	"github.com/promptloom/loom/internal/stream"
	"github.com/promptloom/loom/internal/versions"
	"github.com/promptloom/loom/model"
)

// State is the pane's top-level display state. It is always derived, never
// stored: the same draft and history view always produce the same state.
type State string

const (
	// StateHidden: the pane is closed. Deltas still accumulate in the draft.
	StateHidden State = "hidden"
	// StateStreaming: generation is in flight and the pane shows it live.
	StateStreaming State = "streaming"
	// StateIdleCurrent: idle, viewing the newest version. Editing allowed.
	StateIdleCurrent State = "idle-current"
	// StateIdleStale: idle, viewing an older version. Read-only until
	// restored or navigated back to the newest version.
	StateIdleStale State = "idle-stale"
)

// Panel owns one document pane: the live draft, the accumulated
// suggestions, and the console output. Construct one per open document.
type Panel struct {
	mu          sync.Mutex
	draft       draft.Draft
	history     *versions.Adapter
	suggestions []model.Suggestion
	console     []*ConsoleEntry
	forcedOpen  bool
}

// New creates a Panel over the given version history view.
func New(history *versions.Adapter) *Panel {
	return &Panel{draft: draft.New(), history: history}
}

// HandleEvent folds one stream event into the pane. Suggestion events
// accumulate separately from draft state; an id event repoints the
// version history at the new document.
func (p *Panel) HandleEvent(ev stream.Event) {
	p.mu.Lock()
	defer p.mu.Unlock()

	switch e := ev.(type) {
	case stream.ID:
		p.history.SetPromptID(e.Content)
		p.history.SetStreaming(true)
	case stream.SuggestionEvent:
		p.suggestions = append(p.suggestions, e.Suggestion)
	case stream.Finish, stream.Error:
		p.history.SetStreaming(false)
	}

	p.draft = draft.Apply(p.draft, ev)
}

// Reset prepares the pane for a new turn: a fresh draft, cleared console,
// cleared suggestions. The version history keeps its cache.
func (p *Panel) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.draft = draft.New()
	p.suggestions = nil
	p.console = nil
	p.forcedOpen = false
}

// Draft returns a copy of the current draft.
func (p *Panel) Draft() draft.Draft {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.draft
}

// Open forces the pane visible regardless of the reveal heuristic.
func (p *Panel) Open() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forcedOpen = true
}

// Close hides the pane. Deltas keep accumulating while it is closed.
func (p *Panel) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.forcedOpen = false
	p.draft.IsVisible = false
}

// State derives the pane's display state.
func (p *Panel) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.draft.IsVisible && !p.forcedOpen {
		return StateHidden
	}
	if p.draft.Status == draft.StatusStreaming {
		return StateStreaming
	}
	if p.history == nil || p.history.IsCurrentVersion() {
		return StateIdleCurrent
	}
	return StateIdleStale
}

// Editable reports whether the pane accepts user edits right now.
func (p *Panel) Editable() bool {
	return p.State() == StateIdleCurrent
}

// Suggestions returns the suggestions received so far this turn.
func (p *Panel) Suggestions() []model.Suggestion {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]model.Suggestion, len(p.suggestions))
	copy(out, p.suggestions)
	return out
}

// ResolveSuggestion marks one suggestion handled so it is no longer
// projected.
func (p *Panel) ResolveSuggestion(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.suggestions {
		if p.suggestions[i].ID == id {
			p.suggestions[i].IsResolved = true
			return
		}
	}
}

// Projection is a suggestion located in the current content.
type Projection struct {
	Suggestion model.Suggestion
	Start      int // byte offset of the original text in content
	End        int
}

// ProjectSuggestions locates each unresolved suggestion's original text in
// content by substring search. Suggestions whose anchor text no longer
// appears are left out; a stale anchor is not an error.
func (p *Panel) ProjectSuggestions(content string) []Projection {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []Projection
	for _, sg := range p.suggestions {
		if sg.IsResolved || sg.OriginalText == "" {
			continue
		}
		idx := strings.Index(content, sg.OriginalText)
		if idx < 0 {
			continue
		}
		out = append(out, Projection{
			Suggestion: sg,
			Start:      idx,
			End:        idx + len(sg.OriginalText),
		})
	}
	return out
}

// --- Console output ---

// ConsoleStatus is the lifecycle state of one console entry.
type ConsoleStatus string

const (
	ConsoleInProgress ConsoleStatus = "in_progress"
	ConsoleCompleted  ConsoleStatus = "completed"
	ConsoleFailed     ConsoleStatus = "failed"
)

// ConsoleEntry is one transient output record shown under the document.
// Entries live only in memory; they are never persisted.
type ConsoleEntry struct {
	ID      string
	Status  ConsoleStatus
	Content string
}

// StartConsole appends a new in-progress console entry.
func (p *Panel) StartConsole(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.console = append(p.console, &ConsoleEntry{ID: id, Status: ConsoleInProgress})
}

// FinishConsole settles an in-progress entry exactly once. A settled entry
// keeps its first outcome; later calls are ignored.
func (p *Panel) FinishConsole(id string, ok bool, content string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, e := range p.console {
		if e.ID != id {
			continue
		}
		if e.Status != ConsoleInProgress {
			return
		}
		if ok {
			e.Status = ConsoleCompleted
		} else {
			e.Status = ConsoleFailed
		}
		e.Content = content
		return
	}
}

// Console returns the current console entries in order.
func (p *Panel) Console() []ConsoleEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]ConsoleEntry, len(p.console))
	for i, e := range p.console {
		out[i] = *e
	}
	return out
}

// ClearConsole drops all console entries.
func (p *Panel) ClearConsole() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.console = nil
}
