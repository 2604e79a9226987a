package panel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/promptloom/loom/internal/stream"
	"github.com/promptloom/loom/internal/versions"
	"github.com/promptloom/loom/model"
)

// historyWith serves a fixed version list and returns an adapter over it.
func historyWith(t *testing.T, n int) *versions.Adapter {
	t.Helper()
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	list := make([]*model.Prompt, n)
	for i := range list {
		list[i] = &model.Prompt{
			ID:        "p1",
			CreatedAt: base.Add(time.Duration(i) * time.Minute),
			Content:   "version",
			Kind:      model.KindText,
			UserID:    "u1",
		}
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/prompt", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(list)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return versions.New(srv.URL, "t", "p1")
}

func TestPaneStartsHiddenAndRevealsWhileStreaming(t *testing.T) {
	p := New(historyWith(t, 0))
	if p.State() != StateHidden {
		t.Fatalf("State = %q, want hidden", p.State())
	}

	p.HandleEvent(stream.TextDelta{Content: strings.Repeat("a", 410)})
	if p.State() != StateHidden {
		t.Fatal("a single delta past the reveal window should not open the pane")
	}

	p.Reset()
	p.HandleEvent(stream.TextDelta{Content: strings.Repeat("a", 399)})
	p.HandleEvent(stream.TextDelta{Content: "aa"})
	if p.State() != StateStreaming {
		t.Fatalf("State = %q, want streaming after reveal", p.State())
	}
}

func TestOpenAndCloseOverrideReveal(t *testing.T) {
	p := New(historyWith(t, 0))

	p.Open()
	if p.State() != StateStreaming {
		t.Fatalf("State = %q, want streaming when forced open", p.State())
	}

	p.Close()
	if p.State() != StateHidden {
		t.Fatalf("State = %q, want hidden after close", p.State())
	}

	// Deltas keep accumulating while closed.
	p.HandleEvent(stream.TextDelta{Content: "still arriving"})
	if p.Draft().Content != "still arriving" {
		t.Error("content lost while pane was closed")
	}
}

func TestIdleCurrentVersusStale(t *testing.T) {
	h := historyWith(t, 3)
	if err := h.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	p := New(h)
	p.Open()
	p.HandleEvent(stream.Finish{})

	if p.State() != StateIdleCurrent {
		t.Fatalf("State = %q, want idle-current", p.State())
	}
	if !p.Editable() {
		t.Error("newest version should be editable")
	}

	h.Prev()
	if p.State() != StateIdleStale {
		t.Fatalf("State = %q, want idle-stale on an older version", p.State())
	}
	if p.Editable() {
		t.Error("older version must be read-only")
	}

	h.Latest()
	if p.State() != StateIdleCurrent {
		t.Errorf("State = %q, want idle-current after snapping to latest", p.State())
	}
}

func TestErrorEventSettlesPane(t *testing.T) {
	p := New(historyWith(t, 0))
	p.Open()
	p.HandleEvent(stream.Error{Content: "provider unavailable"})

	if p.State() != StateIdleCurrent {
		t.Fatalf("State = %q, want idle after an error", p.State())
	}
	if p.Draft().Err == "" {
		t.Error("error message not recorded on the draft")
	}
}

func TestSuggestionsAccumulateAndProject(t *testing.T) {
	p := New(historyWith(t, 0))
	p.HandleEvent(stream.SuggestionEvent{Suggestion: model.Suggestion{
		ID: "s1", OriginalText: "the quick fox", SuggestedText: "the swift fox",
	}})
	p.HandleEvent(stream.SuggestionEvent{Suggestion: model.Suggestion{
		ID: "s2", OriginalText: "gone from content", SuggestedText: "whatever",
	}})

	content := "Watch the quick fox jump."
	projs := p.ProjectSuggestions(content)
	if len(projs) != 1 {
		t.Fatalf("got %d projections, want 1 (stale anchors are skipped)", len(projs))
	}
	if got := content[projs[0].Start:projs[0].End]; got != "the quick fox" {
		t.Errorf("projected span = %q", got)
	}

	p.ResolveSuggestion("s1")
	if got := p.ProjectSuggestions(content); len(got) != 0 {
		t.Errorf("resolved suggestion still projected: %d", len(got))
	}
}

func TestConsoleSettlesExactlyOnce(t *testing.T) {
	p := New(historyWith(t, 0))
	p.StartConsole("run-1")

	entries := p.Console()
	if len(entries) != 1 || entries[0].Status != ConsoleInProgress {
		t.Fatalf("entries = %+v", entries)
	}

	p.FinishConsole("run-1", false, "exit status 1")
	p.FinishConsole("run-1", true, "late success must not win")

	entries = p.Console()
	if entries[0].Status != ConsoleFailed {
		t.Errorf("Status = %q, want failed (first outcome sticks)", entries[0].Status)
	}
	if entries[0].Content != "exit status 1" {
		t.Errorf("Content = %q", entries[0].Content)
	}

	p.ClearConsole()
	if len(p.Console()) != 0 {
		t.Error("console not cleared")
	}
}

func TestResetClearsTurnState(t *testing.T) {
	p := New(historyWith(t, 0))
	p.Open()
	p.HandleEvent(stream.TextDelta{Content: "leftovers"})
	p.HandleEvent(stream.SuggestionEvent{Suggestion: model.Suggestion{ID: "s1"}})
	p.StartConsole("run-1")

	p.Reset()
	if p.Draft().Content != "" {
		t.Error("draft survived reset")
	}
	if len(p.Suggestions()) != 0 {
		t.Error("suggestions survived reset")
	}
	if len(p.Console()) != 0 {
		t.Error("console survived reset")
	}
	if p.State() != StateHidden {
		t.Errorf("State = %q, want hidden after reset", p.State())
	}
}
