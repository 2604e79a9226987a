// End-to-end tests for the Loom server stack.
//
// These exercise the full stack:
//   - Real HTTP router (chi) with JWT auth middleware
//   - Real SQLite store (WAL mode, temp dir)
//   - Real delta-event stream over HTTP
//   - Real client-side reducer, version adapter, and panel
//   - Fake LLM (deterministic responses)
//
// The only thing simulated is the LLM backend. Everything else — routing,
// auth, the turn engine, persistence, streaming, the client view — is real
// production code. Does NOT require API keys or network access.
package loom_test

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/promptloom/loom/internal/config"
	"github.com/promptloom/loom/internal/draft"
	"github.com/promptloom/loom/internal/llm"
	"github.com/promptloom/loom/internal/panel"
	"github.com/promptloom/loom/internal/server"
	"github.com/promptloom/loom/internal/store"
	"github.com/promptloom/loom/internal/stream"
	"github.com/promptloom/loom/internal/versions"
	"github.com/promptloom/loom/model"
)

// fakeLLM answers routing, titles, and suggestions deterministically and
// streams the configured fragments.
type fakeLLM struct {
	intent      string
	fragments   []string
	suggestions string
}

func (f *fakeLLM) Complete(_ context.Context, system, user string) (string, error) {
	switch system {
	case llm.RouterPrompt:
		return f.intent, nil
	case llm.TitlePrompt:
		return "Essay Prompt", nil
	case llm.SuggestionsPrompt:
		return f.suggestions, nil
	default:
		return "completion", nil
	}
}

func (f *fakeLLM) Stream(ctx context.Context, _, _ string, fn func(string) error) error {
	for _, frag := range f.fragments {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := fn(frag); err != nil {
			return err
		}
	}
	return nil
}

type harness struct {
	t     *testing.T
	srv   *httptest.Server
	token string
}

func setupE2E(t *testing.T, fake *fakeLLM) *harness {
	t.Helper()

	st, err := store.New(filepath.Join(t.TempDir(), "e2e.db"))
	if err != nil {
		t.Fatalf("new store: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	cfg := &config.Config{JWTSecret: "e2e-secret"}
	s := server.NewForTesting(cfg, st, fake)
	srv := httptest.NewServer(s.Router())
	t.Cleanup(srv.Close)

	return &harness{t: t, srv: srv}
}

func (h *harness) doJSON(method, path string, body, out any) *http.Response {
	h.t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			h.t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, h.srv.URL+path, &buf)
	if err != nil {
		h.t.Fatalf("new request: %v", err)
	}
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("%s %s: %v", method, path, err)
	}
	if out != nil {
		defer resp.Body.Close()
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil && err != io.EOF {
			h.t.Fatalf("decode %s %s response: %v", method, path, err)
		}
	}
	return resp
}

func (h *harness) register(email string) {
	h.t.Helper()
	var tok struct {
		Token string `json:"token"`
	}
	resp := h.doJSON(http.MethodPost, "/api/auth/register",
		map[string]string{"email": email, "password": "hunter22"}, &tok)
	if resp.StatusCode != http.StatusCreated {
		h.t.Fatalf("register: status %d", resp.StatusCode)
	}
	h.token = tok.Token
}

// chatTurn posts one chat message and folds the resulting event stream into
// the given panel, returning all decoded events.
func (h *harness) chatTurn(p *panel.Panel, body map[string]any) []stream.Event {
	h.t.Helper()
	raw, _ := json.Marshal(body)
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+"/api/chat", bytes.NewReader(raw))
	if err != nil {
		h.t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+h.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		h.t.Fatalf("chat: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		h.t.Fatalf("chat: status %d: %s", resp.StatusCode, msg)
	}

	var events []stream.Event
	r := stream.NewReader(resp.Body)
	for {
		ev, err := r.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.t.Fatalf("read stream: %v", err)
		}
		events = append(events, ev)
		if p != nil {
			p.HandleEvent(ev)
		}
	}
	return events
}

func eventTypes(events []stream.Event) []stream.Type {
	out := make([]stream.Type, len(events))
	for i, ev := range events {
		out[i] = ev.EventType()
	}
	return out
}

func findEvent(events []stream.Event, typ stream.Type) stream.Event {
	for _, ev := range events {
		if ev.EventType() == typ {
			return ev
		}
	}
	return nil
}

func TestE2E_CreateEditRestoreLifecycle(t *testing.T) {
	fake := &fakeLLM{
		intent:    "create",
		fragments: []string{"Write an essay about ", "the history of weaving."},
	}
	h := setupE2E(t, fake)
	h.register("weaver@example.com")

	hist := versions.New(h.srv.URL, h.token, versions.InitPromptID)
	p := panel.New(hist)

	// Turn 1: create a document.
	events := h.chatTurn(p, map[string]any{
		"id":      "chat-1",
		"message": "I need a prompt for an essay on weaving",
	})

	idEv := findEvent(events, stream.TypeID)
	if idEv == nil {
		t.Fatalf("no id event in stream: %v", eventTypes(events))
	}
	promptID := idEv.(stream.ID).Content

	if findEvent(events, stream.TypeFinish) == nil {
		t.Fatalf("stream did not finish: %v", eventTypes(events))
	}
	d := p.Draft()
	if d.Content != "Write an essay about the history of weaving." {
		t.Fatalf("draft content = %q", d.Content)
	}
	if d.Title != "Essay Prompt" {
		t.Errorf("draft title = %q", d.Title)
	}
	if d.Status != draft.StatusIdle {
		t.Errorf("draft status = %q, want idle", d.Status)
	}

	// The finished version is durable and fetchable.
	if err := hist.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh versions: %v", err)
	}
	if n := len(hist.Versions()); n != 1 {
		t.Fatalf("got %d versions, want 1", n)
	}
	if hist.Current().Content != d.Content {
		t.Errorf("persisted content diverges from streamed draft")
	}

	// Manual edit becomes version 2.
	hist.SaveContent("Write an essay about weaving in the Andes.", false)
	if n := len(hist.Versions()); n != 2 {
		t.Fatalf("got %d versions after edit, want 2", n)
	}

	// Turn 2: AI update becomes version 3.
	fake.intent = "update"
	fake.fragments = []string{"Write a detailed essay ", "about Andean weaving."}
	h.chatTurn(p, map[string]any{
		"id":        "chat-1",
		"message":   "make it more detailed",
		"prompt_id": promptID,
	})

	if err := hist.Refresh(context.Background()); err != nil {
		t.Fatalf("refresh versions: %v", err)
	}
	if n := len(hist.Versions()); n != 3 {
		t.Fatalf("got %d versions after update, want 3", n)
	}

	// Step back to version 1 and restore it: 2 and 3 are gone for good.
	hist.Prev()
	hist.Prev()
	if hist.IsCurrentVersion() {
		t.Fatal("old version reported as current")
	}
	if err := hist.Restore(context.Background()); err != nil {
		t.Fatalf("restore: %v", err)
	}
	if n := len(hist.Versions()); n != 1 {
		t.Fatalf("got %d versions after restore, want 1", n)
	}
	if hist.Current().Content != "Write an essay about the history of weaving." {
		t.Errorf("restored content = %q", hist.Current().Content)
	}
	if p.State() == panel.StateIdleStale {
		t.Error("restored version should be current")
	}
}

func TestE2E_SuggestionsFlow(t *testing.T) {
	fake := &fakeLLM{
		intent:    "create",
		fragments: []string{"The quick brown fox. It jumps over the dog."},
	}
	h := setupE2E(t, fake)
	h.register("editor@example.com")

	hist := versions.New(h.srv.URL, h.token, versions.InitPromptID)
	p := panel.New(hist)

	events := h.chatTurn(p, map[string]any{"id": "chat-1", "message": "draft something"})
	promptID := findEvent(events, stream.TypeID).(stream.ID).Content

	fake.intent = "suggest"
	fake.suggestions = `[
		{"original_sentence": "The quick brown fox.", "suggested_sentence": "The swift auburn fox.", "description": "Stronger adjectives"}
	]`
	events = h.chatTurn(p, map[string]any{
		"id": "chat-1", "message": "suggest improvements", "prompt_id": promptID,
	})

	sg := findEvent(events, stream.TypeSuggestion)
	if sg == nil {
		t.Fatalf("no suggestion event: %v", eventTypes(events))
	}

	// Streamed suggestions project onto the live content.
	projs := p.ProjectSuggestions("Intro. The quick brown fox. It jumps over the dog.")
	if len(projs) != 1 {
		t.Fatalf("got %d projections, want 1", len(projs))
	}
	if projs[0].Suggestion.SuggestedText != "The swift auburn fox." {
		t.Errorf("SuggestedText = %q", projs[0].Suggestion.SuggestedText)
	}

	// And they are durable.
	var stored []*model.Suggestion
	resp := h.doJSON(http.MethodGet, "/api/suggestions?promptId="+promptID, nil, &stored)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("suggestions: status %d", resp.StatusCode)
	}
	if len(stored) != 1 {
		t.Fatalf("got %d stored suggestions, want 1", len(stored))
	}
}

func TestE2E_HistoryVotesAndDeletion(t *testing.T) {
	fake := &fakeLLM{intent: "chat", fragments: []string{"Just chatting."}}
	h := setupE2E(t, fake)
	h.register("chatter@example.com")

	events := h.chatTurn(nil, map[string]any{"id": "chat-1", "message": "hello"})
	umID := findEvent(events, stream.TypeUserMessageID)
	if umID == nil {
		t.Fatalf("no user-message-id event: %v", eventTypes(events))
	}
	if findEvent(events, stream.TypeMessageDelta) == nil {
		t.Fatalf("no message-delta events in chat reply: %v", eventTypes(events))
	}
	if findEvent(events, stream.TypeTextDelta) != nil {
		t.Fatalf("chat reply leaked onto the document channel: %v", eventTypes(events))
	}

	var chats []*model.Chat
	h.doJSON(http.MethodGet, "/api/history", nil, &chats)
	if len(chats) != 1 {
		t.Fatalf("got %d chats, want 1", len(chats))
	}
	if chats[0].Title == "" {
		t.Error("chat has no title")
	}

	var msgs []*model.Message
	h.doJSON(http.MethodGet, "/api/chat/chat-1/messages", nil, &msgs)
	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want user + assistant", len(msgs))
	}

	resp := h.doJSON(http.MethodPatch, "/api/vote", map[string]string{
		"chat_id": "chat-1", "message_id": msgs[1].ID, "type": "up",
	}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("vote: status %d", resp.StatusCode)
	}

	var votes []*model.Vote
	h.doJSON(http.MethodGet, "/api/vote?chatId=chat-1", nil, &votes)
	if len(votes) != 1 || !votes[0].IsUpvoted {
		t.Fatalf("votes = %+v", votes)
	}

	// Rewinding from the user message drops it and everything after.
	resp = h.doJSON(http.MethodDelete, "/api/chat/chat-1/messages?from="+msgs[0].ID, nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("trim messages: status %d", resp.StatusCode)
	}
	var trimmed []*model.Message
	h.doJSON(http.MethodGet, "/api/chat/chat-1/messages", nil, &trimmed)
	if len(trimmed) != 0 {
		t.Fatalf("got %d messages after trim, want 0", len(trimmed))
	}

	resp = h.doJSON(http.MethodDelete, "/api/chat?id=chat-1", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete chat: status %d", resp.StatusCode)
	}
	var after []*model.Chat
	h.doJSON(http.MethodGet, "/api/history", nil, &after)
	if len(after) != 0 {
		t.Fatalf("chat survived deletion: %d", len(after))
	}
}

func TestE2E_AuthBoundaries(t *testing.T) {
	fake := &fakeLLM{intent: "create", fragments: []string{"secret prompt text"}}
	h := setupE2E(t, fake)
	h.register("owner@example.com")

	events := h.chatTurn(nil, map[string]any{"id": "chat-1", "message": "make a prompt"})
	promptID := findEvent(events, stream.TypeID).(stream.ID).Content

	// No token at all.
	anon := &harness{t: t, srv: h.srv}
	resp := anon.doJSON(http.MethodGet, "/api/history", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("anonymous history: status %d, want 401", resp.StatusCode)
	}

	// A different user cannot read the owner's document or chat.
	other := &harness{t: t, srv: h.srv}
	other.register("other@example.com")

	resp = other.doJSON(http.MethodGet, "/api/prompt?id="+promptID, nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("foreign prompt read: status %d, want 401", resp.StatusCode)
	}
	resp = other.doJSON(http.MethodGet, "/api/chat/chat-1/messages", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("foreign chat read: status %d, want 401", resp.StatusCode)
	}
	resp = other.doJSON(http.MethodDelete, "/api/chat?id=chat-1", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("foreign chat delete: status %d, want 401", resp.StatusCode)
	}

	// Wrong password.
	resp = other.doJSON(http.MethodPost, "/api/auth/login",
		map[string]string{"email": "owner@example.com", "password": "wrong"}, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("bad login: status %d, want 401", resp.StatusCode)
	}
}

func TestE2E_PublicChatReadableByOthers(t *testing.T) {
	fake := &fakeLLM{intent: "chat", fragments: []string{"hello there"}}
	h := setupE2E(t, fake)
	h.register("owner@example.com")
	h.chatTurn(nil, map[string]any{"id": "chat-1", "message": "hi"})

	resp := h.doJSON(http.MethodPatch, "/api/chat/chat-1/visibility",
		map[string]string{"visibility": "public"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("visibility: status %d", resp.StatusCode)
	}

	other := &harness{t: t, srv: h.srv}
	other.register("reader@example.com")
	var msgs []*model.Message
	resp = other.doJSON(http.MethodGet, "/api/chat/chat-1/messages", nil, &msgs)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("public chat read: status %d", resp.StatusCode)
	}
	if len(msgs) == 0 {
		t.Fatal("no messages visible on public chat")
	}
}

func TestE2E_HealthCheck(t *testing.T) {
	h := setupE2E(t, &fakeLLM{})
	resp, err := http.Get(h.srv.URL + "/health")
	if err != nil {
		t.Fatalf("health: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || string(body) != "ok" {
		t.Fatalf("health: %d %q", resp.StatusCode, body)
	}
}
