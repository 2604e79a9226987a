// Package engine runs chat turns: it drives the generation source, writes a
// chronologically ordered sequence of delta events onto the client's stream,
// and persists the finalized artifacts.
//
// Ordering contract: the finish event is emitted only after every
// persistence write for the turn has returned, so a client refetch triggered
// by finish always observes the new version. A generation or persistence
// failure mid-turn emits a typed error event instead of finish and persists
// no artifact.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/promptloom/loom/internal/llm"
	"github.com/promptloom/loom/internal/store"
	"github.com/promptloom/loom/internal/stream"
	"github.com/promptloom/loom/model"
)

// Sentinel errors mapped to HTTP statuses by the server layer.
var (
	ErrNotFound     = errors.New("not found")
	ErrUnauthorized = errors.New("unauthorized")
)

// Emitter receives delta events in emission order. *stream.Writer satisfies
// it; tests substitute a recorder.
type Emitter interface {
	Send(ev stream.Event) error
}

// Notifier announces workspace activity out of band. Calls are best-effort;
// implementations must not block the stream.
type Notifier interface {
	VersionPublished(ctx context.Context, p *model.Prompt)
	SuggestionsReady(ctx context.Context, p *model.Prompt, count int)
}

// Engine coordinates the store, the generation source, and the event stream.
type Engine struct {
	store    *store.Store
	llm      llm.Client
	notifier Notifier // nil if notifications are not configured
}

// New creates an Engine.
func New(st *store.Store, client llm.Client, notifier Notifier) *Engine {
	return &Engine{store: st, llm: client, notifier: notifier}
}

// TurnRequest describes one user chat turn.
type TurnRequest struct {
	ChatID  string
	UserID  string
	Content string
	// PromptID names the document currently open in the panel, if any.
	// Update and suggestion turns operate on it.
	PromptID string
	// Kind selects prose or code generation for newly created documents.
	Kind model.Kind
}

// ChatTurn executes one turn end to end, emitting events onto em.
//
// A mid-stream generation failure leaves partial content on the wire, emits
// an error event, and persists nothing. Client disconnects are observed via
// ctx between tokens; an aborted turn is likewise never persisted.
func (e *Engine) ChatTurn(ctx context.Context, em Emitter, req TurnRequest) error {
	if req.ChatID == "" || req.Content == "" {
		return fmt.Errorf("%w: chat id and content are required", ErrNotFound)
	}

	chat, err := e.loadOrCreateChat(ctx, req)
	if err != nil {
		return err
	}
	if chat.UserID != req.UserID {
		return ErrUnauthorized
	}

	now := time.Now().UTC()
	userMsg := &model.Message{
		ID:        uuid.New().String(),
		ChatID:    chat.ID,
		Role:      "user",
		Content:   req.Content,
		CreatedAt: now,
	}
	if err := e.store.SaveMessages([]*model.Message{userMsg}); err != nil {
		return fmt.Errorf("saving user message: %w", err)
	}
	if err := em.Send(stream.UserMessageID{Content: userMsg.ID}); err != nil {
		return err
	}

	var summary string
	switch e.route(ctx, req) {
	case intentCreate:
		summary, err = e.createPrompt(ctx, em, req)
	case intentUpdate:
		summary, err = e.updatePrompt(ctx, em, req)
	case intentSuggest:
		summary, err = e.requestSuggestions(ctx, em, req)
	default:
		summary, err = e.chatReply(ctx, em, req)
	}
	if err != nil {
		e.emitError(em, ctx, err)
		return err
	}

	assistantMsg := &model.Message{
		ID:        uuid.New().String(),
		ChatID:    chat.ID,
		Role:      "assistant",
		Content:   summary,
		CreatedAt: time.Now().UTC(),
	}
	if err := e.store.SaveMessages([]*model.Message{assistantMsg}); err != nil {
		e.emitError(em, ctx, err)
		return fmt.Errorf("saving assistant message: %w", err)
	}

	// Persistence is durable; the client may now refetch on finish.
	return em.Send(stream.Finish{})
}

// emitError surfaces a mid-stream failure as a typed event so the client can
// leave streaming state. Skipped when the connection is already gone.
func (e *Engine) emitError(em Emitter, ctx context.Context, err error) {
	if ctx.Err() != nil {
		return
	}
	if sendErr := em.Send(stream.Error{Content: err.Error()}); sendErr != nil {
		log.Printf("Error emitting error event: %v", sendErr)
	}
}

func (e *Engine) loadOrCreateChat(ctx context.Context, req TurnRequest) (*model.Chat, error) {
	chat, err := e.store.GetChat(req.ChatID)
	if err == nil {
		return chat, nil
	}

	title, titleErr := e.llm.Complete(ctx, llm.TitlePrompt, req.Content)
	if titleErr != nil {
		log.Printf("Title generation failed (falling back to message excerpt): %v", titleErr)
		title = model.Truncate(req.Content, 80)
	}

	chat = &model.Chat{
		ID:         req.ChatID,
		Title:      strings.TrimSpace(title),
		UserID:     req.UserID,
		Visibility: model.VisibilityPrivate,
		CreatedAt:  time.Now().UTC(),
	}
	if err := e.store.SaveChat(chat); err != nil {
		return nil, fmt.Errorf("creating chat: %w", err)
	}
	return chat, nil
}

type intent int

const (
	intentChat intent = iota
	intentCreate
	intentUpdate
	intentSuggest
)

// route classifies the turn. Falls back to plain chat on any routing
// failure; a misrouted turn degrades to conversation, never to a crash.
func (e *Engine) route(ctx context.Context, req TurnRequest) intent {
	hasDoc := "no"
	if req.PromptID != "" {
		hasDoc = "yes"
	}
	answer, err := e.llm.Complete(ctx, llm.RouterPrompt,
		fmt.Sprintf("Document open in this conversation: %s\n\nMessage: %s", hasDoc, req.Content))
	if err != nil {
		log.Printf("Intent routing failed (falling back to chat): %v", err)
		return intentChat
	}

	switch strings.ToLower(strings.TrimSpace(answer)) {
	case "create":
		return intentCreate
	case "update":
		if req.PromptID == "" {
			return intentChat
		}
		return intentUpdate
	case "suggest":
		if req.PromptID == "" {
			return intentChat
		}
		return intentSuggest
	default:
		return intentChat
	}
}

// streamDeltas runs one generation, forwarding fragments as delta events.
// Text documents append; code documents stream the full accumulated content
// each time (replacement semantics).
func (e *Engine) streamDeltas(ctx context.Context, em Emitter, kind model.Kind, system, user string) (string, error) {
	var draft strings.Builder
	err := e.llm.Stream(ctx, system, user, func(delta string) error {
		draft.WriteString(delta)
		if kind == model.KindCode {
			return em.Send(stream.CodeDelta{Content: draft.String()})
		}
		return em.Send(stream.TextDelta{Content: delta})
	})
	if err != nil {
		return draft.String(), fmt.Errorf("generating: %w", err)
	}
	return draft.String(), nil
}

func (e *Engine) createPrompt(ctx context.Context, em Emitter, req TurnRequest) (string, error) {
	kind := req.Kind
	if kind == "" {
		kind = model.KindText
	}

	title, err := e.llm.Complete(ctx, llm.TitlePrompt, req.Content)
	if err != nil {
		title = model.Truncate(req.Content, 80)
	}
	title = strings.TrimSpace(title)

	id := uuid.New().String()
	if err := em.Send(stream.ID{Content: id}); err != nil {
		return "", err
	}
	if err := em.Send(stream.Title{Content: title}); err != nil {
		return "", err
	}
	if err := em.Send(stream.Clear{}); err != nil {
		return "", err
	}

	content, err := e.streamDeltas(ctx, em, kind, llm.CreatePromptPrompt, req.Content)
	if err != nil {
		return "", err
	}

	prompt := &model.Prompt{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Title:     title,
		Content:   content,
		Kind:      kind,
		UserID:    req.UserID,
	}
	if err := e.store.SavePrompt(prompt); err != nil {
		return "", fmt.Errorf("saving prompt: %w", err)
	}
	e.notifyVersion(ctx, prompt)

	return "A prompt was created and is now visible to the user.", nil
}

func (e *Engine) updatePrompt(ctx context.Context, em Emitter, req TurnRequest) (string, error) {
	current, err := e.store.GetLatestPrompt(req.PromptID)
	if err != nil {
		return "", fmt.Errorf("%w: prompt %s", ErrNotFound, req.PromptID)
	}
	if current.UserID != req.UserID {
		return "", ErrUnauthorized
	}

	// Clear carries the title so the panel keeps its header during the rewrite.
	if err := em.Send(stream.Clear{Content: current.Title}); err != nil {
		return "", err
	}

	content, err := e.streamDeltas(ctx, em, current.Kind, llm.UpdatePromptPrompt(current.Content), req.Content)
	if err != nil {
		return "", err
	}

	prompt := &model.Prompt{
		ID:        current.ID,
		CreatedAt: time.Now().UTC(),
		Title:     current.Title,
		Content:   content,
		Kind:      current.Kind,
		UserID:    current.UserID,
	}
	if err := e.store.SavePrompt(prompt); err != nil {
		return "", fmt.Errorf("saving prompt: %w", err)
	}
	e.notifyVersion(ctx, prompt)

	return "The prompt has been updated successfully.", nil
}

func (e *Engine) requestSuggestions(ctx context.Context, em Emitter, req TurnRequest) (string, error) {
	prompt, err := e.store.GetLatestPrompt(req.PromptID)
	if err != nil {
		return "", fmt.Errorf("%w: prompt %s", ErrNotFound, req.PromptID)
	}
	if prompt.UserID != req.UserID {
		return "", ErrUnauthorized
	}

	raw, err := e.llm.Complete(ctx, llm.SuggestionsPrompt, prompt.Content)
	if err != nil {
		return "", fmt.Errorf("generating suggestions: %w", err)
	}

	parsed, err := parseSuggestions(raw)
	if err != nil {
		return "", fmt.Errorf("parsing suggestions: %w", err)
	}

	now := time.Now().UTC()
	suggestions := make([]*model.Suggestion, 0, len(parsed))
	for _, p := range parsed {
		sg := &model.Suggestion{
			ID:              uuid.New().String(),
			PromptID:        prompt.ID,
			PromptCreatedAt: prompt.CreatedAt,
			OriginalText:    p.OriginalSentence,
			SuggestedText:   p.SuggestedSentence,
			Description:     p.Description,
			UserID:          req.UserID,
			CreatedAt:       now,
		}
		if err := em.Send(stream.SuggestionEvent{Suggestion: *sg}); err != nil {
			return "", err
		}
		suggestions = append(suggestions, sg)
	}

	if err := e.store.SaveSuggestions(suggestions); err != nil {
		return "", fmt.Errorf("saving suggestions: %w", err)
	}
	if e.notifier != nil {
		e.notifier.SuggestionsReady(ctx, prompt, len(suggestions))
	}

	return "Suggestions have been added to the prompt.", nil
}

// chatReply streams a conversational answer. It rides message-delta, not
// text-delta: the reply is never document content and must not reach the
// document draft.
func (e *Engine) chatReply(ctx context.Context, em Emitter, req TurnRequest) (string, error) {
	var reply strings.Builder
	err := e.llm.Stream(ctx, llm.SystemPrompt, req.Content, func(delta string) error {
		reply.WriteString(delta)
		return em.Send(stream.MessageDelta{Content: delta})
	})
	if err != nil {
		return "", fmt.Errorf("generating: %w", err)
	}
	return reply.String(), nil
}

func (e *Engine) notifyVersion(ctx context.Context, p *model.Prompt) {
	if e.notifier != nil {
		e.notifier.VersionPublished(ctx, p)
	}
}

type rawSuggestion struct {
	OriginalSentence  string `json:"original_sentence"`
	SuggestedSentence string `json:"suggested_sentence"`
	Description       string `json:"description"`
}

// parseSuggestions extracts the JSON array from a model response, tolerating
// prose or code fences around it.
func parseSuggestions(raw string) ([]rawSuggestion, error) {
	start := strings.Index(raw, "[")
	end := strings.LastIndex(raw, "]")
	if start == -1 || end == -1 || end < start {
		return nil, fmt.Errorf("no JSON array in response")
	}

	var parsed []rawSuggestion
	if err := json.Unmarshal([]byte(raw[start:end+1]), &parsed); err != nil {
		return nil, err
	}
	return parsed, nil
}
