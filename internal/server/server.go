// Package server provides the Loom HTTP API server.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/promptloom/loom/internal/auth"
	"github.com/promptloom/loom/internal/config"
	"github.com/promptloom/loom/internal/engine"
	"github.com/promptloom/loom/internal/gist"
	"github.com/promptloom/loom/internal/llm"
	"github.com/promptloom/loom/internal/notify"
	"github.com/promptloom/loom/internal/store"
	"github.com/promptloom/loom/internal/stream"
	"github.com/promptloom/loom/model"
)

// Server is the Loom HTTP API server.
type Server struct {
	config *config.Config
	store  *store.Store
	auth   *auth.Manager
	engine *engine.Engine
	gist   *gist.Client // nil if gist export is not configured
	router chi.Router
}

// New creates a new Server with all dependencies.
func New(cfg *config.Config) (*Server, error) {
	st, err := store.New(cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("initializing store: %w", err)
	}

	client, err := llm.NewClient(cfg.AnthropicAPIKey, cfg.OpenAIAPIKey, cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("initializing LLM client: %w", err)
	}

	var notifier engine.Notifier
	if cfg.SlackEnabled() {
		notifier = notify.NewSlackNotifier(cfg.SlackToken, cfg.SlackChannel)
		log.Println("Slack notifications enabled")
	}

	s := &Server{
		config: cfg,
		store:  st,
		auth:   auth.NewManager(cfg.JWTSecret),
		engine: engine.New(st, client, notifier),
	}
	if cfg.GistEnabled() {
		s.gist = gist.NewClient(cfg.GitHubToken)
		log.Println("Gist export enabled")
	}

	s.router = s.buildRouter()
	return s, nil
}

// NewForTesting wires a Server around preconstructed dependencies.
func NewForTesting(cfg *config.Config, st *store.Store, client llm.Client) *Server {
	s := &Server{
		config: cfg,
		store:  st,
		auth:   auth.NewManager(cfg.JWTSecret),
		engine: engine.New(st, client, nil),
	}
	s.router = s.buildRouter()
	return s
}

// Router returns the HTTP router.
func (s *Server) Router() chi.Router {
	return s.router
}

// Start starts the HTTP server and blocks until ctx is canceled.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:    s.config.ServerAddr,
		Handler: s.router,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	log.Printf("Loom server listening on %s", s.config.ServerAddr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return s.store.Close()
}

func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Post("/auth/register", s.handleRegister)
		r.Post("/auth/login", s.handleLogin)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAuth)

			// The chat stream runs as long as generation does; no timeout.
			r.Post("/chat", s.handleChat)

			r.Group(func(r chi.Router) {
				r.Use(middleware.Timeout(30 * time.Second))
				r.Delete("/chat", s.handleDeleteChat)
				r.Get("/chat/{id}/messages", s.handleGetMessages)
				r.Delete("/chat/{id}/messages", s.handleTrimMessages)
				r.Patch("/chat/{id}/visibility", s.handleUpdateVisibility)
				r.Get("/history", s.handleHistory)
				r.Get("/prompt", s.handleGetPrompts)
				r.Post("/prompt", s.handleSavePrompt)
				r.Patch("/prompt", s.handleRestorePrompt)
				r.Post("/prompt/{id}/gist", s.handleExportGist)
				r.Get("/suggestions", s.handleGetSuggestions)
				r.Get("/vote", s.handleGetVotes)
				r.Patch("/vote", s.handleVote)
			})
		})
	})

	// Health check.
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	return r
}

// --- Auth middleware ---

type contextKey string

const userIDKey contextKey = "userID"

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			writeError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}
		parts := strings.SplitN(header, " ", 2)
		if len(parts) != 2 || parts[0] != "Bearer" {
			writeError(w, http.StatusUnauthorized, "invalid authorization header format")
			return
		}
		userID, err := s.auth.VerifyToken(parts[1])
		if err != nil {
			writeError(w, http.StatusUnauthorized, "invalid token")
			return
		}
		// Tokens outlive accounts; make sure this one still maps to a user.
		if _, err := s.store.GetUser(userID); err != nil {
			writeError(w, http.StatusUnauthorized, "unknown user")
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userIDKey, userID)))
	})
}

func callerID(r *http.Request) string {
	id, _ := r.Context().Value(userIDKey).(string)
	return id
}

// --- Request/Response types ---

type credentialsRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Token  string `json:"token"`
	UserID string `json:"user_id"`
}

type chatRequest struct {
	ID       string     `json:"id"`
	Message  string     `json:"message"`
	PromptID string     `json:"prompt_id,omitempty"`
	Kind     model.Kind `json:"kind,omitempty"`
}

type savePromptRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type restorePromptRequest struct {
	Timestamp time.Time `json:"timestamp"`
}

type voteRequest struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	Type      string `json:"type"` // "up" or "down"
}

type visibilityRequest struct {
	Visibility model.Visibility `json:"visibility"`
}

type gistResponse struct {
	URL string `json:"url"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// --- Auth handlers ---

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "email and password are required")
		return
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to hash password")
		return
	}

	user := &model.User{ID: uuid.New().String(), Email: req.Email, Password: hash}
	if err := s.store.CreateUser(user); err != nil {
		writeError(w, http.StatusConflict, "email already registered")
		return
	}

	token, err := s.auth.CreateToken(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	writeJSON(w, http.StatusCreated, tokenResponse{Token: token, UserID: user.ID})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req credentialsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	user, err := s.store.GetUserByEmail(req.Email)
	if err != nil || !auth.CheckPassword(user.Password, req.Password) {
		writeError(w, http.StatusUnauthorized, "invalid credentials")
		return
	}

	token, err := s.auth.CreateToken(user.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to create token")
		return
	}
	writeJSON(w, http.StatusOK, tokenResponse{Token: token, UserID: user.ID})
}

// --- Chat handlers ---

// countingEmitter lets the handler tell "failed before any byte was sent"
// (still possible to write a proper status) apart from a mid-stream failure.
type countingEmitter struct {
	inner *stream.Writer
	sent  int
}

func (c *countingEmitter) Send(ev stream.Event) error {
	if err := c.inner.Send(ev); err != nil {
		return err
	}
	c.sent++
	return nil
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ID == "" || req.Message == "" {
		writeError(w, http.StatusBadRequest, "id and message are required")
		return
	}

	sw, err := stream.NewWriter(w)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}
	em := &countingEmitter{inner: sw}

	turnErr := s.engine.ChatTurn(r.Context(), em, engine.TurnRequest{
		ChatID:   req.ID,
		UserID:   callerID(r),
		Content:  req.Message,
		PromptID: req.PromptID,
		Kind:     req.Kind,
	})
	if turnErr == nil {
		return
	}

	if em.sent == 0 {
		// Nothing streamed yet; headers are unsent and a real status works.
		writeError(w, statusFor(turnErr), turnErr.Error())
		return
	}
	log.Printf("Chat turn failed mid-stream: %v", turnErr)
}

func (s *Server) handleDeleteChat(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}

	chat, err := s.store.GetChat(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if chat.UserID != callerID(r) {
		writeError(w, http.StatusUnauthorized, "not your chat")
		return
	}

	if err := s.store.DeleteChat(id); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to delete chat")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
}

func (s *Server) handleGetMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	chat, err := s.store.GetChat(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if chat.UserID != callerID(r) && chat.Visibility != model.VisibilityPublic {
		writeError(w, http.StatusUnauthorized, "not your chat")
		return
	}

	msgs, err := s.store.GetMessagesByChat(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list messages")
		return
	}
	if msgs == nil {
		msgs = []*model.Message{}
	}
	writeJSON(w, http.StatusOK, msgs)
}

// handleTrimMessages deletes a message and everything after it in the chat,
// so the user can rewind the conversation and take a different path.
func (s *Server) handleTrimMessages(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	fromID := r.URL.Query().Get("from")
	if fromID == "" {
		writeError(w, http.StatusBadRequest, "missing from message id")
		return
	}

	chat, err := s.store.GetChat(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if chat.UserID != callerID(r) {
		writeError(w, http.StatusUnauthorized, "not your chat")
		return
	}

	msg, err := s.store.GetMessage(fromID)
	if err != nil || msg.ChatID != id {
		writeError(w, http.StatusNotFound, "message not found in chat")
		return
	}

	if err := s.store.DeleteMessagesAfterTimestamp(id, msg.CreatedAt); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to trim messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "trimmed"})
}

func (s *Server) handleUpdateVisibility(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	chat, err := s.store.GetChat(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if chat.UserID != callerID(r) {
		writeError(w, http.StatusUnauthorized, "not your chat")
		return
	}

	var req visibilityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Visibility != model.VisibilityPrivate && req.Visibility != model.VisibilityPublic {
		writeError(w, http.StatusBadRequest, "visibility must be private or public")
		return
	}

	if err := s.store.UpdateChatVisibility(id, req.Visibility); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to update visibility")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "updated"})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	chats, err := s.store.ListChatsByUser(callerID(r))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list chats")
		return
	}
	if chats == nil {
		chats = []*model.Chat{}
	}
	writeJSON(w, http.StatusOK, chats)
}

// --- Prompt handlers ---

func (s *Server) handleGetPrompts(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}

	versions, err := s.store.GetPromptsByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list versions")
		return
	}
	if len(versions) == 0 {
		writeError(w, http.StatusNotFound, "prompt not found")
		return
	}
	if versions[0].UserID != callerID(r) {
		writeError(w, http.StatusUnauthorized, "not your prompt")
		return
	}
	writeJSON(w, http.StatusOK, versions)
}

func (s *Server) handleSavePrompt(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}

	var req savePromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	kind := model.KindText
	if current, err := s.store.GetLatestPrompt(id); err == nil {
		if current.UserID != callerID(r) {
			writeError(w, http.StatusUnauthorized, "not your prompt")
			return
		}
		kind = current.Kind
	}

	prompt := &model.Prompt{
		ID:        id,
		CreatedAt: time.Now().UTC(),
		Title:     req.Title,
		Content:   req.Content,
		Kind:      kind,
		UserID:    callerID(r),
	}
	if err := s.store.SavePrompt(prompt); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to save version")
		return
	}
	writeJSON(w, http.StatusOK, prompt)
}

func (s *Server) handleRestorePrompt(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing id")
		return
	}

	var req restorePromptRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	versions, err := s.store.GetPromptsByID(id)
	if err != nil || len(versions) == 0 {
		writeError(w, http.StatusNotFound, "prompt not found")
		return
	}
	if versions[0].UserID != callerID(r) {
		writeError(w, http.StatusUnauthorized, "not your prompt")
		return
	}

	if err := s.store.DeletePromptsAfterTimestamp(id, req.Timestamp); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to restore version")
		return
	}

	remaining, err := s.store.GetPromptsByID(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list versions")
		return
	}
	writeJSON(w, http.StatusOK, remaining)
}

func (s *Server) handleExportGist(w http.ResponseWriter, r *http.Request) {
	if s.gist == nil {
		writeError(w, http.StatusNotImplemented, "gist export not configured (set GITHUB_TOKEN)")
		return
	}
	id := chi.URLParam(r, "id")

	prompt, err := s.store.GetLatestPrompt(id)
	if err != nil {
		writeError(w, http.StatusNotFound, "prompt not found")
		return
	}
	if prompt.UserID != callerID(r) {
		writeError(w, http.StatusUnauthorized, "not your prompt")
		return
	}

	url, err := s.gist.Export(r.Context(), prompt)
	if err != nil {
		log.Printf("Gist export failed: %v", err)
		writeError(w, http.StatusBadGateway, "gist export failed")
		return
	}
	writeJSON(w, http.StatusOK, gistResponse{URL: url})
}

// --- Suggestion and vote handlers ---

func (s *Server) handleGetSuggestions(w http.ResponseWriter, r *http.Request) {
	promptID := r.URL.Query().Get("promptId")
	if promptID == "" {
		writeError(w, http.StatusBadRequest, "missing promptId")
		return
	}

	suggestions, err := s.store.GetSuggestionsByPromptID(promptID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list suggestions")
		return
	}
	if len(suggestions) == 0 {
		writeJSON(w, http.StatusOK, []*model.Suggestion{})
		return
	}
	if suggestions[0].UserID != callerID(r) {
		writeError(w, http.StatusUnauthorized, "not your prompt")
		return
	}
	writeJSON(w, http.StatusOK, suggestions)
}

func (s *Server) handleGetVotes(w http.ResponseWriter, r *http.Request) {
	chatID := r.URL.Query().Get("chatId")
	if chatID == "" {
		writeError(w, http.StatusBadRequest, "missing chatId")
		return
	}

	chat, err := s.store.GetChat(chatID)
	if err != nil {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if chat.UserID != callerID(r) {
		writeError(w, http.StatusUnauthorized, "not your chat")
		return
	}

	votes, err := s.store.GetVotesByChat(chatID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to list votes")
		return
	}
	if votes == nil {
		votes = []*model.Vote{}
	}
	writeJSON(w, http.StatusOK, votes)
}

func (s *Server) handleVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type != "up" && req.Type != "down" {
		writeError(w, http.StatusBadRequest, "type must be up or down")
		return
	}

	chat, err := s.store.GetChat(req.ChatID)
	if err != nil {
		writeError(w, http.StatusNotFound, "chat not found")
		return
	}
	if chat.UserID != callerID(r) {
		writeError(w, http.StatusUnauthorized, "not your chat")
		return
	}

	if err := s.store.VoteMessage(req.ChatID, req.MessageID, req.Type == "up"); err != nil {
		writeError(w, http.StatusInternalServerError, "failed to record vote")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "voted"})
}

// --- Helpers ---

func statusFor(err error) int {
	switch {
	case errors.Is(err, engine.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, engine.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
