// Package model defines the core domain types shared across all Loom packages.
// It has zero dependencies on other Loom packages.
package model

import "time"

// Kind distinguishes prose prompts from code prompts. It decides which delta
// flavor the server streams and which reveal window the client applies.
type Kind string

const (
	KindText Kind = "text"
	KindCode Kind = "code"
)

// Visibility controls who can read a chat.
type Visibility string

const (
	VisibilityPrivate Visibility = "private"
	VisibilityPublic  Visibility = "public"
)

// User is a registered account. Password holds the bcrypt hash, never the
// plaintext.
type User struct {
	ID       string `json:"id"`
	Email    string `json:"email"`
	Password string `json:"-"`
}

// Chat is one conversation thread owned by a user.
type Chat struct {
	ID         string     `json:"id"`
	Title      string     `json:"title"`
	UserID     string     `json:"user_id"`
	Visibility Visibility `json:"visibility"`
	CreatedAt  time.Time  `json:"created_at"`
}

// Message is a single chat message.
type Message struct {
	ID        string    `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	CreatedAt time.Time `json:"created_at"`
}

// Vote records a thumbs up/down on one message. Keyed by (ChatID, MessageID);
// re-voting overwrites.
type Vote struct {
	ChatID    string `json:"chat_id"`
	MessageID string `json:"message_id"`
	IsUpvoted bool   `json:"is_upvoted"`
}

// Prompt is one immutable version of a prompt document. Versions sharing an
// ID form the document's history, totally ordered by CreatedAt; the composite
// (ID, CreatedAt) identifies a single version.
type Prompt struct {
	ID        string    `json:"id"`
	CreatedAt time.Time `json:"created_at"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	Kind      Kind      `json:"kind"`
	UserID    string    `json:"user_id"`
}

// Suggestion is an AI-proposed edit anchored to one specific prompt version
// via (PromptID, PromptCreatedAt). The anchor into live text is the value of
// OriginalText: if that text no longer appears in the current content the
// suggestion is simply not projectable.
type Suggestion struct {
	ID              string    `json:"id"`
	PromptID        string    `json:"prompt_id"`
	PromptCreatedAt time.Time `json:"prompt_created_at"`
	OriginalText    string    `json:"original_text"`
	SuggestedText   string    `json:"suggested_text"`
	Description     string    `json:"description"`
	IsResolved      bool      `json:"is_resolved"`
	UserID          string    `json:"user_id"`
	CreatedAt       time.Time `json:"created_at"`
}

// Truncate shortens a string to maxLen runes, adding "..." if truncated.
func Truncate(s string, maxLen int) string {
	if maxLen <= 3 {
		r := []rune(s)
		if len(r) <= maxLen {
			return s
		}
		return string(r[:maxLen])
	}
	r := []rune(s)
	if len(r) <= maxLen {
		return s
	}
	return string(r[:maxLen-3]) + "..."
}
