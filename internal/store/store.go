// Package store provides persistence for users, chats, messages, votes,
// prompt versions, and suggestions using SQLite.
//
// Prompt versions are append-only: a document's history is the set of rows
// sharing an id, ordered by created_at. The only destructive operation is
// DeletePromptsAfterTimestamp (restore), which truncates the history after a
// chosen version and cascades to suggestions anchored past that point.
package store

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/promptloom/loom/model"
)

// Store manages all persistence in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id       TEXT PRIMARY KEY,
			email    TEXT NOT NULL UNIQUE,
			password TEXT NOT NULL
		);

		CREATE TABLE IF NOT EXISTS chats (
			id         TEXT PRIMARY KEY,
			title      TEXT NOT NULL,
			user_id    TEXT NOT NULL,
			visibility TEXT NOT NULL DEFAULT 'private',
			created_at DATETIME NOT NULL,
			FOREIGN KEY (user_id) REFERENCES users(id)
		);

		CREATE TABLE IF NOT EXISTS messages (
			id         TEXT PRIMARY KEY,
			chat_id    TEXT NOT NULL,
			role       TEXT NOT NULL,
			content    TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL,
			FOREIGN KEY (chat_id) REFERENCES chats(id)
		);

		CREATE TABLE IF NOT EXISTS votes (
			chat_id    TEXT NOT NULL,
			message_id TEXT NOT NULL,
			is_upvoted INTEGER NOT NULL,
			PRIMARY KEY (chat_id, message_id)
		);

		CREATE TABLE IF NOT EXISTS prompts (
			id         TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			title      TEXT NOT NULL,
			content    TEXT NOT NULL DEFAULT '',
			kind       TEXT NOT NULL DEFAULT 'text',
			user_id    TEXT NOT NULL,
			PRIMARY KEY (id, created_at)
		);

		CREATE TABLE IF NOT EXISTS suggestions (
			id                TEXT PRIMARY KEY,
			prompt_id         TEXT NOT NULL,
			prompt_created_at DATETIME NOT NULL,
			original_text     TEXT NOT NULL,
			suggested_text    TEXT NOT NULL,
			description       TEXT NOT NULL DEFAULT '',
			is_resolved       INTEGER NOT NULL DEFAULT 0,
			user_id           TEXT NOT NULL,
			created_at        DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chats_user_id ON chats(user_id);
		CREATE INDEX IF NOT EXISTS idx_messages_chat_id ON messages(chat_id);
		CREATE INDEX IF NOT EXISTS idx_suggestions_prompt_id ON suggestions(prompt_id);
	`)
	return err
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// --- Users ---

// CreateUser inserts a new user. The password must already be hashed.
func (s *Store) CreateUser(u *model.User) error {
	_, err := s.db.Exec(
		`INSERT INTO users (id, email, password) VALUES (?, ?, ?)`,
		u.ID, u.Email, u.Password,
	)
	return err
}

// GetUserByEmail retrieves a user by email.
func (s *Store) GetUserByEmail(email string) (*model.User, error) {
	u := &model.User{}
	err := s.db.QueryRow(
		`SELECT id, email, password FROM users WHERE email = ?`, email,
	).Scan(&u.ID, &u.Email, &u.Password)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// GetUser retrieves a user by ID.
func (s *Store) GetUser(id string) (*model.User, error) {
	u := &model.User{}
	err := s.db.QueryRow(
		`SELECT id, email, password FROM users WHERE id = ?`, id,
	).Scan(&u.ID, &u.Email, &u.Password)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// --- Chats ---

// SaveChat inserts a new chat.
func (s *Store) SaveChat(c *model.Chat) error {
	if c.Visibility == "" {
		c.Visibility = model.VisibilityPrivate
	}
	_, err := s.db.Exec(
		`INSERT INTO chats (id, title, user_id, visibility, created_at)
		 VALUES (?, ?, ?, ?, ?)`,
		c.ID, c.Title, c.UserID, c.Visibility, c.CreatedAt,
	)
	return err
}

// GetChat retrieves a chat by ID.
func (s *Store) GetChat(id string) (*model.Chat, error) {
	c := &model.Chat{}
	err := s.db.QueryRow(
		`SELECT id, title, user_id, visibility, created_at FROM chats WHERE id = ?`, id,
	).Scan(&c.ID, &c.Title, &c.UserID, &c.Visibility, &c.CreatedAt)
	if err != nil {
		return nil, err
	}
	return c, nil
}

// ListChatsByUser returns a user's chats ordered by creation time (newest first).
func (s *Store) ListChatsByUser(userID string) ([]*model.Chat, error) {
	rows, err := s.db.Query(
		`SELECT id, title, user_id, visibility, created_at
		 FROM chats WHERE user_id = ? ORDER BY created_at DESC`, userID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var chats []*model.Chat
	for rows.Next() {
		c := &model.Chat{}
		if err := rows.Scan(&c.ID, &c.Title, &c.UserID, &c.Visibility, &c.CreatedAt); err != nil {
			return nil, err
		}
		chats = append(chats, c)
	}
	return chats, rows.Err()
}

// DeleteChat removes a chat along with its votes and messages.
func (s *Store) DeleteChat(id string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM votes WHERE chat_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM messages WHERE chat_id = ?`, id); err != nil {
		return err
	}
	if _, err := tx.Exec(`DELETE FROM chats WHERE id = ?`, id); err != nil {
		return err
	}
	return tx.Commit()
}

// UpdateChatVisibility flips a chat between private and public.
func (s *Store) UpdateChatVisibility(id string, v model.Visibility) error {
	_, err := s.db.Exec(`UPDATE chats SET visibility = ? WHERE id = ?`, v, id)
	return err
}

// --- Messages ---

// SaveMessages inserts a batch of messages in one transaction.
func (s *Store) SaveMessages(msgs []*model.Message) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, m := range msgs {
		if _, err := tx.Exec(
			`INSERT INTO messages (id, chat_id, role, content, created_at)
			 VALUES (?, ?, ?, ?, ?)`,
			m.ID, m.ChatID, m.Role, m.Content, m.CreatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetMessagesByChat returns a chat's messages ordered by creation time.
func (s *Store) GetMessagesByChat(chatID string) ([]*model.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, chat_id, role, content, created_at
		 FROM messages WHERE chat_id = ? ORDER BY created_at ASC`, chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		m := &model.Message{}
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// GetMessage retrieves a single message by ID.
func (s *Store) GetMessage(id string) (*model.Message, error) {
	m := &model.Message{}
	err := s.db.QueryRow(
		`SELECT id, chat_id, role, content, created_at FROM messages WHERE id = ?`, id,
	).Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt)
	if err != nil {
		return nil, err
	}
	return m, nil
}

// DeleteMessagesAfterTimestamp removes a chat's messages created at or after
// the given time.
func (s *Store) DeleteMessagesAfterTimestamp(chatID string, ts time.Time) error {
	_, err := s.db.Exec(
		`DELETE FROM messages WHERE chat_id = ? AND created_at >= ?`, chatID, ts,
	)
	return err
}

// --- Votes ---

// VoteMessage upserts a vote on a message.
func (s *Store) VoteMessage(chatID, messageID string, upvoted bool) error {
	_, err := s.db.Exec(
		`INSERT INTO votes (chat_id, message_id, is_upvoted) VALUES (?, ?, ?)
		 ON CONFLICT (chat_id, message_id) DO UPDATE SET is_upvoted = excluded.is_upvoted`,
		chatID, messageID, upvoted,
	)
	return err
}

// GetVotesByChat returns all votes for a chat.
func (s *Store) GetVotesByChat(chatID string) ([]*model.Vote, error) {
	rows, err := s.db.Query(
		`SELECT chat_id, message_id, is_upvoted FROM votes WHERE chat_id = ?`, chatID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var votes []*model.Vote
	for rows.Next() {
		v := &model.Vote{}
		if err := rows.Scan(&v.ChatID, &v.MessageID, &v.IsUpvoted); err != nil {
			return nil, err
		}
		votes = append(votes, v)
	}
	return votes, rows.Err()
}

// --- Prompts (versions) ---

// SavePrompt appends a new version of a prompt document.
func (s *Store) SavePrompt(p *model.Prompt) error {
	if p.Kind == "" {
		p.Kind = model.KindText
	}
	_, err := s.db.Exec(
		`INSERT INTO prompts (id, created_at, title, content, kind, user_id)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.CreatedAt, p.Title, p.Content, p.Kind, p.UserID,
	)
	return err
}

// GetPromptsByID returns every version of a document, oldest first.
func (s *Store) GetPromptsByID(id string) ([]*model.Prompt, error) {
	rows, err := s.db.Query(
		`SELECT id, created_at, title, content, kind, user_id
		 FROM prompts WHERE id = ? ORDER BY created_at ASC`, id,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var prompts []*model.Prompt
	for rows.Next() {
		p := &model.Prompt{}
		if err := rows.Scan(&p.ID, &p.CreatedAt, &p.Title, &p.Content, &p.Kind, &p.UserID); err != nil {
			return nil, err
		}
		prompts = append(prompts, p)
	}
	return prompts, rows.Err()
}

// GetLatestPrompt returns the newest version of a document.
func (s *Store) GetLatestPrompt(id string) (*model.Prompt, error) {
	p := &model.Prompt{}
	err := s.db.QueryRow(
		`SELECT id, created_at, title, content, kind, user_id
		 FROM prompts WHERE id = ? ORDER BY created_at DESC LIMIT 1`, id,
	).Scan(&p.ID, &p.CreatedAt, &p.Title, &p.Content, &p.Kind, &p.UserID)
	if err != nil {
		return nil, err
	}
	return p, nil
}

// DeletePromptsAfterTimestamp removes all versions of a document created
// strictly after ts, cascading to suggestions anchored to those versions.
// This is the restore operation: the version at ts becomes the latest.
func (s *Store) DeletePromptsAfterTimestamp(id string, ts time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		`DELETE FROM suggestions WHERE prompt_id = ? AND prompt_created_at > ?`, id, ts,
	); err != nil {
		return err
	}
	if _, err := tx.Exec(
		`DELETE FROM prompts WHERE id = ? AND created_at > ?`, id, ts,
	); err != nil {
		return err
	}
	return tx.Commit()
}

// --- Suggestions ---

// SaveSuggestions inserts a batch of suggestions in one transaction.
func (s *Store) SaveSuggestions(suggestions []*model.Suggestion) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for _, sg := range suggestions {
		if _, err := tx.Exec(
			`INSERT INTO suggestions (id, prompt_id, prompt_created_at, original_text,
			                          suggested_text, description, is_resolved, user_id, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			sg.ID, sg.PromptID, sg.PromptCreatedAt, sg.OriginalText,
			sg.SuggestedText, sg.Description, sg.IsResolved, sg.UserID, sg.CreatedAt,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

// GetSuggestionsByPromptID returns all suggestions anchored to any version of
// a document.
func (s *Store) GetSuggestionsByPromptID(promptID string) ([]*model.Suggestion, error) {
	rows, err := s.db.Query(
		`SELECT id, prompt_id, prompt_created_at, original_text, suggested_text,
		        description, is_resolved, user_id, created_at
		 FROM suggestions WHERE prompt_id = ? ORDER BY created_at ASC`, promptID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var suggestions []*model.Suggestion
	for rows.Next() {
		sg := &model.Suggestion{}
		if err := rows.Scan(
			&sg.ID, &sg.PromptID, &sg.PromptCreatedAt, &sg.OriginalText,
			&sg.SuggestedText, &sg.Description, &sg.IsResolved, &sg.UserID, &sg.CreatedAt,
		); err != nil {
			return nil, err
		}
		suggestions = append(suggestions, sg)
	}
	return suggestions, rows.Err()
}
