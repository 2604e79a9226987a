// Package versions keeps a client-side view of a prompt's version history
// synchronized with the server, including debounced content saves and
// restores to earlier versions.
package versions

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/promptloom/loom/model"
)

// InitPromptID is the placeholder ID a turn starts with before the server
// assigns a real document ID. No history exists for it, so fetches against
// it are skipped.
const InitPromptID = "init"

// Mode selects how the current version is rendered.
type Mode string

const (
	ModeEdit Mode = "edit"
	ModeDiff Mode = "diff"
)

// Adapter mirrors one prompt's version history from the server.
// All methods are safe for concurrent use.
type Adapter struct {
	client   *http.Client
	baseURL  string
	token    string
	debounce time.Duration

	mu        sync.Mutex
	promptID  string
	versions  []*model.Prompt
	index     int
	mode      Mode
	streaming bool

	saveTimer   *time.Timer
	pendingSave string
	dirty       bool
}

// Option configures an Adapter.
type Option func(*Adapter)

// WithDebounce overrides the save debounce window.
func WithDebounce(d time.Duration) Option {
	return func(a *Adapter) { a.debounce = d }
}

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *Adapter) { a.client = c }
}

// New creates an Adapter for the prompt with the given ID.
func New(baseURL, token, promptID string, opts ...Option) *Adapter {
	a := &Adapter{
		client:   &http.Client{Timeout: 30 * time.Second},
		baseURL:  baseURL,
		token:    token,
		debounce: 2 * time.Second,
		promptID: promptID,
		mode:     ModeEdit,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// SetStreaming marks whether generation is in flight. While streaming,
// Refresh is a no-op so a partial document never overwrites the history
// view mid-generation.
func (a *Adapter) SetStreaming(streaming bool) {
	a.mu.Lock()
	a.streaming = streaming
	a.mu.Unlock()
}

// SetPromptID repoints the adapter at a different prompt, dropping any
// cached history and pending save.
func (a *Adapter) SetPromptID(id string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id == a.promptID {
		return
	}
	a.promptID = id
	a.versions = nil
	a.index = 0
	a.mode = ModeEdit
	a.dirty = false
	if a.saveTimer != nil {
		a.saveTimer.Stop()
		a.saveTimer = nil
	}
}

// Refresh fetches the version list from the server. It is skipped while
// there is nothing to fetch (placeholder ID) or while a generation is
// streaming.
func (a *Adapter) Refresh(ctx context.Context) error {
	a.mu.Lock()
	id := a.promptID
	if id == "" || id == InitPromptID || a.streaming {
		a.mu.Unlock()
		return nil
	}
	a.mu.Unlock()

	var fetched []*model.Prompt
	if err := a.get(ctx, "/api/prompt?id="+url.QueryEscape(id), &fetched); err != nil {
		return err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	wasLatest := len(a.versions) == 0 || a.index == len(a.versions)-1
	a.versions = fetched
	if wasLatest || a.index >= len(fetched) {
		a.index = latestIndex(fetched)
	}
	return nil
}

// Versions returns the cached version list, oldest first.
func (a *Adapter) Versions() []*model.Prompt {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]*model.Prompt, len(a.versions))
	copy(out, a.versions)
	return out
}

// Current returns the version being viewed, or nil before the first fetch.
func (a *Adapter) Current() *model.Prompt {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.versions) == 0 {
		return nil
	}
	return a.versions[a.index]
}

// Index returns the position of the viewed version.
func (a *Adapter) Index() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.index
}

// Mode returns the render mode for the viewed version.
func (a *Adapter) Mode() Mode {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.mode
}

// IsCurrentVersion reports whether the viewed version is the newest one.
// Before history is loaded the document is trivially current.
func (a *Adapter) IsCurrentVersion() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.versions) == 0 {
		return true
	}
	return a.index == len(a.versions)-1
}

// Prev steps to the previous (older) version, clamping at the oldest.
// Navigation only moves the index; the mode changes through ToggleMode,
// Latest, or Restore.
func (a *Adapter) Prev() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.index > 0 {
		a.index--
	}
}

// Next steps to the following (newer) version, clamping at the newest.
func (a *Adapter) Next() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.index < len(a.versions)-1 {
		a.index++
	}
}

// Latest snaps back to the newest version in edit mode.
func (a *Adapter) Latest() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.index = latestIndex(a.versions)
	a.mode = ModeEdit
}

// ToggleMode flips between edit and diff rendering.
func (a *Adapter) ToggleMode() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.mode == ModeEdit {
		a.mode = ModeDiff
	} else {
		a.mode = ModeEdit
	}
}

// DiffPair returns the old and new content for the viewed version. The
// first version diffs against empty content.
func (a *Adapter) DiffPair() (oldContent, newContent string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.versions) == 0 {
		return "", ""
	}
	if a.index > 0 {
		oldContent = a.versions[a.index-1].Content
	}
	return oldContent, a.versions[a.index].Content
}

// SaveContent records edited content to be persisted as a new version.
// With debounce true, rapid successive calls coalesce into one save
// carrying the last content; with debounce false it saves immediately.
// Content identical to the newest version is not saved at all.
func (a *Adapter) SaveContent(content string, debounce bool) {
	a.mu.Lock()
	if len(a.versions) > 0 && a.versions[len(a.versions)-1].Content == content {
		a.mu.Unlock()
		return
	}
	a.pendingSave = content
	a.dirty = true

	if !debounce {
		if a.saveTimer != nil {
			a.saveTimer.Stop()
			a.saveTimer = nil
		}
		a.mu.Unlock()
		a.flushSave()
		return
	}

	if a.saveTimer != nil {
		a.saveTimer.Stop()
	}
	a.saveTimer = time.AfterFunc(a.debounce, a.flushSave)
	a.mu.Unlock()
}

// Dirty reports whether an edit is waiting to be persisted.
func (a *Adapter) Dirty() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.dirty
}

func (a *Adapter) flushSave() {
	a.mu.Lock()
	if !a.dirty {
		a.mu.Unlock()
		return
	}
	id := a.promptID
	content := a.pendingSave
	title := ""
	if n := len(a.versions); n > 0 {
		title = a.versions[n-1].Title
	}
	a.dirty = false
	a.saveTimer = nil
	a.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var saved model.Prompt
	err := a.do(ctx, http.MethodPost, "/api/prompt?id="+url.QueryEscape(id),
		map[string]string{"title": title, "content": content}, &saved)
	if err != nil {
		// Leave the edit pending so a later save retries it.
		a.mu.Lock()
		if !a.dirty {
			a.pendingSave = content
			a.dirty = true
		}
		a.mu.Unlock()
		return
	}

	a.mu.Lock()
	wasLatest := len(a.versions) == 0 || a.index == len(a.versions)-1
	a.versions = append(a.versions, &saved)
	if wasLatest {
		a.index = len(a.versions) - 1
	}
	a.mu.Unlock()
}

// Restore makes the viewed version the newest one by deleting everything
// after it. The local cache drops the newer versions immediately; the
// server's post-restore list then replaces the cache wholesale, so the
// server stays authoritative if the two disagree.
func (a *Adapter) Restore(ctx context.Context) error {
	a.mu.Lock()
	if len(a.versions) == 0 {
		a.mu.Unlock()
		return fmt.Errorf("no versions loaded")
	}
	id := a.promptID
	ts := a.versions[a.index].CreatedAt

	kept := a.versions[:a.index+1]
	a.versions = append([]*model.Prompt(nil), kept...)
	a.index = len(a.versions) - 1
	a.mode = ModeEdit
	a.mu.Unlock()

	var remaining []*model.Prompt
	err := a.do(ctx, http.MethodPatch, "/api/prompt?id="+url.QueryEscape(id),
		map[string]any{"timestamp": ts}, &remaining)
	if err != nil {
		return err
	}

	a.mu.Lock()
	a.versions = remaining
	a.index = latestIndex(remaining)
	a.mu.Unlock()
	return nil
}

func latestIndex(versions []*model.Prompt) int {
	if len(versions) == 0 {
		return 0
	}
	return len(versions) - 1
}

// --- HTTP plumbing ---

func (a *Adapter) get(ctx context.Context, path string, out any) error {
	return a.do(ctx, http.MethodGet, path, nil, out)
}

func (a *Adapter) do(ctx context.Context, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", "Bearer "+a.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%s %s: %s", method, path, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}

	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
