// ABOUTME: In-memory registry of conversation sessions with an explicit current-session pointer.
// ABOUTME: All mutation flows through methods so the current pointer never dangles.

package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/2389/coven-host/internal/api"
	"github.com/2389/coven-host/internal/chat"
)

// ErrSessionNotFound indicates the requested session is not in the registry.
var ErrSessionNotFound = errors.New("session not found")

// Metadata is the canonical session record held by the registry.
type Metadata struct {
	ID           string
	WorkingDir   string
	Description  string
	MessageCount int
	TotalTokens  int
	UpdatedAt    time.Time

	// Unsaved marks an optimistic local session the daemon has not
	// acknowledged yet. It clears once the first message is sent.
	Unsaved bool
}

// Client is what the registry needs from the daemon API.
type Client interface {
	CreateSession(ctx context.Context, workingDir, description string) (*api.CreateSessionResponse, error)
	ListSessions(ctx context.Context) (json.RawMessage, error)
	GetSessionHistory(ctx context.Context, sessionID string) (*api.SessionHistory, error)
	RenameSession(ctx context.Context, sessionID, description string) error
	DeleteSession(ctx context.Context, sessionID string) error
}

// Registry caches the known sessions and tracks which one is current.
// Invariant: currentID, when set, references an element of sessions; it may
// reference an unsaved local session, but never a deleted or unknown id.
type Registry struct {
	mu         sync.Mutex
	client     Client
	sessions   map[string]*Metadata
	currentID  string
	defaultDir string
	logger     *slog.Logger
}

// NewRegistry creates a registry. defaultDir is used for sessions created
// without an explicit working directory.
func NewRegistry(client Client, defaultDir string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		client:     client,
		sessions:   make(map[string]*Metadata),
		defaultDir: defaultDir,
		logger:     logger.With("component", "sessions"),
	}
}

// FetchAll refreshes the cache from the daemon and returns the full list,
// newest first. Listing is advisory: on a server failure the cached list is
// returned alongside the error so callers can degrade. Unsaved local
// sessions survive a refresh.
func (r *Registry) FetchAll(ctx context.Context) ([]Metadata, error) {
	raw, err := r.client.ListSessions(ctx)
	if err != nil {
		r.logger.Warn("session list fetch failed", "error", err)
		return r.snapshot(), fmt.Errorf("listing sessions: %w", err)
	}

	normalized, err := Normalize(raw)
	if err != nil {
		r.logger.Warn("session list unparseable", "error", err)
		return r.snapshot(), err
	}

	r.mu.Lock()
	// Rebuild saved entries; keep optimistic unsaved ones.
	for id, s := range r.sessions {
		if !s.Unsaved {
			delete(r.sessions, id)
		}
	}
	for i := range normalized {
		s := normalized[i]
		r.sessions[s.ID] = &s
	}
	// The current pointer must survive the refresh; if the server no longer
	// knows it and it wasn't a local session, drop it.
	if r.currentID != "" {
		if _, ok := r.sessions[r.currentID]; !ok {
			r.currentID = ""
		}
	}
	r.mu.Unlock()

	return r.snapshot(), nil
}

// CreateLocal registers an optimistic, unsaved session and makes it
// current. The daemon learns about it when the first message is sent.
func (r *Registry) CreateLocal(workingDir, description string) Metadata {
	if workingDir == "" {
		workingDir = r.defaultDir
	}
	id := "local-" + uuid.New().String()
	if description == "" {
		description = placeholderDescription(id)
	}

	meta := &Metadata{
		ID:          id,
		WorkingDir:  workingDir,
		Description: description,
		UpdatedAt:   time.Now(),
		Unsaved:     true,
	}

	r.mu.Lock()
	r.sessions[id] = meta
	r.currentID = id
	r.mu.Unlock()

	r.logger.Debug("local session created", "session_id", id, "working_dir", workingDir)
	return *meta
}

// EnsureSaved guarantees the current session exists on the daemon, creating
// it if it is still a local optimistic one. Returns the server-side session
// id. If no session is current, a new one is created directly on the
// daemon.
func (r *Registry) EnsureSaved(ctx context.Context) (string, error) {
	r.mu.Lock()
	current := r.sessions[r.currentID]
	r.mu.Unlock()

	if current != nil && !current.Unsaved {
		return current.ID, nil
	}

	workingDir := r.defaultDir
	description := ""
	if current != nil {
		workingDir = current.WorkingDir
		description = current.Description
	}

	resp, err := r.client.CreateSession(ctx, workingDir, description)
	if err != nil {
		return "", fmt.Errorf("creating session: %w", err)
	}

	r.mu.Lock()
	if current != nil {
		delete(r.sessions, current.ID)
	}
	meta := &Metadata{
		ID:          resp.ID,
		WorkingDir:  workingDir,
		Description: description,
		UpdatedAt:   time.Now(),
	}
	if meta.Description == "" {
		meta.Description = placeholderDescription(meta.ID)
	}
	r.sessions[resp.ID] = meta
	r.currentID = resp.ID
	r.mu.Unlock()

	r.logger.Info("session saved", "session_id", resp.ID)
	return resp.ID, nil
}

// SwitchTo makes the given session current and returns its metadata plus
// the persisted message history. On any failure the previous current
// session is left untouched.
func (r *Registry) SwitchTo(ctx context.Context, sessionID string) (*Metadata, []chat.Message, error) {
	r.mu.Lock()
	if meta, ok := r.sessions[sessionID]; ok && meta.Unsaved {
		// Local session: nothing to fetch.
		r.currentID = sessionID
		m := *meta
		r.mu.Unlock()
		return &m, nil, nil
	}
	r.mu.Unlock()

	hist, err := r.client.GetSessionHistory(ctx, sessionID)
	if err != nil {
		return nil, nil, fmt.Errorf("switching to session %s: %w", sessionID, err)
	}

	r.mu.Lock()
	meta, ok := r.sessions[sessionID]
	if !ok {
		meta = &Metadata{
			ID:          sessionID,
			Description: placeholderDescription(sessionID),
			UpdatedAt:   time.Now(),
		}
		r.sessions[sessionID] = meta
	}
	meta.MessageCount = len(hist.Messages)
	r.currentID = sessionID
	m := *meta
	r.mu.Unlock()

	return &m, hist.Messages, nil
}

// Rename updates a session's description, on the daemon for saved sessions
// and locally for unsaved ones.
func (r *Registry) Rename(ctx context.Context, sessionID, description string) error {
	r.mu.Lock()
	meta, ok := r.sessions[sessionID]
	unsaved := ok && meta.Unsaved
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	if !unsaved {
		if err := r.client.RenameSession(ctx, sessionID, description); err != nil {
			return fmt.Errorf("renaming session %s: %w", sessionID, err)
		}
	}

	r.mu.Lock()
	if meta, ok := r.sessions[sessionID]; ok {
		meta.Description = description
		meta.UpdatedAt = time.Now()
	}
	r.mu.Unlock()
	return nil
}

// Delete removes a session. Deleting the current session promotes another
// existing session, or creates a fresh unsaved one when none remain; the
// current pointer never references a deleted entry.
func (r *Registry) Delete(ctx context.Context, sessionID string) error {
	r.mu.Lock()
	meta, ok := r.sessions[sessionID]
	unsaved := ok && meta.Unsaved
	r.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrSessionNotFound, sessionID)
	}

	if !unsaved {
		if err := r.client.DeleteSession(ctx, sessionID); err != nil {
			return fmt.Errorf("deleting session %s: %w", sessionID, err)
		}
	}

	r.mu.Lock()
	delete(r.sessions, sessionID)
	needFallback := r.currentID == sessionID
	if needFallback {
		r.currentID = ""
		for id := range r.sessions {
			r.currentID = id
			break
		}
	}
	stillEmpty := needFallback && r.currentID == ""
	r.mu.Unlock()

	if stillEmpty {
		r.CreateLocal("", "")
	}

	r.logger.Info("session deleted", "session_id", sessionID)
	return nil
}

// Current returns the current session, or nil when none is selected.
func (r *Registry) Current() *Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()

	meta, ok := r.sessions[r.currentID]
	if !ok {
		return nil
	}
	m := *meta
	return &m
}

// Sessions returns a copy of the cached sessions, newest first.
func (r *Registry) Sessions() []Metadata {
	return r.snapshot()
}

// Touch bumps a session's bookkeeping after a message exchange.
func (r *Registry) Touch(sessionID string, messageDelta, tokenDelta int) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if meta, ok := r.sessions[sessionID]; ok {
		meta.MessageCount += messageDelta
		meta.TotalTokens += tokenDelta
		meta.UpdatedAt = time.Now()
	}
}

func (r *Registry) snapshot() []Metadata {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Metadata, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].UpdatedAt.After(out[j].UpdatedAt)
	})
	return out
}
