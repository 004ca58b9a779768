// ABOUTME: Minimal fake agent daemon for E2E testing — serves the HTTP/SSE surface coven-host expects.
// ABOUTME: Usage: fake-agentd agent [-chunk-delay 100ms] [-startup-delay 0s] [-think]

package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
)

func main() {
	// The real daemon is always invoked with a single subcommand; accept
	// and ignore it so a coven-host config can point straight at us.
	args := os.Args[1:]
	if len(args) > 0 && !strings.HasPrefix(args[0], "-") {
		args = args[1:]
	}

	fs := flag.NewFlagSet("fake-agentd", flag.ExitOnError)
	chunkDelay := fs.Duration("chunk-delay", 100*time.Millisecond, "Delay between streamed SSE chunks")
	startupDelay := fs.Duration("startup-delay", 0, "Delay before the status endpoint answers, to exercise readiness polling")
	think := fs.Bool("think", true, "Emit a thinking frame before the reply text")
	tool := fs.Bool("tool", true, "Emit a scripted tool call before the reply text")
	fs.Parse(args)

	port := os.Getenv("PORT")
	if port == "" {
		log.Fatal("PORT not set")
	}
	secret := os.Getenv("COVEN_SERVER__SECRET_KEY")
	if secret == "" {
		log.Fatal("COVEN_SERVER__SECRET_KEY not set")
	}

	d := &daemon{
		secret:     secret,
		chunkDelay: *chunkDelay,
		think:      *think,
		tool:       *tool,
		readyAt:    time.Now().Add(*startupDelay),
		sessions:   make(map[string]*sessionState),
	}

	srv := &http.Server{Addr: "127.0.0.1:" + port, Handler: d.routes()}

	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		srv.Close()
	}()

	fmt.Fprintf(os.Stderr, "fake-agentd listening on 127.0.0.1:%s\n", port)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal(err)
	}
}

type sessionState struct {
	ID          string          `json:"id"`
	WorkingDir  string          `json:"working_dir"`
	Description string          `json:"description"`
	UpdatedAt   time.Time       `json:"updated_at"`
	Messages    json.RawMessage `json:"-"`
}

type daemon struct {
	secret     string
	chunkDelay time.Duration
	think      bool
	tool       bool
	readyAt    time.Time

	mu       sync.Mutex
	sessions map[string]*sessionState
}

func (d *daemon) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", d.handleStatus)
	mux.HandleFunc("GET /agent/versions", d.handleAgentVersions)
	mux.HandleFunc("POST /agent", d.handleCreateAgent)
	mux.HandleFunc("POST /extensions/add", d.handleAddExtension)
	mux.HandleFunc("GET /sessions", d.handleListSessions)
	mux.HandleFunc("POST /sessions/new", d.handleCreateSession)
	mux.HandleFunc("GET /sessions/{id}", d.handleSessionHistory)
	mux.HandleFunc("POST /sessions/{id}/rename", d.handleRenameSession)
	mux.HandleFunc("DELETE /sessions/{id}", d.handleDeleteSession)
	mux.HandleFunc("POST /reply", d.handleReply)
	return d.auth(mux)
}

// auth rejects any request without the shared secret.
func (d *daemon) auth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Secret-Key") != d.secret {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (d *daemon) handleStatus(w http.ResponseWriter, r *http.Request) {
	if time.Now().Before(d.readyAt) {
		http.Error(w, "starting", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, map[string]string{"status": "ok"})
}

func (d *daemon) handleAgentVersions(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{
		"default_version":    "fake-1",
		"available_versions": []string{"fake-1"},
	})
}

func (d *daemon) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Provider string `json:"provider"`
		Model    string `json:"model"`
		Version  string `json:"version"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fmt.Fprintf(os.Stderr, "agent created: provider=%s model=%s version=%s\n", req.Provider, req.Model, req.Version)
	writeJSON(w, map[string]string{})
}

func (d *daemon) handleAddExtension(w http.ResponseWriter, r *http.Request) {
	var ext struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&ext); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fmt.Fprintf(os.Stderr, "extension added: %s\n", ext.Name)
	writeJSON(w, map[string]string{})
}

func (d *daemon) handleListSessions(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	list := make([]*sessionState, 0, len(d.sessions))
	for _, s := range d.sessions {
		list = append(list, s)
	}
	d.mu.Unlock()
	writeJSON(w, map[string]any{"sessions": list})
}

func (d *daemon) handleCreateSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkingDir  string `json:"working_dir"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	s := &sessionState{
		ID:          uuid.New().String(),
		WorkingDir:  req.WorkingDir,
		Description: req.Description,
		UpdatedAt:   time.Now(),
	}
	d.mu.Lock()
	d.sessions[s.ID] = s
	d.mu.Unlock()

	writeJSON(w, map[string]string{"id": s.ID})
}

func (d *daemon) handleSessionHistory(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	s, ok := d.sessions[r.PathValue("id")]
	d.mu.Unlock()
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}

	messages := s.Messages
	if messages == nil {
		messages = json.RawMessage("[]")
	}
	writeJSON(w, map[string]any{
		"session_id": s.ID,
		"metadata":   map[string]any{"description": s.Description, "working_dir": s.WorkingDir},
		"messages":   messages,
	})
}

func (d *daemon) handleRenameSession(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	d.mu.Lock()
	s, ok := d.sessions[r.PathValue("id")]
	if ok {
		s.Description = req.Description
		s.UpdatedAt = time.Now()
	}
	d.mu.Unlock()
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{})
}

func (d *daemon) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	d.mu.Lock()
	_, ok := d.sessions[r.PathValue("id")]
	delete(d.sessions, r.PathValue("id"))
	d.mu.Unlock()
	if !ok {
		http.Error(w, "session not found", http.StatusNotFound)
		return
	}
	writeJSON(w, map[string]string{})
}

// handleReply streams an echo of the last user message as SSE, growing the
// assistant message a few words per frame the way the real daemon does.
func (d *daemon) handleReply(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Messages []struct {
			Role    string `json:"role"`
			Content []struct {
				Type string `json:"type"`
				Text string `json:"text"`
			} `json:"content"`
		} `json:"messages"`
		SessionID string `json:"session_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	lastUser := ""
	for _, m := range req.Messages {
		if m.Role != "user" {
			continue
		}
		for _, part := range m.Content {
			if part.Type == "text" {
				lastUser = part.Text
			}
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")

	send := func(frame map[string]any) bool {
		data, err := json.Marshal(frame)
		if err != nil {
			return false
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
			return false
		}
		flusher.Flush()
		select {
		case <-r.Context().Done():
			return false
		case <-time.After(d.chunkDelay):
			return true
		}
	}

	msgID := uuid.New().String()
	reply := "You said: " + lastUser

	if d.think {
		frame := assistantFrame(msgID, []map[string]any{
			{"type": "thinking", "text": "Considering how to echo this..."},
		})
		if !send(frame) {
			return
		}
	}

	// A scripted tool call: in flight first, then completed. The completed
	// part stays in the final message; the in-flight one only shows as
	// activity on the client.
	var completed []map[string]any
	if d.tool {
		pending := map[string]any{
			"type":      "toolRequest",
			"toolId":    "tool-1",
			"name":      "echo",
			"arguments": map[string]string{"input": lastUser},
			"status":    "running",
		}
		if !send(assistantFrame(msgID, []map[string]any{pending})) {
			return
		}
		done := map[string]any{}
		for k, v := range pending {
			done[k] = v
		}
		done["status"] = "completed"
		completed = append(completed, done)
	}

	words := strings.Fields(reply)
	for i := range words {
		parts := append([]map[string]any{}, completed...)
		parts = append(parts, map[string]any{"type": "text", "text": strings.Join(words[:i+1], " ")})
		if !send(assistantFrame(msgID, parts)) {
			return
		}
	}

	send(map[string]any{"type": "Finish", "reason": "stop"})
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}

func assistantFrame(id string, content []map[string]any) map[string]any {
	return map[string]any{
		"type": "Message",
		"message": map[string]any{
			"id":      id,
			"role":    "assistant",
			"created": time.Now().Unix(),
			"content": content,
		},
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
