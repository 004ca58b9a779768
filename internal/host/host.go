// ABOUTME: Host orchestrates the agent daemon lifecycle and the chat flow on top of it.
// ABOUTME: Composes secret/port allocation, process supervision, readiness probing, and sessions.

package host

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/2389/coven-host/internal/api"
	"github.com/2389/coven-host/internal/chat"
	"github.com/2389/coven-host/internal/config"
	"github.com/2389/coven-host/internal/ports"
	"github.com/2389/coven-host/internal/probe"
	"github.com/2389/coven-host/internal/secret"
	"github.com/2389/coven-host/internal/session"
	"github.com/2389/coven-host/internal/store"
	"github.com/2389/coven-host/internal/stream"
	"github.com/2389/coven-host/internal/supervisor"
)

var (
	// ErrNotStopped is returned by Start when the daemon is not fully stopped.
	ErrNotStopped = errors.New("daemon is not stopped")

	// ErrNotRunning is returned by operations that need a running daemon.
	ErrNotRunning = errors.New("daemon is not running")

	// ErrBusy is returned when another lifecycle operation is in flight.
	ErrBusy = errors.New("another lifecycle operation is in progress")

	// ErrReplyInFlight is returned by SendMessage while a response streams.
	ErrReplyInFlight = errors.New("a response is already streaming")

	// ErrNeverReady means the daemon process started but its status
	// endpoint never answered within the readiness budget.
	ErrNeverReady = errors.New("daemon never became ready")
)

const (
	lockFileName  = "coven-host.lock"
	storeFileName = "transcripts.db"
)

// Process is the supervisor-owned child as the host sees it.
type Process interface {
	Stop()
	Done() <-chan error
	Pid() int
}

// Launcher spawns the daemon process. Tests substitute their own.
type Launcher func(cfg supervisor.Config) (Process, error)

func defaultLauncher(cfg supervisor.Config) (Process, error) {
	return supervisor.Start(cfg)
}

// Host owns one daemon instance and everything built on top of it: the
// API client, the session registry, the chat timeline, and the local
// transcript mirror. All exported methods are safe for concurrent use.
type Host struct {
	cfg    *config.Config
	logger *slog.Logger
	events *Broadcaster

	launcher     Launcher
	allocatePort func() (int, error)
	newSecret    func() (string, error)

	// opMu serializes Start/Stop/Restart. A start in flight makes
	// concurrent lifecycle calls fail fast instead of queueing.
	opMu sync.Mutex

	mu      sync.Mutex
	status  Status
	lastErr error
	gen     uint64 // bumped per start; stale crash watchers exit

	proc     Process
	port     int
	client   *api.Client
	registry *session.Registry
	timeline *chat.Timeline
	mirror   store.TranscriptStore
	lock     *flock.Flock

	streaming    bool
	cancelStream context.CancelFunc
}

// New creates a host for the given configuration. Nothing is spawned
// until Start.
func New(cfg *config.Config, logger *slog.Logger) *Host {
	if logger == nil {
		logger = slog.Default()
	}
	return &Host{
		cfg:          cfg,
		logger:       logger.With("component", "host"),
		events:       NewBroadcaster(logger),
		launcher:     defaultLauncher,
		allocatePort: ports.Allocate,
		newSecret:    secret.Generate,
		status:       StatusStopped,
		timeline:     chat.NewTimeline(),
	}
}

// Subscribe registers an observer of host events. The returned function
// unsubscribes.
func (h *Host) Subscribe() (<-chan Event, func()) {
	return h.events.Subscribe()
}

// Status returns the current lifecycle state.
func (h *Host) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.status
}

// LastError returns the failure that put the host into StatusError, or
// nil.
func (h *Host) LastError() error {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.lastErr
}

// Port returns the daemon's port, or 0 when not running.
func (h *Host) Port() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.port
}

// Pid returns the daemon's process id, or 0 when not running.
func (h *Host) Pid() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.proc == nil {
		return 0
	}
	return h.proc.Pid()
}

// Registry exposes the session registry. Nil unless running.
func (h *Host) Registry() *session.Registry {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.registry
}

// Messages returns a snapshot of the active conversation timeline.
func (h *Host) Messages() []chat.Message {
	h.mu.Lock()
	timeline := h.timeline
	h.mu.Unlock()
	return timeline.Messages()
}

// Start brings the daemon up: instance lock, secret, port, spawn,
// readiness, agent bootstrap, session registry. Any failure lands the
// host in StatusError with the cause retained; only Stop clears it.
func (h *Host) Start(ctx context.Context) error {
	if !h.opMu.TryLock() {
		return ErrBusy
	}
	defer h.opMu.Unlock()

	h.mu.Lock()
	if h.status != StatusStopped {
		status := h.status
		h.mu.Unlock()
		return fmt.Errorf("%w: currently %s", ErrNotStopped, status)
	}
	h.mu.Unlock()
	h.setStatus(StatusStarting)

	stateDir := h.cfg.Host.StateDir
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return h.fail(fmt.Errorf("creating state dir: %w", err))
	}

	lock := flock.New(filepath.Join(stateDir, lockFileName))
	locked, err := lock.TryLock()
	if err != nil {
		return h.fail(fmt.Errorf("acquiring instance lock: %w", err))
	}
	if !locked {
		return h.fail(fmt.Errorf("another coven-host instance holds %s", lock.Path()))
	}

	secretKey, err := h.newSecret()
	if err != nil {
		lock.Unlock()
		return h.fail(fmt.Errorf("generating secret: %w", err))
	}

	port, err := h.allocatePort()
	if err != nil {
		lock.Unlock()
		return h.fail(fmt.Errorf("allocating port: %w", err))
	}

	proc, err := h.launcher(supervisor.Config{
		BinaryPath: h.cfg.Daemon.BinaryPath,
		Subcommand: h.cfg.Daemon.Subcommand,
		WorkingDir: h.cfg.Daemon.WorkingDir,
		Port:       port,
		Secret:     secretKey,
		ExtraEnv:   h.cfg.Daemon.Env,
		Logger:     h.logger,
	})
	if err != nil {
		lock.Unlock()
		return h.fail(fmt.Errorf("launching daemon: %w", err))
	}

	h.logger.Info("daemon launched", "pid", proc.Pid(), "port", port)

	ready := probe.New(h.cfg.Readiness.Attempts, h.cfg.Readiness.Interval, h.logger).
		WaitUntilReady(ctx, port, secretKey)
	if !ready {
		proc.Stop()
		lock.Unlock()
		return h.fail(ErrNeverReady)
	}

	client := api.New(port, secretKey, h.logger)

	if err := h.bootstrapAgent(ctx, client); err != nil {
		proc.Stop()
		lock.Unlock()
		return h.fail(fmt.Errorf("bootstrapping agent: %w", err))
	}

	// The transcript mirror is advisory: the daemon owns history, so a
	// broken local database degrades rather than blocks startup.
	var mirror store.TranscriptStore
	if sqlite, err := store.NewSQLiteStore(filepath.Join(stateDir, storeFileName), h.logger); err != nil {
		h.logger.Warn("transcript mirror unavailable", "error", err)
	} else {
		mirror = sqlite
	}

	registry := session.NewRegistry(client, h.cfg.Daemon.WorkingDir, h.logger)
	if _, err := registry.FetchAll(ctx); err != nil {
		h.logger.Warn("initial session fetch failed", "error", err)
	}
	if registry.Current() == nil {
		registry.CreateLocal(h.cfg.Daemon.WorkingDir, "")
	}

	h.mu.Lock()
	h.proc = proc
	h.port = port
	h.client = client
	h.registry = registry
	h.mirror = mirror
	h.lock = lock
	h.timeline = chat.NewTimeline()
	h.gen++
	gen := h.gen
	h.mu.Unlock()

	h.setStatus(StatusRunning)
	go h.watchCrash(gen, proc.Done())

	return nil
}

// Stop tears the daemon down from any state, including StatusError, and
// lands in StatusStopped. Idempotent.
func (h *Host) Stop() {
	h.opMu.Lock()
	defer h.opMu.Unlock()

	h.mu.Lock()
	if h.status == StatusStopped {
		h.mu.Unlock()
		return
	}
	if h.cancelStream != nil {
		h.cancelStream()
	}
	proc := h.proc
	mirror := h.mirror
	lock := h.lock
	h.gen++ // stale crash watcher must not see this stop as a crash
	h.clearRuntimeLocked()
	h.mu.Unlock()

	if proc != nil {
		proc.Stop()
	}
	if mirror != nil {
		mirror.Close()
	}
	if lock != nil {
		lock.Unlock()
	}

	h.setStatus(StatusStopped)
}

// Restart is a convenience stop-then-start. It is not atomic; observers
// see the intermediate StatusStopped.
func (h *Host) Restart(ctx context.Context) error {
	h.Stop()
	return h.Start(ctx)
}

// SendMessage appends a user message to the timeline, streams the
// daemon's reply, and returns the final assistant message. Timeline and
// activity updates are published to subscribers while streaming. Only
// one reply may stream at a time.
func (h *Host) SendMessage(ctx context.Context, text string) (*chat.Message, error) {
	h.mu.Lock()
	if h.status != StatusRunning || h.client == nil {
		h.mu.Unlock()
		return nil, ErrNotRunning
	}
	if h.streaming {
		h.mu.Unlock()
		return nil, ErrReplyInFlight
	}
	streamCtx, cancel := context.WithCancel(ctx)
	h.streaming = true
	h.cancelStream = cancel
	client := h.client
	registry := h.registry
	timeline := h.timeline
	mirror := h.mirror
	h.mu.Unlock()

	defer func() {
		cancel()
		h.mu.Lock()
		h.streaming = false
		h.cancelStream = nil
		h.mu.Unlock()
	}()

	sessionID, err := registry.EnsureSaved(ctx)
	if err != nil {
		return nil, fmt.Errorf("saving session: %w", err)
	}
	current := registry.Current()

	userMsg := chat.NewUserMessage(text)
	timeline.Upsert(userMsg)
	h.events.Publish(Event{Kind: EventMessage, Message: &userMsg})
	h.persist(ctx, mirror, current, userMsg)

	body, err := client.StreamReply(streamCtx, api.ReplyRequest{
		Messages:          timeline.Messages(),
		SessionID:         sessionID,
		SessionWorkingDir: current.WorkingDir,
	})
	if err != nil {
		return nil, fmt.Errorf("starting reply stream: %w", err)
	}

	var final *chat.Message
	var streamErr error

	stream.NewDecoder(h.logger).Decode(streamCtx, body, func(ev stream.Event) {
		switch ev.Kind {
		case stream.KindMessage:
			if ev.Message != nil && timeline.Upsert(*ev.Message) {
				h.events.Publish(Event{Kind: EventMessage, Message: ev.Message})
			}
		case stream.KindActivity:
			h.events.Publish(Event{Kind: EventActivity, Activity: ev.Activity})
		case stream.KindFinish:
			final = ev.Message
			if final != nil {
				if timeline.Upsert(*final) {
					h.events.Publish(Event{Kind: EventMessage, Message: final})
				}
				h.persist(ctx, mirror, current, *final)
			}
			h.events.Publish(Event{Kind: EventActivity, Activity: ""})
		case stream.KindError:
			streamErr = ev.Err
			h.events.Publish(Event{Kind: EventError, Err: ev.Err})
		}
	})

	if streamErr != nil {
		return final, streamErr
	}
	registry.Touch(sessionID, 2, 0)
	return final, nil
}

// CancelReply aborts the in-flight response, if any. The stream finishes
// with whatever partial content arrived.
func (h *Host) CancelReply() {
	h.mu.Lock()
	cancel := h.cancelStream
	h.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// SwitchSession makes sessionID current and resets the timeline to its
// history.
func (h *Host) SwitchSession(ctx context.Context, sessionID string) error {
	h.mu.Lock()
	registry := h.registry
	timeline := h.timeline
	h.mu.Unlock()
	if registry == nil {
		return ErrNotRunning
	}

	_, history, err := registry.SwitchTo(ctx, sessionID)
	if err != nil {
		return err
	}
	timeline.Reset(history)
	return nil
}

// NewSession starts a fresh unsaved session and clears the timeline.
func (h *Host) NewSession(workingDir, description string) (*session.Metadata, error) {
	h.mu.Lock()
	registry := h.registry
	timeline := h.timeline
	h.mu.Unlock()
	if registry == nil {
		return nil, ErrNotRunning
	}

	meta := registry.CreateLocal(workingDir, description)
	timeline.Reset(nil)
	return &meta, nil
}

// bootstrapAgent configures the freshly started daemon: resolve the agent
// version, create the agent, and register configured extensions.
func (h *Host) bootstrapAgent(ctx context.Context, client *api.Client) error {
	versions, err := client.ListAgentVersions(ctx)
	if err != nil {
		return fmt.Errorf("listing agent versions: %w", err)
	}

	version := h.cfg.Daemon.Version
	if version == "" {
		version = versions.DefaultVersion
	}

	if err := client.CreateAgent(ctx, h.cfg.Daemon.Provider, h.cfg.Daemon.Model, version); err != nil {
		return fmt.Errorf("creating agent: %w", err)
	}

	for _, ext := range h.cfg.Daemon.Extensions {
		err := client.AddExtension(ctx, api.Extension{
			Type:    ext.Type,
			Name:    ext.Name,
			Command: ext.Command,
			Args:    ext.Args,
		})
		if err != nil {
			return fmt.Errorf("adding extension %s: %w", ext.Name, err)
		}
	}

	h.logger.Info("agent configured",
		"provider", h.cfg.Daemon.Provider,
		"version", version,
		"extensions", len(h.cfg.Daemon.Extensions))
	return nil
}

// watchCrash waits for the daemon process to exit. An exit that the host
// did not initiate forces StatusStopped; there is no automatic restart.
func (h *Host) watchCrash(gen uint64, done <-chan error) {
	err := <-done

	h.mu.Lock()
	if h.gen != gen || h.status != StatusRunning {
		h.mu.Unlock()
		return
	}
	if h.cancelStream != nil {
		h.cancelStream()
	}
	mirror := h.mirror
	lock := h.lock
	h.clearRuntimeLocked()
	h.mu.Unlock()

	h.logger.Error("daemon exited unexpectedly", "error", err)
	if mirror != nil {
		mirror.Close()
	}
	if lock != nil {
		lock.Unlock()
	}

	h.events.Publish(Event{Kind: EventError, Err: fmt.Errorf("daemon exited unexpectedly: %w", err)})
	h.setStatus(StatusStopped)
}

// persist mirrors a session row and message locally. Failures are logged,
// never surfaced: the daemon owns history.
func (h *Host) persist(ctx context.Context, mirror store.TranscriptStore, meta *session.Metadata, msg chat.Message) {
	if mirror == nil || meta == nil {
		return
	}
	rec := store.SessionRecord{
		ID:          meta.ID,
		WorkingDir:  meta.WorkingDir,
		Description: meta.Description,
		UpdatedAt:   meta.UpdatedAt,
	}
	if err := mirror.SaveSession(ctx, rec); err != nil {
		h.logger.Warn("mirroring session failed", "session_id", meta.ID, "error", err)
		return
	}
	if err := mirror.SaveMessage(ctx, meta.ID, msg); err != nil {
		h.logger.Warn("mirroring message failed", "message_id", msg.ID, "error", err)
	}
}

// fail records err, lands the host in StatusError, and returns err.
func (h *Host) fail(err error) error {
	h.mu.Lock()
	h.lastErr = err
	h.mu.Unlock()
	h.logger.Error("startup failed", "error", err)
	h.setStatus(StatusError)
	return err
}

func (h *Host) setStatus(status Status) {
	h.mu.Lock()
	h.status = status
	h.mu.Unlock()
	h.events.Publish(Event{Kind: EventStatus, Status: status})
}

// clearRuntimeLocked resets all per-instance state. Caller holds h.mu.
func (h *Host) clearRuntimeLocked() {
	h.proc = nil
	h.port = 0
	h.client = nil
	h.registry = nil
	h.mirror = nil
	h.lock = nil
	h.streaming = false
	h.cancelStream = nil
	h.lastErr = nil
	h.timeline = chat.NewTimeline()
}
