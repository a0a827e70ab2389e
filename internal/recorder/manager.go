package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"streamcap/internal/audio"
	"streamcap/internal/media"
	"streamcap/internal/platform/metrics"
	"streamcap/internal/video"
)

// ErrSessionNotFound marks lookups for unknown session IDs.
var ErrSessionNotFound = errors.New("session not found")

// EngineFactories builds the codec engines for a new session. Production
// wiring points these at ffmpeg; tests inject stubs.
type EngineFactories struct {
	Audio func(cfg media.AudioConfig) (audio.Engine, error)
	Video func(cfg media.VideoConfig) (video.Engine, error)
}

// Manager owns the live session registry. Sessions are keyed by generated
// UUIDs and removed only via Remove, so stopped sessions stay queryable.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Pipeline

	defaults Options
	engines  EngineFactories
	delivery Delivery
	metrics  *metrics.Metrics
	log      *slog.Logger
}

// NewManager returns a manager that creates sessions with the given default
// options. delivery may be nil when defaults.Streaming is false.
func NewManager(defaults Options, engines EngineFactories, delivery Delivery, m *metrics.Metrics, log *slog.Logger) *Manager {
	return &Manager{
		sessions: make(map[string]*Pipeline),
		defaults: defaults,
		engines:  engines,
		delivery: delivery,
		metrics:  m,
		log:      log,
	}
}

// Create builds, registers, and starts a new recording session for userID.
func (mgr *Manager) Create(userID string) (*Pipeline, error) {
	opts := mgr.defaults

	audioEngine, err := mgr.engines.Audio(opts.Audio)
	if err != nil {
		return nil, fmt.Errorf("create audio engine: %w", err)
	}
	videoEngine, err := mgr.engines.Video(opts.Video)
	if err != nil {
		audioEngine.Close()
		return nil, fmt.Errorf("create video engine: %w", err)
	}

	sess := NewSession(uuid.NewString(), userID)
	p := NewPipeline(sess,
		opts,
		audio.NewEncoder(opts.Audio, audioEngine, mgr.log),
		video.NewEncoder(opts.Video, videoEngine, mgr.log),
		mgr.delivery, mgr.metrics, mgr.log,
	)
	if err := p.Start(); err != nil {
		audioEngine.Close()
		videoEngine.Close()
		return nil, err
	}

	mgr.mu.Lock()
	mgr.sessions[sess.ID] = p
	mgr.mu.Unlock()
	mgr.metrics.SetActiveSessions(mgr.ActiveCount())

	return p, nil
}

// Get returns the pipeline for a session ID.
func (mgr *Manager) Get(id string) (*Pipeline, error) {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	p, ok := mgr.sessions[id]
	if !ok {
		return nil, ErrSessionNotFound
	}
	return p, nil
}

// Stop ends the identified session. The session remains registered so its
// final stats stay queryable.
func (mgr *Manager) Stop(id string) (*Pipeline, error) {
	p, err := mgr.Get(id)
	if err != nil {
		return nil, err
	}
	if err := p.Stop(); err != nil {
		return nil, err
	}
	mgr.metrics.SetActiveSessions(mgr.ActiveCount())
	return p, nil
}

// Remove forgets a session. Running sessions are stopped first.
func (mgr *Manager) Remove(id string) error {
	p, err := mgr.Get(id)
	if err != nil {
		return err
	}
	if p.Session.Active() {
		if err := p.Stop(); err != nil {
			return err
		}
	}
	mgr.mu.Lock()
	delete(mgr.sessions, id)
	mgr.mu.Unlock()
	mgr.metrics.SetActiveSessions(mgr.ActiveCount())
	return nil
}

// ActiveCount reports sessions currently recording or paused.
func (mgr *Manager) ActiveCount() int {
	mgr.mu.Lock()
	defer mgr.mu.Unlock()
	n := 0
	for _, p := range mgr.sessions {
		if p.Session.Active() {
			n++
		}
	}
	return n
}

// StopAll stops every active session, for graceful shutdown.
func (mgr *Manager) StopAll() {
	mgr.mu.Lock()
	pipelines := make([]*Pipeline, 0, len(mgr.sessions))
	for _, p := range mgr.sessions {
		pipelines = append(pipelines, p)
	}
	mgr.mu.Unlock()

	for _, p := range pipelines {
		if p.Session.Active() {
			if err := p.Stop(); err != nil {
				mgr.log.Warn("stop session on shutdown",
					slog.String("session_id", p.Session.ID),
					slog.String("error", err.Error()))
			}
		}
	}
	mgr.metrics.SetActiveSessions(0)
}
