package recorder

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net/http"

	"github.com/go-chi/chi/v5"

	"streamcap/internal/hls"
)

// Handler exposes the session API over HTTP using go-chi.
type Handler struct {
	mgr *Manager
	log *slog.Logger
}

// NewHandler returns a Handler backed by the given Manager.
func NewHandler(mgr *Manager, log *slog.Logger) *Handler {
	return &Handler{mgr: mgr, log: log}
}

// Routes mounts all session endpoints on a new chi router.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.CreateSession)
	r.Route("/{session_id}", func(r chi.Router) {
		r.Get("/", h.GetSession)
		r.Post("/pause", h.PauseSession)
		r.Post("/resume", h.ResumeSession)
		r.Post("/stop", h.StopSession)
		r.Post("/audio", h.PushAudio)
		r.Post("/frames", h.PushFrame)
		r.Get("/playlists/{kind}", h.GetPlaylist)
	})
	return r
}

type createRequest struct {
	UserID string `json:"user_id"`
}

type sessionResponse struct {
	SessionID string     `json:"session_id"`
	UserID    string     `json:"user_id"`
	Status    Status     `json:"status"`
	Error     string     `json:"error,omitempty"`
	Stats     Stats      `json:"stats"`
	URLs      StreamURLs `json:"urls"`
}

func sessionBody(p *Pipeline) sessionResponse {
	return sessionResponse{
		SessionID: p.Session.ID,
		UserID:    p.Session.UserID,
		Status:    p.Session.Status(),
		Error:     p.Session.ErrReason(),
		Stats:     p.Session.Stats(),
		URLs:      p.URLs(),
	}
}

// CreateSession handles POST /sessions. Body: { "user_id": "u1" }.
func (h *Handler) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	p, err := h.mgr.Create(req.UserID)
	if err != nil {
		h.log.Error("create session failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusCreated, sessionBody(p))
}

// GetSession handles GET /sessions/{session_id}.
func (h *Handler) GetSession(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sessionBody(p))
}

// PauseSession handles POST /sessions/{session_id}/pause.
func (h *Handler) PauseSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(p *Pipeline) error { return p.Pause() })
}

// ResumeSession handles POST /sessions/{session_id}/resume.
func (h *Handler) ResumeSession(w http.ResponseWriter, r *http.Request) {
	h.transition(w, r, func(p *Pipeline) error { return p.Resume() })
}

// StopSession handles POST /sessions/{session_id}/stop. The response carries
// the final stats.
func (h *Handler) StopSession(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if _, err := h.mgr.Stop(p.Session.ID); err != nil {
		h.writeStateError(w, p, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionBody(p))
}

// PushAudio handles POST /sessions/{session_id}/audio. The body is raw
// interleaved little-endian float32 samples.
func (h *Handler) PushAudio(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil || len(body) == 0 || len(body)%4 != 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	samples := make([]float32, len(body)/4)
	for i := range samples {
		samples[i] = math.Float32frombits(binary.LittleEndian.Uint32(body[i*4:]))
	}

	if err := p.PushAudio(samples); err != nil {
		h.writeStateError(w, p, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// PushFrame handles POST /sessions/{session_id}/frames. The body is one raw
// frame in the session's configured pixel format.
func (h *Handler) PushFrame(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}

	frame, err := io.ReadAll(r.Body)
	if err != nil || len(frame) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := p.PushFrame(frame); err != nil {
		h.writeStateError(w, p, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// GetPlaylist handles GET /sessions/{session_id}/playlists/{kind} where kind
// is video, audio, combined, or master.
func (h *Handler) GetPlaylist(w http.ResponseWriter, r *http.Request) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}

	kind := hls.Kind(chi.URLParam(r, "kind"))
	switch kind {
	case hls.KindVideo, hls.KindAudio, hls.KindCombined, hls.KindMaster:
	default:
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", hls.PlaylistContentType)
	w.WriteHeader(http.StatusOK)
	w.Write([]byte(p.Playlist(kind)))
}

func (h *Handler) transition(w http.ResponseWriter, r *http.Request, fn func(*Pipeline) error) {
	p, ok := h.lookup(w, r)
	if !ok {
		return
	}
	if err := fn(p); err != nil {
		h.writeStateError(w, p, err)
		return
	}
	writeJSON(w, http.StatusOK, sessionBody(p))
}

func (h *Handler) lookup(w http.ResponseWriter, r *http.Request) (*Pipeline, bool) {
	id := chi.URLParam(r, "session_id")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	p, err := h.mgr.Get(id)
	if err != nil {
		w.WriteHeader(http.StatusNotFound)
		return nil, false
	}
	return p, true
}

func (h *Handler) writeStateError(w http.ResponseWriter, p *Pipeline, err error) {
	switch {
	case errors.Is(err, ErrAlreadyRecording), errors.Is(err, ErrNotRecording), errors.Is(err, ErrNotPaused):
		h.log.Debug("rejected transition",
			slog.String("session_id", p.Session.ID),
			slog.String("status", string(p.Session.Status())),
			slog.String("error", err.Error()))
		writeJSON(w, http.StatusConflict, map[string]string{"error": err.Error()})
	default:
		h.log.Error("session operation failed",
			slog.String("session_id", p.Session.ID),
			slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
