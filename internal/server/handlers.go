package server

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/dgnsrekt/telepresence/internal/config"
	"github.com/dgnsrekt/telepresence/internal/data"
	"github.com/dgnsrekt/telepresence/internal/ws"
)

// jpegMagic is the start-of-image marker every JPEG begins with.
var jpegMagic = []byte{0xff, 0xd8}

type Server struct {
	store    data.SpaceStore
	frames   *data.FrameCache
	hub      *ws.Hub
	limiters *publishLimiters
	config   *config.ServerConfig
	logger   *zap.Logger
	now      func() time.Time
}

// NewServer wires the relay. hub may be nil when push is disabled.
func NewServer(store data.SpaceStore, frames *data.FrameCache, hub *ws.Hub, cfg *config.ServerConfig, logger *zap.Logger) *Server {
	return &Server{
		store:    store,
		frames:   frames,
		hub:      hub,
		limiters: newPublishLimiters(rate.Limit(cfg.ScreenRatePerSec), cfg.ScreenBurst),
		config:   cfg,
		logger:   logger,
		now:      time.Now,
	}
}

type errorResponse struct {
	Error string `json:"error"`
}

type registration struct {
	SpaceID       string `json:"spaceId"`
	ParticipantID string `json:"participantId"`
	Name          string `json:"name"`
}

type healthResponse struct {
	Status       string `json:"status"`
	Subscribers  int    `json:"subscribers"`
	CachedFrames int    `json:"cachedFrames"`
}

// CreateSpace handles POST /client/spaces.
func (s *Server) CreateSpace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name            string `json:"name"`
		AccessCode      string `json:"accessCode"`
		ParticipantName string `json:"participantName"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	space, p, err := s.store.CreateSpace(r.Context(), req.Name, req.AccessCode, req.ParticipantName)
	switch {
	case errors.Is(err, data.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, data.ErrAccessCodeTaken):
		writeError(w, http.StatusConflict, err.Error())
		return
	case err != nil:
		s.internalError(w, "create space", err)
		return
	}

	s.logger.Info("space created",
		zap.String("space_id", space.ID),
		zap.String("participant_id", p.ID),
	)
	writeJSON(w, http.StatusCreated, registration{SpaceID: space.ID, ParticipantID: p.ID, Name: p.Name})
}

// RegisterParticipant handles POST /client/participants.
func (s *Server) RegisterParticipant(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccessCode string `json:"accessCode"`
		Name       string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	space, p, err := s.store.JoinSpace(r.Context(), req.AccessCode, req.Name)
	switch {
	case errors.Is(err, data.ErrInvalidInput):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case errors.Is(err, data.ErrNotFound):
		writeError(w, http.StatusNotFound, "no space with this access code")
		return
	case err != nil:
		s.internalError(w, "join space", err)
		return
	}

	s.logger.Info("participant joined",
		zap.String("space_id", space.ID),
		zap.String("participant_id", p.ID),
	)
	s.broadcast(ws.Event{Type: ws.EventRosterUpdate, SpaceID: space.ID, ParticipantID: p.ID, Timestamp: s.now()})
	writeJSON(w, http.StatusCreated, registration{SpaceID: space.ID, ParticipantID: p.ID, Name: p.Name})
}

// GetSpaceStatus handles GET /client/spaces/{spaceId}.
func (s *Server) GetSpaceStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.Status(r.Context(), chi.URLParam(r, "spaceId"))
	if errors.Is(err, data.ErrNotFound) {
		writeError(w, http.StatusNotFound, "space not found")
		return
	}
	if err != nil {
		s.internalError(w, "space status", err)
		return
	}
	writeJSON(w, http.StatusOK, status)
}

// Negotiate handles GET /client/spaces/{spaceId}/negotiate.
func (s *Server) Negotiate(w http.ResponseWriter, r *http.Request) {
	spaceID := chi.URLParam(r, "spaceId")
	if s.hub == nil {
		writeError(w, http.StatusNotFound, "push channel disabled")
		return
	}
	if _, err := s.store.Status(r.Context(), spaceID); err != nil {
		if errors.Is(err, data.ErrNotFound) {
			writeError(w, http.StatusNotFound, "space not found")
			return
		}
		s.internalError(w, "negotiate", err)
		return
	}
	writeJSON(w, http.StatusOK, ws.Negotiate(r, spaceID))
}

// LeaveSpace handles DELETE /client/spaces/{spaceId}/participants/{participantId}.
func (s *Server) LeaveSpace(w http.ResponseWriter, r *http.Request) {
	spaceID, participantID := chi.URLParam(r, "spaceId"), chi.URLParam(r, "participantId")

	err := s.store.RemoveParticipant(r.Context(), spaceID, participantID)
	if errors.Is(err, data.ErrNotFound) {
		writeError(w, http.StatusNotFound, "participant not found")
		return
	}
	if err != nil {
		s.internalError(w, "leave space", err)
		return
	}

	s.frames.Forget(spaceID, participantID)
	s.limiters.forget(spaceID, participantID)
	s.logger.Info("participant left",
		zap.String("space_id", spaceID),
		zap.String("participant_id", participantID),
	)
	s.broadcast(ws.Event{Type: ws.EventRosterUpdate, SpaceID: spaceID, ParticipantID: participantID, Timestamp: s.now()})
	w.WriteHeader(http.StatusNoContent)
}

// PublishScreen handles POST /client/spaces/{spaceId}/participants/{participantId}/screen.
func (s *Server) PublishScreen(w http.ResponseWriter, r *http.Request) {
	spaceID, participantID := chi.URLParam(r, "spaceId"), chi.URLParam(r, "participantId")

	ok, err := s.store.HasParticipant(r.Context(), spaceID, participantID)
	if err != nil {
		s.internalError(w, "lookup participant", err)
		return
	}
	if !ok {
		writeError(w, http.StatusNotFound, "participant not found in space")
		return
	}

	if !s.limiters.allow(spaceID, participantID) {
		writeError(w, http.StatusTooManyRequests, "publishing too fast")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "screen image too large")
			return
		}
		writeError(w, http.StatusBadRequest, "reading body failed")
		return
	}
	if !bytes.HasPrefix(body, jpegMagic) {
		writeError(w, http.StatusBadRequest, "body is not a JPEG image")
		return
	}

	now := s.now()
	s.frames.Put(data.Frame{SpaceID: spaceID, ParticipantID: participantID, Image: body, ReceivedAt: now})
	s.broadcast(ws.Event{
		Type:          ws.EventScreenUpdate,
		SpaceID:       spaceID,
		ParticipantID: participantID,
		Image:         body,
		Timestamp:     now,
	})

	s.logger.Debug("screen received",
		zap.String("space_id", spaceID),
		zap.String("participant_id", participantID),
		zap.Int("bytes", len(body)),
	)
	w.WriteHeader(http.StatusNoContent)
}

// ServeSpaceWS handles GET /ws/spaces/{spaceId}. New subscribers first get
// the latest frame of every participant.
func (s *Server) ServeSpaceWS(w http.ResponseWriter, r *http.Request) {
	spaceID := chi.URLParam(r, "spaceId")
	if _, err := s.store.Status(r.Context(), spaceID); err != nil {
		if errors.Is(err, data.ErrNotFound) {
			writeError(w, http.StatusNotFound, "space not found")
			return
		}
		s.internalError(w, "subscribe", err)
		return
	}

	latest := s.frames.Latest(spaceID)
	initial := make([]ws.Event, 0, len(latest))
	for _, f := range latest {
		initial = append(initial, ws.Event{
			Type:          ws.EventScreenUpdate,
			SpaceID:       f.SpaceID,
			ParticipantID: f.ParticipantID,
			Image:         f.Image,
			Timestamp:     f.ReceivedAt,
		})
	}
	s.hub.ServeSpace(w, r, spaceID, initial)
}

// GetHealth handles GET /health.
func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{Status: "ok"}
	resp.CachedFrames, _ = s.frames.Size()
	if s.hub != nil {
		resp.Subscribers = s.hub.Clients()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) broadcast(ev ws.Event) {
	if s.hub != nil {
		s.hub.Broadcast(ev)
	}
}

func (s *Server) internalError(w http.ResponseWriter, op string, err error) {
	s.logger.Error(op+" failed", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "internal error")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// publishLimiters paces screen uploads per participant.
type publishLimiters struct {
	mu       sync.Mutex
	limit    rate.Limit
	burst    int
	limiters map[string]*rate.Limiter
}

func newPublishLimiters(limit rate.Limit, burst int) *publishLimiters {
	return &publishLimiters{limit: limit, burst: burst, limiters: make(map[string]*rate.Limiter)}
}

func (p *publishLimiters) allow(spaceID, participantID string) bool {
	key := spaceID + "/" + participantID
	p.mu.Lock()
	l, ok := p.limiters[key]
	if !ok {
		l = rate.NewLimiter(p.limit, p.burst)
		p.limiters[key] = l
	}
	p.mu.Unlock()
	return l.Allow()
}

func (p *publishLimiters) forget(spaceID, participantID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.limiters, spaceID+"/"+participantID)
}
