package player

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"premium-player/internal/platform/metrics"
	"premium-player/internal/portalapi"
)

var errBadCommand = errors.New("bad command")

// Command is the body of POST /players/{video_id}/commands.
type Command struct {
	Action string `json:"action"`
	Value  any    `json:"value,omitempty"`
}

// Handler exposes the portal as a local HTTP control API using go-chi.
type Handler struct {
	portal  *Portal
	log     *slog.Logger
	metrics *metrics.Metrics
}

// NewHandler returns a Handler over portal. Metrics may be nil to disable
// metric recording (e.g. in tests).
func NewHandler(portal *Portal, log *slog.Logger, m *metrics.Metrics) *Handler {
	return &Handler{portal: portal, log: log, metrics: m}
}

// Routes mounts the control API on r.
func (h *Handler) Routes(r chi.Router) {
	r.Post("/logout", h.Logout)
	r.Post("/profile/refresh", h.RefreshProfile)
	r.Route("/players", func(r chi.Router) {
		r.Post("/", h.Open)
		r.Get("/", h.List)
		r.Route("/{video_id}", func(r chi.Router) {
			r.Get("/", h.Get)
			r.Delete("/", h.Close)
			r.Post("/commands", h.Command)
			r.Post("/pointer", h.Pointer)
		})
	})
}

// Open handles POST /players. Body: a VideoRef.
func (h *Handler) Open(w http.ResponseWriter, r *http.Request) {
	var ref VideoRef
	if err := json.NewDecoder(r.Body).Decode(&ref); err != nil {
		h.log.Debug("invalid open body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	sess, err := h.portal.Open(r.Context(), ref)
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		h.log.Warn("open player failed",
			slog.String("video_id", ref.VideoID),
			slog.Int("status", status),
			slog.String("error", err.Error()))
		w.WriteHeader(status)
		return
	}

	h.updateSessions()
	writeJSON(w, http.StatusCreated, sess.Snapshot())
}

// List handles GET /players.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	sessions := h.portal.Sessions()
	out := make([]SessionSnapshot, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, s.Snapshot())
	}
	writeJSON(w, http.StatusOK, out)
}

// Get handles GET /players/{video_id}.
func (h *Handler) Get(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// Close handles DELETE /players/{video_id}.
func (h *Handler) Close(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "video_id")
	if !h.portal.Close(id) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	h.updateSessions()
	w.WriteHeader(http.StatusNoContent)
}

// Command handles POST /players/{video_id}/commands.
// Body: { "action": "seek", "value": 42 }.
func (h *Handler) Command(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var cmd Command
	if err := json.NewDecoder(r.Body).Decode(&cmd); err != nil {
		h.log.Debug("invalid command body", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := dispatch(sess, cmd); err != nil {
		status := statusFor(err)
		h.log.Debug("command rejected",
			slog.String("video_id", sess.VideoID()),
			slog.String("action", cmd.Action),
			slog.Int("status", status),
			slog.String("error", err.Error()))
		w.WriteHeader(status)
		return
	}
	writeJSON(w, http.StatusOK, sess.Snapshot())
}

// Pointer handles POST /players/{video_id}/pointer. Body: a PointerEvent.
func (h *Handler) Pointer(w http.ResponseWriter, r *http.Request) {
	sess, ok := h.session(w, r)
	if !ok {
		return
	}

	var ev PointerEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	if err := sess.Pointer(ev); err != nil {
		if errors.Is(err, ErrDisposed) {
			w.WriteHeader(http.StatusConflict)
			return
		}
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// Logout handles POST /logout.
func (h *Handler) Logout(w http.ResponseWriter, r *http.Request) {
	if err := h.portal.Logout(r.Context()); err != nil {
		h.log.Error("logout failed", slog.String("error", err.Error()))
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	h.updateSessions()
	w.WriteHeader(http.StatusNoContent)
}

// RefreshProfile handles POST /profile/refresh.
func (h *Handler) RefreshProfile(w http.ResponseWriter, r *http.Request) {
	prof, err := h.portal.RefreshProfile(r.Context())
	if err != nil {
		status := statusFor(err)
		if status == http.StatusInternalServerError {
			status = http.StatusBadGateway
		}
		h.log.Warn("profile refresh failed", slog.String("error", err.Error()))
		w.WriteHeader(status)
		return
	}
	writeJSON(w, http.StatusOK, prof)
}

func (h *Handler) session(w http.ResponseWriter, r *http.Request) (*Session, bool) {
	id := chi.URLParam(r, "video_id")
	if id == "" {
		w.WriteHeader(http.StatusBadRequest)
		return nil, false
	}
	sess, ok := h.portal.Session(id)
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return nil, false
	}
	return sess, true
}

func (h *Handler) updateSessions() {
	if h.metrics != nil {
		h.metrics.SetSessionsActive(h.portal.Registry().Len())
	}
}

func dispatch(s *Session, cmd Command) error {
	switch cmd.Action {
	case "play":
		return s.Play()
	case "pause":
		return s.Pause()
	case "toggle":
		return s.TogglePlay()
	case "seek":
		t, err := floatValue(cmd.Value)
		if err != nil {
			return err
		}
		return s.SeekTo(t)
	case "skip":
		d, err := floatValue(cmd.Value)
		if err != nil {
			return err
		}
		return s.SkipBy(d)
	case "quality":
		raw, err := stringValue(cmd.Value)
		if err != nil {
			return err
		}
		q, err := ParseQuality(raw)
		if err != nil {
			return err
		}
		return s.SetQuality(q)
	case "speed":
		rate, err := floatValue(cmd.Value)
		if err != nil {
			return err
		}
		return s.SetSpeed(rate)
	case "volume":
		v, err := floatValue(cmd.Value)
		if err != nil {
			return err
		}
		return s.SetVolume(v)
	case "mute":
		return s.ToggleMute()
	case "fullscreen":
		return s.ToggleFullscreen()
	case "controls":
		s.ToggleControls()
		return nil
	case "retry":
		return s.Retry()
	case "key":
		key, err := stringValue(cmd.Value)
		if err != nil {
			return err
		}
		return s.HandleKey(key)
	}
	return fmt.Errorf("%w: unknown action %q", errBadCommand, cmd.Action)
}

func floatValue(v any) (float64, error) {
	switch x := v.(type) {
	case float64:
		return x, nil
	case string:
		f, err := strconv.ParseFloat(x, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q is not a number", errBadCommand, x)
		}
		return f, nil
	}
	return 0, fmt.Errorf("%w: numeric value required", errBadCommand)
}

func stringValue(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	}
	return "", fmt.Errorf("%w: string value required", errBadCommand)
}

func statusFor(err error) int {
	var se *portalapi.StatusError
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrInvalidVideoRef),
		errors.Is(err, ErrInvalidQuality),
		errors.Is(err, ErrInvalidSpeed),
		errors.Is(err, ErrUnknownKey),
		errors.Is(err, errBadCommand):
		return http.StatusBadRequest
	case errors.Is(err, ErrDisposed), errors.Is(err, ErrNotReady), errors.Is(err, ErrAlreadyRegistered):
		return http.StatusConflict
	case errors.Is(err, portalapi.ErrAuthExpired):
		return http.StatusUnauthorized
	case errors.As(err, &se):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
