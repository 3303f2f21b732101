package player

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"premium-player/internal/platform/logger"
	"premium-player/internal/portalapi"
)

func newTestHandler(t *testing.T) (*Handler, *testPortal) {
	t.Helper()
	tp := newTestPortal(t)
	return NewHandler(tp.Portal, logger.Discard(), nil), tp
}

func newTestRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()
	h.Routes(r)
	return r
}

func do(r http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	var rd *bytes.Reader
	switch b := body.(type) {
	case nil:
		rd = bytes.NewReader(nil)
	case string:
		rd = bytes.NewReader([]byte(b))
	default:
		raw, _ := json.Marshal(b)
		rd = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func openRef(id string) VideoRef {
	return VideoRef{
		VideoID:       id,
		LibraryID:     "lib-1",
		NumericTierID: 2,
		URL:           "https://cdn.example.com/" + id + "/master.m3u8?token=t0",
	}
}

func TestHandler_Open(t *testing.T) {
	h, _ := newTestHandler(t)
	r := newTestRouter(h)

	rec := do(r, http.MethodPost, "/players", openRef("v1"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", rec.Code)
	}

	var snap SessionSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "v1", snap.VideoID)
	assert.Equal(t, "ready", snap.State)
	assert.Equal(t, "lib-1", snap.LibraryID)
}

func TestHandler_Open_bad_request(t *testing.T) {
	h, _ := newTestHandler(t)
	r := newTestRouter(h)

	rec := do(r, http.MethodPost, "/players", "not json")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", rec.Code)
	}

	rec = do(r, http.MethodPost, "/players", VideoRef{VideoID: "v1"})
	if rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for missing library id, got %d", rec.Code)
	}
}

func TestHandler_Open_backend_errors(t *testing.T) {
	h, tp := newTestHandler(t)
	r := newTestRouter(h)

	tp.backend.script(refreshResult{err: portalapi.ErrAuthExpired})
	rec := do(r, http.MethodPost, "/players", VideoRef{VideoID: "v1", LibraryID: "lib-1"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	h2, tp2 := newTestHandler(t)
	tp2.backend.script(refreshResult{err: errors.New("dial tcp: refused")})
	rec = do(newTestRouter(h2), http.MethodPost, "/players", VideoRef{VideoID: "v1", LibraryID: "lib-1"})
	if rec.Code != http.StatusBadGateway {
		t.Errorf("expected 502, got %d", rec.Code)
	}
}

func TestHandler_List_and_Get(t *testing.T) {
	h, tp := newTestHandler(t)
	r := newTestRouter(h)
	tp.open(t, "v2")
	tp.open(t, "v1")

	rec := do(r, http.MethodGet, "/players", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var list []SessionSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &list))
	require.Len(t, list, 2)
	assert.Equal(t, "v1", list[0].VideoID)
	assert.Equal(t, "v2", list[1].VideoID)

	rec = do(r, http.MethodGet, "/players/v2", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = do(r, http.MethodGet, "/players/missing", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_Command(t *testing.T) {
	h, tp := newTestHandler(t)
	r := newTestRouter(h)
	tp.open(t, "v1")

	rec := do(r, http.MethodPost, "/players/v1/commands", Command{Action: "play"})
	require.Equal(t, http.StatusOK, rec.Code)
	var snap SessionSnapshot
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, "playing", snap.State)

	rec = do(r, http.MethodPost, "/players/v1/commands", Command{Action: "seek", Value: 42})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 42.0, snap.CurrentTime)

	rec = do(r, http.MethodPost, "/players/v1/commands", Command{Action: "speed", Value: "1.5"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.Equal(t, 1.5, snap.Speed)
	assert.Equal(t, "1.5x", snap.SpeedLabel)

	rec = do(r, http.MethodPost, "/players/v1/commands", Command{Action: "key", Value: "m"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &snap))
	assert.True(t, snap.Muted)
}

func TestHandler_Command_rejections(t *testing.T) {
	h, tp := newTestHandler(t)
	r := newTestRouter(h)
	tp.open(t, "v1")

	cases := []struct {
		name string
		body any
		want int
	}{
		{"unknown height", Command{Action: "quality", Value: "1440"}, http.StatusBadRequest},
		{"bad quality", Command{Action: "quality", Value: "hd"}, http.StatusBadRequest},
		{"off-ladder speed", Command{Action: "speed", Value: 3}, http.StatusBadRequest},
		{"unknown action", Command{Action: "rewind"}, http.StatusBadRequest},
		{"non-numeric seek", Command{Action: "seek", Value: true}, http.StatusBadRequest},
		{"unknown key", Command{Action: "key", Value: "x"}, http.StatusBadRequest},
		{"invalid body", "{", http.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := do(r, http.MethodPost, "/players/v1/commands", tc.body)
			assert.Equal(t, tc.want, rec.Code)
		})
	}

	rec := do(r, http.MethodPost, "/players/missing/commands", Command{Action: "play"})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandler_Command_retry_after_expiry(t *testing.T) {
	h, tp := newTestHandler(t)
	r := newTestRouter(h)
	s := tp.open(t, "v1")
	s.Expire(SubscriptionExpiredMessage)

	rec := do(r, http.MethodPost, "/players/v1/commands", Command{Action: "retry"})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401, got %d", rec.Code)
	}

	rec = do(r, http.MethodPost, "/players/v1/commands", Command{Action: "play"})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409, got %d", rec.Code)
	}
}

func TestHandler_Close(t *testing.T) {
	h, tp := newTestHandler(t)
	r := newTestRouter(h)
	tp.open(t, "v1")

	rec := do(r, http.MethodDelete, "/players/v1", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}
	assert.False(t, tp.page.scrollLocked())

	rec = do(r, http.MethodDelete, "/players/v1", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", rec.Code)
	}
}

func TestHandler_Pointer(t *testing.T) {
	h, tp := newTestHandler(t)
	r := newTestRouter(h)
	s := tp.open(t, "v1")

	rec := do(r, http.MethodPost, "/players/v1/pointer", PointerEvent{Type: PointerClick})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d", rec.Code)
	}
	assert.Equal(t, StatePlaying, s.State())

	rec = do(r, http.MethodPost, "/players/v1/pointer", PointerEvent{Type: "hover"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(r, http.MethodPost, "/players/v1/pointer", "nope")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandler_Logout(t *testing.T) {
	h, tp := newTestHandler(t)
	r := newTestRouter(h)
	tp.open(t, "v1")

	rec := do(r, http.MethodPost, "/logout", nil)
	if rec.Code != http.StatusNoContent {
		t.Errorf("expected 204, got %d", rec.Code)
	}

	rec = do(r, http.MethodGet, "/players", nil)
	assert.JSONEq(t, "[]", rec.Body.String())
}

func TestHandler_RefreshProfile(t *testing.T) {
	h, tp := newTestHandler(t)
	r := newTestRouter(h)
	tp.backend.profile = portalapi.Profile{UserID: "u1", TierID: "gold", SubscriptionActive: true}

	rec := do(r, http.MethodPost, "/profile/refresh", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var prof portalapi.Profile
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &prof))
	assert.Equal(t, "gold", prof.TierID)

	tp.backend.profErr = portalapi.ErrAuthExpired
	rec = do(r, http.MethodPost, "/profile/refresh", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tp.backend.profErr = &portalapi.StatusError{StatusCode: http.StatusInternalServerError}
	rec = do(r, http.MethodPost, "/profile/refresh", nil)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}
