package room

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/zhouzirui/heartline/backend/internal/middleware"
	"github.com/zhouzirui/heartline/backend/internal/model/character"
	"github.com/zhouzirui/heartline/backend/internal/service/ai"
	chatservice "github.com/zhouzirui/heartline/backend/internal/service/chat"
	"github.com/zhouzirui/heartline/backend/internal/service/ending"
	roomservice "github.com/zhouzirui/heartline/backend/internal/service/room"
	"github.com/zhouzirui/heartline/backend/internal/store"
)

type stubTurns struct {
	result *chatservice.TurnResult
	err    error
	text   string
}

func (s *stubTurns) ProcessTurn(_ context.Context, _, _, text string) (*chatservice.TurnResult, error) {
	s.text = text
	return s.result, s.err
}

type stubEndings struct {
	err error
}

func (s *stubEndings) Generate(_ context.Context, _, roomID, rawType string) (*ending.Epilogue, error) {
	if s.err != nil {
		return nil, s.err
	}
	t, ok := ending.ParseType(rawType)
	if !ok {
		return nil, ending.ErrInvalidEndingType
	}
	return &ending.Epilogue{RoomID: roomID, Type: t, Title: "After the Rain"}, nil
}

type fixture struct {
	router  *chi.Mux
	turns   *stubTurns
	endings *stubEndings
}

func setupRouter(t *testing.T) *fixture {
	t.Helper()
	st, err := store.New(filepath.Join(t.TempDir(), "rooms.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	seed, err := character.Seed()
	if err != nil {
		t.Fatalf("seed: %v", err)
	}
	rooms := roomservice.NewService(st, character.NewMemoryStore(seed), roomservice.Config{StartingEnergy: 10})
	f := &fixture{turns: &stubTurns{}, endings: &stubEndings{}}

	r := chi.NewRouter()
	r.Use(middleware.RequireUser)
	New(rooms, f.turns, f.endings).RegisterRoutes(r)
	f.router = r
	return f
}

func (f *fixture) do(t *testing.T, method, path, user string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			t.Fatalf("marshal: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set(middleware.UserHeader, user)
	}
	resp := httptest.NewRecorder()
	f.router.ServeHTTP(resp, req)
	return resp
}

func (f *fixture) openRoom(t *testing.T, user string) string {
	t.Helper()
	resp := f.do(t, http.MethodPost, "/rooms", user, map[string]string{"characterId": "haeun"})
	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var out struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID == "" {
		t.Fatalf("room id missing: %s", resp.Body.String())
	}
	return out.ID
}

func TestOpenRoomCreatesThenReuses(t *testing.T) {
	f := setupRouter(t)
	id := f.openRoom(t, "u1")

	resp := f.do(t, http.MethodPost, "/rooms", "u1", map[string]string{"characterId": "haeun"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for existing room, got %d", resp.Code)
	}
	var out struct {
		ID      string `json:"id"`
		Created bool   `json:"created"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.ID != id || out.Created {
		t.Fatalf("expected same room %s not created, got %+v", id, out)
	}
}

func TestListRooms(t *testing.T) {
	f := setupRouter(t)
	id := f.openRoom(t, "u1")

	resp := f.do(t, http.MethodGet, "/rooms", "u1", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var list []struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 1 || list[0].ID != id {
		t.Fatalf("unexpected rooms %s", resp.Body.String())
	}
}

func TestOpenRoomValidation(t *testing.T) {
	f := setupRouter(t)

	if resp := f.do(t, http.MethodPost, "/rooms", "", map[string]string{"characterId": "haeun"}); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without user, got %d", resp.Code)
	}
	if resp := f.do(t, http.MethodPost, "/rooms", "u1", map[string]string{}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 without characterId, got %d", resp.Code)
	}
	if resp := f.do(t, http.MethodPost, "/rooms", "u1", map[string]string{"characterId": "nobody"}); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown character, got %d", resp.Code)
	}
}

func TestRoomOwnership(t *testing.T) {
	f := setupRouter(t)
	id := f.openRoom(t, "u1")

	if resp := f.do(t, http.MethodGet, "/rooms/"+id, "u1", nil); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for owner, got %d", resp.Code)
	}
	if resp := f.do(t, http.MethodGet, "/rooms/"+id, "u2", nil); resp.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for stranger, got %d", resp.Code)
	}
	if resp := f.do(t, http.MethodGet, "/rooms/missing", "u1", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for missing room, got %d", resp.Code)
	}
}

func TestMessagesAndDelete(t *testing.T) {
	f := setupRouter(t)
	id := f.openRoom(t, "u1")

	resp := f.do(t, http.MethodGet, "/rooms/"+id+"/messages?limit=10", "u1", nil)
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var messages []map[string]any
	if err := json.Unmarshal(resp.Body.Bytes(), &messages); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(messages) != 1 || messages[0]["role"] != "assistant" {
		t.Fatalf("expected greeting only, got %s", resp.Body.String())
	}

	if resp := f.do(t, http.MethodGet, "/rooms/"+id+"/messages?limit=abc", "u1", nil); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad limit, got %d", resp.Code)
	}

	if resp := f.do(t, http.MethodDelete, "/rooms/"+id, "u1", nil); resp.Code != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.Code)
	}
	if resp := f.do(t, http.MethodGet, "/rooms/"+id, "u1", nil); resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.Code)
	}
}

func TestModeAndSceneLocks(t *testing.T) {
	f := setupRouter(t)
	id := f.openRoom(t, "u1")

	if resp := f.do(t, http.MethodPut, "/rooms/"+id+"/mode", "u1", map[string]string{"mode": "sandbox"}); resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for sandbox, got %d", resp.Code)
	}
	if resp := f.do(t, http.MethodPut, "/rooms/"+id+"/mode", "u1", map[string]string{"mode": "secret"}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for locked secret mode, got %d", resp.Code)
	}
	if resp := f.do(t, http.MethodPut, "/rooms/"+id+"/mode", "u1", map[string]string{"mode": "party"}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown mode, got %d", resp.Code)
	}
	if resp := f.do(t, http.MethodPut, "/rooms/"+id+"/scene", "u1", map[string]string{"location": "beach"}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for locked location, got %d", resp.Code)
	}

	resp := f.do(t, http.MethodPut, "/rooms/"+id+"/scene", "u1", map[string]string{"location": "classroom", "outfit": "uniform"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200 for base scene, got %d", resp.Code)
	}
	var snap struct {
		Location         string   `json:"location"`
		AllowedLocations []string `json:"allowedLocations"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &snap); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if snap.Location != "classroom" || len(snap.AllowedLocations) == 0 {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestTurnErrorStatuses(t *testing.T) {
	f := setupRouter(t)
	id := f.openRoom(t, "u1")

	cases := []struct {
		name   string
		err    error
		status int
	}{
		{"empty", chatservice.ErrEmptyMessage, http.StatusBadRequest},
		{"energy", chatservice.ErrInsufficientEnergy, http.StatusPaymentRequired},
		{"ended", chatservice.ErrEndingReached, http.StatusBadRequest},
		{"upstream", &ai.ExternalServiceError{Op: "complete", Attempts: 4, Err: errors.New("HTTP 500")}, http.StatusBadGateway},
		{"internal", errors.New("disk on fire"), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f.turns.err = tc.err
			resp := f.do(t, http.MethodPost, "/rooms/"+id+"/turns", "u1", map[string]string{"message": "hi"})
			if resp.Code != tc.status {
				t.Fatalf("expected %d, got %d", tc.status, resp.Code)
			}
		})
	}
}

func TestTurnSuccess(t *testing.T) {
	f := setupRouter(t)
	id := f.openRoom(t, "u1")
	f.turns.result = &chatservice.TurnResult{Reply: "Hello again.", Emotion: "joy", EnergyLeft: 9}

	resp := f.do(t, http.MethodPost, "/rooms/"+id+"/turns", "u1", map[string]string{"message": "hey there"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	if f.turns.text != "hey there" {
		t.Fatalf("message not forwarded, got %q", f.turns.text)
	}
	var out chatservice.TurnResult
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Reply != "Hello again." || out.EnergyLeft != 9 {
		t.Fatalf("unexpected result %+v", out)
	}
}

func TestEnding(t *testing.T) {
	f := setupRouter(t)
	id := f.openRoom(t, "u1")

	if resp := f.do(t, http.MethodPost, "/rooms/"+id+"/ending", "u1", map[string]string{"endingType": "bitter"}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for invalid type, got %d", resp.Code)
	}

	resp := f.do(t, http.MethodPost, "/rooms/"+id+"/ending", "u1", map[string]string{"endingType": "happy"})
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var out ending.Epilogue
	if err := json.Unmarshal(resp.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Type != ending.Happy || out.RoomID != id {
		t.Fatalf("unexpected epilogue %+v", out)
	}

	f.endings.err = ending.ErrAlreadyEnded
	if resp := f.do(t, http.MethodPost, "/rooms/"+id+"/ending", "u1", map[string]string{"endingType": "SAD"}); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 when already ended, got %d", resp.Code)
	}
}
