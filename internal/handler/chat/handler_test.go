package chat

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"go.uber.org/mock/gomock"
	"go.uber.org/zap"

	"github.com/zhouzirui/pairchat/backend/internal/auth"
	"github.com/zhouzirui/pairchat/backend/internal/mocks"
	"github.com/zhouzirui/pairchat/backend/internal/model/chat"
	"github.com/zhouzirui/pairchat/backend/internal/service/delivery"
	"github.com/zhouzirui/pairchat/backend/internal/store"
)

func setupRouter(t *testing.T, s store.Store) *chi.Mux {
	t.Helper()
	handler := New(s, delivery.NewTracker(s, zap.NewNop(), nil), zap.NewNop())

	r := chi.NewRouter()
	r.Use(auth.Middleware(auth.HeaderProvider{Header: "X-Remote-User"}, zap.NewNop()))
	handler.RegisterRoutes(r)
	return r
}

func seededStore(t *testing.T) *store.Memory {
	t.Helper()
	ctx := context.Background()
	s := store.NewMemory()
	for _, u := range []string{"alice", "bob", "carol"} {
		if err := s.EnsureUser(ctx, u); err != nil {
			t.Fatalf("seed %s: %v", u, err)
		}
	}
	return s
}

func get(r http.Handler, path, user string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if user != "" {
		req.Header.Set("X-Remote-User", user)
	}
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestListUsersExcludesCaller(t *testing.T) {
	r := setupRouter(t, seededStore(t))

	resp := get(r, "/users", "bob")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		Users []string `json:"users"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Users) != 2 || body.Users[0] != "alice" || body.Users[1] != "carol" {
		t.Fatalf("unexpected users %v", body.Users)
	}
}

func TestListUsersRequiresIdentity(t *testing.T) {
	r := setupRouter(t, seededStore(t))

	if resp := get(r, "/users", ""); resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.Code)
	}
}

func TestConversationReturnsHistoryWithoutMarkingRead(t *testing.T) {
	ctx := context.Background()
	s := seededStore(t)
	if _, err := s.Persist(ctx, "alice", "bob", "one"); err != nil {
		t.Fatalf("persist: %v", err)
	}
	if _, err := s.Persist(ctx, "bob", "alice", "two"); err != nil {
		t.Fatalf("persist: %v", err)
	}
	r := setupRouter(t, s)

	resp := get(r, "/conversations/alice/messages", "bob")
	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}

	var body struct {
		Messages []chat.HistoryEntry `json:"messages"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Messages) != 2 || body.Messages[0].Message != "one" || body.Messages[1].Sender != "bob" {
		t.Fatalf("unexpected history %+v", body.Messages)
	}

	unread, err := s.Unread(ctx, "bob")
	if err != nil || len(unread) != 1 {
		t.Fatalf("expected bob to keep one unread message, got %d (%v)", len(unread), err)
	}
}

func TestListUsersStoreFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	s := mocks.NewMockStore(ctrl)
	s.EXPECT().Users(gomock.Any()).Return(nil, store.ErrPersistence)

	r := setupRouter(t, s)
	if resp := get(r, "/users", "bob"); resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}
}
