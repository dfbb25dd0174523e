package chat

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	analysis "github.com/zhouzirui/duet/backend/internal/analysis/safety"
	chatmodel "github.com/zhouzirui/duet/backend/internal/model/chat"
	"github.com/zhouzirui/duet/backend/internal/model/safety"
	chatservice "github.com/zhouzirui/duet/backend/internal/service/chat"
	safetyservice "github.com/zhouzirui/duet/backend/internal/service/safety"
	"github.com/zhouzirui/duet/backend/internal/store"
)

// stubReflector records a fixed reflection, standing in for the model.
type stubReflector struct {
	svc *chatservice.Service
}

func (r *stubReflector) Reflect(ctx context.Context, sessionID string) error {
	_, err := r.svc.RecordReflection(ctx, sessionID, "You both want to feel heard.")
	return err
}

func setupRouter() (*chi.Mux, *chatservice.Service) {
	detector := analysis.NewLexicalDetector(safety.DefaultPatterns())
	classifier := analysis.NewSimilarityClassifier(safety.DefaultExamples())
	resolver := safetyservice.NewResolver(detector, classifier)
	chatSvc := chatservice.NewService(store.NewMemoryStore(), resolver)
	handler := New(chatSvc, &stubReflector{svc: chatSvc})

	r := chi.NewRouter()
	handler.RegisterRoutes(r)
	return r, chatSvc
}

func createSession(t *testing.T, r *chi.Mux, mode string) string {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"mode": mode})
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	var session chatmodel.Session
	if err := json.Unmarshal(resp.Body.Bytes(), &session); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	return session.ID
}

func submit(t *testing.T, r *chi.Mux, sessionID, sender, content string) *httptest.ResponseRecorder {
	t.Helper()
	payload, _ := json.Marshal(map[string]string{"sender": sender, "content": content})
	req := httptest.NewRequest(http.MethodPost, "/sessions/"+sessionID+"/messages", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	return resp
}

func TestCreateSessionDefaultsToCouple(t *testing.T) {
	r, svc := setupRouter()
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader([]byte(`{}`)))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.Code)
	}
	var session chatmodel.Session
	_ = json.Unmarshal(resp.Body.Bytes(), &session)
	got, err := svc.GetSession(context.Background(), session.ID)
	if err != nil {
		t.Fatalf("session not stored: %v", err)
	}
	if got.Mode != chatmodel.ModeCouple {
		t.Fatalf("expected couple default, got %s", got.Mode)
	}
}

func TestCreateSessionInvalidMode(t *testing.T) {
	r, _ := setupRouter()
	req := httptest.NewRequest(http.MethodPost, "/sessions", bytes.NewReader([]byte(`{"mode":"group"}`)))
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestSubmitWrongTurnConflicts(t *testing.T) {
	r, _ := setupRouter()
	sessionID := createSession(t, r, "couple")

	resp := submit(t, r, sessionID, "partnerB", "hello")
	if resp.Code != http.StatusConflict {
		t.Fatalf("expected 409, got %d: %s", resp.Code, resp.Body.String())
	}

	var body map[string]any
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if body["error"] != "turn_conflict" {
		t.Fatalf("unexpected error body: %v", body)
	}
}

func TestSubmitInvalidSender(t *testing.T) {
	r, _ := setupRouter()
	sessionID := createSession(t, r, "couple")

	if resp := submit(t, r, sessionID, "ai", "hello"); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for ai sender, got %d", resp.Code)
	}
}

func TestSubmitBlockedContentLocksSession(t *testing.T) {
	r, _ := setupRouter()
	sessionID := createSession(t, r, "couple")

	resp := submit(t, r, sessionID, "partnerA", "I want to kill myself")
	if resp.Code != http.StatusLocked {
		t.Fatalf("expected 423, got %d: %s", resp.Code, resp.Body.String())
	}

	var body struct {
		Error     string   `json:"error"`
		Message   string   `json:"message"`
		Resources []string `json:"resources"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if body.Error != "boundary_locked" || body.Message == "" || len(body.Resources) == 0 {
		t.Fatalf("boundary response incomplete: %+v", body)
	}

	// Benign follow-up from the other partner stays locked out.
	if resp := submit(t, r, sessionID, "partnerB", "are you ok?"); resp.Code != http.StatusLocked {
		t.Fatalf("expected 423 after lock, got %d", resp.Code)
	}
}

func TestSessionStateEndpoint(t *testing.T) {
	r, _ := setupRouter()
	sessionID := createSession(t, r, "couple")

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+sessionID, nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.Code)
	}
	var body struct {
		TurnState    string `json:"turnState"`
		BoundaryFlag bool   `json:"boundaryFlag"`
	}
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if body.TurnState != string(chatmodel.AwaitingA) || body.BoundaryFlag {
		t.Fatalf("unexpected state: %+v", body)
	}
}

func TestPollValidation(t *testing.T) {
	r, _ := setupRouter()
	sessionID := createSession(t, r, "couple")

	req := httptest.NewRequest(http.MethodGet, "/sessions/"+sessionID+"/messages?since=abc", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for bad cursor, got %d", resp.Code)
	}

	req = httptest.NewRequest(http.MethodGet, "/sessions/unknown/messages?waitMs=10", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for unknown session, got %d", resp.Code)
	}
}

func TestCoupleFlowEndToEnd(t *testing.T) {
	r, _ := setupRouter()
	sessionID := createSession(t, r, "couple")

	if resp := submit(t, r, sessionID, "partnerA", "I feel unheard lately"); resp.Code != http.StatusCreated {
		t.Fatalf("A send: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}
	if resp := submit(t, r, sessionID, "partnerB", "I understand, let's talk tonight"); resp.Code != http.StatusCreated {
		t.Fatalf("B send: expected 201, got %d: %s", resp.Code, resp.Body.String())
	}

	// The stub reflector runs on its own goroutine; the long poll waits
	// for its message.
	req := httptest.NewRequest(http.MethodGet, "/sessions/"+sessionID+"/messages?since=2&waitMs=2000", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	if resp.Code != http.StatusOK {
		t.Fatalf("poll: expected 200, got %d", resp.Code)
	}

	var body struct {
		Messages []chatmodel.Message `json:"messages"`
	}
	if err := json.Unmarshal(resp.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode poll body: %v", err)
	}
	if len(body.Messages) != 1 || body.Messages[0].Sender != chatmodel.SenderAI {
		t.Fatalf("expected the ai reflection, got %+v", body.Messages)
	}

	// Full transcript in creation order: A, B, ai.
	req = httptest.NewRequest(http.MethodGet, "/sessions/"+sessionID+"/messages?waitMs=0", nil)
	resp = httptest.NewRecorder()
	r.ServeHTTP(resp, req)
	_ = json.Unmarshal(resp.Body.Bytes(), &body)
	if len(body.Messages) != 3 {
		t.Fatalf("expected three messages, got %d", len(body.Messages))
	}
	senders := []chatmodel.Sender{chatmodel.SenderPartnerA, chatmodel.SenderPartnerB, chatmodel.SenderAI}
	for i, want := range senders {
		if body.Messages[i].Sender != want {
			t.Fatalf("message %d sender = %s, want %s", i, body.Messages[i].Sender, want)
		}
	}
}
