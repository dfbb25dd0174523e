package stream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	analysis "github.com/zhouzirui/duet/backend/internal/analysis/safety"
	chatmodel "github.com/zhouzirui/duet/backend/internal/model/chat"
	"github.com/zhouzirui/duet/backend/internal/model/safety"
	chatservice "github.com/zhouzirui/duet/backend/internal/service/chat"
	safetyservice "github.com/zhouzirui/duet/backend/internal/service/safety"
	"github.com/zhouzirui/duet/backend/internal/store"
)

func setup() (*chi.Mux, *chatservice.Service) {
	detector := analysis.NewLexicalDetector(safety.DefaultPatterns())
	classifier := analysis.NewSimilarityClassifier(safety.DefaultExamples())
	resolver := safetyservice.NewResolver(detector, classifier)
	chatSvc := chatservice.NewService(store.NewMemoryStore(), resolver)

	r := chi.NewRouter()
	New(chatSvc).RegisterRoutes(r)
	return r, chatSvc
}

func TestSSEUnknownSession(t *testing.T) {
	r, _ := setup()

	req := httptest.NewRequest(http.MethodGet, "/sessions/unknown/stream", nil)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.Code)
	}
}

func TestSSEDeliversExistingMessages(t *testing.T) {
	r, svc := setup()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, chatmodel.ModeCouple)
	if _, err := svc.SubmitMessage(ctx, session.ID, chatmodel.SenderPartnerA, "I feel unheard lately"); err != nil {
		t.Fatalf("send err: %v", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, 300*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/sessions/"+session.ID+"/stream", nil).WithContext(reqCtx)
	resp := httptest.NewRecorder()
	r.ServeHTTP(resp, req)

	body := resp.Body.String()
	if !strings.Contains(body, "event: status") {
		t.Fatalf("missing status event: %s", body)
	}
	if !strings.Contains(body, "event: message") || !strings.Contains(body, "I feel unheard lately") {
		t.Fatalf("missing message event: %s", body)
	}
}

func TestWebSocketPushesAppends(t *testing.T) {
	r, svc := setup()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, chatmodel.ModeCouple)

	server := httptest.NewServer(r)
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + "/sessions/" + session.ID + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial err: %v", err)
	}
	defer conn.Close()

	if _, err := svc.SubmitMessage(ctx, session.ID, chatmodel.SenderPartnerA, "I feel unheard lately"); err != nil {
		t.Fatalf("send err: %v", err)
	}

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg chatmodel.Message
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("read err: %v", err)
	}
	if msg.Content != "I feel unheard lately" || msg.Sender != chatmodel.SenderPartnerA {
		t.Fatalf("unexpected push payload: %+v", msg)
	}
}
