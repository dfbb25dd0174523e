package chat_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	analysis "github.com/zhouzirui/duet/backend/internal/analysis/safety"
	chatmodel "github.com/zhouzirui/duet/backend/internal/model/chat"
	"github.com/zhouzirui/duet/backend/internal/model/safety"
	chatservice "github.com/zhouzirui/duet/backend/internal/service/chat"
	safetyservice "github.com/zhouzirui/duet/backend/internal/service/safety"
	"github.com/zhouzirui/duet/backend/internal/store"
)

func newService() *chatservice.Service {
	detector := analysis.NewLexicalDetector(safety.DefaultPatterns())
	classifier := analysis.NewSimilarityClassifier(safety.DefaultExamples())
	resolver := safetyservice.NewResolver(detector, classifier)
	return chatservice.NewService(store.NewMemoryStore(), resolver)
}

func TestCreateSessionStartsAwaitingA(t *testing.T) {
	svc := newService()
	ctx := context.Background()

	session, err := svc.CreateSession(ctx, chatmodel.ModeCouple)
	if err != nil {
		t.Fatalf("CreateSession err: %v", err)
	}
	if session.TurnState != chatmodel.AwaitingA {
		t.Fatalf("fresh session should await partner A, got %s", session.TurnState)
	}
	if session.BoundaryFlag {
		t.Fatal("fresh session must not be boundary flagged")
	}
}

func TestCreateSessionRejectsUnknownMode(t *testing.T) {
	svc := newService()

	if _, err := svc.CreateSession(context.Background(), chatmodel.Mode("group")); !errors.Is(err, chatservice.ErrInvalidMode) {
		t.Fatalf("expected ErrInvalidMode, got %v", err)
	}
}

func TestSubmitWrongTurnRejected(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, chatmodel.ModeCouple)

	_, err := svc.SubmitMessage(ctx, session.ID, chatmodel.SenderPartnerB, "hello")

	var turnErr *chatservice.TurnConflictError
	if !errors.As(err, &turnErr) {
		t.Fatalf("expected TurnConflictError, got %v", err)
	}

	got, _ := svc.GetSession(ctx, session.ID)
	if got.TurnState != chatmodel.AwaitingA {
		t.Fatalf("rejected send must not mutate state, got %s", got.TurnState)
	}
}

func TestSubmitAdvancesCoupleCycle(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, chatmodel.ModeCouple)

	resA, err := svc.SubmitMessage(ctx, session.ID, chatmodel.SenderPartnerA, "I feel unheard lately")
	if err != nil {
		t.Fatalf("partner A send err: %v", err)
	}
	if resA.Session.TurnState != chatmodel.AwaitingB {
		t.Fatalf("expected awaitingB after A's send, got %s", resA.Session.TurnState)
	}

	resB, err := svc.SubmitMessage(ctx, session.ID, chatmodel.SenderPartnerB, "I understand, let's talk tonight")
	if err != nil {
		t.Fatalf("partner B send err: %v", err)
	}
	if resB.Session.TurnState != chatmodel.AIReflect {
		t.Fatalf("expected ai_reflect after both spoke, got %s", resB.Session.TurnState)
	}
}

func TestSoloModeSkipsPartnerB(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, chatmodel.ModeSolo)

	res, err := svc.SubmitMessage(ctx, session.ID, chatmodel.SenderPartnerA, "I want to talk through my week")
	if err != nil {
		t.Fatalf("solo send err: %v", err)
	}
	if res.Session.TurnState != chatmodel.AIReflect {
		t.Fatalf("solo mode should go straight to ai_reflect, got %s", res.Session.TurnState)
	}

	var turnErr *chatservice.TurnConflictError
	if _, err := svc.SubmitMessage(ctx, session.ID, chatmodel.SenderPartnerB, "hello"); !errors.As(err, &turnErr) {
		t.Fatalf("partner B must never hold a turn in solo mode, got %v", err)
	}
}

func TestBlockedContentEngagesBoundary(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, chatmodel.ModeCouple)

	_, err := svc.SubmitMessage(ctx, session.ID, chatmodel.SenderPartnerA, "I want to kill myself")

	var boundaryErr *chatservice.BoundaryLockedError
	if !errors.As(err, &boundaryErr) {
		t.Fatalf("expected BoundaryLockedError, got %v", err)
	}
	if boundaryErr.Template == nil || len(boundaryErr.Template.Resources) == 0 {
		t.Fatal("boundary response must carry crisis resources")
	}

	got, _ := svc.GetSession(ctx, session.ID)
	if got.TurnState != chatmodel.Boundary || !got.BoundaryFlag {
		t.Fatalf("session should be boundary locked, got %s flag=%v", got.TurnState, got.BoundaryFlag)
	}

	// The triggering message is persisted, tagged, for audit.
	messages, _ := svc.Transcript(ctx, session.ID)
	if len(messages) != 1 {
		t.Fatalf("expected audit message, got %d", len(messages))
	}
	if len(messages[0].SafetyTags) == 0 || messages[0].RiskLevel != string(safety.RiskHigh) {
		t.Fatalf("audit message missing safety tags: %+v", messages[0])
	}
}

func TestBoundaryIsStickyForBothPartners(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, chatmodel.ModeCouple)

	if _, err := svc.SubmitMessage(ctx, session.ID, chatmodel.SenderPartnerA, "I want to kill myself"); err == nil {
		t.Fatal("expected boundary trigger")
	}

	var boundaryErr *chatservice.BoundaryLockedError
	if _, err := svc.SubmitMessage(ctx, session.ID, chatmodel.SenderPartnerB, "are you ok?"); !errors.As(err, &boundaryErr) {
		t.Fatalf("benign send after lock must still be rejected, got %v", err)
	}
	if _, err := svc.SubmitMessage(ctx, session.ID, chatmodel.SenderPartnerA, "sorry, I'm fine"); !errors.As(err, &boundaryErr) {
		t.Fatalf("sender's own benign follow-up must be rejected, got %v", err)
	}
}

func TestSimultaneousSendsResolveToOneAcceptance(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, chatmodel.ModeCouple)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, errs[0] = svc.SubmitMessage(ctx, session.ID, chatmodel.SenderPartnerA, "me first")
	}()
	go func() {
		defer wg.Done()
		_, errs[1] = svc.SubmitMessage(ctx, session.ID, chatmodel.SenderPartnerB, "no, me first")
	}()
	wg.Wait()

	accepted, conflicts := 0, 0
	for _, err := range errs {
		var turnErr *chatservice.TurnConflictError
		switch {
		case err == nil:
			accepted++
		case errors.As(err, &turnErr):
			conflicts++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if accepted != 1 || conflicts != 1 {
		t.Fatalf("expected exactly one acceptance and one conflict, got %d/%d", accepted, conflicts)
	}
}

func TestReflectionResetsTurnToPartnerA(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, chatmodel.ModeCouple)

	if _, err := svc.SubmitMessage(ctx, session.ID, chatmodel.SenderPartnerA, "I feel unheard lately"); err != nil {
		t.Fatalf("A send err: %v", err)
	}
	if _, err := svc.SubmitMessage(ctx, session.ID, chatmodel.SenderPartnerB, "I understand, let's talk tonight"); err != nil {
		t.Fatalf("B send err: %v", err)
	}

	reflection, err := svc.RecordReflection(ctx, session.ID, "You both want to feel heard.")
	if err != nil {
		t.Fatalf("RecordReflection err: %v", err)
	}
	if reflection.Sender != chatmodel.SenderAI {
		t.Fatalf("reflection sender should be ai, got %s", reflection.Sender)
	}

	got, _ := svc.GetSession(ctx, session.ID)
	if got.TurnState != chatmodel.AwaitingA {
		t.Fatalf("reflection must reset to awaitingA, got %s", got.TurnState)
	}

	messages, _ := svc.Transcript(ctx, session.ID)
	if len(messages) != 3 {
		t.Fatalf("expected two human messages plus one ai message, got %d", len(messages))
	}
	for i, msg := range messages {
		if msg.Seq != int64(i+1) {
			t.Fatalf("messages out of creation order: %+v", messages)
		}
	}
}

func TestRecordReflectionOutsideAIReflectRejected(t *testing.T) {
	svc := newService()
	ctx := context.Background()
	session, _ := svc.CreateSession(ctx, chatmodel.ModeCouple)

	var turnErr *chatservice.TurnConflictError
	if _, err := svc.RecordReflection(ctx, session.ID, "too early"); !errors.As(err, &turnErr) {
		t.Fatalf("reflection outside ai_reflect must conflict, got %v", err)
	}
}

func TestSubmitUnknownSessionNotFound(t *testing.T) {
	svc := newService()

	if _, err := svc.SubmitMessage(context.Background(), "missing", chatmodel.SenderPartnerA, "hi"); !errors.Is(err, chatservice.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}
