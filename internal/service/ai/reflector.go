// Package ai generates the facilitator's reflection turn. The model call
// is best-effort: any failure falls back to a supplied template so the
// turn cycle always completes.
package ai

import (
	"context"
	"fmt"
	"log"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/components/prompt"
	"github.com/cloudwego/eino/compose"
	"github.com/cloudwego/eino/schema"

	"github.com/zhouzirui/duet/backend/internal/model/chat"
	chatservice "github.com/zhouzirui/duet/backend/internal/service/chat"
)

// DefaultFallbackReflection is recorded when no model is configured or the
// model call fails.
const DefaultFallbackReflection = "Thank you both for sharing. Take a moment with what was said, " +
	"and when you're ready, partner A can continue."

const historyLimit = 10

// Reflector watches for sessions entering the ai_reflect state and records
// the facilitator message that resets the turn to partner A.
type Reflector struct {
	chatSvc  *chatservice.Service
	chain    compose.Runnable[map[string]any, *schema.Message]
	fallback string
}

// NewReflector compiles the prompt chain once. A nil chat model is valid:
// the reflector then always records the fallback template.
func NewReflector(ctx context.Context, chatSvc *chatservice.Service, chatModel model.ChatModel, fallback string) (*Reflector, error) {
	if fallback == "" {
		fallback = DefaultFallbackReflection
	}
	r := &Reflector{chatSvc: chatSvc, fallback: fallback}
	if chatModel == nil {
		return r, nil
	}

	promptTemplate := prompt.FromMessages(
		schema.FString,
		schema.SystemMessage("{system}"),
		schema.MessagesPlaceholder("history", true),
		schema.UserMessage("{query}"),
	)

	chain := compose.NewChain[map[string]any, *schema.Message]()
	chain.AppendChatTemplate(promptTemplate)
	chain.AppendChatModel(chatModel)

	runnable, err := chain.Compile(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to compile reflection chain: %w", err)
	}
	r.chain = runnable
	return r, nil
}

// Reflect generates and records the facilitator turn for a session in
// ai_reflect. Safe to call speculatively: a session in any other state is
// left untouched.
func (r *Reflector) Reflect(ctx context.Context, sessionID string) error {
	session, err := r.chatSvc.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.TurnState != chat.AIReflect {
		return nil
	}

	messages, err := r.chatSvc.Transcript(ctx, sessionID)
	if err != nil {
		return err
	}

	content := r.generate(ctx, session, messages)
	if _, err := r.chatSvc.RecordReflection(ctx, sessionID, content); err != nil {
		return err
	}
	return nil
}

func (r *Reflector) generate(ctx context.Context, session chat.Session, messages []chat.Message) string {
	if r.chain == nil {
		return r.fallback
	}

	input := map[string]any{
		"system":  facilitatorSystemPrompt,
		"history": buildHistory(messages),
		"query":   buildReflectionQuery(session, messages),
	}
	response, err := r.chain.Invoke(ctx, input)
	if err != nil {
		log.Printf("[ai] reflection failed for session=%s, using fallback: %v", session.ID, err)
		return r.fallback
	}
	if response.Content == "" {
		return r.fallback
	}
	log.Printf("[ai] generated reflection for session=%s, length=%d", session.ID, len(response.Content))
	return response.Content
}

// buildHistory maps the transcript into model messages: partner turns as
// attributed user messages, previous reflections as assistant messages.
func buildHistory(messages []chat.Message) []*schema.Message {
	if len(messages) == 0 {
		return nil
	}

	startIdx := 0
	if len(messages) > historyLimit {
		startIdx = len(messages) - historyLimit
	}

	history := make([]*schema.Message, 0, len(messages)-startIdx)
	for _, msg := range messages[startIdx:] {
		switch msg.Sender {
		case chat.SenderPartnerA:
			history = append(history, schema.UserMessage("Partner A: "+msg.Content))
		case chat.SenderPartnerB:
			history = append(history, schema.UserMessage("Partner B: "+msg.Content))
		case chat.SenderAI:
			history = append(history, schema.AssistantMessage(msg.Content, nil))
		}
	}
	return history
}
