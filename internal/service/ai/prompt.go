package ai

import (
	"fmt"
	"strings"

	"github.com/zhouzirui/duet/backend/internal/model/chat"
)

const facilitatorSystemPrompt = `You are a warm, neutral facilitator for a structured conversation between partners.
Your role is to reflect back what each person expressed, name the feelings and needs underneath their words, and gently point out common ground.
You never take sides, diagnose, or give directives. Keep the reflection to three or four sentences.
If anything sounds distressing, acknowledge it with care and encourage the partners to seek support, without alarm.`

// buildReflectionQuery frames both partners' latest messages (or the solo
// participant's latest message) for the model.
func buildReflectionQuery(session chat.Session, messages []chat.Message) string {
	latest := latestBySender(messages)

	var b strings.Builder
	if session.Mode == chat.ModeSolo {
		b.WriteString("The participant is reflecting on their own. They just shared:\n")
		if msg, ok := latest[chat.SenderPartnerA]; ok {
			fmt.Fprintf(&b, "%q\n", msg.Content)
		}
		b.WriteString("Offer a brief reflection of what they expressed and what they might need.")
		return b.String()
	}

	b.WriteString("Both partners have now spoken. Their latest messages:\n")
	if msg, ok := latest[chat.SenderPartnerA]; ok {
		fmt.Fprintf(&b, "Partner A said: %q\n", msg.Content)
	}
	if msg, ok := latest[chat.SenderPartnerB]; ok {
		fmt.Fprintf(&b, "Partner B said: %q\n", msg.Content)
	}
	b.WriteString("Offer a brief reflection that honors both perspectives and names any shared ground.")
	return b.String()
}

func latestBySender(messages []chat.Message) map[chat.Sender]chat.Message {
	latest := make(map[chat.Sender]chat.Message, 2)
	for _, msg := range messages {
		if msg.Sender == chat.SenderPartnerA || msg.Sender == chat.SenderPartnerB {
			latest[msg.Sender] = msg
		}
	}
	return latest
}
