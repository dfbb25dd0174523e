package chat

import "time"

// Sender identifies who produced a message.
type Sender string

const (
	SenderPartnerA Sender = "partnerA"
	SenderPartnerB Sender = "partnerB"
	SenderAI       Sender = "ai"
)

// Message persists individual turns for delivery and audit. Seq is a
// per-session monotonic cursor assigned at append time; long-polling
// clients resume from it. Immutable once created.
type Message struct {
	ID         string    `json:"id"`
	SessionID  string    `json:"sessionId"`
	Sender     Sender    `json:"sender"`
	Content    string    `json:"content"`
	Seq        int64     `json:"seq"`
	SafetyTags []string  `json:"safetyTags,omitempty"`
	RiskLevel  string    `json:"riskLevel,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`
}
