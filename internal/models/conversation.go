package models

import (
	"encoding/json"
	"fmt"
	"time"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// IdempotencyTargetNew is the target used for keys that create a conversation.
const IdempotencyTargetNew = "new"

type Conversation struct {
	ID            string    `json:"id"`
	Owner         string    `json:"owner"`
	Title         string    `json:"title"`
	CaseID        string    `json:"case_id,omitempty"`
	Summary       string    `json:"-"`
	SummaryUpTo   int       `json:"-"`
	CreatedAt     time.Time `json:"created_at"`
	UpdatedAt     time.Time `json:"updated_at"`
	LastMessageAt time.Time `json:"last_message_at"`
}

// Message is tagged by Role: only assistant messages may carry citations.
type Message struct {
	ID             string     `json:"id"`
	ConversationID string     `json:"-"`
	Role           Role       `json:"role"`
	Content        string     `json:"content"`
	CreatedAt      time.Time  `json:"created_at"`
	Citations      []Citation `json:"citations,omitempty"`
}

func NewUserMessage(id, conversationID, content string, at time.Time) Message {
	return Message{ID: id, ConversationID: conversationID, Role: RoleUser, Content: content, CreatedAt: at}
}

func NewAssistantMessage(id, conversationID, content string, citations []Citation, at time.Time) Message {
	return Message{ID: id, ConversationID: conversationID, Role: RoleAssistant, Content: content, CreatedAt: at, Citations: citations}
}

func (m Message) Validate() error {
	switch m.Role {
	case RoleUser:
		if len(m.Citations) > 0 {
			return fmt.Errorf("%w: user message %s carries citations", ErrInvalidInput, m.ID)
		}
	case RoleAssistant:
	default:
		return fmt.Errorf("%w: unknown message role %q", ErrInvalidInput, m.Role)
	}
	return nil
}

// IdempotencyRecord is unique per (Owner, Key, Target). Response stays nil while
// the owning request is still running and is written exactly once.
type IdempotencyRecord struct {
	Owner     string          `json:"owner"`
	Key       string          `json:"key"`
	Target    string          `json:"target"`
	Response  json.RawMessage `json:"response,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Exchange is everything one conversational turn persists, written atomically.
type Exchange struct {
	Conversation *Conversation
	Created      bool
	User         Message
	Assistant    Message
	Idempotency  *IdempotencyRecord
}

// Attachment is a file sent along with a conversational message.
type Attachment struct {
	Name string `json:"name"`
	Data []byte `json:"data"`
}
