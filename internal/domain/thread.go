package domain

import "time"

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Thread is the persisted conversation container. Mutation of title/project
// is restricted to the owning identity.
type Thread struct {
	ThreadID   string    `json:"threadId"`
	Owner      string    `json:"owner"`
	Title      string    `json:"title"`
	ProjectRef string    `json:"projectRef,omitempty"`
	CreatedAt  time.Time `json:"createdAt"`

	// LastMessageAt is bumped on every append for recent-activity ordering.
	LastMessageAt time.Time `json:"lastMessageAt,omitzero"`
}

type PartKind string

const (
	PartText       PartKind = "text"
	PartAttachment PartKind = "attachment"
)

// MessagePart is one typed content block of a message.
type MessagePart struct {
	Kind PartKind `json:"kind"`
	Text string   `json:"text,omitempty"`
	URI  string   `json:"uri,omitempty"`
}

// Annotations records routing and accounting metadata on a message.
type Annotations struct {
	SelectedServer string `json:"selected_server,omitempty"`
	Usage          *Usage `json:"usage,omitempty"`
}

// Message is one persisted conversation turn. Messages are append-only: the
// single exception is the upsert-by-id path used to attach late-arriving
// annotations to an assistant message written optimistically.
type Message struct {
	MessageID   string        `json:"messageId"`
	ThreadID    string        `json:"threadId"`
	Role        Role          `json:"role"`
	Parts       []MessagePart `json:"parts"`
	Annotations Annotations   `json:"annotations,omitzero"`
	Model       string        `json:"model,omitempty"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// TextMessage builds a single-part text message.
func TextMessage(id, threadID string, role Role, text string) Message {
	return Message{
		MessageID: id,
		ThreadID:  threadID,
		Role:      role,
		Parts:     []MessagePart{{Kind: PartText, Text: text}},
		CreatedAt: time.Now().UTC(),
	}
}

// Text concatenates the message's text parts.
func (m Message) Text() string {
	var out string
	for _, p := range m.Parts {
		if p.Kind == PartText {
			out += p.Text
		}
	}
	return out
}
