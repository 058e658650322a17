package model

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAssistant, RoleSystem:
		return true
	}
	return false
}

type Message struct {
	ID      string `json:"id"`
	Role    Role   `json:"role" binding:"required,oneof=user assistant system"`
	Content string `json:"content"`
}

// 流事件类型，与前端 UI message stream 的命名保持一致
type EventType string

const (
	EventStart EventType = "text-start"
	EventDelta EventType = "text-delta"
	EventEnd   EventType = "text-end"
)

// DoneSentinel 传输结束标记，不是 JSON 事件
const DoneSentinel = "[DONE]"

type StreamEvent struct {
	Type  EventType `json:"type"`
	ID    string    `json:"id"`
	Delta string    `json:"delta,omitempty"`
}

func StartEvent(id string) StreamEvent {
	return StreamEvent{Type: EventStart, ID: id}
}

func DeltaEvent(id, text string) StreamEvent {
	return StreamEvent{Type: EventDelta, ID: id, Delta: text}
}

func EndEvent(id string) StreamEvent {
	return StreamEvent{Type: EventEnd, ID: id}
}

type ErrorResponse struct {
	Error string `json:"error"`
}

type CompletionResponse struct {
	Message Message `json:"message"`
}

type HealthResponse struct {
	Status    string `json:"status"`
	Mode      string `json:"mode"`
	Timestamp int64  `json:"timestamp"`
}
