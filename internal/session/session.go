package session

import (
	"sync"

	"firechat-backend/internal/model"
)

// Session 一次对话的有序消息列表，仅保存在内存中
type Session struct {
	messages []model.Message
	index    map[string]int
	mu       sync.RWMutex
}

func New() *Session {
	return &Session{
		index: make(map[string]int),
	}
}

func (s *Session) Append(msg model.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.index[msg.ID] = len(s.messages)
	s.messages = append(s.messages, msg)
}

// AppendContent 向指定消息追加文本
func (s *Session) AppendContent(id, text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	i, exists := s.index[id]
	if !exists {
		return ErrMessageNotFound
	}

	s.messages[i].Content += text
	return nil
}

func (s *Session) Get(id string) (model.Message, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i, exists := s.index[id]
	if !exists {
		return model.Message{}, false
	}
	return s.messages[i], true
}

func (s *Session) Has(id string) bool {
	_, ok := s.Get(id)
	return ok
}

// Messages 返回副本，调用方修改不影响会话
func (s *Session) Messages() []model.Message {
	s.mu.RLock()
	defer s.mu.RUnlock()

	messages := make([]model.Message, len(s.messages))
	copy(messages, s.messages)
	return messages
}

func (s *Session) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return len(s.messages)
}

func (s *Session) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.messages = nil
	s.index = make(map[string]int)
}
