package utils

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
)

// SSEWriter 按 "data: <payload>\n\n" 写出事件，每次写入后立即 flush。
// 心跳和事件可能来自不同 goroutine，写操作加锁串行化。
type SSEWriter struct {
	w      http.ResponseWriter
	mu     sync.Mutex
	closed bool
}

func NewSSEWriter(w http.ResponseWriter) *SSEWriter {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)

	return &SSEWriter{w: w}
}

func (s *SSEWriter) Write(data string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sse writer closed")
	}
	if _, err := fmt.Fprintf(s.w, "data: %s\n\n", data); err != nil {
		return err
	}
	s.flush()
	return nil
}

func (s *SSEWriter) WriteJSON(v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.Write(string(data))
}

// Comment 写出注释行，客户端解析时忽略，用作心跳
func (s *SSEWriter) Comment(text string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("sse writer closed")
	}
	if _, err := fmt.Fprintf(s.w, ": %s\n\n", text); err != nil {
		return err
	}
	s.flush()
	return nil
}

// Close 写出结束标记，之后的写入都会失败
func (s *SSEWriter) Close(sentinel string) error {
	if err := s.Write(sentinel); err != nil {
		return err
	}
	s.Abort()
	return nil
}

// Abort 不写结束标记直接停止，客户端据此判断流被截断
func (s *SSEWriter) Abort() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *SSEWriter) flush() {
	if f, ok := s.w.(http.Flusher); ok {
		f.Flush()
	}
}
