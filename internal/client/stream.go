package client

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"firechat-backend/internal/model"
)

var ErrStreamClosed = errors.New("event stream closed")

// EventStream 逐个读取服务端事件，读到结束标记后返回 io.EOF。
// 连接在结束标记之前断开时返回 io.ErrUnexpectedEOF。流不可重放。
type EventStream struct {
	body io.ReadCloser
	r    *bufio.Reader
	buf  []string

	mu     sync.Mutex
	done   bool
	closed bool
}

func NewEventStream(body io.ReadCloser) *EventStream {
	return &EventStream{
		body: body,
		r:    bufio.NewReader(body),
	}
}

func (s *EventStream) Recv() (model.StreamEvent, error) {
	s.mu.Lock()
	closed, done := s.closed, s.done
	s.mu.Unlock()

	if closed {
		return model.StreamEvent{}, ErrStreamClosed
	}
	if done {
		return model.StreamEvent{}, io.EOF
	}

	data, err := s.nextData()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return model.StreamEvent{}, io.ErrUnexpectedEOF
		}
		return model.StreamEvent{}, err
	}

	if data == model.DoneSentinel {
		s.mu.Lock()
		s.done = true
		s.mu.Unlock()
		return model.StreamEvent{}, io.EOF
	}

	var ev model.StreamEvent
	if err := json.Unmarshal([]byte(data), &ev); err != nil {
		return model.StreamEvent{}, fmt.Errorf("decode stream event: %w", err)
	}
	return ev, nil
}

// nextData 返回下一个事件的 data 内容，多行 data 以换行拼接，注释行忽略
func (s *EventStream) nextData() (string, error) {
	for {
		line, err := s.r.ReadString('\n')
		if err != nil && err != io.EOF {
			return "", err
		}

		line = strings.TrimRight(line, "\r\n")

		if line == "" {
			if len(s.buf) > 0 {
				out := strings.Join(s.buf, "\n")
				s.buf = s.buf[:0]
				return out, nil
			}
			if err == io.EOF {
				return "", io.EOF
			}
			continue
		}

		if strings.HasPrefix(line, "data:") {
			data := strings.TrimPrefix(line, "data:")
			s.buf = append(s.buf, strings.TrimPrefix(data, " "))
		}

		if err == io.EOF {
			if len(s.buf) > 0 {
				out := strings.Join(s.buf, "\n")
				s.buf = s.buf[:0]
				return out, nil
			}
			return "", io.EOF
		}
	}
}

// Close 可以在 Recv 阻塞时从其他 goroutine 调用
func (s *EventStream) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	return s.body.Close()
}
