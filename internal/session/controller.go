package session

import (
	"context"
	"errors"
	"io"
	"strings"
	"sync"

	"firechat-backend/internal/client"
	"firechat-backend/internal/model"

	"github.com/google/uuid"
)

type Status string

const (
	StatusIdle      Status = "idle"
	StatusStreaming Status = "streaming"
)

// EventStream 有限、不可重放的事件序列，结束时 Recv 返回 io.EOF
type EventStream interface {
	Recv() (model.StreamEvent, error)
	Close() error
}

type Transport interface {
	Chat(ctx context.Context, messages []model.Message) (EventStream, error)
}

type httpTransport struct {
	c *client.Client
}

// NewHTTPTransport 通过 HTTP 接口发送对话
func NewHTTPTransport(c *client.Client) Transport {
	return &httpTransport{c: c}
}

func (t *httpTransport) Chat(ctx context.Context, messages []model.Message) (EventStream, error) {
	stream, err := t.c.Chat(ctx, messages)
	if err != nil {
		return nil, err
	}
	return stream, nil
}

type Option func(*Controller)

// WithEventHook 每个事件应用到会话之后调用，用于刷新界面
func WithEventHook(fn func(model.StreamEvent)) Option {
	return func(c *Controller) {
		c.onEvent = fn
	}
}

// Controller 管理一个会话的发送、停止和清空。
// 同一时间最多一个进行中的请求；每次 SendMessage、Stop、Clear 都会开启新的 generation，
// 旧 generation 的事件一律丢弃。
type Controller struct {
	transport Transport
	session   *Session
	onEvent   func(model.StreamEvent)

	mu          sync.Mutex
	status      Status
	generation  uint64
	cancel      context.CancelFunc
	assistantID string
	err         error
}

func NewController(transport Transport, sess *Session, opts ...Option) *Controller {
	if sess == nil {
		sess = New()
	}
	c := &Controller{
		transport: transport,
		session:   sess,
		status:    StatusIdle,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Controller) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *Controller) Messages() []model.Message {
	return c.session.Messages()
}

// Err 最近一次请求的错误，成功或停止时为 nil
func (c *Controller) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// SendMessage 追加用户消息并消费回复流，直到流结束、出错或被 Stop。
// 空消息返回 ErrEmptyMessage，正在输出时返回 ErrBusy，两种情况都不修改会话。
// 被 Stop 或 Clear 打断时返回 nil。
func (c *Controller) SendMessage(ctx context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return ErrEmptyMessage
	}

	c.mu.Lock()
	if c.status == StatusStreaming {
		c.mu.Unlock()
		return ErrBusy
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	c.generation++
	gen := c.generation
	c.status = StatusStreaming
	c.cancel = cancel
	c.assistantID = ""
	c.err = nil

	c.session.Append(model.Message{
		ID:      uuid.New().String(),
		Role:    model.RoleUser,
		Content: text,
	})
	history := c.session.Messages()
	c.mu.Unlock()

	stream, err := c.transport.Chat(ctx, history)
	if err != nil {
		return c.finish(gen, err)
	}
	defer stream.Close()

	for {
		ev, err := stream.Recv()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return c.finish(gen, nil)
			}
			return c.finish(gen, err)
		}

		applied, ended := c.apply(gen, ev)
		if applied && c.onEvent != nil {
			c.onEvent(ev)
		}
		if ended {
			return c.finish(gen, nil)
		}
	}
}

// apply 在锁内应用事件，过期 generation 或未知消息 ID 的事件被丢弃
func (c *Controller) apply(gen uint64, ev model.StreamEvent) (applied, ended bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return false, false
	}

	switch ev.Type {
	case model.EventStart:
		if c.assistantID != "" || ev.ID == "" || c.session.Has(ev.ID) {
			return false, false
		}
		c.assistantID = ev.ID
		c.session.Append(model.Message{
			ID:   ev.ID,
			Role: model.RoleAssistant,
		})
		return true, false
	case model.EventDelta:
		if ev.ID != c.assistantID {
			return false, false
		}
		if err := c.session.AppendContent(ev.ID, ev.Delta); err != nil {
			return false, false
		}
		return true, false
	case model.EventEnd:
		if ev.ID != c.assistantID {
			return false, false
		}
		return true, true
	}
	return false, false
}

// finish 结束 gen 对应的请求。已被 Stop 或 Clear 取代时不改变状态并返回 nil。
func (c *Controller) finish(gen uint64, err error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if gen != c.generation {
		return nil
	}

	c.status = StatusIdle
	c.cancel = nil
	c.err = err
	return err
}

// Stop 取消进行中的请求，已收到的内容保留，之后到达的事件不再应用。空闲时无操作。
func (c *Controller) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.status != StatusStreaming {
		return
	}

	c.generation++
	c.status = StatusIdle
	if c.cancel != nil {
		c.cancel()
		c.cancel = nil
	}
}

// Clear 清空会话并回到空闲状态。不会取消进行中的请求，该请求后续的事件全部丢弃。
func (c *Controller) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.generation++
	c.status = StatusIdle
	c.cancel = nil
	c.assistantID = ""
	c.err = nil
	c.session.Reset()
}
