package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"firechat-backend/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errStreamClosed = errors.New("stream closed")

// chanStream 由测试通过 channel 逐个推送事件
type chanStream struct {
	events chan model.StreamEvent
	closed chan struct{}
	once   sync.Once
	endErr error
}

func newChanStream(events ...model.StreamEvent) *chanStream {
	s := &chanStream{
		events: make(chan model.StreamEvent, 32),
		closed: make(chan struct{}),
	}
	for _, ev := range events {
		s.events <- ev
	}
	return s
}

// scripted 预先写入全部事件并结束
func scripted(events ...model.StreamEvent) *chanStream {
	s := newChanStream(events...)
	close(s.events)
	return s
}

func (s *chanStream) Recv() (model.StreamEvent, error) {
	select {
	case <-s.closed:
		return model.StreamEvent{}, errStreamClosed
	default:
	}

	select {
	case ev, ok := <-s.events:
		if !ok {
			if s.endErr != nil {
				return model.StreamEvent{}, s.endErr
			}
			return model.StreamEvent{}, io.EOF
		}
		return ev, nil
	case <-s.closed:
		return model.StreamEvent{}, errStreamClosed
	}
}

func (s *chanStream) Close() error {
	s.once.Do(func() { close(s.closed) })
	return nil
}

type fakeTransport struct {
	mu      sync.Mutex
	calls   [][]model.Message
	streams []*chanStream
	err     error
	started chan struct{}
}

func newFakeTransport(streams ...*chanStream) *fakeTransport {
	return &fakeTransport{
		streams: streams,
		started: make(chan struct{}, 16),
	}
}

func (f *fakeTransport) Chat(ctx context.Context, messages []model.Message) (EventStream, error) {
	f.mu.Lock()
	f.calls = append(f.calls, messages)
	var s *chanStream
	if f.err == nil && len(f.streams) > 0 {
		s = f.streams[0]
		f.streams = f.streams[1:]
	}
	f.mu.Unlock()

	f.started <- struct{}{}
	if f.err != nil {
		return nil, f.err
	}
	if s == nil {
		return nil, errors.New("no stream prepared")
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.closed:
		}
	}()
	return s, nil
}

func (f *fakeTransport) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func (f *fakeTransport) waitStarted(t *testing.T) {
	t.Helper()
	select {
	case <-f.started:
	case <-time.After(2 * time.Second):
		t.Fatal("transport was not called")
	}
}

func sendAsync(ctrl *Controller, text string) <-chan error {
	done := make(chan error, 1)
	go func() {
		done <- ctrl.SendMessage(context.Background(), text)
	}()
	return done
}

func waitDone(t *testing.T, done <-chan error) error {
	t.Helper()
	select {
	case err := <-done:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("SendMessage did not return")
		return nil
	}
}

func TestSendMessage_IgnoresBlankInput(t *testing.T) {
	tr := newFakeTransport()
	ctrl := NewController(tr, New())

	for _, text := range []string{"", "   ", "\n\t"} {
		err := ctrl.SendMessage(context.Background(), text)
		assert.ErrorIs(t, err, ErrEmptyMessage)
	}

	assert.Empty(t, ctrl.Messages())
	assert.Equal(t, 0, tr.callCount())
	assert.Equal(t, StatusIdle, ctrl.Status())
}

func TestSendMessage_AppendsUserMessageBeforeRequest(t *testing.T) {
	tr := newFakeTransport(scripted(
		model.StartEvent("a1"),
		model.DeltaEvent("a1", "Hi"),
		model.DeltaEvent("a1", "!"),
		model.EndEvent("a1"),
	))
	sess := New()
	ctrl := NewController(tr, sess)

	require.NoError(t, ctrl.SendMessage(context.Background(), "hello"))

	require.Equal(t, 1, tr.callCount())
	sent := tr.calls[0]
	require.Len(t, sent, 1)
	assert.Equal(t, model.RoleUser, sent[0].Role)
	assert.Equal(t, "hello", sent[0].Content)
	assert.NotEmpty(t, sent[0].ID)

	msgs := ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, sent[0], msgs[0])
	assert.Equal(t, model.Message{ID: "a1", Role: model.RoleAssistant, Content: "Hi!"}, msgs[1])
	assert.Equal(t, StatusIdle, ctrl.Status())
	assert.NoError(t, ctrl.Err())
	assert.Equal(t, msgs, sess.Messages())
}

func TestSendMessage_SendsFullHistory(t *testing.T) {
	tr := newFakeTransport(
		scripted(model.StartEvent("a1"), model.DeltaEvent("a1", "one"), model.EndEvent("a1")),
		scripted(model.StartEvent("a2"), model.DeltaEvent("a2", "two"), model.EndEvent("a2")),
	)
	ctrl := NewController(tr, New())

	require.NoError(t, ctrl.SendMessage(context.Background(), "first"))
	require.NoError(t, ctrl.SendMessage(context.Background(), "second"))

	require.Equal(t, 2, tr.callCount())
	second := tr.calls[1]
	require.Len(t, second, 3)
	assert.Equal(t, "first", second[0].Content)
	assert.Equal(t, "one", second[1].Content)
	assert.Equal(t, "second", second[2].Content)
	assert.Len(t, ctrl.Messages(), 4)
}

func TestSendMessage_DeltasAccumulateInArrivalOrder(t *testing.T) {
	fragments := []string{"Go", " ", "is", "", " fun", " 🎉", "\n", "done"}
	events := []model.StreamEvent{model.StartEvent("a")}
	want := ""
	for _, f := range fragments {
		events = append(events, model.DeltaEvent("a", f))
		want += f
	}
	events = append(events, model.EndEvent("a"))

	ctrl := NewController(newFakeTransport(scripted(events...)), New())
	require.NoError(t, ctrl.SendMessage(context.Background(), "go?"))

	msgs := ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, want, msgs[1].Content)
}

func TestSendMessage_RejectedWhileStreaming(t *testing.T) {
	stream := newChanStream(model.StartEvent("a"))
	tr := newFakeTransport(stream)
	ctrl := NewController(tr, New())

	done := sendAsync(ctrl, "first")
	tr.waitStarted(t)
	require.Equal(t, StatusStreaming, ctrl.Status())

	err := ctrl.SendMessage(context.Background(), "second")
	assert.ErrorIs(t, err, ErrBusy)
	assert.Equal(t, 1, tr.callCount())

	stream.events <- model.DeltaEvent("a", "ok")
	stream.events <- model.EndEvent("a")
	require.NoError(t, waitDone(t, done))

	msgs := ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "first", msgs[0].Content)
	assert.Equal(t, "ok", msgs[1].Content)
	assert.Equal(t, StatusIdle, ctrl.Status())
}

func TestStop_FreezesAssistantMessage(t *testing.T) {
	stream := newChanStream(model.StartEvent("a"), model.DeltaEvent("a", "partial"))
	tr := newFakeTransport(stream)

	applied := make(chan model.StreamEvent, 16)
	ctrl := NewController(tr, New(), WithEventHook(func(ev model.StreamEvent) {
		applied <- ev
	}))

	done := sendAsync(ctrl, "tell me a story")
	tr.waitStarted(t)
	for i := 0; i < 2; i++ {
		select {
		case <-applied:
		case <-time.After(2 * time.Second):
			t.Fatal("events were not applied")
		}
	}

	ctrl.Stop()
	assert.Equal(t, StatusIdle, ctrl.Status())

	stream.events <- model.DeltaEvent("a", " late")
	stream.events <- model.EndEvent("a")

	require.NoError(t, waitDone(t, done))

	msgs := ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial", msgs[1].Content)
	assert.Equal(t, StatusIdle, ctrl.Status())
	assert.NoError(t, ctrl.Err())

	select {
	case <-stream.closed:
	case <-time.After(2 * time.Second):
		t.Fatal("stream was not closed after stop")
	}
}

func TestStop_WhenIdleIsNoop(t *testing.T) {
	ctrl := NewController(newFakeTransport(), New())
	ctrl.Stop()
	assert.Equal(t, StatusIdle, ctrl.Status())
	assert.Empty(t, ctrl.Messages())
}

func TestStop_AllowsNextMessage(t *testing.T) {
	first := newChanStream(model.StartEvent("a"))
	second := scripted(model.StartEvent("b"), model.DeltaEvent("b", "again"), model.EndEvent("b"))
	tr := newFakeTransport(first, second)
	ctrl := NewController(tr, New())

	done := sendAsync(ctrl, "one")
	tr.waitStarted(t)
	ctrl.Stop()
	require.NoError(t, waitDone(t, done))

	require.NoError(t, ctrl.SendMessage(context.Background(), "two"))
	msgs := ctrl.Messages()
	require.NotEmpty(t, msgs)
	assert.Equal(t, "again", msgs[len(msgs)-1].Content)
}

func TestClear_ResetsIdleSession(t *testing.T) {
	tr := newFakeTransport(scripted(model.StartEvent("a"), model.DeltaEvent("a", "x"), model.EndEvent("a")))
	ctrl := NewController(tr, New())
	require.NoError(t, ctrl.SendMessage(context.Background(), "hello"))
	require.Len(t, ctrl.Messages(), 2)

	ctrl.Clear()

	assert.Empty(t, ctrl.Messages())
	assert.Equal(t, StatusIdle, ctrl.Status())
}

func TestClear_DuringStreamDiscardsLateEvents(t *testing.T) {
	old := newChanStream(model.StartEvent("old"), model.DeltaEvent("old", "before"))
	fresh := newChanStream()
	tr := newFakeTransport(old, fresh)

	applied := make(chan model.StreamEvent, 16)
	ctrl := NewController(tr, New(), WithEventHook(func(ev model.StreamEvent) {
		applied <- ev
	}))

	oldDone := sendAsync(ctrl, "first")
	tr.waitStarted(t)
	for i := 0; i < 2; i++ {
		<-applied
	}

	ctrl.Clear()
	assert.Empty(t, ctrl.Messages())
	assert.Equal(t, StatusIdle, ctrl.Status())

	// 清空不取消旧请求，新的请求可以立即开始
	freshDone := sendAsync(ctrl, "second")
	tr.waitStarted(t)
	require.Equal(t, StatusStreaming, ctrl.Status())

	old.events <- model.DeltaEvent("old", " after")
	old.events <- model.EndEvent("old")
	close(old.events)
	require.NoError(t, waitDone(t, oldDone))

	// 旧请求结束不影响新请求的状态
	assert.Equal(t, StatusStreaming, ctrl.Status())

	fresh.events <- model.StartEvent("new")
	fresh.events <- model.DeltaEvent("new", "fresh")
	fresh.events <- model.EndEvent("new")
	require.NoError(t, waitDone(t, freshDone))

	msgs := ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "second", msgs[0].Content)
	assert.Equal(t, model.Message{ID: "new", Role: model.RoleAssistant, Content: "fresh"}, msgs[1])
	assert.Equal(t, StatusIdle, ctrl.Status())
}

func TestSendMessage_RequestFailure(t *testing.T) {
	boom := errors.New("status 500")
	tr := newFakeTransport()
	tr.err = boom
	ctrl := NewController(tr, New())

	err := ctrl.SendMessage(context.Background(), "hello")
	require.ErrorIs(t, err, boom)

	msgs := ctrl.Messages()
	require.Len(t, msgs, 1)
	assert.Equal(t, model.RoleUser, msgs[0].Role)
	assert.Equal(t, StatusIdle, ctrl.Status())
	assert.ErrorIs(t, ctrl.Err(), boom)
}

func TestSendMessage_MidStreamFailureKeepsPartialContent(t *testing.T) {
	stream := scripted(model.StartEvent("a"), model.DeltaEvent("a", "par"))
	stream.endErr = io.ErrUnexpectedEOF
	ctrl := NewController(newFakeTransport(stream), New())

	err := ctrl.SendMessage(context.Background(), "hello")
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)

	msgs := ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "par", msgs[1].Content)
	assert.Equal(t, StatusIdle, ctrl.Status())
}

func TestSendMessage_TransportCloseWithoutEnd(t *testing.T) {
	ctrl := NewController(newFakeTransport(scripted(model.StartEvent("a"), model.DeltaEvent("a", "cut"))), New())

	require.NoError(t, ctrl.SendMessage(context.Background(), "hello"))

	msgs := ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, "cut", msgs[1].Content)
	assert.Equal(t, StatusIdle, ctrl.Status())
}

func TestSendMessage_IgnoresUnknownAndDuplicateEvents(t *testing.T) {
	var seen []model.StreamEvent
	ctrl := NewController(newFakeTransport(scripted(
		model.DeltaEvent("ghost", "lost"),
		model.StartEvent("a"),
		model.StartEvent("b"),
		model.DeltaEvent("b", "wrong"),
		model.DeltaEvent("a", "right"),
		model.EndEvent("b"),
		model.EndEvent("a"),
	)), New(), WithEventHook(func(ev model.StreamEvent) {
		seen = append(seen, ev)
	}))

	require.NoError(t, ctrl.SendMessage(context.Background(), "hello"))

	msgs := ctrl.Messages()
	require.Len(t, msgs, 2)
	assert.Equal(t, model.Message{ID: "a", Role: model.RoleAssistant, Content: "right"}, msgs[1])
	assert.Equal(t, []model.StreamEvent{
		model.StartEvent("a"),
		model.DeltaEvent("a", "right"),
		model.EndEvent("a"),
	}, seen)
}
