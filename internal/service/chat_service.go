package service

import (
	"context"
	"errors"
	"fmt"
	"io"

	"firechat-backend/internal/config"
	"firechat-backend/internal/model"
	"firechat-backend/pkg/logger"

	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/google/uuid"
)

type Mode string

const (
	ModeDemo Mode = "demo"
	ModeLive Mode = "live"
)

// DemoText 未配置凭证时返回的固定回复
const DemoText = "I'm a demo AI assistant. To use real AI responses, please configure your Fireworks API key in the .env file. For now, I can show you how the interface works with this simulated response."

type ChatService struct {
	chatModel   model.ChatModel
	modelName   string
	temperature float32
}

// NewChatService 根据配置选择模式：有凭证时创建模型，否则为演示模式
func NewChatService(ctx context.Context, cfg config.ProviderConfig) (*ChatService, error) {
	logger.Infof("Provider credential configured: %v", cfg.HasCredential())

	if !cfg.HasCredential() {
		return NewChatServiceWithModel(nil, cfg), nil
	}

	chatModel, err := model.NewChatModel(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return NewChatServiceWithModel(chatModel, cfg), nil
}

// NewChatServiceWithModel chatModel 为 nil 时为演示模式
func NewChatServiceWithModel(chatModel model.ChatModel, cfg config.ProviderConfig) *ChatService {
	return &ChatService{
		chatModel:   chatModel,
		modelName:   cfg.Model,
		temperature: cfg.SamplingTemperature(),
	}
}

func (s *ChatService) Mode() Mode {
	if s.chatModel == nil {
		return ModeDemo
	}
	return ModeLive
}

func (s *ChatService) options() []einoModel.Option {
	opts := []einoModel.Option{einoModel.WithTemperature(s.temperature)}
	if s.modelName != "" {
		opts = append(opts, einoModel.WithModel(s.modelName))
	}
	return opts
}

// StreamChat 返回本次回复的事件流。
// 第一个分片到达之前的失败（包括上游流的首次读取出错）通过第三个返回值同步返回，不返回 channel。
// 事件 channel 关闭前最多向错误 channel 发送一个错误；出错时不会发送 end 事件。
func (s *ChatService) StreamChat(ctx context.Context, messages []model.Message) (<-chan model.StreamEvent, <-chan error, error) {
	if s.chatModel == nil {
		return demoStream(), closedErrChan(), nil
	}

	input, err := model.ToSchemaMessages(messages)
	if err != nil {
		return nil, nil, err
	}

	stream, err := s.chatModel.Stream(ctx, input, s.options()...)
	if err != nil {
		return nil, nil, fmt.Errorf("stream chat: %w", err)
	}

	// 先读第一个分片，确认上游可用后才开始响应
	first, err := stream.Recv()
	if err != nil && !errors.Is(err, io.EOF) {
		stream.Close()
		return nil, nil, fmt.Errorf("stream chat: %w", err)
	}
	ended := errors.Is(err, io.EOF)

	respChan := make(chan model.StreamEvent)
	errChan := make(chan error, 1)
	messageID := uuid.New().String()

	go func() {
		defer close(respChan)
		defer close(errChan)
		defer stream.Close()

		send := func(ev model.StreamEvent) bool {
			select {
			case respChan <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		if !send(model.StartEvent(messageID)) {
			return
		}
		if ended {
			send(model.EndEvent(messageID))
			return
		}

		chunk := first
		for {
			if chunk != nil && chunk.Content != "" {
				if !send(model.DeltaEvent(messageID, chunk.Content)) {
					return
				}
			}

			next, err := stream.Recv()
			if err != nil {
				if errors.Is(err, io.EOF) {
					send(model.EndEvent(messageID))
					return
				}
				errChan <- err
				return
			}
			chunk = next
		}
	}()

	return respChan, errChan, nil
}

// Complete 非流式生成完整回复
func (s *ChatService) Complete(ctx context.Context, messages []model.Message) (model.Message, error) {
	if s.chatModel == nil {
		return model.Message{
			ID:      demoMessageID(),
			Role:    model.RoleAssistant,
			Content: DemoText,
		}, nil
	}

	input, err := model.ToSchemaMessages(messages)
	if err != nil {
		return model.Message{}, err
	}

	resp, err := s.chatModel.Generate(ctx, input, s.options()...)
	if err != nil {
		return model.Message{}, fmt.Errorf("generate: %w", err)
	}

	return model.Message{
		ID:      uuid.New().String(),
		Role:    model.RoleAssistant,
		Content: resp.Content,
	}, nil
}

func demoMessageID() string {
	return "demo-" + uuid.New().String()
}

// demoStream 固定的三个事件，一次性写入缓冲 channel
func demoStream() <-chan model.StreamEvent {
	id := demoMessageID()
	ch := make(chan model.StreamEvent, 3)
	ch <- model.StartEvent(id)
	ch <- model.DeltaEvent(id, DemoText)
	ch <- model.EndEvent(id)
	close(ch)
	return ch
}

func closedErrChan() <-chan error {
	ch := make(chan error)
	close(ch)
	return ch
}
