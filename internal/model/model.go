package model

import (
	"context"
	"errors"
	"fmt"

	"firechat-backend/internal/config"
	"firechat-backend/internal/utils"
	"firechat-backend/pkg/logger"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	einoModel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

var (
	ErrUnsupportedProvider = errors.New("unsupported model provider")
	ErrMissingCredential   = errors.New("provider api key is not configured")
	ErrInvalidRole         = errors.New("invalid message role")
)

// ChatModel 模型服务的最小能力集合：整段生成和流式生成
type ChatModel interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.Message, error)
	Stream(ctx context.Context, input []*schema.Message, opts ...einoModel.Option) (*schema.StreamReader[*schema.Message], error)
}

// NewChatModel 根据配置创建模型，凭证为空时返回 ErrMissingCredential
func NewChatModel(ctx context.Context, cfg config.ProviderConfig) (ChatModel, error) {
	if !cfg.HasCredential() {
		return nil, ErrMissingCredential
	}

	switch cfg.Name {
	case config.ProviderFireworks, config.ProviderOpenAI, "":
		logger.Infof("Using %s model: %s, BaseURL: %s", providerName(cfg.Name), cfg.Model, cfg.BaseURL)
		return newOpenAIChatModel(cfg, utils.NewHTTPClient(cfg.Timeout)), nil
	case config.ProviderQwen:
		return createQwenModel(ctx, cfg)
	case config.ProviderArk:
		return createArkModel(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, cfg.Name)
	}
}

func providerName(name string) string {
	if name == "" {
		return config.ProviderFireworks
	}
	return name
}

func createQwenModel(ctx context.Context, cfg config.ProviderConfig) (ChatModel, error) {
	logger.Infof("Using Qwen model: %s, BaseURL: %s", cfg.Model, cfg.BaseURL)

	temperature := cfg.SamplingTemperature()
	qcfg := &qwen.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: &temperature,
		HTTPClient:  utils.NewHTTPClient(cfg.Timeout),
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		qcfg.MaxTokens = &maxTokens
	}

	chatModel, err := qwen.NewChatModel(ctx, qcfg)
	if err != nil {
		return nil, fmt.Errorf("create qwen model: %w", err)
	}
	return chatModel, nil
}

func createArkModel(ctx context.Context, cfg config.ProviderConfig) (ChatModel, error) {
	logger.Infof("Using Ark model: %s", cfg.Model)

	temperature := cfg.SamplingTemperature()
	acfg := &ark.ChatModelConfig{
		BaseURL:     cfg.BaseURL,
		APIKey:      cfg.APIKey,
		Model:       cfg.Model,
		Temperature: &temperature,
		HTTPClient:  utils.NewHTTPClient(cfg.Timeout),
		CustomHeader: map[string]string{
			"X-Ark-Thinking-Mode": "disable",
		},
	}
	if cfg.MaxTokens > 0 {
		maxTokens := cfg.MaxTokens
		acfg.MaxTokens = &maxTokens
	}

	chatModel, err := ark.NewChatModel(ctx, acfg)
	if err != nil {
		return nil, fmt.Errorf("create ark model: %w", err)
	}
	return chatModel, nil
}

// ToSchemaMessages 转换为模型输入，保持原有顺序。
// 内容为空的 assistant 消息（回复被中断）不发送给模型，未知角色返回 ErrInvalidRole。
func ToSchemaMessages(messages []Message) ([]*schema.Message, error) {
	result := make([]*schema.Message, 0, len(messages))
	for _, msg := range messages {
		if !msg.Role.Valid() {
			return nil, fmt.Errorf("%w: %q", ErrInvalidRole, msg.Role)
		}

		role := schema.User
		switch msg.Role {
		case RoleAssistant:
			if msg.Content == "" {
				continue
			}
			role = schema.Assistant
		case RoleSystem:
			role = schema.System
		}
		result = append(result, &schema.Message{
			Role:    role,
			Content: msg.Content,
		})
	}
	return result, nil
}
