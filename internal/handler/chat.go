package handler

import (
	"context"
	"net/http"
	"time"

	"firechat-backend/internal/config"
	"firechat-backend/internal/model"
	"firechat-backend/internal/service"
	"firechat-backend/internal/utils"
	"firechat-backend/pkg/logger"

	"github.com/gin-gonic/gin"
)

const generateFailedMessage = "Failed to generate response"

type ChatHandler struct {
	chatService *service.ChatService
	serverCfg   config.ServerConfig
}

func NewChatHandler(chatService *service.ChatService, serverCfg config.ServerConfig) *ChatHandler {
	return &ChatHandler{
		chatService: chatService,
		serverCfg:   serverCfg,
	}
}

func (h *ChatHandler) requestContext(c *gin.Context) (context.Context, context.CancelFunc) {
	if h.serverCfg.MaxDuration > 0 {
		return context.WithTimeout(c.Request.Context(), h.serverCfg.MaxDuration)
	}
	return context.WithCancel(c.Request.Context())
}

// StreamChat POST /api/chat
func (h *ChatHandler) StreamChat(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
		return
	}

	logger.Debugf("Stream chat request: mode=%s, messages=%d", h.chatService.Mode(), len(req.Messages))

	ctx, cancel := h.requestContext(c)
	defer cancel()

	respChan, errChan, err := h.chatService.StreamChat(ctx, req.Messages)
	if err != nil {
		logger.Errorf("Stream chat failed: %v", err)
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: generateFailedMessage})
		return
	}

	sseWriter := utils.NewSSEWriter(c.Writer)
	defer sseWriter.Abort()

	if h.serverCfg.HeartbeatInterval > 0 {
		heartbeatTicker := time.NewTicker(h.serverCfg.HeartbeatInterval)
		defer heartbeatTicker.Stop()

		go func() {
			for {
				select {
				case <-heartbeatTicker.C:
					if err := sseWriter.Comment("keep-alive"); err != nil {
						return
					}
				case <-ctx.Done():
					return
				}
			}
		}()
	}

	for ev := range respChan {
		if err := sseWriter.WriteJSON(ev); err != nil {
			logger.Warnf("Failed to write SSE: %v", err)
			// 客户端已断开，取消上游并排空 channel
			cancel()
			for range respChan {
			}
			sseWriter.Abort()
			return
		}
	}

	if err, ok := <-errChan; ok && err != nil {
		logger.Errorf("Stream interrupted: %v", err)
		sseWriter.Abort()
		return
	}

	if ctx.Err() != nil {
		logger.Warnf("Stream stopped: %v", ctx.Err())
		sseWriter.Abort()
		return
	}

	if err := sseWriter.Close(model.DoneSentinel); err != nil {
		logger.Warnf("Failed to write SSE sentinel: %v", err)
	}
}

// Complete POST /api/chat/complete
func (h *ChatHandler) Complete(c *gin.Context) {
	var req model.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, model.ErrorResponse{Error: err.Error()})
		return
	}

	ctx, cancel := h.requestContext(c)
	defer cancel()

	msg, err := h.chatService.Complete(ctx, req.Messages)
	if err != nil {
		logger.Errorf("Complete failed: %v", err)
		c.JSON(http.StatusInternalServerError, model.ErrorResponse{Error: generateFailedMessage})
		return
	}

	c.JSON(http.StatusOK, model.CompletionResponse{Message: msg})
}

// Health GET /health
func (h *ChatHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, model.HealthResponse{
		Status:    "ok",
		Mode:      string(h.chatService.Mode()),
		Timestamp: time.Now().Unix(),
	})
}
