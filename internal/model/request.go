package model

type ChatRequest struct {
	Messages []Message `json:"messages" binding:"required,dive"`
}
