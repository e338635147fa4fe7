package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
)

const hostedSystemPrompt = "You are a helpful assistant in a Discord server. Keep answers concise. You are talking with %s."

// HostedConfig configures the hosted chat provider
type HostedConfig struct {
	OpenAIConfig
	Model     string
	MaxTokens int
}

// chatMessage is one entry of a chat completion request
type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

// chatContentPart is an element of a multi-part user message
type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatCompletionRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	MaxTokens int           `json:"max_tokens,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Role    string  `json:"role"`
			Content *string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// HostedClient implements ProviderClient against an OpenAI compatible chat completion API.
// It is stateless: every Ask sends exactly a system turn and a user turn.
type HostedClient struct {
	api       *openAIAPI
	model     string
	maxTokens int
	logger    *slog.Logger
}

// NewHostedClient creates a new HostedClient
func NewHostedClient(cfg HostedConfig, logger *slog.Logger) *HostedClient {
	api := newOpenAIAPI(cfg.OpenAIConfig, logger)
	return &HostedClient{
		api:       api,
		model:     cfg.Model,
		maxTokens: cfg.MaxTokens,
		logger:    api.logger,
	}
}

// ProviderID implements ProviderClient
func (h *HostedClient) ProviderID() string {
	return ProviderHosted
}

// Model returns the configured chat model
func (h *HostedClient) Model() string {
	return h.model
}

// Ask implements ProviderClient
func (h *HostedClient) Ask(ctx context.Context, prompt string, user UserContext, attachments []Attachment) (string, error) {
	attachments = LimitAttachments(attachments)

	req := chatCompletionRequest{
		Model:     h.model,
		MaxTokens: h.maxTokens,
		Messages: []chatMessage{
			{Role: RoleSystem, Content: fmt.Sprintf(hostedSystemPrompt, user.Name())},
			{Role: RoleUser, Content: hostedUserContent(NewTurn(RoleUser, prompt, attachments))},
		},
	}

	h.logger.Debug("Sending chat completion request",
		"provider", ProviderHosted,
		"model", h.model,
		"user_id", user.ID,
		"prompt_length", len(prompt),
		"attachments", len(attachments))

	var resp chatCompletionResponse
	if err := h.api.do(ctx, http.MethodPost, "/chat/completions", req, &resp); err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 {
		return "", &ProviderError{Provider: ProviderHosted, Err: errors.New("no choices in response")}
	}

	h.logger.Info("Chat completion received",
		"provider", ProviderHosted,
		"model", h.model,
		"user_id", user.ID,
		"prompt_tokens", resp.Usage.PromptTokens,
		"completion_tokens", resp.Usage.CompletionTokens,
		"finish_reason", resp.Choices[0].FinishReason)

	content := resp.Choices[0].Message.Content
	if content == nil {
		return "", nil
	}
	return *content, nil
}

// ListModels implements ProviderClient
func (h *HostedClient) ListModels(ctx context.Context) ([]string, error) {
	return h.api.listModels(ctx)
}

// hostedUserContent renders a turn into OpenAI's content part list
func hostedUserContent(turn Turn) []chatContentPart {
	parts := make([]chatContentPart, 0, len(turn.Parts))
	for _, p := range turn.Parts {
		switch p.Type {
		case PartText:
			parts = append(parts, chatContentPart{Type: "text", Text: p.Text})
		case PartImage:
			parts = append(parts, chatContentPart{
				Type:     "image_url",
				ImageURL: &chatImageURL{URL: "data:image/jpeg;base64," + p.Image},
			})
		}
	}
	return parts
}
