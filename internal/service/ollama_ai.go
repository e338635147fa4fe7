package service

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"
	"sync"
	"time"
)

// thinkBlock matches reasoning sections emitted by some local models
var thinkBlock = regexp.MustCompile(`(?s)<think>.*?</think>\s*`)

// StripThinking removes every <think>...</think> block and trims the result
func StripThinking(s string) string {
	return strings.TrimSpace(thinkBlock.ReplaceAllString(s, ""))
}

// OllamaMessage is one chat turn in Ollama's wire format
type OllamaMessage struct {
	Role    string   `json:"role"`
	Content string   `json:"content"`
	Images  []string `json:"images,omitempty"`
}

// OllamaChatRequest represents the request payload for /api/chat
type OllamaChatRequest struct {
	Model    string          `json:"model"`
	Messages []OllamaMessage `json:"messages"`
	Stream   bool            `json:"stream"`
}

// OllamaChatResponse represents a non-streaming /api/chat response
type OllamaChatResponse struct {
	Model   string        `json:"model"`
	Message OllamaMessage `json:"message"`
	Done    bool          `json:"done"`
	Error   string        `json:"error,omitempty"`
}

type ollamaTagsResponse struct {
	Models []struct {
		Name string `json:"name"`
	} `json:"models"`
}

// OllamaServer is the shared connection to a local model server.
// Per-conversation clients are created from it with NewClient.
type OllamaServer struct {
	client       *http.Client
	baseURL      string
	defaultModel string
	logger       *slog.Logger
}

// NewOllamaServer creates a new OllamaServer
func NewOllamaServer(baseURL, defaultModel string, timeout time.Duration, logger *slog.Logger) *OllamaServer {
	if logger == nil {
		logger = slog.Default()
	}
	return &OllamaServer{
		client:       &http.Client{Timeout: timeout},
		baseURL:      strings.TrimRight(baseURL, "/"),
		defaultModel: defaultModel,
		logger:       logger,
	}
}

// DefaultModel returns the model used when a request names none
func (s *OllamaServer) DefaultModel() string {
	return s.defaultModel
}

// NewClient creates a LocalClient with an empty conversation
func (s *OllamaServer) NewClient(model string) *LocalClient {
	if model == "" {
		model = s.defaultModel
	}
	return &LocalClient{server: s, model: model}
}

// Healthy implements HealthChecker. The server is alive when GET /api/tags answers 200.
func (s *OllamaServer) Healthy(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Debug("Ollama health check failed", "error", err)
		return false
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	return resp.StatusCode == http.StatusOK
}

// ListModels returns the names of the installed models in ascending order
func (s *OllamaServer) ListModels(ctx context.Context) ([]string, error) {
	var tags ollamaTagsResponse
	if err := s.call(ctx, http.MethodGet, "/api/tags", nil, &tags); err != nil {
		return nil, err
	}

	names := make([]string, 0, len(tags.Models))
	for _, m := range tags.Models {
		names = append(names, m.Name)
	}
	return sortedCopy(names), nil
}

func (s *OllamaServer) chat(ctx context.Context, req OllamaChatRequest) (*OllamaChatResponse, error) {
	var resp OllamaChatResponse
	if err := s.call(ctx, http.MethodPost, "/api/chat", req, &resp); err != nil {
		return nil, err
	}
	if resp.Error != "" {
		return nil, &ProviderError{Provider: ProviderLocal, Err: errors.New(resp.Error)}
	}
	return &resp, nil
}

func (s *OllamaServer) call(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &ProviderError{Provider: ProviderLocal, Err: fmt.Errorf("failed to marshal request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+path, reader)
	if err != nil {
		return &ProviderError{Provider: ProviderLocal, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		s.logger.Error("Ollama request failed",
			"path", path,
			"error", err)
		return wrapTransportError(ProviderLocal, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Provider: ProviderLocal, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode != http.StatusOK {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(raw))
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		s.logger.Error("Ollama returned error status",
			"path", path,
			"status", resp.StatusCode,
			"response", msg)
		return &ProviderError{Provider: ProviderLocal, StatusCode: resp.StatusCode, Err: errors.New(msg)}
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return &ProviderError{Provider: ProviderLocal, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// LocalClient implements ProviderClient against an Ollama server. It owns one
// conversation and replays the full history on every Ask.
type LocalClient struct {
	server *OllamaServer
	model  string

	mu           sync.Mutex
	conversation Conversation
}

// ProviderID implements ProviderClient
func (c *LocalClient) ProviderID() string {
	return ProviderLocal
}

// Model returns the model this conversation talks to
func (c *LocalClient) Model() string {
	return c.model
}

// History returns a copy of the conversation so far
func (c *LocalClient) History() []Turn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversation.Turns()
}

// Ask implements ProviderClient. The user turn is appended before the call and
// removed again if no reply arrives, so history only holds answered turns.
func (c *LocalClient) Ask(ctx context.Context, prompt string, user UserContext, attachments []Attachment) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	mark := c.conversation.Len()
	c.conversation.Append(NewTurn(RoleUser, prompt, attachments))

	req := OllamaChatRequest{
		Model:    c.model,
		Messages: ollamaMessages(c.conversation.Turns()),
		Stream:   false,
	}

	start := time.Now()
	resp, err := c.server.chat(ctx, req)
	if err != nil {
		c.conversation.truncate(mark)
		return "", err
	}

	reply := StripThinking(resp.Message.Content)
	c.conversation.Append(NewTurn(RoleAssistant, reply, nil))

	c.server.logger.Info("Ollama chat completed",
		"model", c.model,
		"user_id", user.ID,
		"turns", c.conversation.Len(),
		"duration", time.Since(start))

	return reply, nil
}

// ListModels implements ProviderClient
func (c *LocalClient) ListModels(ctx context.Context) ([]string, error) {
	return c.server.ListModels(ctx)
}

func ollamaMessages(turns []Turn) []OllamaMessage {
	msgs := make([]OllamaMessage, 0, len(turns))
	for _, t := range turns {
		msgs = append(msgs, OllamaMessage{
			Role:    t.Role,
			Content: t.Text(),
			Images:  t.Images(),
		})
	}
	return msgs
}
