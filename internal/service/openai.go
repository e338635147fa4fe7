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
	"strings"
	"time"
)

// OpenAIConfig holds the shared settings for OpenAI compatible endpoints
type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// openAIAPI performs authenticated JSON calls against an OpenAI compatible API
type openAIAPI struct {
	client  *http.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

func newOpenAIAPI(cfg OpenAIConfig, logger *slog.Logger) *openAIAPI {
	if logger == nil {
		logger = slog.Default()
	}
	return &openAIAPI{
		client:  &http.Client{Timeout: cfg.Timeout},
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		logger:  logger,
	}
}

// apiErrorBody is the error envelope OpenAI returns on non-2xx responses
type apiErrorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    any    `json:"code"`
	} `json:"error"`
}

// do sends method+path with an optional JSON body and decodes the JSON response into out
func (a *openAIAPI) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return &ProviderError{Provider: ProviderHosted, Err: fmt.Errorf("failed to marshal request: %w", err)}
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.baseURL+path, reader)
	if err != nil {
		return &ProviderError{Provider: ProviderHosted, Err: fmt.Errorf("failed to create request: %w", err)}
	}
	req.Header.Set("Authorization", "Bearer "+a.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := a.client.Do(req)
	if err != nil {
		a.logger.Error("OpenAI API request failed",
			"provider", ProviderHosted,
			"path", path,
			"error", err)
		return wrapTransportError(ProviderHosted, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return &ProviderError{Provider: ProviderHosted, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		a.logger.Error("OpenAI API returned error status",
			"provider", ProviderHosted,
			"path", path,
			"status", resp.StatusCode,
			"response", string(raw))
		return &ProviderError{Provider: ProviderHosted, StatusCode: resp.StatusCode, Err: errors.New(apiErrorMessage(raw))}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &ProviderError{Provider: ProviderHosted, StatusCode: resp.StatusCode, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// apiErrorMessage extracts error.message, falling back to the raw body
func apiErrorMessage(raw []byte) string {
	var body apiErrorBody
	if err := json.Unmarshal(raw, &body); err == nil && body.Error.Message != "" {
		return body.Error.Message
	}
	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		return "empty response body"
	}
	return msg
}

// listModels queries GET /models and returns sorted ids
func (a *openAIAPI) listModels(ctx context.Context) ([]string, error) {
	var resp struct {
		Data []struct {
			ID string `json:"id"`
		} `json:"data"`
	}
	if err := a.do(ctx, http.MethodGet, "/models", nil, &resp); err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(resp.Data))
	for _, m := range resp.Data {
		ids = append(ids, m.ID)
	}
	return sortedCopy(ids), nil
}
