package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

// ImageConfig configures the image generation provider
type ImageConfig struct {
	OpenAIConfig
	Model   string
	Size    string
	Quality string
}

type imageRequest struct {
	Model   string `json:"model"`
	Prompt  string `json:"prompt"`
	Size    string `json:"size,omitempty"`
	Quality string `json:"quality,omitempty"`
	N       int    `json:"n"`
}

type imageResponse struct {
	Created int64 `json:"created"`
	Data    []struct {
		URL           string `json:"url"`
		RevisedPrompt string `json:"revised_prompt"`
	} `json:"data"`
}

// ImageClient implements ImageGenerator using the OpenAI image endpoint
type ImageClient struct {
	api     *openAIAPI
	model   string
	size    string
	quality string
	logger  *slog.Logger
}

// NewImageClient creates a new ImageClient
func NewImageClient(cfg ImageConfig, logger *slog.Logger) *ImageClient {
	api := newOpenAIAPI(cfg.OpenAIConfig, logger)
	return &ImageClient{
		api:     api,
		model:   cfg.Model,
		size:    cfg.Size,
		quality: cfg.Quality,
		logger:  api.logger,
	}
}

// Generate implements ImageGenerator and returns the URL of the single generated image
func (c *ImageClient) Generate(ctx context.Context, prompt string) (string, error) {
	req := imageRequest{
		Model:   c.model,
		Prompt:  prompt,
		Size:    c.size,
		Quality: c.quality,
		N:       1,
	}

	var resp imageResponse
	if err := c.api.do(ctx, http.MethodPost, "/images/generations", req, &resp); err != nil {
		return "", err
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", &ProviderError{Provider: ProviderHosted, Err: errors.New("no image returned")}
	}

	c.logger.Info("Image generated",
		"model", c.model,
		"size", c.size,
		"prompt_length", len(prompt))

	return resp.Data[0].URL, nil
}
