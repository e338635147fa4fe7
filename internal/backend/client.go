package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Backend resources
const (
	ResourceCompletion = "completion"
	ResourceRecipes    = "recipes"
	ResourceImages     = "images"
)

// CompletionRecord is a prompt and the answer it produced
type CompletionRecord struct {
	DiscordUser string `json:"discordUser"`
	Prompt      string `json:"prompt"`
	Completion  string `json:"completion"`
}

// RecipeRecord is a generated recipe
type RecipeRecord struct {
	DiscordUser  string `json:"discordUser"`
	Ingredients  string `json:"ingredients"`
	Instructions string `json:"instructions"`
}

// ImageRecord is a generated image and the prompt that produced it
type ImageRecord struct {
	DiscordUser string `json:"discordUser"`
	ImageURL    string `json:"imageUrl"`
	Prompt      string `json:"prompt"`
}

// HTTPError is returned for any non-2xx backend response
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("backend returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("backend returned status %d: %s", e.StatusCode, e.Body)
}

// Client is the persistence gateway to the backend REST API
type Client struct {
	http    *http.Client
	baseURL string
	apiKey  string
	logger  *slog.Logger
}

// NewClient creates a new backend Client
func NewClient(baseURL, apiKey string, timeout time.Duration, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		http:    &http.Client{Timeout: timeout},
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		logger:  logger,
	}
}

// CreateCompletion stores a completion record
func (c *Client) CreateCompletion(ctx context.Context, record CompletionRecord) error {
	return c.post(ctx, ResourceCompletion, record)
}

// CreateRecipe stores a recipe record
func (c *Client) CreateRecipe(ctx context.Context, record RecipeRecord) error {
	return c.post(ctx, ResourceRecipes, record)
}

// SaveImage stores an image record
func (c *Client) SaveImage(ctx context.Context, record ImageRecord) error {
	return c.post(ctx, ResourceImages, record)
}

// ListUserImages returns the images saved for discordUser. A user with no images
// yields an empty slice, whether the backend answers [], an empty body or 404.
func (c *Client) ListUserImages(ctx context.Context, discordUser string) ([]ImageRecord, error) {
	endpoint := c.endpoint(ResourceImages) + "?" + url.Values{"discordUser": {discordUser}}.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("list images: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode == http.StatusNotFound {
		return []ImageRecord{}, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return []ImageRecord{}, nil
	}

	var images []ImageRecord
	if err := json.Unmarshal(raw, &images); err != nil {
		return nil, fmt.Errorf("failed to decode images: %w", err)
	}
	if images == nil {
		images = []ImageRecord{}
	}
	return images, nil
}

func (c *Client) endpoint(resource string) string {
	return c.baseURL + "/" + resource
}

func (c *Client) authorize(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
}

func (c *Client) post(ctx context.Context, resource string, record any) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal %s record: %w", resource, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint(resource), bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	c.authorize(req)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", resource, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &HTTPError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	_, _ = io.Copy(io.Discard, resp.Body)

	c.logger.Debug("Backend record stored", "resource", resource, "status", resp.StatusCode)
	return nil
}
