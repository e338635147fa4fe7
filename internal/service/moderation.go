package service

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
)

// Verdict is the provider-neutral moderation outcome
type Verdict struct {
	Flagged    bool
	Categories []string
}

type moderationRequest struct {
	Model string `json:"model,omitempty"`
	Input string `json:"input"`
}

type moderationResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Results []struct {
		Flagged    *bool           `json:"flagged"`
		Categories map[string]bool `json:"categories"`
	} `json:"results"`
}

// verdict folds every result into one decision. Either the aggregate flag or any
// single category marks the text as flagged.
func (r moderationResponse) verdict() Verdict {
	var v Verdict
	for _, res := range r.Results {
		if res.Flagged != nil && *res.Flagged {
			v.Flagged = true
		}
		for name, hit := range res.Categories {
			if hit {
				v.Flagged = true
				v.Categories = append(v.Categories, name)
			}
		}
	}
	v.Categories = sortedCopy(v.Categories)
	return v
}

// Moderator implements ContentModerator using the OpenAI moderation endpoint
type Moderator struct {
	api    *openAIAPI
	model  string
	logger *slog.Logger
}

// NewModerator creates a new Moderator
func NewModerator(cfg OpenAIConfig, model string, logger *slog.Logger) *Moderator {
	api := newOpenAIAPI(cfg, logger)
	return &Moderator{
		api:    api,
		model:  model,
		logger: api.logger,
	}
}

// Classify implements ContentModerator. Any failure is returned as an error and
// callers must treat it as a refusal.
func (m *Moderator) Classify(ctx context.Context, text string) (bool, error) {
	v, err := m.Verdict(ctx, text)
	if err != nil {
		return false, err
	}
	return v.Flagged, nil
}

// Verdict classifies text and returns the flagged categories as well
func (m *Moderator) Verdict(ctx context.Context, text string) (Verdict, error) {
	var resp moderationResponse
	if err := m.api.do(ctx, http.MethodPost, "/moderations", moderationRequest{Model: m.model, Input: text}, &resp); err != nil {
		return Verdict{}, err
	}
	if len(resp.Results) == 0 {
		return Verdict{}, &ProviderError{Provider: ProviderHosted, Err: errors.New("no moderation results in response")}
	}

	v := resp.verdict()
	if v.Flagged {
		m.logger.Warn("Content flagged by moderation",
			"model", m.model,
			"categories", v.Categories)
	}
	return v, nil
}
