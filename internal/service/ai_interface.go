package service

import (
	"context"
	"slices"
)

// Provider identifiers used for logging, routing and error messages
const (
	ProviderHosted = "openai"
	ProviderLocal  = "ollama"
	ProviderSpeech = "visionbrain"
	ProviderCrypto = "coinmarketcap"
)

// UserContext identifies the Discord user behind a request
type UserContext struct {
	ID          string
	Username    string
	DisplayName string
}

// Name returns the friendliest available name for prompts
func (u UserContext) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}

// ProviderClient is the uniform interface over conversational model backends.
// All business logic talking to a chat model must go through it.
type ProviderClient interface {
	// ProviderID returns the unique identifier for this provider
	ProviderID() string

	// Ask sends a prompt with up to MaxAttachments images and returns the generated text.
	// Extra attachments are dropped, never rejected.
	Ask(ctx context.Context, prompt string, user UserContext, attachments []Attachment) (string, error)

	// ListModels returns the provider's model identifiers in ascending order
	ListModels(ctx context.Context) ([]string, error)
}

// ContentModerator classifies free-form text before it reaches a generative model
type ContentModerator interface {
	Classify(ctx context.Context, text string) (bool, error)
}

// ImageGenerator turns a prompt into a single image URL
type ImageGenerator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// SpeechSynthesizer turns text into encoded audio
type SpeechSynthesizer interface {
	Synthesize(ctx context.Context, text string) (*Speech, error)
}

// HealthChecker is a best-effort liveness probe
type HealthChecker interface {
	Healthy(ctx context.Context) bool
}

// ProviderResolver yields the client serving a conversation. Stateless providers
// return the same client for every key; session-based ones return one per key.
type ProviderResolver interface {
	Resolve(conversationKey, model string) ProviderClient
}

// StaticResolver always resolves to the same client
type StaticResolver struct {
	Client ProviderClient
}

// Resolve implements ProviderResolver
func (r StaticResolver) Resolve(string, string) ProviderClient {
	return r.Client
}

// sortedCopy returns an ascending copy of ids
func sortedCopy(ids []string) []string {
	out := slices.Clone(ids)
	slices.Sort(out)
	return out
}
