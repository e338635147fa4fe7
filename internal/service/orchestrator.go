package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/google/uuid"

	"ai-relay-bot/internal/backend"
)

// Kind selects the pipeline an interaction runs through
type Kind string

const (
	KindAsk    Kind = "ask"    // hosted chat, stateless
	KindChat   Kind = "chat"   // local chat, per-user conversation
	KindRecipe Kind = "recipe" // hosted chat with a recipe prompt
	KindImage  Kind = "image"
	KindSpeech Kind = "speech"
)

const recipePrompt = "Suggest a recipe that uses these ingredients: %s. " +
	"Give it a name, list the ingredients with quantities, then number the preparation steps."

// Request is one user interaction entering the pipeline
type Request struct {
	Kind        Kind
	User        UserContext
	Prompt      string
	Attachments []Attachment
	// Model overrides the route's default model. It must be in the route's allow-list.
	Model string
	// ConversationKey identifies the conversation for session-based providers
	ConversationKey string
}

// Route binds a text kind to the provider serving it
type Route struct {
	Provider      ProviderResolver
	AllowedModels []string
	DefaultModel  string
	// Health is probed before every request when set
	Health HealthChecker
}

// Reply is what gets delivered back to the user
type Reply struct {
	Text     string
	ImageURL string
	Speech   *Speech
}

// Deliverer sends a reply to the user
type Deliverer func(ctx context.Context, reply Reply) error

// State is the terminal state of an interaction
type State string

const (
	StateDelivered State = "delivered"
	StateRejected  State = "rejected"
	StateFailed    State = "failed"
)

// Outcome reports how an interaction ended. Message holds user-facing text for
// rejected and failed interactions.
type Outcome struct {
	InteractionID string
	State         State
	Reply         Reply
	Message       string
	Err           error
}

// Orchestrator runs the validate, moderate, dispatch, deliver, persist pipeline
type Orchestrator struct {
	routes    map[Kind]Route
	moderator ContentModerator
	images    ImageGenerator
	speech    SpeechSynthesizer
	recorder  *Recorder
	logger    *slog.Logger
}

// OrchestratorDeps holds the collaborators of an Orchestrator
type OrchestratorDeps struct {
	Routes    map[Kind]Route
	Moderator ContentModerator
	Images    ImageGenerator
	Speech    SpeechSynthesizer
	Recorder  *Recorder
	Logger    *slog.Logger
}

// NewOrchestrator creates a new Orchestrator
func NewOrchestrator(deps OrchestratorDeps) *Orchestrator {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		routes:    deps.Routes,
		moderator: deps.Moderator,
		images:    deps.Images,
		speech:    deps.Speech,
		recorder:  deps.Recorder,
		logger:    logger,
	}
}

// AllowedModels returns the model allow-list of the route serving kind
func (o *Orchestrator) AllowedModels(kind Kind) []string {
	return slices.Clone(o.routes[kind].AllowedModels)
}

// Handle runs one interaction to completion. The reply is delivered before any
// persistence is attempted, and persistence never changes the outcome.
func (o *Orchestrator) Handle(ctx context.Context, req Request, deliver Deliverer) Outcome {
	id := uuid.NewString()
	logger := o.logger.With(
		"interaction_id", id,
		"kind", req.Kind,
		"user_id", req.User.ID)

	logger.Info("Interaction received", "prompt_length", len(req.Prompt), "attachments", len(req.Attachments))

	req.Prompt = strings.TrimSpace(req.Prompt)
	req.Attachments = LimitAttachments(req.Attachments)

	route, err := o.validate(ctx, req)
	if err != nil {
		return o.reject(logger, id, err)
	}

	flagged, err := o.moderate(ctx, req.Prompt)
	if err != nil {
		return o.fail(logger, id, err)
	}
	if flagged {
		return o.reject(logger, id, &PolicyError{})
	}

	reply, err := o.dispatch(ctx, req, route)
	if err != nil {
		return o.fail(logger, id, err)
	}

	if err := deliver(ctx, reply); err != nil {
		logger.Error("Failed to deliver reply", "error", err)
		return Outcome{InteractionID: id, State: StateFailed, Reply: reply, Err: fmt.Errorf("deliver reply: %w", err)}
	}
	logger.Info("Reply delivered")

	o.persist(ctx, logger, req, reply)

	return Outcome{InteractionID: id, State: StateDelivered, Reply: reply}
}

// validate checks everything that can be decided without calling a provider,
// except the liveness probe which runs last
func (o *Orchestrator) validate(ctx context.Context, req Request) (Route, error) {
	if req.Prompt == "" {
		return Route{}, &ValidationError{Reason: "prompt must not be empty"}
	}

	switch req.Kind {
	case KindImage:
		if o.images == nil {
			return Route{}, &ValidationError{Reason: "image generation is not configured"}
		}
		return Route{}, checkModel(req.Model, nil)
	case KindSpeech:
		if o.speech == nil {
			return Route{}, &ValidationError{Reason: "text to speech is not configured"}
		}
		return Route{}, checkModel(req.Model, nil)
	}

	route, ok := o.routes[req.Kind]
	if !ok || route.Provider == nil {
		return Route{}, &ValidationError{Reason: fmt.Sprintf("unsupported request kind %q", req.Kind)}
	}

	if err := checkModel(req.Model, route.AllowedModels); err != nil {
		return Route{}, err
	}

	if route.Health != nil && !route.Health.Healthy(ctx) {
		provider := ProviderLocal
		if req.Kind != KindChat {
			provider = ProviderHosted
		}
		return Route{}, &UnavailableError{Provider: provider}
	}

	return route, nil
}

// checkModel accepts an override only when it is on the allow-list. A route
// without an allow-list takes no override at all.
func checkModel(model string, allowed []string) error {
	if model == "" || slices.Contains(allowed, model) {
		return nil
	}
	return &ValidationError{
		Reason:  fmt.Sprintf("model %q is not supported", model),
		Allowed: slices.Clone(allowed),
	}
}

func (o *Orchestrator) moderate(ctx context.Context, text string) (bool, error) {
	if o.moderator == nil {
		return false, nil
	}
	flagged, err := o.moderator.Classify(ctx, text)
	if err != nil {
		return false, classifyError(ProviderHosted, fmt.Errorf("moderation: %w", err))
	}
	return flagged, nil
}

func (o *Orchestrator) dispatch(ctx context.Context, req Request, route Route) (Reply, error) {
	switch req.Kind {
	case KindImage:
		imageURL, err := o.images.Generate(ctx, req.Prompt)
		if err != nil {
			return Reply{}, classifyError(ProviderHosted, err)
		}
		return Reply{ImageURL: imageURL}, nil

	case KindSpeech:
		speech, err := o.speech.Synthesize(ctx, req.Prompt)
		if err != nil {
			return Reply{}, classifyError(ProviderSpeech, err)
		}
		return Reply{Speech: speech}, nil
	}

	model := req.Model
	if model == "" {
		model = route.DefaultModel
	}
	client := route.Provider.Resolve(req.ConversationKey, model)

	prompt := req.Prompt
	if req.Kind == KindRecipe {
		prompt = fmt.Sprintf(recipePrompt, req.Prompt)
	}

	text, err := client.Ask(ctx, prompt, req.User, req.Attachments)
	if err != nil {
		return Reply{}, classifyError(client.ProviderID(), err)
	}
	return Reply{Text: text}, nil
}

func (o *Orchestrator) persist(ctx context.Context, logger *slog.Logger, req Request, reply Reply) {
	if o.recorder == nil {
		return
	}

	user := req.User.Username
	switch req.Kind {
	case KindAsk, KindChat:
		o.recorder.RecordCompletion(ctx, logger, backend.CompletionRecord{
			DiscordUser: user,
			Prompt:      req.Prompt,
			Completion:  reply.Text,
		})
	case KindRecipe:
		o.recorder.RecordRecipe(ctx, logger, backend.RecipeRecord{
			DiscordUser:  user,
			Ingredients:  req.Prompt,
			Instructions: reply.Text,
		})
	case KindImage:
		o.recorder.RecordImage(ctx, logger, backend.ImageRecord{
			DiscordUser: user,
			ImageURL:    reply.ImageURL,
			Prompt:      req.Prompt,
		})
	}
}

func (o *Orchestrator) reject(logger *slog.Logger, id string, err error) Outcome {
	logger.Warn("Interaction rejected", "error", err)
	return Outcome{InteractionID: id, State: StateRejected, Message: UserMessage(err), Err: err}
}

func (o *Orchestrator) fail(logger *slog.Logger, id string, err error) Outcome {
	var connErr *ConnectionError
	if errors.As(err, &connErr) {
		logger.Error("Provider unreachable", "provider", connErr.Provider, "error", err)
	} else {
		logger.Error("Interaction failed", "error", err)
	}
	return Outcome{InteractionID: id, State: StateFailed, Message: UserMessage(err), Err: err}
}
