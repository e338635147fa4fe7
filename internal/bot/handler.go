package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"

	"ai-relay-bot/internal/backend"
	"ai-relay-bot/internal/service"
)

// maxChoices is the most choices Discord accepts on a string option
const maxChoices = 25

// maxListedImages bounds the /myimages reply
const maxListedImages = 10

// Model catalogue names offered by /models
const (
	catalogHosted = "hosted"
	catalogLocal  = "local"
)

// Orchestrator runs an interaction through the relay pipeline
type Orchestrator interface {
	Handle(ctx context.Context, req service.Request, deliver service.Deliverer) service.Outcome
	AllowedModels(kind service.Kind) []string
}

// SessionResetter drops the conversations kept for a key
type SessionResetter interface {
	Reset(conversationKey string) int
}

// ImageLister returns the images saved for a user
type ImageLister interface {
	ListUserImages(ctx context.Context, discordUser string) ([]backend.ImageRecord, error)
}

// ModelLister returns the models a provider serves
type ModelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// HandlerDeps holds the collaborators of a Handler. Sessions, Images, Quoter and
// the model listers are optional; their commands are left out when nil.
type HandlerDeps struct {
	Orchestrator Orchestrator
	Sessions     SessionResetter
	Images       ImageLister
	HostedModels ModelLister
	LocalModels  ModelLister
	Quoter       service.PriceQuoter
	Fetcher      *AttachmentFetcher
	Logger       *slog.Logger
}

// Handler implements the user-facing slash commands
type Handler struct {
	orch     Orchestrator
	sessions SessionResetter
	images   ImageLister
	models   map[string]ModelLister
	quoter   service.PriceQuoter
	fetcher  *AttachmentFetcher
	logger   *slog.Logger
}

// NewHandler creates a new slash command handler
func NewHandler(deps HandlerDeps) *Handler {
	models := make(map[string]ModelLister)
	if deps.HostedModels != nil {
		models[catalogHosted] = deps.HostedModels
	}
	if deps.LocalModels != nil {
		models[catalogLocal] = deps.LocalModels
	}

	fetcher := deps.Fetcher
	if fetcher == nil {
		fetcher = NewAttachmentFetcher(nil)
	}

	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Handler{
		orch:     deps.Orchestrator,
		sessions: deps.Sessions,
		images:   deps.Images,
		models:   models,
		quoter:   deps.Quoter,
		fetcher:  fetcher,
		logger:   logger,
	}
}

// Commands returns the command table for the dispatcher
func (h *Handler) Commands() []Command {
	commands := []Command{
		{
			Definition: &discordgo.ApplicationCommand{
				Name:        "hello",
				Description: "Say hello to the bot",
			},
			Handler: h.handleHello,
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:        "ask",
				Description: "Ask the hosted AI model a question",
				Options: append([]*discordgo.ApplicationCommandOption{
					stringOption("prompt", "Your question", true),
				}, attachmentOptions()...),
			},
			Handler: h.relayHandler(service.KindAsk, "prompt"),
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:        "chat",
				Description: "Chat with a local model. The conversation is remembered until /reset",
				Options: append([]*discordgo.ApplicationCommandOption{
					stringOption("prompt", "Your message", true),
					h.modelOption(service.KindChat),
				}, attachmentOptions()...),
			},
			Handler: h.relayHandler(service.KindChat, "prompt"),
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:        "recipe",
				Description: "Get a recipe for the ingredients you have",
				Options: []*discordgo.ApplicationCommandOption{
					stringOption("ingredients", "Comma separated ingredients", true),
				},
			},
			Handler: h.relayHandler(service.KindRecipe, "ingredients"),
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:        "image",
				Description: "Generate an image from a description",
				Options: []*discordgo.ApplicationCommandOption{
					stringOption("prompt", "What the image should show", true),
				},
			},
			Handler: h.relayHandler(service.KindImage, "prompt"),
		},
		{
			Definition: &discordgo.ApplicationCommand{
				Name:        "tts",
				Description: "Turn text into speech",
				Options: []*discordgo.ApplicationCommandOption{
					stringOption("text", "The text to speak", true),
				},
			},
			Handler: h.relayHandler(service.KindSpeech, "text"),
		},
	}

	if h.images != nil {
		commands = append(commands, Command{
			Definition: &discordgo.ApplicationCommand{
				Name:        "myimages",
				Description: "List the images you generated",
			},
			Handler: h.handleMyImages,
		})
	}

	if len(h.models) > 0 {
		choices := make([]*discordgo.ApplicationCommandOptionChoice, 0, len(h.models))
		for _, name := range []string{catalogHosted, catalogLocal} {
			if _, ok := h.models[name]; ok {
				choices = append(choices, &discordgo.ApplicationCommandOptionChoice{Name: name, Value: name})
			}
		}
		commands = append(commands, Command{
			Definition: &discordgo.ApplicationCommand{
				Name:        "models",
				Description: "List the models a provider offers",
				Options: []*discordgo.ApplicationCommandOption{{
					Type:        discordgo.ApplicationCommandOptionString,
					Name:        "provider",
					Description: "Which provider to list",
					Required:    true,
					Choices:     choices,
				}},
			},
			Handler: h.handleModels,
		})
	}

	if h.quoter != nil {
		commands = append(commands, Command{
			Definition: &discordgo.ApplicationCommand{
				Name:        "crypto",
				Description: "Show the latest price of a cryptocurrency",
				Options: []*discordgo.ApplicationCommandOption{
					stringOption("symbol", "Ticker symbol, for example BTC", true),
				},
			},
			Handler: h.handleCrypto,
		})
	}

	if h.sessions != nil {
		commands = append(commands, Command{
			Definition: &discordgo.ApplicationCommand{
				Name:        "reset",
				Description: "Forget your local model conversation",
			},
			Handler: h.handleReset,
		})
	}

	return commands
}

func stringOption(name, description string, required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:        discordgo.ApplicationCommandOptionString,
		Name:        name,
		Description: description,
		Required:    required,
	}
}

// modelOption offers the route's allow-list as fixed choices
func (h *Handler) modelOption(kind service.Kind) *discordgo.ApplicationCommandOption {
	opt := stringOption("model", "Model to use", false)
	for _, model := range h.orch.AllowedModels(kind) {
		if len(opt.Choices) == maxChoices {
			break
		}
		opt.Choices = append(opt.Choices, &discordgo.ApplicationCommandOptionChoice{Name: model, Value: model})
	}
	return opt
}

func optionMap(opts []*discordgo.ApplicationCommandInteractionDataOption) map[string]*discordgo.ApplicationCommandInteractionDataOption {
	m := make(map[string]*discordgo.ApplicationCommandInteractionDataOption, len(opts))
	for _, opt := range opts {
		m[opt.Name] = opt
	}
	return m
}

func stringValue(opts map[string]*discordgo.ApplicationCommandInteractionDataOption, name string) string {
	opt, ok := opts[name]
	if !ok {
		return ""
	}
	s, _ := opt.Value.(string)
	return s
}

func userContext(i *discordgo.InteractionCreate) service.UserContext {
	user := interactionUser(i)
	if user == nil {
		return service.UserContext{}
	}
	uc := service.UserContext{
		ID:          user.ID,
		Username:    user.Username,
		DisplayName: user.GlobalName,
	}
	if i.Member != nil && i.Member.Nick != "" {
		uc.DisplayName = i.Member.Nick
	}
	return uc
}

func (h *Handler) handleHello(_ context.Context, s InteractionSession, i *discordgo.InteractionCreate) {
	user := interactionUser(i)
	if user == nil {
		return
	}
	if err := respondEphemeral(s, i.Interaction, fmt.Sprintf("Hello, %s!", user.Mention())); err != nil {
		h.logger.Error("Failed to greet user", "user_id", user.ID, "error", err)
	}
}

// relayHandler builds the handler for a command that runs through the orchestrator
func (h *Handler) relayHandler(kind service.Kind, promptOption string) CommandHandler {
	return func(ctx context.Context, s InteractionSession, i *discordgo.InteractionCreate) {
		data := i.ApplicationCommandData()
		opts := optionMap(data.Options)
		user := userContext(i)

		req := service.Request{
			Kind:   kind,
			User:   user,
			Prompt: stringValue(opts, promptOption),
			Model:  stringValue(opts, "model"),
		}
		if kind == service.KindChat {
			req.ConversationKey = user.ID
		}

		h.relay(ctx, s, i, req, resolvedAttachments(data))
	}
}

func (h *Handler) relay(ctx context.Context, s InteractionSession, i *discordgo.InteractionCreate, req service.Request, attachments []*discordgo.MessageAttachment) {
	logger := h.logger.With("kind", req.Kind, "user_id", req.User.ID)

	if err := deferResponse(s, i.Interaction, false); err != nil {
		logger.Error("Failed to defer response", "error", err)
		return
	}

	if len(attachments) > 0 {
		files, err := h.fetcher.Fetch(ctx, attachments)
		if err != nil {
			logger.Warn("Failed to fetch attachments", "error", err)
			h.editError(s, i, logger, "Request rejected", service.UserMessage(err))
			return
		}
		req.Attachments = files
	}

	outcome := h.orch.Handle(ctx, req, func(_ context.Context, reply service.Reply) error {
		return deliverReply(s, i.Interaction, req, reply)
	})

	switch outcome.State {
	case service.StateDelivered:
	case service.StateRejected:
		h.editError(s, i, logger, "Request rejected", outcome.Message)
	case service.StateFailed:
		if outcome.Message == "" {
			// The reply itself could not be sent
			return
		}
		h.editError(s, i, logger, "Something went wrong", outcome.Message)
	}
}

// deliverReply formats a pipeline reply into the deferred response
func deliverReply(s InteractionSession, i *discordgo.Interaction, req service.Request, reply service.Reply) error {
	switch {
	case reply.Speech != nil:
		return editFile(s, i, "", reply.Speech.Filename, reply.Speech.ContentType, reply.Speech.Data)
	case reply.ImageURL != "":
		return editEmbed(s, i, &discordgo.MessageEmbed{
			Title:       truncate(req.Prompt, 256),
			Image:       &discordgo.MessageEmbedImage{URL: reply.ImageURL},
			Color:       colorInfo,
			Description: fmt.Sprintf("Generated for %s", req.User.Name()),
		})
	default:
		return editText(s, i, fmt.Sprintf("***Answer for %s:***\n\n%s", req.User.Name(), reply.Text))
	}
}

func (h *Handler) editError(s InteractionSession, i *discordgo.InteractionCreate, logger *slog.Logger, title, message string) {
	if err := editEmbed(s, i.Interaction, errorEmbed(title, message)); err != nil {
		logger.Error("Failed to send error reply", "error", err)
	}
}

func (h *Handler) handleMyImages(ctx context.Context, s InteractionSession, i *discordgo.InteractionCreate) {
	user := userContext(i)
	logger := h.logger.With("command", "myimages", "user_id", user.ID)

	if err := deferResponse(s, i.Interaction, true); err != nil {
		logger.Error("Failed to defer response", "error", err)
		return
	}

	images, err := h.images.ListUserImages(ctx, user.Username)
	if err != nil {
		logger.Error("Failed to list images", "error", err)
		h.editError(s, i, logger, "Something went wrong", "I couldn't load your images. Please try again later.")
		return
	}

	if len(images) == 0 {
		if err := editText(s, i.Interaction, "You have no saved images yet. Try /image."); err != nil {
			logger.Error("Failed to send reply", "error", err)
		}
		return
	}

	var b strings.Builder
	shown := images[:min(len(images), maxListedImages)]
	for n, img := range shown {
		fmt.Fprintf(&b, "%d. [%s](%s)\n", n+1, truncate(img.Prompt, 80), img.ImageURL)
	}
	if len(images) > len(shown) {
		fmt.Fprintf(&b, "\n…and %d more", len(images)-len(shown))
	}

	embed := &discordgo.MessageEmbed{
		Title:       fmt.Sprintf("Images for %s", user.Name()),
		Description: truncate(b.String(), 4096),
		Color:       colorInfo,
	}
	if err := editEmbed(s, i.Interaction, embed); err != nil {
		logger.Error("Failed to send reply", "error", err)
	}
}

func (h *Handler) handleModels(ctx context.Context, s InteractionSession, i *discordgo.InteractionCreate) {
	provider := stringValue(optionMap(i.ApplicationCommandData().Options), "provider")
	logger := h.logger.With("command", "models", "provider", provider)

	lister, ok := h.models[provider]
	if !ok {
		if err := respondEphemeral(s, i.Interaction, fmt.Sprintf("Unknown provider %q.", provider)); err != nil {
			logger.Error("Failed to send reply", "error", err)
		}
		return
	}

	if err := deferResponse(s, i.Interaction, true); err != nil {
		logger.Error("Failed to defer response", "error", err)
		return
	}

	models, err := lister.ListModels(ctx)
	if err != nil {
		logger.Error("Failed to list models", "error", err)
		h.editError(s, i, logger, "Something went wrong", service.UserMessage(err))
		return
	}

	content := fmt.Sprintf("No models available from the %s provider.", provider)
	if len(models) > 0 {
		content = fmt.Sprintf("**Models (%s):**\n%s", provider, "• "+strings.Join(models, "\n• "))
	}
	if err := editText(s, i.Interaction, content); err != nil {
		logger.Error("Failed to send reply", "error", err)
	}
}

func (h *Handler) handleCrypto(ctx context.Context, s InteractionSession, i *discordgo.InteractionCreate) {
	symbol := stringValue(optionMap(i.ApplicationCommandData().Options), "symbol")
	logger := h.logger.With("command", "crypto", "symbol", symbol)

	if err := deferResponse(s, i.Interaction, false); err != nil {
		logger.Error("Failed to defer response", "error", err)
		return
	}

	quote, err := h.quoter.Quote(ctx, symbol)
	if err != nil {
		var validationErr *service.ValidationError
		if errors.As(err, &validationErr) {
			logger.Warn("Quote rejected", "error", err)
		} else {
			logger.Error("Failed to fetch quote", "error", err)
		}
		h.editError(s, i, logger, "Quote unavailable", service.UserMessage(err))
		return
	}

	if err := editText(s, i.Interaction, quote.Format()); err != nil {
		logger.Error("Failed to send reply", "error", err)
	}
}

func (h *Handler) handleReset(_ context.Context, s InteractionSession, i *discordgo.InteractionCreate) {
	user := userContext(i)
	dropped := h.sessions.Reset(user.ID)
	h.logger.Info("Conversations reset", "user_id", user.ID, "dropped", dropped)

	content := "There was no conversation to forget."
	if dropped > 0 {
		content = "Your conversation has been forgotten."
	}
	if err := respondEphemeral(s, i.Interaction, content); err != nil {
		h.logger.Error("Failed to send reply", "user_id", user.ID, "error", err)
	}
}
