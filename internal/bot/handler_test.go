package bot

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-relay-bot/internal/backend"
	"ai-relay-bot/internal/service"
)

// MockOrchestrator delivers a canned reply, or returns a canned outcome when set
type MockOrchestrator struct {
	mu       sync.Mutex
	requests []service.Request
	reply    service.Reply
	outcome  service.Outcome
	allowed  []string
}

func (m *MockOrchestrator) Handle(ctx context.Context, req service.Request, deliver service.Deliverer) service.Outcome {
	m.mu.Lock()
	m.requests = append(m.requests, req)
	m.mu.Unlock()

	if m.outcome.State != "" {
		return m.outcome
	}
	if err := deliver(ctx, m.reply); err != nil {
		return service.Outcome{State: service.StateFailed, Err: err}
	}
	return service.Outcome{State: service.StateDelivered, Reply: m.reply}
}

func (m *MockOrchestrator) AllowedModels(service.Kind) []string {
	return m.allowed
}

func (m *MockOrchestrator) lastRequest(t *testing.T) service.Request {
	t.Helper()
	m.mu.Lock()
	defer m.mu.Unlock()
	require.NotEmpty(t, m.requests)
	return m.requests[len(m.requests)-1]
}

type MockResetter struct {
	keys    []string
	dropped int
}

func (m *MockResetter) Reset(conversationKey string) int {
	m.keys = append(m.keys, conversationKey)
	return m.dropped
}

type MockImageLister struct {
	user   string
	images []backend.ImageRecord
	err    error
}

func (m *MockImageLister) ListUserImages(_ context.Context, discordUser string) ([]backend.ImageRecord, error) {
	m.user = discordUser
	return m.images, m.err
}

type MockModelLister struct {
	models []string
	err    error
}

func (m *MockModelLister) ListModels(context.Context) ([]string, error) {
	return m.models, m.err
}

type MockQuoter struct {
	symbol string
	quote  *service.Quote
	err    error
}

func (m *MockQuoter) Quote(_ context.Context, symbol string) (*service.Quote, error) {
	m.symbol = symbol
	return m.quote, m.err
}

func newTestHandler(orch *MockOrchestrator) *Handler {
	return NewHandler(HandlerDeps{Orchestrator: orch, Logger: testLogger()})
}

func runCommand(t *testing.T, h *Handler, i *discordgo.InteractionCreate) *MockInteractionSession {
	t.Helper()
	s := &MockInteractionSession{}
	NewDispatcher(context.Background(), h.Commands(), nil, testLogger()).Dispatch(s, i)
	return s
}

func commandNames(commands []Command) []string {
	names := make([]string, 0, len(commands))
	for _, c := range commands {
		names = append(names, c.Definition.Name)
	}
	return names
}

func TestHandler_Commands(t *testing.T) {
	t.Run("Core commands only", func(t *testing.T) {
		h := newTestHandler(&MockOrchestrator{})
		assert.Equal(t, []string{"hello", "ask", "chat", "recipe", "image", "tts"}, commandNames(h.Commands()))
	})

	t.Run("Optional commands", func(t *testing.T) {
		h := NewHandler(HandlerDeps{
			Orchestrator: &MockOrchestrator{},
			Sessions:     &MockResetter{},
			Images:       &MockImageLister{},
			HostedModels: &MockModelLister{},
			Quoter:       &MockQuoter{},
			Logger:       testLogger(),
		})
		assert.Equal(t,
			[]string{"hello", "ask", "chat", "recipe", "image", "tts", "myimages", "models", "crypto", "reset"},
			commandNames(h.Commands()))
	})
}

func TestHandler_ChatModelChoices(t *testing.T) {
	var allowed []string
	for n := 0; n < 30; n++ {
		allowed = append(allowed, fmt.Sprintf("model-%d", n))
	}
	h := newTestHandler(&MockOrchestrator{allowed: allowed})

	var chat *discordgo.ApplicationCommand
	for _, c := range h.Commands() {
		if c.Definition.Name == "chat" {
			chat = c.Definition
		}
	}
	require.NotNil(t, chat)

	model := chat.Options[1]
	assert.Equal(t, "model", model.Name)
	assert.False(t, model.Required)
	require.Len(t, model.Choices, maxChoices)
	assert.Equal(t, "model-0", model.Choices[0].Value)
	// prompt, model and five image slots
	assert.Len(t, chat.Options, 7)
}

func TestHandler_Hello(t *testing.T) {
	s := runCommand(t, newTestHandler(&MockOrchestrator{}), commandInteraction("hello"))

	require.Len(t, s.responses, 1)
	assert.Equal(t, "Hello, <@user-1>!", s.responses[0].Data.Content)
	assert.Equal(t, discordgo.MessageFlagsEphemeral, s.responses[0].Data.Flags)
}

func TestHandler_AskDelivered(t *testing.T) {
	orch := &MockOrchestrator{reply: service.Reply{Text: "Paris."}}

	s := runCommand(t, newTestHandler(orch), commandInteraction("ask", stringOpt("prompt", "Capital of France?")))

	require.Len(t, s.responses, 1)
	assert.Equal(t, discordgo.InteractionResponseDeferredChannelMessageWithSource, s.responses[0].Type)

	req := orch.lastRequest(t)
	assert.Equal(t, service.KindAsk, req.Kind)
	assert.Equal(t, "Capital of France?", req.Prompt)
	assert.Equal(t, service.UserContext{ID: "user-1", Username: "alice", DisplayName: "Alice"}, req.User)
	assert.Empty(t, req.ConversationKey)

	assert.Equal(t, "***Answer for Alice:***\n\nParis.", s.lastEditContent())
}

func TestHandler_LongAnswerIsSplit(t *testing.T) {
	orch := &MockOrchestrator{reply: service.Reply{Text: strings.Repeat("word ", 900)}}

	s := runCommand(t, newTestHandler(orch), commandInteraction("ask", stringOpt("prompt", "Tell me a story")))

	require.Len(t, s.edits, 1)
	assert.NotEmpty(t, s.followups)
}

func TestHandler_ChatUsesConversationKeyAndModel(t *testing.T) {
	orch := &MockOrchestrator{reply: service.Reply{Text: "hi"}}
	i := commandInteraction("chat", stringOpt("prompt", "hello"), stringOpt("model", "llama3"))
	i.Member.Nick = "Ali"

	runCommand(t, newTestHandler(orch), i)

	req := orch.lastRequest(t)
	assert.Equal(t, service.KindChat, req.Kind)
	assert.Equal(t, "user-1", req.ConversationKey)
	assert.Equal(t, "llama3", req.Model)
	assert.Equal(t, "Ali", req.User.DisplayName)
}

func TestHandler_RecipeAndSpeechPromptOptions(t *testing.T) {
	orch := &MockOrchestrator{reply: service.Reply{Text: "Omelette"}}
	h := newTestHandler(orch)

	runCommand(t, h, commandInteraction("recipe", stringOpt("ingredients", "eggs, cheese")))
	req := orch.lastRequest(t)
	assert.Equal(t, service.KindRecipe, req.Kind)
	assert.Equal(t, "eggs, cheese", req.Prompt)

	orch.reply = service.Reply{Speech: &service.Speech{Data: []byte("mp3"), ContentType: "audio/mpeg", Filename: "speech.mp3"}}
	s := runCommand(t, h, commandInteraction("tts", stringOpt("text", "good morning")))
	req = orch.lastRequest(t)
	assert.Equal(t, service.KindSpeech, req.Kind)
	assert.Equal(t, "good morning", req.Prompt)

	require.Len(t, s.edits, 1)
	require.Len(t, s.edits[0].Files, 1)
	assert.Equal(t, "speech.mp3", s.edits[0].Files[0].Name)
	assert.Equal(t, "audio/mpeg", s.edits[0].Files[0].ContentType)
	assert.Equal(t, [][]byte{[]byte("mp3")}, s.editFiles)
}

func TestHandler_ImageDeliveredAsEmbed(t *testing.T) {
	orch := &MockOrchestrator{reply: service.Reply{ImageURL: "https://img.example/cat.png"}}

	s := runCommand(t, newTestHandler(orch), commandInteraction("image", stringOpt("prompt", "a cat")))

	embed := s.lastEditEmbed()
	require.NotNil(t, embed)
	assert.Equal(t, "a cat", embed.Title)
	assert.Equal(t, "https://img.example/cat.png", embed.Image.URL)
}

func TestHandler_NonDeliveredOutcomes(t *testing.T) {
	testCases := []struct {
		name      string
		outcome   service.Outcome
		wantTitle string
	}{
		{
			name:      "Rejected",
			outcome:   service.Outcome{State: service.StateRejected, Message: "Your request was flagged."},
			wantTitle: "Request rejected",
		},
		{
			name:      "Failed",
			outcome:   service.Outcome{State: service.StateFailed, Message: "I couldn't connect to OpenAI."},
			wantTitle: "Something went wrong",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			orch := &MockOrchestrator{outcome: tc.outcome}

			s := runCommand(t, newTestHandler(orch), commandInteraction("ask", stringOpt("prompt", "hi")))

			embed := s.lastEditEmbed()
			require.NotNil(t, embed)
			assert.Equal(t, tc.wantTitle, embed.Title)
			assert.Equal(t, tc.outcome.Message, embed.Description)
			assert.Equal(t, colorError, embed.Color)
		})
	}
}

func TestHandler_DeliveryFailureSendsNothingElse(t *testing.T) {
	orch := &MockOrchestrator{outcome: service.Outcome{State: service.StateFailed, Err: errDiscord}}

	s := runCommand(t, newTestHandler(orch), commandInteraction("ask", stringOpt("prompt", "hi")))

	assert.Len(t, s.responses, 1)
	assert.Empty(t, s.edits)
}

func TestHandler_DeferFailureStops(t *testing.T) {
	orch := &MockOrchestrator{}
	s := &MockInteractionSession{respondErr: errDiscord}

	NewDispatcher(context.Background(), newTestHandler(orch).Commands(), nil, testLogger()).
		Dispatch(s, commandInteraction("ask", stringOpt("prompt", "hi")))

	assert.Empty(t, orch.requests)
}

func attachmentInteraction(t *testing.T, attachments ...*discordgo.MessageAttachment) *discordgo.InteractionCreate {
	t.Helper()
	opts := []*discordgo.ApplicationCommandInteractionDataOption{stringOpt("prompt", "what is this?")}
	resolved := &discordgo.ApplicationCommandInteractionDataResolved{
		Attachments: make(map[string]*discordgo.MessageAttachment),
	}
	for n, a := range attachments {
		resolved.Attachments[a.ID] = a
		opts = append(opts, &discordgo.ApplicationCommandInteractionDataOption{
			Name:  attachmentOptionNames[n],
			Type:  discordgo.ApplicationCommandOptionAttachment,
			Value: a.ID,
		})
	}

	i := commandInteraction("ask", opts...)
	data := i.Data.(discordgo.ApplicationCommandInteractionData)
	data.Resolved = resolved
	i.Data = data
	return i
}

func TestHandler_DownloadsAttachments(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		fmt.Fprintf(w, "png:%s", r.URL.Path)
	}))
	defer server.Close()

	orch := &MockOrchestrator{reply: service.Reply{Text: "A cat."}}
	h := NewHandler(HandlerDeps{
		Orchestrator: orch,
		Fetcher:      NewAttachmentFetcher(server.Client()),
		Logger:       testLogger(),
	})

	runCommand(t, h, attachmentInteraction(t,
		&discordgo.MessageAttachment{ID: "a1", Filename: "one.png", ContentType: "image/png", URL: server.URL + "/one"},
		&discordgo.MessageAttachment{ID: "a2", Filename: "two.png", ContentType: "image/png", URL: server.URL + "/two"},
	))

	req := orch.lastRequest(t)
	require.Len(t, req.Attachments, 2)
	assert.Equal(t, "one.png", req.Attachments[0].Filename)
	assert.Equal(t, []byte("png:/one"), req.Attachments[0].Data)
	assert.Equal(t, []byte("png:/two"), req.Attachments[1].Data)
}

func TestHandler_RejectsNonImageAttachment(t *testing.T) {
	orch := &MockOrchestrator{}

	s := runCommand(t, newTestHandler(orch), attachmentInteraction(t,
		&discordgo.MessageAttachment{ID: "a1", Filename: "notes.pdf", ContentType: "application/pdf", URL: "http://unused"},
	))

	assert.Empty(t, orch.requests)
	embed := s.lastEditEmbed()
	require.NotNil(t, embed)
	assert.Equal(t, "Attachment notes.pdf is not an image.", embed.Description)
}

func TestAttachmentFetcher_Failures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer server.Close()

	_, err := NewAttachmentFetcher(server.Client()).Fetch(context.Background(), []*discordgo.MessageAttachment{
		{Filename: "gone.png", ContentType: "image/png", URL: server.URL + "/gone"},
	})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "gone.png")
	assert.Contains(t, err.Error(), "404")
}

func TestAttachmentFetcher_LimitsCount(t *testing.T) {
	var mu sync.Mutex
	var hits int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		hits++
		mu.Unlock()
		w.Write([]byte("img"))
	}))
	defer server.Close()

	var attachments []*discordgo.MessageAttachment
	for n := 0; n < 7; n++ {
		attachments = append(attachments, &discordgo.MessageAttachment{
			Filename:    fmt.Sprintf("%d.png", n),
			ContentType: "image/png",
			URL:         server.URL,
		})
	}

	files, err := NewAttachmentFetcher(server.Client()).Fetch(context.Background(), attachments)

	require.NoError(t, err)
	assert.Len(t, files, service.MaxAttachments)
	assert.Equal(t, service.MaxAttachments, hits)
}

func TestHandler_MyImages(t *testing.T) {
	testCases := []struct {
		name        string
		lister      *MockImageLister
		wantContent string
		wantEmbed   string
	}{
		{
			name:        "No images",
			lister:      &MockImageLister{},
			wantContent: "You have no saved images yet. Try /image.",
		},
		{
			name: "Lists images",
			lister: &MockImageLister{images: []backend.ImageRecord{
				{DiscordUser: "alice", ImageURL: "https://img.example/1.png", Prompt: "a cat"},
			}},
			wantEmbed: "1. [a cat](https://img.example/1.png)",
		},
		{
			name:      "Backend failure",
			lister:    &MockImageLister{err: errors.New("backend down")},
			wantEmbed: "I couldn't load your images. Please try again later.",
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			h := NewHandler(HandlerDeps{Orchestrator: &MockOrchestrator{}, Images: tc.lister, Logger: testLogger()})

			s := runCommand(t, h, commandInteraction("myimages"))

			assert.Equal(t, "alice", tc.lister.user)
			assert.Equal(t, discordgo.MessageFlagsEphemeral, s.responses[0].Data.Flags)
			if tc.wantContent != "" {
				assert.Equal(t, tc.wantContent, s.lastEditContent())
			}
			if tc.wantEmbed != "" {
				embed := s.lastEditEmbed()
				require.NotNil(t, embed)
				assert.Contains(t, embed.Description, tc.wantEmbed)
			}
		})
	}
}

func TestHandler_Models(t *testing.T) {
	h := NewHandler(HandlerDeps{
		Orchestrator: &MockOrchestrator{},
		HostedModels: &MockModelLister{models: []string{"gpt-4o", "gpt-4o-mini"}},
		LocalModels:  &MockModelLister{err: &service.ConnectionError{Provider: service.ProviderLocal, Err: errors.New("refused")}},
		Logger:       testLogger(),
	})

	s := runCommand(t, h, commandInteraction("models", stringOpt("provider", "hosted")))
	assert.Equal(t, "**Models (hosted):**\n• gpt-4o\n• gpt-4o-mini", s.lastEditContent())

	s = runCommand(t, h, commandInteraction("models", stringOpt("provider", "local")))
	embed := s.lastEditEmbed()
	require.NotNil(t, embed)
	assert.Contains(t, embed.Description, "couldn't connect")

	s = runCommand(t, h, commandInteraction("models", stringOpt("provider", "other")))
	require.Len(t, s.responses, 1)
	assert.Equal(t, `Unknown provider "other".`, s.responses[0].Data.Content)
}

func TestHandler_Crypto(t *testing.T) {
	quote := &service.Quote{
		Symbol:           "BTC",
		Name:             "Bitcoin",
		Price:            decimal.RequireFromString("64000.5"),
		PercentChange24h: decimal.RequireFromString("1.25"),
		MarketCap:        decimal.RequireFromString("1260000000000"),
	}

	t.Run("Quote", func(t *testing.T) {
		quoter := &MockQuoter{quote: quote}
		h := NewHandler(HandlerDeps{Orchestrator: &MockOrchestrator{}, Quoter: quoter, Logger: testLogger()})

		s := runCommand(t, h, commandInteraction("crypto", stringOpt("symbol", "btc")))

		assert.Equal(t, "btc", quoter.symbol)
		assert.Equal(t, quote.Format(), s.lastEditContent())
	})

	t.Run("Unknown symbol", func(t *testing.T) {
		quoter := &MockQuoter{err: &service.ValidationError{Reason: "unknown symbol XYZ"}}
		h := NewHandler(HandlerDeps{Orchestrator: &MockOrchestrator{}, Quoter: quoter, Logger: testLogger()})

		s := runCommand(t, h, commandInteraction("crypto", stringOpt("symbol", "xyz")))

		embed := s.lastEditEmbed()
		require.NotNil(t, embed)
		assert.Equal(t, "Quote unavailable", embed.Title)
		assert.Equal(t, "Unknown symbol XYZ.", embed.Description)
	})
}

func TestHandler_Reset(t *testing.T) {
	testCases := []struct {
		name    string
		dropped int
		want    string
	}{
		{"Conversation dropped", 2, "Your conversation has been forgotten."},
		{"Nothing to drop", 0, "There was no conversation to forget."},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			resetter := &MockResetter{dropped: tc.dropped}
			h := NewHandler(HandlerDeps{Orchestrator: &MockOrchestrator{}, Sessions: resetter, Logger: testLogger()})

			s := runCommand(t, h, commandInteraction("reset"))

			assert.Equal(t, []string{"user-1"}, resetter.keys)
			require.Len(t, s.responses, 1)
			assert.Equal(t, tc.want, s.responses[0].Data.Content)
		})
	}
}
