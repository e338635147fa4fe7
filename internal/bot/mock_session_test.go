package bot

import (
	"errors"
	"io"
	"sync"

	"github.com/bwmarrin/discordgo"
)

// MockInteractionSession records every interaction call
type MockInteractionSession struct {
	mu             sync.Mutex
	responses      []*discordgo.InteractionResponse
	edits          []*discordgo.WebhookEdit
	editFiles      [][]byte
	followups      []*discordgo.WebhookParams
	overwrites     [][]*discordgo.ApplicationCommand
	overwriteGuild string

	respondErr   error
	editErr      error
	overwriteErr error
}

func (m *MockInteractionSession) InteractionRespond(_ *discordgo.Interaction, resp *discordgo.InteractionResponse, _ ...discordgo.RequestOption) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses = append(m.responses, resp)
	return m.respondErr
}

func (m *MockInteractionSession) InteractionResponseEdit(_ *discordgo.Interaction, edit *discordgo.WebhookEdit, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edits = append(m.edits, edit)
	for _, f := range edit.Files {
		data, _ := io.ReadAll(f.Reader)
		m.editFiles = append(m.editFiles, data)
	}
	if m.editErr != nil {
		return nil, m.editErr
	}
	return &discordgo.Message{}, nil
}

func (m *MockInteractionSession) FollowupMessageCreate(_ *discordgo.Interaction, _ bool, params *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.followups = append(m.followups, params)
	return &discordgo.Message{}, nil
}

func (m *MockInteractionSession) ApplicationCommandBulkOverwrite(_ string, guildID string, commands []*discordgo.ApplicationCommand, _ ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overwrites = append(m.overwrites, commands)
	m.overwriteGuild = guildID
	if m.overwriteErr != nil {
		return nil, m.overwriteErr
	}
	return commands, nil
}

// lastEditContent returns the content of the most recent response edit
func (m *MockInteractionSession) lastEditContent() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.edits) == 0 || m.edits[len(m.edits)-1].Content == nil {
		return ""
	}
	return *m.edits[len(m.edits)-1].Content
}

// lastEditEmbed returns the first embed of the most recent response edit
func (m *MockInteractionSession) lastEditEmbed() *discordgo.MessageEmbed {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.edits) == 0 {
		return nil
	}
	last := m.edits[len(m.edits)-1]
	if last.Embeds == nil || len(*last.Embeds) == 0 {
		return nil
	}
	return (*last.Embeds)[0]
}

var errDiscord = errors.New("discord unavailable")

// commandInteraction builds a slash command interaction invoked by a guild member
func commandInteraction(name string, options ...*discordgo.ApplicationCommandInteractionDataOption) *discordgo.InteractionCreate {
	return &discordgo.InteractionCreate{Interaction: &discordgo.Interaction{
		ID:      "interaction-1",
		AppID:   "app-1",
		Type:    discordgo.InteractionApplicationCommand,
		GuildID: "guild-1",
		Member: &discordgo.Member{
			User: &discordgo.User{ID: "user-1", Username: "alice", GlobalName: "Alice"},
		},
		Data: discordgo.ApplicationCommandInteractionData{
			Name:    name,
			Options: options,
		},
	}}
}

func stringOpt(name, value string) *discordgo.ApplicationCommandInteractionDataOption {
	return &discordgo.ApplicationCommandInteractionDataOption{
		Name:  name,
		Type:  discordgo.ApplicationCommandOptionString,
		Value: value,
	}
}
