package bot

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// BotSession defines the interface for Discord bot session operations
type BotSession interface {
	IsTokenValid() error
	UpdatePresence(status discordgo.Status, activity *discordgo.Activity) error
}

// Session owns the Discord gateway connection
type Session struct {
	logger         *slog.Logger
	token          string
	discordSession *discordgo.Session
}

// NewSession creates a new Discord bot session
func NewSession(token string, logger *slog.Logger) *Session {
	return &Session{
		logger: logger,
		token:  strings.TrimSpace(token),
	}
}

// IsTokenValid performs a format check on the bot token before connecting
func (s *Session) IsTokenValid() error {
	if s.token == "" {
		return fmt.Errorf("bot token is empty")
	}

	if len(s.token) < 50 {
		return fmt.Errorf("token appears to be too short (expected at least 50 characters)")
	}

	parts := strings.Split(s.token, ".")
	if len(parts) != 3 {
		return fmt.Errorf("token format appears invalid (expected 3 dot-separated parts)")
	}

	if len(parts[0]) < 15 || len(parts[1]) < 5 || len(parts[2]) < 20 {
		return fmt.Errorf("token format appears invalid (parts too short)")
	}

	return nil
}

// Open connects to the gateway and routes interactions to the dispatcher
func (s *Session) Open(dispatcher *Dispatcher) error {
	dg, err := discordgo.New("Bot " + s.token)
	if err != nil {
		return fmt.Errorf("failed to create Discord session: %w", err)
	}

	dg.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
		s.logger.Info("Bot is ready",
			"username", r.User.Username,
			"user_id", r.User.ID,
			"guilds", len(r.Guilds))
	})
	dg.AddHandler(dispatcher.HandleInteraction)

	// Slash commands need no privileged intents
	dg.Identify.Intents = discordgo.IntentsGuilds

	if err := dg.Open(); err != nil {
		return fmt.Errorf("failed to open Discord connection: %w", err)
	}

	s.discordSession = dg
	return nil
}

// RegisterCommands overwrites the application's commands with defs. An empty
// guildID registers them globally.
func (s *Session) RegisterCommands(guildID string, defs []*discordgo.ApplicationCommand) (int, error) {
	if s.discordSession == nil || s.discordSession.State == nil || s.discordSession.State.User == nil {
		return 0, fmt.Errorf("discord session not initialized")
	}

	registered, err := s.discordSession.ApplicationCommandBulkOverwrite(s.discordSession.State.User.ID, guildID, defs)
	if err != nil {
		return 0, fmt.Errorf("failed to register commands: %w", err)
	}

	s.logger.Info("Slash commands registered", "guild_id", guildID, "count", len(registered))
	return len(registered), nil
}

// Discord returns the underlying discordgo session, nil before Open
func (s *Session) Discord() *discordgo.Session {
	return s.discordSession
}

// Close disconnects from the gateway
func (s *Session) Close() error {
	if s.discordSession == nil {
		return nil
	}
	return s.discordSession.Close()
}

// UpdatePresence updates the bot's Discord presence status and activity
func (s *Session) UpdatePresence(status discordgo.Status, activity *discordgo.Activity) error {
	if s.discordSession == nil {
		return fmt.Errorf("discord session not initialized")
	}

	var activities []*discordgo.Activity
	if activity != nil {
		activities = []*discordgo.Activity{activity}
	}

	err := s.discordSession.UpdateStatusComplex(discordgo.UpdateStatusData{
		Status:     string(status),
		Activities: activities,
	})
	if err != nil {
		return fmt.Errorf("failed to update Discord presence: %w", err)
	}

	s.logger.Debug("Discord presence updated", "status", status)
	return nil
}
