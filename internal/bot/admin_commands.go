package bot

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"

	"ai-relay-bot/internal/storage"
)

// Bounds for /auditfailures
const (
	defaultAuditLimit = 10
	maxAuditLimit     = 25
)

// FailureLister reads the failed persistence writes kept for audit
type FailureLister interface {
	ListFailedWrites(ctx context.Context, limit int) ([]*storage.FailedWrite, error)
	CountFailedWrites(ctx context.Context) (int, error)
}

// AdminCommands handles the admin-only slash commands
type AdminCommands struct {
	failures    FailureLister
	guildID     string
	definitions func() []*discordgo.ApplicationCommand
	logger      *slog.Logger
}

// NewAdminCommands creates a new admin commands handler. failures may be nil,
// in which case /auditfailures is not offered. definitions supplies the command
// table that /synccommands registers.
func NewAdminCommands(failures FailureLister, guildID string, definitions func() []*discordgo.ApplicationCommand, logger *slog.Logger) *AdminCommands {
	return &AdminCommands{
		failures:    failures,
		guildID:     guildID,
		definitions: definitions,
		logger:      logger,
	}
}

// Commands returns the admin command table
func (ac *AdminCommands) Commands() []Command {
	commands := []Command{{
		Definition: &discordgo.ApplicationCommand{
			Name:        "synccommands",
			Description: "Register the bot's slash commands with Discord",
		},
		Handler:   ac.handleSyncCommands,
		AdminOnly: true,
	}}

	if ac.failures != nil {
		minLimit := 1.0
		commands = append(commands, Command{
			Definition: &discordgo.ApplicationCommand{
				Name:        "auditfailures",
				Description: "Show recent persistence writes that failed",
				Options: []*discordgo.ApplicationCommandOption{{
					Type:        discordgo.ApplicationCommandOptionInteger,
					Name:        "limit",
					Description: "How many failures to show",
					MinValue:    &minLimit,
					MaxValue:    maxAuditLimit,
				}},
			},
			Handler:   ac.handleAuditFailures,
			AdminOnly: true,
		})
	}

	return commands
}

// handleSyncCommands overwrites the registered commands with the current table
func (ac *AdminCommands) handleSyncCommands(_ context.Context, s InteractionSession, i *discordgo.InteractionCreate) {
	if err := deferResponse(s, i.Interaction, true); err != nil {
		ac.logger.Error("Failed to defer response", "error", err)
		return
	}

	guildID := ac.guildID
	if guildID == "" {
		guildID = i.GuildID
	}

	registered, err := s.ApplicationCommandBulkOverwrite(i.AppID, guildID, ac.definitions())

	content := fmt.Sprintf("✅ Synced %d commands.", len(registered))
	if err != nil {
		ac.logger.Error("Failed to sync commands", "guild_id", guildID, "error", err)
		content = fmt.Sprintf("❌ Failed to sync commands: %v", err)
	} else {
		ac.logger.Info("Commands synced", "guild_id", guildID, "count", len(registered))
	}

	if err := editText(s, i.Interaction, content); err != nil {
		ac.logger.Error("Failed to send reply", "error", err)
	}
}

// handleAuditFailures lists the most recent failed writes
func (ac *AdminCommands) handleAuditFailures(ctx context.Context, s InteractionSession, i *discordgo.InteractionCreate) {
	limit := defaultAuditLimit
	if opt, ok := optionMap(i.ApplicationCommandData().Options)["limit"]; ok {
		limit = int(opt.IntValue())
	}
	limit = max(1, min(limit, maxAuditLimit))

	if err := deferResponse(s, i.Interaction, true); err != nil {
		ac.logger.Error("Failed to defer response", "error", err)
		return
	}

	content, err := ac.auditReport(ctx, limit)
	if err != nil {
		ac.logger.Error("Failed to read failed writes", "error", err)
		content = "❌ Failed to read the failure log."
	}

	if err := editText(s, i.Interaction, content); err != nil {
		ac.logger.Error("Failed to send reply", "error", err)
	}
}

func (ac *AdminCommands) auditReport(ctx context.Context, limit int) (string, error) {
	total, err := ac.failures.CountFailedWrites(ctx)
	if err != nil {
		return "", err
	}
	if total == 0 {
		return "✅ No failed writes recorded.", nil
	}

	writes, err := ac.failures.ListFailedWrites(ctx, limit)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	fmt.Fprintf(&b, "🧾 **Failed writes:** showing %d of %d\n", len(writes), total)
	for _, w := range writes {
		fmt.Fprintf(&b, "• `%s` **%s** for %s at %s: %s\n",
			w.ID[:min(len(w.ID), 8)],
			w.Resource,
			w.DiscordUser,
			time.Unix(w.CreatedAt, 0).UTC().Format(time.RFC3339),
			truncate(w.Error, 120))
	}
	return b.String(), nil
}
