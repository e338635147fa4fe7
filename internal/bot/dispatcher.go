package bot

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/bwmarrin/discordgo"
)

// interactionTimeout stays under the 15 minute lifetime of an interaction token
const interactionTimeout = 14 * time.Minute

// CommandHandler answers one slash command invocation
type CommandHandler func(ctx context.Context, s InteractionSession, i *discordgo.InteractionCreate)

// Command binds a slash command definition to its handler
type Command struct {
	Definition *discordgo.ApplicationCommand
	Handler    CommandHandler
	// AdminOnly commands are refused for everyone but the configured admin
	AdminOnly bool
}

// AdminChecker decides whether a user may run admin commands
type AdminChecker interface {
	IsAdmin(userID string) bool
}

// Dispatcher routes interactions through an explicit command table
type Dispatcher struct {
	ctx      context.Context
	commands map[string]Command
	order    []string
	admin    AdminChecker
	logger   *slog.Logger
}

// NewDispatcher creates a new dispatcher. ctx bounds every handler and is
// cancelled on shutdown.
func NewDispatcher(ctx context.Context, commands []Command, admin AdminChecker, logger *slog.Logger) *Dispatcher {
	d := &Dispatcher{
		ctx:      ctx,
		commands: make(map[string]Command, len(commands)),
		admin:    admin,
		logger:   logger,
	}
	for _, cmd := range commands {
		name := cmd.Definition.Name
		if _, dup := d.commands[name]; !dup {
			d.order = append(d.order, name)
		}
		d.commands[name] = cmd
	}
	return d
}

// Definitions returns the command definitions in registration order
func (d *Dispatcher) Definitions() []*discordgo.ApplicationCommand {
	defs := make([]*discordgo.ApplicationCommand, 0, len(d.order))
	for _, name := range d.order {
		defs = append(defs, d.commands[name].Definition)
	}
	return defs
}

// HandleInteraction is the discordgo event handler for InteractionCreate
func (d *Dispatcher) HandleInteraction(s *discordgo.Session, i *discordgo.InteractionCreate) {
	d.Dispatch(s, i)
}

// Dispatch runs the handler registered for the invoked command
func (d *Dispatcher) Dispatch(s InteractionSession, i *discordgo.InteractionCreate) {
	if i.Type != discordgo.InteractionApplicationCommand {
		return
	}

	data := i.ApplicationCommandData()
	user := interactionUser(i)
	userID := ""
	if user != nil {
		userID = user.ID
	}

	logger := d.logger.With("command", data.Name, "user_id", userID, "guild_id", i.GuildID)

	cmd, ok := d.commands[data.Name]
	if !ok {
		logger.Warn("Unknown command")
		if err := respondEphemeral(s, i.Interaction, "Unknown command."); err != nil {
			logger.Error("Failed to respond to unknown command", "error", err)
		}
		return
	}

	if cmd.AdminOnly && (d.admin == nil || !d.admin.IsAdmin(userID)) {
		logger.Warn("Admin command refused")
		if err := respondEphemeral(s, i.Interaction, "You are not allowed to use this command"); err != nil {
			logger.Error("Failed to send refusal", "error", err)
		}
		return
	}

	ctx, cancel := context.WithTimeout(d.ctx, interactionTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			logger.Error("Command handler panicked",
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()))
		}
	}()

	logger.Debug("Dispatching command")
	cmd.Handler(ctx, s, i)
}

// interactionUser returns the invoking user in guilds and DMs alike
func interactionUser(i *discordgo.InteractionCreate) *discordgo.User {
	if i.Member != nil && i.Member.User != nil {
		return i.Member.User
	}
	return i.User
}
