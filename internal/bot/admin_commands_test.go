package bot

import (
	"context"
	"errors"
	"testing"

	"github.com/bwmarrin/discordgo"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ai-relay-bot/internal/storage"
)

type MockFailureLister struct {
	writes []*storage.FailedWrite
	limit  int
	err    error
}

func (m *MockFailureLister) ListFailedWrites(_ context.Context, limit int) ([]*storage.FailedWrite, error) {
	m.limit = limit
	if m.err != nil {
		return nil, m.err
	}
	return m.writes[:min(limit, len(m.writes))], nil
}

func (m *MockFailureLister) CountFailedWrites(context.Context) (int, error) {
	return len(m.writes), m.err
}

func testDefinitions() []*discordgo.ApplicationCommand {
	return []*discordgo.ApplicationCommand{{Name: "hello"}, {Name: "ask"}}
}

func runAdminCommand(ac *AdminCommands, i *discordgo.InteractionCreate, s *MockInteractionSession) {
	NewDispatcher(context.Background(), ac.Commands(), staticAdmin("user-1"), testLogger()).Dispatch(s, i)
}

func TestAdminCommands_Commands(t *testing.T) {
	withoutStore := NewAdminCommands(nil, "", testDefinitions, testLogger())
	assert.Equal(t, []string{"synccommands"}, commandNames(withoutStore.Commands()))

	withStore := NewAdminCommands(&MockFailureLister{}, "", testDefinitions, testLogger())
	commands := withStore.Commands()
	assert.Equal(t, []string{"synccommands", "auditfailures"}, commandNames(commands))
	for _, c := range commands {
		assert.True(t, c.AdminOnly, c.Definition.Name)
	}
}

func TestAdminCommands_SyncCommands(t *testing.T) {
	testCases := []struct {
		name        string
		guildID     string
		err         error
		wantGuild   string
		wantContent string
	}{
		{"Interaction guild", "", nil, "guild-1", "✅ Synced 2 commands."},
		{"Configured guild", "guild-9", nil, "guild-9", "✅ Synced 2 commands."},
		{"Discord error", "", errDiscord, "guild-1", "❌ Failed to sync commands: discord unavailable"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			s := &MockInteractionSession{overwriteErr: tc.err}

			runAdminCommand(NewAdminCommands(nil, tc.guildID, testDefinitions, testLogger()), commandInteraction("synccommands"), s)

			require.Len(t, s.overwrites, 1)
			assert.Len(t, s.overwrites[0], 2)
			assert.Equal(t, tc.wantGuild, s.overwriteGuild)
			assert.Equal(t, tc.wantContent, s.lastEditContent())
		})
	}
}

func TestAdminCommands_RefusedForOthers(t *testing.T) {
	s := &MockInteractionSession{}
	i := commandInteraction("synccommands")
	i.Member.User.ID = "intruder"

	runAdminCommand(NewAdminCommands(nil, "", testDefinitions, testLogger()), i, s)

	assert.Empty(t, s.overwrites)
}

func TestAdminCommands_AuditFailures(t *testing.T) {
	writes := []*storage.FailedWrite{
		{ID: "0b5c9f7e-1111-2222-3333-444455556666", Resource: "images", DiscordUser: "alice", Error: "backend returned 500", CreatedAt: 1700000000},
		{ID: "short", Resource: "completion", DiscordUser: "bob", Error: "connection refused", CreatedAt: 1690000000},
	}

	t.Run("Report", func(t *testing.T) {
		lister := &MockFailureLister{writes: writes}
		s := &MockInteractionSession{}

		runAdminCommand(NewAdminCommands(lister, "", testDefinitions, testLogger()), commandInteraction("auditfailures"), s)

		assert.Equal(t, defaultAuditLimit, lister.limit)
		content := s.lastEditContent()
		assert.Contains(t, content, "showing 2 of 2")
		assert.Contains(t, content, "`0b5c9f7e` **images** for alice at 2023-11-14T22:13:20Z: backend returned 500")
		assert.Contains(t, content, "`short` **completion** for bob")
	})

	t.Run("Limit option", func(t *testing.T) {
		lister := &MockFailureLister{writes: writes}
		i := commandInteraction("auditfailures", &discordgo.ApplicationCommandInteractionDataOption{
			Name:  "limit",
			Type:  discordgo.ApplicationCommandOptionInteger,
			Value: float64(1),
		})
		s := &MockInteractionSession{}

		runAdminCommand(NewAdminCommands(lister, "", testDefinitions, testLogger()), i, s)

		assert.Equal(t, 1, lister.limit)
		assert.Contains(t, s.lastEditContent(), "showing 1 of 2")
	})

	t.Run("Empty", func(t *testing.T) {
		s := &MockInteractionSession{}

		runAdminCommand(NewAdminCommands(&MockFailureLister{}, "", testDefinitions, testLogger()), commandInteraction("auditfailures"), s)

		assert.Equal(t, "✅ No failed writes recorded.", s.lastEditContent())
	})

	t.Run("Store error", func(t *testing.T) {
		s := &MockInteractionSession{}
		lister := &MockFailureLister{err: errors.New("database is locked")}

		runAdminCommand(NewAdminCommands(lister, "", testDefinitions, testLogger()), commandInteraction("auditfailures"), s)

		assert.Equal(t, "❌ Failed to read the failure log.", s.lastEditContent())
	})
}
