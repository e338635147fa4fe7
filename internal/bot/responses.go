package bot

import (
	"bytes"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// MessageLimit is Discord's maximum message length in characters
const MessageLimit = 2000

// Embed colours
const (
	colorError = 0xE74C3C
	colorInfo  = 0x3498DB
)

// InteractionSession is the subset of *discordgo.Session used to answer interactions
type InteractionSession interface {
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	InteractionResponseEdit(interaction *discordgo.Interaction, newresp *discordgo.WebhookEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	FollowupMessageCreate(interaction *discordgo.Interaction, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ApplicationCommandBulkOverwrite(appID string, guildID string, commands []*discordgo.ApplicationCommand, options ...discordgo.RequestOption) ([]*discordgo.ApplicationCommand, error)
}

// splitMessage breaks content into chunks of at most limit characters, preferring
// line breaks and then spaces in the second half of each chunk
func splitMessage(content string, limit int) []string {
	runes := []rune(content)
	var chunks []string

	for len(runes) > limit {
		cut := limit
		if idx := lastIndexRune(runes[:limit], '\n'); idx >= limit/2 {
			cut = idx + 1
		} else if idx := lastIndexRune(runes[:limit], ' '); idx >= limit/2 {
			cut = idx + 1
		}

		// A window of nothing but whitespace would become an empty message
		if chunk := strings.TrimRight(string(runes[:cut]), " \n"); chunk != "" {
			chunks = append(chunks, chunk)
		}
		runes = runes[cut:]
	}

	if strings.TrimSpace(string(runes)) != "" || len(chunks) == 0 {
		chunks = append(chunks, string(runes))
	}
	return chunks
}

func lastIndexRune(runes []rune, r rune) int {
	for i := len(runes) - 1; i >= 0; i-- {
		if runes[i] == r {
			return i
		}
	}
	return -1
}

// errorEmbed renders a failure for the user
func errorEmbed(title, description string) *discordgo.MessageEmbed {
	return &discordgo.MessageEmbed{
		Title:       title,
		Description: truncate(description, 4096),
		Color:       colorError,
	}
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit-1]) + "…"
}

// respondEphemeral answers immediately with a message only the caller can see
func respondEphemeral(s InteractionSession, i *discordgo.Interaction, content string) error {
	return s.InteractionRespond(i, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseChannelMessageWithSource,
		Data: &discordgo.InteractionResponseData{
			Content: content,
			Flags:   discordgo.MessageFlagsEphemeral,
		},
	})
}

// deferResponse acknowledges the interaction so the bot has up to 15 minutes to answer
func deferResponse(s InteractionSession, i *discordgo.Interaction, ephemeral bool) error {
	resp := &discordgo.InteractionResponse{Type: discordgo.InteractionResponseDeferredChannelMessageWithSource}
	if ephemeral {
		resp.Data = &discordgo.InteractionResponseData{Flags: discordgo.MessageFlagsEphemeral}
	}
	return s.InteractionRespond(i, resp)
}

// editText replaces the deferred response with content, sending overflow as follow-ups
func editText(s InteractionSession, i *discordgo.Interaction, content string) error {
	chunks := splitMessage(content, MessageLimit)

	first := chunks[0]
	if _, err := s.InteractionResponseEdit(i, &discordgo.WebhookEdit{Content: &first}); err != nil {
		return err
	}

	for _, chunk := range chunks[1:] {
		if _, err := s.FollowupMessageCreate(i, true, &discordgo.WebhookParams{Content: chunk}); err != nil {
			return err
		}
	}
	return nil
}

// editEmbed replaces the deferred response with a single embed
func editEmbed(s InteractionSession, i *discordgo.Interaction, embed *discordgo.MessageEmbed) error {
	empty := ""
	_, err := s.InteractionResponseEdit(i, &discordgo.WebhookEdit{
		Content: &empty,
		Embeds:  &[]*discordgo.MessageEmbed{embed},
	})
	return err
}

// editFile replaces the deferred response with a message carrying one file
func editFile(s InteractionSession, i *discordgo.Interaction, content, name, contentType string, data []byte) error {
	_, err := s.InteractionResponseEdit(i, &discordgo.WebhookEdit{
		Content: &content,
		Files: []*discordgo.File{{
			Name:        name,
			ContentType: contentType,
			Reader:      bytes.NewReader(data),
		}},
	})
	return err
}
