package bot

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/bwmarrin/discordgo"

	"ai-relay-bot/internal/service"
)

// maxAttachmentBytes caps a single downloaded image
const maxAttachmentBytes = 20 << 20

// attachmentOptionNames are the image slots offered by commands that accept images
var attachmentOptionNames = []string{"image1", "image2", "image3", "image4", "image5"}

// attachmentOptions builds the optional image slots for a command definition
func attachmentOptions() []*discordgo.ApplicationCommandOption {
	opts := make([]*discordgo.ApplicationCommandOption, 0, len(attachmentOptionNames))
	for n, name := range attachmentOptionNames {
		opts = append(opts, &discordgo.ApplicationCommandOption{
			Type:        discordgo.ApplicationCommandOptionAttachment,
			Name:        name,
			Description: fmt.Sprintf("Image %d to include with the prompt", n+1),
		})
	}
	return opts
}

// resolvedAttachments returns the images attached through the image options, in slot order
func resolvedAttachments(data discordgo.ApplicationCommandInteractionData) []*discordgo.MessageAttachment {
	if data.Resolved == nil || len(data.Resolved.Attachments) == 0 {
		return nil
	}

	opts := optionMap(data.Options)
	var attachments []*discordgo.MessageAttachment
	for _, name := range attachmentOptionNames {
		opt, ok := opts[name]
		if !ok {
			continue
		}
		id, _ := opt.Value.(string)
		if a, ok := data.Resolved.Attachments[id]; ok {
			attachments = append(attachments, a)
		}
	}
	return attachments
}

// AttachmentFetcher downloads attachment payloads from Discord's CDN
type AttachmentFetcher struct {
	client *http.Client
}

// NewAttachmentFetcher creates a new AttachmentFetcher
func NewAttachmentFetcher(client *http.Client) *AttachmentFetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &AttachmentFetcher{client: client}
}

// Fetch downloads every attachment. Non-image attachments are rejected.
func (f *AttachmentFetcher) Fetch(ctx context.Context, attachments []*discordgo.MessageAttachment) ([]service.Attachment, error) {
	attachments = attachments[:min(len(attachments), service.MaxAttachments)]

	out := make([]service.Attachment, 0, len(attachments))
	for _, a := range attachments {
		if a.ContentType != "" && !strings.HasPrefix(a.ContentType, "image/") {
			return nil, &service.ValidationError{Reason: fmt.Sprintf("attachment %s is not an image", a.Filename)}
		}

		data, err := f.download(ctx, a.URL)
		if err != nil {
			return nil, fmt.Errorf("download attachment %s: %w", a.Filename, err)
		}

		out = append(out, service.Attachment{
			Filename:    a.Filename,
			ContentType: a.ContentType,
			Data:        data,
		})
	}
	return out, nil
}

func (f *AttachmentFetcher) download(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAttachmentBytes+1))
	if err != nil {
		return nil, err
	}
	if len(data) > maxAttachmentBytes {
		return nil, &service.ValidationError{Reason: "attachment is larger than 20 MB"}
	}
	return data, nil
}
