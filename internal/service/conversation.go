package service

import (
	"encoding/base64"
	"slices"
)

// MaxAttachments caps the number of images forwarded with a single prompt
const MaxAttachments = 5

// Roles used in conversation turns
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// Attachment is a raw image payload supplied with a prompt
type Attachment struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Base64 encodes the payload for inline transport
func (a Attachment) Base64() string {
	return base64.StdEncoding.EncodeToString(a.Data)
}

// LimitAttachments returns at most MaxAttachments items, silently dropping the rest
func LimitAttachments(attachments []Attachment) []Attachment {
	if len(attachments) > MaxAttachments {
		return attachments[:MaxAttachments]
	}
	return attachments
}

// PartType distinguishes the kinds of content inside a turn
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ContentPart is either text or an inline base64 image
type ContentPart struct {
	Type  PartType
	Text  string
	Image string // base64, no data URI prefix
}

// Turn is one role-tagged entry of a conversation
type Turn struct {
	Role  string
	Parts []ContentPart
}

// NewTurn builds a turn holding the text followed by one image part per attachment
func NewTurn(role, text string, attachments []Attachment) Turn {
	attachments = LimitAttachments(attachments)

	parts := make([]ContentPart, 0, len(attachments)+1)
	parts = append(parts, ContentPart{Type: PartText, Text: text})
	for _, a := range attachments {
		parts = append(parts, ContentPart{Type: PartImage, Image: a.Base64()})
	}

	return Turn{Role: role, Parts: parts}
}

// Text concatenates the text parts of the turn
func (t Turn) Text() string {
	var text string
	for _, p := range t.Parts {
		if p.Type == PartText {
			text += p.Text
		}
	}
	return text
}

// Images returns the base64 image parts of the turn
func (t Turn) Images() []string {
	var images []string
	for _, p := range t.Parts {
		if p.Type == PartImage {
			images = append(images, p.Image)
		}
	}
	return images
}

// Conversation is an append-only, ordered log of turns owned by a single client
type Conversation struct {
	turns []Turn
}

// Append adds a turn to the end of the conversation
func (c *Conversation) Append(turn Turn) {
	c.turns = append(c.turns, turn)
}

// Turns returns a copy of the conversation history
func (c *Conversation) Turns() []Turn {
	return slices.Clone(c.turns)
}

// Len returns the number of turns
func (c *Conversation) Len() int {
	return len(c.turns)
}

// truncate drops turns back to n. Used only to undo an unanswered user turn.
func (c *Conversation) truncate(n int) {
	if n < len(c.turns) {
		c.turns = c.turns[:n]
	}
}
