package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Role is the author of a chat message
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// PartType identifies the kind of a content part
type PartType string

const (
	PartText     PartType = "text"
	PartImageURL PartType = "image_url"
)

// ImageURL references an image by URL or data URI
type ImageURL struct {
	URL string `json:"url"`
}

// ContentPart is one typed element of a multi-part message
type ContentPart struct {
	Type     PartType  `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

// ChatMessage is a single message of a conversation. Content holds plain
// text; Parts is set instead when the message carries typed parts.
type ChatMessage struct {
	Role    Role
	Content string
	Parts   []ContentPart
}

// IsMultipart reports whether the message is expressed as typed parts
func (m ChatMessage) IsMultipart() bool {
	return len(m.Parts) > 0
}

// Text returns the textual content of the message, joining text parts with
// newlines for multi-part messages.
func (m ChatMessage) Text() string {
	if !m.IsMultipart() {
		return m.Content
	}
	texts := make([]string, 0, len(m.Parts))
	for _, p := range m.Parts {
		if p.Type == PartText && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}

// Validate checks the role and that the message carries some content
func (m ChatMessage) Validate() error {
	switch m.Role {
	case RoleUser, RoleAssistant, RoleSystem:
	default:
		return fmt.Errorf("invalid role %q", m.Role)
	}

	if !m.IsMultipart() {
		if strings.TrimSpace(m.Content) == "" {
			return errors.New("message content is empty")
		}
		return nil
	}

	for i, p := range m.Parts {
		switch p.Type {
		case PartText:
		case PartImageURL:
			if p.ImageURL == nil || p.ImageURL.URL == "" {
				return fmt.Errorf("part %d: image_url is missing a url", i)
			}
		default:
			return fmt.Errorf("part %d: unsupported type %q", i, p.Type)
		}
	}
	return nil
}

type wireMessage struct {
	Role    Role            `json:"role"`
	Content json.RawMessage `json:"content"`
}

// MarshalJSON encodes content as a string or as an array of parts, the way
// chat-completions APIs expect it.
func (m ChatMessage) MarshalJSON() ([]byte, error) {
	var content any = m.Content
	if m.IsMultipart() {
		content = m.Parts
	}
	raw, err := json.Marshal(content)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireMessage{Role: m.Role, Content: raw})
}

// UnmarshalJSON accepts content as either a string or an array of parts
func (m *ChatMessage) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}

	m.Role = w.Role
	m.Content = ""
	m.Parts = nil

	raw := bytes.TrimSpace(w.Content)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil
	}
	if raw[0] == '[' {
		return json.Unmarshal(raw, &m.Parts)
	}
	return json.Unmarshal(raw, &m.Content)
}

// Completion is the primary message of an upstream chat completion
type Completion struct {
	ID            string
	Model         string // model the request was sent to
	UpstreamModel string // model name reported by the upstream, if any
	Role          Role
	Content       string
	Refusal       string
}

// ChatCompleter executes a single chat completion against one model.
type ChatCompleter interface {
	ChatCompletion(ctx context.Context, model string, messages []ChatMessage) (*Completion, error)
}

// ModelLister lists the upstream's model catalog.
type ModelLister interface {
	ListModels(ctx context.Context) ([]RemoteModel, error)
}

// RemoteModel is one entry of the upstream model list
type RemoteModel struct {
	ID            string                   `json:"id"`
	Name          string                   `json:"name"`
	Created       int64                    `json:"created"`
	Description   string                   `json:"description,omitempty"`
	ContextLength int                      `json:"context_length,omitempty"`
	Pricing       *RemoteModelPricing      `json:"pricing,omitempty"`
	Architecture  *RemoteModelArchitecture `json:"architecture,omitempty"`
}

// RemoteModelPricing holds per-token prices as reported, in USD strings
type RemoteModelPricing struct {
	Prompt     string `json:"prompt"`
	Completion string `json:"completion"`
}

// RemoteModelArchitecture describes a model's modalities
type RemoteModelArchitecture struct {
	InputModalities  []string `json:"input_modalities,omitempty"`
	OutputModalities []string `json:"output_modalities,omitempty"`
	Tokenizer        string   `json:"tokenizer,omitempty"`
}
