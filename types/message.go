// Package types provides core types used across the aifallback module.
// This package has ZERO dependencies on other aifallback packages to avoid circular imports.
package types

import "strings"

// Role represents the role of a message participant.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// PartType 内容片段类型
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// ContentPart 是消息内容中的一个有序片段。
// 图片既可以是 http(s) URL，也可以是 data URL。
type ContentPart struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	ImageURL string   `json:"image_url,omitempty"`
}

// TextPart creates a text content part.
func TextPart(text string) ContentPart {
	return ContentPart{Type: PartText, Text: text}
}

// ImagePart creates an image content part.
func ImagePart(url string) ContentPart {
	return ContentPart{Type: PartImage, ImageURL: url}
}

// Message represents a conversation message.
type Message struct {
	Role    Role          `json:"role"`
	Content []ContentPart `json:"content"`
}

// NewMessage creates a message with a single text part.
func NewMessage(role Role, text string) Message {
	return Message{Role: role, Content: []ContentPart{TextPart(text)}}
}

// NewUserMessage creates a new user message.
func NewUserMessage(text string) Message {
	return NewMessage(RoleUser, text)
}

// NewAssistantMessage creates a new assistant message.
func NewAssistantMessage(text string) Message {
	return NewMessage(RoleAssistant, text)
}

// Text 拼接消息中的全部文本片段。
func (m Message) Text() string {
	var sb strings.Builder
	for _, p := range m.Content {
		if p.Type == PartText {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// Images 返回消息中的图片 URL，保持原有顺序。
func (m Message) Images() []string {
	var urls []string
	for _, p := range m.Content {
		if p.Type == PartImage && p.ImageURL != "" {
			urls = append(urls, p.ImageURL)
		}
	}
	return urls
}

// HasImages reports whether the message carries any image part.
func (m Message) HasImages() bool {
	return len(m.Images()) > 0
}
