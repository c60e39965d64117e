package telegram

import (
	"strings"
	"time"
)

// Payload kinds for discovered audio messages.
const (
	KindVoice = "voice"
	KindAudio = "audio"
)

// Update is one getUpdates entry.
type Update struct {
	UpdateID      int64    `json:"update_id"`
	Message       *Message `json:"message"`
	ChannelPost   *Message `json:"channel_post"`
	EditedMessage *Message `json:"edited_message"`
}

// payload returns the message carried by the update, regular messages
// taking precedence over channel posts and edits.
func (u *Update) payload() *Message {
	switch {
	case u.Message != nil:
		return u.Message
	case u.ChannelPost != nil:
		return u.ChannelPost
	case u.EditedMessage != nil:
		return u.EditedMessage
	}
	return nil
}

// Message is the slice of the Bot API message object the pipeline reads.
type Message struct {
	Date          int64   `json:"date"`
	Chat          Chat    `json:"chat"`
	From          *User   `json:"from"`
	ForwardFrom   *User   `json:"forward_from"`
	ForwardOrigin *Origin `json:"forward_origin"`
	SenderChat    *Chat   `json:"sender_chat"`
	Voice         *Audio  `json:"voice"`
	Audio         *Audio  `json:"audio"`
}

// Chat identifies a chat or channel.
type Chat struct {
	ID    int64  `json:"id"`
	Title string `json:"title"`
}

// User identifies a sender.
type User struct {
	FirstName string `json:"first_name"`
}

// Origin describes where a forwarded message came from.
type Origin struct {
	Type       string `json:"type"`
	SenderUser *User  `json:"sender_user"`
}

// Audio is the shared shape of voice and audio attachments.
type Audio struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
	MimeType string `json:"mime_type"`
}

// VoiceMessage is one discovered audio payload, flattened for the
// pipeline.
type VoiceMessage struct {
	UpdateID    int64
	FileID      string
	Duration    int
	Date        time.Time
	FromUser    string
	Kind        string
	MimeType    string
	IsForwarded bool
}

// Suffix picks the temp-file extension for the payload's mime type.
func (v *VoiceMessage) Suffix() string {
	mime := strings.ToLower(v.MimeType)
	switch {
	case strings.Contains(mime, "ogg"):
		return ".ogg"
	case strings.Contains(mime, "mpeg"), strings.Contains(mime, "mp3"):
		return ".mp3"
	case strings.Contains(mime, "mp4"), strings.Contains(mime, "m4a"):
		return ".m4a"
	case strings.Contains(mime, "wav"):
		return ".wav"
	}
	return ".ogg"
}

// senderName walks the sender fields in precedence order: direct sender,
// forward source, forward origin user, then posting channel.
func senderName(m *Message) string {
	switch {
	case m.From != nil:
		return nameOrUnknown(m.From.FirstName)
	case m.ForwardFrom != nil:
		return nameOrUnknown(m.ForwardFrom.FirstName)
	case m.ForwardOrigin != nil:
		if m.ForwardOrigin.Type == "user" && m.ForwardOrigin.SenderUser != nil {
			return nameOrUnknown(m.ForwardOrigin.SenderUser.FirstName)
		}
		return "Unknown"
	case m.SenderChat != nil:
		if m.SenderChat.Title != "" {
			return m.SenderChat.Title
		}
		return "Channel"
	}
	return "Unknown"
}

func nameOrUnknown(name string) string {
	if name == "" {
		return "Unknown"
	}
	return name
}
