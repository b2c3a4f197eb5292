// Package chat owns the per-contact conversation logs.
//
// A [Store] keeps one ordered message log per contact, persists the whole
// map under [store.KeyConversations] on every change, and runs the dispatch
// of user text to the completion service: a single in-flight send per
// store, with backend failures turned into one explanatory assistant message.
package chat

import (
	"time"
	"unicode/utf8"
)

// TimestampLayout is the ISO-8601 form used for message timestamps.
const TimestampLayout = "2006-01-02T15:04:05.000Z07:00"

// Message is one entry of a conversation log.
//
// A message with a non-nil CorrectedText can be toggled between its
// OriginalText and CorrectedText; Text always holds the one on display.
type Message struct {
	ID                 int64   `json:"id"`
	Text               string  `json:"text"`
	IsUser             bool    `json:"isUser"`
	Timestamp          string  `json:"timestamp"`
	OriginalText       *string `json:"originalText"`
	CorrectedText      *string `json:"correctedText"`
	IsShowingCorrected bool    `json:"isShowingCorrected"`
}

// Correctable reports whether the message offers a correction toggle.
func (m Message) Correctable() bool { return m.CorrectedText != nil }

// Time parses Timestamp. The zero time is returned for malformed values.
func (m Message) Time() time.Time {
	t, err := time.Parse(time.RFC3339Nano, m.Timestamp)
	if err != nil {
		return time.Time{}
	}
	return t
}

// NoMessagesPreview is the preview of an empty conversation.
const NoMessagesPreview = "No messages yet"

const defaultPreviewLength = 30

// preview truncates text to n runes, marking truncation with "...".
func preview(text string, n int) string {
	if utf8.RuneCountInString(text) <= n {
		return text
	}
	return string([]rune(text)[:n]) + "..."
}
