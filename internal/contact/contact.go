// Package contact is the registry of characters the user can talk to.
//
// Built-in characters ship with the application and are never persisted.
// Characters the user creates are persisted under [store.KeyCustomContacts]
// as exactly the registry minus the built-ins. Favorites are an independent
// set of ids persisted under [store.KeyFavorites]; stale ids are tolerated.
package contact

import (
	"errors"
	"fmt"
	"strings"

	nanoid "github.com/matoous/go-nanoid/v2"
)

var (
	// ErrEmptyName is returned by Create for a contact without a name.
	ErrEmptyName = errors.New("contact: name must not be empty")

	// ErrDuplicateID is returned by Create when the id is already taken.
	ErrDuplicateID = errors.New("contact: a contact with that id already exists")
)

// ID identifies a contact across the registry, favorites and conversations.
type ID = string

// Contact is one character.
type Contact struct {
	ID          ID     `json:"id" yaml:"id"`
	Name        string `json:"name" yaml:"name"`
	Avatar      string `json:"avatar" yaml:"avatar"`
	Color       string `json:"color" yaml:"color"`
	Personality string `json:"personality" yaml:"personality"`
}

// Defaults for characters created without a chosen look.
const (
	DefaultAvatar = "🙂"
	DefaultColor  = "#607D8B"
)

// Builtins returns the characters that ship with the application.
func Builtins() []Contact {
	return []Contact{
		{ID: "koolkishan", Name: "koolkishan", Avatar: "🧑‍💻", Color: "#4CAF50",
			Personality: "A tech-savvy developer who loves coding and technology discussions."},
		{ID: "harvey", Name: "harvey", Avatar: "👨‍💼", Color: "#FF9800",
			Personality: "A professional businessman with expertise in finance and management."},
		{ID: "donna", Name: "donna", Avatar: "👩‍💼", Color: "#E91E63",
			Personality: "A creative designer who enjoys art, fashion, and creative projects."},
		{ID: "mike", Name: "mike", Avatar: "👨‍🏫", Color: "#2196F3",
			Personality: "An experienced teacher who loves education and helping others learn."},
		{ID: "robert", Name: "robert", Avatar: "👨‍⚕️", Color: "#9C27B0",
			Personality: "A medical professional with knowledge in health and wellness."},
		{ID: "jessica", Name: "jessica", Avatar: "👩‍🎨", Color: "#FF5722",
			Personality: "An artist and musician who loves creative expression and music."},
	}
}

// Draft is the character-creation form.
type Draft struct {
	Name          string `json:"name"`
	MyRole        string `json:"myRole"`
	CharacterRole string `json:"characterRole"`
	Topic         string `json:"topic"`
	Avatar        string `json:"avatar"`
	Color         string `json:"color"`
}

const idAlphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NewFromDraft builds a Contact with a fresh id and a personality rendered
// from the draft's roles and topic.
func NewFromDraft(d Draft) (Contact, error) {
	name := strings.TrimSpace(d.Name)
	if name == "" {
		return Contact{}, ErrEmptyName
	}
	id, err := nanoid.Generate(idAlphabet, 12)
	if err != nil {
		return Contact{}, fmt.Errorf("contact: generate id: %w", err)
	}
	return Contact{
		ID:          "custom_" + id,
		Name:        name,
		Avatar:      orDefault(d.Avatar, DefaultAvatar),
		Color:       orDefault(d.Color, DefaultColor),
		Personality: Personality(d.MyRole, d.CharacterRole, d.Topic),
	}, nil
}

// Personality renders the system background for a created character.
func Personality(myRole, characterRole, topic string) string {
	myRole, characterRole, topic = strings.TrimSpace(myRole), strings.TrimSpace(characterRole), strings.TrimSpace(topic)

	var sb strings.Builder
	fmt.Fprintf(&sb, "You are %s. The user's role is: %s. Focus conversations on: %s.",
		orDefault(characterRole, "a helpful assistant"),
		orDefault(myRole, "someone learning English"),
		orDefault(topic, "general English practice"))
	if characterRole != "" {
		fmt.Fprintf(&sb, " Stay in character as %s and draw from relevant knowledge and experiences.", characterRole)
	}
	if topic != "" {
		fmt.Fprintf(&sb, " Guide conversations toward topics related to %s.", topic)
	}
	return sb.String()
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s == "" {
		return def
	}
	return s
}
