package tts

// VoiceProfile selects the voice a contact's replies are read in.
type VoiceProfile struct {
	// ID is the provider's voice identifier and is required for synthesis.
	ID   string
	Name string

	// Provider names the backend the voice belongs to, e.g. "elevenlabs".
	Provider string

	// SpeedFactor scales the speaking rate; 1 is normal and 0 leaves the
	// provider default. Learners get a slightly slower default from the
	// playback service.
	SpeedFactor float64

	// Metadata carries provider-specific labels such as a voice category.
	Metadata map[string]string
}
