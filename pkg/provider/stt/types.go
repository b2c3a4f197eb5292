package stt

// Transcript is one recognition result. Interim results arrive on
// [SessionHandle.Partials] and may be revised; finals on
// [SessionHandle.Finals] never are.
type Transcript struct {
	Text    string
	IsFinal bool

	// Confidence in [0, 1]; zero when the provider does not say.
	Confidence float64
}
