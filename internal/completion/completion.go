// Package completion is the language-model collaborator of the conversation
// core. It answers the user as the active character, suggests a reply when
// the user asks for help, produces a punctuated and grammar-corrected version
// of a spoken utterance, and analyses a whole conversation for a report.
//
// [LLMService] is the production implementation over an [llm.Provider];
// the mock sub-package provides a test double.
package completion

import (
	"context"

	"github.com/MrWong99/speakingmate/pkg/provider/llm"
)

// Turn is one prior message of a conversation, as seen by the model.
type Turn struct {
	Text   string
	IsUser bool
}

// Correction is the result of grammar correction. Original is the text with
// punctuation completed; Corrected is nil when no grammar change was needed.
type Correction struct {
	Original  string
	Corrected *string
}

// ConversationInfo identifies the conversation an [Analysis] covers.
type ConversationInfo struct {
	ContactName       string `json:"contactName"`
	Date              string `json:"date"`
	TotalUserMessages int    `json:"totalUserMessages"`
}

// LanguageError is one learning opportunity found in a user message.
type LanguageError struct {
	MessageText      string `json:"messageText"`
	ErrorType        string `json:"errorType"`
	ErrorDescription string `json:"errorDescription"`
	Suggestion       string `json:"suggestion"`
	Explanation      string `json:"explanation"`
	Severity         string `json:"severity"`
}

// Analysis is the report-shaped result of analysing one conversation.
type Analysis struct {
	ConversationInfo ConversationInfo `json:"conversationInfo"`
	Errors           []LanguageError  `json:"errors"`
	Summary          string           `json:"summary"`
}

// Service is the contract the conversation core consumes.
//
// Respond, Suggest and Analyze fail with an [*Error] whose Kind classifies the
// failure. CorrectGrammar never fails: any internal failure yields
// Correction{Original: text}.
type Service interface {
	Respond(ctx context.Context, text string, history []Turn, personality string) (string, error)
	Suggest(ctx context.Context, history []Turn, personality string) (string, error)
	CorrectGrammar(ctx context.Context, text string) Correction
	Analyze(ctx context.Context, userMessages []string, contactName, date string) (Analysis, error)
}

// Unconfigured is a [Service] used when no language model could be built,
// typically because the API key is missing. Every fallible call fails with
// [KindConfiguration] so the conversation shows the configuration hint.
type Unconfigured struct {
	// Reason is wrapped into every returned error.
	Reason error
}

var _ Service = Unconfigured{}

func (u Unconfigured) err(op string) error {
	reason := u.Reason
	if reason == nil {
		reason = llm.ErrUnauthorized
	}
	return &Error{Kind: KindConfiguration, Op: op, Err: reason}
}

// Respond implements [Service].
func (u Unconfigured) Respond(context.Context, string, []Turn, string) (string, error) {
	return "", u.err(OpRespond)
}

// Suggest implements [Service].
func (u Unconfigured) Suggest(context.Context, []Turn, string) (string, error) {
	return "", u.err(OpSuggest)
}

// CorrectGrammar implements [Service].
func (u Unconfigured) CorrectGrammar(_ context.Context, text string) Correction {
	return Correction{Original: text}
}

// Analyze implements [Service].
func (u Unconfigured) Analyze(context.Context, []string, string, string) (Analysis, error) {
	return Analysis{}, u.err(OpAnalyze)
}
