package completion

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bytedance/sonic"

	"github.com/MrWong99/speakingmate/internal/observe"
	"github.com/MrWong99/speakingmate/pkg/provider/llm"
)

const (
	defaultHistoryLimit = 10

	// Summaries used when analysis cannot produce a model-written one.
	SummaryNoUserMessages   = "No user messages found in this conversation."
	SummaryUnexpectedFormat = "Analysis completed but response format was unexpected."
)

type params struct {
	maxTokens   int
	temperature float64
	penalty     float64
}

var (
	respondParams = params{maxTokens: 300, temperature: 0.7, penalty: 0.1}
	suggestParams = params{maxTokens: 50, temperature: 0.8, penalty: 0.2}
	grammarParams = params{maxTokens: 150, temperature: 0.1}
	analyzeParams = params{maxTokens: 800, temperature: 0.2}
)

// Option configures an [LLMService].
type Option func(*LLMService)

// WithHistoryLimit bounds how many prior turns are sent with respond and
// suggest requests. Zero or negative sends the full history. Default: 10.
func WithHistoryLimit(n int) Option {
	return func(s *LLMService) { s.historyLimit = n }
}

// WithMetrics sets the metrics sink. Default: [observe.DefaultMetrics].
func WithMetrics(m *observe.Metrics) Option {
	return func(s *LLMService) { s.metrics = m }
}

// LLMService implements [Service] over an [llm.Provider]. It is safe for
// concurrent use.
type LLMService struct {
	llm          llm.Provider
	historyLimit int
	metrics      *observe.Metrics
}

var _ Service = (*LLMService)(nil)

// NewLLMService returns an [LLMService] backed by provider.
func NewLLMService(provider llm.Provider, opts ...Option) *LLMService {
	s := &LLMService{
		llm:          provider,
		historyLimit: defaultHistoryLimit,
	}
	for _, o := range opts {
		o(s)
	}
	if s.metrics == nil {
		s.metrics = observe.DefaultMetrics()
	}
	return s
}

// Respond answers text in the voice of the character described by
// personality, given the conversation so far.
func (s *LLMService) Respond(ctx context.Context, text string, history []Turn, personality string) (string, error) {
	msgs := append(s.historyMessages(history), llm.Message{Role: llm.RoleUser, Content: text})
	return s.complete(ctx, OpRespond, llm.CompletionRequest{
		SystemPrompt: partnerPrompt(personality, respondGuidelines),
		Messages:     msgs,
	}, respondParams)
}

// Suggest proposes a reply the user could send next.
func (s *LLMService) Suggest(ctx context.Context, history []Turn, personality string) (string, error) {
	msgs := s.historyMessages(history)
	if len(msgs) == 0 {
		// Models reject an empty message list; give the suggestion a seed.
		msgs = []llm.Message{{Role: llm.RoleUser, Content: "(The conversation has not started yet.)"}}
	}
	return s.complete(ctx, OpSuggest, llm.CompletionRequest{
		SystemPrompt: partnerPrompt(personality, suggestGuidelines),
		Messages:     msgs,
	}, suggestParams)
}

// CorrectGrammar asks the model for a punctuated and a corrected version of
// text. Failures are logged and absorbed.
func (s *LLMService) CorrectGrammar(ctx context.Context, text string) Correction {
	reply, err := s.complete(ctx, OpGrammar, llm.CompletionRequest{
		SystemPrompt: grammarPrompt,
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: text}},
	}, grammarParams)
	if err != nil {
		observe.Logger(ctx).Warn("grammar correction failed, keeping original text", "err", err)
		return Correction{Original: text}
	}
	return parseCorrection(reply, text)
}

// parseCorrection splits "original # corrected". A reply without "#" means
// only punctuation changed.
func parseCorrection(reply, text string) Correction {
	before, after, found := strings.Cut(reply, "#")
	if !found {
		if reply == "" {
			return Correction{Original: text}
		}
		return Correction{Original: reply}
	}
	original := strings.TrimSpace(before)
	if original == "" {
		original = text
	}
	corrected := strings.TrimSpace(after)
	if corrected == "" {
		return Correction{Original: original}
	}
	return Correction{Original: original, Corrected: &corrected}
}

// Analyze reviews the user's side of a conversation. With no user messages
// it returns an empty analysis without calling the model. A reply that is not
// the expected JSON yields an empty-errors analysis rather than an error.
func (s *LLMService) Analyze(ctx context.Context, userMessages []string, contactName, date string) (Analysis, error) {
	info := ConversationInfo{ContactName: contactName, Date: date, TotalUserMessages: len(userMessages)}
	if len(userMessages) == 0 {
		return Analysis{ConversationInfo: info, Errors: []LanguageError{}, Summary: SummaryNoUserMessages}, nil
	}

	req := llm.CompletionRequest{
		SystemPrompt: analyzePrompt(contactName, date, len(userMessages)),
		Messages:     []llm.Message{{Role: llm.RoleUser, Content: analyzeUserMessage(userMessages)}},
	}
	if s.llm.Capabilities().SupportsJSONMode {
		req.Format = llm.FormatJSON
	}
	reply, err := s.complete(ctx, OpAnalyze, req, analyzeParams)
	if err != nil {
		return Analysis{}, err
	}

	a, err := parseAnalysis(reply)
	if err != nil {
		perr := &Error{Kind: KindAnalysisParseFailure, Op: OpAnalyze, Err: err}
		observe.Logger(ctx).Warn("unexpected analysis format", "contact", contactName, "err", perr)
		s.metrics.RecordCompletionError(ctx, OpAnalyze, KindAnalysisParseFailure.String())
		return Analysis{ConversationInfo: info, Errors: []LanguageError{}, Summary: SummaryUnexpectedFormat}, nil
	}
	a.ConversationInfo = info
	if a.Errors == nil {
		a.Errors = []LanguageError{}
	}
	return a, nil
}

func parseAnalysis(content string) (Analysis, error) {
	var a Analysis
	if err := sonic.UnmarshalString(stripMarkdown(content), &a); err != nil {
		return Analysis{}, fmt.Errorf("parse analysis: %w", err)
	}
	return a, nil
}

// stripMarkdown removes a ```json fence some models wrap around JSON output.
func stripMarkdown(s string) string {
	s = strings.TrimSpace(s)
	for _, prefix := range []string{"```json", "```"} {
		if after, ok := strings.CutPrefix(s, prefix); ok {
			s = after
			break
		}
	}
	if before, ok := strings.CutSuffix(s, "```"); ok {
		s = before
	}
	return strings.TrimSpace(s)
}

func (s *LLMService) historyMessages(history []Turn) []llm.Message {
	if s.historyLimit > 0 && len(history) > s.historyLimit {
		history = history[len(history)-s.historyLimit:]
	}
	msgs := make([]llm.Message, 0, len(history)+1)
	for _, t := range history {
		role := llm.RoleAssistant
		if t.IsUser {
			role = llm.RoleUser
		}
		msgs = append(msgs, llm.Message{Role: role, Content: t.Text})
	}
	return msgs
}

// complete runs one traced, measured model call and returns the trimmed
// reply. Failures are returned as *Error.
func (s *LLMService) complete(ctx context.Context, op string, req llm.CompletionRequest, p params) (string, error) {
	ctx, span := observe.StartSpan(ctx, "completion."+op)
	defer span.End()

	req.MaxTokens = p.maxTokens
	req.Temperature = p.temperature
	req.PresencePenalty = p.penalty
	req.FrequencyPenalty = p.penalty

	start := time.Now()
	resp, err := s.llm.Complete(ctx, req)
	elapsed := time.Since(start).Seconds()

	if err == nil && (resp == nil || strings.TrimSpace(resp.Content) == "") {
		err = fmt.Errorf("%w: empty reply", llm.ErrUnavailable)
	}
	if err != nil {
		cerr := wrap(op, err)
		span.RecordError(cerr)
		s.metrics.RecordCompletion(ctx, op, elapsed, cerr.Kind.String())
		return "", cerr
	}
	s.metrics.RecordCompletion(ctx, op, elapsed, "")
	return strings.TrimSpace(resp.Content), nil
}
