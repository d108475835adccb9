// Package query answers natural-language questions over the archive:
// an intent gate routes chitchat away from retrieval, document queries
// run retrieval-augmented generation with a confidence estimate.
package query

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"lifearch/internal/activity"
	"lifearch/internal/llm"
	"lifearch/internal/metrics"
	"lifearch/internal/search"
)

// Answer methods reported to callers.
const (
	MethodDirectResponse = "direct_response"
	MethodRAG            = "llamaindex_rag"
	MethodError          = "llamaindex_error"
)

const (
	// DefaultTopK is the default context size in chunks.
	DefaultTopK = 5

	// chitchatResponse is the canned reply for greetings.
	chitchatResponse = "Hello! I'm your archive assistant. I can help you find information in your documents. Ask me about anything you've stored."

	// errorResponse is the canned reply when answering fails.
	errorResponse = "I ran into a problem while searching your documents. Please try again in a moment."

	contextSeparator = "\n\n---\n\n"

	systemPrompt = "You answer questions about the user's personal document archive. " +
		"Use only the provided context; if the context does not contain the answer, say so."
)

// Answer is the result of a question.
type Answer struct {
	Answer          string          `json:"answer"`
	Sources         []search.Result `json:"sources"`
	Method          string          `json:"method"`
	ContextUsed     string          `json:"context_used"`
	NumChunksUsed   int             `json:"num_chunks_used"`
	ConfidenceScore float64         `json:"confidence_score"`
	Statistics      map[string]any  `json:"statistics"`
}

// StreamEvent is one element of the streaming answer sequence:
// intent_check, sources, zero or more chunk events, then metadata or
// error.
type StreamEvent struct {
	Type    string          `json:"type"`
	Intent  Intent          `json:"intent,omitempty"`
	Sources []search.Result `json:"sources,omitempty"`
	Delta   string          `json:"delta,omitempty"`
	Answer  *Answer         `json:"answer,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// Engine answers questions.
type Engine struct {
	search   *search.Service
	llm      llm.Completer
	activity *activity.Log
	logger   *slog.Logger

	// includeHeaders prepends chunk provenance headers to the context.
	includeHeaders bool
}

// Option configures the Engine.
type Option func(*Engine)

// WithHeaders enables chunk provenance headers in the LLM context.
func WithHeaders(enabled bool) Option {
	return func(e *Engine) { e.includeHeaders = enabled }
}

// WithActivityLog records answered queries in the activity log.
func WithActivityLog(log *activity.Log) Option {
	return func(e *Engine) { e.activity = log }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Engine) { e.logger = logger }
}

// New creates an Engine.
func New(searcher *search.Service, completer llm.Completer, opts ...Option) *Engine {
	e := &Engine{search: searcher, llm: completer, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Ask answers a question in one shot.
func (e *Engine) Ask(ctx context.Context, question string, topK int, filters map[string]any) *Answer {
	if topK <= 0 {
		topK = DefaultTopK
	}

	if classifyIntent(question) == IntentChitchat {
		metrics.QueriesAnswered.WithLabelValues(MethodDirectResponse).Inc()
		return chitchatAnswer()
	}

	answer, err := e.documentQuery(ctx, question, topK, filters)
	if err != nil {
		e.logger.Warn("query failed", "error", err)
		metrics.QueriesAnswered.WithLabelValues(MethodError).Inc()
		return errorAnswer()
	}

	metrics.QueriesAnswered.WithLabelValues(MethodRAG).Inc()
	e.recordQuery(ctx, question, answer)
	return answer
}

// AskStream answers a question as a typed event stream. The returned
// channel closes when the sequence completes or ctx is cancelled;
// partial answers are discarded on cancellation.
func (e *Engine) AskStream(ctx context.Context, question string, topK int, filters map[string]any) <-chan StreamEvent {
	out := make(chan StreamEvent)
	if topK <= 0 {
		topK = DefaultTopK
	}

	go func() {
		defer close(out)

		intent := classifyIntent(question)
		if !send(ctx, out, StreamEvent{Type: "intent_check", Intent: intent}) {
			return
		}

		if intent == IntentChitchat {
			if !send(ctx, out, StreamEvent{Type: "sources", Sources: []search.Result{}}) {
				return
			}
			// Character-by-character for parity with generated answers.
			for _, r := range chitchatResponse {
				if !send(ctx, out, StreamEvent{Type: "chunk", Delta: string(r)}) {
					return
				}
			}
			metrics.QueriesAnswered.WithLabelValues(MethodDirectResponse).Inc()
			send(ctx, out, StreamEvent{Type: "metadata", Answer: chitchatAnswer()})
			return
		}

		sources, contextText, err := e.buildContext(ctx, question, topK, filters)
		if err != nil {
			metrics.QueriesAnswered.WithLabelValues(MethodError).Inc()
			send(ctx, out, StreamEvent{Type: "error", Error: err.Error(), Answer: errorAnswer()})
			return
		}
		if !send(ctx, out, StreamEvent{Type: "sources", Sources: sources}) {
			return
		}

		var sb strings.Builder
		err = e.llm.Stream(ctx, buildPrompt(contextText, question), llm.CompleteOptions{System: systemPrompt},
			func(delta string) error {
				sb.WriteString(delta)
				if !send(ctx, out, StreamEvent{Type: "chunk", Delta: delta}) {
					return context.Canceled
				}
				return nil
			})
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			metrics.QueriesAnswered.WithLabelValues(MethodError).Inc()
			send(ctx, out, StreamEvent{Type: "error", Error: err.Error(), Answer: errorAnswer()})
			return
		}

		answer := e.assembleAnswer(sb.String(), sources, contextText)
		metrics.QueriesAnswered.WithLabelValues(MethodRAG).Inc()
		e.recordQuery(ctx, question, answer)
		send(ctx, out, StreamEvent{Type: "metadata", Answer: answer})
	}()

	return out
}

// documentQuery runs retrieval and generation for a document question.
func (e *Engine) documentQuery(ctx context.Context, question string, topK int, filters map[string]any) (*Answer, error) {
	sources, contextText, err := e.buildContext(ctx, question, topK, filters)
	if err != nil {
		return nil, err
	}

	text, err := e.llm.Complete(ctx, buildPrompt(contextText, question), llm.CompleteOptions{System: systemPrompt})
	if err != nil {
		return nil, err
	}

	return e.assembleAnswer(text, sources, contextText), nil
}

// buildContext retrieves Q&A context chunks and joins them.
func (e *Engine) buildContext(ctx context.Context, question string, topK int, filters map[string]any) ([]search.Result, string, error) {
	sources, err := e.search.Semantic(ctx, question, topK, search.ThresholdContext, filters)
	if err != nil {
		return nil, "", err
	}

	parts := make([]string, 0, len(sources))
	for i, src := range sources {
		text := src.Text
		if e.includeHeaders {
			text = fmt.Sprintf("[Chunk %d | Doc: %s | Score: %.3f]\n%s", i+1, src.DocumentID, src.Score, text)
		}
		parts = append(parts, text)
	}
	return sources, strings.Join(parts, contextSeparator), nil
}

func (e *Engine) assembleAnswer(text string, sources []search.Result, contextText string) *Answer {
	meanScore := 0.0
	for _, s := range sources {
		meanScore += s.Score
	}
	if len(sources) > 0 {
		meanScore /= float64(len(sources))
	}

	return &Answer{
		Answer:          text,
		Sources:         sources,
		Method:          MethodRAG,
		ContextUsed:     contextText,
		NumChunksUsed:   len(sources),
		ConfidenceScore: computeConfidence(len(sources), meanScore, text, contextText),
		Statistics: map[string]any{
			"num_sources":    len(sources),
			"mean_score":     meanScore,
			"context_length": len(contextText),
			"answer_length":  len(text),
		},
	}
}

func (e *Engine) recordQuery(ctx context.Context, question string, answer *Answer) {
	if e.activity == nil {
		return
	}
	_, err := e.activity.Add(ctx, "qa_query", map[string]any{
		"question":   question,
		"method":     answer.Method,
		"confidence": answer.ConfidenceScore,
		"sources":    answer.NumChunksUsed,
	})
	if err != nil {
		e.logger.Warn("failed to record query activity", "error", err)
	}
}

func chitchatAnswer() *Answer {
	return &Answer{
		Answer:          chitchatResponse,
		Sources:         []search.Result{},
		Method:          MethodDirectResponse,
		NumChunksUsed:   0,
		ConfidenceScore: 1.0,
		Statistics:      map[string]any{},
	}
}

func errorAnswer() *Answer {
	return &Answer{
		Answer:          errorResponse,
		Sources:         []search.Result{},
		Method:          MethodError,
		ConfidenceScore: 0.0,
		Statistics:      map[string]any{},
	}
}

func buildPrompt(contextText, question string) string {
	if contextText == "" {
		return fmt.Sprintf("No documents matched the question.\n\nQuestion: %s\n\nAnswer:", question)
	}
	return fmt.Sprintf("Context:\n\n%s\n\nQuestion: %s\n\nAnswer:", contextText, question)
}

// send delivers an event unless the consumer is gone.
func send(ctx context.Context, out chan<- StreamEvent, ev StreamEvent) bool {
	select {
	case out <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
