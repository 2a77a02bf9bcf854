// Package assistant wraps the generative-text collaborator behind two flows:
// a space-science chatbot and a quiz answer explanation. It also serves the
// daily quiz card and the people-in-space feed.
//
// Failures never leave this package as raw upstream errors. Callers get
// ErrUnavailable, whose message tells the user to try again.
package assistant

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"text/template"
	"time"

	"github.com/star/spacecommand/internal/metrics"
)

var (
	// ErrUnavailable means the generative-text call failed or returned nothing.
	ErrUnavailable = errors.New("the assistant is unavailable right now, please try again")
	// ErrInvalidRequest means the request failed shape validation.
	ErrInvalidRequest = errors.New("invalid assistant request")
)

// MaxQuestionLen bounds free-form questions, in bytes.
const MaxQuestionLen = 2000

// Generator produces text for a system instruction and a user prompt.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
}

// ChatRequest is one chatbot question.
type ChatRequest struct {
	Question string `json:"question"`
}

// ChatResponse is the chatbot answer.
type ChatResponse struct {
	Answer string `json:"answer"`
}

// ExplainRequest asks for an explanation of a quiz answer.
type ExplainRequest struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correctAnswer"`
	UserAnswer    string   `json:"userAnswer"`
	Topic         string   `json:"topic"`
}

// ExplainResponse carries the explanation text.
type ExplainResponse struct {
	Explanation string `json:"explanation"`
}

const chatSystem = "You are an AI chatbot expert in space science."

var chatPrompt = template.Must(template.New("chat").Parse(
	`Answer the following question about space science in an informative and engaging way:

Question: {{.Question}}
`))

const explainSystem = `You are an AI space science expert integrated into the "Cosmos Command" educational game.`

var explainPrompt = template.Must(template.New("explain").Parse(
	`A user has just answered a quiz question.
Topic: {{.Topic}}
Question: "{{.Question}}"
Options Presented:
{{range .Options}}- {{.}}
{{end}}Correct Answer: "{{.CorrectAnswer}}"
User's Answer: "{{.UserAnswer}}"

Please provide a concise, engaging, and encouraging explanation.
If the user was correct, briefly reinforce why their answer is right.
If the user was incorrect, gently explain why their answer was not the best choice and why the correct answer is right.
Keep the tone friendly and educational. Aim for 2-3 sentences.

Explanation:
`))

// Service runs the assistant flows. A nil Generator makes every flow
// return ErrUnavailable.
type Service struct {
	gen     Generator
	timeout time.Duration
	logger  *slog.Logger
}

// NewService creates a service. timeout bounds each generative call.
func NewService(gen Generator, timeout time.Duration, logger *slog.Logger) *Service {
	return &Service{gen: gen, timeout: timeout, logger: logger}
}

// Enabled reports whether a generator is configured.
func (s *Service) Enabled() bool {
	return s.gen != nil
}

// Validate checks the chat request shape.
func (r ChatRequest) Validate() error {
	q := strings.TrimSpace(r.Question)
	switch {
	case q == "":
		return fmt.Errorf("%w: question is required", ErrInvalidRequest)
	case len(q) > MaxQuestionLen:
		return fmt.Errorf("%w: question exceeds %d bytes", ErrInvalidRequest, MaxQuestionLen)
	}
	return nil
}

// Validate checks the explanation request shape.
func (r ExplainRequest) Validate() error {
	switch {
	case strings.TrimSpace(r.Question) == "":
		return fmt.Errorf("%w: question is required", ErrInvalidRequest)
	case len(r.Question) > MaxQuestionLen:
		return fmt.Errorf("%w: question exceeds %d bytes", ErrInvalidRequest, MaxQuestionLen)
	case len(r.Options) < 2:
		return fmt.Errorf("%w: at least two options are required", ErrInvalidRequest)
	case strings.TrimSpace(r.CorrectAnswer) == "":
		return fmt.Errorf("%w: correctAnswer is required", ErrInvalidRequest)
	case strings.TrimSpace(r.UserAnswer) == "":
		return fmt.Errorf("%w: userAnswer is required", ErrInvalidRequest)
	case strings.TrimSpace(r.Topic) == "":
		return fmt.Errorf("%w: topic is required", ErrInvalidRequest)
	}
	for i, o := range r.Options {
		if strings.TrimSpace(o) == "" {
			return fmt.Errorf("%w: option %d is empty", ErrInvalidRequest, i)
		}
	}
	return nil
}

// Chat answers a space-science question.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	if err := req.Validate(); err != nil {
		return ChatResponse{}, err
	}
	req.Question = strings.TrimSpace(req.Question)
	text, err := s.run(ctx, "chat", chatSystem, chatPrompt, req)
	if err != nil {
		return ChatResponse{}, err
	}
	return ChatResponse{Answer: text}, nil
}

// Explain explains why the correct quiz answer is right.
func (s *Service) Explain(ctx context.Context, req ExplainRequest) (ExplainResponse, error) {
	if err := req.Validate(); err != nil {
		return ExplainResponse{}, err
	}
	text, err := s.run(ctx, "explain", explainSystem, explainPrompt, req)
	if err != nil {
		return ExplainResponse{}, err
	}
	return ExplainResponse{Explanation: text}, nil
}

func (s *Service) run(ctx context.Context, flow, system string, tmpl *template.Template, data any) (string, error) {
	if s.gen == nil {
		metrics.ObserveAssistant(flow, "disabled", 0)
		return "", ErrUnavailable
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("rendering %s prompt: %w", flow, err)
	}

	if s.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
	}

	start := time.Now()
	text, err := s.gen.Generate(ctx, system, buf.String())
	duration := time.Since(start)
	text = strings.TrimSpace(text)

	switch {
	case err != nil:
		metrics.ObserveAssistant(flow, "error", duration)
		s.logger.Warn("assistant call failed", "flow", flow, "duration_ms", duration.Milliseconds(), "error", err)
		return "", ErrUnavailable
	case text == "":
		metrics.ObserveAssistant(flow, "empty", duration)
		s.logger.Warn("assistant returned no text", "flow", flow, "duration_ms", duration.Milliseconds())
		return "", ErrUnavailable
	}

	metrics.ObserveAssistant(flow, "ok", duration)
	s.logger.Debug("assistant call complete", "flow", flow, "duration_ms", duration.Milliseconds(), "chars", len(text))
	return text, nil
}
