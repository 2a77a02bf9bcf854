package assistant

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownOption is returned when an answer names no option of the question.
var ErrUnknownOption = errors.New("unknown quiz option")

// ExplanationFallback is shown inline when the explanation flow fails.
const ExplanationFallback = "An error occurred while fetching the explanation. Please try again later."

// QuizOption is one multiple-choice answer.
type QuizOption struct {
	ID   string `json:"id"`
	Text string `json:"text"`
}

// QuizQuestion is a daily challenge card.
type QuizQuestion struct {
	ID              string       `json:"id"`
	Prompt          string       `json:"prompt"`
	Options         []QuizOption `json:"options"`
	CorrectAnswerID string       `json:"-"`
	Topic           string       `json:"topic"`
	XP              int          `json:"xp"`
}

// DailyQuestion returns today's question.
func DailyQuestion() QuizQuestion {
	return QuizQuestion{
		ID:     "q1",
		Prompt: "Your starship's navigation system relies on identifying the closest star to Earth (after the Sun). Which star is it?",
		Options: []QuizOption{
			{ID: "opt1", Text: "Sirius"},
			{ID: "opt2", Text: "Alpha Centauri A"},
			{ID: "opt3", Text: "Proxima Centauri"},
			{ID: "opt4", Text: "Barnard's Star"},
		},
		CorrectAnswerID: "opt3",
		Topic:           "Stellar Proximity",
		XP:              50,
	}
}

func (q QuizQuestion) option(id string) (QuizOption, bool) {
	for _, o := range q.Options {
		if o.ID == id {
			return o, true
		}
	}
	return QuizOption{}, false
}

// QuizResult is the outcome of answering a question.
type QuizResult struct {
	Correct         bool   `json:"correct"`
	CorrectAnswerID string `json:"correct_answer_id"`
	XPAwarded       int    `json:"xp_awarded"`
	Explanation     string `json:"explanation,omitempty"`
	ExplanationOK   bool   `json:"explanation_ok"`
}

// AnswerQuiz grades optionID against q. A wrong answer asks the explanation
// flow why; if that fails the result carries ExplanationFallback instead of
// an error.
func (s *Service) AnswerQuiz(ctx context.Context, q QuizQuestion, optionID string) (QuizResult, error) {
	chosen, ok := q.option(optionID)
	if !ok {
		return QuizResult{}, fmt.Errorf("%w: %q", ErrUnknownOption, optionID)
	}
	correct, ok := q.option(q.CorrectAnswerID)
	if !ok {
		return QuizResult{}, fmt.Errorf("%w: correct answer %q", ErrUnknownOption, q.CorrectAnswerID)
	}

	res := QuizResult{CorrectAnswerID: q.CorrectAnswerID}
	if chosen.ID == correct.ID {
		res.Correct = true
		res.XPAwarded = q.XP
		return res, nil
	}

	texts := make([]string, len(q.Options))
	for i, o := range q.Options {
		texts[i] = o.Text
	}
	exp, err := s.Explain(ctx, ExplainRequest{
		Question:      q.Prompt,
		Options:       texts,
		CorrectAnswer: correct.Text,
		UserAnswer:    chosen.Text,
		Topic:         q.Topic,
	})
	if err != nil {
		res.Explanation = ExplanationFallback
		return res, nil
	}
	res.Explanation = exp.Explanation
	res.ExplanationOK = true
	return res, nil
}
