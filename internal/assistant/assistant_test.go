package assistant

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelWarn}))
}

// fakeGenerator records prompts and replies with a fixed text or error.
type fakeGenerator struct {
	mu      sync.Mutex
	text    string
	err     error
	system  []string
	prompts []string
}

func (f *fakeGenerator) Generate(ctx context.Context, system, prompt string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.system = append(f.system, system)
	f.prompts = append(f.prompts, prompt)
	return f.text, f.err
}

// TestChat verifies the chat flow renders the question into the prompt.
func TestChat(t *testing.T) {
	gen := &fakeGenerator{text: "  Because of gravity.  "}
	s := NewService(gen, time.Second, testLogger())

	resp, err := s.Chat(context.Background(), ChatRequest{Question: " Why do planets orbit? "})
	require.NoError(t, err)
	assert.Equal(t, "Because of gravity.", resp.Answer)
	require.Len(t, gen.prompts, 1)
	assert.Contains(t, gen.prompts[0], "Question: Why do planets orbit?")
	assert.Contains(t, gen.system[0], "space science")
}

// TestChatValidation verifies malformed requests never reach the generator.
func TestChatValidation(t *testing.T) {
	gen := &fakeGenerator{text: "x"}
	s := NewService(gen, time.Second, testLogger())

	for _, q := range []string{"", "   ", strings.Repeat("a", MaxQuestionLen+1)} {
		_, err := s.Chat(context.Background(), ChatRequest{Question: q})
		assert.ErrorIs(t, err, ErrInvalidRequest)
	}
	assert.Empty(t, gen.prompts)
}

// TestFailuresBecomeUnavailable verifies upstream errors, empty text and a
// missing generator all surface as ErrUnavailable.
func TestFailuresBecomeUnavailable(t *testing.T) {
	tests := []struct {
		name string
		gen  Generator
	}{
		{"upstream error", &fakeGenerator{err: errors.New("503 from upstream")}},
		{"empty text", &fakeGenerator{text: "   "}},
		{"no generator", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := NewService(tt.gen, time.Second, testLogger())
			_, err := s.Chat(context.Background(), ChatRequest{Question: "What is a pulsar?"})
			require.ErrorIs(t, err, ErrUnavailable)
			assert.Contains(t, err.Error(), "please try again")
		})
	}
}

// TestExplainPrompt verifies every field of the request reaches the prompt.
func TestExplainPrompt(t *testing.T) {
	gen := &fakeGenerator{text: "Proxima is closest."}
	s := NewService(gen, time.Second, testLogger())

	req := ExplainRequest{
		Question:      "Closest star?",
		Options:       []string{"Sirius", "Proxima Centauri"},
		CorrectAnswer: "Proxima Centauri",
		UserAnswer:    "Sirius",
		Topic:         "Stellar Proximity",
	}
	resp, err := s.Explain(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "Proxima is closest.", resp.Explanation)

	p := gen.prompts[0]
	for _, want := range []string{"Topic: Stellar Proximity", `Question: "Closest star?"`, "- Sirius\n", "- Proxima Centauri\n", `Correct Answer: "Proxima Centauri"`, `User's Answer: "Sirius"`} {
		assert.Contains(t, p, want)
	}
	assert.Contains(t, gen.system[0], "Cosmos Command")
}

// TestExplainValidation verifies the explanation request shape checks.
func TestExplainValidation(t *testing.T) {
	valid := ExplainRequest{Question: "q", Options: []string{"a", "b"}, CorrectAnswer: "a", UserAnswer: "b", Topic: "t"}
	tests := []struct {
		name   string
		mutate func(*ExplainRequest)
	}{
		{"no question", func(r *ExplainRequest) { r.Question = "" }},
		{"one option", func(r *ExplainRequest) { r.Options = []string{"a"} }},
		{"blank option", func(r *ExplainRequest) { r.Options = []string{"a", " "} }},
		{"no correct answer", func(r *ExplainRequest) { r.CorrectAnswer = "" }},
		{"no user answer", func(r *ExplainRequest) { r.UserAnswer = "" }},
		{"no topic", func(r *ExplainRequest) { r.Topic = "" }},
	}
	require.NoError(t, valid.Validate())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := valid
			r.Options = append([]string(nil), valid.Options...)
			tt.mutate(&r)
			assert.ErrorIs(t, r.Validate(), ErrInvalidRequest)
		})
	}
}

// TestAnswerQuiz verifies grading, xp and the explanation fallback.
func TestAnswerQuiz(t *testing.T) {
	q := DailyQuestion()

	gen := &fakeGenerator{text: "Proxima Centauri is 4.24 light-years away."}
	s := NewService(gen, time.Second, testLogger())

	res, err := s.AnswerQuiz(context.Background(), q, "opt3")
	require.NoError(t, err)
	assert.True(t, res.Correct)
	assert.Equal(t, 50, res.XPAwarded)
	assert.Empty(t, res.Explanation)
	assert.Empty(t, gen.prompts, "correct answers need no explanation")

	res, err = s.AnswerQuiz(context.Background(), q, "opt1")
	require.NoError(t, err)
	assert.False(t, res.Correct)
	assert.Equal(t, 0, res.XPAwarded)
	assert.Equal(t, "opt3", res.CorrectAnswerID)
	assert.True(t, res.ExplanationOK)
	assert.Contains(t, gen.prompts[0], `User's Answer: "Sirius"`)

	failing := NewService(&fakeGenerator{err: errors.New("down")}, time.Second, testLogger())
	res, err = failing.AnswerQuiz(context.Background(), q, "opt2")
	require.NoError(t, err)
	assert.False(t, res.ExplanationOK)
	assert.Equal(t, ExplanationFallback, res.Explanation)

	_, err = s.AnswerQuiz(context.Background(), q, "opt9")
	assert.ErrorIs(t, err, ErrUnknownOption)
}

const peopleDoc = `{
  "updated": "2026-10-01T00:00:00Z",
  "number": 2,
  "people": [
    {"name": "A. Astronaut", "title": null, "country": "Canada", "countryflag": "https://example.com/ca.png",
     "launchdate": "2026-09-01", "daysinspace": 30, "location": "ISS", "spacecraft": "Dragon"},
    {"name": "B. Cosmonaut", "country": "Russia", "countryflag": "https://example.com/ru.png",
     "launchdate": "2026-08-01", "daysinspace": 61, "careerdays": 400, "biolink": "https://example.com/b",
     "location": "ISS", "spacecraft": "Soyuz"}
  ]
}`

// TestPeopleFetcher verifies fetching and validation of the people feed.
func TestPeopleFetcher(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		wantErr bool
	}{
		{"valid", http.StatusOK, peopleDoc, false},
		{"server error", http.StatusInternalServerError, "", true},
		{"malformed", http.StatusOK, `{"number":`, true},
		{"bad flag", http.StatusOK, `{"number":1,"people":[{"name":"x","country":"c","countryflag":"nope","launchdate":"d","daysinspace":1,"location":"l","spacecraft":"s"}]}`, true},
		{"missing fields", http.StatusOK, `{"number":1,"people":[{"name":"x"}]}`, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			}))
			defer srv.Close()

			p, err := NewPeopleFetcher(srv.URL, time.Second).Fetch(context.Background())
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 2, p.Number)
			require.Len(t, p.People, 2)
			assert.Nil(t, p.People[0].Title)
			require.NotNil(t, p.People[1].CareerDays)
			assert.Equal(t, 400.0, *p.People[1].CareerDays)
		})
	}
}

// TestPeopleRefresherKeepsLastKnown verifies a failed refresh keeps the last
// good document and reports the error.
func TestPeopleRefresherKeepsLastKnown(t *testing.T) {
	calls := 0
	r := &PeopleRefresher{interval: time.Hour, logger: testLogger()}
	r.state.Store(&PeopleState{})
	r.fetch = func(ctx context.Context) (People, error) {
		calls++
		if calls == 1 {
			return People{Number: 7}, nil
		}
		return People{}, errors.New("feed down")
	}

	r.Refresh(context.Background())
	st := r.State()
	require.NotNil(t, st.People)
	assert.Equal(t, 7, st.People.Number)
	assert.Empty(t, st.Error)

	r.Refresh(context.Background())
	st = r.State()
	require.NotNil(t, st.People)
	assert.Equal(t, 7, st.People.Number)
	assert.Equal(t, "feed down", st.Error)
}

// TestPeopleRefresherStops verifies Run returns on cancel without leaking.
func TestPeopleRefresherStops(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreTopFunction("go.opencensus.io/stats/view.(*worker).start"))

	r := &PeopleRefresher{interval: 10 * time.Millisecond, logger: testLogger()}
	r.state.Store(&PeopleState{})
	r.fetch = func(ctx context.Context) (People, error) {
		return People{Number: 3}, nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	require.Eventually(t, func() bool { return r.State().People != nil }, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("refresher did not stop")
	}
}
