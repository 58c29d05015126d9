package flow

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/BTreeMap/MedBay/internal/models"
)

// quizLLM serves a generated quiz, an opening line and a summary.
func quizLLM(quiz string, summaryErr error) func(system, user string) (string, error) {
	return func(system, user string) (string, error) {
		switch {
		case isClassifierPrompt(user):
			return `{"new_intent": "None"}`, nil
		case user == quizOpeningPrompt:
			return "Time for a quick quiz!", nil
		case strings.Contains(user, "health quizzes"):
			return quiz, nil
		case strings.Contains(user, "on a health quiz"):
			if summaryErr != nil {
				return "", summaryErr
			}
			return "You know your first aid well.", nil
		default:
			return "ok", nil
		}
	}
}

func TestQuizFullRun(t *testing.T) {
	te := newTestEngine(t)
	te.llm.respond = quizLLM(quizJSON(5), nil)
	te.seed(t, sessionAt("web-1", models.IntentGreeting, models.LanguageEnglish))

	reply := te.send(t, "web-1", "9")
	if reply.Intent != models.IntentHealthQuiz {
		t.Fatalf("expected health_quiz, got %s", reply.Intent)
	}
	if !strings.HasPrefix(reply.Text, "Time for a quick quiz!\n\nQuestion 1?\nA. alpha\nB. bravo\nC. charlie\nD. delta") {
		t.Errorf("unexpected opening: %q", reply.Text)
	}

	// Correct answers cycle A, B, C, D, A; three of these are right.
	answers := []string{"a", " B ", "D", "A", "a"}
	for i, answer := range answers {
		reply = te.send(t, "web-1", answer)
		if i == 2 && !strings.HasPrefix(reply.Text, "Not quite. The correct answer was C. ❌\n\n") {
			t.Errorf("expected wrong-answer feedback, got %q", reply.Text)
		}
		if i < len(answers)-1 {
			if reply.Intent != models.IntentHealthQuiz {
				t.Fatalf("answer %d: expected quiz to continue, got %s", i+1, reply.Intent)
			}
			if !strings.Contains(reply.Text, "Question "+string(rune('2'+i))+"?") {
				t.Errorf("answer %d: expected next question, got %q", i+1, reply.Text)
			}
		}
	}
	if !strings.HasPrefix(reply.Text, quizCorrectText) {
		t.Errorf("expected the last answer to be graded correct, got %q", reply.Text)
	}
	if reply.Intent != models.IntentGreeting {
		t.Errorf("expected greeting after the quiz, got %s", reply.Intent)
	}
	want := CompletionText(3, 5, "You know your first aid well.")
	if !strings.HasSuffix(reply.Text, want) {
		t.Errorf("expected completion %q, got %q", want, reply.Text)
	}
	sess := te.session(t, "web-1")
	if sess.Quiz != nil || sess.CurrentIntent != models.IntentGreeting {
		t.Errorf("quiz state should be cleared, got %+v", sess.Quiz)
	}
}

func TestQuizRejectsWrongQuestionCount(t *testing.T) {
	te := newTestEngine(t)
	te.llm.respond = quizLLM(quizJSON(4), nil)
	te.seed(t, sessionAt("web-1", models.IntentGreeting, models.LanguageEnglish))

	reply := te.send(t, "web-1", "9")
	if reply.Text != quizUnavailableText || reply.Intent != models.IntentGreeting {
		t.Errorf("unexpected reply: %+v", reply)
	}
	sess := te.session(t, "web-1")
	if sess.CurrentIntent != models.IntentGreeting || sess.Quiz != nil {
		t.Errorf("user should stay in the menu, got %s", sess.CurrentIntent)
	}
}

func TestQuizStartValidation(t *testing.T) {
	bank := testBank(t)
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", "I cannot make a quiz today."},
		{"too many", quizJSON(6)},
		{"bad answer letter", `[` + strings.Repeat(`{"question":"q","options":{"A":"a","B":"b","C":"c","D":"d"},"correct":"E"},`, 4) +
			`{"question":"q","options":{"A":"a","B":"b","C":"c","D":"d"},"correct":"E"}]`},
		{"missing option", `[` + strings.Repeat(`{"question":"q","options":{"A":"a","B":"b","C":"c"},"correct":"A"},`, 4) +
			`{"question":"q","options":{"A":"a","B":"b","C":"c"},"correct":"A"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			llm := &fakeLLM{respond: func(system, user string) (string, error) { return tt.raw, nil }}
			_, err := NewQuiz(llm, bank, nil).Start(context.Background())
			if !errors.Is(err, models.ErrInvalidQuiz) {
				t.Errorf("expected ErrInvalidQuiz, got %v", err)
			}
		})
	}

	llm := &fakeLLM{respond: func(system, user string) (string, error) { return "", errLLMDown }}
	if _, err := NewQuiz(llm, bank, nil).Start(context.Background()); !errors.Is(err, errLLMDown) {
		t.Errorf("expected LLM error, got %v", err)
	}
}

func TestQuizScoreMatchesAnswers(t *testing.T) {
	q := NewQuiz(&fakeLLM{}, testBank(t), nil)
	state := &models.QuizState{UserAnswers: []string{}}
	for i := 0; i < models.QuizLength; i++ {
		state.Questions = append(state.Questions, models.QuizQuestion{
			Question: "q",
			Options:  map[string]string{"A": "a", "B": "b", "C": "c", "D": "d"},
			Correct:  "B",
		})
	}
	for _, a := range []string{"b", "B", "c", "x", " b"} {
		q.Advance(state, a)
	}
	correct := 0
	for i, a := range state.UserAnswers {
		if state.Questions[i].IsCorrect(a) {
			correct++
		}
	}
	if state.Score != correct || state.Score != 3 {
		t.Errorf("score %d does not match %d correct answers", state.Score, correct)
	}
	if !state.Done() || len(state.UserAnswers) != models.QuizLength {
		t.Errorf("expected a finished quiz, got %+v", state)
	}
}

func TestQuizSummaryFallbacks(t *testing.T) {
	llm := &fakeLLM{respond: quizLLM("", errLLMDown)}
	q := NewQuiz(llm, testBank(t), nil)
	state := &models.QuizState{Questions: make([]models.QuizQuestion, 5)}

	state.Score = 2
	if got := q.Summary(context.Background(), state); got != quizLowScoreSummary {
		t.Errorf("expected low-score summary, got %q", got)
	}
	state.Score = 3
	if got := q.Summary(context.Background(), state); got != quizHighScoreSummary {
		t.Errorf("expected high-score summary, got %q", got)
	}
}

func TestQuizOpeningFallback(t *testing.T) {
	llm := &fakeLLM{respond: func(system, user string) (string, error) { return "", errLLMDown }}
	if got := NewQuiz(llm, testBank(t), nil).Opening(context.Background()); got != quizOpeningFallback {
		t.Errorf("expected fallback opening, got %q", got)
	}
}

func TestRenderQuestionOrdersOptions(t *testing.T) {
	got := RenderQuestion(models.QuizQuestion{
		Question: "Which vitamin comes from sunlight?",
		Options:  map[string]string{"D": "Vitamin D", "A": "Vitamin A", "C": "Vitamin C", "B": "Vitamin B12"},
	})
	want := "Which vitamin comes from sunlight?\nA. Vitamin A\nB. Vitamin B12\nC. Vitamin C\nD. Vitamin D"
	if got != want {
		t.Errorf("expected %q, got %q", want, got)
	}
}
