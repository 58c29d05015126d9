package flow

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/BTreeMap/MedBay/internal/genai"
	"github.com/BTreeMap/MedBay/internal/metrics"
	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/BTreeMap/MedBay/internal/persona"
)

// Quiz texts
const (
	quizOpeningPrompt     = "The user has just selected this topic. Please provide your opening message."
	quizOpeningFallback   = "Let's test your health awareness!"
	quizUnavailableText   = "I'm sorry, I couldn't create a quiz right now. Please try again later."
	quizCorrectText       = "Correct! ✅\n\n"
	quizLowScoreSummary   = "You have a good start! There's a great opportunity to learn more about some key health topics."
	quizHighScoreSummary  = "Great job! You have a strong foundational knowledge of important health and wellness topics."
	quizLowScoreThreshold = 2
)

// Quiz generates, grades and summarizes five-question health quizzes.
type Quiz struct {
	llm      genai.ClientInterface
	personas *persona.Bank
	metrics  *metrics.Metrics
}

// NewQuiz creates a quiz engine.
func NewQuiz(llm genai.ClientInterface, personas *persona.Bank, m *metrics.Metrics) *Quiz {
	return &Quiz{llm: llm, personas: personas, metrics: m}
}

// Start generates a new quiz. Anything other than exactly models.QuizLength valid
// questions is rejected.
func (q *Quiz) Start(ctx context.Context) (*models.QuizState, error) {
	raw, err := q.llm.GeneratePromptWithContext(ctx, "", q.personas.QuizPrompt())
	if err != nil {
		q.metrics.LLMFailure("quiz_generation")
		return nil, fmt.Errorf("generate quiz: %w", err)
	}
	var questions []models.QuizQuestion
	if err := genai.DecodeJSONArray(raw, &questions); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidQuiz, err)
	}
	if len(questions) != models.QuizLength {
		return nil, fmt.Errorf("%w: expected %d questions, got %d", models.ErrInvalidQuiz, models.QuizLength, len(questions))
	}
	for i := range questions {
		if err := questions[i].Validate(); err != nil {
			return nil, fmt.Errorf("question %d: %w", i+1, err)
		}
	}
	return &models.QuizState{Questions: questions, UserAnswers: []string{}}, nil
}

// Opening returns the quiz's opening line, or a static line when the LLM fails.
func (q *Quiz) Opening(ctx context.Context) string {
	text, err := q.llm.GeneratePromptWithContext(ctx, q.personas.Persona(models.IntentHealthQuiz), quizOpeningPrompt)
	if err != nil || text == "" {
		q.metrics.LLMFailure("quiz_opening")
		return quizOpeningFallback
	}
	return text
}

// Advance grades answer against the current question, records it and advances the
// cursor. It returns the feedback line.
func (q *Quiz) Advance(state *models.QuizState, answer string) string {
	answer = strings.TrimSpace(answer)
	state.UserAnswers = append(state.UserAnswers, answer)
	var feedback string
	if state.CurrentQuestionIndex < len(state.Questions) {
		question := state.Questions[state.CurrentQuestionIndex]
		if question.IsCorrect(answer) {
			state.Score++
			feedback = quizCorrectText
		} else {
			feedback = fmt.Sprintf("Not quite. The correct answer was %s. ❌\n\n", question.Correct)
		}
	}
	state.CurrentQuestionIndex++
	return feedback
}

// Summary asks the LLM for short personalized feedback on a finished quiz.
func (q *Quiz) Summary(ctx context.Context, state *models.QuizState) string {
	results := make([]persona.QuizResult, len(state.Questions))
	for i, question := range state.Questions {
		results[i] = persona.QuizResult{Question: question.Question}
		if i < len(state.UserAnswers) {
			results[i].Correct = question.IsCorrect(state.UserAnswers[i])
		}
	}
	prompt, err := q.personas.QuizSummaryPrompt(state.Score, len(state.Questions), results)
	if err == nil {
		var text string
		if text, err = q.llm.GeneratePromptWithContext(ctx, "", prompt); err == nil && text != "" {
			return text
		}
	}
	q.metrics.LLMFailure("quiz_summary")
	slog.Warn("Quiz.Summary: using static summary", "error", err, "score", state.Score)
	if state.Score <= quizLowScoreThreshold {
		return quizLowScoreSummary
	}
	return quizHighScoreSummary
}

// CompletionText is the final quiz message.
func CompletionText(score, total int, summary string) string {
	return fmt.Sprintf("Quiz complete! 🧠\n\nYour final score is %d out of %d.\n\n%s\n\nType 'hello' to return to the main menu.", score, total, summary)
}

// RenderQuestion formats a question with its options in A-D order.
func RenderQuestion(q models.QuizQuestion) string {
	var b strings.Builder
	b.WriteString(q.Question)
	for _, letter := range models.QuizOptionLetters {
		b.WriteString("\n")
		b.WriteString(letter)
		b.WriteString(". ")
		b.WriteString(q.Options[letter])
	}
	return b.String()
}
