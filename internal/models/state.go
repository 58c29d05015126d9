// Package models defines conversation state structures for MedBay sessions.
package models

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Role identifies the author of a history turn.
type Role string

const (
	RoleUser  Role = "user"
	RoleModel Role = "model"
)

// Turn is one entry of a session's conversation history.
type Turn struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session is the per-user conversational state.
type Session struct {
	UserID           string     `json:"user_id"`
	CurrentIntent    Intent     `json:"current_intent"`
	History          []Turn     `json:"history"`
	SelectedLanguage Language   `json:"selected_language,omitempty"`
	Quiz             *QuizState `json:"quiz,omitempty"`
	// XrayReport is the last X-ray report delivered to this user, if any.
	XrayReport string    `json:"xray_report,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// NewSession returns a fresh session waiting for a language choice.
func NewSession(userID string, now time.Time) *Session {
	return &Session{
		UserID:        userID,
		CurrentIntent: IntentLanguageSelection,
		History:       []Turn{},
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// Append adds a turn to the history.
func (s *Session) Append(role Role, content string, now time.Time) {
	s.History = append(s.History, Turn{Role: role, Content: content, Timestamp: now})
}

// TrimHistory drops the oldest turns so that at most max remain. A max of zero or less
// disables trimming.
func (s *Session) TrimHistory(max int) {
	if max <= 0 || len(s.History) <= max {
		return
	}
	s.History = append([]Turn(nil), s.History[len(s.History)-max:]...)
}

// SwitchIntent moves the session to a new topic, clearing history and any quiz in
// progress.
func (s *Session) SwitchIntent(intent Intent) {
	s.CurrentIntent = intent
	s.History = []Turn{}
	if intent != IntentHealthQuiz {
		s.Quiz = nil
	}
}

// QuizLength is the number of questions in every quiz.
const QuizLength = 5

// QuizOptionLetters are the answer letters, in display order.
var QuizOptionLetters = []string{"A", "B", "C", "D"}

// QuizQuestion is one multiple-choice question.
type QuizQuestion struct {
	Question string            `json:"question"`
	Options  map[string]string `json:"options"`
	Correct  string            `json:"correct"`
}

// ErrInvalidQuiz is returned when a generated quiz does not match the expected shape.
var ErrInvalidQuiz = errors.New("invalid quiz")

// Validate checks the question text, the four lettered options and the answer letter.
// The answer letter is normalized to upper case.
func (q *QuizQuestion) Validate() error {
	if strings.TrimSpace(q.Question) == "" {
		return fmt.Errorf("%w: empty question", ErrInvalidQuiz)
	}
	if len(q.Options) != len(QuizOptionLetters) {
		return fmt.Errorf("%w: expected %d options, got %d", ErrInvalidQuiz, len(QuizOptionLetters), len(q.Options))
	}
	for _, letter := range QuizOptionLetters {
		if strings.TrimSpace(q.Options[letter]) == "" {
			return fmt.Errorf("%w: missing option %s", ErrInvalidQuiz, letter)
		}
	}
	q.Correct = strings.ToUpper(strings.TrimSpace(q.Correct))
	if _, ok := q.Options[q.Correct]; !ok || len(q.Correct) != 1 {
		return fmt.Errorf("%w: correct answer %q is not one of A-D", ErrInvalidQuiz, q.Correct)
	}
	return nil
}

// IsCorrect reports whether answer selects the correct option, ignoring case and
// surrounding space.
func (q QuizQuestion) IsCorrect(answer string) bool {
	return strings.ToUpper(strings.TrimSpace(answer)) == q.Correct
}

// QuizState tracks an in-progress quiz.
type QuizState struct {
	Score                int            `json:"score"`
	CurrentQuestionIndex int            `json:"current_question_index"`
	Questions            []QuizQuestion `json:"questions"`
	UserAnswers          []string       `json:"user_answers"`
}

// Done reports whether every question has been answered.
func (q *QuizState) Done() bool {
	return q.CurrentQuestionIndex >= len(q.Questions)
}
