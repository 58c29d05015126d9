package flow

import "github.com/BTreeMap/MedBay/internal/models"

// Phase is the coarse conversation state derived from a session's intent. Each phase
// owns one step of the turn pipeline.
type Phase int

const (
	// PhaseLanguageSelect waits for a 1-4 language choice.
	PhaseLanguageSelect Phase = iota
	// PhaseMenu waits for a 1-9 topic choice.
	PhaseMenu
	// PhaseQuiz drives the health quiz.
	PhaseQuiz
	// PhaseTopic is free conversation under a topic persona, with tool calls.
	PhaseTopic
	// PhaseFollowup answers questions about an uploaded X-ray report or document.
	PhaseFollowup
)

func (p Phase) String() string {
	switch p {
	case PhaseLanguageSelect:
		return "language_select"
	case PhaseMenu:
		return "menu"
	case PhaseQuiz:
		return "quiz"
	case PhaseTopic:
		return "topic"
	case PhaseFollowup:
		return "followup"
	default:
		return "unknown"
	}
}

// PhaseOf maps an intent to its phase. Unknown intents are treated as topics and get the
// general persona.
func PhaseOf(intent models.Intent) Phase {
	switch intent {
	case models.IntentLanguageSelection:
		return PhaseLanguageSelect
	case models.IntentGreeting:
		return PhaseMenu
	case models.IntentHealthQuiz:
		return PhaseQuiz
	case models.IntentXrayFollowup, models.IntentDocumentFollowup:
		return PhaseFollowup
	default:
		return PhaseTopic
	}
}
