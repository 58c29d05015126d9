package flow

import (
	"context"
	"log/slog"
	"strings"
	"unicode/utf8"

	"github.com/BTreeMap/MedBay/internal/genai"
	"github.com/BTreeMap/MedBay/internal/metrics"
	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/BTreeMap/MedBay/internal/persona"
)

// MinClassifierLength is the shortest message worth an intent-switch LLM call.
const MinClassifierLength = 5

// noIntent is the classifier's "stay on the current task" answer.
const noIntent = "None"

// blockedSwitches stops the classifier from bouncing a follow-up Q&A back into the
// matching "start a new analysis" task.
var blockedSwitches = map[models.Intent]models.Intent{
	models.IntentXrayFollowup:     models.IntentXrayAnalysis,
	models.IntentDocumentFollowup: models.IntentDocumentAnalysis,
}

// Classifier asks the LLM whether a message switches to a different task. It fails
// closed: every error means "no change".
type Classifier struct {
	llm      genai.ClientInterface
	personas *persona.Bank
	metrics  *metrics.Metrics
}

// NewClassifier creates a Classifier.
func NewClassifier(llm genai.ClientInterface, personas *persona.Bank, m *metrics.Metrics) *Classifier {
	return &Classifier{llm: llm, personas: personas, metrics: m}
}

// Check returns the intent to switch to and true, or false when the user stays on
// current.
func (c *Classifier) Check(ctx context.Context, text string, current models.Intent) (models.Intent, bool) {
	if utf8.RuneCountInString(strings.TrimSpace(text)) < MinClassifierLength {
		return "", false
	}
	prompt, err := c.personas.ClassifierPrompt(current, text)
	if err != nil {
		slog.Error("Classifier.Check: prompt render failed", "error", err)
		return "", false
	}
	raw, err := c.llm.GeneratePromptWithContext(ctx, "", prompt)
	if err != nil {
		c.metrics.LLMFailure("classifier")
		slog.Warn("Classifier.Check: LLM call failed", "error", err, "current", current)
		return "", false
	}

	var decision struct {
		NewIntent string `json:"new_intent"`
	}
	if err := genai.DecodeJSONObject(raw, &decision); err != nil {
		slog.Debug("Classifier.Check: no decision in response", "error", err, "response", raw)
		return "", false
	}
	next := models.Intent(strings.TrimSpace(decision.NewIntent))
	switch {
	case next == "" || next == noIntent || next == current:
		return "", false
	case blockedSwitches[current] == next:
		slog.Debug("Classifier.Check: blocked follow-up switch", "current", current, "suggested", next)
		return "", false
	case !c.personas.Has(next):
		slog.Debug("Classifier.Check: unknown intent suggested", "suggested", next)
		return "", false
	}
	slog.Debug("Classifier.Check: switch detected", "current", current, "next", next)
	return next, true
}
