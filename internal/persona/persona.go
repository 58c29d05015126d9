// Package persona loads the MedBay prompt bank: one system prompt per intent plus the
// auxiliary prompts used for intent classification, tool-result formatting, quizzes and
// X-ray reports.
//
// The bank is plain YAML so prompt text can be changed without a rebuild. A default
// bank is embedded in the binary.
package persona

import (
	"bytes"
	_ "embed"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"text/template"

	"github.com/BTreeMap/MedBay/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed personas.yaml
var defaultBank []byte

// MaxReportFindings is the number of X-ray findings included in report prompts.
const MaxReportFindings = 5

// Bank holds every prompt used by the conversation engine.
type Bank struct {
	Personas         map[models.Intent]string `yaml:"personas"`
	Formatting       string                   `yaml:"formatting"`
	IntentClassifier string                   `yaml:"intent_classifier"`
	QuizGeneration   string                   `yaml:"quiz_generation"`
	QuizSummary      string                   `yaml:"quiz_summary"`
	XrayReport       string                   `yaml:"xray_report"`

	classifierTmpl *template.Template
	summaryTmpl    *template.Template
	xrayTmpl       *template.Template
}

// QuizResult is one answered question passed to the quiz summary prompt.
type QuizResult struct {
	Question string
	Correct  bool
}

var templateFuncs = template.FuncMap{
	"percent": func(p float64) string { return fmt.Sprintf("%.2f%%", p*100) },
}

// Default returns the embedded bank.
func Default() (*Bank, error) {
	return Parse(defaultBank)
}

// Load reads a bank from path. An empty path returns the embedded default.
func Load(path string) (*Bank, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read persona file %s: %w", path, err)
	}
	bank, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("persona file %s: %w", path, err)
	}
	slog.Info("Persona.Load: loaded persona bank", "path", path, "personas", len(bank.Personas))
	return bank, nil
}

// Parse decodes and validates a YAML bank.
func Parse(data []byte) (*Bank, error) {
	var b Bank
	if err := yaml.Unmarshal(data, &b); err != nil {
		return nil, fmt.Errorf("decode persona YAML: %w", err)
	}
	if err := b.validate(); err != nil {
		return nil, err
	}
	var err error
	if b.classifierTmpl, err = template.New("intent_classifier").Parse(b.IntentClassifier); err != nil {
		return nil, fmt.Errorf("parse intent_classifier template: %w", err)
	}
	if b.summaryTmpl, err = template.New("quiz_summary").Parse(b.QuizSummary); err != nil {
		return nil, fmt.Errorf("parse quiz_summary template: %w", err)
	}
	if b.xrayTmpl, err = template.New("xray_report").Funcs(templateFuncs).Parse(b.XrayReport); err != nil {
		return nil, fmt.Errorf("parse xray_report template: %w", err)
	}
	return &b, nil
}

func (b *Bank) validate() error {
	var missing []string
	for _, intent := range models.PersonaIntents {
		if strings.TrimSpace(b.Personas[intent]) == "" {
			missing = append(missing, string(intent))
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing personas: %s", strings.Join(missing, ", "))
	}
	for name, text := range map[string]string{
		"formatting":        b.Formatting,
		"intent_classifier": b.IntentClassifier,
		"quiz_generation":   b.QuizGeneration,
		"quiz_summary":      b.QuizSummary,
		"xray_report":       b.XrayReport,
	} {
		if strings.TrimSpace(text) == "" {
			return fmt.Errorf("missing prompt %q", name)
		}
	}
	return nil
}

// Has reports whether intent has a persona. This is the set of intents the classifier
// may switch to.
func (b *Bank) Has(intent models.Intent) bool {
	_, ok := b.Personas[intent]
	return ok
}

// Persona returns the system prompt for intent, falling back to general_qna.
func (b *Bank) Persona(intent models.Intent) string {
	if p, ok := b.Personas[intent]; ok {
		return strings.TrimSpace(p)
	}
	return strings.TrimSpace(b.Personas[models.IntentGeneralQnA])
}

// FormattingPrompt returns the prompt that turns tool JSON into a user-facing summary.
func (b *Bank) FormattingPrompt() string {
	return strings.TrimSpace(b.Formatting)
}

// QuizPrompt returns the quiz generation prompt.
func (b *Bank) QuizPrompt() string {
	return strings.TrimSpace(b.QuizGeneration)
}

// ClassifierPrompt renders the intent-switch prompt.
func (b *Bank) ClassifierPrompt(current models.Intent, text string) (string, error) {
	return render(b.classifierTmpl, struct {
		CurrentIntent models.Intent
		Text          string
	}{current, text})
}

// QuizSummaryPrompt renders the end-of-quiz feedback prompt.
func (b *Bank) QuizSummaryPrompt(score, total int, results []QuizResult) (string, error) {
	return render(b.summaryTmpl, struct {
		Score   int
		Total   int
		Results []QuizResult
	}{score, total, results})
}

// XrayReportPrompt renders the report prompt from at most MaxReportFindings findings.
func (b *Bank) XrayReportPrompt(findings []models.Finding) (string, error) {
	if len(findings) > MaxReportFindings {
		findings = findings[:MaxReportFindings]
	}
	return render(b.xrayTmpl, struct {
		Findings []models.Finding
	}{findings})
}

func render(t *template.Template, data any) (string, error) {
	var buf bytes.Buffer
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render %s: %w", t.Name(), err)
	}
	return strings.TrimSpace(buf.String()), nil
}
