// Package flow implements the MedBay conversation engine: the per-turn pipeline that
// routes a user's message through language selection, the topic menu, the health quiz,
// topic personas with tool calls, and follow-up Q&A on uploaded X-rays and documents.
package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/BTreeMap/MedBay/internal/document"
	"github.com/BTreeMap/MedBay/internal/events"
	"github.com/BTreeMap/MedBay/internal/genai"
	"github.com/BTreeMap/MedBay/internal/metrics"
	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/BTreeMap/MedBay/internal/persona"
	"github.com/BTreeMap/MedBay/internal/store"
	"github.com/BTreeMap/MedBay/internal/tools"
)

// Context keys carried by Message.Context.
const (
	ContextXrayReport = "xray_report"
	ContextDocumentID = "document_id"
)

// WhatsAppUserPrefix marks user ids that arrive through the WhatsApp channels.
const WhatsAppUserPrefix = "whatsapp:"

// Channel names reported in turn events.
const (
	ChannelWeb      = "web"
	ChannelWhatsApp = "whatsapp"
)

// DefaultMaxHistory caps the turns kept per session.
const DefaultMaxHistory = 50

// Fixed replies.
const (
	technicalIssueText     = "I'm sorry, I encountered a technical issue. Please try rephrasing."
	topicStartFailedText   = "I'm sorry, I had trouble starting that topic."
	xrayImagePromptText    = "I can provide a preliminary analysis of a chest X-ray. Please send the image to me now."
	xrayFollowupFailedText = "I'm sorry, I had trouble processing that question about the report."
	documentNoAnswerText   = "Sorry, I couldn't get an answer from the document."
	documentFailedText     = "Sorry, I was unable to connect to the document analysis service."
	hospitalsFoundText     = "Here are some hospitals I found:"
	topicOpeningPrompt     = "The user has selected this topic. Please provide your opening message."
)

// Message is one inbound user message.
type Message struct {
	UserID string
	Text   string
	// Language is the caller's language hint, used until the user picks one.
	Language models.Language
	// Context carries out-of-band data such as an X-ray report or a document id.
	Context map[string]any
}

// DocumentQA answers questions about a user's uploaded documents. *document.Client
// implements it.
type DocumentQA interface {
	Query(ctx context.Context, userID, question string) (document.Answer, error)
}

// Opts holds optional engine configuration.
type Opts struct {
	Metrics                 *metrics.Metrics
	Publisher               events.Publisher
	MaxHistory              int
	PersistDocumentOverride bool
	Now                     func() time.Time
}

// Option configures the Engine.
type Option func(*Opts)

// WithMetrics records turn, switch and failure metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// WithPublisher sends a TurnEvent after every turn.
func WithPublisher(p events.Publisher) Option {
	return func(o *Opts) { o.Publisher = p }
}

// WithMaxHistory caps session history. Zero or less keeps everything.
func WithMaxHistory(n int) Option {
	return func(o *Opts) { o.MaxHistory = n }
}

// WithPersistDocumentOverride makes a document_id context switch the stored intent to
// document_followup, the way an X-ray report does.
func WithPersistDocumentOverride(enabled bool) Option {
	return func(o *Opts) { o.PersistDocumentOverride = enabled }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(o *Opts) { o.Now = now }
}

// turn is the mutable state of one ProcessMessage call.
type turn struct {
	msg      Message
	sess     *models.Session
	lang     models.Language
	previous models.Intent
	// effective is the intent this turn is handled under; it differs from the stored
	// intent when a non-persisted context override applies.
	effective models.Intent
	switched  bool
	tool      string
	reply     models.Reply
}

type stepFunc func(ctx context.Context, t *turn)

// Engine processes user messages against stored sessions.
type Engine struct {
	llm        genai.ClientInterface
	personas   *persona.Bank
	sessions   store.SessionStore
	tools      tools.Runner
	docs       DocumentQA
	classifier *Classifier
	quiz       *Quiz
	locks      *KeyedMutex
	metrics    *metrics.Metrics
	publisher  events.Publisher
	maxHistory int
	persistDoc bool
	now        func() time.Time
	steps      map[Phase]stepFunc
}

// NewEngine creates an Engine. docs may be nil when no document service is configured.
func NewEngine(llm genai.ClientInterface, personas *persona.Bank, sessions store.SessionStore, runner tools.Runner, docs DocumentQA, opts ...Option) *Engine {
	cfg := Opts{MaxHistory: DefaultMaxHistory, Now: time.Now}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Publisher == nil {
		cfg.Publisher = events.NopPublisher{}
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	e := &Engine{
		llm:        llm,
		personas:   personas,
		sessions:   sessions,
		tools:      runner,
		docs:       docs,
		classifier: NewClassifier(llm, personas, cfg.Metrics),
		quiz:       NewQuiz(llm, personas, cfg.Metrics),
		locks:      NewKeyedMutex(),
		metrics:    cfg.Metrics,
		publisher:  cfg.Publisher,
		maxHistory: cfg.MaxHistory,
		persistDoc: cfg.PersistDocumentOverride,
		now:        cfg.Now,
	}
	e.steps = map[Phase]stepFunc{
		PhaseLanguageSelect: e.languageStep,
		PhaseMenu:           e.menuStep,
		PhaseQuiz:           e.quizStep,
		PhaseTopic:          e.topicStep,
		PhaseFollowup:       e.followupStep,
	}
	slog.Debug("Engine.NewEngine: created", "maxHistory", cfg.MaxHistory, "persistDocumentOverride", cfg.PersistDocumentOverride, "hasDocs", docs != nil)
	return e
}

// ProcessMessage runs one turn for msg.UserID. Turns for the same user are serialized.
// Dependency failures are turned into replies; only session store errors are returned.
func (e *Engine) ProcessMessage(ctx context.Context, msg Message) (models.Reply, error) {
	if strings.TrimSpace(msg.UserID) == "" {
		return models.Reply{}, fmt.Errorf("flow: empty user id")
	}
	unlock := e.locks.Lock(msg.UserID)
	defer unlock()

	start := e.now()
	if IsExitKeyword(msg.Text) {
		return e.reset(ctx, msg, start)
	}

	sess, err := e.load(ctx, msg.UserID, start)
	if err != nil {
		return models.Reply{}, err
	}
	t := &turn{msg: msg, sess: sess, previous: sess.CurrentIntent, effective: sess.CurrentIntent}
	e.applyContextOverride(t)

	if next, ok := e.classifier.Check(ctx, msg.Text, t.effective); ok {
		slog.Info("Engine.ProcessMessage: switching intent", "user_id", msg.UserID, "from", t.effective, "to", next)
		e.metrics.IntentSwitch(string(t.effective), string(next))
		sess.SwitchIntent(next)
		t.effective = next
		t.switched = true
	}
	t.lang = resolveLanguage(sess, msg)

	phase := PhaseOf(t.effective)
	slog.Debug("Engine.ProcessMessage: dispatching", "user_id", msg.UserID, "intent", t.effective, "phase", phase)
	e.steps[phase](ctx, t)
	if t.reply.Intent == "" {
		t.reply.Intent = sess.CurrentIntent
	}

	sess.TrimHistory(e.maxHistory)
	sess.UpdatedAt = e.now()
	if err := e.sessions.Save(ctx, sess); err != nil {
		return models.Reply{}, fmt.Errorf("save session: %w", err)
	}
	e.finish(ctx, t, start, false)
	return t.reply, nil
}

// RecordXrayReport stores an X-ray report for userID and moves the session into X-ray
// follow-up so later questions are answered against it.
func (e *Engine) RecordXrayReport(ctx context.Context, userID, report string) error {
	unlock := e.locks.Lock(userID)
	defer unlock()

	now := e.now()
	sess, err := e.load(ctx, userID, now)
	if err != nil {
		return err
	}
	if sess.CurrentIntent != models.IntentXrayFollowup {
		e.metrics.IntentSwitch(string(sess.CurrentIntent), string(models.IntentXrayFollowup))
	}
	sess.SwitchIntent(models.IntentXrayFollowup)
	sess.XrayReport = report
	sess.Append(models.RoleModel, report, now)
	sess.UpdatedAt = now
	if err := e.sessions.Save(ctx, sess); err != nil {
		return fmt.Errorf("save session: %w", err)
	}
	slog.Info("Engine.RecordXrayReport: report stored", "user_id", userID, "length", len(report))
	return nil
}

// Close flushes the event publisher.
func (e *Engine) Close() error {
	return e.publisher.Close()
}

func (e *Engine) load(ctx context.Context, userID string, now time.Time) (*models.Session, error) {
	sess, err := e.sessions.Get(ctx, userID)
	if errors.Is(err, store.ErrSessionNotFound) {
		slog.Debug("Engine.load: new session", "user_id", userID)
		return models.NewSession(userID, now), nil
	}
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	return sess, nil
}

// reset drops the user's session and starts a fresh one at the welcome prompt.
func (e *Engine) reset(ctx context.Context, msg Message, now time.Time) (models.Reply, error) {
	if err := e.sessions.Delete(ctx, msg.UserID); err != nil && !errors.Is(err, store.ErrSessionNotFound) {
		return models.Reply{}, fmt.Errorf("delete session: %w", err)
	}
	sess := models.NewSession(msg.UserID, now)
	t := &turn{msg: msg, sess: sess, previous: models.IntentLanguageSelection}
	e.welcome(t)
	if err := e.sessions.Save(ctx, sess); err != nil {
		return models.Reply{}, fmt.Errorf("save session: %w", err)
	}
	slog.Info("Engine.reset: session reset", "user_id", msg.UserID)
	e.metrics.SessionReset()
	e.finish(ctx, t, now, true)
	return t.reply, nil
}

// welcome puts the session back at language selection with the English welcome.
func (e *Engine) welcome(t *turn) {
	text := WelcomeText(models.LanguageEnglish)
	if t.sess.CurrentIntent != models.IntentLanguageSelection {
		t.sess.SwitchIntent(models.IntentLanguageSelection)
	} else {
		t.sess.History = []models.Turn{}
	}
	t.sess.SelectedLanguage = ""
	t.sess.Quiz = nil
	t.sess.Append(models.RoleModel, text, e.now())
	t.effective = models.IntentLanguageSelection
	t.reply = models.Reply{Text: text, Intent: models.IntentLanguageSelection}
}

func (e *Engine) finish(ctx context.Context, t *turn, start time.Time, reset bool) {
	e.metrics.Turn(string(t.reply.Intent), e.now().Sub(start))
	ev := events.TurnEvent{
		UserID:         t.msg.UserID,
		Channel:        channelOf(t.msg.UserID),
		PreviousIntent: string(t.previous),
		Intent:         string(t.reply.Intent),
		Switched:       t.switched,
		Tool:           t.tool,
		Reset:          reset,
		Timestamp:      e.now().UTC(),
	}
	if err := e.publisher.Publish(ctx, ev); err != nil {
		slog.Warn("Engine.finish: publish turn event failed", "error", err, "user_id", t.msg.UserID)
	}
}

// applyContextOverride forces the follow-up intent when the caller supplies a document
// id or an X-ray report. The X-ray override is stored in the session; the document
// override applies to this turn only unless PersistDocumentOverride is set.
func (e *Engine) applyContextOverride(t *turn) {
	if _, ok := t.msg.Context[ContextDocumentID]; ok {
		t.effective = models.IntentDocumentFollowup
		if e.persistDoc && t.sess.CurrentIntent != models.IntentDocumentFollowup {
			t.sess.SwitchIntent(models.IntentDocumentFollowup)
		}
		return
	}
	if report := contextString(t.msg.Context, ContextXrayReport); report != "" {
		t.effective = models.IntentXrayFollowup
		if t.sess.CurrentIntent != models.IntentXrayFollowup {
			t.sess.SwitchIntent(models.IntentXrayFollowup)
		}
		t.sess.XrayReport = report
	}
}

// hasFollowupContext reports whether the request names a document or carries an X-ray
// report.
func hasFollowupContext(c map[string]any) bool {
	if _, ok := c[ContextDocumentID]; ok {
		return true
	}
	return contextString(c, ContextXrayReport) != ""
}

func (e *Engine) languageStep(ctx context.Context, t *turn) {
	now := e.now()
	lang, ok := ParseLanguage(t.msg.Text)
	switch {
	case ok:
		t.sess.SelectedLanguage = lang
		t.sess.CurrentIntent = models.IntentGreeting
		t.sess.Append(models.RoleUser, t.msg.Text, now)
		reply := LanguageSelectedText(lang)
		t.sess.Append(models.RoleModel, reply, now)
		t.reply = models.Reply{Text: reply, Intent: models.IntentGreeting}
	default:
		t.reply = models.Reply{Text: InvalidLanguageText(), Intent: models.IntentLanguageSelection}
	}
}

func (e *Engine) menuStep(ctx context.Context, t *turn) {
	selected, ok := ParseMenuSelection(t.msg.Text)
	if !ok {
		t.reply = models.Reply{Text: InvalidMenuText(t.lang), Intent: models.IntentGreeting}
		return
	}

	slog.Debug("Engine.menuStep: topic selected", "user_id", t.msg.UserID, "intent", selected)
	e.metrics.IntentSwitch(string(models.IntentGreeting), string(selected))
	t.sess.SwitchIntent(selected)
	t.effective = selected
	t.switched = true
	now := e.now()
	t.sess.Append(models.RoleUser, t.msg.Text, now)

	switch {
	case selected == models.IntentXrayAnalysis && strings.HasPrefix(t.msg.UserID, WhatsAppUserPrefix):
		t.sess.Append(models.RoleModel, xrayImagePromptText, now)
		t.reply = models.Reply{Text: xrayImagePromptText, Intent: selected}
		return
	case selected == models.IntentHealthQuiz:
		e.quizStep(ctx, t)
		return
	}

	system := fmt.Sprintf("%s\nYour response must be in '%s' language.", e.personas.Persona(selected), t.lang)
	opening, err := e.llm.GeneratePromptWithContext(ctx, system, topicOpeningPrompt)
	if err != nil || strings.TrimSpace(opening) == "" {
		e.metrics.LLMFailure("topic_opening")
		slog.Error("Engine.menuStep: opening message failed", "error", err, "user_id", t.msg.UserID, "intent", selected)
		t.sess.SwitchIntent(models.IntentGreeting)
		t.reply = models.Reply{Text: topicStartFailedText, Intent: models.IntentGreeting}
		return
	}
	t.sess.Append(models.RoleModel, opening, e.now())
	t.reply = models.Reply{Text: opening, Intent: selected}
}

func (e *Engine) quizStep(ctx context.Context, t *turn) {
	sess := t.sess
	if sess.Quiz == nil {
		state, err := e.quiz.Start(ctx)
		if err != nil {
			slog.Error("Engine.quizStep: quiz generation failed", "error", err, "user_id", t.msg.UserID)
			sess.SwitchIntent(models.IntentGreeting)
			t.reply = models.Reply{Text: quizUnavailableText, Intent: models.IntentGreeting}
			return
		}
		sess.Quiz = state
		sess.CurrentIntent = models.IntentHealthQuiz
		text := e.quiz.Opening(ctx) + "\n\n" + RenderQuestion(state.Questions[0])
		sess.Append(models.RoleModel, text, e.now())
		t.reply = models.Reply{Text: text, Intent: models.IntentHealthQuiz}
		return
	}

	feedback := e.quiz.Advance(sess.Quiz, t.msg.Text)
	sess.Append(models.RoleUser, t.msg.Text, e.now())
	if sess.Quiz.Done() {
		state := sess.Quiz
		summary := e.quiz.Summary(ctx, state)
		slog.Info("Engine.quizStep: quiz complete", "user_id", t.msg.UserID, "score", state.Score)
		sess.Quiz = nil
		sess.CurrentIntent = models.IntentGreeting
		text := feedback + CompletionText(state.Score, len(state.Questions), summary)
		sess.Append(models.RoleModel, text, e.now())
		t.reply = models.Reply{Text: text, Intent: models.IntentGreeting}
		return
	}
	text := feedback + RenderQuestion(sess.Quiz.Questions[sess.Quiz.CurrentQuestionIndex])
	sess.Append(models.RoleModel, text, e.now())
	t.reply = models.Reply{Text: text, Intent: models.IntentHealthQuiz}
}

func (e *Engine) topicStep(ctx context.Context, t *turn) {
	if IsGreetingKeyword(t.msg.Text) && !t.switched {
		e.welcome(t)
		return
	}
	e.converse(ctx, t)
}

func (e *Engine) followupStep(ctx context.Context, t *turn) {
	// A request carrying follow-up context is always answered from it, even when the
	// stored intent already matches.
	if IsGreetingKeyword(t.msg.Text) && !t.switched && !hasFollowupContext(t.msg.Context) {
		e.welcome(t)
		return
	}

	switch t.effective {
	case models.IntentDocumentFollowup:
		t.reply = models.Reply{Text: e.askDocument(ctx, t.msg.UserID, t.msg.Text), Intent: models.IntentDocumentFollowup}
	case models.IntentXrayFollowup:
		report := contextString(t.msg.Context, ContextXrayReport)
		if report == "" {
			report = t.sess.XrayReport
		}
		if report == "" {
			slog.Debug("Engine.followupStep: no report on file, answering generally", "user_id", t.msg.UserID)
			e.converse(ctx, t)
			return
		}
		t.reply = models.Reply{Text: e.askReport(ctx, report, t.msg.Text), Intent: models.IntentXrayFollowup}
	}
}

func (e *Engine) askDocument(ctx context.Context, userID, question string) string {
	if e.docs == nil {
		return documentFailedText
	}
	ans, err := e.docs.Query(ctx, userID, question)
	if err != nil {
		slog.Error("Engine.askDocument: document query failed", "error", err, "user_id", userID)
		return documentFailedText
	}
	if strings.TrimSpace(ans.Answer) == "" {
		return documentNoAnswerText
	}
	return ans.Answer
}

func (e *Engine) askReport(ctx context.Context, report, question string) string {
	prompt := fmt.Sprintf("%s\n---\nPROVIDED X-RAY REPORT:\n%s\n---\nUSER'S QUESTION:\n%q",
		e.personas.Persona(models.IntentXrayFollowup), report, question)
	answer, err := e.llm.GeneratePromptWithContext(ctx, "", prompt)
	if err != nil || strings.TrimSpace(answer) == "" {
		e.metrics.LLMFailure("xray_followup")
		slog.Error("Engine.askReport: LLM call failed", "error", err)
		return xrayFollowupFailedText
	}
	return answer
}

// converse is the persona chat path. A tool directive in the model's answer is run and
// either shown directly (hospitals) or summarized by a second LLM call.
func (e *Engine) converse(ctx context.Context, t *turn) {
	sess := t.sess
	intent := sess.CurrentIntent
	messages := make([]genai.Message, 0, len(sess.History)+2)
	messages = append(messages, genai.Message{
		Role:    genai.RoleSystem,
		Content: fmt.Sprintf("%s\nYour response must be in '%s'.", e.personas.Persona(t.effective), t.lang),
	})
	for _, h := range sess.History {
		role := genai.RoleUser
		if h.Role == models.RoleModel {
			role = genai.RoleAssistant
		}
		messages = append(messages, genai.Message{Role: role, Content: h.Content})
	}
	messages = append(messages, genai.Message{Role: genai.RoleUser, Content: t.msg.Text})

	raw, err := e.llm.GenerateChat(ctx, messages)
	if err != nil {
		e.technicalIssue(t, "chat", err)
		return
	}

	reply := models.Reply{Text: raw, Intent: intent}
	modelTurn := raw
	if call, ok := tools.ParseToolCall(raw); ok && e.tools != nil {
		if res, known := e.tools.Run(ctx, call); known {
			t.tool = res.Tool
			if res.Direct {
				var data map[string]any
				if err := json.Unmarshal([]byte(res.Output), &data); err != nil {
					slog.Error("Engine.converse: tool output is not a JSON object", "error", err, "tool", res.Tool)
				}
				reply.Text = hospitalsFoundText
				reply.Data = data
				modelTurn = res.Output
			} else {
				formatted, err := e.llm.GeneratePromptWithContext(ctx, e.personas.FormattingPrompt(),
					fmt.Sprintf("You received this data: %s.\nPresent it to the user in '%s'.", res.Output, t.lang))
				if err != nil {
					e.technicalIssue(t, "tool_formatting", err)
					return
				}
				reply.Text = formatted
				modelTurn = formatted
			}
		}
	}

	now := e.now()
	sess.Append(models.RoleUser, t.msg.Text, now)
	sess.Append(models.RoleModel, modelTurn, now)
	t.reply = reply
}

func (e *Engine) technicalIssue(t *turn, site string, err error) {
	e.metrics.LLMFailure(site)
	slog.Error("Engine.converse: LLM call failed", "error", err, "site", site, "user_id", t.msg.UserID, "intent", t.effective)
	t.reply = models.Reply{Text: technicalIssueText, Intent: t.sess.CurrentIntent}
}

// resolveLanguage prefers the user's selection, then the caller's hint, then English.
func resolveLanguage(sess *models.Session, msg Message) models.Language {
	if sess.SelectedLanguage != "" {
		return sess.SelectedLanguage
	}
	if msg.Language.Valid() {
		return msg.Language
	}
	return models.DefaultLanguage
}

func channelOf(userID string) string {
	if strings.HasPrefix(userID, WhatsAppUserPrefix) {
		return ChannelWhatsApp
	}
	return ChannelWeb
}

func contextString(ctx map[string]any, key string) string {
	if ctx == nil {
		return ""
	}
	s, _ := ctx[key].(string)
	return strings.TrimSpace(s)
}
