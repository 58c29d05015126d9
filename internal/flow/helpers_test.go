package flow

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BTreeMap/MedBay/internal/document"
	"github.com/BTreeMap/MedBay/internal/events"
	"github.com/BTreeMap/MedBay/internal/genai"
	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/BTreeMap/MedBay/internal/persona"
	"github.com/BTreeMap/MedBay/internal/store"
	"github.com/BTreeMap/MedBay/internal/tools"
)

var errLLMDown = errors.New("llm unavailable")

type promptCall struct {
	System string
	User   string
}

// fakeLLM answers classifier prompts with "None" unless respond says otherwise.
type fakeLLM struct {
	mu          sync.Mutex
	respond     func(system, user string) (string, error)
	chat        func(messages []genai.Message) (string, error)
	promptCalls []promptCall
	chatCalls   [][]genai.Message
}

func isClassifierPrompt(user string) bool {
	return strings.Contains(user, "new_intent")
}

func (f *fakeLLM) GeneratePromptWithContext(ctx context.Context, system, user string) (string, error) {
	f.mu.Lock()
	f.promptCalls = append(f.promptCalls, promptCall{System: system, User: user})
	respond := f.respond
	f.mu.Unlock()
	if respond != nil {
		return respond(system, user)
	}
	if isClassifierPrompt(user) {
		return `{"new_intent": "None"}`, nil
	}
	return "ok", nil
}

func (f *fakeLLM) GenerateChat(ctx context.Context, messages []genai.Message) (string, error) {
	f.mu.Lock()
	f.chatCalls = append(f.chatCalls, messages)
	chat := f.chat
	f.mu.Unlock()
	if chat != nil {
		return chat(messages)
	}
	return "chat reply", nil
}

// nonClassifierPrompts returns prompt calls other than intent classification.
func (f *fakeLLM) nonClassifierPrompts() []promptCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []promptCall
	for _, c := range f.promptCalls {
		if !isClassifierPrompt(c.User) {
			out = append(out, c)
		}
	}
	return out
}

type fakeRunner struct {
	calls  []tools.ToolCall
	result tools.Result
	known  bool
}

func (r *fakeRunner) Run(ctx context.Context, call tools.ToolCall) (tools.Result, bool) {
	r.calls = append(r.calls, call)
	if !r.known {
		return tools.Result{}, false
	}
	res := r.result
	res.Tool = call.Tool
	return res, true
}

type fakeDocs struct {
	answer    document.Answer
	err       error
	questions []string
}

func (d *fakeDocs) Query(ctx context.Context, userID, question string) (document.Answer, error) {
	d.questions = append(d.questions, question)
	return d.answer, d.err
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []events.TurnEvent
}

func (p *recordingPublisher) Publish(ctx context.Context, ev events.TurnEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, ev)
	return nil
}

func (p *recordingPublisher) Close() error { return nil }

func (p *recordingPublisher) last(t *testing.T) events.TurnEvent {
	t.Helper()
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.events) == 0 {
		t.Fatal("no turn events published")
	}
	return p.events[len(p.events)-1]
}

type testEngine struct {
	*Engine
	llm       *fakeLLM
	sessions  *store.InMemorySessionStore
	runner    *fakeRunner
	docs      *fakeDocs
	publisher *recordingPublisher
}

func testBank(t *testing.T) *persona.Bank {
	t.Helper()
	bank, err := persona.Default()
	if err != nil {
		t.Fatalf("load persona bank: %v", err)
	}
	return bank
}

func newTestEngine(t *testing.T, opts ...Option) *testEngine {
	t.Helper()
	te := &testEngine{
		llm:       &fakeLLM{},
		sessions:  store.NewInMemorySessionStore(store.WithSessionTTL(0)),
		runner:    &fakeRunner{},
		docs:      &fakeDocs{},
		publisher: &recordingPublisher{},
	}
	t.Cleanup(func() { te.sessions.Close() })
	now := time.Date(2025, 6, 1, 9, 0, 0, 0, time.UTC)
	opts = append([]Option{WithPublisher(te.publisher), WithClock(func() time.Time { return now })}, opts...)
	te.Engine = NewEngine(te.llm, testBank(t), te.sessions, te.runner, te.docs, opts...)
	return te
}

func (te *testEngine) send(t *testing.T, userID, text string) models.Reply {
	t.Helper()
	return te.sendMsg(t, Message{UserID: userID, Text: text})
}

func (te *testEngine) sendMsg(t *testing.T, msg Message) models.Reply {
	t.Helper()
	reply, err := te.ProcessMessage(context.Background(), msg)
	if err != nil {
		t.Fatalf("ProcessMessage(%q) failed: %v", msg.Text, err)
	}
	return reply
}

func (te *testEngine) session(t *testing.T, userID string) *models.Session {
	t.Helper()
	sess, err := te.sessions.Get(context.Background(), userID)
	if err != nil {
		t.Fatalf("get session %s: %v", userID, err)
	}
	return sess
}

// seed stores a session in the given state.
func (te *testEngine) seed(t *testing.T, sess *models.Session) {
	t.Helper()
	if err := te.sessions.Save(context.Background(), sess); err != nil {
		t.Fatalf("seed session: %v", err)
	}
}

func sessionAt(userID string, intent models.Intent, lang models.Language) *models.Session {
	sess := models.NewSession(userID, time.Date(2025, 6, 1, 8, 0, 0, 0, time.UTC))
	sess.CurrentIntent = intent
	sess.SelectedLanguage = lang
	return sess
}

// quizJSON returns n questions whose correct answers cycle A, B, C, D.
func quizJSON(n int) string {
	qs := make([]models.QuizQuestion, n)
	for i := range qs {
		qs[i] = models.QuizQuestion{
			Question: fmt.Sprintf("Question %d?", i+1),
			Options:  map[string]string{"A": "alpha", "B": "bravo", "C": "charlie", "D": "delta"},
			Correct:  models.QuizOptionLetters[i%len(models.QuizOptionLetters)],
		}
	}
	data, _ := json.Marshal(qs)
	return "Here is the quiz:\n" + string(data)
}
