// Package tools implements the data lookups the LLM can request through a
// {"tool_needed": ..., "argument": ...} directive: hospital search, the vaccination
// schedule and outbreak alerts.
//
// Tool functions never fail. Errors are reported inside the returned JSON as an "error"
// field so the result can always be shown to the user or fed back to the LLM.
package tools

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/BTreeMap/MedBay/internal/genai"
	"github.com/BTreeMap/MedBay/internal/metrics"
	"github.com/BTreeMap/MedBay/internal/models"
	"github.com/BTreeMap/MedBay/internal/places"
)

// Tool names recognized in LLM output.
const (
	ToolFindHospitals       = "find_hospitals"
	ToolVaccinationSchedule = "get_vaccination_schedule"
	ToolOutbreakAlerts      = "get_outbreak_alerts"
)

// Limits and defaults
const (
	MaxVaccinations = 5
	DefaultTimeout  = 10 * time.Second
)

// User-visible tool messages.
const (
	msgNoPlacesKey      = "Google Places API key is not configured."
	msgUnexpected       = "An unexpected error occurred."
	msgNoHospitals      = "Sorry, I couldn't find any hospitals for that location."
	msgNoVaccinations   = "No vaccination information found for that specific age."
	msgVaccinationError = "Could not fetch vaccination data."
	msgNoOutbreak       = "No major outbreak alerts for your location."
	msgChennaiDengue    = "Dengue Fever advisory issued for Chennai. Please take precautions."
)

// ToolCall is a tool directive extracted from LLM output.
type ToolCall struct {
	Tool     string
	Argument string
}

// Result is the outcome of running a ToolCall.
type Result struct {
	Tool   string
	Output string
	// Direct results are shown to the user as structured data without a formatting pass.
	Direct bool
}

// VaccinationSource looks up schedule entries due by an age.
type VaccinationSource interface {
	VaccinationsDueBy(ctx context.Context, ageWeeks, limit int) ([]models.VaccinationSchedule, error)
}

// Runner executes tool calls. *Dispatcher implements it.
type Runner interface {
	Run(ctx context.Context, call ToolCall) (Result, bool)
}

// Opts holds dispatcher configuration.
type Opts struct {
	Timeout time.Duration
	Metrics *metrics.Metrics
}

// Option defines a configuration option for the dispatcher.
type Option func(*Opts)

// WithTimeout bounds each tool call.
func WithTimeout(d time.Duration) Option {
	return func(o *Opts) { o.Timeout = d }
}

// WithMetrics records tool outcomes.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Opts) { o.Metrics = m }
}

// Dispatcher runs tool calls against their data sources. A nil hospital searcher means
// the Places API key is not configured.
type Dispatcher struct {
	hospitals places.HospitalSearcher
	vaccines  VaccinationSource
	timeout   time.Duration
	metrics   *metrics.Metrics
}

var _ Runner = (*Dispatcher)(nil)

// NewDispatcher creates a dispatcher.
func NewDispatcher(hospitals places.HospitalSearcher, vaccines VaccinationSource, opts ...Option) *Dispatcher {
	cfg := Opts{Timeout: DefaultTimeout}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Dispatcher{hospitals: hospitals, vaccines: vaccines, timeout: cfg.Timeout, metrics: cfg.Metrics}
}

// ParseToolCall finds the first JSON object in text and returns it as a ToolCall when it
// carries a non-empty "tool_needed" field. Non-string arguments keep their JSON text.
func ParseToolCall(text string) (ToolCall, bool) {
	var raw struct {
		Tool     string          `json:"tool_needed"`
		Argument json.RawMessage `json:"argument"`
	}
	if err := genai.DecodeJSONObject(text, &raw); err != nil || raw.Tool == "" {
		return ToolCall{}, false
	}
	call := ToolCall{Tool: strings.TrimSpace(raw.Tool)}
	if len(raw.Argument) > 0 {
		var s string
		if err := json.Unmarshal(raw.Argument, &s); err == nil {
			call.Argument = s
		} else if string(raw.Argument) != "null" {
			call.Argument = string(raw.Argument)
		}
	}
	return call, true
}

// Run dispatches call by tool name. It returns false for unknown tools.
func (d *Dispatcher) Run(ctx context.Context, call ToolCall) (Result, bool) {
	slog.Debug("Dispatcher.Run: tool requested", "tool", call.Tool, "argument", call.Argument)
	switch call.Tool {
	case ToolFindHospitals:
		return Result{Tool: call.Tool, Output: d.FindHospitals(ctx, call.Argument), Direct: true}, true
	case ToolVaccinationSchedule:
		return Result{Tool: call.Tool, Output: d.VaccinationSchedule(ctx, ParseAgeInWeeks(call.Argument))}, true
	case ToolOutbreakAlerts:
		return Result{Tool: call.Tool, Output: d.OutbreakAlerts(ctx, call.Argument)}, true
	default:
		slog.Warn("Dispatcher.Run: unknown tool", "tool", call.Tool)
		return Result{}, false
	}
}

type hospitalsPayload struct {
	Hospitals []models.Hospital `json:"hospitals"`
	Message   string            `json:"message,omitempty"`
}

// FindHospitals returns {"hospitals": [...]} for up to four hospitals near query.
func (d *Dispatcher) FindHospitals(ctx context.Context, query string) string {
	if d.hospitals == nil {
		d.metrics.ToolCall(ToolFindHospitals, metrics.OutcomeError)
		return errorJSON(msgNoPlacesKey)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	found, err := d.hospitals.SearchHospitals(ctx, query)
	if err != nil {
		d.metrics.ToolCall(ToolFindHospitals, metrics.OutcomeError)
		if errors.Is(err, places.ErrNoAPIKey) {
			return errorJSON(msgNoPlacesKey)
		}
		slog.Error("Dispatcher.FindHospitals: search failed", "error", err, "query", query)
		return errorJSON(msgUnexpected)
	}
	if len(found) == 0 {
		d.metrics.ToolCall(ToolFindHospitals, metrics.OutcomeEmpty)
		return mustJSON(hospitalsPayload{Hospitals: []models.Hospital{}, Message: msgNoHospitals})
	}
	d.metrics.ToolCall(ToolFindHospitals, metrics.OutcomeOK)
	return mustJSON(hospitalsPayload{Hospitals: found})
}

type vaccineEntry struct {
	VaccineName string `json:"vaccine_name"`
	Description string `json:"description"`
}

// VaccinationSchedule returns up to five entries due at or before ageWeeks, latest first.
func (d *Dispatcher) VaccinationSchedule(ctx context.Context, ageWeeks int) string {
	if d.vaccines == nil {
		d.metrics.ToolCall(ToolVaccinationSchedule, metrics.OutcomeError)
		return errorJSON(msgVaccinationError)
	}
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	due, err := d.vaccines.VaccinationsDueBy(ctx, ageWeeks, MaxVaccinations)
	if err != nil {
		d.metrics.ToolCall(ToolVaccinationSchedule, metrics.OutcomeError)
		slog.Error("Dispatcher.VaccinationSchedule: lookup failed", "error", err, "age_weeks", ageWeeks)
		return errorJSON(msgVaccinationError)
	}
	if len(due) == 0 {
		d.metrics.ToolCall(ToolVaccinationSchedule, metrics.OutcomeEmpty)
		return mustJSON([]map[string]string{{"message": msgNoVaccinations}})
	}
	entries := make([]vaccineEntry, 0, len(due))
	for _, v := range due {
		entries = append(entries, vaccineEntry{VaccineName: v.VaccineName, Description: v.Description})
	}
	d.metrics.ToolCall(ToolVaccinationSchedule, metrics.OutcomeOK)
	return mustJSON(entries)
}

// OutbreakAlerts returns the advisory for location.
// TODO: replace the static Chennai rule with a feed from the state health department.
func (d *Dispatcher) OutbreakAlerts(ctx context.Context, location string) string {
	alert := msgNoOutbreak
	if strings.Contains(strings.ToLower(location), "chennai") {
		alert = msgChennaiDengue
	}
	d.metrics.ToolCall(ToolOutbreakAlerts, metrics.OutcomeOK)
	return mustJSON(map[string]string{"alert": alert})
}

var firstNumber = regexp.MustCompile(`\d+`)

// ParseAgeInWeeks converts a free-text age such as "2 years", "6 months" or "10 weeks"
// to weeks. A bare number above one is read as years. No number yields 0.
func ParseAgeInWeeks(arg string) int {
	text := strings.ToLower(arg)
	m := firstNumber.FindString(text)
	if m == "" {
		return 0
	}
	n, err := strconv.Atoi(m)
	if err != nil {
		return 0
	}
	switch {
	case strings.Contains(text, "year"),
		n > 1 && !strings.Contains(text, "month") && !strings.Contains(text, "week"):
		return n * 52
	case strings.Contains(text, "month"):
		return n * 4
	default:
		return n
	}
}

func errorJSON(msg string) string {
	return mustJSON(map[string]string{"error": msg})
}

func mustJSON(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		// Only plain maps and structs of strings reach here.
		return `{"error":"` + msgUnexpected + `"}`
	}
	return string(b)
}
